package auth

import (
	"context"
	"strings"
	"sync"
	"time"
)

// PermissionCache 按对象分组的权限检查结果缓存
type PermissionCache struct {
	mu      sync.Mutex
	entries map[string]map[string]cacheEntry // object -> relation@user -> entry
	ttl     time.Duration
}

type cacheEntry struct {
	allowed   bool
	expiresAt time.Time
}

// NewPermissionCache 创建权限缓存
func NewPermissionCache(ttl time.Duration) *PermissionCache {
	return &PermissionCache{
		entries: make(map[string]map[string]cacheEntry),
		ttl:     ttl,
	}
}

// Get 获取未过期的检查结果
func (c *PermissionCache) Get(object, check string) (bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[object][check]
	if !ok {
		return false, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(c.entries[object], check)
		return false, false
	}
	return entry.allowed, true
}

// Set 缓存检查结果
func (c *PermissionCache) Set(object, check string, allowed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	checks, ok := c.entries[object]
	if !ok {
		checks = make(map[string]cacheEntry)
		c.entries[object] = checks
	}
	checks[check] = cacheEntry{allowed: allowed, expiresAt: time.Now().Add(c.ttl)}
}

// Invalidate 丢弃一个对象的全部缓存
// viewer、commenter 由 creator、approver 派生,写入任一关系后对象的所有结果都可能变化
func (c *PermissionCache) Invalidate(object string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, object)
}

// Len 返回缓存条目数
func (c *PermissionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, checks := range c.entries {
		n += len(checks)
	}
	return n
}

func checkKey(userID, relation string) string {
	return strings.Join([]string{relation, userID}, "@")
}

// CachedOpenFGAClient 带缓存的权限检查,包装任意 PermissionChecker
type CachedOpenFGAClient struct {
	client PermissionChecker
	cache  *PermissionCache
}

// NewCachedOpenFGAClient 创建带缓存的 OpenFGA 客户端
func NewCachedOpenFGAClient(client PermissionChecker, cache *PermissionCache) *CachedOpenFGAClient {
	return &CachedOpenFGAClient{client: client, cache: cache}
}

// CheckPermission 检查权限(带缓存)
func (c *CachedOpenFGAClient) CheckPermission(ctx context.Context, userID string, relation string, objectType string, objectID string) (bool, error) {
	object := objectKey(objectType, objectID)
	check := checkKey(userID, relation)
	if allowed, found := c.cache.Get(object, check); found {
		return allowed, nil
	}

	allowed, err := c.client.CheckPermission(ctx, userID, relation, objectType, objectID)
	if err != nil {
		return false, err
	}
	c.cache.Set(object, check, allowed)
	return allowed, nil
}

// WriteRelations 写入关系后失效该对象的缓存
func (c *CachedOpenFGAClient) WriteRelations(ctx context.Context, objectType string, objectID string, relations []Relation) error {
	if err := c.client.WriteRelations(ctx, objectType, objectID, relations); err != nil {
		return err
	}
	c.cache.Invalidate(objectKey(objectType, objectID))
	return nil
}
