package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/openfga/go-sdk/client"
	"github.com/openfga/go-sdk/credentials"
)

// maxTuplesPerWrite OpenFGA 单次写入的元组上限
const maxTuplesPerWrite = 100

// Relation 用户与对象之间的一条关系
type Relation struct {
	UserID   string
	Relation string
}

// PermissionChecker 权限检查和关系写入接口
type PermissionChecker interface {
	CheckPermission(ctx context.Context, userID string, relation string, objectType string, objectID string) (bool, error)
	WriteRelations(ctx context.Context, objectType string, objectID string, relations []Relation) error
}

// OpenFGAClient OpenFGA 客户端
type OpenFGAClient struct {
	client  *client.OpenFgaClient
	storeID string
	modelID string
}

// NewOpenFGAClient 创建 OpenFGA 客户端
func NewOpenFGAClient(apiURL string, storeID string, modelID string) (*OpenFGAClient, error) {
	fgaClient, err := client.NewSdkClient(&client.ClientConfiguration{
		ApiUrl:               apiURL,
		StoreId:              storeID,
		AuthorizationModelId: modelID,
		Credentials: &credentials.Credentials{
			Method: credentials.CredentialsMethodNone,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenFGA client: %w", err)
	}
	return &OpenFGAClient{client: fgaClient, storeID: storeID, modelID: modelID}, nil
}

// NewOpenFGAClientWithRetry 创建客户端并确认 store 可读,失败时指数退避重试
func NewOpenFGAClientWithRetry(apiURL string, storeID string, modelID string, maxRetries int, retryInterval time.Duration) (*OpenFGAClient, error) {
	var err error
	for i := 0; i < maxRetries; i++ {
		var fgaClient *OpenFGAClient
		fgaClient, err = NewOpenFGAClient(apiURL, storeID, modelID)
		if err == nil {
			if fgaClient.CheckHealth(context.Background()) {
				return fgaClient, nil
			}
			err = fmt.Errorf("store %s is not reachable at %s", storeID, apiURL)
		}
		if i < maxRetries-1 {
			time.Sleep(retryInterval)
			retryInterval *= 2
		}
	}
	return nil, fmt.Errorf("failed to create OpenFGA client after %d retries: %w", maxRetries, err)
}

func userKey(userID string) string {
	return "user:" + userID
}

func objectKey(objectType, objectID string) string {
	return objectType + ":" + objectID
}

// CheckPermission 检查用户对对象是否具有关系
func (c *OpenFGAClient) CheckPermission(ctx context.Context, userID string, relation string, objectType string, objectID string) (bool, error) {
	response, err := c.client.Check(ctx).Body(client.ClientCheckRequest{
		User:     userKey(userID),
		Relation: relation,
		Object:   objectKey(objectType, objectID),
	}).Execute()
	if err != nil {
		return false, fmt.Errorf("failed to check %s on %s: %w", relation, objectKey(objectType, objectID), err)
	}
	return response.GetAllowed(), nil
}

// WriteRelations 写入对象的关系元组,重复的 (user, relation) 只写一次
func (c *OpenFGAClient) WriteRelations(ctx context.Context, objectType string, objectID string, relations []Relation) error {
	object := objectKey(objectType, objectID)
	seen := make(map[Relation]bool, len(relations))
	writes := make([]client.ClientTupleKey, 0, len(relations))
	for _, r := range relations {
		if r.UserID == "" || seen[r] {
			continue
		}
		seen[r] = true
		writes = append(writes, client.ClientTupleKey{
			User:     userKey(r.UserID),
			Relation: r.Relation,
			Object:   object,
		})
	}

	for start := 0; start < len(writes); start += maxTuplesPerWrite {
		end := start + maxTuplesPerWrite
		if end > len(writes) {
			end = len(writes)
		}
		if _, err := c.client.Write(ctx).Body(client.ClientWriteRequest{Writes: writes[start:end]}).Execute(); err != nil {
			return fmt.Errorf("failed to write relations for %s: %w", object, err)
		}
	}
	return nil
}

// CheckHealth 检查 OpenFGA 连接健康状态
func (c *OpenFGAClient) CheckHealth(ctx context.Context) bool {
	if c == nil || c.client == nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	_, err := c.client.Read(ctx).Execute()
	return err == nil
}

// PermissionMiddleware 批次权限检查中间件,对象 ID 取自路由参数 id
// checker 为 nil 时不做检查(未配置 OpenFGA)
func PermissionMiddleware(checker PermissionChecker, objectType string, relation string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if checker == nil {
			c.Next()
			return
		}

		userID := c.GetString(ContextUserID)
		if userID == "" {
			abortJSON(c, http.StatusUnauthorized, "unauthorized", "")
			return
		}

		objectID := c.Param("id")
		allowed, err := checker.CheckPermission(c.Request.Context(), userID, relation, objectType, objectID)
		if err != nil {
			abortJSON(c, http.StatusInternalServerError, "permission check failed", err.Error())
			return
		}
		if !allowed {
			abortJSON(c, http.StatusForbidden, "forbidden",
				fmt.Sprintf("user %s is not a %s of %s", userID, relation, objectKey(objectType, objectID)))
			return
		}

		c.Next()
	}
}

func abortJSON(c *gin.Context, status int, message, detail string) {
	body := gin.H{"code": status, "message": message}
	if detail != "" {
		body["detail"] = detail
	}
	c.AbortWithStatusJSON(status, body)
}
