package utils

import (
	"strings"
)

// MaxNameLength 批次名称、评论附件名称的最大长度
const MaxNameLength = 255

// ValidateBatchName 验证批次名称
func ValidateBatchName(name string) error {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ErrEmptyName
	}
	if len(trimmed) > MaxNameLength {
		return ErrNameTooLong
	}
	if containsDangerousChars(trimmed) {
		return ErrDangerousChars
	}
	return nil
}

// ValidateIDSet 验证 ID 集合非空、不含 0 且没有重复
func ValidateIDSet(ids []uint) error {
	if len(ids) == 0 {
		return ErrEmptyIDSet
	}
	seen := make(map[uint]struct{}, len(ids))
	for _, id := range ids {
		if id == 0 {
			return ErrEmptyID
		}
		if _, ok := seen[id]; ok {
			return ErrDuplicateID
		}
		seen[id] = struct{}{}
	}
	return nil
}

// containsDangerousChars 检查字符串是否包含常见的 XSS 和 SQL 注入模式
func containsDangerousChars(s string) bool {
	dangerousPatterns := []string{
		"<script",
		"</script>",
		"javascript:",
		"onerror=",
		"onload=",
		"';",
		"drop table",
		"delete from",
		"insert into",
		"union select",
		"<iframe",
		"<img",
		"<svg",
	}

	lower := strings.ToLower(s)
	for _, pattern := range dangerousPatterns {
		if strings.Contains(lower, pattern) {
			return true
		}
	}

	return false
}

// 错误定义
var (
	ErrEmptyName      = &ValidationError{Code: "EMPTY_NAME", Message: "name cannot be empty"}
	ErrNameTooLong    = &ValidationError{Code: "NAME_TOO_LONG", Message: "name exceeds maximum length"}
	ErrDangerousChars = &ValidationError{Code: "DANGEROUS_CHARS", Message: "name contains dangerous characters"}
	ErrEmptyIDSet     = &ValidationError{Code: "EMPTY_ID_SET", Message: "at least one id is required"}
	ErrEmptyID        = &ValidationError{Code: "EMPTY_ID", Message: "id cannot be empty"}
	ErrDuplicateID    = &ValidationError{Code: "DUPLICATE_ID", Message: "ids must not repeat"}
)

// ValidationError 验证错误
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}
