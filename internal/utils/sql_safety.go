package utils

import (
	"errors"
	"regexp"
	"strings"
)

var (
	sortFieldPattern  = regexp.MustCompile(`^[a-zA-Z0-9_.]+$`)
	identifierPattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

	// 只匹配完整单词,created_at 中的 AT 不算
	sqlKeywordPattern = regexp.MustCompile(`\b(` + strings.Join([]string{
		"SELECT", "INSERT", "UPDATE", "DELETE", "DROP", "ALTER", "CREATE",
		"EXEC", "EXECUTE", "UNION", "SCRIPT", "DECLARE", "CAST", "CONVERT",
		"FROM", "WHERE", "ORDER", "BY", "GROUP", "HAVING", "JOIN", "INNER",
		"OUTER", "LEFT", "RIGHT", "ON", "AS", "AND", "OR", "NOT", "IN",
	}, "|") + `)\b`)
)

// ValidateSortField 验证排序字段,防止 SQL 注入
func ValidateSortField(field string) error {
	if field == "" {
		return errors.New("sort field cannot be empty")
	}
	if !sortFieldPattern.MatchString(field) {
		return errors.New("invalid sort field format")
	}
	if sqlKeywordPattern.MatchString(strings.ToUpper(field)) {
		return errors.New("sort field contains SQL keyword")
	}
	return nil
}

// ValidateIdentifier 验证表名或视图名,允许 schema.name 形式
func ValidateIdentifier(name string) error {
	if !identifierPattern.MatchString(name) {
		return errors.New("invalid identifier: " + name)
	}
	if sqlKeywordPattern.MatchString(strings.ToUpper(name)) {
		return errors.New("identifier contains SQL keyword: " + name)
	}
	return nil
}

// NormalizeSortOrder 返回小写的排序方向,空值为 desc
func NormalizeSortOrder(order string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(order)) {
	case "", "desc":
		return "desc", nil
	case "asc":
		return "asc", nil
	default:
		return "", errors.New("sort order must be asc or desc")
	}
}
