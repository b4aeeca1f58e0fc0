package approval

import (
	"errors"
	"fmt"
)

// Kind 错误类型
type Kind string

const (
	KindNotFound           Kind = "not_found"
	KindPreconditionFailed Kind = "precondition_failed"
	KindConflict           Kind = "conflict"
	KindValidationFailed   Kind = "validation_failed"
)

// Error 审批领域错误
// BlockingRecordID 在因审批顺序被拒绝时指向当前阻塞流程的审批记录
type Error struct {
	Kind             Kind
	Message          string
	BlockingRecordID *uint
}

func (e *Error) Error() string {
	if e.BlockingRecordID != nil {
		return fmt.Sprintf("%s (blocked by approval record %d)", e.Message, *e.BlockingRecordID)
	}
	return e.Message
}

// NotFound 创建资源不存在错误
func NotFound(format string, args ...interface{}) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// PreconditionFailed 创建前置条件不满足错误
func PreconditionFailed(format string, args ...interface{}) *Error {
	return &Error{Kind: KindPreconditionFailed, Message: fmt.Sprintf(format, args...)}
}

// BlockedBy 创建审批顺序错误,指明阻塞的审批记录
func BlockedBy(recordID uint, format string, args ...interface{}) *Error {
	id := recordID
	return &Error{Kind: KindPreconditionFailed, Message: fmt.Sprintf(format, args...), BlockingRecordID: &id}
}

// Conflict 创建并发冲突错误
func Conflict(format string, args ...interface{}) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// ValidationFailed 创建参数校验错误
func ValidationFailed(format string, args ...interface{}) *Error {
	return &Error{Kind: KindValidationFailed, Message: fmt.Sprintf(format, args...)}
}

// KindOf 返回错误链中审批错误的类型,非审批错误返回空字符串
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind 判断错误是否为指定类型
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
