package service

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/mautops/batch-approval/internal/auth"
	"github.com/mautops/batch-approval/internal/model"
	"github.com/mautops/batch-approval/internal/repository"
)

// 审计动作
const (
	ActionCreate  = "create"
	ActionApprove = "approve"
	ActionReject  = "reject"
	ActionComment = "comment"
	ActionAttach  = "attach"
)

// AuditEntry 一次批次操作
type AuditEntry struct {
	UserID  string
	Action  string
	BatchID uint
	Details interface{}
}

// AuditLogService 批次操作审计
type AuditLogService interface {
	Record(ctx context.Context, entry AuditEntry) error
	ListByBatch(ctx context.Context, batchID uint) ([]*model.AuditLogModel, error)
}

type auditLogService struct {
	auditRepo repository.AuditLogRepository
}

// NewAuditLogService 创建审计日志服务
func NewAuditLogService(auditRepo repository.AuditLogRepository) AuditLogService {
	return &auditLogService{auditRepo: auditRepo}
}

// Record 记录审计日志,请求 ID、IP 和 UA 取自 ctx
func (s *auditLogService) Record(ctx context.Context, entry AuditEntry) error {
	details, err := json.Marshal(entry.Details)
	if err != nil {
		return fmt.Errorf("failed to encode audit details: %w", err)
	}

	return s.auditRepo.Save(ctx, &model.AuditLogModel{
		ID:           uuid.New().String(),
		UserID:       entry.UserID,
		Action:       entry.Action,
		ResourceType: auth.ObjectBatch,
		ResourceID:   batchResourceID(entry.BatchID),
		RequestID:    RequestIDFromContext(ctx),
		IP:           GetClientIP(ctx),
		UserAgent:    GetUserAgent(ctx),
		Details:      details,
		CreatedAt:    time.Now(),
	})
}

// ListByBatch 查询批次的审计日志
func (s *auditLogService) ListByBatch(ctx context.Context, batchID uint) ([]*model.AuditLogModel, error) {
	return s.auditRepo.FindByResource(ctx, auth.ObjectBatch, batchResourceID(batchID))
}

func batchResourceID(batchID uint) string {
	return strconv.FormatUint(uint64(batchID), 10)
}
