package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mautops/batch-approval/internal/approval"
	"github.com/mautops/batch-approval/internal/auth"
	"github.com/mautops/batch-approval/internal/integration"
	"github.com/mautops/batch-approval/internal/model"
	"github.com/sirupsen/logrus"
)

// ErrUnauthenticated 请求上下文中没有用户
var ErrUnauthenticated = errors.New("unauthenticated")

// BatchService 批次服务接口
type BatchService interface {
	Create(ctx context.Context, req *CreateBatchRequest) (*integration.BatchView, error)
	Get(ctx context.Context, id uint) (*integration.BatchView, error)
	Approve(ctx context.Context, id uint, req *DecisionRequest) (*integration.BatchView, error)
	Reject(ctx context.Context, id uint, req *DecisionRequest) (*integration.BatchView, error)
	Approvers(ctx context.Context, id uint) ([]*integration.ApproverView, error)
	History(ctx context.Context, id uint) ([]*model.BatchHistoryModel, error)
	AuditLogs(ctx context.Context, id uint) ([]*model.AuditLogModel, error)
	AddComment(ctx context.Context, id uint, req *CommentRequest) (*model.BatchCommentModel, error)
	ListComments(ctx context.Context, id uint) ([]*model.BatchCommentModel, error)
	AddAttachment(ctx context.Context, id uint, req *AttachmentRequest) (*model.BatchAttachmentModel, error)
	ListAttachments(ctx context.Context, id uint) ([]*model.BatchAttachmentModel, error)
}

// CreateBatchRequest 创建批次请求
type CreateBatchRequest struct {
	Name          string              `json:"name" validate:"required,max=255"`
	SubmissionIDs []uint              `json:"submission_ids" validate:"required,min=1,dive,gt=0"`
	Comment       string              `json:"comment" validate:"max=2000"`
	UUID          *string             `json:"uuid" validate:"omitempty,max=64"`
	File          *string             `json:"file" validate:"omitempty,max=512"`
	Attachments   []AttachmentRequest `json:"attachments" validate:"dive"`
}

// DecisionRequest 审批请求
type DecisionRequest struct {
	Comment string `json:"comment" validate:"max=2000"`
}

// CommentRequest 评论请求
type CommentRequest struct {
	Comment  string  `json:"comment" validate:"required,max=2000"`
	FileName *string `json:"file_name" validate:"omitempty,max=255"`
	FilePath *string `json:"file_path" validate:"omitempty,max=512"`
}

// AttachmentRequest 附件请求
type AttachmentRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	FilePath string `json:"file_path" validate:"required,max=512"`
}

type batchService struct {
	manager     *integration.BatchManager
	validate    *validator.Validate
	fgaClient   auth.PermissionChecker
	auditLogSvc AuditLogService
	logger      logrus.FieldLogger
}

// NewBatchService 创建批次服务,fgaClient 和 auditLogSvc 可以为 nil
func NewBatchService(manager *integration.BatchManager, auditLogSvc AuditLogService, fgaClient auth.PermissionChecker, logger logrus.FieldLogger) BatchService {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &batchService{
		manager:     manager,
		validate:    validator.New(),
		fgaClient:   fgaClient,
		auditLogSvc: auditLogSvc,
		logger:      logger.WithField("component", "batch_service"),
	}
}

// validateRequest 校验请求参数,错误统一转为 ValidationFailed
func (s *batchService) validateRequest(req interface{}) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		fields := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			fields = append(fields, fmt.Sprintf("%s failed on %s", fe.Namespace(), fe.Tag()))
		}
		return approval.ValidationFailed("invalid request: %s", strings.Join(fields, "; "))
	}
	return approval.ValidationFailed("invalid request: %v", err)
}

func actor(ctx context.Context) (string, error) {
	userID := UserIDFromContext(ctx)
	if userID == "" {
		return "", ErrUnauthenticated
	}
	return userID, nil
}

// Create 创建批次
func (s *batchService) Create(ctx context.Context, req *CreateBatchRequest) (*integration.BatchView, error) {
	userID, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	attachments := make([]integration.AttachmentInput, 0, len(req.Attachments))
	for _, a := range req.Attachments {
		attachments = append(attachments, integration.AttachmentInput{Name: a.Name, FilePath: a.FilePath})
	}
	view, err := s.manager.Create(ctx, integration.CreateBatchInput{
		ActorID:       userID,
		Name:          req.Name,
		SubmissionIDs: req.SubmissionIDs,
		Comment:       req.Comment,
		UUID:          req.UUID,
		File:          req.File,
		Attachments:   attachments,
	})
	if err != nil {
		return nil, err
	}

	// 写入权限关系
	relations := []auth.Relation{{UserID: userID, Relation: auth.RelationCreator}}
	for _, r := range view.Records {
		relations = append(relations, auth.Relation{UserID: r.UserID, Relation: auth.RelationApprover})
	}
	s.writeRelations(ctx, view.ID, relations)

	s.audit(ctx, userID, ActionCreate, view.ID, map[string]interface{}{
		"name":           view.Name,
		"submission_ids": view.SubmissionIDs,
		"approvers":      len(view.Records),
	})
	return view, nil
}

// Get 获取批次详情
func (s *batchService) Get(ctx context.Context, id uint) (*integration.BatchView, error) {
	return s.manager.Get(ctx, id)
}

// Approve 审批同意
func (s *batchService) Approve(ctx context.Context, id uint, req *DecisionRequest) (*integration.BatchView, error) {
	return s.decide(ctx, id, approval.DecisionApprove, ActionApprove, req)
}

// Reject 审批拒绝
func (s *batchService) Reject(ctx context.Context, id uint, req *DecisionRequest) (*integration.BatchView, error) {
	return s.decide(ctx, id, approval.DecisionReject, ActionReject, req)
}

func (s *batchService) decide(ctx context.Context, id uint, decision approval.Decision, action string, req *DecisionRequest) (*integration.BatchView, error) {
	userID, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	if req == nil {
		req = &DecisionRequest{}
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}

	view, err := s.manager.Decide(ctx, integration.DecideInput{
		BatchID:  id,
		ActorID:  userID,
		Decision: decision,
		Comment:  req.Comment,
	})
	if err != nil {
		return nil, err
	}

	s.audit(ctx, userID, action, id, map[string]interface{}{
		"state":   view.State,
		"comment": req.Comment,
	})
	return view, nil
}

// Approvers 获取审批链
func (s *batchService) Approvers(ctx context.Context, id uint) ([]*integration.ApproverView, error) {
	return s.manager.Approvers(ctx, id)
}

// History 获取批次状态历史
func (s *batchService) History(ctx context.Context, id uint) ([]*model.BatchHistoryModel, error) {
	return s.manager.History(ctx, id)
}

// AuditLogs 获取批次的操作审计
func (s *batchService) AuditLogs(ctx context.Context, id uint) ([]*model.AuditLogModel, error) {
	if _, err := s.manager.Get(ctx, id); err != nil {
		return nil, err
	}
	if s.auditLogSvc == nil {
		return []*model.AuditLogModel{}, nil
	}
	return s.auditLogSvc.ListByBatch(ctx, id)
}

// AddComment 追加评论
func (s *batchService) AddComment(ctx context.Context, id uint, req *CommentRequest) (*model.BatchCommentModel, error) {
	userID, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	comment, err := s.manager.AddComment(ctx, integration.CommentInput{
		BatchID:  id,
		ActorID:  userID,
		Comment:  req.Comment,
		FileName: req.FileName,
		FilePath: req.FilePath,
	})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, userID, ActionComment, id, map[string]interface{}{"comment_id": comment.ID})
	return comment, nil
}

// ListComments 列出评论
func (s *batchService) ListComments(ctx context.Context, id uint) ([]*model.BatchCommentModel, error) {
	return s.manager.ListComments(ctx, id)
}

// AddAttachment 追加附件
func (s *batchService) AddAttachment(ctx context.Context, id uint, req *AttachmentRequest) (*model.BatchAttachmentModel, error) {
	userID, err := actor(ctx)
	if err != nil {
		return nil, err
	}
	if err := s.validateRequest(req); err != nil {
		return nil, err
	}
	attachment, err := s.manager.AddAttachment(ctx, id, userID, integration.AttachmentInput{Name: req.Name, FilePath: req.FilePath})
	if err != nil {
		return nil, err
	}
	s.audit(ctx, userID, ActionAttach, id, map[string]interface{}{"attachment_id": attachment.ID, "name": attachment.Name})
	return attachment, nil
}

// ListAttachments 列出附件
func (s *batchService) ListAttachments(ctx context.Context, id uint) ([]*model.BatchAttachmentModel, error) {
	return s.manager.ListAttachments(ctx, id)
}

// writeRelations 写入批次的 OpenFGA 关系,失败只记录日志
func (s *batchService) writeRelations(ctx context.Context, batchID uint, relations []auth.Relation) {
	if s.fgaClient == nil {
		return
	}
	if err := s.fgaClient.WriteRelations(ctx, auth.ObjectBatch, batchResourceID(batchID), relations); err != nil {
		s.logger.WithError(err).WithFields(logrus.Fields{
			"batch_id":  batchID,
			"relations": len(relations),
		}).Warn("failed to write permission tuples")
	}
}

// audit 记录审计日志,失败只记录日志
func (s *batchService) audit(ctx context.Context, userID, action string, batchID uint, details interface{}) {
	if s.auditLogSvc == nil {
		return
	}
	entry := AuditEntry{UserID: userID, Action: action, BatchID: batchID, Details: details}
	if err := s.auditLogSvc.Record(ctx, entry); err != nil {
		s.logger.WithError(err).WithField("batch_id", batchID).Warn("failed to record audit log")
	}
}
