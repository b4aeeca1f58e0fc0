package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/mautops/batch-approval/internal/config"
	"github.com/mautops/batch-approval/internal/metrics"
	"github.com/mautops/batch-approval/internal/model"
	"github.com/mautops/batch-approval/internal/repository"
	"github.com/mautops/batch-approval/internal/submission"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// SideEffectApplier 执行提交数据转正后的副作用
type SideEffectApplier interface {
	ApplySideEffects(ctx context.Context, payload submission.PromotedPayload) error
}

// EventPublisher 实时推送批次事件
type EventPublisher interface {
	PublishBatchEvent(batchID uint, data []byte) bool
}

// EventMessage 推送给 Webhook 和 WebSocket 客户端的事件
type EventMessage struct {
	ID           string          `json:"id"`
	Type         string          `json:"type"`
	BatchID      uint            `json:"batch_id"`
	SubmissionID *uint           `json:"submission_id,omitempty"`
	Data         json.RawMessage `json:"data"`
	CreatedAt    time.Time       `json:"created_at"`
}

// EventDispatcher 事件分发器
// 从事件表读取事务内写入的事件,执行副作用并推送到 WebSocket 和 Webhook
type EventDispatcher struct {
	db         *gorm.DB
	eventRepo  repository.EventRepository
	effects    SideEffectApplier
	publisher  EventPublisher
	webhooks   []config.WebhookConfig
	httpClient *http.Client
	queue      chan uint
	workers    int
	maxRetries int
	backoff    time.Duration
	inflight   sync.Map
	stop       chan struct{}
	stopOnce   sync.Once
	wg         sync.WaitGroup
	logger     logrus.FieldLogger
}

// NewEventDispatcher 创建事件分发器
// cfg.Workers 为 0 时不启动 worker,事件只能通过 ProcessBatch / ProcessPending 处理
func NewEventDispatcher(db *gorm.DB, cfg config.EventsConfig, effects SideEffectApplier, publisher EventPublisher, logger logrus.FieldLogger) *EventDispatcher {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}
	backoff := time.Duration(cfg.Backoff) * time.Millisecond
	if backoff <= 0 {
		backoff = time.Second
	}

	return &EventDispatcher{
		db:         db,
		eventRepo:  repository.NewEventRepository(db),
		effects:    effects,
		publisher:  publisher,
		webhooks:   cfg.Webhooks,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		queue:      make(chan uint, queueSize),
		workers:    cfg.Workers,
		maxRetries: maxRetries,
		backoff:    backoff,
		stop:       make(chan struct{}),
		logger:     logger.WithField("component", "event_dispatcher"),
	}
}

// Start 启动 worker goroutines
func (d *EventDispatcher) Start() {
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.worker()
	}
}

// Stop 停止事件分发器并等待 worker 退出
func (d *EventDispatcher) Stop() {
	d.stopOnce.Do(func() {
		close(d.stop)
	})
	d.wg.Wait()
}

// Notify 通知批次有新事件,队列满时丢弃,由修复任务补偿
func (d *EventDispatcher) Notify(batchID uint) {
	select {
	case d.queue <- batchID:
	default:
		d.logger.WithField("batch_id", batchID).Warn("event queue full, dropping notification")
	}
}

func (d *EventDispatcher) worker() {
	defer d.wg.Done()
	for {
		select {
		case batchID := <-d.queue:
			ctx, cancel := context.WithCancel(context.Background())
			go func() {
				select {
				case <-d.stop:
					cancel()
				case <-ctx.Done():
				}
			}()
			if err := d.ProcessBatch(ctx, batchID); err != nil {
				d.logger.WithError(err).WithField("batch_id", batchID).Error("failed to process batch events")
			}
			cancel()
		case <-d.stop:
			return
		}
	}
}

// ProcessBatch 处理批次的全部待处理事件,失败时按指数退避重试
func (d *EventDispatcher) ProcessBatch(ctx context.Context, batchID uint) error {
	events, err := d.eventRepo.FindByBatchID(ctx, batchID)
	if err != nil {
		return fmt.Errorf("failed to load events: %w", err)
	}
	for _, evt := range events {
		if evt.Status != model.EventStatusPending {
			continue
		}
		d.deliverWithRetry(ctx, evt)
	}
	return nil
}

// ProcessPending 重新处理待处理和失败的事件,每个事件尝试一次
// 返回处理成功的事件数
func (d *EventDispatcher) ProcessPending(ctx context.Context, limit int) (int, error) {
	events, err := d.eventRepo.FindRetryable(ctx, 0, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to load retryable events: %w", err)
	}
	metrics.UpdateEventsPending(float64(len(events)))

	succeeded := 0
	for _, evt := range events {
		if ctx.Err() != nil {
			return succeeded, ctx.Err()
		}
		if !d.claim(evt.ID) {
			continue
		}
		if d.attempt(ctx, evt) {
			succeeded++
		}
		d.inflight.Delete(evt.ID)
	}
	return succeeded, nil
}

// deliverWithRetry 处理单个事件直到成功或重试次数用尽
func (d *EventDispatcher) deliverWithRetry(ctx context.Context, evt *model.EventModel) {
	if !d.claim(evt.ID) {
		return
	}
	defer d.inflight.Delete(evt.ID)

	backoff := d.backoff
	for evt.Status == model.EventStatusPending {
		if d.attempt(ctx, evt) {
			return
		}
		select {
		case <-time.After(backoff):
			backoff *= 2
		case <-ctx.Done():
			return
		}
	}
}

// claim 标记事件正在处理,同一事件同时只由一个 goroutine 处理
func (d *EventDispatcher) claim(id string) bool {
	_, busy := d.inflight.LoadOrStore(id, struct{}{})
	return !busy
}

// attempt 处理一次事件并记录结果,返回是否成功
func (d *EventDispatcher) attempt(ctx context.Context, evt *model.EventModel) bool {
	entry := d.logger.WithFields(logrus.Fields{
		"event_id": evt.ID,
		"type":     evt.Type,
		"batch_id": evt.BatchID,
	})

	if err := d.handle(ctx, evt); err != nil {
		entry.WithError(err).WithField("retry_count", evt.RetryCount+1).Warn("event processing failed")
		if markErr := d.eventRepo.MarkRetry(ctx, evt, err, d.maxRetries); markErr != nil {
			entry.WithError(markErr).Error("failed to record event failure")
		}
		metrics.RecordEvent(evt.Type, evt.Status)
		return false
	}

	if err := d.eventRepo.MarkSuccess(ctx, evt); err != nil {
		entry.WithError(err).Error("failed to mark event processed")
		return false
	}
	metrics.RecordEvent(evt.Type, model.EventStatusSuccess)
	entry.Debug("event processed")
	return true
}

// handle 执行事件副作用并推送
func (d *EventDispatcher) handle(ctx context.Context, evt *model.EventModel) error {
	// 1. 提交数据转正的副作用
	if evt.Type == model.EventSubmissionPromoted && d.effects != nil {
		var payload submission.PromotedPayload
		if err := json.Unmarshal(evt.Data, &payload); err != nil {
			return fmt.Errorf("failed to decode event payload: %w", err)
		}
		if err := d.effects.ApplySideEffects(ctx, payload); err != nil {
			return err
		}
	}

	msg, err := json.Marshal(&EventMessage{
		ID:           evt.ID,
		Type:         evt.Type,
		BatchID:      evt.BatchID,
		SubmissionID: evt.SubmissionID,
		Data:         json.RawMessage(evt.Data),
		CreatedAt:    evt.CreatedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	// 2. WebSocket 推送,客户端不在线时直接丢弃
	if d.publisher != nil {
		d.publisher.PublishBatchEvent(evt.BatchID, msg)
	}

	// 3. Webhook 推送
	for _, webhook := range d.webhooks {
		if !subscribed(webhook, evt.Type) {
			continue
		}
		if err := d.sendWebhookRequest(ctx, webhook, msg); err != nil {
			return err
		}
	}
	return nil
}

func subscribed(webhook config.WebhookConfig, eventType string) bool {
	if len(webhook.Events) == 0 {
		return true
	}
	for _, t := range webhook.Events {
		if t == eventType {
			return true
		}
	}
	return false
}

// sendWebhookRequest 发送 Webhook 请求
func (d *EventDispatcher) sendWebhookRequest(ctx context.Context, webhook config.WebhookConfig, body []byte) error {
	method := webhook.Method
	if method == "" {
		method = http.MethodPost
	}

	req, err := http.NewRequestWithContext(ctx, method, webhook.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range webhook.Headers {
		req.Header.Set(key, value)
	}
	if webhook.Token != "" {
		req.Header.Set("Authorization", "Bearer "+webhook.Token)
	}

	resp, err := d.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", webhook.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook %s returned status code: %d", webhook.URL, resp.StatusCode)
	}
	return nil
}
