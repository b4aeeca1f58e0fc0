package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mautops/batch-approval/internal/config"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// EventRepairer 重新处理待处理和失败的事件
type EventRepairer interface {
	ProcessPending(ctx context.Context, limit int) (int, error)
}

// RepairScheduler 副作用修复调度器
// 按 cron 计划重新执行未完成的转正副作用和事件推送
type RepairScheduler struct {
	repairer EventRepairer
	config   config.RepairConfig
	cron     *cron.Cron
	timeout  time.Duration
	logger   logrus.FieldLogger
}

// NewRepairScheduler 创建修复调度器
func NewRepairScheduler(repairer EventRepairer, cfg config.RepairConfig, logger logrus.FieldLogger) *RepairScheduler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	if cfg.Schedule == "" {
		cfg.Schedule = "*/5 * * * *"
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	entry := logger.WithField("component", "repair_scheduler")
	return &RepairScheduler{
		repairer: repairer,
		config:   cfg,
		cron:     cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.PrintfLogger(entry)))),
		timeout:  4 * time.Minute,
		logger:   entry,
	}
}

// Start 启动修复调度器
func (s *RepairScheduler) Start() error {
	if !s.config.Enabled {
		s.logger.Info("repair scheduler disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(s.config.Schedule, s.runScheduled); err != nil {
		return fmt.Errorf("invalid repair schedule %q: %w", s.config.Schedule, err)
	}
	s.cron.Start()
	s.logger.WithField("schedule", s.config.Schedule).Info("repair scheduler started")
	return nil
}

// Stop 停止修复调度器并等待正在执行的任务结束
func (s *RepairScheduler) Stop() {
	<-s.cron.Stop().Done()
}

func (s *RepairScheduler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.RunOnce(ctx); err != nil {
		s.logger.WithError(err).Error("repair run failed")
	}
}

// RunOnce 执行一次修复,返回处理成功的事件数
func (s *RepairScheduler) RunOnce(ctx context.Context) (int, error) {
	start := time.Now()
	repaired, err := s.repairer.ProcessPending(ctx, s.config.BatchSize)
	s.logger.WithFields(logrus.Fields{
		"repaired": repaired,
		"duration": time.Since(start).String(),
	}).Info("repair run finished")
	return repaired, err
}
