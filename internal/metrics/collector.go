package metrics

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Collector 指标收集器,定期从数据库统计批次状态和连接池
type Collector struct {
	db       *gorm.DB
	interval time.Duration
	logger   logrus.FieldLogger
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewCollector 创建指标收集器
func NewCollector(db *gorm.DB, interval time.Duration, logger logrus.FieldLogger) *Collector {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Collector{
		db:       db,
		interval: interval,
		logger:   logger.WithField("component", "metrics_collector"),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start 启动指标收集器
func (c *Collector) Start() {
	go c.collect()
}

// Stop 停止指标收集器
func (c *Collector) Stop() {
	c.cancel()
	<-c.done
}

// collect 定期收集指标
func (c *Collector) collect() {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()
	defer close(c.done)

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			if err := c.CollectOnce(c.ctx); err != nil {
				c.logger.WithError(err).Warn("failed to collect metrics")
			}
		}
	}
}

// StateCounts 各状态的批次数量
type StateCounts struct {
	InReview int64
	Approved int64
	Rejected int64
}

// CountBatchesByState 统计批次派生状态分布
func CountBatchesByState(ctx context.Context, db *gorm.DB) (*StateCounts, error) {
	var counts StateCounts
	rejectedBatches := db.Table("approval_records").Select("batch_id").Where("status = ?", "rejected")

	if err := db.WithContext(ctx).Table("batches").Where("approved = ?", true).Count(&counts.Approved).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Table("batches").
		Where("approved = ? AND id IN (?)", false, rejectedBatches).
		Count(&counts.Rejected).Error; err != nil {
		return nil, err
	}
	if err := db.WithContext(ctx).Table("batches").
		Where("approved = ? AND id NOT IN (?)", false, rejectedBatches).
		Count(&counts.InReview).Error; err != nil {
		return nil, err
	}
	return &counts, nil
}

// CollectOnce 收集一次全部指标
func (c *Collector) CollectOnce(ctx context.Context) error {
	if err := UpdateDatabaseConnections(c.db); err != nil {
		return err
	}

	counts, err := CountBatchesByState(ctx, c.db)
	if err != nil {
		return err
	}
	UpdateBatchesByState("in_review", float64(counts.InReview))
	UpdateBatchesByState("approved", float64(counts.Approved))
	UpdateBatchesByState("rejected", float64(counts.Rejected))

	var pending int64
	if err := c.db.WithContext(ctx).Table("events").Where("status = ?", "pending").Count(&pending).Error; err != nil {
		return err
	}
	UpdateEventsPending(float64(pending))
	return nil
}
