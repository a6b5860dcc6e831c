package publishing

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"articleforge-api/internal/config"
	"articleforge-api/pkg/logger"
	"articleforge-api/pkg/metrics"
)

const (
	DefaultPublishSpec = "@every 1m"
	DefaultBatchSize   = 20
)

// cronLogger 把 cron 内部日志转到 slog
type cronLogger struct{ ctx context.Context }

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	logger.Debug(l.ctx, "cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	logger.Error(l.ctx, "cron: "+msg, err, keysAndValues...)
}

// Scheduler 定时发布到期文章
type Scheduler struct {
	svc       *Service
	cron      *cron.Cron
	spec      string
	batchSize int
	timeout   time.Duration
}

// NewScheduler 创建调度器；上一轮未结束时跳过本轮
func NewScheduler(svc *Service, cfg config.SchedulerConfig) *Scheduler {
	spec := cfg.PublishSpec
	if spec == "" {
		spec = DefaultPublishSpec
	}
	batch := cfg.BatchSize
	if batch <= 0 {
		batch = DefaultBatchSize
	}
	log := cronLogger{ctx: context.Background()}
	return &Scheduler{
		svc:       svc,
		cron:      cron.New(cron.WithLogger(log), cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log))),
		spec:      spec,
		batchSize: batch,
		timeout:   5 * time.Minute,
	}
}

// Start 注册任务并启动
func (s *Scheduler) Start(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.RunOnce(ctx) }); err != nil {
		return fmt.Errorf("invalid publish schedule %q: %w", s.spec, err)
	}
	s.cron.Start()
	logger.Info(ctx, "publish scheduler started", "spec", s.spec, "batch_size", s.batchSize)
	return nil
}

// Stop 停止调度并等待正在执行的任务结束
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// RunOnce 执行一轮到期发布
func (s *Scheduler) RunOnce(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	published, failed, err := s.svc.PublishDue(ctx, s.batchSize)
	switch {
	case err != nil:
		metrics.ScheduledPublishRuns.WithLabelValues("error").Inc()
		logger.Error(ctx, "scheduled publish sweep failed", err)
	case published+failed == 0:
		metrics.ScheduledPublishRuns.WithLabelValues("idle").Inc()
	default:
		metrics.ScheduledPublishRuns.WithLabelValues("success").Inc()
		logger.Info(ctx, "scheduled publish sweep finished", "published", published, "failed", failed)
	}
}
