package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nvisy/internal/job"
	"nvisy/internal/stream"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// subscriptionSource 把阶段流订阅适配为投递来源
type subscriptionSource struct {
	sub *stream.Subscription
}

// Next 订阅关闭映射为来源耗尽，其余错误原样上抛
func (s subscriptionSource) Next(ctx context.Context) (Delivery, error) {
	msg, err := s.sub.Next(ctx)
	if err != nil {
		if errors.Is(err, stream.ErrSubscriptionClosed) {
			return nil, nil
		}
		return nil, err
	}
	return msg, nil
}

// StageHandlers 各阶段的处理器，nil 表示本实例不消费该阶段
type StageHandlers struct {
	Preprocessing  Handler
	Processing     Handler
	Postprocessing Handler
}

func (h StageHandlers) forStage(stage job.Stage) Handler {
	switch stage {
	case job.StagePreprocessing:
		return h.Preprocessing
	case job.StageProcessing:
		return h.Processing
	case job.StagePostprocessing:
		return h.Postprocessing
	}
	return nil
}

// RunnerOptions 运行器配置
type RunnerOptions struct {
	// Stages 本实例消费的阶段，空表示全部
	Stages []job.Stage

	AckPolicy         AckPolicy
	MaxConcurrentJobs int
	MaxDeliver        int
	RetryBackoff      time.Duration

	// BlockTimeout 与 ClaimIdle 透传给阶段流订阅
	BlockTimeout time.Duration
	ClaimIdle    time.Duration

	Logger *zap.Logger
}

// Runner 统一监督全部阶段工作者与延迟重投转发器
type Runner struct {
	rdb      redis.UniversalClient
	handlers StageHandlers
	opts     RunnerOptions
	logger   *zap.Logger

	workers []*StageWorker
	subs    []*stream.Subscription
}

// NewRunner 创建运行器
func NewRunner(rdb redis.UniversalClient, handlers StageHandlers, opts RunnerOptions) *Runner {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if len(opts.Stages) == 0 {
		opts.Stages = job.Stages()
	}
	return &Runner{
		rdb:      rdb,
		handlers: handlers,
		opts:     opts,
		logger:   opts.Logger,
	}
}

// consumerName 阶段工作者的消费者名
func consumerName(stage job.Stage) string {
	return string(stage) + "-worker"
}

// Run 订阅各阶段流并运行工作者，阻塞直至 ctx 结束或某个工作者出错
func (r *Runner) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	for _, stage := range r.opts.Stages {
		handler := r.handlers.forStage(stage)
		if handler == nil {
			return fmt.Errorf("阶段 %s 缺少处理器", stage)
		}

		sub, err := stream.Subscribe(gctx, r.rdb, stage, consumerName(stage), stream.SubscribeOptions{
			BlockTimeout: r.opts.BlockTimeout,
			ClaimIdle:    r.opts.ClaimIdle,
			Logger:       r.logger,
		})
		if err != nil {
			return fmt.Errorf("订阅 %s 阶段流失败: %w", stage, err)
		}
		r.subs = append(r.subs, sub)

		w, err := New(Options{
			Stage:             stage,
			Source:            subscriptionSource{sub: sub},
			Handler:           handler,
			AckPolicy:         r.opts.AckPolicy,
			MaxConcurrentJobs: r.opts.MaxConcurrentJobs,
			MaxDeliver:        r.opts.MaxDeliver,
			RetryBackoff:      r.opts.RetryBackoff,
			Logger:            r.logger,
		})
		if err != nil {
			return fmt.Errorf("创建 %s 阶段工作者失败: %w", stage, err)
		}
		r.workers = append(r.workers, w)

		g.Go(func() error { return w.Run(gctx) })
	}

	// 延迟重投依赖转发器把到期作业搬回阶段流
	forwarder := stream.NewForwarder(r.rdb, r.logger, 0)
	g.Go(func() error {
		forwarder.Run(gctx)
		return nil
	})

	r.logger.Info("阶段工作者运行器启动",
		zap.Int("stages", len(r.opts.Stages)),
		zap.String("ack_policy", string(r.opts.AckPolicy)),
	)
	return g.Wait()
}

// Shutdown 关闭订阅并等待全部在途作业完成
func (r *Runner) Shutdown(ctx context.Context) error {
	for _, sub := range r.subs {
		sub.Close()
	}
	for _, w := range r.workers {
		if err := w.Shutdown(ctx); err != nil {
			return err
		}
	}
	r.logger.Info("阶段工作者运行器已停止")
	return nil
}
