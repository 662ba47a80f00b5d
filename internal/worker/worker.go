package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"nvisy/internal/job"
	"nvisy/internal/metrics"

	"go.uber.org/zap"
)

// AckPolicy 消息确认策略
type AckPolicy string

const (
	// AckImmediate 取得许可后立即确认，再交给处理器。
	// 处理失败不会重投，至多一次语义
	AckImmediate AckPolicy = "immediate"
	// AckOnSuccess 处理成功后才确认；失败按投递次数退避重投，
	// 重试耗尽进死信流。至少一次语义，要求处理器幂等
	AckOnSuccess AckPolicy = "on_success"
)

// ParseAckPolicy 解析确认策略，空串取默认的立即确认
func ParseAckPolicy(s string) (AckPolicy, error) {
	switch AckPolicy(s) {
	case "":
		return AckImmediate, nil
	case AckImmediate, AckOnSuccess:
		return AckPolicy(s), nil
	}
	return "", fmt.Errorf("未知的确认策略: %q (可选: immediate, on_success)", s)
}

// Delivery 一次消息投递，确认动作由消费方显式发起
type Delivery interface {
	// Data 原始作业数据
	Data() []byte
	// Deliveries 投递次数，首次为 1
	Deliveries() int
	// Ack 确认，消息不再投递
	Ack(ctx context.Context) error
	// Nak 否认并安排延迟重投
	Nak(ctx context.Context, delay time.Duration) error
	// Term 终止，归档死信后确认
	Term(ctx context.Context) error
}

// Source 投递来源。Next 阻塞等待下一条投递；
// 来源耗尽或关闭时返回 (nil, nil)，ctx 取消时返回 ctx 的错误
type Source interface {
	Next(ctx context.Context) (Delivery, error)
}

// Handler 阶段处理器，worker 对其返回错误只记录与计数，从不向上传播
type Handler interface {
	Handle(ctx context.Context, data []byte) error
}

// HandlerFunc 函数式处理器适配
type HandlerFunc func(ctx context.Context, data []byte) error

// Handle 调用自身
func (f HandlerFunc) Handle(ctx context.Context, data []byte) error { return f(ctx, data) }

// 工作者默认参数
const (
	// DefaultMaxConcurrentJobs 单个工作者的默认并发上限
	DefaultMaxConcurrentJobs = 10
	// DefaultMaxDeliver 默认最大投递次数，达到后进死信流
	DefaultMaxDeliver = 5
	// DefaultRetryBackoff 默认重试退避基数，按投递次数线性放大
	DefaultRetryBackoff = 30 * time.Second
)

// Options 阶段工作者配置
type Options struct {
	Stage   job.Stage
	Source  Source
	Handler Handler

	// AckPolicy 确认策略，零值取立即确认
	AckPolicy AckPolicy
	// MaxConcurrentJobs 并发处理上限，零值取默认
	MaxConcurrentJobs int
	// MaxDeliver 最大投递次数，仅成功确认策略使用
	MaxDeliver int
	// RetryBackoff 重试退避基数，仅成功确认策略使用
	RetryBackoff time.Duration

	Logger *zap.Logger
}

// StageWorker 单个阶段的持久化消费者
//
// 取消只停止消息摄入，已在处理中的作业照常完成；
// 许可通道限定同时处理的作业数，是唯一的背压手段
type StageWorker struct {
	stage   job.Stage
	source  Source
	handler Handler
	policy  AckPolicy

	permits    chan struct{}
	maxDeliver int
	backoff    time.Duration

	logger *zap.Logger
	wg     sync.WaitGroup
}

// New 创建阶段工作者
func New(opts Options) (*StageWorker, error) {
	if !opts.Stage.Valid() {
		return nil, fmt.Errorf("未知的处理阶段: %q", opts.Stage)
	}
	if opts.Source == nil {
		return nil, fmt.Errorf("投递来源不能为空")
	}
	if opts.Handler == nil {
		return nil, fmt.Errorf("阶段处理器不能为空")
	}

	policy := opts.AckPolicy
	if policy == "" {
		policy = AckImmediate
	}
	concurrency := opts.MaxConcurrentJobs
	if concurrency <= 0 {
		concurrency = DefaultMaxConcurrentJobs
	}
	maxDeliver := opts.MaxDeliver
	if maxDeliver <= 0 {
		maxDeliver = DefaultMaxDeliver
	}
	backoff := opts.RetryBackoff
	if backoff <= 0 {
		backoff = DefaultRetryBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &StageWorker{
		stage:      opts.Stage,
		source:     opts.Source,
		handler:    opts.Handler,
		policy:     policy,
		permits:    make(chan struct{}, concurrency),
		maxDeliver: maxDeliver,
		backoff:    backoff,
		logger:     logger.With(zap.String("stage", string(opts.Stage))),
	}, nil
}

// Run 消费循环，ctx 取消后停止摄入并返回 nil
//
// 每条消息依次经过：取消检查、取回、许可获取、
// （立即策略下）确认、处理协程派发
func (w *StageWorker) Run(ctx context.Context) error {
	w.logger.Info("阶段工作者启动",
		zap.Int("max_concurrent_jobs", cap(w.permits)),
		zap.String("ack_policy", string(w.policy)),
	)

	for {
		// 取消优先于取回，繁忙的流不会饿死停机信号
		select {
		case <-ctx.Done():
			w.logger.Info("停机信号收到，停止消息摄入")
			return nil
		default:
		}

		d, err := w.source.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				w.logger.Info("停机信号收到，停止消息摄入")
				return nil
			}
			w.logger.Error("取回消息失败", zap.Error(err))
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
			}
			continue
		}
		if d == nil {
			w.logger.Info("投递来源已关闭，工作者退出")
			return nil
		}
		metrics.JobsConsumedTotal.WithLabelValues(string(w.stage)).Inc()

		// 先占许可再做任何事，满载时在此挂起形成背压；
		// 此时取消则不确认直接退出，消息随后会重新投递
		select {
		case w.permits <- struct{}{}:
		case <-ctx.Done():
			w.logger.Info("停机信号收到，放弃未确认消息")
			return nil
		}

		if w.policy == AckImmediate {
			if err := d.Ack(ctx); err != nil {
				w.logger.Error("确认消息失败", zap.Error(err))
			}
		}

		// 处理协程脱离循环上下文，停机不打断在途作业
		w.wg.Add(1)
		metrics.JobsInFlight.WithLabelValues(string(w.stage)).Inc()
		go w.dispatch(context.WithoutCancel(ctx), d)
	}
}

// dispatch 持有许可执行处理器，完成后释放
func (w *StageWorker) dispatch(ctx context.Context, d Delivery) {
	defer w.wg.Done()
	defer func() { <-w.permits }()
	defer metrics.JobsInFlight.WithLabelValues(string(w.stage)).Dec()

	start := time.Now()
	err := w.handler.Handle(ctx, d.Data())
	metrics.HandlerDuration.WithLabelValues(string(w.stage)).Observe(time.Since(start).Seconds())

	if err == nil {
		metrics.JobsCompletedTotal.WithLabelValues(string(w.stage), "success").Inc()
		if w.policy == AckOnSuccess {
			if ackErr := d.Ack(ctx); ackErr != nil {
				w.logger.Error("确认消息失败", zap.Error(ackErr))
			}
		}
		return
	}

	metrics.JobsCompletedTotal.WithLabelValues(string(w.stage), "error").Inc()
	w.logger.Error("作业处理失败",
		zap.Int("deliveries", d.Deliveries()),
		zap.Error(err),
	)
	if w.policy == AckOnSuccess {
		w.retryOrTerm(ctx, d)
	}
}

// retryOrTerm 失败善后：未达投递上限则按次数退避重投，否则进死信流
func (w *StageWorker) retryOrTerm(ctx context.Context, d Delivery) {
	if d.Deliveries() < w.maxDeliver {
		delay := time.Duration(d.Deliveries()) * w.backoff
		if err := d.Nak(ctx, delay); err != nil {
			w.logger.Error("安排重投失败", zap.Error(err))
			return
		}
		w.logger.Info("作业已安排重投",
			zap.Int("deliveries", d.Deliveries()),
			zap.Duration("delay", delay),
		)
		return
	}

	if err := d.Term(ctx); err != nil {
		w.logger.Error("归档死信失败", zap.Error(err))
		return
	}
	metrics.JobsDeadLetterTotal.WithLabelValues(string(w.stage)).Inc()
	w.logger.Warn("重试耗尽，作业进入死信流",
		zap.Int("deliveries", d.Deliveries()),
	)
}

// Shutdown 等待全部在途处理协程完成，受 ctx 期限约束
func (w *StageWorker) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		w.logger.Info("在途作业全部完成")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("等待在途作业超时: %w", ctx.Err())
	}
}

// Stage 工作者负责的阶段
func (w *StageWorker) Stage() job.Stage { return w.stage }
