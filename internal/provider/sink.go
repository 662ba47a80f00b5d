package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"nvisy/internal/metrics"

	"go.uber.org/zap"
)

// ErrSinkClosed 向已关闭的缓冲写入
var ErrSinkClosed = errors.New("输出缓冲已关闭")

// defaultSinkBuffer 默认缓冲容量
const defaultSinkBuffer = 256

// SinkOptions 输出缓冲配置
type SinkOptions struct {
	// BufferSize 缓冲容量，0 表示使用默认值
	BufferSize int
	Logger     *zap.Logger
}

// Sink 输出提供者的流式缓冲适配器
//
// Enqueue 把单个值送入有界缓冲，缓冲满时阻塞等待（背压），
// 不因竞争而失败。Flush 幂等：同一时刻至多一次底层批量写入，
// 并发的 Flush 调用共享同一次写入的结果。
type Sink struct {
	provider *OutputProvider
	buf      chan Value
	logger   *zap.Logger

	mu       sync.Mutex
	inflight *flushOp

	closed  atomic.Bool
	closeCh chan struct{}
	dropped atomic.Int64
}

// flushOp 一次进行中的刷写，并发调用共享完成信号与结果
type flushOp struct {
	done    chan struct{}
	receipt *WriteReceipt
	err     error
}

// NewSink 为输出提供者创建流式缓冲
func NewSink(p *OutputProvider, opts SinkOptions) *Sink {
	size := opts.BufferSize
	if size <= 0 {
		size = defaultSinkBuffer
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		provider: p,
		buf:      make(chan Value, size),
		logger:   logger,
		closeCh:  make(chan struct{}),
	}
}

// Enqueue 送入单个值。缓冲满时阻塞直至出现空位、上下文取消或缓冲关闭
func (s *Sink) Enqueue(ctx context.Context, v Value) error {
	if s.closed.Load() {
		return ErrSinkClosed
	}
	select {
	case s.buf <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.closeCh:
		return ErrSinkClosed
	}
}

// Flush 把当前缓冲的全部值一次性批量写入后端
//
// 首个调用者原子地取走缓冲内容并发起写入；写入未完成期间，
// 后续调用不会发起第二次写入，而是等待并共享同一结果。
// 写入完成后槽位清空，下一次 Flush 重新开始
func (s *Sink) Flush(ctx context.Context) (*WriteReceipt, error) {
	s.mu.Lock()
	if op := s.inflight; op != nil {
		s.mu.Unlock()
		select {
		case <-op.done:
			return op.receipt, op.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	batch := s.drain()
	if len(batch) == 0 {
		s.mu.Unlock()
		return &WriteReceipt{}, nil
	}

	op := &flushOp{done: make(chan struct{})}
	s.inflight = op
	s.mu.Unlock()

	// 写入期间不持有锁，Enqueue 与后续 Flush 均不被阻塞
	start := time.Now()
	receipt, err := s.provider.Write(ctx, batch)

	op.receipt, op.err = receipt, err
	close(op.done)

	s.mu.Lock()
	s.inflight = nil
	s.mu.Unlock()

	backend := string(s.provider.Kind())
	if err != nil {
		metrics.SinkFlushesTotal.WithLabelValues(backend, "error").Inc()
		s.logger.Error("缓冲刷写失败",
			zap.String("backend", backend),
			zap.Int("batch", len(batch)),
			zap.Error(err),
		)
		return receipt, err
	}

	metrics.SinkFlushesTotal.WithLabelValues(backend, "success").Inc()
	metrics.SinkFlushDuration.WithLabelValues(backend).Observe(time.Since(start).Seconds())
	metrics.OutputWrittenTotal.WithLabelValues(backend).Add(float64(receipt.Written))

	if receipt.Dropped > 0 {
		s.dropped.Add(int64(receipt.Dropped))
		s.logger.Warn("本次刷写存在被丢弃的值",
			zap.String("backend", backend),
			zap.Int("dropped", receipt.Dropped),
			zap.Int("written", receipt.Written),
		)
	}
	return receipt, nil
}

// drain 非阻塞地取空缓冲，保持入队顺序；调用方必须持有 s.mu
func (s *Sink) drain() []Value {
	batch := make([]Value, 0, len(s.buf))
	for {
		select {
		case v := <-s.buf:
			batch = append(batch, v)
		default:
			return batch
		}
	}
}

// Close 执行最后一次刷写并拒绝后续入队，重复关闭返回 ErrSinkClosed
func (s *Sink) Close(ctx context.Context) (*WriteReceipt, error) {
	if !s.closed.CompareAndSwap(false, true) {
		return nil, ErrSinkClosed
	}
	close(s.closeCh)
	return s.Flush(ctx)
}

// Dropped 自创建以来因形状不符被丢弃的值累计数
func (s *Sink) Dropped() int64 {
	return s.dropped.Load()
}

// Backend 底层后端类别
func (s *Sink) Backend() BackendKind {
	return s.provider.Kind()
}
