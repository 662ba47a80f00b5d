package stream

import (
	"context"
	"errors"
	"fmt"
	"time"

	"nvisy/internal/job"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// ErrSubscriptionClosed 从已关闭的订阅取消息
var ErrSubscriptionClosed = errors.New("订阅已关闭")

// 订阅默认参数
const (
	defaultBlockTimeout = 5 * time.Second
	defaultClaimIdle    = 60 * time.Second
	defaultBatchSize    = 10
)

// SubscribeOptions 订阅配置
type SubscribeOptions struct {
	// BlockTimeout 无消息时单次阻塞读取的时长
	BlockTimeout time.Duration
	// ClaimIdle 接管他人滞留消息的闲置阈值
	ClaimIdle time.Duration
	// BatchSize 单次取回的最大条数
	BatchSize int64
	Logger    *zap.Logger
}

// Subscription 阶段流的持久化拉取消费者
//
// 后台取回循环把消息送入内部通道，Next 从通道取出；
// 创建时接管滞留的待处理消息，保证至少一次投递
type Subscription struct {
	rdb      redis.UniversalClient
	stage    job.Stage
	consumer string
	msgCh    chan *Message
	logger   *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// Subscribe 以给定消费者名加入阶段消费组并启动取回循环，
// 循环随 ctx 结束或 Close 停止
func Subscribe(ctx context.Context, rdb redis.UniversalClient, stage job.Stage, consumer string, opts SubscribeOptions) (*Subscription, error) {
	if consumer == "" {
		return nil, fmt.Errorf("消费者名不能为空")
	}
	if err := EnsureGroup(ctx, rdb, stage); err != nil {
		return nil, err
	}

	if opts.BlockTimeout <= 0 {
		opts.BlockTimeout = defaultBlockTimeout
	}
	if opts.ClaimIdle <= 0 {
		opts.ClaimIdle = defaultClaimIdle
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s := &Subscription{
		rdb:      rdb,
		stage:    stage,
		consumer: consumer,
		msgCh:    make(chan *Message),
		logger:   logger,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	go s.fetchLoop(loopCtx, opts)

	logger.Info("已订阅阶段作业流",
		zap.String("stage", string(stage)),
		zap.String("consumer", consumer),
	)
	return s, nil
}

// fetchLoop 先接管滞留消息，再循环阻塞取回新消息
func (s *Subscription) fetchLoop(ctx context.Context, opts SubscribeOptions) {
	defer close(s.done)
	defer close(s.msgCh)

	s.claimStale(ctx, opts)

	key := StreamKey(s.stage)
	for {
		if ctx.Err() != nil {
			return
		}
		res, err := s.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
			Group:    GroupName,
			Consumer: s.consumer,
			Streams:  []string{key, ">"},
			Count:    opts.BatchSize,
			Block:    opts.BlockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				continue // 阻塞超时，无新消息
			}
			if ctx.Err() != nil {
				return
			}
			s.logger.Error("读取阶段流失败",
				zap.String("stage", string(s.stage)),
				zap.Error(err),
			)
			select {
			case <-time.After(time.Second):
			case <-ctx.Done():
				return
			}
			continue
		}

		for _, xs := range res {
			for _, entry := range xs.Messages {
				select {
				case s.msgCh <- parseMessage(s.rdb, s.stage, entry):
				case <-ctx.Done():
					return
				}
			}
		}
	}
}

// claimStale 接管闲置超过阈值的待处理消息，
// 使失联消费者持有的作业得以重新投递
func (s *Subscription) claimStale(ctx context.Context, opts SubscribeOptions) {
	start := "0-0"
	for {
		claimed, next, err := s.rdb.XAutoClaim(ctx, &redis.XAutoClaimArgs{
			Stream:   StreamKey(s.stage),
			Group:    GroupName,
			Consumer: s.consumer,
			MinIdle:  opts.ClaimIdle,
			Start:    start,
			Count:    opts.BatchSize,
		}).Result()
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("接管滞留消息失败",
					zap.String("stage", string(s.stage)),
					zap.Error(err),
				)
			}
			return
		}
		if len(claimed) > 0 {
			s.logger.Info("接管滞留消息",
				zap.String("stage", string(s.stage)),
				zap.Int("count", len(claimed)),
			)
		}
		for _, entry := range claimed {
			select {
			case s.msgCh <- parseMessage(s.rdb, s.stage, entry):
			case <-ctx.Done():
				return
			}
		}
		if next == "0-0" || next == start {
			return
		}
		start = next
	}
}

// Next 取出下一条消息，阻塞直至消息到达、ctx 取消或订阅关闭
func (s *Subscription) Next(ctx context.Context) (*Message, error) {
	select {
	case msg, ok := <-s.msgCh:
		if !ok {
			return nil, ErrSubscriptionClosed
		}
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Messages 内部消息通道，订阅结束后关闭
func (s *Subscription) Messages() <-chan *Message {
	return s.msgCh
}

// Stage 订阅的阶段
func (s *Subscription) Stage() job.Stage { return s.stage }

// Close 停止取回循环并等待其退出
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}
