package stream

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// forwardScript 原子地把到期的延迟条目搬回其阶段流
// KEYS[1] 延迟集合；ARGV[1] 当前时间戳；ARGV[2] 单批上限；ARGV[3] 流键前缀
var forwardScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
for _, member in ipairs(due) do
    local entry = cjson.decode(member)
    redis.call('XADD', ARGV[3] .. entry.stage, '*',
        'data', entry.data,
        'deliveries', entry.deliveries)
    redis.call('ZREM', KEYS[1], member)
end
return #due
`)

// 转发默认参数
const (
	defaultForwardInterval = time.Second
	defaultForwardBatch    = 100
)

// Forwarder 延迟重投转发器：周期性把到期的延迟作业搬回阶段流
type Forwarder struct {
	rdb      redis.UniversalClient
	logger   *zap.Logger
	interval time.Duration
}

// NewForwarder 创建转发器，interval 不大于零时使用默认周期
func NewForwarder(rdb redis.UniversalClient, logger *zap.Logger, interval time.Duration) *Forwarder {
	if interval <= 0 {
		interval = defaultForwardInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Forwarder{rdb: rdb, logger: logger, interval: interval}
}

// Run 循环搬运到期条目直至 ctx 结束
func (f *Forwarder) Run(ctx context.Context) {
	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	f.logger.Info("延迟重投转发器启动", zap.Duration("interval", f.interval))
	for {
		select {
		case <-ctx.Done():
			f.logger.Info("延迟重投转发器停止")
			return
		case <-ticker.C:
			if n, err := f.forwardDue(ctx); err != nil {
				if ctx.Err() == nil {
					f.logger.Error("搬运延迟作业失败", zap.Error(err))
				}
			} else if n > 0 {
				f.logger.Debug("延迟作业已重投", zap.Int64("count", n))
			}
		}
	}
}

// forwardDue 执行一次搬运，返回本次搬运的条目数
func (f *Forwarder) forwardDue(ctx context.Context) (int64, error) {
	res, err := forwardScript.Run(ctx, f.rdb,
		[]string{delayedKey},
		time.Now().Unix(),
		defaultForwardBatch,
		streamPrefix,
	).Int64()
	if err != nil {
		return 0, err
	}
	return res, nil
}
