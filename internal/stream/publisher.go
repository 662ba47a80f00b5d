package stream

import (
	"context"
	"encoding/json"
	"fmt"

	"nvisy/internal/job"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Publisher 阶段作业发布者
type Publisher struct {
	rdb    redis.UniversalClient
	logger *zap.Logger
}

// NewPublisher 创建作业发布者
func NewPublisher(rdb redis.UniversalClient, logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{rdb: rdb, logger: logger}
}

// Publish 向阶段流追加一条作业，返回流内条目 ID
func (p *Publisher) Publish(ctx context.Context, stage job.Stage, data []byte) (string, error) {
	if !stage.Valid() {
		return "", fmt.Errorf("未知的处理阶段: %q", stage)
	}
	id, err := p.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey(stage),
		Values: map[string]any{
			fieldData:       string(data),
			fieldDeliveries: 1,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("发布 %s 作业失败: %w", stage, err)
	}
	p.logger.Debug("作业已发布",
		zap.String("stage", string(stage)),
		zap.String("entry_id", id),
	)
	return id, nil
}

// PublishEnvelope 序列化信封并发布到其所属阶段
func PublishEnvelope[P job.StagePayload](ctx context.Context, p *Publisher, env *job.Envelope[P]) (string, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return "", fmt.Errorf("序列化作业信封失败: %w", err)
	}
	return p.Publish(ctx, env.Stage(), data)
}
