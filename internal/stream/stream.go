package stream

import (
	"context"
	"fmt"
	"strings"

	"nvisy/internal/job"

	"github.com/redis/go-redis/v9"
)

// Redis Streams 键约定
const (
	// streamPrefix 阶段流键前缀，完整键为 nvisy:jobs:<stage>
	streamPrefix = "nvisy:jobs:"
	// GroupName 各阶段共用的消费组名
	GroupName = "nvisy-workers"
	// DeadLetterStream 死信流，重试耗尽的作业归档于此
	DeadLetterStream = "nvisy:jobs:dead"
	// delayedKey 延迟重投的有序集合，score 为到期时间戳
	delayedKey = "nvisy:jobs:delayed"
)

// 消息体字段名
const (
	fieldData       = "data"
	fieldStage      = "stage"
	fieldDeliveries = "deliveries"
)

// StreamKey 阶段对应的流键
func StreamKey(stage job.Stage) string {
	return streamPrefix + string(stage)
}

// stageFromKey 从流键还原阶段名
func stageFromKey(key string) job.Stage {
	return job.Stage(strings.TrimPrefix(key, streamPrefix))
}

// EnsureGroup 幂等地创建阶段流与消费组，流不存在时一并创建
func EnsureGroup(ctx context.Context, rdb redis.UniversalClient, stage job.Stage) error {
	err := rdb.XGroupCreateMkStream(ctx, StreamKey(stage), GroupName, "0").Err()
	if err != nil && !strings.Contains(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("创建消费组失败 (%s): %w", stage, err)
	}
	return nil
}

// EnsureGroups 为全部给定阶段创建流与消费组
func EnsureGroups(ctx context.Context, rdb redis.UniversalClient, stages []job.Stage) error {
	for _, stage := range stages {
		if err := EnsureGroup(ctx, rdb, stage); err != nil {
			return err
		}
	}
	return nil
}
