package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"nvisy/internal/job"

	"github.com/redis/go-redis/v9"
)

// Message 从阶段流取得的一条待处理作业
//
// 确认与取回是分离的：取回不移除待处理状态，
// 必须显式调用 Ack、Nak 或 Term 之一决定其去向
type Message struct {
	id         string
	stage      job.Stage
	data       []byte
	deliveries int
	rdb        redis.UniversalClient
}

// NewMessage 构造消息，测试替身也经由此入口
func NewMessage(rdb redis.UniversalClient, stage job.Stage, id string, data []byte, deliveries int) *Message {
	if deliveries < 1 {
		deliveries = 1
	}
	return &Message{
		id:         id,
		stage:      stage,
		data:       data,
		deliveries: deliveries,
		rdb:        rdb,
	}
}

// parseMessage 从流条目还原消息
func parseMessage(rdb redis.UniversalClient, stage job.Stage, entry redis.XMessage) *Message {
	var data []byte
	if raw, ok := entry.Values[fieldData].(string); ok {
		data = []byte(raw)
	}
	deliveries := 1
	if raw, ok := entry.Values[fieldDeliveries].(string); ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			deliveries = n
		}
	}
	return NewMessage(rdb, stage, entry.ID, data, deliveries)
}

// ID 流内条目 ID
func (m *Message) ID() string { return m.id }

// Stage 所属阶段
func (m *Message) Stage() job.Stage { return m.stage }

// Data 原始作业数据
func (m *Message) Data() []byte { return m.data }

// Deliveries 投递次数，首次投递为 1
func (m *Message) Deliveries() int { return m.deliveries }

// IsRedelivery 是否为重投
func (m *Message) IsRedelivery() bool { return m.deliveries > 1 }

// Ack 确认消息，从待处理列表移除
func (m *Message) Ack(ctx context.Context) error {
	if err := m.rdb.XAck(ctx, StreamKey(m.stage), GroupName, m.id).Err(); err != nil {
		return fmt.Errorf("确认消息失败 (%s/%s): %w", m.stage, m.id, err)
	}
	return nil
}

// delayedEntry 延迟集合成员，id 保证同一作业多次重投互不覆盖
type delayedEntry struct {
	ID         string `json:"id"`
	Stage      string `json:"stage"`
	Data       string `json:"data"`
	Deliveries int    `json:"deliveries"`
}

// Nak 否认消息并安排重投：投递计数加一后重新入流，
// delay 大于零时先进延迟集合由转发器到期搬运，原条目随即确认
func (m *Message) Nak(ctx context.Context, delay time.Duration) error {
	next := m.deliveries + 1
	if delay > 0 {
		member, err := json.Marshal(delayedEntry{
			ID:         m.id,
			Stage:      string(m.stage),
			Data:       string(m.data),
			Deliveries: next,
		})
		if err != nil {
			return fmt.Errorf("序列化延迟条目失败: %w", err)
		}
		due := float64(time.Now().Add(delay).Unix())
		if err := m.rdb.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: string(member)}).Err(); err != nil {
			return fmt.Errorf("安排延迟重投失败 (%s/%s): %w", m.stage, m.id, err)
		}
	} else {
		err := m.rdb.XAdd(ctx, &redis.XAddArgs{
			Stream: StreamKey(m.stage),
			Values: map[string]any{
				fieldData:       string(m.data),
				fieldDeliveries: next,
			},
		}).Err()
		if err != nil {
			return fmt.Errorf("重投消息失败 (%s/%s): %w", m.stage, m.id, err)
		}
	}
	return m.Ack(ctx)
}

// Term 终止消息：归档到死信流后确认，不再重投
func (m *Message) Term(ctx context.Context) error {
	err := m.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: DeadLetterStream,
		Values: map[string]any{
			fieldStage:      string(m.stage),
			fieldData:       string(m.data),
			fieldDeliveries: m.deliveries,
		},
	}).Err()
	if err != nil {
		return fmt.Errorf("归档死信失败 (%s/%s): %w", m.stage, m.id, err)
	}
	return m.Ack(ctx)
}
