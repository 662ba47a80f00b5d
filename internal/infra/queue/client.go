package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nvisy/internal/config"
	"nvisy/internal/worker/tasks"

	"github.com/hibiken/asynq"
)

// runTimeout 单次工作流运行的队列侧超时上限
const runTimeout = 30 * time.Minute

// Client 调度队列客户端，向执行端投递整条工作流的运行请求
type Client interface {
	EnqueueRunWorkflow(ctx context.Context, payload tasks.RunWorkflowPayload) (string, error)
	Close() error
}

type asynqClient struct {
	client *asynq.Client
}

// NewClient 创建调度队列客户端
func NewClient(cfg config.RedisConfig) Client {
	return &asynqClient{
		client: asynq.NewClient(asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// EnqueueRunWorkflow 投递 workflow:run 任务并返回任务标识
// 运行结果由引擎落库，队列层不重试，避免失败的运行被重复写出
func (c *asynqClient) EnqueueRunWorkflow(ctx context.Context, payload tasks.RunWorkflowPayload) (string, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("序列化任务载荷失败: %w", err)
	}

	info, err := c.client.EnqueueContext(ctx,
		asynq.NewTask(tasks.TypeRunWorkflow, data),
		asynq.Queue("workflow"),
		asynq.MaxRetry(0),
		asynq.Timeout(runTimeout),
	)
	if err != nil {
		return "", fmt.Errorf("任务入队失败: %w", err)
	}
	return info.ID, nil
}

func (c *asynqClient) Close() error {
	return c.client.Close()
}
