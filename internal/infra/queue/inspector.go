package queue

import (
	"fmt"

	"nvisy/internal/config"

	"github.com/hibiken/asynq"
)

// monitoredQueues 检视的队列列表，与服务器侧的权重配置保持一致
var monitoredQueues = []string{"workflow", "default"}

// QueueStats 单个队列的积压快照
type QueueStats struct {
	Queue     string `json:"queue"`
	Pending   int    `json:"pending"`
	Active    int    `json:"active"`
	Scheduled int    `json:"scheduled"`
	Retry     int    `json:"retry"`
	Archived  int    `json:"archived"`
	Processed int    `json:"processed"`
	Failed    int    `json:"failed"`
}

// Inspector 调度队列检视器，为运维端点提供积压情况
type Inspector struct {
	inspector *asynq.Inspector
}

// NewInspector 创建检视器
func NewInspector(cfg config.RedisConfig) *Inspector {
	return &Inspector{
		inspector: asynq.NewInspector(asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		}),
	}
}

// Stats 汇总各队列的即时统计，尚未出现过任务的队列会被跳过
func (i *Inspector) Stats() []QueueStats {
	stats := make([]QueueStats, 0, len(monitoredQueues))
	for _, q := range monitoredQueues {
		info, err := i.inspector.GetQueueInfo(q)
		if err != nil {
			continue
		}
		stats = append(stats, QueueStats{
			Queue:     q,
			Pending:   info.Pending,
			Active:    info.Active,
			Scheduled: info.Scheduled,
			Retry:     info.Retry,
			Archived:  info.Archived,
			Processed: info.Processed,
			Failed:    info.Failed,
		})
	}
	return stats
}

// CancelPending 删除尚未开始执行的运行任务
func (i *Inspector) CancelPending(taskID string) error {
	for _, q := range monitoredQueues {
		if err := i.inspector.DeleteTask(q, taskID); err == nil {
			return nil
		}
	}
	return fmt.Errorf("任务不存在或已开始执行: %s", taskID)
}

// Close 关闭检视器持有的连接
func (i *Inspector) Close() error {
	return i.inspector.Close()
}
