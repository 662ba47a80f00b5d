package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"nvisy/internal/job"
	"nvisy/internal/logger"
	"nvisy/internal/metrics"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// tracerName 阶段处理器的追踪器名
const tracerName = "nvisy/internal/worker/handlers"

// Processor 阶段业务处理器抽象，便于注入 mock
type Processor[P job.StagePayload] interface {
	Process(ctx context.Context, env *job.Envelope[P]) error
}

// ProcessorFunc 函数式处理器适配
type ProcessorFunc[P job.StagePayload] func(ctx context.Context, env *job.Envelope[P]) error

// Process 调用自身
func (f ProcessorFunc[P]) Process(ctx context.Context, env *job.Envelope[P]) error {
	return f(ctx, env)
}

// StageHandler 阶段消息处理入口：解码信封、建立追踪与超时、
// 委托给注入的业务处理器
//
// 解码失败是终结性的：记录并计数后按成功返回，坏消息不会反复重投
type StageHandler[P job.StagePayload] struct {
	stage     job.Stage
	processor Processor[P]
	logger    *zap.Logger
}

// NewStageHandler 创建阶段处理入口
func NewStageHandler[P job.StagePayload](stage job.Stage, processor Processor[P], log *zap.Logger) *StageHandler[P] {
	if log == nil {
		log = zap.NewNop()
	}
	return &StageHandler[P]{
		stage:     stage,
		processor: processor,
		logger:    log.With(zap.String("stage", string(stage))),
	}
}

// Handle 处理一条原始消息
func (h *StageHandler[P]) Handle(ctx context.Context, data []byte) error {
	var env job.Envelope[P]
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.JobsDecodeFailedTotal.WithLabelValues(string(h.stage)).Inc()
		h.logger.Error("作业信封解析失败，消息作废",
			zap.Int("bytes", len(data)),
			zap.Error(err),
		)
		return nil
	}

	ctx = logger.WithJob(ctx, env.ID.String(), string(h.stage))
	ctx, span := otel.Tracer(tracerName).Start(ctx, "worker."+string(h.stage))
	defer span.End()
	span.SetAttributes(
		attribute.String("job.id", env.ID.String()),
		attribute.String("job.file_id", env.FileID.String()),
		attribute.Int("job.retry_count", env.RetryCount),
	)

	// 单次处理受信封声明的超时约束
	ctx, cancel := context.WithTimeout(ctx, env.Timeout())
	defer cancel()

	h.logger.Info("开始处理作业",
		zap.String("job_id", env.ID.String()),
		zap.String("file_id", env.FileID.String()),
		zap.Duration("timeout", env.Timeout()),
	)

	if err := h.processor.Process(ctx, &env); err != nil {
		span.RecordError(err)
		return fmt.Errorf("处理 %s 作业失败: %w", h.stage, err)
	}

	h.logger.Info("作业处理完成", zap.String("job_id", env.ID.String()))
	return nil
}
