package handlers

import (
	"context"
	"encoding/json"
	"fmt"

	"nvisy/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// WorkflowRunner 工作流执行器抽象，便于注入 mock
type WorkflowRunner interface {
	RunStored(ctx context.Context, workflowID string) error
}

type WorkflowHandler struct {
	runner WorkflowRunner
	logger *zap.Logger
}

func NewWorkflowHandler(runner WorkflowRunner, logger *zap.Logger) *WorkflowHandler {
	return &WorkflowHandler{
		runner: runner,
		logger: logger,
	}
}

// HandleRunWorkflow 执行排队的工作流
func (h *WorkflowHandler) HandleRunWorkflow(ctx context.Context, t *asynq.Task) error {
	var p tasks.RunWorkflowPayload
	if err := json.Unmarshal(t.Payload(), &p); err != nil {
		return fmt.Errorf("json unmarshal failed: %w", err)
	}

	h.logger.Info("开始执行工作流任务",
		zap.String("workflow_id", p.WorkflowID),
		zap.String("triggered_by", p.TriggeredBy),
	)

	if err := h.runner.RunStored(ctx, p.WorkflowID); err != nil {
		h.logger.Error("工作流执行失败",
			zap.String("workflow_id", p.WorkflowID),
			zap.Error(err),
		)
		return err
	}

	h.logger.Info("工作流执行完成", zap.String("workflow_id", p.WorkflowID))
	return nil
}
