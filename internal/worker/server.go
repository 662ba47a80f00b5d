package worker

import (
	"context"
	"fmt"

	"nvisy/internal/config"
	"nvisy/internal/worker/handlers"
	"nvisy/internal/worker/tasks"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

// Server 工作流调度队列的消费端：
// 执行由 API 侧排入的 workflow:run 任务
type Server struct {
	server *asynq.Server
	mux    *asynq.ServeMux
	logger *zap.Logger
}

// NewServer 创建调度队列服务器
func NewServer(
	cfg config.RedisConfig,
	concurrency int,
	runner handlers.WorkflowRunner,
	logger *zap.Logger,
) *Server {
	if concurrency <= 0 {
		concurrency = 10
	}
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
			Password: cfg.Password,
			DB:       cfg.DB,
		},
		asynq.Config{
			Concurrency: concurrency,
			Queues: map[string]int{
				"workflow": 6, // 工作流优先级高
				"default":  1,
			},
			ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
				logger.Error("任务执行失败",
					zap.String("type", task.Type()),
					zap.Error(err),
				)
			}),
		},
	)

	mux := asynq.NewServeMux()

	workflowHandler := handlers.NewWorkflowHandler(runner, logger)
	mux.HandleFunc(tasks.TypeRunWorkflow, workflowHandler.HandleRunWorkflow)

	return &Server{
		server: srv,
		mux:    mux,
		logger: logger,
	}
}

// Run 启动服务器并阻塞
func (s *Server) Run() error {
	s.logger.Info("调度队列服务器启动中...")
	return s.server.Run(s.mux)
}

// Start 非阻塞启动
func (s *Server) Start() error {
	s.logger.Info("调度队列服务器启动中 (后台)...")
	return s.server.Start(s.mux)
}

// Shutdown 停止服务器
func (s *Server) Shutdown() {
	s.logger.Info("调度队列服务器停止中...")
	s.server.Shutdown()
}
