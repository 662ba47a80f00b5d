package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"nvisy/internal/config"
	"nvisy/internal/credential"
	"nvisy/internal/infra"
	"nvisy/internal/infra/queue"
	"nvisy/internal/job"
	"nvisy/internal/logger"
	"nvisy/internal/metrics"
	"nvisy/internal/worker"
	"nvisy/internal/worker/handlers"
	"nvisy/internal/workflow/executor"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 构建信息，经 -ldflags 注入
var (
	version = "dev"
	commit  = "none"
)

func main() {
	// 0. 统一加载 .env，便于集中管理 APP_* 环境变量
	loadEnvFile()

	env := os.Getenv("APP_ENV")
	if env == "" {
		env = "dev"
	}

	// 1. 加载配置
	cfg, err := config.Load(env, "")
	if err != nil {
		fmt.Printf("加载配置失败: %v\n", err)
		os.Exit(1)
	}

	// 2. 初始化日志
	if err := logger.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath); err != nil {
		fmt.Printf("初始化日志失败: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("工作进程启动中...",
		zap.String("env", env),
		zap.String("version", version),
	)
	metrics.RecordBuildInfo(version, runtime.Version(), commit)

	// 3. 初始化数据库
	db, err := infra.InitDatabase(&cfg.Database, cfg.Log.Level == "debug")
	if err != nil {
		logger.Fatal("初始化数据库失败", zap.Error(err))
	}
	defer infra.CloseDatabase()

	// 4. 执行数据库迁移（根据配置）
	if cfg.Database.AutoMigrate {
		if err := infra.AutoMigrate(db,
			&credential.Credential{},
			&executor.WorkflowRecord{},
			&executor.RunRecord{},
		); err != nil {
			logger.Fatal("数据库迁移失败", zap.Error(err))
		}
	} else {
		logger.Info("跳过自动迁移（配置已禁用）")
	}

	// 5. 初始化 Redis（阶段流与健康检查共用）
	rdb, err := infra.InitRedis(&cfg.Redis)
	if err != nil {
		logger.Fatal("初始化 Redis 失败", zap.Error(err))
	}
	defer infra.CloseRedis()

	// 6. 组装执行组件
	credStore, err := credential.NewStore(db, cfg.Credential.MasterKey, logger.Get())
	if err != nil {
		logger.Fatal("初始化凭据库失败", zap.Error(err))
	}

	repo := executor.NewRepository(db)
	engine := executor.NewEngine(repo, credStore, logger.Get(),
		executor.WithMaxConcurrentRuns(cfg.Engine.MaxConcurrentRuns),
		executor.WithSinkBufferSize(cfg.Sink.BufferSize),
	)

	runner, err := buildStageRunner(rdb, cfg)
	if err != nil {
		logger.Fatal("创建阶段运行器失败", zap.Error(err))
	}

	queueClient := queue.NewClient(cfg.Redis)
	defer queueClient.Close()
	inspector := queue.NewInspector(cfg.Redis)
	defer inspector.Close()

	asynqServer := worker.NewServer(cfg.Redis, cfg.Engine.QueueConcurrency, engine, logger.Get())

	// 7. 运维端口（健康检查、指标、队列检视、手动触发）
	gin.SetMode(cfg.Server.Mode)
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      setupOpsRouter(repo, queueClient, inspector),
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	// 8. 启动各组件
	runCtx, stopIntake := context.WithCancel(context.Background())
	defer stopIntake()

	runnerDone := make(chan error, 1)
	go func() {
		runnerDone <- runner.Run(runCtx)
	}()

	go func() {
		if err := asynqServer.Run(); err != nil {
			logger.Fatal("调度队列服务器启动失败", zap.Error(err))
		}
	}()

	go func() {
		logger.Info("运维端口监听", zap.Int("port", cfg.Server.Port))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("运维服务器启动失败", zap.Error(err))
		}
	}()

	// 9. 优雅关闭：先停消息摄入，再等在途作业收尾
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("正在关闭工作进程...")
	stopIntake()

	drainCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := runner.Shutdown(drainCtx); err != nil {
		logger.Error("阶段运行器关闭异常", zap.Error(err))
	}
	if err := <-runnerDone; err != nil {
		logger.Error("阶段运行器退出异常", zap.Error(err))
	}

	asynqServer.Shutdown()

	httpCtx, cancelHTTP := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelHTTP()
	if err := httpServer.Shutdown(httpCtx); err != nil {
		logger.Error("运维服务器关闭异常", zap.Error(err))
	}

	logger.Info("工作进程已安全关闭")
}

// buildStageRunner 按配置组装阶段流消费端
func buildStageRunner(rdb redis.UniversalClient, cfg *config.Config) (*worker.Runner, error) {
	policy, err := worker.ParseAckPolicy(cfg.Worker.AckPolicy)
	if err != nil {
		return nil, err
	}

	stages := make([]job.Stage, 0, len(cfg.Worker.Stages))
	for _, s := range cfg.Worker.Stages {
		stage, err := job.ParseStage(s)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage)
	}

	log := logger.Get()
	stageHandlers := worker.StageHandlers{
		Preprocessing: handlers.NewStageHandler[job.PreprocessingData](
			job.StagePreprocessing, handlers.NewPreprocessingProcessor(log), log),
		Processing: handlers.NewStageHandler[job.ProcessingData](
			job.StageProcessing, handlers.NewProcessingProcessor(log), log),
		Postprocessing: handlers.NewStageHandler[job.PostprocessingData](
			job.StagePostprocessing, handlers.NewPostprocessingProcessor(log), log),
	}

	return worker.NewRunner(rdb, stageHandlers, worker.RunnerOptions{
		Stages:            stages,
		AckPolicy:         policy,
		MaxConcurrentJobs: cfg.Worker.MaxConcurrentJobs,
		MaxDeliver:        cfg.Worker.MaxDeliver,
		RetryBackoff:      time.Duration(cfg.Worker.RetryBackoffSeconds) * time.Second,
		BlockTimeout:      time.Duration(cfg.Worker.BlockSeconds) * time.Second,
		ClaimIdle:         time.Duration(cfg.Worker.ClaimIdleSeconds) * time.Second,
		Logger:            log,
	}), nil
}

// loadEnvFile 依次尝试加载当前目录及上级目录的 .env 文件
func loadEnvFile() {
	for _, path := range envCandidates() {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		if err := godotenv.Load(path); err != nil {
			fmt.Printf("加载环境变量文件 %s 失败: %v\n", path, err)
			return
		}
		fmt.Printf("已加载环境变量文件: %s\n", path)
		return
	}
	fmt.Println("未找到 .env 文件，将仅使用系统环境变量和 config/* 配置")
}

// envCandidates 从工作目录与可执行文件目录分别向上收集 .env 候选路径
func envCandidates() []string {
	seen := make(map[string]struct{})
	var candidates []string

	traverse := func(start string) {
		dir := filepath.Clean(start)
		for i := 0; i < 8; i++ {
			path := filepath.Join(dir, ".env")
			if _, ok := seen[path]; !ok {
				seen[path] = struct{}{}
				candidates = append(candidates, path)
			}
			parent := filepath.Dir(dir)
			if parent == dir {
				break
			}
			dir = parent
		}
	}

	if wd, err := os.Getwd(); err == nil {
		traverse(wd)
	}
	if exe, err := os.Executable(); err == nil {
		traverse(filepath.Dir(exe))
	}
	return candidates
}
