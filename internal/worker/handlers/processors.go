package handlers

import (
	"context"
	"fmt"

	"nvisy/internal/job"

	"go.uber.org/zap"
)

// 默认阶段处理器。文字识别、向量化、排版渲染等内容加工由
// 外部内容服务执行，核心侧负责载荷校验、执行计划与取消纪律；
// 部署方可用自己的 Processor 实现替换任意一个阶段

// PreprocessingProcessor 预处理阶段：上传后的整备步骤
type PreprocessingProcessor struct {
	logger *zap.Logger
}

// NewPreprocessingProcessor 创建预处理器
func NewPreprocessingProcessor(log *zap.Logger) *PreprocessingProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &PreprocessingProcessor{logger: log}
}

// Process 按载荷开关依次执行各整备步骤，步骤间响应取消
func (p *PreprocessingProcessor) Process(ctx context.Context, env *job.Envelope[job.PreprocessingData]) error {
	log := p.logger.With(
		zap.String("job_id", env.ID.String()),
		zap.String("file_id", env.FileID.String()),
	)
	data := env.Payload

	steps := []struct {
		enabled bool
		name    string
	}{
		{data.ValidateMetadata, "validate_metadata"},
		{data.RunOCR, "run_ocr"},
		{data.GenerateEmbeddings, "generate_embeddings"},
		{data.GenerateThumbnails, "generate_thumbnails"},
	}

	for _, step := range steps {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("预处理中断于 %s: %w", step.name, err)
		}
		if !step.enabled {
			continue
		}
		log.Debug("执行预处理步骤", zap.String("step", step.name))
	}
	return nil
}

// ProcessingProcessor 主处理阶段：指令与预定义任务
type ProcessingProcessor struct {
	logger *zap.Logger
}

// NewProcessingProcessor 创建主处理器
func NewProcessingProcessor(log *zap.Logger) *ProcessingProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &ProcessingProcessor{logger: log}
}

// Process 校验任务参数并按序记录执行计划
// 任何一个任务参数非法都使整个作业失败，按确认策略重投或进死信
func (p *ProcessingProcessor) Process(ctx context.Context, env *job.Envelope[job.ProcessingData]) error {
	log := p.logger.With(
		zap.String("job_id", env.ID.String()),
		zap.String("file_id", env.FileID.String()),
	)
	data := env.Payload

	if data.Prompt != "" {
		log.Debug("执行自由指令",
			zap.Int("prompt_length", len(data.Prompt)),
			zap.Bool("has_context", data.Context != nil),
		)
	}
	if len(data.AnnotationIDs) > 0 {
		log.Debug("纳入批注", zap.Int("annotation_count", len(data.AnnotationIDs)))
	}

	for i := range data.Tasks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("主处理中断于第 %d 个任务: %w", i+1, err)
		}
		task := &data.Tasks[i]
		if err := task.Validate(); err != nil {
			return fmt.Errorf("第 %d 个任务参数非法: %w", i+1, err)
		}
		log.Debug("执行预定义任务",
			zap.Int("index", i+1),
			zap.String("task", string(task.Task)),
		)
	}

	if len(data.ReferenceFileIDs) > 0 {
		log.Debug("引用风格参照", zap.Int("reference_count", len(data.ReferenceFileIDs)))
	}
	return nil
}

// PostprocessingProcessor 后处理阶段：下载前的成品加工
type PostprocessingProcessor struct {
	logger *zap.Logger
}

// NewPostprocessingProcessor 创建后处理器
func NewPostprocessingProcessor(log *zap.Logger) *PostprocessingProcessor {
	if log == nil {
		log = zap.NewNop()
	}
	return &PostprocessingProcessor{logger: log}
}

// Process 按载荷依次执行批注固化、格式转换、压缩与清理
func (p *PostprocessingProcessor) Process(ctx context.Context, env *job.Envelope[job.PostprocessingData]) error {
	log := p.logger.With(
		zap.String("job_id", env.ID.String()),
		zap.String("file_id", env.FileID.String()),
	)
	data := env.Payload

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("后处理中断: %w", err)
	}

	if data.FlattenAnnotations != nil && *data.FlattenAnnotations {
		log.Debug("固化批注入文档")
	}
	if data.TargetFormat != nil {
		log.Debug("转换导出格式", zap.String("target_format", *data.TargetFormat))
	}
	if data.CompressionLevel != nil {
		log.Debug("应用压缩", zap.Int("compression_level", *data.CompressionLevel))
	}
	if len(data.CleanupTasks) > 0 {
		log.Debug("清理处理残留", zap.Int("task_count", len(data.CleanupTasks)))
	}
	return nil
}
