package job

import "github.com/google/uuid"

// PreprocessingData 预处理阶段载荷：上传后按开关执行各步骤
type PreprocessingData struct {
	// ValidateMetadata 校验并修复文件元数据
	ValidateMetadata bool `json:"validate_metadata"`
	// RunOCR 对扫描件执行文字识别
	RunOCR bool `json:"run_ocr"`
	// GenerateEmbeddings 生成语义检索向量
	GenerateEmbeddings bool `json:"generate_embeddings"`
	// GenerateThumbnails 渲染首页缩略图
	GenerateThumbnails bool `json:"generate_thumbnails"`
}

// Stage 返回所属阶段
func (PreprocessingData) Stage() Stage { return StagePreprocessing }

// DefaultPreprocessing 上传流水线的默认预处理配置
func DefaultPreprocessing() PreprocessingData {
	return PreprocessingData{
		ValidateMetadata:   true,
		RunOCR:             true,
		GenerateEmbeddings: true,
		GenerateThumbnails: false,
	}
}

// ProcessingData 主处理阶段载荷：自由指令与预定义任务
type ProcessingData struct {
	// Prompt 用户的自由文本处理指令
	Prompt string `json:"prompt"`
	// Context 附加上下文说明
	Context *string `json:"context,omitempty"`
	// AnnotationIDs 需要纳入处理的批注
	AnnotationIDs []uuid.UUID `json:"annotation_ids,omitempty"`
	// Tasks 预定义处理任务，按序执行
	Tasks []PredefinedTask `json:"tasks,omitempty"`
	// ReferenceFileIDs 风格参照文件
	ReferenceFileIDs []uuid.UUID `json:"reference_file_ids,omitempty"`
}

// Stage 返回所属阶段
func (ProcessingData) Stage() Stage { return StageProcessing }

// PostprocessingData 后处理阶段载荷：下载前的成品加工
type PostprocessingData struct {
	// TargetFormat 目标导出格式，nil 保持原格式
	TargetFormat *string `json:"target_format,omitempty"`
	// CompressionLevel 压缩级别
	CompressionLevel *int `json:"compression_level,omitempty"`
	// FlattenAnnotations 将批注永久渲染入文档
	FlattenAnnotations *bool `json:"flatten_annotations,omitempty"`
	// CleanupTasks 处理残留物清理任务
	CleanupTasks []string `json:"cleanup_tasks,omitempty"`
}

// Stage 返回所属阶段
func (PostprocessingData) Stage() Stage { return StagePostprocessing }
