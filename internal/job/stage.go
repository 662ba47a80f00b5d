package job

import "fmt"

// Stage 文档处理流水线阶段
type Stage string

const (
	// StagePreprocessing 上传后的预处理：校验、OCR、向量化、缩略图
	StagePreprocessing Stage = "preprocessing"
	// StageProcessing 编辑请求触发的主处理：VLM 变换与预定义任务
	StageProcessing Stage = "processing"
	// StagePostprocessing 下载前的后处理：格式转换、压缩、清理
	StagePostprocessing Stage = "postprocessing"
)

// Stages 按流水线顺序返回全部阶段
func Stages() []Stage {
	return []Stage{StagePreprocessing, StageProcessing, StagePostprocessing}
}

// Valid 是否为已知阶段
func (s Stage) Valid() bool {
	switch s {
	case StagePreprocessing, StageProcessing, StagePostprocessing:
		return true
	}
	return false
}

func (s Stage) String() string { return string(s) }

// ParseStage 解析阶段名
func ParseStage(s string) (Stage, error) {
	stage := Stage(s)
	if !stage.Valid() {
		return "", fmt.Errorf("未知的处理阶段: %q", s)
	}
	return stage, nil
}
