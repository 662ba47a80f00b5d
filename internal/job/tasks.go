package job

import (
	"fmt"

	"github.com/google/uuid"
)

// TaskKind 预定义任务类别
type TaskKind string

const (
	TaskRedact       TaskKind = "redact"
	TaskSummarize    TaskKind = "summarize"
	TaskTranslate    TaskKind = "translate"
	TaskExtractInfo  TaskKind = "extract_info"
	TaskInsertInfo   TaskKind = "insert_info"
	TaskGenerateInfo TaskKind = "generate_info"
	TaskReformat     TaskKind = "reformat"
	TaskProofread    TaskKind = "proofread"
	TaskGenerateToc  TaskKind = "generate_toc"
	TaskSplit        TaskKind = "split"
	TaskMerge        TaskKind = "merge"
)

// PredefinedTask 预定义处理任务，Task 决定哪些变体字段有效
// 变体字段内联在同一对象中，与阶段载荷共用 snake_case 线上格式
type PredefinedTask struct {
	Task TaskKind `json:"task"`

	// redact: 需要涂黑的敏感信息模式（邮箱、电话、证件号等）
	Patterns []string `json:"patterns,omitempty"`
	// summarize: 摘要最大长度
	MaxLength *int `json:"max_length,omitempty"`
	// translate: 目标语言代码，如 "es"、"fr"、"de"
	TargetLanguage string `json:"target_language,omitempty"`
	// extract_info: 需要抽取的字段，如 "dates"、"names"、"amounts"
	Fields []string `json:"fields,omitempty"`
	// insert_info: 待插入的键值对
	Values []InsertValue `json:"values,omitempty"`
	// generate_info: 生成内容的类型
	InfoType GenerateInfoType `json:"info_type,omitempty"`
	// reformat: 目标排版风格
	Style *string `json:"style,omitempty"`
	// split: 拆分策略
	Strategy *SplitStrategy `json:"strategy,omitempty"`
	// merge: 待合并的文件与顺序
	FileIDs []uuid.UUID `json:"file_ids,omitempty"`
	Order   MergeOrder  `json:"order,omitempty"`
}

// InsertValue 插入文档的单个键值对
type InsertValue struct {
	// Field 字段或占位符名称
	Field string `json:"field"`
	// Value 插入的值
	Value string `json:"value"`
	// Location 位置提示，如 "header"、"footer"、"after:section1"
	Location *string `json:"location,omitempty"`
}

// GenerateInfoType 可生成的内容类型
type GenerateInfoType string

const (
	InfoExecutiveSummary GenerateInfoType = "executive_summary"
	InfoKeywords         GenerateInfoType = "keywords"
	InfoMetadata         GenerateInfoType = "metadata"
	InfoAbstract         GenerateInfoType = "abstract"
	InfoKeyTakeaways     GenerateInfoType = "key_takeaways"
	InfoActionItems      GenerateInfoType = "action_items"
	InfoFaq              GenerateInfoType = "faq"
)

// Valid 是否为已知的生成类型
func (t GenerateInfoType) Valid() bool {
	switch t {
	case InfoExecutiveSummary, InfoKeywords, InfoMetadata,
		InfoAbstract, InfoKeyTakeaways, InfoActionItems, InfoFaq:
		return true
	}
	return false
}

// SplitBy 文档拆分方式
type SplitBy string

const (
	SplitByPages    SplitBy = "pages"
	SplitBySections SplitBy = "sections"
	SplitByHeadings SplitBy = "headings"
	SplitBySize     SplitBy = "size"
	SplitByAtPages  SplitBy = "at_pages"
)

// SplitStrategy 拆分策略，By 决定哪些变体字段有效
type SplitStrategy struct {
	By SplitBy `json:"by"`

	// pages: 每个拆分文件的页数
	PagesPerFile int `json:"pages_per_file,omitempty"`
	// headings: 作为拆分点的标题层级（1-6）
	Level int `json:"level,omitempty"`
	// size: 每个拆分文件的最大字节数
	MaxBytes int64 `json:"max_bytes,omitempty"`
	// at_pages: 指定的拆分页码
	PageNumbers []int `json:"page_numbers,omitempty"`
}

func (s *SplitStrategy) validate() error {
	switch s.By {
	case SplitByPages:
		if s.PagesPerFile <= 0 {
			return fmt.Errorf("按页拆分需要正的 pages_per_file")
		}
	case SplitByHeadings:
		if s.Level < 1 || s.Level > 6 {
			return fmt.Errorf("按标题拆分的层级必须在 1 到 6 之间")
		}
	case SplitBySize:
		if s.MaxBytes <= 0 {
			return fmt.Errorf("按大小拆分需要正的 max_bytes")
		}
	case SplitByAtPages:
		if len(s.PageNumbers) == 0 {
			return fmt.Errorf("按页码拆分需要至少一个页码")
		}
	case SplitBySections:
	default:
		return fmt.Errorf("未知的拆分方式: %q", s.By)
	}
	return nil
}

// MergeOrder 合并时的文件排序
type MergeOrder string

const (
	// MergeAsProvided 按 file_ids 给出的顺序
	MergeAsProvided MergeOrder = "as_provided"
	// MergeAlphabetical 按文件名字母序
	MergeAlphabetical MergeOrder = "alphabetical"
	// MergeByDate 按创建时间
	MergeByDate MergeOrder = "by_date"
	// MergeBySize 按文件大小
	MergeBySize MergeOrder = "by_size"
)

// Validate 检查任务类别与变体字段是否一致
func (t *PredefinedTask) Validate() error {
	switch t.Task {
	case TaskRedact:
		if len(t.Patterns) == 0 {
			return fmt.Errorf("涂黑任务需要至少一个模式")
		}
	case TaskTranslate:
		if t.TargetLanguage == "" {
			return fmt.Errorf("翻译任务需要目标语言")
		}
	case TaskInsertInfo:
		if len(t.Values) == 0 {
			return fmt.Errorf("插入任务需要至少一个键值对")
		}
	case TaskGenerateInfo:
		if !t.InfoType.Valid() {
			return fmt.Errorf("未知的生成内容类型: %q", t.InfoType)
		}
	case TaskSplit:
		if t.Strategy == nil {
			return fmt.Errorf("拆分任务需要拆分策略")
		}
		if err := t.Strategy.validate(); err != nil {
			return err
		}
	case TaskMerge:
		if len(t.FileIDs) == 0 {
			return fmt.Errorf("合并任务需要至少一个文件")
		}
	case TaskSummarize, TaskExtractInfo, TaskReformat, TaskProofread, TaskGenerateToc:
	default:
		return fmt.Errorf("未知的任务类别: %q", t.Task)
	}
	return nil
}

// NewRedactTask 创建涂黑任务
func NewRedactTask(patterns ...string) PredefinedTask {
	return PredefinedTask{Task: TaskRedact, Patterns: patterns}
}

// NewSummarizeTask 创建摘要任务，maxLength 为 0 时不限长度
func NewSummarizeTask(maxLength int) PredefinedTask {
	t := PredefinedTask{Task: TaskSummarize}
	if maxLength > 0 {
		t.MaxLength = &maxLength
	}
	return t
}

// NewTranslateTask 创建翻译任务
func NewTranslateTask(targetLanguage string) PredefinedTask {
	return PredefinedTask{Task: TaskTranslate, TargetLanguage: targetLanguage}
}

// NewSplitTask 创建拆分任务
func NewSplitTask(strategy SplitStrategy) PredefinedTask {
	return PredefinedTask{Task: TaskSplit, Strategy: &strategy}
}

// NewMergeTask 创建合并任务
func NewMergeTask(order MergeOrder, fileIDs ...uuid.UUID) PredefinedTask {
	return PredefinedTask{Task: TaskMerge, FileIDs: fileIDs, Order: order}
}
