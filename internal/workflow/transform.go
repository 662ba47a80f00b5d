package workflow

// TransformKind 变换类别
type TransformKind string

const (
	TransformChunk     TransformKind = "chunk"     // 文本分块
	TransformEmbed     TransformKind = "embed"     // 向量化
	TransformPartition TransformKind = "partition" // 结构化拆分
	TransformExtract   TransformKind = "extract"   // 信息抽取
	TransformConvert   TransformKind = "convert"   // 格式转换
)

// TransformDef 变换节点定义，Type 决定哪个配置字段被填充
// 具体执行由执行层注册的变换器完成，定义层只描述意图与参数
type TransformDef struct {
	Type      TransformKind    `json:"type"`
	Chunk     *ChunkConfig     `json:"chunk,omitempty"`
	Embed     *EmbedConfig     `json:"embed,omitempty"`
	Partition *PartitionConfig `json:"partition,omitempty"`
	Extract   *ExtractConfig   `json:"extract,omitempty"`
	Convert   *ConvertConfig   `json:"convert,omitempty"`
}

// ChunkStrategy 分块策略
type ChunkStrategy string

const (
	ChunkByCharacter ChunkStrategy = "character"
	ChunkBySentence  ChunkStrategy = "sentence"
	ChunkByParagraph ChunkStrategy = "paragraph"
	ChunkByPage      ChunkStrategy = "page"
	ChunkRecursive   ChunkStrategy = "recursive"
)

// ChunkConfig 分块配置
type ChunkConfig struct {
	Strategy  ChunkStrategy `json:"strategy"`
	MaxSize   int           `json:"max_size,omitempty"`  // 单块最大字符数
	Overlap   int           `json:"overlap,omitempty"`   // 相邻块重叠字符数
	Separator string        `json:"separator,omitempty"` // character 策略的切分符
	Trim      bool          `json:"trim,omitempty"`      // 是否去除块首尾空白
}

// EmbedConfig 向量化配置，推理由外部嵌入服务承担
type EmbedConfig struct {
	Provider   string       `json:"provider"` // openai / ollama / cohere / gemini
	Model      string       `json:"model,omitempty"`
	Dimensions int          `json:"dimensions,omitempty"`
	BatchSize  int          `json:"batch_size,omitempty"`
	Chunking   *ChunkConfig `json:"chunking,omitempty"` // 可选的前置分块
}

// PartitionConfig 结构化拆分配置
type PartitionConfig struct {
	Strategy string `json:"strategy,omitempty"` // auto / fast / hi_res
}

// ExtractConfig 信息抽取配置，字段名列表交由下游抽取服务解释
type ExtractConfig struct {
	Tasks []string `json:"tasks"`
}

// ConvertConfig 格式转换配置
type ConvertConfig struct {
	Format string `json:"format"` // 目标格式，如 pdf / markdown / text
}
