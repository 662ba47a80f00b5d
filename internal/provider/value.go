package provider

// DataShape 数据形状：后端接受的数据类别
type DataShape string

const (
	ShapeBlob      DataShape = "blob"      // 二进制对象
	ShapeRecord    DataShape = "record"    // 关系型记录
	ShapeEmbedding DataShape = "embedding" // 向量
)

// Value 流经工作流的数据值，封闭类型：
// 仅 BlobData、RecordData、EmbeddingData 三种实现
type Value interface {
	Shape() DataShape
	sealedValue()
}

// BlobData 二进制对象及其键与内容类型
type BlobData struct {
	Key         string            `json:"key"`
	ContentType string            `json:"content_type,omitempty"`
	Data        []byte            `json:"data"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Shape 返回数据形状
func (*BlobData) Shape() DataShape { return ShapeBlob }

func (*BlobData) sealedValue() {}

// RecordData 一行关系型记录，字段名到值的映射
type RecordData struct {
	Fields map[string]any `json:"fields"`
}

// Shape 返回数据形状
func (*RecordData) Shape() DataShape { return ShapeRecord }

func (*RecordData) sealedValue() {}

// EmbeddingData 一条向量及其原文与载荷
type EmbeddingData struct {
	ID       string         `json:"id"`
	Content  string         `json:"content,omitempty"`
	Vector   []float32      `json:"vector"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Shape 返回数据形状
func (*EmbeddingData) Shape() DataShape { return ShapeEmbedding }

func (*EmbeddingData) sealedValue() {}

// AsBlob 尝试取出二进制对象
func AsBlob(v Value) (*BlobData, bool) {
	b, ok := v.(*BlobData)
	return b, ok
}

// AsRecord 尝试取出关系型记录
func AsRecord(v Value) (*RecordData, bool) {
	r, ok := v.(*RecordData)
	return r, ok
}

// AsEmbedding 尝试取出向量
func AsEmbedding(v Value) (*EmbeddingData, bool) {
	e, ok := v.(*EmbeddingData)
	return e, ok
}
