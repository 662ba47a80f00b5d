package provider

import (
	"fmt"

	"github.com/google/uuid"
)

// BackendKind 输出后端类别
type BackendKind string

const (
	KindS3       BackendKind = "s3"
	KindGCS      BackendKind = "gcs"
	KindAzblob   BackendKind = "azblob"
	KindPostgres BackendKind = "postgres"
	KindMysql    BackendKind = "mysql"
	KindQdrant   BackendKind = "qdrant"
	KindPinecone BackendKind = "pinecone"
	KindMilvus   BackendKind = "milvus"
	KindPgVector BackendKind = "pgvector"
)

// shapeByKind 后端类别到数据形状的唯一映射
// 参数侧与提供者侧共享此表，两侧的声明在结构上保持一致
var shapeByKind = map[BackendKind]DataShape{
	KindS3:       ShapeBlob,
	KindGCS:      ShapeBlob,
	KindAzblob:   ShapeBlob,
	KindPostgres: ShapeRecord,
	KindMysql:    ShapeRecord,
	KindQdrant:   ShapeEmbedding,
	KindPinecone: ShapeEmbedding,
	KindMilvus:   ShapeEmbedding,
	KindPgVector: ShapeEmbedding,
}

// ShapeOf 查询后端类别接受的数据形状
func ShapeOf(kind BackendKind) (DataShape, bool) {
	shape, ok := shapeByKind[kind]
	return shape, ok
}

// OutputParams 输出节点的路由参数，Kind 决定哪个变体字段被填充
// 凭据单独存储，仅以 CredentialsID 引用，在构建提供者时合并
type OutputParams struct {
	Kind          BackendKind `json:"kind"`
	CredentialsID uuid.UUID   `json:"credentials_id"`

	S3       *S3Params       `json:"s3,omitempty"`
	GCS      *GCSParams      `json:"gcs,omitempty"`
	Azblob   *AzblobParams   `json:"azblob,omitempty"`
	Postgres *PostgresParams `json:"postgres,omitempty"`
	Mysql    *MysqlParams    `json:"mysql,omitempty"`
	Qdrant   *QdrantParams   `json:"qdrant,omitempty"`
	Pinecone *PineconeParams `json:"pinecone,omitempty"`
	Milvus   *MilvusParams   `json:"milvus,omitempty"`
	PgVector *PgVectorParams `json:"pgvector,omitempty"`
}

// S3Params S3 对象存储参数
type S3Params struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix,omitempty"`
}

// GCSParams Google Cloud Storage 参数
type GCSParams struct {
	Bucket string `json:"bucket"`
	Prefix string `json:"prefix,omitempty"`
}

// AzblobParams Azure Blob Storage 参数
type AzblobParams struct {
	Container string `json:"container"`
	Prefix    string `json:"prefix,omitempty"`
}

// PostgresParams Postgres 记录表参数
type PostgresParams struct {
	Table  string `json:"table"`
	Schema string `json:"schema,omitempty"`
}

// MysqlParams MySQL 记录表参数
type MysqlParams struct {
	Table    string `json:"table"`
	Database string `json:"database,omitempty"`
}

// QdrantParams Qdrant 向量集合参数
type QdrantParams struct {
	Collection string `json:"collection"`
	Dimensions int    `json:"dimensions"`
}

// PineconeParams Pinecone 索引参数
type PineconeParams struct {
	Index     string `json:"index"`
	Namespace string `json:"namespace,omitempty"`
}

// MilvusParams Milvus 集合参数
type MilvusParams struct {
	Collection string `json:"collection"`
	Dimensions int    `json:"dimensions"`
}

// PgVectorParams pgvector 表参数
type PgVectorParams struct {
	Table      string `json:"table"`
	Dimensions int    `json:"dimensions"`
}

// OutputType 该参数声明的目标后端接受的数据形状
func (p *OutputParams) OutputType() DataShape {
	return shapeByKind[p.Kind]
}

// Validate 检查类别与变体字段是否一致
func (p *OutputParams) Validate() error {
	var present bool
	switch p.Kind {
	case KindS3:
		present = p.S3 != nil
	case KindGCS:
		present = p.GCS != nil
	case KindAzblob:
		present = p.Azblob != nil
	case KindPostgres:
		present = p.Postgres != nil
	case KindMysql:
		present = p.Mysql != nil
	case KindQdrant:
		present = p.Qdrant != nil
	case KindPinecone:
		present = p.Pinecone != nil
	case KindMilvus:
		present = p.Milvus != nil
	case KindPgVector:
		present = p.PgVector != nil
	default:
		return fmt.Errorf("未知的输出后端类别: %s", p.Kind)
	}
	if !present {
		return fmt.Errorf("输出参数缺少 %s 变体字段", p.Kind)
	}
	return nil
}
