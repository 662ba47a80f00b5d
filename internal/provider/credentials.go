package provider

import "fmt"

// Credentials 后端访问凭据，Kind 决定哪个变体字段被填充
// 与 OutputParams 平行的标签联合，二者在构建提供者时按类别配对
type Credentials struct {
	Kind BackendKind `json:"kind"`

	S3       *S3Credentials       `json:"s3,omitempty"`
	GCS      *GCSCredentials      `json:"gcs,omitempty"`
	Azblob   *AzblobCredentials   `json:"azblob,omitempty"`
	Postgres *PostgresCredentials `json:"postgres,omitempty"`
	Mysql    *MysqlCredentials    `json:"mysql,omitempty"`
	Qdrant   *QdrantCredentials   `json:"qdrant,omitempty"`
	Pinecone *PineconeCredentials `json:"pinecone,omitempty"`
	Milvus   *MilvusCredentials   `json:"milvus,omitempty"`
	PgVector *PgVectorCredentials `json:"pgvector,omitempty"`
}

// S3Credentials S3 访问凭据，Endpoint 为空时使用官方地址
type S3Credentials struct {
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
	Endpoint        string `json:"endpoint,omitempty"`
}

// GCSCredentials GCS 服务账号凭据（完整 JSON）
type GCSCredentials struct {
	CredentialsJSON string `json:"credentials_json"`
}

// AzblobCredentials Azure Blob 凭据，AccountKey 与 SASToken 二选一
type AzblobCredentials struct {
	AccountName string `json:"account_name"`
	AccountKey  string `json:"account_key,omitempty"`
	SASToken    string `json:"sas_token,omitempty"`
}

// PostgresCredentials Postgres 连接凭据
type PostgresCredentials struct {
	ConnectionString string `json:"connection_string"`
}

// MysqlCredentials MySQL 连接凭据
type MysqlCredentials struct {
	ConnectionString string `json:"connection_string"`
}

// QdrantCredentials Qdrant 访问凭据
type QdrantCredentials struct {
	URL    string `json:"url"`
	APIKey string `json:"api_key,omitempty"`
}

// PineconeCredentials Pinecone 访问凭据，IndexHost 为索引的数据面地址
type PineconeCredentials struct {
	APIKey    string `json:"api_key"`
	IndexHost string `json:"index_host"`
}

// MilvusCredentials Milvus 访问凭据
type MilvusCredentials struct {
	BaseURL string `json:"base_url"`
	Token   string `json:"token,omitempty"`
}

// PgVectorCredentials pgvector 连接凭据
type PgVectorCredentials struct {
	ConnectionString string `json:"connection_string"`
}

// Validate 检查类别与变体字段是否一致
func (c *Credentials) Validate() error {
	var present bool
	switch c.Kind {
	case KindS3:
		present = c.S3 != nil
	case KindGCS:
		present = c.GCS != nil
	case KindAzblob:
		present = c.Azblob != nil
	case KindPostgres:
		present = c.Postgres != nil
	case KindMysql:
		present = c.Mysql != nil
	case KindQdrant:
		present = c.Qdrant != nil
	case KindPinecone:
		present = c.Pinecone != nil
	case KindMilvus:
		present = c.Milvus != nil
	case KindPgVector:
		present = c.PgVector != nil
	default:
		return fmt.Errorf("未知的凭据类别: %s", c.Kind)
	}
	if !present {
		return fmt.Errorf("凭据缺少 %s 变体字段", c.Kind)
	}
	return nil
}
