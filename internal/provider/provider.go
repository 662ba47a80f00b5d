package provider

import (
	"context"
	"errors"
	"fmt"

	"nvisy/internal/metrics"

	"go.uber.org/zap"
)

// MismatchError 参数与凭据类别不一致
type MismatchError struct {
	Expected BackendKind // 参数声明的类别
	Got      BackendKind // 凭据实际的类别
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("凭据类别不匹配: 期望 '%s'，实际 '%s'", e.Expected, e.Got)
}

// AsMismatchError 提取类别不匹配错误
func AsMismatchError(err error) (*MismatchError, bool) {
	var me *MismatchError
	if errors.As(err, &me) {
		return me, true
	}
	return nil, false
}

// 形状专属的写入接口，每个后端实现其中恰好一个
type blobWriter interface {
	WriteBlobs(ctx context.Context, blobs []*BlobData) error
}

type recordWriter interface {
	WriteRecords(ctx context.Context, records []*RecordData) error
}

type embeddingWriter interface {
	WriteEmbeddings(ctx context.Context, embeddings []*EmbeddingData) error
}

// OutputProvider 就绪的输出提供者：已配对参数与凭据，可按批写入
type OutputProvider struct {
	kind      BackendKind
	blob      blobWriter
	record    recordWriter
	embedding embeddingWriter
	logger    *zap.Logger
}

// WriteReceipt 一次批量写入的结果
type WriteReceipt struct {
	Written int // 实际写入的值数量
	Dropped int // 因形状不符被过滤的值数量
}

// IntoProvider 按类别配对参数与凭据并构建输出提供者
// 任何类别不一致的组合都会失败，错误信息同时包含两侧的类别字符串；
// 构建过程可能发起 I/O（建立连接池、探测集合等）
func IntoProvider(ctx context.Context, params *OutputParams, creds *Credentials, logger *zap.Logger) (*OutputProvider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	if params.Kind != creds.Kind {
		return nil, &MismatchError{Expected: params.Kind, Got: creds.Kind}
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}

	p := &OutputProvider{kind: params.Kind, logger: logger}
	var err error

	switch params.Kind {
	case KindS3:
		p.blob, err = newS3Writer(params.S3, creds.S3)
	case KindGCS:
		p.blob, err = newGCSWriter(ctx, params.GCS, creds.GCS)
	case KindAzblob:
		p.blob, err = newAzblobWriter(params.Azblob, creds.Azblob)
	case KindPostgres:
		p.record, err = newPostgresWriter(params.Postgres, creds.Postgres)
	case KindMysql:
		p.record, err = newMysqlWriter(params.Mysql, creds.Mysql)
	case KindQdrant:
		p.embedding, err = newQdrantWriter(params.Qdrant, creds.Qdrant)
	case KindPinecone:
		p.embedding, err = newPineconeWriter(params.Pinecone, creds.Pinecone)
	case KindMilvus:
		p.embedding, err = newMilvusWriter(params.Milvus, creds.Milvus)
	case KindPgVector:
		p.embedding, err = newPgVectorWriter(ctx, params.PgVector, creds.PgVector)
	default:
		return nil, fmt.Errorf("未知的输出后端类别: %s", params.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("构建 %s 输出提供者失败: %w", params.Kind, err)
	}
	return p, nil
}

// Kind 后端类别
func (p *OutputProvider) Kind() BackendKind { return p.kind }

// InputType 该提供者接受的数据形状，与参数侧共享同一张映射表
func (p *OutputProvider) InputType() DataShape {
	return shapeByKind[p.kind]
}

// Write 批量写入。与声明形状不符的值被过滤并计数，
// 不会导致整批失败；计数通过回执与指标上报
func (p *OutputProvider) Write(ctx context.Context, values []Value) (*WriteReceipt, error) {
	if len(values) == 0 {
		return &WriteReceipt{}, nil
	}

	receipt := &WriteReceipt{}
	var err error

	switch p.InputType() {
	case ShapeBlob:
		blobs := make([]*BlobData, 0, len(values))
		for _, v := range values {
			if b, ok := AsBlob(v); ok {
				blobs = append(blobs, b)
			} else {
				receipt.Dropped++
			}
		}
		if len(blobs) > 0 {
			err = p.blob.WriteBlobs(ctx, blobs)
		}
		receipt.Written = len(blobs)

	case ShapeRecord:
		records := make([]*RecordData, 0, len(values))
		for _, v := range values {
			if r, ok := AsRecord(v); ok {
				records = append(records, r)
			} else {
				receipt.Dropped++
			}
		}
		if len(records) > 0 {
			err = p.record.WriteRecords(ctx, records)
		}
		receipt.Written = len(records)

	case ShapeEmbedding:
		embeddings := make([]*EmbeddingData, 0, len(values))
		for _, v := range values {
			if e, ok := AsEmbedding(v); ok {
				embeddings = append(embeddings, e)
			} else {
				receipt.Dropped++
			}
		}
		if len(embeddings) > 0 {
			err = p.embedding.WriteEmbeddings(ctx, embeddings)
		}
		receipt.Written = len(embeddings)
	}

	if err != nil {
		return nil, fmt.Errorf("%s 批量写入失败: %w", p.kind, err)
	}

	if receipt.Dropped > 0 {
		p.logger.Warn("部分值因形状不符被丢弃",
			zap.String("backend", string(p.kind)),
			zap.String("expected_shape", string(p.InputType())),
			zap.Int("dropped", receipt.Dropped),
			zap.Int("written", receipt.Written),
		)
		metrics.OutputDroppedTotal.WithLabelValues(string(p.kind)).Add(float64(receipt.Dropped))
	}
	return receipt, nil
}
