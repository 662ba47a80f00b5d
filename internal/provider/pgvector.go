package provider

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// pgvectorWriter 基于 Postgres pgvector 扩展的向量写入器
type pgvectorWriter struct {
	db         *gorm.DB
	table      string
	dimensions int
}

func newPgVectorWriter(ctx context.Context, params *PgVectorParams, creds *PgVectorCredentials) (*pgvectorWriter, error) {
	if params.Table == "" {
		return nil, fmt.Errorf("pgvector table 不能为空")
	}
	if creds.ConnectionString == "" {
		return nil, fmt.Errorf("pgvector connection_string 不能为空")
	}

	dimensions := params.Dimensions
	if dimensions <= 0 {
		dimensions = defaultVectorDimensions
	}

	db, err := gorm.Open(postgres.Open(creds.ConnectionString), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("打开 pgvector 连接失败: %w", err)
	}

	w := &pgvectorWriter{db: db, table: params.Table, dimensions: dimensions}
	if err := w.ensureTable(ctx); err != nil {
		return nil, err
	}
	return w, nil
}

func (w *pgvectorWriter) ensureTable(ctx context.Context) error {
	db := w.db.WithContext(ctx)
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return fmt.Errorf("启用 pgvector 扩展失败: %w", err)
	}

	createTable := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (
			id text PRIMARY KEY,
			content text,
			embedding vector(%d),
			metadata jsonb
		)`, w.table, w.dimensions)
	if err := db.Exec(createTable).Error; err != nil {
		return fmt.Errorf("创建 pgvector 表失败: %w", err)
	}
	return nil
}

// WriteEmbeddings 批量插入向量，主键冲突时覆盖旧值
func (w *pgvectorWriter) WriteEmbeddings(ctx context.Context, embeddings []*EmbeddingData) error {
	if len(embeddings) == 0 {
		return nil
	}

	insert := fmt.Sprintf(
		`INSERT INTO %s (id, content, embedding, metadata) VALUES (?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`, w.table)

	return w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, e := range embeddings {
			if len(e.Vector) != w.dimensions {
				return fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", w.dimensions, len(e.Vector))
			}

			var metadata []byte
			if len(e.Metadata) > 0 {
				buf, err := json.Marshal(e.Metadata)
				if err != nil {
					return fmt.Errorf("序列化向量载荷失败: %w", err)
				}
				metadata = buf
			}

			if err := tx.Exec(insert, e.ID, e.Content, pgvector.NewVector(e.Vector), metadata).Error; err != nil {
				return fmt.Errorf("插入向量失败: %w", err)
			}
		}
		return nil
	})
}
