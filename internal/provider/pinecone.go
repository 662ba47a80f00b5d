package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// pineconeWriter 基于 Pinecone 数据面 API 的向量写入器
// IndexHost 为控制面 describe_index 返回的索引地址
type pineconeWriter struct {
	client    *http.Client
	indexHost string
	apiKey    string
	namespace string
}

func newPineconeWriter(params *PineconeParams, creds *PineconeCredentials) (*pineconeWriter, error) {
	if creds.APIKey == "" {
		return nil, fmt.Errorf("pinecone api_key 不能为空")
	}
	host := strings.TrimSuffix(strings.TrimSpace(creds.IndexHost), "/")
	if host == "" {
		return nil, fmt.Errorf("pinecone index_host 不能为空")
	}
	if !strings.HasPrefix(host, "http") {
		host = "https://" + host
	}

	return &pineconeWriter{
		client:    &http.Client{Timeout: 30 * time.Second},
		indexHost: host,
		apiKey:    creds.APIKey,
		namespace: params.Namespace,
	}, nil
}

// WriteEmbeddings 批量 upsert 向量到索引
func (w *pineconeWriter) WriteEmbeddings(ctx context.Context, embeddings []*EmbeddingData) error {
	if len(embeddings) == 0 {
		return nil
	}

	vectors := make([]pineconeVector, 0, len(embeddings))
	for _, e := range embeddings {
		metadata := make(map[string]any, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			metadata[k] = v
		}
		if e.Content != "" {
			metadata["content"] = e.Content
		}
		vectors = append(vectors, pineconeVector{ID: e.ID, Values: e.Vector, Metadata: metadata})
	}

	reqBody := pineconeUpsertRequest{Vectors: vectors, Namespace: w.namespace}
	buf, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.indexHost+"/vectors/upsert", bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Api-Key", w.apiKey)

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("pinecone upsert 失败: %s (%d)", strings.TrimSpace(string(body)), resp.StatusCode)
	}
	return nil
}

// --- Pinecone API payloads ---

type pineconeVector struct {
	ID       string         `json:"id"`
	Values   []float32      `json:"values"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

type pineconeUpsertRequest struct {
	Vectors   []pineconeVector `json:"vectors"`
	Namespace string           `json:"namespace,omitempty"`
}
