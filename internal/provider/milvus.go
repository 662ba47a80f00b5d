package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"
)

// milvusWriter 基于 Milvus RESTful v2 API 的向量写入器
type milvusWriter struct {
	client     *http.Client
	baseURL    string
	token      string
	collection string
	dimensions int
	ensureOnce sync.Once
	ensureErr  error
}

func newMilvusWriter(params *MilvusParams, creds *MilvusCredentials) (*milvusWriter, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(creds.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("milvus base_url 不能为空")
	}
	if params.Collection == "" {
		return nil, fmt.Errorf("milvus collection 不能为空")
	}

	dimensions := params.Dimensions
	if dimensions <= 0 {
		dimensions = defaultVectorDimensions
	}

	return &milvusWriter{
		client:     &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		token:      creds.Token,
		collection: params.Collection,
		dimensions: dimensions,
	}, nil
}

// WriteEmbeddings 批量插入向量，首次写入前确保集合存在
func (w *milvusWriter) WriteEmbeddings(ctx context.Context, embeddings []*EmbeddingData) error {
	if len(embeddings) == 0 {
		return nil
	}
	if err := w.ensureCollection(ctx); err != nil {
		return err
	}

	rows := make([]map[string]any, 0, len(embeddings))
	for _, e := range embeddings {
		if len(e.Vector) != w.dimensions {
			return fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", w.dimensions, len(e.Vector))
		}
		row := map[string]any{
			"id":     e.ID,
			"vector": e.Vector,
		}
		if e.Content != "" {
			row["content"] = e.Content
		}
		rows = append(rows, row)
	}

	req := milvusInsertRequest{CollectionName: w.collection, Data: rows}
	var resp milvusResponse
	if err := w.doRequest(ctx, "/v2/vectordb/entities/insert", req, &resp); err != nil {
		return err
	}
	if resp.Code != 0 {
		return fmt.Errorf("milvus insert 失败: %s (code=%d)", resp.Message, resp.Code)
	}
	return nil
}

func (w *milvusWriter) ensureCollection(ctx context.Context) error {
	w.ensureOnce.Do(func() {
		// 快速建表接口，集合已存在时幂等返回成功
		req := milvusCreateCollectionRequest{
			CollectionName: w.collection,
			Dimension:      w.dimensions,
		}
		var resp milvusResponse
		w.ensureErr = w.doRequest(ctx, "/v2/vectordb/collections/create", req, &resp)
		if w.ensureErr == nil && resp.Code != 0 {
			w.ensureErr = fmt.Errorf("创建 milvus 集合失败: %s (code=%d)", resp.Message, resp.Code)
		}
	})
	return w.ensureErr
}

func (w *milvusWriter) doRequest(ctx context.Context, path string, payload any, dest any) error {
	buf, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("序列化请求失败: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL+path, bytes.NewReader(buf))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.token != "" {
		req.Header.Set("Authorization", "Bearer "+w.token)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("milvus API 错误: %v (%d)", errBody["message"], resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// --- Milvus API payloads ---

type milvusCreateCollectionRequest struct {
	CollectionName string `json:"collectionName"`
	Dimension      int    `json:"dimension"`
}

type milvusInsertRequest struct {
	CollectionName string           `json:"collectionName"`
	Data           []map[string]any `json:"data"`
}

type milvusResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}
