package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

const defaultVectorDimensions = 1536

// qdrantWriter 基于 Qdrant HTTP API 的向量写入器
type qdrantWriter struct {
	client     *http.Client
	baseURL    string
	apiKey     string
	collection string
	dimensions int
	ensureOnce sync.Once
	ensureErr  error
}

func newQdrantWriter(params *QdrantParams, creds *QdrantCredentials) (*qdrantWriter, error) {
	baseURL := strings.TrimSuffix(strings.TrimSpace(creds.URL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("qdrant url 不能为空")
	}
	if params.Collection == "" {
		return nil, fmt.Errorf("qdrant collection 不能为空")
	}

	dimensions := params.Dimensions
	if dimensions <= 0 {
		dimensions = defaultVectorDimensions
	}

	return &qdrantWriter{
		client:     &http.Client{Timeout: 30 * time.Second},
		baseURL:    baseURL,
		apiKey:     creds.APIKey,
		collection: params.Collection,
		dimensions: dimensions,
	}, nil
}

// WriteEmbeddings 批量写入向量，首次写入前确保集合存在
func (w *qdrantWriter) WriteEmbeddings(ctx context.Context, embeddings []*EmbeddingData) error {
	if len(embeddings) == 0 {
		return nil
	}
	if err := w.ensureCollection(ctx); err != nil {
		return err
	}

	points := make([]qdrantPoint, 0, len(embeddings))
	for _, e := range embeddings {
		if len(e.Vector) != w.dimensions {
			return fmt.Errorf("向量维度不匹配: 期望 %d 实际 %d", w.dimensions, len(e.Vector))
		}
		payload := make(map[string]any, len(e.Metadata)+1)
		for k, v := range e.Metadata {
			payload[k] = v
		}
		if e.Content != "" {
			payload["content"] = e.Content
		}
		points = append(points, qdrantPoint{ID: e.ID, Vector: e.Vector, Payload: payload})
	}

	var resp qdrantOperationResponse
	path := fmt.Sprintf("/collections/%s/points?wait=true", url.PathEscape(w.collection))
	if err := w.doRequest(ctx, http.MethodPut, path, qdrantUpsertRequest{Points: points}, &resp); err != nil {
		return err
	}
	if resp.Status != "ok" {
		return fmt.Errorf("qdrant upsert 失败: %s", resp.Error)
	}
	return nil
}

func (w *qdrantWriter) ensureCollection(ctx context.Context) error {
	w.ensureOnce.Do(func() {
		collectionPath := fmt.Sprintf("/collections/%s", url.PathEscape(w.collection))

		// 先探测集合是否已存在
		var probe qdrantOperationResponse
		err := w.doRequest(ctx, http.MethodGet, collectionPath, nil, &probe)
		if err == nil && probe.Status == "ok" {
			return
		}

		createReq := qdrantCreateCollectionRequest{
			Vectors: qdrantVectorConfig{Size: w.dimensions, Distance: "Cosine"},
		}
		var resp qdrantOperationResponse
		w.ensureErr = w.doRequest(ctx, http.MethodPut, collectionPath, createReq, &resp)
		if w.ensureErr == nil && resp.Status != "ok" {
			w.ensureErr = fmt.Errorf("创建 qdrant 集合失败: %s", resp.Error)
		}
	})
	return w.ensureErr
}

func (w *qdrantWriter) doRequest(ctx context.Context, method, path string, payload any, dest any) error {
	var bodyReader *bytes.Reader
	if payload != nil {
		buf, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("序列化请求失败: %w", err)
		}
		bodyReader = bytes.NewReader(buf)
	} else {
		bodyReader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, w.baseURL+path, bodyReader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("api-key", w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var errBody map[string]any
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		return fmt.Errorf("qdrant API 错误: %v (%d)", errBody["status"], resp.StatusCode)
	}

	if dest == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(dest)
}

// --- Qdrant API payloads ---

type qdrantVectorConfig struct {
	Size     int    `json:"size"`
	Distance string `json:"distance"`
}

type qdrantCreateCollectionRequest struct {
	Vectors qdrantVectorConfig `json:"vectors"`
}

type qdrantPoint struct {
	ID      string         `json:"id"`
	Vector  []float32      `json:"vector"`
	Payload map[string]any `json:"payload,omitempty"`
}

type qdrantUpsertRequest struct {
	Points []qdrantPoint `json:"points"`
}

type qdrantOperationResponse struct {
	Status string `json:"status"`
	Error  string `json:"error"`
}
