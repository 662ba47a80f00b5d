package provider

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

const gcsUploadBase = "https://storage.googleapis.com/upload/storage/v1"

// gcsWriter Google Cloud Storage 写入器，使用 JSON 上传 API
// 令牌由服务账号 JWT 换取并自动续期
type gcsWriter struct {
	client *http.Client
	bucket string
	prefix string
}

func newGCSWriter(ctx context.Context, params *GCSParams, creds *GCSCredentials) (*gcsWriter, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("gcs bucket 不能为空")
	}
	if creds.CredentialsJSON == "" {
		return nil, fmt.Errorf("gcs credentials_json 不能为空")
	}

	conf, err := google.JWTConfigFromJSON(
		[]byte(creds.CredentialsJSON),
		"https://www.googleapis.com/auth/devstorage.read_write",
	)
	if err != nil {
		return nil, fmt.Errorf("解析 GCS 服务账号凭据失败: %w", err)
	}

	client := oauth2.NewClient(ctx, conf.TokenSource(ctx))
	client.Timeout = 60 * time.Second

	return &gcsWriter{client: client, bucket: params.Bucket, prefix: params.Prefix}, nil
}

// WriteBlobs 逐个上传对象
func (w *gcsWriter) WriteBlobs(ctx context.Context, blobs []*BlobData) error {
	for _, blob := range blobs {
		if blob.Key == "" {
			return fmt.Errorf("对象键不能为空")
		}
		if err := w.upload(ctx, blob); err != nil {
			return err
		}
	}
	return nil
}

func (w *gcsWriter) upload(ctx context.Context, blob *BlobData) error {
	key := joinObjectKey(w.prefix, blob.Key)
	uploadURL := fmt.Sprintf("%s/b/%s/o?uploadType=media&name=%s",
		gcsUploadBase, url.PathEscape(w.bucket), url.QueryEscape(key))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, bytes.NewReader(blob.Data))
	if err != nil {
		return err
	}
	contentType := blob.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("gcs 上传失败: %s (%d)", strings.TrimSpace(string(body)), resp.StatusCode)
	}
	return nil
}
