package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const unsignedPayload = "UNSIGNED-PAYLOAD"

// s3Writer S3 兼容对象存储写入器，使用 SigV4 签名的 REST API
// Endpoint 为空时指向官方地址，否则支持 MinIO 等兼容实现
type s3Writer struct {
	client    *http.Client
	endpoint  string
	bucket    string
	prefix    string
	region    string
	accessKey string
	secretKey string
}

func newS3Writer(params *S3Params, creds *S3Credentials) (*s3Writer, error) {
	if params.Bucket == "" {
		return nil, fmt.Errorf("s3 bucket 不能为空")
	}
	if creds.Region == "" {
		return nil, fmt.Errorf("s3 region 不能为空")
	}
	if creds.AccessKeyID == "" || creds.SecretAccessKey == "" {
		return nil, fmt.Errorf("s3 访问密钥不能为空")
	}

	endpoint := strings.TrimSuffix(strings.TrimSpace(creds.Endpoint), "/")
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://s3.%s.amazonaws.com", creds.Region)
	}

	return &s3Writer{
		client:    &http.Client{Timeout: 60 * time.Second},
		endpoint:  endpoint,
		bucket:    params.Bucket,
		prefix:    params.Prefix,
		region:    creds.Region,
		accessKey: creds.AccessKeyID,
		secretKey: creds.SecretAccessKey,
	}, nil
}

// WriteBlobs 逐个上传对象
func (w *s3Writer) WriteBlobs(ctx context.Context, blobs []*BlobData) error {
	for _, blob := range blobs {
		if blob.Key == "" {
			return fmt.Errorf("对象键不能为空")
		}
		if err := w.putObject(ctx, blob); err != nil {
			return err
		}
	}
	return nil
}

func (w *s3Writer) putObject(ctx context.Context, blob *BlobData) error {
	key := joinObjectKey(w.prefix, blob.Key)

	base, err := url.Parse(w.endpoint)
	if err != nil {
		return fmt.Errorf("s3 endpoint 无效: %w", err)
	}
	target := *base
	target.Path = "/" + w.bucket + "/" + key

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(blob.Data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(blob.Data))
	if blob.ContentType != "" {
		req.Header.Set("Content-Type", blob.ContentType)
	}
	for k, v := range blob.Metadata {
		req.Header.Set("x-amz-meta-"+k, v)
	}

	w.signV4(req, time.Now().UTC())

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("s3 上传失败: %s (%d)", strings.TrimSpace(string(body)), resp.StatusCode)
	}
	return nil
}

// signV4 按 AWS Signature Version 4 签名，载荷使用 UNSIGNED-PAYLOAD
func (w *s3Writer) signV4(req *http.Request, now time.Time) {
	amzDate := now.Format("20060102T150405Z")
	dateStamp := now.Format("20060102")

	req.Header.Set("x-amz-date", amzDate)
	req.Header.Set("x-amz-content-sha256", unsignedPayload)

	canonicalHeaders := "host:" + req.URL.Host + "\n" +
		"x-amz-content-sha256:" + unsignedPayload + "\n" +
		"x-amz-date:" + amzDate + "\n"
	signedHeaders := "host;x-amz-content-sha256;x-amz-date"

	canonicalRequest := strings.Join([]string{
		req.Method,
		req.URL.EscapedPath(),
		req.URL.RawQuery,
		canonicalHeaders,
		signedHeaders,
		unsignedPayload,
	}, "\n")

	scope := dateStamp + "/" + w.region + "/s3/aws4_request"
	requestHash := sha256.Sum256([]byte(canonicalRequest))
	stringToSign := strings.Join([]string{
		"AWS4-HMAC-SHA256",
		amzDate,
		scope,
		hex.EncodeToString(requestHash[:]),
	}, "\n")

	kDate := hmacSHA256([]byte("AWS4"+w.secretKey), dateStamp)
	kRegion := hmacSHA256(kDate, w.region)
	kService := hmacSHA256(kRegion, "s3")
	kSigning := hmacSHA256(kService, "aws4_request")
	signature := hex.EncodeToString(hmacSHA256(kSigning, stringToSign))

	req.Header.Set("Authorization", fmt.Sprintf(
		"AWS4-HMAC-SHA256 Credential=%s/%s, SignedHeaders=%s, Signature=%s",
		w.accessKey, scope, signedHeaders, signature,
	))
}

func hmacSHA256(key []byte, data string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(data))
	return mac.Sum(nil)
}

// joinObjectKey 拼接前缀与对象键，规范化多余的斜杠
func joinObjectKey(prefix, key string) string {
	key = strings.TrimPrefix(key, "/")
	if prefix == "" {
		return key
	}
	return strings.TrimSuffix(prefix, "/") + "/" + key
}
