package provider

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const azblobAPIVersion = "2021-08-06"

// azblobWriter Azure Blob Storage 写入器
// 授权二选一：账号密钥（SharedKey 签名）或 SAS 令牌
type azblobWriter struct {
	client      *http.Client
	accountName string
	accountKey  []byte // base64 解码后的密钥，SAS 模式下为空
	sasToken    string
	container   string
	prefix      string
}

func newAzblobWriter(params *AzblobParams, creds *AzblobCredentials) (*azblobWriter, error) {
	if params.Container == "" {
		return nil, fmt.Errorf("azblob container 不能为空")
	}
	if creds.AccountName == "" {
		return nil, fmt.Errorf("azblob account_name 不能为空")
	}
	if creds.AccountKey == "" && creds.SASToken == "" {
		return nil, fmt.Errorf("azblob 需要 account_key 或 sas_token")
	}

	w := &azblobWriter{
		client:      &http.Client{Timeout: 60 * time.Second},
		accountName: creds.AccountName,
		sasToken:    strings.TrimPrefix(creds.SASToken, "?"),
		container:   params.Container,
		prefix:      params.Prefix,
	}
	if creds.AccountKey != "" {
		key, err := base64.StdEncoding.DecodeString(creds.AccountKey)
		if err != nil {
			return nil, fmt.Errorf("解码 azblob account_key 失败: %w", err)
		}
		w.accountKey = key
	}
	return w, nil
}

// WriteBlobs 逐个上传块 Blob
func (w *azblobWriter) WriteBlobs(ctx context.Context, blobs []*BlobData) error {
	for _, blob := range blobs {
		if blob.Key == "" {
			return fmt.Errorf("对象键不能为空")
		}
		if err := w.putBlob(ctx, blob); err != nil {
			return err
		}
	}
	return nil
}

func (w *azblobWriter) putBlob(ctx context.Context, blob *BlobData) error {
	key := joinObjectKey(w.prefix, blob.Key)

	target := url.URL{
		Scheme: "https",
		Host:   w.accountName + ".blob.core.windows.net",
		Path:   "/" + w.container + "/" + key,
	}
	if w.sasToken != "" {
		target.RawQuery = w.sasToken
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, target.String(), bytes.NewReader(blob.Data))
	if err != nil {
		return err
	}
	req.ContentLength = int64(len(blob.Data))
	req.Header.Set("x-ms-date", time.Now().UTC().Format(http.TimeFormat))
	req.Header.Set("x-ms-version", azblobAPIVersion)
	req.Header.Set("x-ms-blob-type", "BlockBlob")
	if blob.ContentType != "" {
		req.Header.Set("Content-Type", blob.ContentType)
	}

	if len(w.accountKey) > 0 {
		w.signSharedKey(req, len(blob.Data), blob.ContentType)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("上传对象 %s 失败: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("azblob 上传失败: %s (%d)", strings.TrimSpace(string(body)), resp.StatusCode)
	}
	return nil
}

// signSharedKey 按 Azure SharedKey 方案签名请求
func (w *azblobWriter) signSharedKey(req *http.Request, contentLength int, contentType string) {
	lengthStr := ""
	if contentLength > 0 {
		lengthStr = strconv.Itoa(contentLength)
	}

	canonicalHeaders := strings.Join([]string{
		"x-ms-blob-type:" + req.Header.Get("x-ms-blob-type"),
		"x-ms-date:" + req.Header.Get("x-ms-date"),
		"x-ms-version:" + req.Header.Get("x-ms-version"),
	}, "\n")
	canonicalResource := "/" + w.accountName + req.URL.EscapedPath()

	stringToSign := strings.Join([]string{
		req.Method,
		"",          // Content-Encoding
		"",          // Content-Language
		lengthStr,   // Content-Length
		"",          // Content-MD5
		contentType, // Content-Type
		"",          // Date（使用 x-ms-date 代替）
		"",          // If-Modified-Since
		"",          // If-Match
		"",          // If-None-Match
		"",          // If-Unmodified-Since
		"",          // Range
		canonicalHeaders + "\n" + canonicalResource,
	}, "\n")

	mac := hmac.New(sha256.New, w.accountKey)
	mac.Write([]byte(stringToSign))
	signature := base64.StdEncoding.EncodeToString(mac.Sum(nil))

	req.Header.Set("Authorization", "SharedKey "+w.accountName+":"+signature)
}
