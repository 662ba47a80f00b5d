package document

import (
	"strings"
	"time"
)

// Category 内容大类，供条件路由匹配使用
type Category string

const (
	CategoryDocument Category = "document"
	CategoryImage    Category = "image"
	CategoryAudio    Category = "audio"
	CategoryVideo    Category = "video"
	CategoryArchive  Category = "archive"
	CategoryOther    Category = "other"
)

// Info 文档画像：条件路由评估所依据的视图
type Info struct {
	FileName           string         `json:"file_name"`
	Extension          string         `json:"extension,omitempty"` // 小写、不含点
	ContentType        string         `json:"content_type,omitempty"`
	SizeBytes          int64          `json:"size_bytes"`
	PageCount          int            `json:"page_count,omitempty"`
	DurationSeconds    float64        `json:"duration_seconds,omitempty"`
	Language           string         `json:"language,omitempty"`
	LanguageConfidence float64        `json:"language_confidence,omitempty"`
	CreatedAt          time.Time      `json:"created_at"`
	Metadata           map[string]any `json:"metadata,omitempty"`
}

var archiveTypes = map[string]struct{}{
	"application/zip":              {},
	"application/x-tar":            {},
	"application/gzip":             {},
	"application/x-7z-compressed":  {},
	"application/x-rar-compressed": {},
	"application/vnd.rar":          {},
}

var documentTypes = map[string]struct{}{
	"application/pdf":    {},
	"application/msword": {},
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": {},
	"application/vnd.oasis.opendocument.text":                                 {},
	"application/rtf":                                                         {},
}

// Category 根据内容类型归类
func (i *Info) Category() Category {
	ct := i.ContentType
	if idx := strings.Index(ct, ";"); idx >= 0 {
		ct = strings.TrimSpace(ct[:idx])
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return CategoryImage
	case strings.HasPrefix(ct, "audio/"):
		return CategoryAudio
	case strings.HasPrefix(ct, "video/"):
		return CategoryVideo
	}
	if _, ok := archiveTypes[ct]; ok {
		return CategoryArchive
	}
	if _, ok := documentTypes[ct]; ok {
		return CategoryDocument
	}
	if strings.HasPrefix(ct, "text/") {
		return CategoryDocument
	}
	return CategoryOther
}
