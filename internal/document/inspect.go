package document

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dslipak/pdf"
	"github.com/gabriel-vasile/mimetype"
)

// Inspect 从文件名与内容构建文档画像
// 内容类型通过字节嗅探得到，PDF 额外解析页数；解析失败不视为错误，
// 对应字段保持零值即可
func Inspect(fileName string, data []byte) *Info {
	mtype := mimetype.Detect(data)

	info := &Info{
		FileName:    fileName,
		Extension:   strings.TrimPrefix(strings.ToLower(filepath.Ext(fileName)), "."),
		ContentType: mtype.String(),
		SizeBytes:   int64(len(data)),
		CreatedAt:   time.Now().UTC(),
		Metadata:    make(map[string]any),
	}

	if mtype.Is("application/pdf") {
		if pages, err := pdfPageCount(data); err == nil {
			info.PageCount = pages
		}
	}
	return info
}

func pdfPageCount(data []byte) (count int, err error) {
	// 个别损坏的 PDF 会让解析器 panic，这里兜底转为错误
	defer func() {
		if r := recover(); r != nil {
			count = 0
			err = fmt.Errorf("解析 PDF 失败: %v", r)
		}
	}()

	reader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, err
	}
	return reader.NumPage(), nil
}
