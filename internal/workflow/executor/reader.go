package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"nvisy/internal/document"
	"nvisy/internal/provider"
	"nvisy/internal/workflow"
)

// InputReader 输入读取器：把输入节点定义解析成数据值与文档画像
// 画像可为空，此时条件路由只有 always 条件会命中
type InputReader interface {
	Read(ctx context.Context, def *workflow.InputDef) ([]provider.Value, *document.Info, error)
}

// FileReader 本地文件读取器，来源标识为 file
// 节点选项 path 指定文件路径，画像通过字节嗅探构建
type FileReader struct{}

// Read 读取文件内容并构建画像
func (FileReader) Read(_ context.Context, def *workflow.InputDef) ([]provider.Value, *document.Info, error) {
	path, _ := def.Options["path"].(string)
	if path == "" {
		return nil, nil, fmt.Errorf("文件输入缺少 path 选项")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("读取输入文件失败: %w", err)
	}

	name := filepath.Base(path)
	info := document.Inspect(name, data)
	blob := &provider.BlobData{
		Key:         name,
		ContentType: info.ContentType,
		Data:        data,
	}
	return []provider.Value{blob}, info, nil
}

// InlineReader 内联内容读取器，来源标识为 inline
// 节点选项 content 携带文本内容，name 可选
type InlineReader struct{}

// Read 把内联内容包装为二进制对象
func (InlineReader) Read(_ context.Context, def *workflow.InputDef) ([]provider.Value, *document.Info, error) {
	content, _ := def.Options["content"].(string)
	if content == "" {
		return nil, nil, fmt.Errorf("内联输入缺少 content 选项")
	}
	name, _ := def.Options["name"].(string)
	if name == "" {
		name = "inline.txt"
	}

	data := []byte(content)
	info := document.Inspect(name, data)
	blob := &provider.BlobData{
		Key:         name,
		ContentType: info.ContentType,
		Data:        data,
	}
	return []provider.Value{blob}, info, nil
}
