package executor

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"nvisy/internal/provider"
	"nvisy/internal/workflow"
)

// defaultChunkSize 未指定时的单块最大字符数
const defaultChunkSize = 1000

// chunkTransformer 内置分块变换器
// 只处理二进制对象，记录与向量原样通过
type chunkTransformer struct{}

// Apply 按配置把每个对象切成若干块，块继承原对象的内容类型与元信息
func (t *chunkTransformer) Apply(_ context.Context, def *workflow.TransformDef, values []provider.Value) ([]provider.Value, error) {
	cfg := def.Chunk
	if cfg == nil {
		return nil, fmt.Errorf("分块节点缺少配置")
	}

	out := make([]provider.Value, 0, len(values))
	for _, v := range values {
		blob, ok := provider.AsBlob(v)
		if !ok {
			out = append(out, v)
			continue
		}

		pieces := splitText(string(blob.Data), cfg)
		for i, piece := range pieces {
			metadata := make(map[string]string, len(blob.Metadata)+2)
			for k, mv := range blob.Metadata {
				metadata[k] = mv
			}
			metadata["chunk_index"] = strconv.Itoa(i)
			metadata["chunk_count"] = strconv.Itoa(len(pieces))

			out = append(out, &provider.BlobData{
				Key:         fmt.Sprintf("%s#%d", blob.Key, i),
				ContentType: blob.ContentType,
				Data:        []byte(piece),
				Metadata:    metadata,
			})
		}
	}
	return out, nil
}

// splitText 按策略切分文本，块长以字符数（rune）计
func splitText(text string, cfg *workflow.ChunkConfig) []string {
	size := cfg.MaxSize
	if size <= 0 {
		size = defaultChunkSize
	}
	overlap := cfg.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var pieces []string
	switch cfg.Strategy {
	case workflow.ChunkByCharacter:
		if cfg.Separator != "" {
			pieces = pack(strings.Split(text, cfg.Separator), cfg.Separator, size, overlap)
		} else {
			pieces = windows(text, size, overlap)
		}
	case workflow.ChunkBySentence:
		pieces = pack(splitSentences(text), " ", size, overlap)
	case workflow.ChunkByParagraph:
		pieces = pack(splitParagraphs(text), "\n\n", size, overlap)
	case workflow.ChunkByPage:
		pieces = strings.Split(text, "\f")
	case workflow.ChunkRecursive:
		pieces = recursiveSplit(text, size, overlap)
	default:
		pieces = windows(text, size, overlap)
	}

	out := make([]string, 0, len(pieces))
	for _, p := range pieces {
		if cfg.Trim {
			p = strings.TrimSpace(p)
		}
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// windows 固定长度滑动窗口，窗口间保留 overlap 个字符的重叠
func windows(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		return []string{text}
	}
	step := size - overlap
	if step <= 0 {
		step = size
	}

	var out []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return out
}

// pack 贪心合并片段直至接近上限，超限的单个片段退化为滑动窗口
func pack(pieces []string, joiner string, size, overlap int) []string {
	joinLen := utf8.RuneCountInString(joiner)

	var out []string
	var cur strings.Builder
	curLen := 0
	flush := func() {
		if curLen > 0 {
			out = append(out, cur.String())
			cur.Reset()
			curLen = 0
		}
	}

	for _, p := range pieces {
		n := utf8.RuneCountInString(p)
		if n > size {
			flush()
			out = append(out, windows(p, size, overlap)...)
			continue
		}
		if curLen > 0 && curLen+joinLen+n > size {
			flush()
		}
		if curLen > 0 {
			cur.WriteString(joiner)
			curLen += joinLen
		}
		cur.WriteString(p)
		curLen += n
	}
	flush()
	return out
}

var paragraphSep = regexp.MustCompile(`\n{2,}`)

// splitParagraphs 按连续空行切分段落
func splitParagraphs(text string) []string {
	return paragraphSep.Split(text, -1)
}

func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

// splitSentences 朴素的分句：句末标点后跟空白即视为边界，连续标点归入同一句
func splitSentences(text string) []string {
	runes := []rune(text)
	var out []string
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		end := i + 1
		for end < len(runes) && isSentenceEnd(runes[end]) {
			end++
		}
		out = append(out, string(runes[start:end]))
		for end < len(runes) && unicode.IsSpace(runes[end]) {
			end++
		}
		i = end - 1
		start = end
	}
	if start < len(runes) {
		out = append(out, string(runes[start:]))
	}
	return out
}

// recursiveSplit 优先保持段落完整，超限段落再按句子合并，仍超限则滑动窗口
func recursiveSplit(text string, size, overlap int) []string {
	if utf8.RuneCountInString(text) <= size {
		return []string{text}
	}
	var out []string
	for _, para := range splitParagraphs(text) {
		if utf8.RuneCountInString(para) <= size {
			out = append(out, para)
			continue
		}
		out = append(out, pack(splitSentences(para), " ", size, overlap)...)
	}
	return out
}
