package workflow

import (
	"fmt"
	"path"
	"strings"
	"time"

	"nvisy/internal/document"

	"github.com/Knetic/govaluate"
)

// ConditionType 条件类别
type ConditionType string

const (
	ConditionAlways          ConditionType = "always"
	ConditionContentType     ConditionType = "content_type"
	ConditionFileSizeAbove   ConditionType = "file_size_above"
	ConditionFileSizeBelow   ConditionType = "file_size_below"
	ConditionPageCountAbove  ConditionType = "page_count_above"
	ConditionDurationAbove   ConditionType = "duration_above"
	ConditionLanguage        ConditionType = "language"
	ConditionDateNewerThan   ConditionType = "date_newer_than"
	ConditionFileNameMatches ConditionType = "file_name_matches"
	ConditionFileExtension   ConditionType = "file_extension"
	ConditionHasMetadata     ConditionType = "has_metadata"
	ConditionMetadataEquals  ConditionType = "metadata_equals"
	ConditionExpression      ConditionType = "expression"
)

// defaultLanguageConfidence 语言条件未指定置信度阈值时的默认值
const defaultLanguageConfidence = 0.8

// SwitchCondition 条件路由的判定条件，Type 决定使用哪些字段
type SwitchCondition struct {
	Type ConditionType `json:"type"`

	Category         string    `json:"category,omitempty"`          // content_type
	ThresholdBytes   int64     `json:"threshold_bytes,omitempty"`   // file_size_above / file_size_below
	Threshold        int       `json:"threshold,omitempty"`         // page_count_above
	ThresholdSeconds float64   `json:"threshold_seconds,omitempty"` // duration_above
	LanguageCode     string    `json:"language_code,omitempty"`     // language
	MinConfidence    float64   `json:"min_confidence,omitempty"`    // language，0 表示使用默认 0.8
	Timestamp        time.Time `json:"timestamp,omitempty"`         // date_newer_than
	Pattern          string    `json:"pattern,omitempty"`           // file_name_matches（glob 通配）
	Extension        string    `json:"extension,omitempty"`         // file_extension
	Key              string    `json:"key,omitempty"`               // has_metadata / metadata_equals
	Value            string    `json:"value,omitempty"`             // metadata_equals
	Expression       string    `json:"expression,omitempty"`        // expression
}

// Matches 判定文档是否满足条件，未知类别一律不匹配
func (c *SwitchCondition) Matches(info *document.Info) bool {
	if info == nil {
		return c.Type == ConditionAlways
	}

	switch c.Type {
	case ConditionAlways:
		return true
	case ConditionContentType:
		return string(info.Category()) == c.Category
	case ConditionFileSizeAbove:
		return info.SizeBytes > c.ThresholdBytes
	case ConditionFileSizeBelow:
		return info.SizeBytes < c.ThresholdBytes
	case ConditionPageCountAbove:
		return info.PageCount > c.Threshold
	case ConditionDurationAbove:
		return info.DurationSeconds > c.ThresholdSeconds
	case ConditionLanguage:
		minConfidence := c.MinConfidence
		if minConfidence == 0 {
			minConfidence = defaultLanguageConfidence
		}
		return strings.EqualFold(info.Language, c.LanguageCode) &&
			info.LanguageConfidence >= minConfidence
	case ConditionDateNewerThan:
		return info.CreatedAt.After(c.Timestamp)
	case ConditionFileNameMatches:
		matched, err := path.Match(c.Pattern, info.FileName)
		return err == nil && matched
	case ConditionFileExtension:
		return strings.EqualFold(info.Extension, strings.TrimPrefix(c.Extension, "."))
	case ConditionHasMetadata:
		_, ok := info.Metadata[c.Key]
		return ok
	case ConditionMetadataEquals:
		v, ok := info.Metadata[c.Key]
		return ok && fmt.Sprint(v) == c.Value
	case ConditionExpression:
		return c.matchExpression(info)
	default:
		return false
	}
}

// matchExpression 用表达式引擎评估条件，暴露文档画像字段作为变量
// 表达式语法错误或结果非布尔值均视为不匹配
func (c *SwitchCondition) matchExpression(info *document.Info) bool {
	expr, err := govaluate.NewEvaluableExpression(c.Expression)
	if err != nil {
		return false
	}

	params := map[string]any{
		"file_name":           info.FileName,
		"extension":           info.Extension,
		"content_type":        info.ContentType,
		"size_bytes":          float64(info.SizeBytes),
		"page_count":          float64(info.PageCount),
		"duration_seconds":    info.DurationSeconds,
		"language":            info.Language,
		"language_confidence": info.LanguageConfidence,
	}
	for key, value := range info.Metadata {
		params["meta_"+key] = value
	}

	result, err := expr.Evaluate(params)
	if err != nil {
		return false
	}
	matched, ok := result.(bool)
	return ok && matched
}

// SwitchBranch 条件分支：条件命中时数据流向 Target
type SwitchBranch struct {
	Condition SwitchCondition `json:"condition"`
	Target    NodeID          `json:"target"`
}

// SwitchDef 条件路由定义：按声明顺序取第一个命中的分支，
// 全部未命中时落到默认分支（可能为空）
type SwitchDef struct {
	Branches []SwitchBranch `json:"branches"`
	Default  *NodeID        `json:"default,omitempty"`
}

// Evaluate 返回数据应流向的目标节点，无匹配且无默认分支时返回 nil
func (s *SwitchDef) Evaluate(info *document.Info) *NodeID {
	for i := range s.Branches {
		if s.Branches[i].Condition.Matches(info) {
			target := s.Branches[i].Target
			return &target
		}
	}
	if s.Default != nil {
		target := *s.Default
		return &target
	}
	return nil
}
