package workflow

import (
	"errors"
	"fmt"
)

// ValidationKind 校验失败的类别
type ValidationKind string

const (
	// ValidationMissingNode 边引用了不存在的节点
	ValidationMissingNode ValidationKind = "missing_node"
	// ValidationNoInputNode 图中没有任何输入节点
	ValidationNoInputNode ValidationKind = "no_input_node"
	// ValidationNoOutputNode 图中没有任何输出节点
	ValidationNoOutputNode ValidationKind = "no_output_node"
	// ValidationCycleDetected 图中存在环路
	ValidationCycleDetected ValidationKind = "cycle_detected"
)

// ValidationError 工作流结构校验错误
type ValidationError struct {
	Kind ValidationKind
	// NodeID 仅在 Kind 为 missing_node 时有效，指向缺失的节点
	NodeID NodeID
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case ValidationMissingNode:
		return fmt.Sprintf("边引用了不存在的节点: %s", e.NodeID)
	case ValidationNoInputNode:
		return "工作流至少需要一个输入节点"
	case ValidationNoOutputNode:
		return "工作流至少需要一个输出节点"
	case ValidationCycleDetected:
		return "工作流包含环路"
	default:
		return fmt.Sprintf("工作流校验失败: %s", e.Kind)
	}
}

// AsValidationError 提取校验错误，便于按类别断言
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// Validate 校验工作流结构，按固定顺序快速失败：
//  1. 所有边的端点必须存在（先 From 后 To，按边的声明顺序）
//  2. 至少一个输入节点
//  3. 至少一个输出节点
//  4. 无环（Kahn 算法）
func (w *Workflow) Validate() error {
	for _, edge := range w.Edges {
		if _, ok := w.Nodes[edge.From]; !ok {
			return &ValidationError{Kind: ValidationMissingNode, NodeID: edge.From}
		}
		if _, ok := w.Nodes[edge.To]; !ok {
			return &ValidationError{Kind: ValidationMissingNode, NodeID: edge.To}
		}
	}

	hasInput := false
	hasOutput := false
	for _, node := range w.Nodes {
		switch node.Kind {
		case NodeKindInput:
			hasInput = true
		case NodeKindOutput:
			hasOutput = true
		}
	}
	if !hasInput {
		return &ValidationError{Kind: ValidationNoInputNode}
	}
	if !hasOutput {
		return &ValidationError{Kind: ValidationNoOutputNode}
	}

	if _, err := w.TopoOrder(); err != nil {
		return err
	}
	return nil
}

// TopoOrder 使用 Kahn 算法计算拓扑顺序
// 若处理的节点数少于总数，说明存在环路（自环同样被判定为环）
func (w *Workflow) TopoOrder() ([]NodeID, error) {
	inDegree := make(map[NodeID]int, len(w.Nodes))
	adjacency := make(map[NodeID][]NodeID)

	for id := range w.Nodes {
		inDegree[id] = 0
	}
	for _, edge := range w.Edges {
		// 悬空边在 Validate 第一阶段已报告，此处直接跳过
		if _, ok := w.Nodes[edge.From]; !ok {
			continue
		}
		if _, ok := w.Nodes[edge.To]; !ok {
			continue
		}
		adjacency[edge.From] = append(adjacency[edge.From], edge.To)
		inDegree[edge.To]++
	}

	queue := make([]NodeID, 0, len(w.Nodes))
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}

	order := make([]NodeID, 0, len(w.Nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		for _, next := range adjacency[current] {
			inDegree[next]--
			if inDegree[next] == 0 {
				queue = append(queue, next)
			}
		}
	}

	if len(order) != len(w.Nodes) {
		return nil, &ValidationError{Kind: ValidationCycleDetected}
	}
	return order, nil
}
