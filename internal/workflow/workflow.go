package workflow

import (
	"iter"
)

// Metadata 工作流元信息
type Metadata struct {
	Name        string            `json:"name,omitempty"`
	Description string            `json:"description,omitempty"`
	Version     string            `json:"version,omitempty"`
	Annotations map[string]string `json:"annotations,omitempty"`
}

// Workflow 工作流定义：节点集合与有向边构成的处理图
// 定义层只负责结构，合法性由 Validate 统一校验
type Workflow struct {
	Nodes    map[NodeID]*Node `json:"nodes"`
	Edges    []Edge           `json:"edges"`
	Metadata Metadata         `json:"metadata"`
}

// New 创建空工作流
func New() *Workflow {
	return &Workflow{
		Nodes: make(map[NodeID]*Node),
		Edges: make([]Edge, 0),
	}
}

// AddNode 添加节点，返回自身以便链式调用
// 重复的节点标识会覆盖旧节点
func (w *Workflow) AddNode(node *Node) *Workflow {
	if w.Nodes == nil {
		w.Nodes = make(map[NodeID]*Node)
	}
	w.Nodes[node.ID] = node
	return w
}

// AddEdge 添加有向边，返回自身以便链式调用
// 不做任何存在性检查，悬空引用由 Validate 报告
func (w *Workflow) AddEdge(edge Edge) *Workflow {
	w.Edges = append(w.Edges, edge)
	return w
}

// Connect 连接两个节点，等价于 AddEdge
func (w *Workflow) Connect(from, to NodeID) *Workflow {
	return w.AddEdge(Edge{From: from, To: to})
}

// Node 按标识查找节点
func (w *Workflow) Node(id NodeID) (*Node, bool) {
	n, ok := w.Nodes[id]
	return n, ok
}

// NodeCount 节点数量
func (w *Workflow) NodeCount() int { return len(w.Nodes) }

// EdgeCount 边数量
func (w *Workflow) EdgeCount() int { return len(w.Edges) }

// nodesOfKind 返回指定类别节点的惰性视图，每次调用产生全新迭代
func (w *Workflow) nodesOfKind(kind NodeKind) iter.Seq2[NodeID, *Node] {
	return func(yield func(NodeID, *Node) bool) {
		for id, node := range w.Nodes {
			if node.Kind != kind {
				continue
			}
			if !yield(id, node) {
				return
			}
		}
	}
}

// InputNodes 输入节点的惰性视图
func (w *Workflow) InputNodes() iter.Seq2[NodeID, *Node] {
	return w.nodesOfKind(NodeKindInput)
}

// OutputNodes 输出节点的惰性视图
func (w *Workflow) OutputNodes() iter.Seq2[NodeID, *Node] {
	return w.nodesOfKind(NodeKindOutput)
}

// TransformNodes 变换节点的惰性视图
func (w *Workflow) TransformNodes() iter.Seq2[NodeID, *Node] {
	return w.nodesOfKind(NodeKindTransform)
}

// SwitchNodes 条件路由节点的惰性视图
func (w *Workflow) SwitchNodes() iter.Seq2[NodeID, *Node] {
	return w.nodesOfKind(NodeKindSwitch)
}

// Outgoing 返回从指定节点出发的所有边
func (w *Workflow) Outgoing(id NodeID) []Edge {
	var edges []Edge
	for _, e := range w.Edges {
		if e.From == id {
			edges = append(edges, e)
		}
	}
	return edges
}

// Incoming 返回指向指定节点的所有边
func (w *Workflow) Incoming(id NodeID) []Edge {
	var edges []Edge
	for _, e := range w.Edges {
		if e.To == id {
			edges = append(edges, e)
		}
	}
	return edges
}
