package workflow

import (
	"nvisy/internal/provider"
)

// NodeKind 节点类别
type NodeKind string

const (
	NodeKindInput     NodeKind = "input"     // 数据进入图的位置
	NodeKindOutput    NodeKind = "output"    // 数据离开图的位置
	NodeKindTransform NodeKind = "transform" // 数据变换
	NodeKindSwitch    NodeKind = "switch"    // 条件路由
)

// Node 工作流节点，Kind 决定哪个变体字段被填充（恰好一个）
type Node struct {
	ID        NodeID        `json:"id"`
	Kind      NodeKind      `json:"kind"`
	Input     *InputDef     `json:"input,omitempty"`
	Output    *OutputDef    `json:"output,omitempty"`
	Transform *TransformDef `json:"transform,omitempty"`
	Switch    *SwitchDef    `json:"switch,omitempty"`
}

// InputDef 输入节点定义，描述数据来源
// 数据的实际读取由执行层注入的读取器完成
type InputDef struct {
	Source  string         `json:"source"`
	Format  string         `json:"format,omitempty"`
	Options map[string]any `json:"options,omitempty"`
}

// OutputDef 输出节点定义，携带目标后端的路由参数
// 凭据以 Params.CredentialsID 引用，执行时从凭据库解析
type OutputDef struct {
	Params provider.OutputParams `json:"params"`
}

// Edge 有向边，仅描述拓扑，不携带数据
type Edge struct {
	From NodeID `json:"from"`
	To   NodeID `json:"to"`
}

// NewInputNode 创建输入节点
func NewInputNode(def *InputDef) *Node {
	return &Node{ID: NewNodeID(), Kind: NodeKindInput, Input: def}
}

// NewOutputNode 创建输出节点
func NewOutputNode(def *OutputDef) *Node {
	return &Node{ID: NewNodeID(), Kind: NodeKindOutput, Output: def}
}

// NewTransformNode 创建变换节点
func NewTransformNode(def *TransformDef) *Node {
	return &Node{ID: NewNodeID(), Kind: NodeKindTransform, Transform: def}
}

// NewSwitchNode 创建条件路由节点
func NewSwitchNode(def *SwitchDef) *Node {
	return &Node{ID: NewNodeID(), Kind: NodeKindSwitch, Switch: def}
}

// IsInput 是否为输入节点
func (n *Node) IsInput() bool { return n.Kind == NodeKindInput }

// IsOutput 是否为输出节点
func (n *Node) IsOutput() bool { return n.Kind == NodeKindOutput }

// IsTransform 是否为变换节点
func (n *Node) IsTransform() bool { return n.Kind == NodeKindTransform }

// IsSwitch 是否为条件路由节点
func (n *Node) IsSwitch() bool { return n.Kind == NodeKindSwitch }
