package workflow

import (
	"fmt"

	"github.com/google/uuid"
)

// NodeID 节点唯一标识，基于 UUID 的不透明值类型
type NodeID uuid.UUID

// NewNodeID 生成新的节点标识
func NewNodeID() NodeID {
	return NodeID(uuid.New())
}

// ParseNodeID 从字符串解析节点标识
func ParseNodeID(s string) (NodeID, error) {
	u, err := uuid.Parse(s)
	if err != nil {
		return NodeID{}, fmt.Errorf("解析节点标识失败: %w", err)
	}
	return NodeID(u), nil
}

// String 返回规范的 UUID 字符串表示
func (id NodeID) String() string {
	return uuid.UUID(id).String()
}

// IsZero 判断是否为零值标识
func (id NodeID) IsZero() bool {
	return id == NodeID(uuid.Nil)
}

// MarshalText 实现 encoding.TextMarshaler，保证 JSON 序列化稳定
func (id NodeID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (id *NodeID) UnmarshalText(data []byte) error {
	u, err := uuid.ParseBytes(data)
	if err != nil {
		return fmt.Errorf("解析节点标识失败: %w", err)
	}
	*id = NodeID(u)
	return nil
}
