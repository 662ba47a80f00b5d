package executor

import (
	"context"
	"fmt"
	"sync"

	"nvisy/internal/provider"
	"nvisy/internal/workflow"
)

// Transformer 变换器：对流经变换节点的值做处理
type Transformer interface {
	// Apply 处理一批值，返回变换后的值
	Apply(ctx context.Context, def *workflow.TransformDef, values []provider.Value) ([]provider.Value, error)
}

// TransformerFunc 函数式变换器适配
type TransformerFunc func(ctx context.Context, def *workflow.TransformDef, values []provider.Value) ([]provider.Value, error)

// Apply 调用自身
func (f TransformerFunc) Apply(ctx context.Context, def *workflow.TransformDef, values []provider.Value) ([]provider.Value, error) {
	return f(ctx, def, values)
}

// Registry 变换器注册表，按变换类别分发
type Registry struct {
	mu     sync.RWMutex
	byKind map[workflow.TransformKind]Transformer
}

// NewRegistry 创建注册表，内置分块变换器
func NewRegistry() *Registry {
	r := &Registry{byKind: make(map[workflow.TransformKind]Transformer)}
	r.Register(workflow.TransformChunk, &chunkTransformer{})
	return r
}

// Register 注册变换器，同类别重复注册以后者为准
func (r *Registry) Register(kind workflow.TransformKind, t Transformer) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byKind[kind] = t
}

// Get 按类别查找变换器
func (r *Registry) Get(kind workflow.TransformKind) (Transformer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.byKind[kind]
	return t, ok
}

// Apply 分发到对应变换器，未注册的类别报错
func (r *Registry) Apply(ctx context.Context, def *workflow.TransformDef, values []provider.Value) ([]provider.Value, error) {
	t, ok := r.Get(def.Type)
	if !ok {
		return nil, fmt.Errorf("未注册的变换类别: %s", def.Type)
	}
	return t.Apply(ctx, def, values)
}
