package executor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"nvisy/internal/document"
	"nvisy/internal/provider"
	"nvisy/internal/workflow"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fakeSink 记录接收值的桩实现
type fakeSink struct {
	mu       sync.Mutex
	values   []provider.Value
	closed   bool
	closeErr error
}

func (s *fakeSink) Enqueue(_ context.Context, v provider.Value) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return provider.ErrSinkClosed
	}
	s.values = append(s.values, v)
	return nil
}

func (s *fakeSink) Flush(context.Context) (*provider.WriteReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return &provider.WriteReceipt{Written: len(s.values)}, nil
}

func (s *fakeSink) Close(ctx context.Context) (*provider.WriteReceipt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, provider.ErrSinkClosed
	}
	s.closed = true
	if s.closeErr != nil {
		return nil, s.closeErr
	}
	return &provider.WriteReceipt{Written: len(s.values)}, nil
}

func (s *fakeSink) Dropped() int64                { return 0 }
func (s *fakeSink) Backend() provider.BackendKind { return provider.KindS3 }

func (s *fakeSink) received() []provider.Value {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.Value(nil), s.values...)
}

// fakeSinkRegistry 按输出节点的目标桶名分发桩缓冲
type fakeSinkRegistry struct {
	mu     sync.Mutex
	sinks  map[string]*fakeSink
	builds int
}

func newFakeSinkRegistry() *fakeSinkRegistry {
	return &fakeSinkRegistry{sinks: make(map[string]*fakeSink)}
}

func (r *fakeSinkRegistry) build(_ context.Context, def *workflow.OutputDef) (ValueSink, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.builds++
	key := ""
	if def.Params.S3 != nil {
		key = def.Params.S3.Bucket
	}
	sink, ok := r.sinks[key]
	if !ok {
		sink = &fakeSink{}
		r.sinks[key] = sink
	}
	return sink, nil
}

func (r *fakeSinkRegistry) sink(id string) *fakeSink {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sinks[id]
}

func (r *fakeSinkRegistry) buildCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.builds
}

func textBlob(key, content string) *provider.BlobData {
	return &provider.BlobData{Key: key, ContentType: "text/plain", Data: []byte(content)}
}

func outputNode(bucket string) *workflow.Node {
	return workflow.NewOutputNode(&workflow.OutputDef{
		Params: provider.OutputParams{
			Kind: provider.KindS3,
			S3:   &provider.S3Params{Bucket: bucket},
		},
	})
}

func TestEngineExecuteLinear(t *testing.T) {
	registry := newFakeSinkRegistry()
	engine := NewEngine(nil, nil, zaptest.NewLogger(t), WithSinkBuilder(registry.build))

	in := workflow.NewInputNode(&workflow.InputDef{Source: "preset"})
	tr := workflow.NewTransformNode(&workflow.TransformDef{
		Type:  workflow.TransformChunk,
		Chunk: &workflow.ChunkConfig{Strategy: workflow.ChunkByCharacter, MaxSize: 5},
	})
	out := outputNode("primary")

	wf := workflow.New().
		AddNode(in).AddNode(tr).AddNode(out).
		Connect(in.ID, tr.ID).
		Connect(tr.ID, out.ID)

	result, err := engine.Execute(context.Background(), wf, &RunInput{
		Values: map[workflow.NodeID][]provider.Value{
			in.ID: {textBlob("doc.txt", "aaaaabbbbbcc")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 3, result.Written, "12 个字符按 5 切 3 块")
	require.Equal(t, 0, result.Dropped)
	require.Len(t, registry.sink("primary").received(), 3)

	receipt, ok := result.Receipts[out.ID]
	require.True(t, ok)
	require.Equal(t, 3, receipt.Written)
}

func TestEngineSwitchRoutesChosenBranchOnly(t *testing.T) {
	registry := newFakeSinkRegistry()
	engine := NewEngine(nil, nil, zaptest.NewLogger(t), WithSinkBuilder(registry.build))

	in := workflow.NewInputNode(&workflow.InputDef{Source: "preset"})
	outPDF := outputNode("pdf")
	outRest := outputNode("rest")
	sw := workflow.NewSwitchNode(&workflow.SwitchDef{
		Branches: []workflow.SwitchBranch{
			{
				Condition: workflow.SwitchCondition{Type: workflow.ConditionFileExtension, Extension: "pdf"},
				Target:    outPDF.ID,
			},
		},
		Default: &outRest.ID,
	})

	wf := workflow.New().
		AddNode(in).AddNode(sw).AddNode(outPDF).AddNode(outRest).
		Connect(in.ID, sw.ID).
		Connect(sw.ID, outPDF.ID).
		Connect(sw.ID, outRest.ID)

	result, err := engine.Execute(context.Background(), wf, &RunInput{
		Info: &document.Info{FileName: "report.pdf", Extension: "pdf"},
		Values: map[workflow.NodeID][]provider.Value{
			in.ID: {textBlob("report.pdf", "content")},
		},
	})
	require.NoError(t, err)
	require.Equal(t, 1, result.Written)

	require.Len(t, registry.sink("pdf").received(), 1, "命中分支应收到数据")
	require.Empty(t, registry.sink("rest").received(), "未命中分支不应收到数据")
}

func TestEngineSwitchFallsToDefault(t *testing.T) {
	registry := newFakeSinkRegistry()
	engine := NewEngine(nil, nil, zaptest.NewLogger(t), WithSinkBuilder(registry.build))

	in := workflow.NewInputNode(&workflow.InputDef{Source: "preset"})
	outPDF := outputNode("pdf")
	outRest := outputNode("rest")
	sw := workflow.NewSwitchNode(&workflow.SwitchDef{
		Branches: []workflow.SwitchBranch{
			{
				Condition: workflow.SwitchCondition{Type: workflow.ConditionFileExtension, Extension: "pdf"},
				Target:    outPDF.ID,
			},
		},
		Default: &outRest.ID,
	})

	wf := workflow.New().
		AddNode(in).AddNode(sw).AddNode(outPDF).AddNode(outRest).
		Connect(in.ID, sw.ID).
		Connect(sw.ID, outPDF.ID).
		Connect(sw.ID, outRest.ID)

	_, err := engine.Execute(context.Background(), wf, &RunInput{
		Info: &document.Info{FileName: "notes.txt", Extension: "txt"},
		Values: map[workflow.NodeID][]provider.Value{
			in.ID: {textBlob("notes.txt", "content")},
		},
	})
	require.NoError(t, err)

	require.Empty(t, registry.sink("pdf").received())
	require.Len(t, registry.sink("rest").received(), 1)
}

func TestEngineSwitchNoMatchNoDefaultStopsFlow(t *testing.T) {
	registry := newFakeSinkRegistry()
	engine := NewEngine(nil, nil, zaptest.NewLogger(t), WithSinkBuilder(registry.build))

	in := workflow.NewInputNode(&workflow.InputDef{Source: "preset"})
	out := outputNode("only")
	sw := workflow.NewSwitchNode(&workflow.SwitchDef{
		Branches: []workflow.SwitchBranch{
			{
				Condition: workflow.SwitchCondition{Type: workflow.ConditionFileExtension, Extension: "pdf"},
				Target:    out.ID,
			},
		},
	})

	wf := workflow.New().
		AddNode(in).AddNode(sw).AddNode(out).
		Connect(in.ID, sw.ID).
		Connect(sw.ID, out.ID)

	result, err := engine.Execute(context.Background(), wf, &RunInput{
		Info: &document.Info{FileName: "notes.txt", Extension: "txt"},
		Values: map[workflow.NodeID][]provider.Value{
			in.ID: {textBlob("notes.txt", "content")},
		},
	})
	require.NoError(t, err, "数据在路由处终止不算执行失败")
	require.Equal(t, 0, result.Written)
	require.Empty(t, registry.sink("only").received())
}

func TestEngineValidationFailsFast(t *testing.T) {
	registry := newFakeSinkRegistry()
	engine := NewEngine(nil, nil, zaptest.NewLogger(t), WithSinkBuilder(registry.build))

	in := workflow.NewInputNode(&workflow.InputDef{Source: "preset"})
	wf := workflow.New().
		AddNode(in).
		Connect(in.ID, workflow.NewNodeID())

	_, err := engine.Execute(context.Background(), wf, nil)
	require.Error(t, err)

	ve, ok := workflow.AsValidationError(err)
	require.True(t, ok)
	require.Equal(t, workflow.ValidationMissingNode, ve.Kind)
	require.Zero(t, registry.buildCount(), "校验失败前不应构建任何输出")
}

func TestEngineUnregisteredTransformFails(t *testing.T) {
	registry := newFakeSinkRegistry()
	engine := NewEngine(nil, nil, zaptest.NewLogger(t), WithSinkBuilder(registry.build))

	in := workflow.NewInputNode(&workflow.InputDef{Source: "preset"})
	tr := workflow.NewTransformNode(&workflow.TransformDef{
		Type:  workflow.TransformEmbed,
		Embed: &workflow.EmbedConfig{Provider: "openai"},
	})
	out := outputNode("primary")

	wf := workflow.New().
		AddNode(in).AddNode(tr).AddNode(out).
		Connect(in.ID, tr.ID).
		Connect(tr.ID, out.ID)

	_, err := engine.Execute(context.Background(), wf, &RunInput{
		Values: map[workflow.NodeID][]provider.Value{
			in.ID: {textBlob("doc.txt", "content")},
		},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "未注册的变换类别")
}

func TestEngineUnknownInputSourceFails(t *testing.T) {
	registry := newFakeSinkRegistry()
	engine := NewEngine(nil, nil, zaptest.NewLogger(t), WithSinkBuilder(registry.build))

	in := workflow.NewInputNode(&workflow.InputDef{Source: "s3"})
	out := outputNode("primary")
	wf := workflow.New().
		AddNode(in).AddNode(out).
		Connect(in.ID, out.ID)

	_, err := engine.Execute(context.Background(), wf, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "未注册的输入来源")
}

func TestEngineSinkCloseErrorSurfaces(t *testing.T) {
	failing := &fakeSink{closeErr: errors.New("连接中断")}
	builder := func(context.Context, *workflow.OutputDef) (ValueSink, error) {
		return failing, nil
	}
	engine := NewEngine(nil, nil, zaptest.NewLogger(t), WithSinkBuilder(builder))

	in := workflow.NewInputNode(&workflow.InputDef{Source: "preset"})
	out := outputNode("primary")
	wf := workflow.New().
		AddNode(in).AddNode(out).
		Connect(in.ID, out.ID)

	_, err := engine.Execute(context.Background(), wf, &RunInput{
		Values: map[workflow.NodeID][]provider.Value{
			in.ID: {textBlob("doc.txt", "content")},
		},
	})
	require.Error(t, err)
	require.Contains(t, err.Error(), "刷写失败")
}

func TestEngineConcurrentRunsBounded(t *testing.T) {
	// 每次构建全新缓冲，两次执行互不影响
	builder := func(context.Context, *workflow.OutputDef) (ValueSink, error) {
		return &fakeSink{}, nil
	}
	gate := make(chan struct{})
	var active, maxActive atomic.Int32

	reg := NewRegistry()
	reg.Register(workflow.TransformConvert, TransformerFunc(
		func(_ context.Context, _ *workflow.TransformDef, values []provider.Value) ([]provider.Value, error) {
			cur := active.Add(1)
			for {
				prev := maxActive.Load()
				if cur <= prev || maxActive.CompareAndSwap(prev, cur) {
					break
				}
			}
			<-gate
			active.Add(-1)
			return values, nil
		}))

	engine := NewEngine(nil, nil, zaptest.NewLogger(t),
		WithMaxConcurrentRuns(1),
		WithTransformers(reg),
		WithSinkBuilder(builder),
	)
	require.Equal(t, 1, engine.MaxConcurrentRuns())

	in := workflow.NewInputNode(&workflow.InputDef{Source: "preset"})
	tr := workflow.NewTransformNode(&workflow.TransformDef{
		Type:    workflow.TransformConvert,
		Convert: &workflow.ConvertConfig{Format: "text"},
	})
	out := outputNode("primary")
	wf := workflow.New().
		AddNode(in).AddNode(tr).AddNode(out).
		Connect(in.ID, tr.ID).
		Connect(tr.ID, out.ID)

	input := &RunInput{Values: map[workflow.NodeID][]provider.Value{
		in.ID: {textBlob("doc.txt", "content")},
	}}

	done := make(chan error, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, err := engine.Execute(context.Background(), wf, input)
			done <- err
		}()
	}

	deadline := time.Now().Add(2 * time.Second)
	for active.Load() != 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	require.EqualValues(t, 1, active.Load(), "首个执行应已进入变换")
	time.Sleep(50 * time.Millisecond)
	require.EqualValues(t, 1, maxActive.Load(), "第二个执行应在许可处等待")

	close(gate)
	require.NoError(t, <-done)
	require.NoError(t, <-done)
	require.EqualValues(t, 1, maxActive.Load())
}
