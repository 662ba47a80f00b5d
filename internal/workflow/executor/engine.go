package executor

import (
	"context"
	"fmt"
	"time"

	"nvisy/internal/document"
	"nvisy/internal/metrics"
	"nvisy/internal/provider"
	"nvisy/internal/workflow"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// defaultMaxConcurrentRuns 默认并发执行的工作流数量上限
const defaultMaxConcurrentRuns = 5

// tracerName 执行引擎的追踪器名
const tracerName = "nvisy/internal/workflow/executor"

// CredentialResolver 凭据解析器：按标识取出输出后端的访问凭据
type CredentialResolver interface {
	Resolve(ctx context.Context, id string) (*provider.Credentials, error)
}

// ValueSink 输出节点的值接收端，*provider.Sink 是生产实现
type ValueSink interface {
	Enqueue(ctx context.Context, v provider.Value) error
	Flush(ctx context.Context) (*provider.WriteReceipt, error)
	Close(ctx context.Context) (*provider.WriteReceipt, error)
	Dropped() int64
	Backend() provider.BackendKind
}

// SinkBuilder 为单个输出节点构建值接收端
type SinkBuilder func(ctx context.Context, def *workflow.OutputDef) (ValueSink, error)

// Engine 工作流执行引擎
//
// 一次执行对应一份文档数据沿图流动：输入节点产出值，
// 变换节点加工，条件路由按文档画像选择分支，输出节点
// 经流式缓冲批量写入后端。许可通道限定并发执行的数量
type Engine struct {
	repo         *Repository
	resolver     CredentialResolver
	transformers *Registry
	readers      map[string]InputReader
	buildSink    SinkBuilder

	permits    chan struct{}
	sinkBuffer int
	logger     *zap.Logger
}

// EngineOption 用于自定义 Engine 配置
type EngineOption func(*Engine)

// WithMaxConcurrentRuns 配置并发执行上限
func WithMaxConcurrentRuns(n int) EngineOption {
	return func(e *Engine) {
		if n > 0 {
			e.permits = make(chan struct{}, n)
		}
	}
}

// WithTransformers 替换变换器注册表
func WithTransformers(r *Registry) EngineOption {
	return func(e *Engine) {
		if r != nil {
			e.transformers = r
		}
	}
}

// WithSinkBuilder 替换输出构建方式，测试中用于注入桩实现
func WithSinkBuilder(b SinkBuilder) EngineOption {
	return func(e *Engine) {
		if b != nil {
			e.buildSink = b
		}
	}
}

// WithSinkBufferSize 配置输出缓冲容量
func WithSinkBufferSize(n int) EngineOption {
	return func(e *Engine) {
		e.sinkBuffer = n
	}
}

// WithInputReader 注册输入读取器，同来源重复注册以后者为准
func WithInputReader(source string, r InputReader) EngineOption {
	return func(e *Engine) {
		e.readers[source] = r
	}
}

// NewEngine 创建执行引擎
func NewEngine(repo *Repository, resolver CredentialResolver, logger *zap.Logger, opts ...EngineOption) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Engine{
		repo:         repo,
		resolver:     resolver,
		transformers: NewRegistry(),
		readers: map[string]InputReader{
			"file":   FileReader{},
			"inline": InlineReader{},
		},
		permits: make(chan struct{}, defaultMaxConcurrentRuns),
		logger:  logger,
	}
	e.buildSink = e.defaultSinkBuilder
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// MaxConcurrentRuns 返回当前配置的并发上限
func (e *Engine) MaxConcurrentRuns() int {
	return cap(e.permits)
}

// defaultSinkBuilder 解析凭据并经路由层构建流式缓冲
func (e *Engine) defaultSinkBuilder(ctx context.Context, def *workflow.OutputDef) (ValueSink, error) {
	if def.Params.CredentialsID == uuid.Nil {
		return nil, fmt.Errorf("输出节点缺少凭据引用")
	}
	if e.resolver == nil {
		return nil, fmt.Errorf("未配置凭据解析器")
	}

	creds, err := e.resolver.Resolve(ctx, def.Params.CredentialsID.String())
	if err != nil {
		return nil, err
	}
	p, err := provider.IntoProvider(ctx, &def.Params, creds, e.logger)
	if err != nil {
		return nil, err
	}
	return provider.NewSink(p, provider.SinkOptions{
		BufferSize: e.sinkBuffer,
		Logger:     e.logger,
	}), nil
}

// RunInput 一次执行的输入
type RunInput struct {
	// Info 文档画像，条件路由据此选择分支
	Info *document.Info
	// Values 预置的输入节点数据，优先于读取器
	Values map[workflow.NodeID][]provider.Value
}

// RunResult 一次执行的结果
type RunResult struct {
	// Written 全部输出节点成功写入的值总数
	Written int
	// Dropped 因形状不符被丢弃的值总数
	Dropped int
	// Receipts 各输出节点的写入回执
	Receipts map[workflow.NodeID]*provider.WriteReceipt
	Duration time.Duration
}

// Execute 执行工作流，并发数达到上限时阻塞等待
func (e *Engine) Execute(ctx context.Context, wf *workflow.Workflow, input *RunInput) (*RunResult, error) {
	select {
	case e.permits <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-e.permits }()

	ctx, span := otel.Tracer(tracerName).Start(ctx, "engine.run")
	defer span.End()
	span.SetAttributes(
		attribute.String("workflow.name", wf.Metadata.Name),
		attribute.Int("workflow.nodes", wf.NodeCount()),
		attribute.Int("workflow.edges", wf.EdgeCount()),
	)

	start := time.Now()
	result, err := e.run(ctx, wf, input)
	duration := time.Since(start)
	metrics.WorkflowRunDuration.Observe(duration.Seconds())

	if err != nil {
		metrics.WorkflowRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}
	result.Duration = duration
	metrics.WorkflowRunsTotal.WithLabelValues("success").Inc()
	return result, nil
}

// run 单次执行：校验、建输出缓冲、按拓扑序推值、统一刷写
func (e *Engine) run(ctx context.Context, wf *workflow.Workflow, input *RunInput) (*RunResult, error) {
	if input == nil {
		input = &RunInput{}
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}
	order, err := wf.TopoOrder()
	if err != nil {
		return nil, err
	}

	sinks := make(map[workflow.NodeID]ValueSink)
	abort := func() {
		cleanup := context.WithoutCancel(ctx)
		for _, s := range sinks {
			_, _ = s.Close(cleanup)
		}
	}

	for id, node := range wf.OutputNodes() {
		sink, err := e.buildSink(ctx, node.Output)
		if err != nil {
			abort()
			return nil, fmt.Errorf("构建输出节点 %s 失败: %w", id, err)
		}
		sinks[id] = sink
	}

	info := input.Info
	inbox := make(map[workflow.NodeID][]provider.Value)
	for id, vals := range input.Values {
		inbox[id] = append(inbox[id], vals...)
	}

	// 沿全部出边转发；条件路由不经此路径
	forward := func(from workflow.NodeID, out []provider.Value) {
		if len(out) == 0 {
			return
		}
		for _, edge := range wf.Outgoing(from) {
			inbox[edge.To] = append(inbox[edge.To], out...)
		}
	}

	for _, id := range order {
		if ctx.Err() != nil {
			abort()
			return nil, ctx.Err()
		}
		node, _ := wf.Node(id)
		arrived := inbox[id]

		switch node.Kind {
		case workflow.NodeKindInput:
			vals := arrived
			if len(vals) == 0 && node.Input != nil {
				reader, ok := e.readers[node.Input.Source]
				if !ok {
					abort()
					return nil, fmt.Errorf("未注册的输入来源: %s", node.Input.Source)
				}
				read, readInfo, err := reader.Read(ctx, node.Input)
				if err != nil {
					abort()
					return nil, fmt.Errorf("读取输入节点 %s 失败: %w", id, err)
				}
				vals = read
				if info == nil {
					info = readInfo
				}
			}
			forward(id, vals)

		case workflow.NodeKindTransform:
			out, err := e.transformers.Apply(ctx, node.Transform, arrived)
			if err != nil {
				abort()
				return nil, fmt.Errorf("变换节点 %s 失败: %w", id, err)
			}
			forward(id, out)

		case workflow.NodeKindSwitch:
			target := node.Switch.Evaluate(info)
			if target == nil {
				e.logger.Debug("条件路由无匹配分支，数据在此终止",
					zap.String("node_id", id.String()),
				)
				continue
			}
			if _, ok := wf.Node(*target); !ok {
				abort()
				return nil, fmt.Errorf("条件路由 %s 指向不存在的节点: %s", id, *target)
			}
			inbox[*target] = append(inbox[*target], arrived...)

		case workflow.NodeKindOutput:
			sink := sinks[id]
			for _, v := range arrived {
				if err := sink.Enqueue(ctx, v); err != nil {
					abort()
					return nil, fmt.Errorf("输出节点 %s 入队失败: %w", id, err)
				}
			}
		}
	}

	result := &RunResult{Receipts: make(map[workflow.NodeID]*provider.WriteReceipt, len(sinks))}
	var firstErr error
	for id, sink := range sinks {
		receipt, err := sink.Close(ctx)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("输出节点 %s 刷写失败: %w", id, err)
			}
			continue
		}
		result.Receipts[id] = receipt
		result.Written += receipt.Written
		result.Dropped += receipt.Dropped
	}
	if firstErr != nil {
		return nil, firstErr
	}
	return result, nil
}

// RunStored 执行已存储的工作流并落执行记录，供队列处理器调用
func (e *Engine) RunStored(ctx context.Context, workflowID string) error {
	if e.repo == nil {
		return fmt.Errorf("未配置工作流存储")
	}

	wf, err := e.repo.Definition(ctx, workflowID)
	if err != nil {
		return err
	}
	run, err := e.repo.BeginRun(ctx, workflowID)
	if err != nil {
		return err
	}

	e.logger.Info("开始执行工作流",
		zap.String("workflow_id", workflowID),
		zap.String("run_id", run.ID),
	)

	result, execErr := e.Execute(ctx, wf, nil)
	if execErr != nil {
		record := context.WithoutCancel(ctx)
		if err := e.repo.FinishRun(record, run.ID, RunStatusFailed, 0, 0, execErr.Error()); err != nil {
			e.logger.Error("回填失败状态失败", zap.Error(err))
		}
		return execErr
	}

	if err := e.repo.FinishRun(ctx, run.ID, RunStatusCompleted, result.Written, result.Dropped, ""); err != nil {
		return err
	}

	e.logger.Info("工作流执行完成",
		zap.String("workflow_id", workflowID),
		zap.String("run_id", run.ID),
		zap.Int("written", result.Written),
		zap.Int("dropped", result.Dropped),
		zap.Duration("duration", result.Duration),
	)
	return nil
}
