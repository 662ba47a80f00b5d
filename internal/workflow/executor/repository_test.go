package executor

import (
	"context"
	"fmt"
	"testing"
	"time"

	"nvisy/internal/provider"
	"nvisy/internal/workflow"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// initTestDB 创建内存数据库用于测试
func initTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:executor_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("打开 sqlite 失败: %v", err)
	}
	if err := db.AutoMigrate(&WorkflowRecord{}, &RunRecord{}); err != nil {
		t.Fatalf("迁移表结构失败: %v", err)
	}
	return db
}

// linearWorkflow 输入接输出的最小合法工作流
func linearWorkflow() *workflow.Workflow {
	in := workflow.NewInputNode(&workflow.InputDef{
		Source:  "inline",
		Options: map[string]any{"content": "hello world", "name": "greeting.txt"},
	})
	out := workflow.NewOutputNode(&workflow.OutputDef{
		Params: provider.OutputParams{
			Kind: provider.KindS3,
			S3:   &provider.S3Params{Bucket: "primary"},
		},
	})
	return workflow.New().
		AddNode(in).AddNode(out).
		Connect(in.ID, out.ID)
}

func TestRepositorySaveDefinitionRoundTrip(t *testing.T) {
	repo := NewRepository(initTestDB(t))
	ctx := context.Background()

	wf := linearWorkflow()
	record, err := repo.Save(ctx, "归档流程", "入库前归档", wf)
	require.NoError(t, err)
	require.NotEmpty(t, record.ID)

	loaded, err := repo.Definition(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, wf.NodeCount(), loaded.NodeCount())
	require.Equal(t, wf.EdgeCount(), loaded.EdgeCount())
	require.NoError(t, loaded.Validate())
}

func TestRepositorySaveRejectsInvalidWorkflow(t *testing.T) {
	repo := NewRepository(initTestDB(t))

	// 只有输入节点，缺输出
	wf := workflow.New().AddNode(workflow.NewInputNode(&workflow.InputDef{Source: "inline"}))
	_, err := repo.Save(context.Background(), "残缺流程", "", wf)
	require.Error(t, err)

	ve, ok := workflow.AsValidationError(err)
	require.True(t, ok)
	require.Equal(t, workflow.ValidationNoOutputNode, ve.Kind)
}

func TestRepositoryListExcludesDeleted(t *testing.T) {
	repo := NewRepository(initTestDB(t))
	ctx := context.Background()

	first, err := repo.Save(ctx, "甲", "", linearWorkflow())
	require.NoError(t, err)
	_, err = repo.Save(ctx, "乙", "", linearWorkflow())
	require.NoError(t, err)

	require.NoError(t, repo.Delete(ctx, first.ID))

	records, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "乙", records[0].Name)

	if _, err := repo.Get(ctx, first.ID); err == nil {
		t.Fatal("已删除的工作流不应可见")
	}
}

func TestRepositoryFinishRunUpdatesStats(t *testing.T) {
	repo := NewRepository(initTestDB(t))
	ctx := context.Background()

	record, err := repo.Save(ctx, "统计流程", "", linearWorkflow())
	require.NoError(t, err)

	run, err := repo.BeginRun(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, RunStatusRunning, run.Status)

	require.NoError(t, repo.FinishRun(ctx, run.ID, RunStatusCompleted, 5, 1, ""))

	runs, err := repo.Runs(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, RunStatusCompleted, runs[0].Status)
	require.Equal(t, 5, runs[0].Written)
	require.Equal(t, 1, runs[0].Dropped)
	require.NotNil(t, runs[0].CompletedAt)

	updated, err := repo.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.TotalRuns)
	require.Equal(t, 1, updated.SuccessRuns)
	require.Equal(t, 0, updated.FailedRuns)
}

func TestEngineRunStored(t *testing.T) {
	repo := NewRepository(initTestDB(t))
	ctx := context.Background()

	record, err := repo.Save(ctx, "内联入库", "", linearWorkflow())
	require.NoError(t, err)

	registry := newFakeSinkRegistry()
	engine := NewEngine(repo, nil, zaptest.NewLogger(t), WithSinkBuilder(registry.build))

	require.NoError(t, engine.RunStored(ctx, record.ID))

	// 内联内容经由读取器进入输出
	require.Len(t, registry.sink("primary").received(), 1)

	runs, err := repo.Runs(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, RunStatusCompleted, runs[0].Status)
	require.Equal(t, 1, runs[0].Written)

	updated, err := repo.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.SuccessRuns)
}

func TestEngineRunStoredFailureRecorded(t *testing.T) {
	repo := NewRepository(initTestDB(t))
	ctx := context.Background()

	record, err := repo.Save(ctx, "断连流程", "", linearWorkflow())
	require.NoError(t, err)

	failing := func(context.Context, *workflow.OutputDef) (ValueSink, error) {
		return nil, fmt.Errorf("凭据不存在")
	}
	engine := NewEngine(repo, nil, zaptest.NewLogger(t), WithSinkBuilder(failing))

	err = engine.RunStored(ctx, record.ID)
	require.Error(t, err)

	runs, err := repo.Runs(ctx, record.ID)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Equal(t, RunStatusFailed, runs[0].Status)
	require.Contains(t, runs[0].ErrorMessage, "凭据不存在")

	updated, err := repo.Get(ctx, record.ID)
	require.NoError(t, err)
	require.Equal(t, 1, updated.FailedRuns)
}

func TestEngineRunStoredMissingWorkflow(t *testing.T) {
	repo := NewRepository(initTestDB(t))
	engine := NewEngine(repo, nil, zaptest.NewLogger(t))

	err := engine.RunStored(context.Background(), "1f1e9bfb-31a3-4d41-a52a-58b514b2a9f7")
	require.Error(t, err)
	require.Contains(t, err.Error(), "工作流不存在")
}
