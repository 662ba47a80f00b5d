package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"nvisy/internal/workflow"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// 执行状态
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// WorkflowRecord 已存储的工作流定义
type WorkflowRecord struct {
	ID          string `json:"id" gorm:"primaryKey;type:uuid"`
	Name        string `json:"name" gorm:"size:255;not null"`
	Description string `json:"description" gorm:"type:text"`

	// Definition 工作流图的 JSON 文档
	Definition datatypes.JSON `json:"definition" gorm:"not null"`

	// 执行统计
	TotalRuns   int `json:"totalRuns" gorm:"default:0"`
	SuccessRuns int `json:"successRuns" gorm:"default:0"`
	FailedRuns  int `json:"failedRuns" gorm:"default:0"`

	// 时间戳
	CreatedAt time.Time  `json:"createdAt" gorm:"not null;autoCreateTime"`
	UpdatedAt time.Time  `json:"updatedAt" gorm:"not null;autoUpdateTime"`
	DeletedAt *time.Time `json:"deletedAt,omitempty" gorm:"index"`
}

// TableName 指定表名
func (WorkflowRecord) TableName() string {
	return "workflows"
}

// RunRecord 一次工作流执行记录
type RunRecord struct {
	ID         string `json:"id" gorm:"primaryKey;type:uuid"`
	WorkflowID string `json:"workflowId" gorm:"type:uuid;not null;index"`
	Status     string `json:"status" gorm:"size:50;not null"`

	// 写入与丢弃的值数量，完成后回填
	Written int `json:"written" gorm:"default:0"`
	Dropped int `json:"dropped" gorm:"default:0"`

	ErrorMessage string `json:"errorMessage,omitempty" gorm:"type:text"`

	StartedAt   time.Time  `json:"startedAt" gorm:"not null"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

// TableName 指定表名
func (RunRecord) TableName() string {
	return "workflow_runs"
}

// Repository 工作流定义与执行记录的存取服务
type Repository struct {
	db *gorm.DB
}

// NewRepository 创建存取服务
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Save 校验并保存工作流定义
func (r *Repository) Save(ctx context.Context, name, description string, wf *workflow.Workflow) (*WorkflowRecord, error) {
	if name == "" {
		return nil, fmt.Errorf("工作流名称不能为空")
	}
	if wf == nil {
		return nil, fmt.Errorf("工作流定义不能为空")
	}
	if err := wf.Validate(); err != nil {
		return nil, err
	}

	definition, err := json.Marshal(wf)
	if err != nil {
		return nil, fmt.Errorf("序列化工作流定义失败: %w", err)
	}

	record := &WorkflowRecord{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Definition:  datatypes.JSON(definition),
		CreatedAt:   time.Now().UTC(),
		UpdatedAt:   time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(record).Error; err != nil {
		return nil, fmt.Errorf("保存工作流失败: %w", err)
	}
	return record, nil
}

// Get 查询单个工作流记录
func (r *Repository) Get(ctx context.Context, id string) (*WorkflowRecord, error) {
	var record WorkflowRecord
	if err := r.db.WithContext(ctx).
		Where("id = ? AND deleted_at IS NULL", id).
		First(&record).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, fmt.Errorf("工作流不存在: %s", id)
		}
		return nil, fmt.Errorf("查询工作流失败: %w", err)
	}
	return &record, nil
}

// Definition 取出并反序列化工作流定义
func (r *Repository) Definition(ctx context.Context, id string) (*workflow.Workflow, error) {
	record, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	var wf workflow.Workflow
	if err := json.Unmarshal(record.Definition, &wf); err != nil {
		return nil, fmt.Errorf("解析工作流定义失败: %w", err)
	}
	return &wf, nil
}

// List 查询工作流列表
func (r *Repository) List(ctx context.Context) ([]*WorkflowRecord, error) {
	var records []*WorkflowRecord
	if err := r.db.WithContext(ctx).
		Where("deleted_at IS NULL").
		Order("created_at DESC").
		Find(&records).Error; err != nil {
		return nil, fmt.Errorf("查询工作流列表失败: %w", err)
	}
	return records, nil
}

// Delete 软删除工作流
func (r *Repository) Delete(ctx context.Context, id string) error {
	record, err := r.Get(ctx, id)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	if err := r.db.WithContext(ctx).
		Model(record).
		Updates(map[string]any{
			"deleted_at": now,
			"updated_at": now,
		}).Error; err != nil {
		return fmt.Errorf("删除工作流失败: %w", err)
	}
	return nil
}

// BeginRun 创建执行记录
func (r *Repository) BeginRun(ctx context.Context, workflowID string) (*RunRecord, error) {
	run := &RunRecord{
		ID:         uuid.New().String(),
		WorkflowID: workflowID,
		Status:     RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	if err := r.db.WithContext(ctx).Create(run).Error; err != nil {
		return nil, fmt.Errorf("创建执行记录失败: %w", err)
	}
	return run, nil
}

// FinishRun 回填执行结果并更新工作流统计
func (r *Repository) FinishRun(ctx context.Context, runID, status string, written, dropped int, errMessage string) error {
	var run RunRecord
	if err := r.db.WithContext(ctx).
		Where("id = ?", runID).
		First(&run).Error; err != nil {
		return fmt.Errorf("查询执行记录失败: %w", err)
	}

	now := time.Now().UTC()
	updates := map[string]any{
		"status":       status,
		"written":      written,
		"dropped":      dropped,
		"completed_at": now,
	}
	if errMessage != "" {
		updates["error_message"] = errMessage
	}
	if err := r.db.WithContext(ctx).
		Model(&run).
		Updates(updates).Error; err != nil {
		return fmt.Errorf("更新执行记录失败: %w", err)
	}

	stats := map[string]any{
		"total_runs": gorm.Expr("total_runs + 1"),
		"updated_at": now,
	}
	switch status {
	case RunStatusCompleted:
		stats["success_runs"] = gorm.Expr("success_runs + 1")
	case RunStatusFailed:
		stats["failed_runs"] = gorm.Expr("failed_runs + 1")
	}
	if err := r.db.WithContext(ctx).
		Model(&WorkflowRecord{}).
		Where("id = ?", run.WorkflowID).
		Updates(stats).Error; err != nil {
		return fmt.Errorf("更新工作流统计失败: %w", err)
	}
	return nil
}

// Runs 查询工作流的执行历史，时间倒序
func (r *Repository) Runs(ctx context.Context, workflowID string) ([]*RunRecord, error) {
	var runs []*RunRecord
	if err := r.db.WithContext(ctx).
		Where("workflow_id = ?", workflowID).
		Order("started_at DESC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("查询执行历史失败: %w", err)
	}
	return runs, nil
}
