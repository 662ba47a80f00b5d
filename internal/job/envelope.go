package job

import (
	"time"

	"github.com/google/uuid"
)

// 作业默认参数
const (
	// DefaultMaxRetries 默认最大重试次数
	DefaultMaxRetries = 3
	// DefaultTimeoutSeconds 默认单次处理超时（秒）
	DefaultTimeoutSeconds = 300
	// SchemaVersion 当前信封结构版本
	SchemaVersion = 1
)

// Priority 作业优先级
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityNormal   Priority = "normal"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// Status 作业状态
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// Terminal 是否为终态，终态作业不再重试
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// StagePayload 阶段专属载荷，三种载荷各自声明所属阶段
type StagePayload interface {
	Stage() Stage
}

// Envelope 文档作业信封，P 为阶段专属载荷
//
// 信封由上游发布者创建，经持久化队列投递，
// 逻辑上每个工作者实例恰好消费一次
type Envelope[P StagePayload] struct {
	ID       uuid.UUID `json:"id"`
	FileID   uuid.UUID `json:"file_id"`
	Version  int       `json:"version"`
	Priority Priority  `json:"priority"`

	MaxRetries     int `json:"max_retries"`
	RetryCount     int `json:"retry_count"`
	TimeoutSeconds int `json:"timeout_seconds"`

	CreatedAt    time.Time  `json:"created_at"`
	ScheduledFor *time.Time `json:"scheduled_for,omitempty"`
	Status       Status     `json:"status"`

	Payload P `json:"payload"`
}

// New 创建带默认参数的作业信封，ID 为时间有序的 UUIDv7
func New[P StagePayload](fileID uuid.UUID, payload P) *Envelope[P] {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return &Envelope[P]{
		ID:             id,
		FileID:         fileID,
		Version:        SchemaVersion,
		Priority:       PriorityNormal,
		MaxRetries:     DefaultMaxRetries,
		RetryCount:     0,
		TimeoutSeconds: DefaultTimeoutSeconds,
		CreatedAt:      time.Now().UTC(),
		Status:         StatusPending,
		Payload:        payload,
	}
}

// Stage 信封所属阶段，由载荷决定
func (e *Envelope[P]) Stage() Stage {
	return e.Payload.Stage()
}

// Timeout 单次处理超时
func (e *Envelope[P]) Timeout() time.Duration {
	secs := e.TimeoutSeconds
	if secs <= 0 {
		secs = DefaultTimeoutSeconds
	}
	return time.Duration(secs) * time.Second
}

// CanRetry 是否还可重试：未达上限且不处于终态
func (e *Envelope[P]) CanRetry() bool {
	return e.RetryCount < e.MaxRetries && !e.Status.Terminal()
}

// NextRetry 递增重试计数
func (e *Envelope[P]) NextRetry() {
	e.RetryCount++
}

// Ready 是否已到执行时间
func (e *Envelope[P]) Ready() bool {
	if e.ScheduledFor == nil {
		return true
	}
	return !time.Now().Before(*e.ScheduledFor)
}

// Age 信封创建至今的时长
func (e *Envelope[P]) Age() time.Duration {
	d := time.Since(e.CreatedAt)
	if d < 0 {
		return 0
	}
	return d
}

// WithPriority 设置优先级
func (e *Envelope[P]) WithPriority(p Priority) *Envelope[P] {
	e.Priority = p
	return e
}

// WithMaxRetries 设置最大重试次数
func (e *Envelope[P]) WithMaxRetries(n int) *Envelope[P] {
	e.MaxRetries = n
	return e
}

// WithTimeout 设置单次处理超时
func (e *Envelope[P]) WithTimeout(d time.Duration) *Envelope[P] {
	e.TimeoutSeconds = int(d / time.Second)
	return e
}

// WithSchedule 设置延迟执行时间
func (e *Envelope[P]) WithSchedule(when time.Time) *Envelope[P] {
	e.ScheduledFor = &when
	return e
}
