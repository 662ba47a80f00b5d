package tasks

// Task Types
const (
	TypeRunWorkflow = "workflow:run"
)

// RunWorkflowPayload 工作流执行任务载荷
type RunWorkflowPayload struct {
	WorkflowID  string `json:"workflow_id"`
	TriggeredBy string `json:"triggered_by,omitempty"`
}
