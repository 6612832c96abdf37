package pipeline

import "github.com/vibeagents/vibe/internal/models"

// EmitFunc delivers a pipeline event to the owning session.
type EmitFunc func(event string, data any)

// PhaseEvent is the payload of "phase". Observers never see two phases
// active at once: the event is emitted before the next phase's first
// agent call.
type PhaseEvent struct {
	Name models.Phase `json:"name"`
}

// AgentMessage relays one event from an agent's stream.
type AgentMessage struct {
	Agent   string `json:"agent"`
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Tool    string `json:"tool,omitempty"`
}

// PlanReady is the payload of "plan_ready".
type PlanReady struct {
	ProjectName string        `json:"project_name"`
	Summary     string        `json:"summary"`
	Tasks       []models.Task `json:"tasks"`
}

// TaskStart is the payload of "task_start".
type TaskStart struct {
	TaskNumber int    `json:"task_number"`
	Total      int    `json:"total"`
	Title      string `json:"title"`
}

// FileEvent is the payload of "file_created" and "file_updated".
type FileEvent struct {
	Path string `json:"path"`
	Code string `json:"code,omitempty"`
}

// ReviewComplete is the payload of "review_complete".
type ReviewComplete struct {
	Status  models.ReviewVerdict `json:"status"`
	Summary string               `json:"summary"`
	Issues  []models.ReviewIssue `json:"issues,omitempty"`
}

// TestResult is the payload of "test_result".
type TestResult struct {
	Success bool   `json:"success"`
	Output  string `json:"output,omitempty"`
}

// BuildComplete is the payload of "build_complete".
type BuildComplete struct {
	Success bool     `json:"success"`
	Project string   `json:"project,omitempty"`
	Files   []string `json:"files"`
	Error   string   `json:"error,omitempty"`
}

// ProjectSaved is the payload of "project_saved".
type ProjectSaved struct {
	ProjectID string `json:"project_id"`
	Directory string `json:"directory"`
}
