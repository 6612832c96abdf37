package models

// Phase is the pipeline state visible to observers. Transitions are
// emitted before the next phase's first agent call, so a session never
// sees two phases active at once.
type Phase string

const (
	PhasePlanning  Phase = "planning"
	PhaseCoding    Phase = "coding"
	PhaseReviewing Phase = "reviewing"
	PhaseTesting   Phase = "testing"
	PhaseDebugging Phase = "debugging"
	PhaseComplete  Phase = "complete"
	PhaseFailed    Phase = "failed"
)

// BuildResult is the terminal artifact of a pipeline run. On failure the
// Files map holds whatever was produced before the failing step.
type BuildResult struct {
	Success     bool              `json:"success"`
	ProjectName string            `json:"project,omitempty"`
	ProjectID   string            `json:"project_id,omitempty"`
	Files       map[string]string `json:"files,omitempty"`
	TestFiles   map[string]string `json:"test_files,omitempty"`
	Plan        *Plan             `json:"plan,omitempty"`
	Error       string            `json:"error,omitempty"`
}

// DebugAttempt records one iteration of the debug-retry loop.
type DebugAttempt struct {
	Attempt   int    `json:"attempt"` // 1-based, never exceeds Max
	Max       int    `json:"max"`
	Diagnosis string `json:"diagnosis,omitempty"`
	FilePath  string `json:"file_path,omitempty"`
	Fixed     bool   `json:"fixed"`
}
