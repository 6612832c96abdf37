package models

// Intent is the router's classification of a chat message.
type Intent string

const (
	IntentConversation Intent = "conversation"
	IntentBuild        Intent = "build"
	IntentCodeOnly     Intent = "code_only"
	IntentFix          Intent = "fix"
	IntentReview       Intent = "review"
	IntentTest         Intent = "test"
)

// ValidIntent reports whether s is one of the closed intent set.
func ValidIntent(s Intent) bool {
	switch s {
	case IntentConversation, IntentBuild, IntentCodeOnly, IntentFix, IntentReview, IntentTest:
		return true
	}
	return false
}

// RouteDecision is the parsed classification result for one message.
type RouteDecision struct {
	Action     Intent  `json:"action"`
	Reasoning  string  `json:"reasoning,omitempty"`
	Response   string  `json:"response,omitempty"`
	Task       string  `json:"task_for_agents,omitempty"`
	Confidence float64 `json:"confidence"`
}

// ChatResponse is the uniform client-facing result for every dispatched
// intent. Fields not relevant to the action are omitted.
type ChatResponse struct {
	Type      string        `json:"type"` // matches the dispatched intent
	Success   bool          `json:"success"`
	Response  string        `json:"response,omitempty"`
	Project   string        `json:"project,omitempty"`
	Files     []string      `json:"files,omitempty"`
	FilePath  string        `json:"file_path,omitempty"`
	Code      string        `json:"code,omitempty"`
	Diagnosis string        `json:"diagnosis,omitempty"`
	Verdict   ReviewVerdict `json:"verdict,omitempty"`
	Issues    []ReviewIssue `json:"issues,omitempty"`
	Summary   string        `json:"summary,omitempty"`
	Error     string        `json:"error,omitempty"`
}
