package models

// ReviewVerdict is the outcome of a code review.
type ReviewVerdict string

const (
	ReviewVerdictApproved     ReviewVerdict = "approved"
	ReviewVerdictNeedsChanges ReviewVerdict = "needs_changes"
)

// IssueSeverity classifies how serious a review finding is.
type IssueSeverity string

const (
	SeverityInfo     IssueSeverity = "info"
	SeverityWarning  IssueSeverity = "warning"
	SeverityCritical IssueSeverity = "critical"
)

// ReviewIssue is a single finding from the reviewer.
type ReviewIssue struct {
	Severity    IssueSeverity `json:"severity"`
	Description string        `json:"description"`
	File        string        `json:"file,omitempty"`
}

// Review is the output of the review phase.
type Review struct {
	Verdict ReviewVerdict `json:"verdict"`
	Summary string        `json:"summary"`
	Issues  []ReviewIssue `json:"issues,omitempty"`
}

// Critical returns the subset of issues with critical severity.
func (r *Review) Critical() []ReviewIssue {
	var out []ReviewIssue
	for _, i := range r.Issues {
		if i.Severity == SeverityCritical {
			out = append(out, i)
		}
	}
	return out
}
