package models

import "fmt"

// TaskStatus represents the completion state of a planned task.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
	TaskStatusFailed     TaskStatus = "failed"
)

// Task is one unit of planned work inside a build.
type Task struct {
	ID          int        `json:"id"` // 1-based ordinal, contiguous within a plan
	Title       string     `json:"title"`
	Description string     `json:"description"`
	File        string     `json:"file,omitempty"`
	Status      TaskStatus `json:"status,omitempty"`
}

// TechStack holds the plan's declared technology choices.
type TechStack struct {
	Language     string   `json:"language"`
	Framework    string   `json:"framework,omitempty"`
	Dependencies []string `json:"dependencies,omitempty"`
}

// PlannedFile describes a file the plan intends to create.
type PlannedFile struct {
	Path    string `json:"path"`
	Purpose string `json:"purpose,omitempty"`
}

// Plan is the output of the planning phase.
type Plan struct {
	ProjectName   string        `json:"project_name"`
	Summary       string        `json:"summary"`
	TechStack     TechStack     `json:"tech_stack"`
	FilesToCreate []PlannedFile `json:"files_to_create,omitempty"`
	Tasks         []Task        `json:"tasks"`
}

// Validate checks the plan invariants: a non-empty task list with
// contiguous, unique 1-based ordinals.
func (p *Plan) Validate() error {
	if len(p.Tasks) == 0 {
		return fmt.Errorf("plan has no tasks")
	}
	seen := make(map[int]bool, len(p.Tasks))
	for _, t := range p.Tasks {
		if t.ID < 1 || t.ID > len(p.Tasks) {
			return fmt.Errorf("task ordinal %d out of range 1..%d", t.ID, len(p.Tasks))
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate task ordinal %d", t.ID)
		}
		seen[t.ID] = true
	}
	return nil
}
