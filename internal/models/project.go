package models

import "time"

// ProjectStatus is the lifecycle state of a saved project.
type ProjectStatus string

const (
	ProjectStatusActive   ProjectStatus = "active"
	ProjectStatusArchived ProjectStatus = "archived"
	ProjectStatusDeleted  ProjectStatus = "deleted"
)

// Project is a persisted generated project.
type Project struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Directory   string        `json:"directory"`
	Status      ProjectStatus `json:"status"`
	PlanJSON    string        `json:"-"`
	FileCount   int           `json:"file_count"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}
