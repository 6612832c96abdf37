package store

import (
	"context"
	"errors"

	"github.com/vibeagents/vibe/internal/models"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("not found")

// Store defines the persistence interface for generated projects.
type Store interface {
	CreateProject(ctx context.Context, p *models.Project) error
	GetProject(ctx context.Context, id string) (*models.Project, error)
	GetProjectByName(ctx context.Context, name string) (*models.Project, error)
	ListProjects(ctx context.Context, status models.ProjectStatus, limit int) ([]*models.Project, error)
	UpdateProject(ctx context.Context, p *models.Project) error
	DeleteProject(ctx context.Context, id string) error // soft delete

	// Lifecycle
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}
