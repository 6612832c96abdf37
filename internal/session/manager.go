package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/vibeagents/vibe/internal/models"
	"github.com/vibeagents/vibe/internal/store"
)

const (
	// DefaultEventBuffer bounds each session's replayable event log.
	DefaultEventBuffer = 512
	// DefaultMaxPerConn bounds concurrent sessions per connection.
	DefaultMaxPerConn = 10
)

var (
	// ErrBusy rejects a message for a session already processing one.
	// The in-flight work is unaffected.
	ErrBusy = errors.New("session is busy processing another message")
	// ErrNotFound covers unknown and already-closed session ids.
	ErrNotFound = errors.New("session not found")
	// ErrSessionLimit rejects session creation beyond the per-connection cap.
	ErrSessionLimit = errors.New("session limit reached for this connection")
)

// Config carries the session manager tunables.
type Config struct {
	MaxPerConn  int
	EventBuffer int
	// Grace closes a session's state this long after its connection
	// detaches. Zero keeps detached sessions indefinitely.
	Grace time.Duration
}

// Manager is the registry of live sessions. All operations are safe for
// concurrent use.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session

	factory Factory
	store   store.Store // nil disables resume
	cfg     Config
	log     *slog.Logger
}

// NewManager wires a session manager around a per-session factory.
func NewManager(factory Factory, st store.Store, cfg Config, log *slog.Logger) *Manager {
	if cfg.MaxPerConn <= 0 {
		cfg.MaxPerConn = DefaultMaxPerConn
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = DefaultEventBuffer
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
		store:    st,
		cfg:      cfg,
		log:      log,
	}
}

// Create registers a new idle session for the given connection. Creation
// is atomic: the id is never handed out before the session is routable.
func (m *Manager) Create(connID string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, s := range m.sessions {
		if s.ConnID == connID {
			count++
		}
	}
	if count >= m.cfg.MaxPerConn {
		return nil, fmt.Errorf("%w (max %d)", ErrSessionLimit, m.cfg.MaxPerConn)
	}

	s := &Session{
		ID:        store.NewULID(),
		ConnID:    connID,
		CreatedAt: time.Now().UTC(),
		ws:        models.NewWorkspace(),
	}
	s.chat, s.builder = m.factory(func(event string, data any) {
		s.deliver(event, data, m.cfg.EventBuffer)
	})
	m.sessions[s.ID] = s

	m.log.Info("session created", "session", s.ID, "conn", connID)
	return s, nil
}

// Get returns a live session by id.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("session %s: %w", id, ErrNotFound)
	}
	return s, nil
}

// List returns summaries of the connection's sessions, oldest first.
func (m *Manager) List(connID string) []Info {
	m.mu.Lock()
	var out []*Session
	for _, s := range m.sessions {
		if s.ConnID == connID {
			out = append(out, s)
		}
	}
	m.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	infos := make([]Info, len(out))
	for i, s := range out {
		infos[i] = s.info()
	}
	return infos
}

// Count returns the number of live sessions across all connections.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Close tears a session down. Later events for its id are dropped, and
// the id is never reused (ids are ULIDs).
func (m *Manager) Close(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("session %s: %w", id, ErrNotFound)
	}

	s.mu.Lock()
	s.closed = true
	s.sink = nil
	if s.grace != nil {
		s.grace.Stop()
	}
	s.mu.Unlock()

	m.log.Info("session closed", "session", id)
	return nil
}

// Attach connects a sink to a session, replaying the buffered event log
// in order before live delivery resumes. Re-attaching adopts the session
// for the new connection and cancels any pending grace teardown.
func (m *Manager) Attach(id, connID string, sink Sink) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	// The lock is held across the replay and the sink is only published
	// after it: an in-flight dispatch blocks in deliver until the backlog
	// has drained, so the new connection never sees a live event ahead of
	// a buffered one.
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ConnID = connID
	if s.grace != nil {
		s.grace.Stop()
		s.grace = nil
	}
	for _, ev := range s.events {
		sink(ev)
	}
	s.sink = sink
	return nil
}

// Detach removes a session's sink. The session and its event log live on.
func (m *Manager) Detach(id string) {
	s, err := m.Get(id)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.sink = nil
	s.mu.Unlock()
}

// DetachConn detaches every session of a closing connection. With a grace
// window configured, sessions not re-attached in time are closed.
func (m *Manager) DetachConn(connID string) {
	m.mu.Lock()
	var detached []*Session
	for _, s := range m.sessions {
		if s.ConnID == connID {
			detached = append(detached, s)
		}
	}
	m.mu.Unlock()

	for _, s := range detached {
		s.mu.Lock()
		s.sink = nil
		if m.cfg.Grace > 0 {
			id := s.ID
			s.grace = time.AfterFunc(m.cfg.Grace, func() {
				if err := m.Close(id); err == nil {
					m.log.Info("session expired after grace window", "session", id)
				}
			})
		}
		s.mu.Unlock()
	}
}

// MessageKind selects a session operation for Dispatch.
type MessageKind string

const (
	KindChat   MessageKind = "chat"
	KindBuild  MessageKind = "build"
	KindResume MessageKind = "resume"
	KindClear  MessageKind = "clear"
)

// Dispatch runs one operation on a session asynchronously. It returns
// ErrBusy when the session is already processing; the rejection does not
// disturb the in-flight work.
func (m *Manager) Dispatch(ctx context.Context, id string, kind MessageKind, message string) error {
	s, err := m.Get(id)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.busy {
		s.mu.Unlock()
		return ErrBusy
	}
	s.busy = true
	ws := s.ws
	s.mu.Unlock()

	go func() {
		defer func() {
			// The dispatch goroutine owns ws while busy; snapshotting the
			// project name here keeps List from reading ws mid-mutation.
			s.mu.Lock()
			s.busy = false
			s.project = ws.ProjectName
			s.mu.Unlock()
		}()
		m.run(ctx, s, ws, kind, message)
	}()
	return nil
}

func (m *Manager) run(ctx context.Context, s *Session, ws *models.Workspace, kind MessageKind, message string) {
	buffer := m.cfg.EventBuffer
	switch kind {
	case KindChat:
		resp := s.chat.Handle(ctx, ws, message)
		s.deliver("chat_response", resp, buffer)

	case KindBuild:
		result := s.builder.Build(ctx, ws, message)
		resp := &models.ChatResponse{
			Type:    string(models.IntentBuild),
			Success: result.Success,
			Project: result.ProjectName,
			Files:   ws.FilePaths(),
			Error:   result.Error,
		}
		if result.Success {
			resp.Response = fmt.Sprintf("Built %s with %d files.", result.ProjectName, len(result.Files))
		} else {
			resp.Response = "The build failed: " + result.Error
		}
		s.deliver("chat_response", resp, buffer)

	case KindResume:
		if err := m.resume(ctx, ws, message); err != nil {
			m.log.Warn("resume failed", "session", s.ID, "error", err)
			s.deliver("error", map[string]any{"description": err.Error()}, buffer)
			return
		}
		s.deliver("project_resumed", map[string]any{
			"project": ws.ProjectName,
			"files":   ws.FilePaths(),
		}, buffer)

	case KindClear:
		ws.Clear()
		s.deliver("workspace_cleared", map[string]any{}, buffer)

	default:
		s.deliver("error", map[string]any{"description": "unknown message kind: " + string(kind)}, buffer)
	}
}

// resume loads a saved project into the workspace: the DB record for the
// plan, the project directory for the files.
func (m *Manager) resume(ctx context.Context, ws *models.Workspace, name string) error {
	if m.store == nil {
		return fmt.Errorf("project persistence is not configured")
	}

	p, err := m.store.GetProjectByName(ctx, name)
	if errors.Is(err, store.ErrNotFound) {
		p, err = m.store.GetProject(ctx, name)
	}
	if err != nil {
		return fmt.Errorf("load project %q: %w", name, err)
	}

	files, err := loadProjectFiles(p.Directory)
	if err != nil {
		return fmt.Errorf("load project files: %w", err)
	}

	ws.Clear()
	ws.ProjectName = p.Name
	ws.ProjectID = p.ID
	ws.Files = files
	if p.PlanJSON != "" {
		var plan models.Plan
		if err := json.Unmarshal([]byte(p.PlanJSON), &plan); err == nil {
			ws.Plan = &plan
		}
	}
	return nil
}

// maxResumeFileSize skips artifacts that were never agent-written.
const maxResumeFileSize = 1 << 20

func loadProjectFiles(dir string) (map[string]string, error) {
	files := make(map[string]string)
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		info, err := d.Info()
		if err != nil || info.Size() > maxResumeFileSize {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}
		files[filepath.ToSlash(rel)] = string(content)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return files, nil
}
