// Package session owns the registry of multiplexed chat sessions. Each
// session carries its own workspace, busy flag, and bounded event log;
// all mutation goes through the Manager so no session state is ever
// shared by reference with the pipeline.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/vibeagents/vibe/internal/models"
)

// Event is one entry of a session's replayable event log. Seq is 1-based
// and strictly increasing per session.
type Event struct {
	Seq       int    `json:"seq"`
	SessionID string `json:"session_id"`
	Name      string `json:"event"`
	Data      any    `json:"data"`
}

// Sink receives live (and replayed) events for an attached connection.
type Sink func(Event)

// Session is one isolated conversation. Fields are guarded by mu and
// accessed only through Manager methods.
type Session struct {
	ID        string
	ConnID    string
	CreatedAt time.Time

	mu      sync.Mutex
	ws      *models.Workspace
	project string // ws.ProjectName as of the last completed dispatch
	busy    bool
	closed  bool
	events  []Event
	nextSeq int
	sink    Sink
	grace   *time.Timer

	chat    ChatHandler
	builder Builder
}

// Info is the client-facing session summary for list operations.
type Info struct {
	ID        string    `json:"id"`
	Busy      bool      `json:"busy"`
	Project   string    `json:"project,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ChatHandler routes one chat message within a session's workspace.
type ChatHandler interface {
	Handle(ctx context.Context, ws *models.Workspace, message string) *models.ChatResponse
}

// Builder runs a full pipeline build within a session's workspace.
type Builder interface {
	Build(ctx context.Context, ws *models.Workspace, request string) *models.BuildResult
}

// Factory builds the per-session collaborators around a session-scoped
// emit closure, so every pipeline and router event lands in exactly one
// session's log.
type Factory func(emit func(event string, data any)) (ChatHandler, Builder)

// deliver appends an event to the session log and forwards it to the
// attached sink, if any. Events for closed sessions are dropped.
func (s *Session) deliver(name string, data any, buffer int) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.nextSeq++
	ev := Event{Seq: s.nextSeq, SessionID: s.ID, Name: name, Data: data}
	s.events = append(s.events, ev)
	if len(s.events) > buffer {
		s.events = s.events[len(s.events)-buffer:]
	}
	sink := s.sink
	s.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
}

// info summarizes the session without touching ws: an in-flight dispatch
// mutates the workspace freely, so only the snapshotted project name is
// safe to read here.
func (s *Session) info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:        s.ID,
		Busy:      s.busy,
		Project:   s.project,
		CreatedAt: s.CreatedAt,
	}
}
