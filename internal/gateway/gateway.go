// Package gateway exposes the websocket chat endpoint and the REST
// project/health routes.
package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibeagents/vibe/internal/models"
	"github.com/vibeagents/vibe/internal/session"
	"github.com/vibeagents/vibe/internal/store"
)

const (
	// DefaultMaxMessageLen bounds one inbound chat message.
	DefaultMaxMessageLen = 10000
	// DefaultMessagesPerMinute bounds chat/build messages per connection.
	DefaultMessagesPerMinute = 20
)

// Config carries the gateway limits.
type Config struct {
	MaxMessageLen     int
	MessagesPerMinute int
}

// Server provides the websocket endpoint and REST API handlers.
type Server struct {
	store    store.Store
	sessions *session.Manager
	cfg      Config
	upgrader websocket.Upgrader
	log      *slog.Logger
	version  string
}

// NewServer creates a gateway server. store may be nil (project routes
// then report unavailable).
func NewServer(st store.Store, sessions *session.Manager, cfg Config, log *slog.Logger, version string) *Server {
	if cfg.MaxMessageLen <= 0 {
		cfg.MaxMessageLen = DefaultMaxMessageLen
	}
	if cfg.MessagesPerMinute <= 0 {
		cfg.MessagesPerMinute = DefaultMessagesPerMinute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		store:    st,
		sessions: sessions,
		cfg:      cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// The CLI client and local web UI connect from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     log,
		version: version,
	}
}

// Router returns an http.Handler for all gateway routes.
func (s *Server) Router() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /ws", s.handleWS)

	mux.HandleFunc("GET /api/v1/projects", s.listProjects)
	mux.HandleFunc("GET /api/v1/projects/{id}", s.getProject)
	mux.HandleFunc("DELETE /api/v1/projects/{id}", s.deleteProject)

	mux.HandleFunc("GET /api/v1/health", s.health)
	mux.HandleFunc("GET /api/v1/health/detailed", s.healthDetailed)

	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// --- Projects ---

func (s *Server) listProjects(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "project persistence is not configured")
		return
	}
	status := models.ProjectStatus(r.URL.Query().Get("status"))
	projects, err := s.store.ListProjects(r.Context(), status, 0)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if projects == nil {
		projects = []*models.Project{}
	}
	writeJSON(w, http.StatusOK, projects)
}

func (s *Server) getProject(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "project persistence is not configured")
		return
	}
	id := r.PathValue("id")
	project, err := s.store.GetProject(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		// Allow lookups by name as well; the CLI uses both.
		project, err = s.store.GetProjectByName(r.Context(), id)
	}
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, project)
}

func (s *Server) deleteProject(w http.ResponseWriter, r *http.Request) {
	if s.store == nil {
		writeError(w, http.StatusServiceUnavailable, "project persistence is not configured")
		return
	}
	id := r.PathValue("id")
	if err := s.store.DeleteProject(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Health ---

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) healthDetailed(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{
		"status":   "ok",
		"version":  s.version,
		"sessions": s.sessions.Count(),
		"time":     time.Now().UTC().Format(time.RFC3339),
	}
	if s.store != nil {
		if err := s.store.Ping(r.Context()); err != nil {
			out["status"] = "degraded"
			out["database"] = err.Error()
		} else {
			out["database"] = "ok"
		}
	} else {
		out["database"] = "disabled"
	}
	writeJSON(w, http.StatusOK, out)
}
