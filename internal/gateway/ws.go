package gateway

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vibeagents/vibe/internal/session"
	"github.com/vibeagents/vibe/internal/store"
)

// inbound is one client message on the websocket.
type inbound struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Message   string `json:"message,omitempty"`
}

// outbound is one server message. Session events use the event name as
// the type and carry the replay sequence number.
type outbound struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Seq       int    `json:"seq,omitempty"`
	Data      any    `json:"data,omitempty"`
}

// dispatchKinds maps inbound message types onto session operations.
var dispatchKinds = map[string]session.MessageKind{
	"chat":   session.KindChat,
	"build":  session.KindBuild,
	"resume": session.KindResume,
	"clear":  session.KindClear,
}

// rateLimited marks the inbound types that count against the per-minute
// budget. Lifecycle messages are free.
var rateLimited = map[string]bool{"chat": true, "build": true}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &wsConn{
		id:      store.NewULID(),
		conn:    conn,
		out:     make(chan outbound, 256),
		done:    make(chan struct{}),
		limiter: newRateLimiter(s.cfg.MessagesPerMinute, time.Minute),
	}
	s.log.Info("websocket connected", "conn", c.id, "remote", r.RemoteAddr)

	go c.writePump(s.log)

	// Dispatched work outlives the connection: a client that drops mid-build
	// reattaches and replays the events it missed.
	ctx := context.WithoutCancel(r.Context())

	defer func() {
		s.sessions.DetachConn(c.id)
		close(c.done)
		conn.Close()
		s.log.Info("websocket disconnected", "conn", c.id)
	}()

	for {
		var msg inbound
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Warn("websocket read failed", "conn", c.id, "error", err)
			}
			return
		}
		s.handleMessage(ctx, c, msg)
	}
}

// wsConn is the per-connection state: an id the session manager keys on,
// a buffered write pump, and the message rate limiter.
type wsConn struct {
	id        string
	conn      *websocket.Conn
	out       chan outbound
	done      chan struct{}
	limiter   *rateLimiter
	closeOnce sync.Once
}

// send queues an outbound message. A full buffer means the client cannot
// keep up; the connection is closed rather than dropping frames silently,
// so the client notices the gap and reattaches with a full replay.
func (c *wsConn) send(msg outbound) {
	select {
	case <-c.done:
	case c.out <- msg:
	default:
		c.drop()
	}
}

// drop forcibly closes the underlying connection. The read loop then
// exits and runs the normal detach path.
func (c *wsConn) drop() {
	c.closeOnce.Do(func() {
		c.conn.Close()
	})
}

func (c *wsConn) sendError(sessionID, description string) {
	c.send(outbound{Type: "error", SessionID: sessionID, Data: map[string]string{"description": description}})
}

// writePump serializes all writes to the websocket. gorilla/websocket
// allows only one concurrent writer.
func (c *wsConn) writePump(log *slog.Logger) {
	for {
		select {
		case <-c.done:
			return
		case msg := <-c.out:
			if err := c.conn.WriteJSON(msg); err != nil {
				log.Warn("websocket write failed", "conn", c.id, "error", err)
				return
			}
		}
	}
}

// sink adapts the write pump into a session event sink.
func (c *wsConn) sink() session.Sink {
	return func(ev session.Event) {
		c.send(outbound{Type: ev.Name, SessionID: ev.SessionID, Seq: ev.Seq, Data: ev.Data})
	}
}

func (s *Server) handleMessage(ctx context.Context, c *wsConn, msg inbound) {
	switch msg.Type {
	case "new_session":
		sess, err := s.sessions.Create(c.id)
		if err != nil {
			c.sendError("", err.Error())
			return
		}
		if err := s.sessions.Attach(sess.ID, c.id, c.sink()); err != nil {
			c.sendError(sess.ID, err.Error())
			return
		}
		c.send(outbound{Type: "session_created", SessionID: sess.ID, Data: map[string]string{"id": sess.ID}})

	case "close_session":
		if err := s.sessions.Close(msg.SessionID); err != nil {
			c.sendError(msg.SessionID, err.Error())
			return
		}
		c.send(outbound{Type: "session_closed", SessionID: msg.SessionID})

	case "attach_session":
		// Ack first; the replayed log follows in order.
		c.send(outbound{Type: "session_attached", SessionID: msg.SessionID})
		if err := s.sessions.Attach(msg.SessionID, c.id, c.sink()); err != nil {
			c.sendError(msg.SessionID, err.Error())
		}

	case "list_sessions":
		c.send(outbound{Type: "session_list", Data: s.sessions.List(c.id)})

	default:
		kind, ok := dispatchKinds[msg.Type]
		if !ok {
			c.sendError(msg.SessionID, "unknown message type: "+msg.Type)
			return
		}
		s.dispatch(ctx, c, kind, msg)
	}
}

func (s *Server) dispatch(ctx context.Context, c *wsConn, kind session.MessageKind, msg inbound) {
	text := strings.TrimSpace(msg.Message)
	if kind != session.KindClear && text == "" {
		c.sendError(msg.SessionID, "message is empty")
		return
	}
	if len(text) > s.cfg.MaxMessageLen {
		c.sendError(msg.SessionID, "message exceeds maximum length")
		return
	}
	if rateLimited[string(kind)] && !c.limiter.allow() {
		c.sendError(msg.SessionID, "rate limit exceeded, slow down")
		return
	}

	err := s.sessions.Dispatch(ctx, msg.SessionID, kind, text)
	switch {
	case errors.Is(err, session.ErrBusy):
		c.sendError(msg.SessionID, "session is busy processing another message")
	case errors.Is(err, session.ErrNotFound):
		c.sendError(msg.SessionID, "session not found")
	case err != nil:
		c.sendError(msg.SessionID, err.Error())
	}
}

// rateLimiter is a sliding-window message counter.
type rateLimiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	times  []time.Time
}

func newRateLimiter(limit int, window time.Duration) *rateLimiter {
	return &rateLimiter{limit: limit, window: window}
}

func (r *rateLimiter) allow() bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-r.window)
	kept := r.times[:0]
	for _, t := range r.times {
		if t.After(cutoff) {
			kept = append(kept, t)
		}
	}
	r.times = kept

	if len(r.times) >= r.limit {
		return false
	}
	r.times = append(r.times, now)
	return true
}
