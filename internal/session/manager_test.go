package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeagents/vibe/internal/models"
	"github.com/vibeagents/vibe/internal/store"
)

// fakeAgents is a scriptable ChatHandler + Builder pair wired to the
// session-scoped emit closure the factory hands out.
type fakeAgents struct {
	emit  func(string, any)
	block chan struct{} // when set, Handle waits on it before replying
	emits int           // intermediate events per Handle call
}

func (f *fakeAgents) Handle(ctx context.Context, ws *models.Workspace, message string) *models.ChatResponse {
	if f.block != nil {
		<-f.block
	}
	for i := 0; i < f.emits; i++ {
		f.emit("agent_message", map[string]any{"chunk": i})
	}
	return &models.ChatResponse{Type: "conversation", Success: true, Response: "re: " + message}
}

func (f *fakeAgents) Build(ctx context.Context, ws *models.Workspace, request string) *models.BuildResult {
	ws.ProjectName = "built"
	ws.Files["main.py"] = "print('ok')\n"
	if f.block != nil {
		<-f.block
	}
	return &models.BuildResult{Success: true, ProjectName: "built", Files: ws.SnapshotFiles()}
}

func newTestManager(cfg Config, agents *fakeAgents) *Manager {
	return NewManager(func(emit func(string, any)) (ChatHandler, Builder) {
		a := &fakeAgents{emit: emit, block: agents.block, emits: agents.emits}
		return a, a
	}, nil, cfg, nil)
}

func chanSink(ch chan Event) Sink {
	return func(ev Event) { ch <- ev }
}

func drainUntil(t *testing.T, ch chan Event, name string) []Event {
	t.Helper()
	var out []Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev := <-ch:
			out = append(out, ev)
			if ev.Name == name {
				return out
			}
		case <-deadline:
			t.Fatalf("timed out waiting for event %q, got %d events", name, len(out))
		}
	}
}

func TestCreate_PerConnectionLimit(t *testing.T) {
	m := newTestManager(Config{MaxPerConn: 2}, &fakeAgents{})

	a, err := m.Create("conn-1")
	require.NoError(t, err)
	b, err := m.Create("conn-1")
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, b.ID)

	_, err = m.Create("conn-1")
	assert.ErrorIs(t, err, ErrSessionLimit)

	// Another connection has its own budget.
	_, err = m.Create("conn-2")
	assert.NoError(t, err)
}

func TestDispatch_BusyRejection(t *testing.T) {
	agents := &fakeAgents{block: make(chan struct{})}
	m := newTestManager(Config{}, agents)

	s, err := m.Create("conn-1")
	require.NoError(t, err)

	ch := make(chan Event, 16)
	require.NoError(t, m.Attach(s.ID, "conn-1", chanSink(ch)))

	require.NoError(t, m.Dispatch(context.Background(), s.ID, KindChat, "first"))

	// The second message is rejected without disturbing the first.
	err = m.Dispatch(context.Background(), s.ID, KindChat, "second")
	assert.ErrorIs(t, err, ErrBusy)

	close(agents.block)
	events := drainUntil(t, ch, "chat_response")
	resp := events[len(events)-1].Data.(*models.ChatResponse)
	assert.Equal(t, "re: first", resp.Response)

	// Idle again once the first message finishes.
	require.Eventually(t, func() bool {
		return m.Dispatch(context.Background(), s.ID, KindChat, "third") == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDispatch_UnknownSession(t *testing.T) {
	m := newTestManager(Config{}, &fakeAgents{})
	err := m.Dispatch(context.Background(), "nope", KindChat, "hi")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAttach_ReplaysEventsInOrder(t *testing.T) {
	agents := &fakeAgents{emits: 3}
	m := newTestManager(Config{}, agents)

	s, err := m.Create("conn-1")
	require.NoError(t, err)

	// Events accumulate while no sink is attached.
	live := make(chan Event, 16)
	require.NoError(t, m.Attach(s.ID, "conn-1", chanSink(live)))
	require.NoError(t, m.Dispatch(context.Background(), s.ID, KindChat, "go"))
	drainUntil(t, live, "chat_response")
	m.Detach(s.ID)

	// A reconnecting client sees the same log, in order.
	replay := make(chan Event, 16)
	require.NoError(t, m.Attach(s.ID, "conn-2", chanSink(replay)))

	events := drainUntil(t, replay, "chat_response")
	require.Len(t, events, 4) // 3 agent messages + response
	for i, ev := range events {
		assert.Equal(t, i+1, ev.Seq)
		assert.Equal(t, s.ID, ev.SessionID)
	}
}

func TestAttach_ReplayPrecedesLiveEvents(t *testing.T) {
	m := newTestManager(Config{}, &fakeAgents{})

	s, err := m.Create("conn-1")
	require.NoError(t, err)
	for i := 0; i < 20; i++ {
		s.deliver("agent_message", map[string]any{"chunk": i}, DefaultEventBuffer)
	}

	// A deliver races the attach: it must land after the whole backlog,
	// never interleaved with it.
	started := make(chan struct{})
	released := make(chan struct{})
	go func() {
		<-started
		s.deliver("chat_response", nil, DefaultEventBuffer)
		close(released)
	}()

	var (
		mu   sync.Mutex
		seen []Event
		once sync.Once
	)
	require.NoError(t, m.Attach(s.ID, "conn-2", func(ev Event) {
		mu.Lock()
		seen = append(seen, ev)
		mu.Unlock()
		once.Do(func() {
			close(started)
			// Let the racing deliver contend with the rest of the replay.
			time.Sleep(20 * time.Millisecond)
		})
	}))
	<-released

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 21)
	for i, ev := range seen {
		assert.Equal(t, i+1, ev.Seq)
	}
	assert.Equal(t, "chat_response", seen[20].Name)
}

func TestList_ProjectSnapshotAfterDispatch(t *testing.T) {
	agents := &fakeAgents{block: make(chan struct{})}
	m := newTestManager(Config{}, agents)

	s, err := m.Create("conn-1")
	require.NoError(t, err)
	ch := make(chan Event, 16)
	require.NoError(t, m.Attach(s.ID, "conn-1", chanSink(ch)))
	require.NoError(t, m.Dispatch(context.Background(), s.ID, KindBuild, "make it"))

	// While the build mutates its workspace, List reports only the state
	// snapshotted at the last completed dispatch.
	infos := m.List("conn-1")
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Busy)
	assert.Empty(t, infos[0].Project)

	close(agents.block)
	drainUntil(t, ch, "chat_response")
	require.Eventually(t, func() bool {
		infos := m.List("conn-1")
		return len(infos) == 1 && !infos[0].Busy && infos[0].Project == "built"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEventBuffer_KeepsMostRecent(t *testing.T) {
	agents := &fakeAgents{emits: 9}
	m := newTestManager(Config{EventBuffer: 5}, agents)

	s, err := m.Create("conn-1")
	require.NoError(t, err)
	require.NoError(t, m.Dispatch(context.Background(), s.ID, KindChat, "go"))

	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.busy
	}, 2*time.Second, 10*time.Millisecond)

	ch := make(chan Event, 16)
	require.NoError(t, m.Attach(s.ID, "conn-1", chanSink(ch)))
	events := drainUntil(t, ch, "chat_response")

	// 10 delivered in total, only the last 5 survive; seqs keep counting.
	require.Len(t, events, 5)
	assert.Equal(t, 6, events[0].Seq)
	assert.Equal(t, 10, events[4].Seq)
}

func TestSessionIsolation(t *testing.T) {
	agents := &fakeAgents{emits: 1}
	m := newTestManager(Config{}, agents)

	a, err := m.Create("conn-1")
	require.NoError(t, err)
	b, err := m.Create("conn-1")
	require.NoError(t, err)

	chA := make(chan Event, 16)
	require.NoError(t, m.Attach(a.ID, "conn-1", chanSink(chA)))
	require.NoError(t, m.Dispatch(context.Background(), a.ID, KindChat, "only for a"))
	for _, ev := range drainUntil(t, chA, "chat_response") {
		assert.Equal(t, a.ID, ev.SessionID)
	}

	// Session b never saw anything.
	chB := make(chan Event, 16)
	require.NoError(t, m.Attach(b.ID, "conn-1", chanSink(chB)))
	select {
	case ev := <-chB:
		t.Fatalf("unexpected event in session b: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClose_DropsLaterEvents(t *testing.T) {
	agents := &fakeAgents{block: make(chan struct{})}
	m := newTestManager(Config{}, agents)

	s, err := m.Create("conn-1")
	require.NoError(t, err)
	require.NoError(t, m.Dispatch(context.Background(), s.ID, KindChat, "slow"))
	require.NoError(t, m.Close(s.ID))

	assert.ErrorIs(t, m.Close(s.ID), ErrNotFound)
	assert.ErrorIs(t, m.Dispatch(context.Background(), s.ID, KindChat, "hi"), ErrNotFound)

	// The in-flight handler finishes after close; its event is dropped.
	close(agents.block)
	require.Eventually(t, func() bool {
		s.mu.Lock()
		defer s.mu.Unlock()
		return !s.busy
	}, 2*time.Second, 10*time.Millisecond)
	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.events)
}

func TestDispatch_Clear(t *testing.T) {
	m := newTestManager(Config{}, &fakeAgents{})

	s, err := m.Create("conn-1")
	require.NoError(t, err)
	s.mu.Lock()
	s.ws.ProjectName = "old"
	s.ws.Files["main.py"] = "x"
	s.mu.Unlock()

	ch := make(chan Event, 16)
	require.NoError(t, m.Attach(s.ID, "conn-1", chanSink(ch)))
	require.NoError(t, m.Dispatch(context.Background(), s.ID, KindClear, ""))
	drainUntil(t, ch, "workspace_cleared")

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Empty(t, s.ws.ProjectName)
	assert.Empty(t, s.ws.Files)
}

func TestDispatch_Resume(t *testing.T) {
	dir := t.TempDir()
	st, err := store.NewSQLiteStore(filepath.Join(dir, "vibe.db"))
	require.NoError(t, err)
	require.NoError(t, st.Migrate(context.Background()))
	t.Cleanup(func() { st.Close() })

	projectDir := filepath.Join(dir, "projects", "calc")
	require.NoError(t, os.MkdirAll(projectDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(projectDir, "main.py"), []byte("print('calc')\n"), 0o644))

	p := &models.Project{
		Name:      "calc",
		Directory: projectDir,
		PlanJSON:  `{"project_name":"calc","tasks":[{"id":1,"title":"main"}]}`,
		FileCount: 1,
	}
	require.NoError(t, st.CreateProject(context.Background(), p))

	agents := &fakeAgents{}
	m := NewManager(func(emit func(string, any)) (ChatHandler, Builder) {
		agents.emit = emit
		return agents, agents
	}, st, Config{}, nil)

	s, err := m.Create("conn-1")
	require.NoError(t, err)
	ch := make(chan Event, 16)
	require.NoError(t, m.Attach(s.ID, "conn-1", chanSink(ch)))
	require.NoError(t, m.Dispatch(context.Background(), s.ID, KindResume, "calc"))
	drainUntil(t, ch, "project_resumed")

	s.mu.Lock()
	defer s.mu.Unlock()
	assert.Equal(t, "calc", s.ws.ProjectName)
	assert.Equal(t, p.ID, s.ws.ProjectID)
	assert.Equal(t, "print('calc')\n", s.ws.Files["main.py"])
	require.NotNil(t, s.ws.Plan)
	assert.Equal(t, "calc", s.ws.Plan.ProjectName)
}

func TestDetachConn_GraceExpiry(t *testing.T) {
	m := newTestManager(Config{Grace: 30 * time.Millisecond}, &fakeAgents{})

	s, err := m.Create("conn-1")
	require.NoError(t, err)
	m.DetachConn("conn-1")

	require.Eventually(t, func() bool {
		_, err := m.Get(s.ID)
		return err != nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestDetachConn_ReattachCancelsGrace(t *testing.T) {
	m := newTestManager(Config{Grace: 50 * time.Millisecond}, &fakeAgents{})

	s, err := m.Create("conn-1")
	require.NoError(t, err)
	m.DetachConn("conn-1")

	require.NoError(t, m.Attach(s.ID, "conn-2", func(Event) {}))
	time.Sleep(100 * time.Millisecond)

	got, err := m.Get(s.ID)
	require.NoError(t, err)
	assert.Equal(t, "conn-2", got.ConnID)
}

func TestList_OrdersByCreation(t *testing.T) {
	m := newTestManager(Config{}, &fakeAgents{})

	var ids []string
	for i := 0; i < 3; i++ {
		s, err := m.Create("conn-1")
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}
	_, err := m.Create("conn-2")
	require.NoError(t, err)

	infos := m.List("conn-1")
	require.Len(t, infos, 3)
	for i, info := range infos {
		assert.Equal(t, ids[i], info.ID, fmt.Sprintf("position %d", i))
	}
}
