// Package agenttest provides a scripted Invoker for tests.
package agenttest

import (
	"context"
	"sync"

	"github.com/vibeagents/vibe/internal/agent"
)

// Reply scripts one invocation outcome for a role.
type Reply struct {
	Text string // final text, delivered as one streaming chunk + done
	Err  string // when set, the stream terminates with an error event instead
}

// Invoker replays scripted replies per role, in order. Once a role's
// script is exhausted, further calls repeat the last reply. A nil script
// for a role yields an empty done event.
type Invoker struct {
	mu      sync.Mutex
	Scripts map[agent.Role][]Reply
	Fail    error // returned from Invoke before any event when set

	Calls []agent.Request // every request seen, in order
}

// New returns an empty scripted invoker.
func New() *Invoker {
	return &Invoker{Scripts: make(map[agent.Role][]Reply)}
}

// Script appends replies for a role.
func (f *Invoker) Script(role agent.Role, replies ...Reply) *Invoker {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Scripts[role] = append(f.Scripts[role], replies...)
	return f
}

// Invoke implements agent.Invoker.
func (f *Invoker) Invoke(ctx context.Context, req agent.Request) (<-chan agent.Event, error) {
	f.mu.Lock()
	f.Calls = append(f.Calls, req)
	if f.Fail != nil {
		f.mu.Unlock()
		return nil, f.Fail
	}
	var reply Reply
	script := f.Scripts[req.Role]
	if len(script) > 0 {
		reply = script[0]
		if len(script) > 1 {
			f.Scripts[req.Role] = script[1:]
		}
	}
	f.mu.Unlock()

	ch := make(chan agent.Event, 4)
	go func() {
		defer close(ch)
		if reply.Err != "" {
			ch <- agent.Event{Type: agent.EventError, Content: reply.Err}
			return
		}
		if reply.Text != "" {
			ch <- agent.Event{Type: agent.EventStreaming, Content: reply.Text}
		}
		ch <- agent.Event{Type: agent.EventDone, Content: reply.Text}
	}()
	return ch, nil
}

// CallCount returns how many invocations targeted the given role.
func (f *Invoker) CallCount(role agent.Role) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.Calls {
		if c.Role == role {
			n++
		}
	}
	return n
}
