package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vibeagents/vibe/internal/models"
)

// ErrProviderUnavailable means the underlying agent capability is
// unreachable or mis-configured. It is returned before any events are
// emitted; the session stays usable for the next message.
var ErrProviderUnavailable = errors.New("agent provider unavailable")

// Request describes one agent invocation.
type Request struct {
	Role    Role
	Prompt  string
	Context string        // optional supporting material (code, task JSON, ...)
	History []models.Turn // prior conversation turns used as LLM context
}

// Invoker is the uniform agent invocation capability. The returned channel
// yields the typed event sequence and is closed after the terminal event.
// Configuration failures are returned as an error before any event; a
// mid-stream failure is reported as a terminal error event, never as a
// silently truncated stream.
type Invoker interface {
	Invoke(ctx context.Context, req Request) (<-chan Event, error)
}

// Collect drains an event stream and returns the final text from the done
// event, or an error if the stream terminated with an error event.
func Collect(ch <-chan Event) (string, error) {
	var b strings.Builder
	for ev := range ch {
		switch ev.Type {
		case EventDone:
			if ev.Content != "" {
				return ev.Content, nil
			}
			return b.String(), nil
		case EventError:
			return "", fmt.Errorf("agent error: %s", ev.Content)
		case EventStreaming:
			b.WriteString(ev.Content)
		}
	}
	return "", fmt.Errorf("agent stream ended without a terminal event")
}

// userMessage combines the prompt with optional context material the way
// every role expects it.
func userMessage(req Request) string {
	if req.Context == "" {
		return req.Prompt
	}
	return fmt.Sprintf("%s\n\n## Context\n```\n%s\n```", req.Prompt, req.Context)
}
