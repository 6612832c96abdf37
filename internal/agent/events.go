package agent

// EventType classifies one event in an agent invocation stream.
type EventType string

const (
	EventThinking   EventType = "thinking"
	EventStreaming  EventType = "streaming"
	EventToolUse    EventType = "tool_use"
	EventToolResult EventType = "tool_result"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Terminal reports whether this event type ends the stream.
func (t EventType) Terminal() bool {
	return t == EventDone || t == EventError
}

// Event is one element of an invocation's event sequence. A stream emits
// zero or more non-terminal events followed by exactly one terminal event
// (done with the final text, or error with a failure description), after
// which the channel is closed.
type Event struct {
	Type    EventType `json:"type"`
	Content string    `json:"content,omitempty"`
	Tool    string    `json:"tool,omitempty"`
}
