package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRoleTable_Closed(t *testing.T) {
	_, _, err := Lookup(Role("sysadmin"))
	assert.Error(t, err)

	for _, r := range Roles() {
		name, _, err := Lookup(r)
		require.NoError(t, err)
		assert.NotEmpty(t, name)
	}
}

func TestRoleTable_ToolPermissions(t *testing.T) {
	tests := []struct {
		role  Role
		tools []string
	}{
		{RoleRouter, nil},
		{RolePlanner, nil},
		{RoleCoder, []string{"read", "write", "edit", "execute", "search"}},
		{RoleReviewer, []string{"read", "search"}},
		{RoleTester, []string{"read", "write", "execute", "search"}},
		{RoleDebugger, []string{"read"}},
	}
	for _, tt := range tests {
		t.Run(string(tt.role), func(t *testing.T) {
			_, tools, err := Lookup(tt.role)
			require.NoError(t, err)
			assert.Equal(t, tt.tools, tools)
		})
	}
}

func TestCollect(t *testing.T) {
	t.Run("done with final text", func(t *testing.T) {
		ch := make(chan Event, 4)
		ch <- Event{Type: EventStreaming, Content: "hel"}
		ch <- Event{Type: EventStreaming, Content: "lo"}
		ch <- Event{Type: EventDone, Content: "hello"}
		close(ch)

		text, err := Collect(ch)
		require.NoError(t, err)
		assert.Equal(t, "hello", text)
	})

	t.Run("done without final text falls back to deltas", func(t *testing.T) {
		ch := make(chan Event, 3)
		ch <- Event{Type: EventStreaming, Content: "partial"}
		ch <- Event{Type: EventDone}
		close(ch)

		text, err := Collect(ch)
		require.NoError(t, err)
		assert.Equal(t, "partial", text)
	})

	t.Run("terminal error", func(t *testing.T) {
		ch := make(chan Event, 2)
		ch <- Event{Type: EventStreaming, Content: "half"}
		ch <- Event{Type: EventError, Content: "overloaded"}
		close(ch)

		_, err := Collect(ch)
		assert.ErrorContains(t, err, "overloaded")
	})

	t.Run("closed without terminal event", func(t *testing.T) {
		ch := make(chan Event)
		close(ch)

		_, err := Collect(ch)
		assert.Error(t, err)
	})
}
