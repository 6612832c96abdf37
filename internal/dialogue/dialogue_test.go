package dialogue

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeagents/vibe/internal/agent"
	"github.com/vibeagents/vibe/internal/agent/agenttest"
)

type captured struct {
	event string
	data  any
}

func capture(events *[]captured) EmitFunc {
	return func(event string, data any) {
		*events = append(*events, captured{event, data})
	}
}

func TestNegotiate_EarlyConcession(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleCoder, agenttest.Reply{Text: "CONCEDE - the reviewer is right, the bounds check is missing."})

	var events []captured
	c := NewCoordinator(inv, 3, capture(&events))

	res, err := c.Negotiate(context.Background(), "Review of parser.py", agent.RoleReviewer, agent.RoleCoder, "Missing bounds check on line 40")
	require.NoError(t, err)

	assert.Equal(t, "resolved", res.Result)
	assert.Equal(t, 1, res.Rounds)
	assert.Equal(t, "Coder", res.ConcededBy)
	// Reviewer never gets a turn after the concession.
	assert.Equal(t, 0, inv.CallCount(agent.RoleReviewer))

	require.GreaterOrEqual(t, len(events), 3)
	assert.Equal(t, "dialogue_start", events[0].event)
	assert.Equal(t, "dialogue_exchange", events[1].event)
	assert.Equal(t, "dialogue_resolved", events[len(events)-1].event)
}

func TestNegotiate_OpenerConcedes(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleCoder, agenttest.Reply{Text: "The check exists in validate(); see line 12."})
	inv.Script(agent.RoleReviewer, agenttest.Reply{Text: "CONCEDE - I missed the call to validate()."})

	c := NewCoordinator(inv, 3, nil)
	res, err := c.Negotiate(context.Background(), "topic", agent.RoleReviewer, agent.RoleCoder, "issue")
	require.NoError(t, err)

	assert.Equal(t, "resolved", res.Result)
	assert.Equal(t, "Reviewer", res.ConcededBy)
	assert.Equal(t, "The check exists in validate(); see line 12.", res.FinalPosition)
}

func TestNegotiate_Exhausted(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleCoder, agenttest.Reply{Text: "The current design is intentional; I do not concede."})
	inv.Script(agent.RoleReviewer, agenttest.Reply{Text: "I still think the design is wrong."})

	var events []captured
	c := NewCoordinator(inv, 2, capture(&events))

	res, err := c.Negotiate(context.Background(), "topic", agent.RoleReviewer, agent.RoleCoder, "issue")
	require.NoError(t, err)

	assert.Equal(t, "unresolved", res.Result)
	assert.Equal(t, 2, res.Rounds)
	assert.Empty(t, res.ConcededBy)
	// Caller proceeds with the responder's last position.
	assert.Equal(t, "The current design is intentional; I do not concede.", res.FinalPosition)
	assert.Equal(t, 2, inv.CallCount(agent.RoleCoder))
	assert.Equal(t, 2, inv.CallCount(agent.RoleReviewer))
}

func TestNegotiate_StrictAlternation(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleCoder, agenttest.Reply{Text: "counter one, not conceding"})
	inv.Script(agent.RoleReviewer, agenttest.Reply{Text: "still wrong, not conceding"})

	var events []captured
	c := NewCoordinator(inv, 2, capture(&events))
	_, err := c.Negotiate(context.Background(), "topic", agent.RoleReviewer, agent.RoleCoder, "issue")
	require.NoError(t, err)

	var froms []string
	for _, e := range events {
		if e.event == "dialogue_exchange" {
			froms = append(froms, e.data.(exchangeEvent).From)
		}
	}
	assert.Equal(t, []string{"Coder", "Reviewer", "Coder", "Reviewer"}, froms)
}

func TestIsConcession(t *testing.T) {
	assert.True(t, isConcession("CONCEDE - you are right"))
	assert.True(t, isConcession("  concede, the fix is needed"))
	assert.True(t, isConcession("Looks good to me now"))
	assert.False(t, isConcession("I do not concede; the design is fine"))
	assert.False(t, isConcession("The bug is still there"))
}
