// Package dialogue runs bounded-round negotiation between two agents,
// used when review surfaces issues the coder should answer for.
package dialogue

import (
	"context"
	"fmt"
	"strings"

	"github.com/vibeagents/vibe/internal/agent"
)

// DefaultMaxRounds bounds the negotiation when no limit is configured.
const DefaultMaxRounds = 3

// EmitFunc delivers a dialogue event to the owning session.
type EmitFunc func(event string, data any)

// Exchange is one turn in the negotiation transcript.
type Exchange struct {
	Agent   string `json:"agent"`
	Content string `json:"content"`
}

// Resolution is the negotiation outcome. An unresolved result is a
// recorded outcome, not a failure; the caller decides how to act on it
// (default policy: proceed with the responder's last position).
type Resolution struct {
	Result     string     `json:"result"` // "resolved" or "unresolved"
	Rounds     int        `json:"rounds"`
	ConcededBy string     `json:"conceded_by,omitempty"`
	Transcript []Exchange `json:"transcript,omitempty"`

	// FinalPosition is the responder's last substantive turn.
	FinalPosition string `json:"-"`
}

// startEvent is the payload of dialogue_start.
type startEvent struct {
	Topic  string   `json:"topic"`
	Agents []string `json:"agents"`
}

// exchangeEvent is the payload of dialogue_exchange.
type exchangeEvent struct {
	Round   int    `json:"round"`
	From    string `json:"from"`
	Content string `json:"content"`
}

// Coordinator alternates turns between two roles until one concedes or
// the round budget runs out.
type Coordinator struct {
	invoker   agent.Invoker
	maxRounds int
	emit      EmitFunc
}

// NewCoordinator builds a coordinator. maxRounds <= 0 uses the default.
func NewCoordinator(invoker agent.Invoker, maxRounds int, emit EmitFunc) *Coordinator {
	if maxRounds <= 0 {
		maxRounds = DefaultMaxRounds
	}
	if emit == nil {
		emit = func(string, any) {}
	}
	return &Coordinator{invoker: invoker, maxRounds: maxRounds, emit: emit}
}

// Negotiate runs the exchange. The initial issue is participant a's opening
// position (e.g. the reviewer's findings); participant b responds first.
// Every exchange is emitted before the next turn begins.
func (c *Coordinator) Negotiate(ctx context.Context, topic string, a, b agent.Role, initialIssue string) (*Resolution, error) {
	aName := agent.DisplayName(a)
	bName := agent.DisplayName(b)

	res := &Resolution{
		Transcript: []Exchange{{Agent: aName, Content: initialIssue}},
	}
	c.emit("dialogue_start", startEvent{Topic: topic, Agents: []string{aName, bName}})

	for round := 1; round <= c.maxRounds; round++ {
		res.Rounds = round

		// Responder's turn.
		reply, err := c.turn(ctx, b, topic, res.Transcript)
		if err != nil {
			return nil, err
		}
		res.Transcript = append(res.Transcript, Exchange{Agent: bName, Content: reply})
		c.emit("dialogue_exchange", exchangeEvent{Round: round, From: bName, Content: reply})

		if isConcession(reply) {
			res.Result = "resolved"
			res.ConcededBy = bName
			c.emitResolved(topic, res)
			return res, nil
		}
		res.FinalPosition = reply

		// Opener's turn.
		counter, err := c.turn(ctx, a, topic, res.Transcript)
		if err != nil {
			return nil, err
		}
		res.Transcript = append(res.Transcript, Exchange{Agent: aName, Content: counter})
		c.emit("dialogue_exchange", exchangeEvent{Round: round, From: aName, Content: counter})

		if isConcession(counter) {
			res.Result = "resolved"
			res.ConcededBy = aName
			c.emitResolved(topic, res)
			return res, nil
		}
	}

	res.Result = "unresolved"
	res.Rounds = c.maxRounds
	c.emitResolved(topic, res)
	return res, nil
}

func (c *Coordinator) emitResolved(topic string, res *Resolution) {
	c.emit("dialogue_resolved", map[string]any{
		"topic":       topic,
		"result":      res.Result,
		"rounds":      res.Rounds,
		"conceded_by": res.ConcededBy,
	})
}

// turn asks one participant to respond to the transcript so far.
func (c *Coordinator) turn(ctx context.Context, role agent.Role, topic string, transcript []Exchange) (string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "## Ongoing discussion: %s\n\n", topic)
	for _, e := range transcript {
		fmt.Fprintf(&b, "**%s**:\n%s\n\n", e.Agent, e.Content)
	}
	b.WriteString("Now it's your turn. If you accept the other side's position, reply starting with the single word CONCEDE followed by a short reason. Otherwise state your counter-position clearly.")

	ch, err := c.invoker.Invoke(ctx, agent.Request{
		Role:   role,
		Prompt: b.String(),
	})
	if err != nil {
		return "", fmt.Errorf("dialogue turn (%s): %w", role, err)
	}
	reply, err := agent.Collect(ch)
	if err != nil {
		return "", fmt.Errorf("dialogue turn (%s): %w", role, err)
	}
	return reply, nil
}

var approvalSignals = []string{"approved", "looks good", "lgtm", "no issues found"}
var rejectionSignals = []string{"not approved", "not conceding", "do not concede", "won't concede"}

// isConcession checks whether a turn accepts the other side's position.
// An explicit CONCEDE prefix always wins; otherwise fall back to approval
// phrasing, vetoed by explicit rejection phrasing.
func isConcession(text string) bool {
	lower := strings.ToLower(strings.TrimSpace(text))
	if strings.HasPrefix(lower, "concede") {
		return true
	}
	for _, s := range rejectionSignals {
		if strings.Contains(lower, s) {
			return false
		}
	}
	for _, s := range approvalSignals {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}
