package router

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vibeagents/vibe/internal/agent"
	"github.com/vibeagents/vibe/internal/agent/agenttest"
	"github.com/vibeagents/vibe/internal/models"
	"github.com/vibeagents/vibe/internal/pipeline"
	"github.com/vibeagents/vibe/internal/sandbox"
)

type passRunner struct{}

func (passRunner) Check(ctx context.Context, files map[string]string) (sandbox.Result, error) {
	return sandbox.Result{Success: true}, nil
}

func (passRunner) RunTests(ctx context.Context, files map[string]string, testPath, testCode, command string) (sandbox.Result, error) {
	return sandbox.Result{Success: true, Stdout: "2 passed"}, nil
}

func mustJSON(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return string(b)
}

func routeReply(t *testing.T, d models.RouteDecision) agenttest.Reply {
	t.Helper()
	return agenttest.Reply{Text: mustJSON(t, d)}
}

func newRouter(inv *agenttest.Invoker, cfg Config, emit EmitFunc) *Router {
	engine := pipeline.NewEngine(inv, passRunner{}, nil, pipeline.Config{}, pipeline.EmitFunc(emit), nil)
	return New(inv, engine, passRunner{}, cfg, emit, nil)
}

func TestHandle_Conversation(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleRouter, routeReply(t, models.RouteDecision{
		Action:     models.IntentConversation,
		Response:   "Hello! Ask me to build something.",
		Confidence: 0.95,
	}))

	ws := models.NewWorkspace()
	r := newRouter(inv, Config{}, nil)
	resp := r.Handle(context.Background(), ws, "hi")

	require.True(t, resp.Success)
	assert.Equal(t, "conversation", resp.Type)
	assert.Equal(t, "Hello! Ask me to build something.", resp.Response)

	// Both sides of the exchange land in history.
	require.Len(t, ws.History, 2)
	assert.Equal(t, models.Turn{Role: "user", Content: "hi"}, ws.History[0])
	assert.Equal(t, "assistant", ws.History[1].Role)
}

func TestHandle_UnparseableFallsBack(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleRouter, agenttest.Reply{Text: "I think you want to build something?"})

	var events []struct {
		event string
		data  any
	}
	emit := func(event string, data any) {
		events = append(events, struct {
			event string
			data  any
		}{event, data})
	}

	r := newRouter(inv, Config{}, emit)
	resp := r.Handle(context.Background(), models.NewWorkspace(), "do the thing")

	require.True(t, resp.Success)
	assert.Equal(t, "conversation", resp.Type)
	assert.Equal(t, DefaultFallbackReply, resp.Response)

	var decision RouteDecisionEvent
	for _, e := range events {
		if e.event == "route_decision" {
			decision = e.data.(RouteDecisionEvent)
		}
	}
	assert.Equal(t, models.IntentConversation, decision.Action)
	assert.Zero(t, decision.Confidence)
}

func TestHandle_UnknownIntentFallsBack(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleRouter, agenttest.Reply{Text: `{"action":"deploy","confidence":0.9}`})

	r := newRouter(inv, Config{}, nil)
	resp := r.Handle(context.Background(), models.NewWorkspace(), "deploy to prod")

	assert.Equal(t, "conversation", resp.Type)
	assert.Equal(t, DefaultFallbackReply, resp.Response)
}

func TestHandle_RouterErrorFallsBack(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleRouter, agenttest.Reply{Err: "model overloaded"})

	r := newRouter(inv, Config{FallbackReply: "try again later"}, nil)
	resp := r.Handle(context.Background(), models.NewWorkspace(), "hello")

	require.True(t, resp.Success)
	assert.Equal(t, "try again later", resp.Response)
}

func TestHandle_ConfidenceThresholdDowngrades(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleRouter, routeReply(t, models.RouteDecision{
		Action:     models.IntentBuild,
		Task:       "build a thing",
		Confidence: 0.3,
	}))

	r := newRouter(inv, Config{ConfidenceThreshold: 0.5}, nil)
	resp := r.Handle(context.Background(), models.NewWorkspace(), "maybe build something?")

	assert.Equal(t, "conversation", resp.Type)
	// The pipeline never starts.
	assert.Equal(t, 0, inv.CallCount(agent.RolePlanner))
}

func TestHandle_BuildDispatch(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleRouter, routeReply(t, models.RouteDecision{
		Action:     models.IntentBuild,
		Task:       "build a calculator",
		Confidence: 0.9,
	}))
	inv.Script(agent.RolePlanner, agenttest.Reply{Text: mustJSON(t, models.Plan{
		ProjectName: "calculator",
		Summary:     "a calculator",
		Tasks:       []models.Task{{ID: 1, Title: "main"}},
	})})
	inv.Script(agent.RoleCoder, agenttest.Reply{Text: mustJSON(t, agent.CoderReply{
		FilePath: "main.py", Code: "print('calc')\n",
	})})
	inv.Script(agent.RoleReviewer, agenttest.Reply{Text: mustJSON(t, models.Review{Verdict: models.ReviewVerdictApproved})})
	inv.Script(agent.RoleTester, agenttest.Reply{Text: "no suite"})

	ws := models.NewWorkspace()
	r := newRouter(inv, Config{}, nil)
	resp := r.Handle(context.Background(), ws, "build a calculator")

	require.True(t, resp.Success)
	assert.Equal(t, "build", resp.Type)
	assert.Equal(t, "calculator", resp.Project)
	assert.Equal(t, []string{"main.py"}, resp.Files)
	assert.Equal(t, "calculator", ws.ProjectName)
}

func TestHandle_CodeOnlyDispatch(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleRouter, routeReply(t, models.RouteDecision{
		Action:     models.IntentCodeOnly,
		Task:       "write a fizzbuzz function",
		Confidence: 0.9,
	}))
	inv.Script(agent.RoleCoder, agenttest.Reply{Text: mustJSON(t, agent.CoderReply{
		FilePath:    "fizzbuzz.py",
		Code:        "def fizzbuzz(n): ...\n",
		Explanation: "Implemented fizzbuzz.",
	})})

	ws := models.NewWorkspace()
	r := newRouter(inv, Config{}, nil)
	resp := r.Handle(context.Background(), ws, "write fizzbuzz")

	require.True(t, resp.Success)
	assert.Equal(t, "code_only", resp.Type)
	assert.Equal(t, "fizzbuzz.py", resp.FilePath)
	assert.Equal(t, "Implemented fizzbuzz.", resp.Response)
	assert.Contains(t, ws.Files, "fizzbuzz.py")
	// No pipeline phases for code_only.
	assert.Equal(t, 0, inv.CallCount(agent.RolePlanner))
	assert.Equal(t, 0, inv.CallCount(agent.RoleReviewer))
}

func TestHandle_FixWithoutFiles(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleRouter, routeReply(t, models.RouteDecision{
		Action:     models.IntentFix,
		Confidence: 0.9,
	}))

	r := newRouter(inv, Config{}, nil)
	resp := r.Handle(context.Background(), models.NewWorkspace(), "fix the bug")

	assert.False(t, resp.Success)
	assert.Equal(t, "fix", resp.Type)
	assert.Equal(t, 0, inv.CallCount(agent.RoleDebugger))
}

func TestHandle_FixSingleShot(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleRouter, routeReply(t, models.RouteDecision{
		Action:     models.IntentFix,
		Task:       "fix the division bug",
		Confidence: 0.9,
	}))
	fix := agent.DebugReply{Diagnosis: "division by zero", FilePath: "main.py"}
	fix.Fix.OldCode = "1/0"
	fix.Fix.NewCode = "1/1"
	inv.Script(agent.RoleDebugger, agenttest.Reply{Text: mustJSON(t, fix)})

	ws := models.NewWorkspace()
	ws.Files["main.py"] = "x = 1/0\n"

	r := newRouter(inv, Config{}, nil)
	resp := r.Handle(context.Background(), ws, "this crashes")

	require.True(t, resp.Success)
	assert.Equal(t, "division by zero", resp.Diagnosis)
	assert.Equal(t, "x = 1/1\n", ws.Files["main.py"])
	// Single shot, no retry loop.
	assert.Equal(t, 1, inv.CallCount(agent.RoleDebugger))
}

func TestHandle_ReviewDispatch(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleRouter, routeReply(t, models.RouteDecision{
		Action:     models.IntentReview,
		Confidence: 0.9,
	}))
	inv.Script(agent.RoleReviewer, agenttest.Reply{Text: mustJSON(t, models.Review{
		Verdict: models.ReviewVerdictNeedsChanges,
		Summary: "missing error handling",
		Issues:  []models.ReviewIssue{{Severity: models.SeverityWarning, Description: "bare except"}},
	})})

	ws := models.NewWorkspace()
	ws.Files["main.py"] = "print('hi')\n"

	r := newRouter(inv, Config{}, nil)
	resp := r.Handle(context.Background(), ws, "review my code")

	require.True(t, resp.Success)
	assert.Equal(t, models.ReviewVerdictNeedsChanges, resp.Verdict)
	require.Len(t, resp.Issues, 1)
	// Review alone never escalates to a dialogue; that is the pipeline's job.
	assert.Equal(t, 0, inv.CallCount(agent.RoleCoder))
}

func TestHandle_TestDispatch(t *testing.T) {
	inv := agenttest.New()
	inv.Script(agent.RoleRouter, routeReply(t, models.RouteDecision{
		Action:     models.IntentTest,
		Confidence: 0.9,
	}))
	inv.Script(agent.RoleTester, agenttest.Reply{Text: mustJSON(t, agent.TesterReply{
		FilePath: "test_main.py",
		Code:     "assert True\n",
	})})

	ws := models.NewWorkspace()
	ws.Files["main.py"] = "print('hi')\n"

	r := newRouter(inv, Config{}, nil)
	resp := r.Handle(context.Background(), ws, "test this")

	require.True(t, resp.Success)
	assert.Equal(t, "test", resp.Type)
	assert.Equal(t, "test_main.py", resp.FilePath)
	assert.Contains(t, ws.TestFiles, "test_main.py")
}
