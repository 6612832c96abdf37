// Package router classifies chat messages into one of the closed intent
// set and dispatches each intent to the right agent path. A routing error
// never fails the request: the fallback is a plain conversation reply.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/vibeagents/vibe/internal/agent"
	"github.com/vibeagents/vibe/internal/models"
	"github.com/vibeagents/vibe/internal/pipeline"
	"github.com/vibeagents/vibe/internal/sandbox"
)

// DefaultFallbackReply answers messages the router could not classify.
const DefaultFallbackReply = "I'm not sure what you'd like me to do. Ask me to build, fix, review, or test something, or just chat."

// EmitFunc delivers a router event to the owning session.
type EmitFunc func(event string, data any)

// Config carries the router tunables.
type Config struct {
	// ConfidenceThreshold downgrades low-confidence non-conversation
	// intents to conversation. Zero disables the check.
	ConfidenceThreshold float64
	FallbackReply       string
}

// RouteDecisionEvent is the payload of "route_decision".
type RouteDecisionEvent struct {
	Action     models.Intent `json:"action"`
	Confidence float64       `json:"confidence"`
	Reasoning  string        `json:"reasoning,omitempty"`
}

// Router owns intent classification and dispatch for one session.
type Router struct {
	invoker agent.Invoker
	engine  *pipeline.Engine
	runner  sandbox.Runner
	cfg     Config
	emit    EmitFunc
	log     *slog.Logger
}

// New wires a router. emit may be nil.
func New(invoker agent.Invoker, engine *pipeline.Engine, runner sandbox.Runner, cfg Config, emit EmitFunc, log *slog.Logger) *Router {
	if cfg.FallbackReply == "" {
		cfg.FallbackReply = DefaultFallbackReply
	}
	if emit == nil {
		emit = func(string, any) {}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Router{invoker: invoker, engine: engine, runner: runner, cfg: cfg, emit: emit, log: log}
}

// Handle routes one chat message and returns the uniform response shape,
// appending both sides of the exchange to the workspace history.
func (r *Router) Handle(ctx context.Context, ws *models.Workspace, message string) *models.ChatResponse {
	ws.History = append(ws.History, models.Turn{Role: "user", Content: message})

	r.emit("routing", map[string]string{"status": "classifying"})
	decision := r.route(ctx, ws, message)
	r.emit("route_decision", RouteDecisionEvent{
		Action:     decision.Action,
		Confidence: decision.Confidence,
		Reasoning:  decision.Reasoning,
	})

	var resp *models.ChatResponse
	switch decision.Action {
	case models.IntentBuild:
		resp = r.dispatchBuild(ctx, ws, decision, message)
	case models.IntentCodeOnly:
		resp = r.dispatchCodeOnly(ctx, ws, decision, message)
	case models.IntentFix:
		resp = r.dispatchFix(ctx, ws, decision, message)
	case models.IntentReview:
		resp = r.dispatchReview(ctx, ws)
	case models.IntentTest:
		resp = r.dispatchTest(ctx, ws)
	default:
		resp = r.dispatchConversation(decision)
	}

	ws.History = append(ws.History, models.Turn{Role: "assistant", Content: resp.Response})
	return resp
}

// route classifies the message. Any failure along the way falls back to a
// conversation intent with confidence 0.
func (r *Router) route(ctx context.Context, ws *models.Workspace, message string) models.RouteDecision {
	fallback := models.RouteDecision{
		Action:   models.IntentConversation,
		Response: r.cfg.FallbackReply,
	}

	// History excludes the message itself; it is the prompt.
	history := ws.History[:len(ws.History)-1]
	text, err := r.call(ctx, agent.RoleRouter, message, "", history)
	if err != nil {
		r.log.Warn("routing failed", "error", err)
		return fallback
	}

	var d models.RouteDecision
	if err := agent.ExtractJSON(text, &d); err != nil {
		r.log.Warn("unparseable route decision", "error", err)
		return fallback
	}
	if !models.ValidIntent(d.Action) {
		r.log.Warn("unknown intent", "action", d.Action)
		return fallback
	}
	if d.Action != models.IntentConversation && r.cfg.ConfidenceThreshold > 0 && d.Confidence < r.cfg.ConfidenceThreshold {
		r.log.Info("intent below confidence threshold", "action", d.Action, "confidence", d.Confidence)
		d.Action = models.IntentConversation
		if d.Response == "" {
			d.Response = r.cfg.FallbackReply
		}
	}
	return d
}

func (r *Router) dispatchConversation(decision models.RouteDecision) *models.ChatResponse {
	reply := decision.Response
	if reply == "" {
		reply = r.cfg.FallbackReply
	}
	return &models.ChatResponse{
		Type:     string(models.IntentConversation),
		Success:  true,
		Response: reply,
	}
}

func (r *Router) dispatchBuild(ctx context.Context, ws *models.Workspace, decision models.RouteDecision, message string) *models.ChatResponse {
	task := decision.Task
	if task == "" {
		task = message
	}
	result := r.engine.Build(ctx, ws, task)

	resp := &models.ChatResponse{
		Type:    string(models.IntentBuild),
		Success: result.Success,
		Project: result.ProjectName,
		Files:   sortedPaths(result.Files),
		Error:   result.Error,
	}
	if result.Success {
		resp.Response = fmt.Sprintf("Built %s with %d files.", result.ProjectName, len(result.Files))
	} else {
		resp.Response = "The build failed: " + result.Error
	}
	return resp
}

func (r *Router) dispatchCodeOnly(ctx context.Context, ws *models.Workspace, decision models.RouteDecision, message string) *models.ChatResponse {
	task := decision.Task
	if task == "" {
		task = message
	}

	text, err := r.call(ctx, agent.RoleCoder, task, filesContext(ws.Files), nil)
	if err != nil {
		return errorResponse(models.IntentCodeOnly, err)
	}

	var out agent.CoderReply
	if err := agent.ExtractJSON(text, &out); err != nil || out.FilePath == "" || out.Code == "" {
		return errorResponse(models.IntentCodeOnly, fmt.Errorf("coder produced no usable file"))
	}
	if _, err := sandbox.SafeJoin(".", out.FilePath); err != nil {
		return errorResponse(models.IntentCodeOnly, err)
	}

	event := "file_created"
	if _, exists := ws.Files[out.FilePath]; exists {
		event = "file_updated"
	}
	ws.Files[out.FilePath] = out.Code
	r.emit(event, pipeline.FileEvent{Path: out.FilePath, Code: out.Code})

	reply := out.Explanation
	if reply == "" {
		reply = "Wrote " + out.FilePath
	}
	return &models.ChatResponse{
		Type:     string(models.IntentCodeOnly),
		Success:  true,
		Response: reply,
		FilePath: out.FilePath,
		Code:     out.Code,
	}
}

// dispatchFix is a single-shot debugger pass over the current files: one
// attempt, no retry loop. The bounded loop belongs to the pipeline.
func (r *Router) dispatchFix(ctx context.Context, ws *models.Workspace, decision models.RouteDecision, message string) *models.ChatResponse {
	if len(ws.Files) == 0 {
		return &models.ChatResponse{
			Type:     string(models.IntentFix),
			Success:  false,
			Response: "There are no project files to fix yet. Build or resume a project first.",
		}
	}

	task := decision.Task
	if task == "" {
		task = message
	}

	text, err := r.call(ctx, agent.RoleDebugger, task, filesContext(ws.Files), nil)
	if err != nil {
		return errorResponse(models.IntentFix, err)
	}

	var fix agent.DebugReply
	if err := agent.ExtractJSON(text, &fix); err != nil {
		return errorResponse(models.IntentFix, fmt.Errorf("debugger produced no usable fix"))
	}
	if !ws.ApplyPatch(fix.FilePath, fix.Fix.OldCode, fix.Fix.NewCode) {
		return errorResponse(models.IntentFix, fmt.Errorf("fix targets unknown file %s", fix.FilePath))
	}
	r.emit("file_updated", pipeline.FileEvent{Path: fix.FilePath})

	reply := fix.Diagnosis
	if fix.Fix.Description != "" {
		reply += " Fix: " + fix.Fix.Description
	}
	return &models.ChatResponse{
		Type:      string(models.IntentFix),
		Success:   true,
		Response:  reply,
		FilePath:  fix.FilePath,
		Diagnosis: fix.Diagnosis,
	}
}

func (r *Router) dispatchReview(ctx context.Context, ws *models.Workspace) *models.ChatResponse {
	if len(ws.Files) == 0 {
		return &models.ChatResponse{
			Type:     string(models.IntentReview),
			Success:  false,
			Response: "There are no project files to review yet.",
		}
	}

	text, err := r.call(ctx, agent.RoleReviewer, "Review the project files.", filesContext(ws.Files), nil)
	if err != nil {
		return errorResponse(models.IntentReview, err)
	}

	var review models.Review
	if err := agent.ExtractJSON(text, &review); err != nil || review.Verdict == "" {
		return errorResponse(models.IntentReview, fmt.Errorf("reviewer produced no verdict"))
	}
	r.emit("review_complete", pipeline.ReviewComplete{Status: review.Verdict, Summary: review.Summary, Issues: review.Issues})

	return &models.ChatResponse{
		Type:     string(models.IntentReview),
		Success:  true,
		Response: review.Summary,
		Verdict:  review.Verdict,
		Issues:   review.Issues,
		Summary:  review.Summary,
	}
}

func (r *Router) dispatchTest(ctx context.Context, ws *models.Workspace) *models.ChatResponse {
	if len(ws.Files) == 0 {
		return &models.ChatResponse{
			Type:     string(models.IntentTest),
			Success:  false,
			Response: "There are no project files to test yet.",
		}
	}

	text, err := r.call(ctx, agent.RoleTester, "Write a test suite for the project files.", filesContext(ws.Files), nil)
	if err != nil {
		return errorResponse(models.IntentTest, err)
	}

	var out agent.TesterReply
	if err := agent.ExtractJSON(text, &out); err != nil || out.FilePath == "" || out.Code == "" {
		reply := out.Description
		if reply == "" {
			reply = "No test suite could be generated for the current files."
		}
		return &models.ChatResponse{Type: string(models.IntentTest), Success: true, Response: reply}
	}
	if _, err := sandbox.SafeJoin(".", out.FilePath); err != nil {
		return errorResponse(models.IntentTest, err)
	}

	ws.TestFiles[out.FilePath] = out.Code
	r.emit("file_created", pipeline.FileEvent{Path: out.FilePath, Code: out.Code})

	res, err := r.runner.RunTests(ctx, ws.Files, out.FilePath, out.Code, out.RunCommand)
	if err != nil {
		return errorResponse(models.IntentTest, err)
	}
	output := res.Stdout
	if !res.Success && res.Stderr != "" {
		output = res.Stderr
	}
	r.emit("test_result", pipeline.TestResult{Success: res.Success, Output: output})

	reply := "Tests passed."
	if !res.Success {
		reply = "Tests failed:\n" + output
	}
	return &models.ChatResponse{
		Type:     string(models.IntentTest),
		Success:  res.Success,
		Response: reply,
		FilePath: out.FilePath,
	}
}

// call invokes one agent and relays its stream, returning the final text.
func (r *Router) call(ctx context.Context, role agent.Role, prompt, contextStr string, history []models.Turn) (string, error) {
	ch, err := r.invoker.Invoke(ctx, agent.Request{
		Role:    role,
		Prompt:  prompt,
		Context: contextStr,
		History: history,
	})
	if err != nil {
		return "", fmt.Errorf("invoke %s: %w", role, err)
	}

	name := agent.DisplayName(role)
	var b strings.Builder
	for ev := range ch {
		switch ev.Type {
		case agent.EventDone:
			if ev.Content != "" {
				return ev.Content, nil
			}
			return b.String(), nil
		case agent.EventError:
			return "", fmt.Errorf("%s: %s", name, ev.Content)
		case agent.EventStreaming:
			b.WriteString(ev.Content)
			r.emit("agent_message", pipeline.AgentMessage{Agent: name, Type: string(ev.Type), Content: ev.Content})
		default:
			r.emit("agent_message", pipeline.AgentMessage{Agent: name, Type: string(ev.Type), Content: ev.Content, Tool: ev.Tool})
		}
	}
	return "", fmt.Errorf("%s: stream ended without a terminal event", name)
}

func errorResponse(intent models.Intent, err error) *models.ChatResponse {
	return &models.ChatResponse{
		Type:     string(intent),
		Success:  false,
		Response: "Something went wrong: " + err.Error(),
		Error:    err.Error(),
	}
}

func filesContext(files map[string]string) string {
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	for _, path := range sortedPaths(files) {
		fmt.Fprintf(&b, "### %s\n```\n%s\n```\n\n", path, files[path])
	}
	return b.String()
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
