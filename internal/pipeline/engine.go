// Package pipeline drives the multi-agent build state machine:
// Planning -> Coding -> Reviewing -> Testing -> Complete, with a bounded
// Debugging sub-loop reachable from Coding and Testing.
package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vibeagents/vibe/internal/agent"
	"github.com/vibeagents/vibe/internal/dialogue"
	"github.com/vibeagents/vibe/internal/models"
	"github.com/vibeagents/vibe/internal/sandbox"
	"github.com/vibeagents/vibe/internal/store"
)

// DefaultMaxDebugAttempts bounds the debug sub-loop when unconfigured.
const DefaultMaxDebugAttempts = 3

// maxContextPerFile keeps agent context prompts from ballooning on large
// generated files.
const maxContextPerFile = 8 * 1024

// FailureReason classifies why a build reached the Failed state.
type FailureReason string

const (
	ReasonPlanningFailed  FailureReason = "planning_failed"
	ReasonExecutionFailed FailureReason = "execution_failed"
	ReasonDebugExhausted  FailureReason = "debug_exhausted"
	// ReasonRunnerUnavailable marks infrastructure failures of the
	// execution runner itself, as opposed to the generated code failing.
	ReasonRunnerUnavailable FailureReason = "runner_unavailable"
)

// errRunner tags errors coming from the runner infrastructure so Build
// can classify them apart from exhausted debugging.
var errRunner = errors.New("execution runner unavailable")

func debugFailureReason(err error) FailureReason {
	if errors.Is(err, errRunner) {
		return ReasonRunnerUnavailable
	}
	return ReasonDebugExhausted
}

// Config carries the tunable pipeline limits.
type Config struct {
	MaxDebugAttempts int
	DialogueRounds   int
	ProjectsDir      string // where completed projects are written; empty disables
}

// Engine runs builds. One Build call is one state machine instance; the
// engine itself is stateless between calls, all mutable build state lives
// in the caller's Workspace.
type Engine struct {
	invoker agent.Invoker
	runner  sandbox.Runner
	store   store.Store // nil disables persistence
	negot   *dialogue.Coordinator
	cfg     Config
	emit    EmitFunc
	log     *slog.Logger
}

// NewEngine wires a pipeline engine. store may be nil; emit may be nil.
func NewEngine(invoker agent.Invoker, runner sandbox.Runner, st store.Store, cfg Config, emit EmitFunc, log *slog.Logger) *Engine {
	if cfg.MaxDebugAttempts <= 0 {
		cfg.MaxDebugAttempts = DefaultMaxDebugAttempts
	}
	if emit == nil {
		emit = func(string, any) {}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		invoker: invoker,
		runner:  runner,
		store:   st,
		negot:   dialogue.NewCoordinator(invoker, cfg.DialogueRounds, dialogue.EmitFunc(emit)),
		cfg:     cfg,
		emit:    emit,
		log:     log,
	}
}

// Build runs the full pipeline for one user request. It always returns a
// BuildResult; on failure the result carries every file produced before
// the failing step.
func (e *Engine) Build(ctx context.Context, ws *models.Workspace, request string) *models.BuildResult {
	e.phase(models.PhasePlanning)
	plan, err := e.plan(ctx, ws, request)
	if err != nil {
		return e.fail(ws, ReasonPlanningFailed, err)
	}
	ws.Plan = plan
	ws.ProjectName = plan.ProjectName
	e.emit("plan_ready", PlanReady{ProjectName: plan.ProjectName, Summary: plan.Summary, Tasks: plan.Tasks})

	e.phase(models.PhaseCoding)
	e.runTasks(ctx, ws)

	res, err := e.runner.Check(ctx, ws.Files)
	if err != nil {
		return e.fail(ws, ReasonRunnerUnavailable, fmt.Errorf("%w: %v", errRunner, err))
	}
	if !res.Success {
		e.emit("execution_result", res)
		if err := e.debugLoop(ctx, ws, failureOutput(res), e.recheckExec(ws)); err != nil {
			return e.fail(ws, debugFailureReason(err), err)
		}
	}

	e.phase(models.PhaseReviewing)
	e.review(ctx, ws)

	e.phase(models.PhaseTesting)
	if err := e.test(ctx, ws); err != nil {
		return e.fail(ws, debugFailureReason(err), err)
	}

	e.phase(models.PhaseComplete)
	e.saveProject(ctx, ws)

	result := &models.BuildResult{
		Success:     true,
		ProjectName: ws.ProjectName,
		ProjectID:   ws.ProjectID,
		Files:       ws.SnapshotFiles(),
		TestFiles:   copyMap(ws.TestFiles),
		Plan:        ws.Plan,
	}
	e.emit("build_complete", BuildComplete{
		Success: true,
		Project: ws.ProjectName,
		Files:   sortedPaths(ws.Files),
	})
	return result
}

func (e *Engine) phase(p models.Phase) {
	e.emit("phase", PhaseEvent{Name: p})
}

func (e *Engine) fail(ws *models.Workspace, reason FailureReason, err error) *models.BuildResult {
	e.phase(models.PhaseFailed)
	msg := fmt.Sprintf("%s: %v", reason, err)
	e.log.Error("build failed", "reason", reason, "error", err)
	e.emit("build_complete", BuildComplete{
		Success: false,
		Project: ws.ProjectName,
		Files:   sortedPaths(ws.Files),
		Error:   msg,
	})
	return &models.BuildResult{
		ProjectName: ws.ProjectName,
		ProjectID:   ws.ProjectID,
		Files:       ws.SnapshotFiles(),
		TestFiles:   copyMap(ws.TestFiles),
		Plan:        ws.Plan,
		Error:       msg,
	}
}

// call invokes one agent and relays its stream to the session, returning
// the final text.
func (e *Engine) call(ctx context.Context, role agent.Role, prompt, contextStr string, history []models.Turn) (string, error) {
	ch, err := e.invoker.Invoke(ctx, agent.Request{
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
			e.emit("agent_message", AgentMessage{Agent: name, Type: string(ev.Type), Content: ev.Content})
		default:
			e.emit("agent_message", AgentMessage{Agent: name, Type: string(ev.Type), Content: ev.Content, Tool: ev.Tool})
		}
	}
	return "", fmt.Errorf("%s: stream ended without a terminal event", name)
}

func (e *Engine) plan(ctx context.Context, ws *models.Workspace, request string) (*models.Plan, error) {
	var contextStr string
	if ws.ProjectName != "" && len(ws.Files) > 0 {
		// Resuming: the planner sees what already exists.
		var b strings.Builder
		fmt.Fprintf(&b, "Resuming existing project %q with files:\n", ws.ProjectName)
		for _, p := range sortedPaths(ws.Files) {
			fmt.Fprintf(&b, "- %s\n", p)
		}
		contextStr = b.String()
	}

	text, err := e.call(ctx, agent.RolePlanner, request, contextStr, ws.History)
	if err != nil {
		return nil, err
	}

	var plan models.Plan
	if err := agent.ExtractJSON(text, &plan); err != nil {
		return nil, fmt.Errorf("planner response: %w", err)
	}
	if err := plan.Validate(); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	if plan.ProjectName == "" {
		plan.ProjectName = "untitled"
	}
	return &plan, nil
}

// runTasks executes the plan's tasks in ordinal order. A failed task is
// recorded and skipped; partial projects still assemble.
func (e *Engine) runTasks(ctx context.Context, ws *models.Workspace) {
	tasks := ws.Plan.Tasks
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	for i := range tasks {
		task := &tasks[i]
		task.Status = models.TaskStatusInProgress
		e.emit("task_start", TaskStart{TaskNumber: task.ID, Total: len(tasks), Title: task.Title})

		prompt := fmt.Sprintf("Task %d of %d: %s\n\n%s", task.ID, len(tasks), task.Title, task.Description)
		if task.File != "" {
			prompt += fmt.Sprintf("\n\nTarget file: %s", task.File)
		}

		text, err := e.call(ctx, agent.RoleCoder, prompt, filesContext(ws.Files), nil)
		if err != nil {
			task.Status = models.TaskStatusFailed
			e.log.Warn("task failed", "task", task.ID, "error", err)
			continue
		}

		var out agent.CoderReply
		if err := agent.ExtractJSON(text, &out); err != nil || out.FilePath == "" || out.Code == "" {
			task.Status = models.TaskStatusFailed
			e.log.Warn("task produced no usable file", "task", task.ID)
			continue
		}
		if _, err := sandbox.SafeJoin(".", out.FilePath); err != nil {
			task.Status = models.TaskStatusFailed
			e.log.Warn("task produced unsafe path", "task", task.ID, "path", out.FilePath)
			continue
		}

		event := "file_created"
		if _, exists := ws.Files[out.FilePath]; exists {
			event = "file_updated"
		}
		ws.Files[out.FilePath] = out.Code
		task.Status = models.TaskStatusDone
		e.emit(event, FileEvent{Path: out.FilePath, Code: out.Code})
	}
}

// debugLoop runs bounded fix attempts against a failing check. recheck
// re-verifies the patched file set the same way the triggering check ran.
// A nil return means the failure was fixed; an error means attempts are
// exhausted.
func (e *Engine) debugLoop(ctx context.Context, ws *models.Workspace, failure string, recheck func(context.Context) (sandbox.Result, error)) error {
	e.phase(models.PhaseDebugging)
	max := e.cfg.MaxDebugAttempts

	for attempt := 1; attempt <= max; attempt++ {
		e.emit("debug_attempt", models.DebugAttempt{Attempt: attempt, Max: max})

		prompt := fmt.Sprintf("The code fails with this output:\n\n```\n%s\n```\n\nDiagnose and fix the defect.", failure)
		text, err := e.call(ctx, agent.RoleDebugger, prompt, filesContext(allFiles(ws)), nil)
		if err != nil {
			e.log.Warn("debug attempt failed", "attempt", attempt, "error", err)
			continue
		}

		var fix agent.DebugReply
		if err := agent.ExtractJSON(text, &fix); err != nil {
			e.log.Warn("debugger produced no usable fix", "attempt", attempt)
			continue
		}
		if !ws.ApplyPatch(fix.FilePath, fix.Fix.OldCode, fix.Fix.NewCode) {
			e.log.Warn("debug fix did not apply", "attempt", attempt, "file", fix.FilePath)
			continue
		}
		e.emit("file_updated", FileEvent{Path: fix.FilePath})

		res, err := recheck(ctx)
		if err != nil {
			return fmt.Errorf("%w: %v", errRunner, err)
		}
		if res.Success {
			e.emit("debug_success", models.DebugAttempt{
				Attempt:   attempt,
				Max:       max,
				Diagnosis: fix.Diagnosis,
				FilePath:  fix.FilePath,
				Fixed:     true,
			})
			return nil
		}
		e.emit("debug_failed", models.DebugAttempt{Attempt: attempt, Max: max})
		failure = failureOutput(res)
	}

	e.emit("debug_exhausted", map[string]any{"attempts": max})
	return fmt.Errorf("debugging exhausted after %d attempts", max)
}

func (e *Engine) recheckExec(ws *models.Workspace) func(context.Context) (sandbox.Result, error) {
	return func(ctx context.Context) (sandbox.Result, error) {
		return e.runner.Check(ctx, ws.Files)
	}
}

// review runs the reviewer and, on a needs_changes verdict, escalates to
// a bounded reviewer/coder dialogue before proceeding. Regardless of
// verdict, every critical issue then gets a dedicated coder fix pass
// before testing. Review never fails the build.
func (e *Engine) review(ctx context.Context, ws *models.Workspace) {
	text, err := e.call(ctx, agent.RoleReviewer, "Review the project files for correctness, safety, and completeness.", filesContext(ws.Files), nil)
	if err != nil {
		e.log.Warn("review unavailable", "error", err)
		e.emit("review_complete", ReviewComplete{Status: models.ReviewVerdictApproved, Summary: "review skipped: agent unavailable"})
		return
	}

	var review models.Review
	if err := agent.ExtractJSON(text, &review); err != nil || review.Verdict == "" {
		review = models.Review{Verdict: models.ReviewVerdictApproved, Summary: clipText(text, 500)}
	}
	e.emit("review_complete", ReviewComplete{Status: review.Verdict, Summary: review.Summary, Issues: review.Issues})

	if review.Verdict == models.ReviewVerdictNeedsChanges {
		issue := review.Summary
		for _, i := range review.Issues {
			issue += fmt.Sprintf("\n- [%s] %s", i.Severity, i.Description)
		}
		res, err := e.negot.Negotiate(ctx, "Code review of "+ws.ProjectName, agent.RoleReviewer, agent.RoleCoder, issue)
		if err != nil {
			e.log.Warn("review dialogue failed", "error", err)
		} else {
			// If the coder's last position carries a concrete patch, take it.
			var out agent.CoderReply
			if res.FinalPosition != "" && agent.ExtractJSON(res.FinalPosition, &out) == nil && out.FilePath != "" && out.Code != "" {
				if _, err := sandbox.SafeJoin(".", out.FilePath); err == nil {
					ws.Files[out.FilePath] = out.Code
					e.emit("file_updated", FileEvent{Path: out.FilePath, Code: out.Code})
				}
			}
		}
	}

	e.fixCriticalIssues(ctx, ws, review.Critical())
}

// fixCriticalIssues sends each critical review issue back to the coder
// for a targeted fix before the build moves on to testing. Issues the
// coder cannot resolve are logged and skipped.
func (e *Engine) fixCriticalIssues(ctx context.Context, ws *models.Workspace, issues []models.ReviewIssue) {
	for _, issue := range issues {
		prompt := fmt.Sprintf("The reviewer flagged a critical issue:\n\n%s", issue.Description)
		if issue.File != "" {
			prompt += fmt.Sprintf("\n\nAffected file: %s", issue.File)
		}
		prompt += "\n\nFix the issue."

		text, err := e.call(ctx, agent.RoleCoder, prompt, filesContext(ws.Files), nil)
		if err != nil {
			e.log.Warn("critical issue fix failed", "error", err)
			continue
		}

		var out agent.CoderReply
		if err := agent.ExtractJSON(text, &out); err != nil || out.FilePath == "" || out.Code == "" {
			e.log.Warn("critical issue fix produced no usable file")
			continue
		}
		if _, err := sandbox.SafeJoin(".", out.FilePath); err != nil {
			e.log.Warn("critical issue fix produced unsafe path", "path", out.FilePath)
			continue
		}

		event := "file_created"
		if _, exists := ws.Files[out.FilePath]; exists {
			event = "file_updated"
		}
		ws.Files[out.FilePath] = out.Code
		e.emit(event, FileEvent{Path: out.FilePath, Code: out.Code})
	}
}

// test generates and runs the test suite. An empty or ungenerable suite
// is accepted; failing tests enter the debug sub-loop.
func (e *Engine) test(ctx context.Context, ws *models.Workspace) error {
	text, err := e.call(ctx, agent.RoleTester, "Write a test suite for the project files.", filesContext(ws.Files), nil)
	if err != nil {
		e.log.Warn("tester unavailable", "error", err)
		e.emit("test_result", TestResult{Success: true, Output: "no test suite generated"})
		return nil
	}

	var out agent.TesterReply
	if err := agent.ExtractJSON(text, &out); err != nil || out.FilePath == "" || out.Code == "" {
		e.emit("test_result", TestResult{Success: true, Output: "no test suite generated"})
		return nil
	}
	if _, err := sandbox.SafeJoin(".", out.FilePath); err != nil {
		e.emit("test_result", TestResult{Success: true, Output: "no test suite generated"})
		return nil
	}

	ws.TestFiles[out.FilePath] = out.Code
	e.emit("file_created", FileEvent{Path: out.FilePath, Code: out.Code})

	res, err := e.runner.RunTests(ctx, ws.Files, out.FilePath, out.Code, out.RunCommand)
	if err != nil {
		return fmt.Errorf("%w: %v", errRunner, err)
	}
	e.emit("test_result", TestResult{Success: res.Success, Output: failureOutput(res)})
	if res.Success {
		return nil
	}

	recheck := func(ctx context.Context) (sandbox.Result, error) {
		return e.runner.RunTests(ctx, ws.Files, out.FilePath, ws.TestFiles[out.FilePath], out.RunCommand)
	}
	return e.debugLoop(ctx, ws, failureOutput(res), recheck)
}

// saveProject writes the completed project to disk and upserts its DB
// record. Persistence failures are logged, never fatal to the build.
func (e *Engine) saveProject(ctx context.Context, ws *models.Workspace) {
	if e.cfg.ProjectsDir == "" {
		return
	}

	dir := filepath.Join(e.cfg.ProjectsDir, sandbox.SanitizeName(ws.ProjectName))
	if err := writeProjectFiles(dir, allFiles(ws)); err != nil {
		e.log.Warn("write project files", "error", err)
		return
	}

	if e.store == nil {
		return
	}
	planJSON, _ := json.Marshal(ws.Plan)
	p := &models.Project{
		ID:          ws.ProjectID,
		Name:        ws.ProjectName,
		Description: ws.Plan.Summary,
		Directory:   dir,
		PlanJSON:    string(planJSON),
		FileCount:   len(ws.Files),
	}

	var err error
	if p.ID != "" {
		err = e.store.UpdateProject(ctx, p)
	} else {
		err = e.store.CreateProject(ctx, p)
	}
	if err != nil {
		e.log.Warn("save project record", "error", err)
		return
	}
	ws.ProjectID = p.ID
	e.emit("project_saved", ProjectSaved{ProjectID: p.ID, Directory: dir})
}

func writeProjectFiles(dir string, files map[string]string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create project dir: %w", err)
	}
	for path, content := range files {
		full, err := sandbox.SafeJoin(dir, path)
		if err != nil {
			return err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			return fmt.Errorf("create dir for %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	return nil
}

// filesContext renders a file map as fenced blocks for agent context.
func filesContext(files map[string]string) string {
	if len(files) == 0 {
		return ""
	}
	var b strings.Builder
	for _, path := range sortedPaths(files) {
		fmt.Fprintf(&b, "### %s\n```\n%s\n```\n\n", path, clipText(files[path], maxContextPerFile))
	}
	return b.String()
}

func allFiles(ws *models.Workspace) map[string]string {
	out := make(map[string]string, len(ws.Files)+len(ws.TestFiles))
	for k, v := range ws.Files {
		out[k] = v
	}
	for k, v := range ws.TestFiles {
		out[k] = v
	}
	return out
}

func copyMap(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func sortedPaths(files map[string]string) []string {
	paths := make([]string, 0, len(files))
	for p := range files {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}

func failureOutput(res sandbox.Result) string {
	if res.Stderr != "" {
		return res.Stderr
	}
	return res.Stdout
}

func clipText(s string, n int) string {
	if len(s) > n {
		return s[:n] + "\n... [truncated]"
	}
	return s
}
