// Package sandbox runs generated code in a throwaway directory. The
// orchestration core only schedules these checks and reacts to their
// results; hardening beyond path validation and timeouts is out of scope.
package sandbox

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

const maxOutput = 50 * 1024

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// Result is the outcome of one execution check.
type Result struct {
	Success  bool   `json:"success"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

// Runner is the execution-check collaborator consumed by the pipeline.
type Runner interface {
	// Check writes the file set to a scratch directory and runs its entry
	// point. A missing entry point is not a failure; there is nothing to
	// check.
	Check(ctx context.Context, files map[string]string) (Result, error)

	// RunTests writes the file set plus the test file and runs the given
	// command in the scratch directory.
	RunTests(ctx context.Context, files map[string]string, testPath, testCode, command string) (Result, error)
}

// ExecRunner executes code with the host interpreters under a timeout.
type ExecRunner struct {
	Timeout time.Duration
}

// NewExecRunner returns a runner with the given per-run timeout (capped at
// five minutes; zero means 30 seconds).
func NewExecRunner(timeout time.Duration) *ExecRunner {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if timeout > 5*time.Minute {
		timeout = 5 * time.Minute
	}
	return &ExecRunner{Timeout: timeout}
}

// entryCandidates maps a language guess to conventional entry point names.
var entryCandidates = []string{"main.py", "app.py", "run.py", "__main__.py", "index.js", "main.js", "app.js"}

// EntryPoint picks the conventional entry point from a file set, falling
// back to any .py or .js file. Empty when there is nothing runnable.
func EntryPoint(files map[string]string) string {
	for _, name := range entryCandidates {
		if _, ok := files[name]; ok {
			return name
		}
	}
	for path := range files {
		switch filepath.Ext(path) {
		case ".py", ".js":
			return path
		}
	}
	return ""
}

func (r *ExecRunner) Check(ctx context.Context, files map[string]string) (Result, error) {
	entry := EntryPoint(files)
	if entry == "" {
		return Result{Success: true}, nil
	}

	dir, err := writeScratch(files)
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	return r.run(ctx, dir, commandFor(entry))
}

func (r *ExecRunner) RunTests(ctx context.Context, files map[string]string, testPath, testCode, command string) (Result, error) {
	all := make(map[string]string, len(files)+1)
	for k, v := range files {
		all[k] = v
	}
	all[testPath] = testCode

	dir, err := writeScratch(all)
	if err != nil {
		return Result{}, err
	}
	defer os.RemoveAll(dir)

	argv := strings.Fields(command)
	if command == "" {
		argv = commandFor(testPath)
	}
	return r.run(ctx, dir, argv)
}

func commandFor(path string) []string {
	if filepath.Ext(path) == ".js" {
		return []string{"node", path}
	}
	return []string{"python3", path}
}

func (r *ExecRunner) run(ctx context.Context, dir string, argv []string) (Result, error) {
	if len(argv) == 0 {
		return Result{Success: true}, nil
	}
	ctx, cancel := context.WithTimeout(ctx, r.Timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = dir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	res := Result{
		Stdout: clip(stdout.String()),
		Stderr: clip(stderr.String()),
	}
	if ctx.Err() == context.DeadlineExceeded {
		res.Stderr = res.Stderr + "\nexecution timed out"
		res.ExitCode = -1
		return res, nil
	}
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			res.ExitCode = exitErr.ExitCode()
			return res, nil
		}
		// Interpreter missing or not startable; report, don't fail the build.
		res.Stderr = err.Error()
		res.ExitCode = -1
		return res, nil
	}
	res.Success = true
	return res, nil
}

func clip(s string) string {
	if len(s) > maxOutput {
		return s[:maxOutput] + "\n... [truncated]"
	}
	return s
}

// writeScratch materializes a file set under a fresh temp directory,
// rejecting paths that would escape it.
func writeScratch(files map[string]string) (string, error) {
	dir, err := os.MkdirTemp("", "vibe_sandbox_")
	if err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	for path, content := range files {
		full, err := SafeJoin(dir, path)
		if err != nil {
			os.RemoveAll(dir)
			return "", err
		}
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("create dir for %s: %w", path, err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil {
			os.RemoveAll(dir)
			return "", fmt.Errorf("write %s: %w", path, err)
		}
	}
	return dir, nil
}

// SafeJoin joins a relative path onto base, rejecting absolute paths and
// traversal outside base.
func SafeJoin(base, path string) (string, error) {
	if filepath.IsAbs(path) {
		return "", fmt.Errorf("absolute path not allowed: %s", path)
	}
	clean := filepath.Clean(path)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal not allowed: %s", path)
	}
	return filepath.Join(base, clean), nil
}

// SanitizeName reduces a project name to filesystem-safe characters.
func SanitizeName(name string) string {
	s := unsafeNameChars.ReplaceAllString(name, "_")
	if len(s) > 50 {
		s = s[:50]
	}
	if s == "" {
		s = "project"
	}
	return s
}
