package models

import "strings"

// Turn is one prior exchange in a session's conversation history.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

// Workspace is the session-scoped mutable build context. It is owned by
// exactly one session and handed to the router and pipeline as an explicit
// parameter, never shared between sessions.
type Workspace struct {
	ProjectName string
	ProjectID   string
	Plan        *Plan
	Files       map[string]string
	TestFiles   map[string]string
	History     []Turn
}

// NewWorkspace returns an empty workspace with initialized maps.
func NewWorkspace() *Workspace {
	return &Workspace{
		Files:     make(map[string]string),
		TestFiles: make(map[string]string),
	}
}

// FilePaths returns the workspace file paths in stable (insertion-agnostic,
// caller-sorted) form for event payloads.
func (w *Workspace) FilePaths() []string {
	paths := make([]string, 0, len(w.Files))
	for p := range w.Files {
		paths = append(paths, p)
	}
	return paths
}

// SnapshotFiles returns a copy of the current file map, used to preserve
// partial output on failure paths.
func (w *Workspace) SnapshotFiles() map[string]string {
	out := make(map[string]string, len(w.Files))
	for k, v := range w.Files {
		out[k] = v
	}
	return out
}

// ApplyPatch updates the named file (project or test file) by replacing
// oldCode with newCode, or the whole content when oldCode is empty or not
// found. Returns false when the file does not exist or the patch is empty.
func (w *Workspace) ApplyPatch(path, oldCode, newCode string) bool {
	target := w.Files
	content, ok := target[path]
	if !ok {
		target = w.TestFiles
		content, ok = target[path]
	}
	if !ok {
		return false
	}
	if oldCode != "" && strings.Contains(content, oldCode) {
		target[path] = strings.Replace(content, oldCode, newCode, 1)
		return true
	}
	if newCode != "" {
		target[path] = newCode
		return true
	}
	return false
}

// Clear resets all project state and conversation history.
func (w *Workspace) Clear() {
	w.ProjectName = ""
	w.ProjectID = ""
	w.Plan = nil
	w.Files = make(map[string]string)
	w.TestFiles = make(map[string]string)
	w.History = nil
}
