package agent

// Structured reply contracts for the tool-bearing roles. Each mirrors the
// JSON shape its persona demands; parse with ExtractJSON.

// CoderReply is the Coder persona's output: one complete file.
type CoderReply struct {
	FilePath    string `json:"file_path"`
	Code        string `json:"code"`
	Explanation string `json:"explanation,omitempty"`
}

// TesterReply is the Tester persona's output. An empty Code field means
// no meaningful suite could be generated; Description says why.
type TesterReply struct {
	FilePath    string `json:"file_path"`
	Code        string `json:"code"`
	RunCommand  string `json:"run_command,omitempty"`
	Description string `json:"description,omitempty"`
}

// FixPatch is the patch carried by a DebugReply. An empty OldCode means
// full-file replacement with NewCode.
type FixPatch struct {
	Description string `json:"description,omitempty"`
	OldCode     string `json:"old_code"`
	NewCode     string `json:"new_code"`
}

// DebugReply is the Debugger persona's output.
type DebugReply struct {
	Diagnosis string   `json:"diagnosis"`
	FilePath  string   `json:"file_path"`
	Fix       FixPatch `json:"fix"`
}
