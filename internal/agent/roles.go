package agent

import (
	"fmt"
	"sort"
)

// Role selects an agent persona and its fixed tool-permission set.
type Role string

const (
	RoleRouter   Role = "router"
	RolePlanner  Role = "planner"
	RoleCoder    Role = "coder"
	RoleReviewer Role = "reviewer"
	RoleTester   Role = "tester"
	RoleDebugger Role = "debugger"
)

// roleSpec is one entry of the closed role table.
type roleSpec struct {
	DisplayName string
	Persona     string
	Tools       []string // side-effecting capabilities granted to this role
	MaxTokens   int64
}

var roleTable = map[Role]roleSpec{
	RoleRouter: {
		DisplayName: "Router",
		Persona:     routerPersona,
		Tools:       nil, // text-only classification
		MaxTokens:   1024,
	},
	RolePlanner: {
		DisplayName: "Planner",
		Persona:     plannerPersona,
		Tools:       nil, // text-only structured output
		MaxTokens:   4096,
	},
	RoleCoder: {
		DisplayName: "Coder",
		Persona:     coderPersona,
		Tools:       []string{"read", "write", "edit", "execute", "search"},
		MaxTokens:   8192,
	},
	RoleReviewer: {
		DisplayName: "Reviewer",
		Persona:     reviewerPersona,
		Tools:       []string{"read", "search"},
		MaxTokens:   4096,
	},
	RoleTester: {
		DisplayName: "Tester",
		Persona:     testerPersona,
		Tools:       []string{"read", "write", "execute", "search"},
		MaxTokens:   8192,
	},
	RoleDebugger: {
		DisplayName: "Debugger",
		Persona:     debuggerPersona,
		Tools:       []string{"read"},
		MaxTokens:   4096,
	},
}

// Roles returns every declared role, sorted by name.
func Roles() []Role {
	out := make([]Role, 0, len(roleTable))
	for r := range roleTable {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Lookup resolves a role against the closed table. Callers wire roles at
// startup; an unknown role is a configuration error, not a runtime one.
func Lookup(role Role) (displayName string, tools []string, err error) {
	spec, ok := roleTable[role]
	if !ok {
		return "", nil, fmt.Errorf("role %q is not in the declared role table", role)
	}
	return spec.DisplayName, spec.Tools, nil
}

// DisplayName returns the human-facing agent name for a role, or the raw
// role string if unknown.
func DisplayName(role Role) string {
	if spec, ok := roleTable[role]; ok {
		return spec.DisplayName
	}
	return string(role)
}
