package output

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/olekukonko/tablewriter/tw"
)

// UI provides colored terminal output and respects verbose mode.
type UI struct {
	Verbose bool
	Out     io.Writer
	ErrOut  io.Writer
}

// New creates a UI with default stdout/stderr writers.
func New() *UI {
	return &UI{
		Out:    os.Stdout,
		ErrOut: os.Stderr,
	}
}

var (
	infoPrefix    = color.New(color.FgHiBlue).Sprint("i")
	successPrefix = color.New(color.FgHiGreen).Sprint("✓")
	warningPrefix = color.New(color.FgHiYellow).Sprint("⚠")
	errorPrefix   = color.New(color.FgHiRed).Sprint("✗")
	verbosePrefix = color.New(color.FgHiBlue).Sprint("  →")
	cyan          = color.New(color.FgHiCyan).SprintFunc()
	green         = color.New(color.FgHiGreen).SprintFunc()
	yellow        = color.New(color.FgHiYellow).SprintFunc()
	red           = color.New(color.FgHiRed).SprintFunc()
	magenta       = color.New(color.FgHiMagenta).SprintFunc()
	blue          = color.New(color.FgHiBlue).SprintFunc()
	dim           = color.New(color.Faint).SprintFunc()
)

// Cyan returns a cyan-colored string.
func Cyan(s string) string { return cyan(s) }

// Green returns a green-colored string.
func Green(s string) string { return green(s) }

// Yellow returns a yellow-colored string.
func Yellow(s string) string { return yellow(s) }

// Red returns a red-colored string.
func Red(s string) string { return red(s) }

// Dim returns a faint string.
func Dim(s string) string { return dim(s) }

// AgentColor colors an agent display name consistently across the UI.
func AgentColor(agent string) string {
	switch strings.ToLower(agent) {
	case "router":
		return cyan(agent)
	case "planner":
		return blue(agent)
	case "coder":
		return green(agent)
	case "reviewer":
		return yellow(agent)
	case "tester":
		return magenta(agent)
	case "debugger":
		return red(agent)
	default:
		return agent
	}
}

// PhaseColor colors a pipeline phase name.
func PhaseColor(phase string) string {
	switch strings.ToLower(phase) {
	case "planning":
		return blue(phase)
	case "coding":
		return green(phase)
	case "reviewing":
		return yellow(phase)
	case "testing":
		return magenta(phase)
	case "debugging":
		return red(phase)
	case "complete":
		return green(phase)
	case "failed":
		return red(phase)
	default:
		return phase
	}
}

// VerdictColor colors a review verdict.
func VerdictColor(verdict string) string {
	switch strings.ToLower(verdict) {
	case "approved":
		return green(verdict)
	case "needs_changes":
		return yellow(verdict)
	default:
		return verdict
	}
}

func (u *UI) Info(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", infoPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Success(format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", successPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Warning(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", warningPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) Error(format string, a ...any) {
	fmt.Fprintf(u.ErrOut, "%s %s\n", errorPrefix, fmt.Sprintf(format, a...))
}

func (u *UI) VerboseLog(format string, a ...any) {
	if u.Verbose {
		fmt.Fprintf(u.Out, "%s %s\n", verbosePrefix, fmt.Sprintf(format, a...))
	}
}

// Agent prints one line of agent activity, prefixed with the colored
// agent name.
func (u *UI) Agent(agent, format string, a ...any) {
	fmt.Fprintf(u.Out, "%s %s\n", AgentColor(agent), fmt.Sprintf(format, a...))
}

// Table creates a new tablewriter configured with consistent styling.
func (u *UI) Table(headers []string) *tablewriter.Table {
	table := tablewriter.NewTable(u.Out,
		tablewriter.WithHeaderAlignment(tw.AlignLeft),
		tablewriter.WithRowAlignment(tw.AlignLeft),
		tablewriter.WithRendition(tw.Rendition{
			Borders: tw.BorderNone,
			Settings: tw.Settings{
				Lines:      tw.LinesNone,
				Separators: tw.SeparatorsNone,
			},
		}),
		tablewriter.WithPadding(tw.Padding{Left: "", Right: "  "}),
	)
	table.Header(headers)
	return table
}
