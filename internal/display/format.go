package display

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/fatih/color"
	"github.com/rahul/sovereign/internal/plan"
)

// Status symbols
const (
	SymbolSuccess = "✓"
	SymbolError   = "✗"
	SymbolWarning = "⚠"
)

const (
	DefaultMaxLines     = 20
	DefaultMaxLineWidth = 120
	maxCommandWidth     = 80
)

var ansiRE = regexp.MustCompile(`\x1b\[[0-9;]*[A-Za-z]`)

// Formatter renders command results, plans and step headers.
type Formatter struct {
	MaxLines     int
	MaxLineWidth int

	label   *color.Color
	bold    *color.Color
	dim     *color.Color
	success *color.Color
	failure *color.Color
	warning *color.Color
}

// New returns a formatter; colour is forced on or off regardless of the terminal.
func New(useColor bool) *Formatter {
	f := &Formatter{
		MaxLines:     DefaultMaxLines,
		MaxLineWidth: DefaultMaxLineWidth,
		label:        color.New(color.FgCyan),
		bold:         color.New(color.Bold),
		dim:          color.New(color.Faint),
		success:      color.New(color.FgGreen),
		failure:      color.New(color.FgRed),
		warning:      color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{f.label, f.bold, f.dim, f.success, f.failure, f.warning} {
		if useColor {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return f
}

// Plain returns a formatter without escape codes, for content that is stored.
func Plain() *Formatter {
	return New(false)
}

// CommandResult renders one shell command execution.
func (f *Formatter) CommandResult(command string, exitCode int, stdout, stderr string) string {
	var status string
	if exitCode == 0 {
		status = f.success.Sprint(SymbolSuccess + " SUCCESS")
	} else {
		status = f.failure.Sprintf("%s FAILED (exit code: %d)", SymbolError, exitCode)
	}

	parts := []string{
		f.label.Sprint("Command:") + " " + f.bold.Sprint(cleanCommand(command)),
		f.label.Sprint("Status:") + " " + status,
	}
	if strings.TrimSpace(stdout) != "" {
		parts = append(parts, f.block(stdout, "Output", f.success))
	}
	if strings.TrimSpace(stderr) != "" {
		parts = append(parts, f.block(stderr, "Error", f.failure))
	}
	return strings.Join(parts, "\n\n")
}

func (f *Formatter) block(output, label string, c *color.Color) string {
	lines := strings.Split(strings.TrimSpace(output), "\n")

	truncated := 0
	if f.MaxLines > 0 && len(lines) > f.MaxLines {
		truncated = len(lines) - f.MaxLines
		lines = lines[:f.MaxLines]
	}

	out := []string{f.label.Sprint(label + ":")}
	for _, line := range lines {
		line = truncate(EscapeLine(line), f.MaxLineWidth)
		out = append(out, "  "+c.Sprint(line))
	}
	if truncated > 0 {
		out = append(out, "  "+f.dim.Sprintf("... (%d more lines)", truncated))
	}
	return strings.Join(out, "\n")
}

// PlanHeader is printed when a plan starts executing.
func (f *Formatter) PlanHeader(goal string, recovery bool) string {
	title := "Executing Plan:"
	if recovery {
		title = "Executing Recovery Plan:"
	}
	return "\n" + f.bold.Sprint(title) + " " + goal
}

// StepHeader is printed before each step.
func (f *Formatter) StepHeader(n, total int, goal, handler string) string {
	return fmt.Sprintf("\n%s\n%s %s",
		f.bold.Sprintf("--- Step %d/%d: %s ---", n, total, handler),
		f.label.Sprint("Goal:"), goal)
}

// PlanSummary lists a proposed plan for confirmation.
func (f *Formatter) PlanSummary(p *plan.Plan) string {
	var sb strings.Builder
	sb.WriteString(f.bold.Sprint("I have a plan:") + "\n")
	sb.WriteString(f.label.Sprint("Goal:") + " " + p.OverallGoal + "\n")
	for i, s := range p.Steps {
		sb.WriteString(fmt.Sprintf("  %d. %s (using %s)\n", i+1, s.StepGoal, s.HandlerName))
	}
	if p.Reasoning != "" {
		sb.WriteString(f.dim.Sprintf("Reasoning: %s (confidence %.2f)", p.Reasoning, p.Confidence) + "\n")
	}
	return strings.TrimRight(sb.String(), "\n")
}

// StepStatus reports a finished step.
func (f *Formatter) StepStatus(s *plan.Step) string {
	symbol := f.success.Sprint(SymbolSuccess)
	if s.Status != plan.StatusCompleted {
		symbol = f.failure.Sprint(SymbolError)
	}
	content := ""
	if s.Result != nil {
		content = s.Result.Content
	}
	return fmt.Sprintf("%s Status: %s\n%s", symbol, s.Status, content)
}

func (f *Formatter) Error(msg string) string {
	return f.failure.Sprint(SymbolError+" Error:") + " " + msg
}

func (f *Formatter) Warning(msg string) string {
	return f.warning.Sprint(SymbolWarning) + " " + msg
}

func (f *Formatter) Success(msg string) string {
	return f.success.Sprint(SymbolSuccess) + " " + msg
}

func cleanCommand(command string) string {
	return truncate(strings.Join(strings.Fields(command), " "), maxCommandWidth)
}

// EscapeLine strips ANSI sequences and control characters and expands tabs.
func EscapeLine(line string) string {
	line = ansiRE.ReplaceAllString(line, "")
	line = strings.ReplaceAll(line, "\t", "    ")
	return strings.Map(func(r rune) rune {
		if r < 32 && r != '\n' && r != '\r' {
			return -1
		}
		return r
	}, line)
}

func truncate(s string, width int) string {
	r := []rune(s)
	if width <= 3 || len(r) <= width {
		return s
	}
	return string(r[:width-3]) + "..."
}
