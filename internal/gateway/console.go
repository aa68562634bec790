package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/peterh/liner"
	"github.com/rahul/sovereign/internal/agent"
	"github.com/rahul/sovereign/internal/display"
	"github.com/rahul/sovereign/internal/observability"
)

const historyWindow = 10

// LineReader reads one line of user input. *liner.State satisfies it.
type LineReader interface {
	Prompt(prompt string) (string, error)
}

// Console is the interactive terminal front end.
type Console struct {
	Agent  *agent.Agent
	In     LineReader
	Out    io.Writer
	Format *display.Formatter

	mu     sync.Mutex
	cancel context.CancelFunc
	line   *liner.State
	histf  string
}

func NewConsole(a *agent.Agent, in LineReader, out io.Writer, f *display.Formatter) *Console {
	c := &Console{Agent: a, In: in, Out: out, Format: f}
	a.Executor.Progress = progressPrinter(f, func(s string) { fmt.Fprintln(c.Out, s) })
	return c
}

// NewTerminalConsole reads from the terminal with line editing. Input history
// is kept in historyFile when it is not empty.
func NewTerminalConsole(a *agent.Agent, historyFile string) *Console {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)
	if historyFile != "" {
		if f, err := os.Open(historyFile); err == nil {
			line.ReadHistory(f)
			f.Close()
		}
	}

	c := NewConsole(a, &historyReader{line}, os.Stdout, display.New(observability.IsTerminal()))
	c.line = line
	c.histf = historyFile
	return c
}

type historyReader struct {
	line *liner.State
}

func (r *historyReader) Prompt(prompt string) (string, error) {
	input, err := r.line.Prompt(prompt)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" {
		r.line.AppendHistory(input)
	}
	return input, nil
}

// Start runs the read-plan-confirm-execute loop until exit, EOF or Ctrl-C at
// the prompt.
func (c *Console) Start(ctx context.Context) error {
	fmt.Fprintln(c.Out, "\nSovereign agent activated. Type 'exit' to quit.")
	fmt.Fprintf(c.Out, "Registered handlers: %s\n", strings.Join(c.Agent.Registry.Names(), ", "))

	for {
		if ctx.Err() != nil {
			return nil
		}
		input, err := c.In.Prompt("\n> ")
		if err != nil {
			if errors.Is(err, liner.ErrPromptAborted) {
				fmt.Fprintln(c.Out, "\nSession terminated by user.")
			}
			return nil
		}

		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		switch strings.ToLower(input) {
		case "exit", "quit":
			return nil
		}
		if strings.HasPrefix(input, "/") {
			c.command(input)
			continue
		}
		c.handle(ctx, input)
	}
}

func (c *Console) handle(ctx context.Context, input string) {
	p, err := c.Agent.Propose(ctx, input)
	if err != nil {
		fmt.Fprintln(c.Out, agent.NoPlanMessage)
		return
	}
	fmt.Fprintln(c.Out, "\n"+c.Format.PlanSummary(p))

	answer, err := c.In.Prompt("Proceed? (Y/n): ")
	if err != nil || !isConfirmation(answer) {
		fmt.Fprintln(c.Out, "Plan aborted by user.")
		c.Agent.Decline()
		return
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.setCancel(cancel)
	defer func() {
		c.setCancel(nil)
		cancel()
	}()

	report, err := c.Agent.Run(runCtx, p)
	fmt.Fprintln(c.Out, outcome(c.Format, report, err))
}

func (c *Console) command(input string) {
	fields := strings.Fields(input)
	switch strings.ToLower(fields[0]) {
	case "/status":
		sess := c.Agent.Session
		fmt.Fprintln(c.Out, observability.StatusLine())
		fmt.Fprintf(c.Out, "Session: %s\nWorkspace: %s\nHistory entries: %d\n", sess.ID, sess.Path(), len(sess.History))
		if sess.CurrentPlan != nil {
			fmt.Fprintf(c.Out, "Current plan: %s (%d pending)\n", sess.CurrentPlan.OverallGoal, sess.CurrentPlan.Pending())
		}
	case "/history":
		entries := c.Agent.Session.RecentHistory(historyWindow)
		if len(entries) == 0 {
			fmt.Fprintln(c.Out, "No history yet.")
			return
		}
		for _, m := range entries {
			fmt.Fprintf(c.Out, "[%s] %s\n", m.Role, m.Content)
		}
	case "/handlers":
		for _, cp := range c.Agent.Registry.Capabilities() {
			fmt.Fprintf(c.Out, "- %s: %s\n", cp.Name, cp.Description)
		}
	default:
		fmt.Fprintln(c.Out, c.Format.Warning(fmt.Sprintf("Unknown command %s. Try /status, /history or /handlers.", fields[0])))
	}
}

func (c *Console) setCancel(cancel context.CancelFunc) {
	c.mu.Lock()
	c.cancel = cancel
	c.mu.Unlock()
}

// Interrupt cancels the running plan. It reports false when nothing is running.
func (c *Console) Interrupt() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel == nil {
		return false
	}
	c.cancel()
	c.cancel = nil
	return true
}

// WatchSignals turns each received signal into an Interrupt of the running plan.
func (c *Console) WatchSignals(ctx context.Context, sigs <-chan os.Signal) {
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-sigs:
				if c.Interrupt() {
					fmt.Fprintln(c.Out, "\n"+c.Format.Warning("Cancelling after the current step..."))
				}
			}
		}
	}()
}

func (c *Console) Send(chatID string, text string) error {
	_, err := fmt.Fprintln(c.Out, text)
	return err
}

// Stop saves input history and restores the terminal.
func (c *Console) Stop() error {
	if c.line == nil {
		return nil
	}
	if c.histf != "" {
		if err := os.MkdirAll(filepath.Dir(c.histf), 0755); err == nil {
			if f, err := os.OpenFile(c.histf, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600); err == nil {
				c.line.WriteHistory(f)
				f.Close()
			}
		}
	}
	return c.line.Close()
}
