package gateway

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rahul/sovereign/internal/agent"
	"github.com/rahul/sovereign/internal/display"
)

// Messenger is a front end that drives one agent session (console, Telegram).
type Messenger interface {
	// Start runs the input loop until the user leaves or ctx is done.
	Start(ctx context.Context) error
	// Send delivers text to a specific chat.
	Send(chatID string, text string) error
	// Stop gracefully shuts down the gateway
	Stop() error
}

// isConfirmation reports whether an answer to "Proceed?" accepts the plan.
// An empty answer accepts.
func isConfirmation(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return true
	}
	return false
}

// progressPrinter renders executor progress with f and hands each line to emit.
func progressPrinter(f *display.Formatter, emit func(string)) agent.ProgressFunc {
	return func(ev agent.Progress) {
		switch ev.Kind {
		case agent.PlanStarted:
			emit(f.PlanHeader(ev.Plan.OverallGoal, ev.Recovery))
		case agent.StepStarted:
			emit(f.StepHeader(ev.Index+1, ev.Total, ev.Step.StepGoal, ev.Step.HandlerName))
		case agent.StepFinished:
			emit(f.StepStatus(ev.Step))
		case agent.StepSkipped:
			emit(f.Warning(fmt.Sprintf("Handler '%s' not found. Skipping step: %s", ev.Step.HandlerName, ev.Step.StepGoal)))
		case agent.RecoveryStarted:
			emit(f.Warning(fmt.Sprintf("Step '%s' failed. Attempting recovery...", ev.Step.StepGoal)))
		}
	}
}

// outcome turns the result of a plan run into a one-line summary.
func outcome(f *display.Formatter, report *agent.Report, err error) string {
	var failed *agent.StepFailedError
	var fault *agent.HandlerFaultError
	switch {
	case err == nil && report != nil && report.Recovered:
		return f.Success("Plan completed after recovery.")
	case err == nil:
		return f.Success("Plan completed.")
	case errors.Is(err, agent.ErrInterrupted):
		return f.Warning("Execution interrupted by user.")
	case errors.As(err, &failed):
		return f.Error("Plan execution halted due to a failed step: " + failed.StepGoal)
	case errors.As(err, &fault):
		return f.Error(fault.Error())
	default:
		return f.Error(err.Error())
	}
}
