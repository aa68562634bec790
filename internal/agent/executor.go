package agent

import (
	"context"
	"errors"
	"fmt"
	"log"
	"maps"

	"github.com/rahul/sovereign/internal/governance"
	"github.com/rahul/sovereign/internal/handlers"
	"github.com/rahul/sovereign/internal/observability"
	"github.com/rahul/sovereign/internal/plan"
	"github.com/rahul/sovereign/internal/session"
)

// ErrInterrupted is returned when the caller cancels execution.
var ErrInterrupted = errors.New("execution interrupted by user")

// StepFailedError reports the step that halted execution.
type StepFailedError struct {
	PlanID       string
	StepID       string
	StepGoal     string
	Handler      string
	StatusUpdate string
	Content      string
}

func (e *StepFailedError) Error() string {
	return fmt.Sprintf("step %q (%s) failed: %s", e.StepGoal, e.Handler, e.StatusUpdate)
}

// HandlerFaultError wraps an error or panic raised by a handler. Faults halt
// the plan without recovery.
type HandlerFaultError struct {
	StepID  string
	Handler string
	Err     error
}

func (e *HandlerFaultError) Error() string {
	return fmt.Sprintf("unexpected error in %s: %v", e.Handler, e.Err)
}

func (e *HandlerFaultError) Unwrap() error {
	return e.Err
}

// Report summarises one Execute call.
type Report struct {
	// Plans lists every plan that ran, the original first.
	Plans     []*plan.Plan
	Completed int
	Failed    int
	Skipped   int
	Recovered bool
}

type ProgressKind int

const (
	PlanStarted ProgressKind = iota
	StepStarted
	StepFinished
	StepSkipped
	RecoveryStarted
)

// Progress is emitted as execution advances. Index is zero based.
type Progress struct {
	Kind     ProgressKind
	Plan     *plan.Plan
	Step     *plan.Step
	Index    int
	Total    int
	Recovery bool
}

type ProgressFunc func(Progress)

// Executor drives plans step by step on the calling goroutine.
type Executor struct {
	Registry *handlers.Registry
	// Planner is asked for a recovery plan after a failed step. Nil disables recovery.
	Planner  Planner
	// Policy is consulted with the handler name before each dispatch. A
	// denied step fails with plan.TagPolicyDenied. Optional.
	Policy   governance.PolicyEngine
	Logger   *observability.Logger
	Progress ProgressFunc
}

func NewExecutor(registry *handlers.Registry, planner Planner, logger *observability.Logger) *Executor {
	return &Executor{
		Registry: registry,
		Planner:  planner,
		Logger:   logger,
	}
}

// Execute runs p against sess. It stops at the first failed step and makes at
// most one recovery attempt; the recovery plan itself is never recovered.
//
// The returned error is nil when every step that ran succeeded (or recovery
// succeeded), ErrInterrupted on cancellation, *HandlerFaultError on a handler
// fault, or *StepFailedError for the step that halted execution.
func (e *Executor) Execute(ctx context.Context, p *plan.Plan, sess *session.Session) (*Report, error) {
	report := &Report{}
	if p == nil {
		return report, ErrNoPlan
	}
	if err := p.Validate(); err != nil {
		return report, fmt.Errorf("%w: %v", ErrNoPlan, err)
	}
	defer observability.SetStatus(observability.RoleIdle, "")
	return report, e.run(ctx, p, sess, report, false)
}

func (e *Executor) run(ctx context.Context, p *plan.Plan, sess *session.Session, report *Report, recovery bool) error {
	report.Plans = append(report.Plans, p)
	sess.CurrentPlan = p
	e.Logger.LogPlan(sess.ID, p.ID, p.OverallGoal, len(p.Steps), recovery)
	e.emit(Progress{Kind: PlanStarted, Plan: p, Total: len(p.Steps), Recovery: recovery})

	stepContext := map[string]any{}
	previous := []map[string]any{}

	for i, step := range p.Steps {
		if ctx.Err() != nil {
			return ErrInterrupted
		}

		h := e.Registry.Get(step.HandlerName)
		if h == nil {
			log.Printf("Warning: handler '%s' not found, skipping step %q", step.HandlerName, step.StepGoal)
			report.Skipped++
			e.emit(Progress{Kind: StepSkipped, Plan: p, Step: step, Index: i, Total: len(p.Steps), Recovery: recovery})
			continue
		}

		args := maps.Clone(step.InputArgs)
		if args == nil {
			args = map[string]any{}
		}
		args["step_context"] = maps.Clone(stepContext)
		args["previous_results"] = append([]map[string]any(nil), previous...)

		if err := step.Start(); err != nil {
			return &HandlerFaultError{StepID: step.ID, Handler: step.HandlerName, Err: err}
		}
		observability.SetStatus(observability.RoleExecutor, step.StepGoal)
		e.Logger.LogToolCall(sess.ID, step.ID, h.Name(), step.InputArgs)
		e.emit(Progress{Kind: StepStarted, Plan: p, Step: step, Index: i, Total: len(p.Steps), Recovery: recovery})

		var res *plan.Result
		var err error
		if reason, denied := e.denied(ctx, h.Name(), sess.ID); denied {
			res = plan.Fail(plan.TagPolicyDenied, reason)
		} else {
			res, err = dispatch(ctx, h, step, args, sess)
		}
		if err != nil {
			log.Printf("Unexpected error in %s: %v", h.Name(), err)
			_ = step.Finish(plan.Fail(plan.TagError, fmt.Sprintf("Unexpected error in %s: %v", h.Name(), err)))
			report.Failed++
			e.record(p, i, step, sess, recovery)
			return &HandlerFaultError{StepID: step.ID, Handler: h.Name(), Err: err}
		}
		if ctx.Err() != nil {
			_ = step.Finish(plan.Fail(plan.TagInterrupted, "Execution interrupted by user."))
			report.Failed++
			e.record(p, i, step, sess, recovery)
			return ErrInterrupted
		}

		_ = step.Finish(res)
		e.record(p, i, step, sess, recovery)

		if step.Status == plan.StatusCompleted {
			report.Completed++
			stepContext[step.ID] = map[string]any{
				"step_goal": step.StepGoal,
				"content":   step.Result.Content,
				"artifacts": maps.Clone(step.Result.ArtifactsCreated),
			}
			previous = append(previous, map[string]any{
				"step_goal": step.StepGoal,
				"result":    step.Result.Content,
			})
			continue
		}

		report.Failed++
		failure := &StepFailedError{
			PlanID:       p.ID,
			StepID:       step.ID,
			StepGoal:     step.StepGoal,
			Handler:      step.HandlerName,
			StatusUpdate: step.Result.StatusUpdate,
			Content:      step.Result.Content,
		}
		if recovery || e.Planner == nil {
			return failure
		}
		return e.recover(ctx, p, step, sess, report, failure)
	}
	return nil
}

// recover asks for one recovery plan and runs it with recovery disabled.
func (e *Executor) recover(ctx context.Context, p *plan.Plan, failed *plan.Step, sess *session.Session, report *Report, failure *StepFailedError) error {
	if ctx.Err() != nil {
		return ErrInterrupted
	}

	req := PlanRequest{
		SessionID: sess.ID,
		Goal:      p.OverallGoal,
		Recovery: &RecoveryContext{
			FailedStepGoal: failed.StepGoal,
			FailureContent: failed.Result.Content,
			OriginalGoal:   p.OverallGoal,
		},
		Capabilities: e.Registry.Capabilities(),
		Workspace:    sess.Workspace,
		Conversation: sess.RecentHistory(conversationWindow),
	}
	recoveryPlan, err := e.Planner.Plan(ctx, req)
	if err == nil && recoveryPlan != nil {
		err = recoveryPlan.Validate()
	}
	if err != nil || recoveryPlan == nil {
		if err != nil {
			log.Printf("Recovery planning failed: %v", err)
		}
		e.Logger.LogRecovery(sess.ID, failed.ID, "", "no recovery plan")
		return failure
	}

	e.Logger.LogRecovery(sess.ID, failed.ID, recoveryPlan.ID, failed.Result.StatusUpdate)
	sess.AddToHistory("system", fmt.Sprintf("Step '%s' failed; attempting recovery: %s", failed.StepGoal, recoveryPlan.OverallGoal))
	e.emit(Progress{Kind: RecoveryStarted, Plan: recoveryPlan, Step: failed, Total: len(recoveryPlan.Steps), Recovery: true})

	report.Recovered = true
	return e.run(ctx, recoveryPlan, sess, report, true)
}

// record folds a finished step into the session and appends an audit snapshot.
func (e *Executor) record(p *plan.Plan, index int, step *plan.Step, sess *session.Session, recovery bool) {
	sess.ApplyResult(step)
	sess.AddToHistory("system", fmt.Sprintf("Step '%s' completed with status: %s.", step.StepGoal, step.Status))
	sess.RecordStep(p, step)
	sess.SaveFlightRecord()

	statusUpdate := ""
	if step.Result != nil {
		statusUpdate = step.Result.StatusUpdate
	}
	e.Logger.LogToolResult(sess.ID, step.ID, step.HandlerName, step.Status == plan.StatusCompleted, statusUpdate)
	e.Logger.LogStep(sess.ID, step.ID, step.HandlerName, step.Status.String(), statusUpdate)
	e.emit(Progress{Kind: StepFinished, Plan: p, Step: step, Index: index, Total: len(p.Steps), Recovery: recovery})
}

// denied reports whether the policy refuses the named handler. Policy errors
// deny.
func (e *Executor) denied(ctx context.Context, handler, sessionID string) (string, bool) {
	if e.Policy == nil {
		return "", false
	}
	verdict, err := e.Policy.Evaluate(ctx, governance.Request{Tool: handler, SessionID: sessionID})
	if err != nil {
		return fmt.Sprintf("Policy evaluation failed: %v", err), true
	}
	e.Logger.LogPolicyCheck(handler, "", string(verdict.Effect), verdict.Reason)
	if verdict.Effect == governance.EffectDeny {
		return verdict.Reason, true
	}
	return "", false
}

func (e *Executor) emit(ev Progress) {
	if e.Progress != nil {
		e.Progress(ev)
	}
}

// dispatch calls the handler and converts a panic into an error.
func dispatch(ctx context.Context, h handlers.Handler, step *plan.Step, args map[string]any, sess *session.Session) (res *plan.Result, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.Execute(ctx, step.StepGoal, args, sess)
}
