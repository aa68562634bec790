package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahul/sovereign/internal/handlers"
	"github.com/rahul/sovereign/internal/observability"
	"github.com/rahul/sovereign/internal/plan"
	"github.com/rahul/sovereign/internal/session"
)

const (
	NoPlanMessage  = "I couldn't devise a plan. Try rephrasing."
	AbortedMessage = "User aborted the proposed plan."
)

// Agent ties one session to a planner and an executor. Front ends call
// Propose, show the plan, then Run or Decline it.
type Agent struct {
	Session  *session.Session
	Registry *handlers.Registry
	Planner  Planner
	Executor *Executor
	Logger   *observability.Logger
}

func New(sess *session.Session, registry *handlers.Registry, planner Planner, logger *observability.Logger) *Agent {
	return &Agent{
		Session:  sess,
		Registry: registry,
		Planner:  planner,
		Executor: NewExecutor(registry, planner, logger),
		Logger:   logger,
	}
}

// Propose records the user's input and asks the planner for a plan. Any
// planning failure is reported as ErrNoPlan.
func (a *Agent) Propose(ctx context.Context, input string) (*plan.Plan, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return nil, fmt.Errorf("%w: empty input", ErrNoPlan)
	}
	a.Session.AddToHistory("user", input)

	p, err := a.Planner.Plan(ctx, PlanRequest{
		SessionID:    a.Session.ID,
		Goal:         input,
		Capabilities: a.Registry.Capabilities(),
		Workspace:    a.Session.Workspace,
		Conversation: a.Session.RecentHistory(conversationWindow),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlan, err)
	}
	if p == nil {
		return nil, ErrNoPlan
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlan, err)
	}
	a.Session.CurrentPlan = p
	return p, nil
}

// Run executes an accepted plan.
func (a *Agent) Run(ctx context.Context, p *plan.Plan) (*Report, error) {
	return a.Executor.Execute(ctx, p, a.Session)
}

// Decline records that the user rejected the proposed plan.
func (a *Agent) Decline() {
	a.Session.CurrentPlan = nil
	a.Session.AddToHistory("system", AbortedMessage)
}
