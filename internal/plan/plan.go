package plan

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a Step.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

// AllStatuses returns all valid step statuses.
func AllStatuses() []Status {
	return []Status{StatusPending, StatusRunning, StatusCompleted, StatusFailed}
}

// IsValid checks if a status value is valid
func (s Status) IsValid() bool {
	for _, valid := range AllStatuses() {
		if s == valid {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

func (s Status) String() string {
	return string(s)
}

// Status tags carried in Result.StatusUpdate.
const (
	TagCompleted        = "completed"
	TagFailed           = "failed"
	TagNoCommand        = "no-command"
	TagDangerousCommand = "dangerous-command"
	TagTimeout          = "timeout"
	TagError            = "error"
	TagInvalidArgs      = "invalid-args"
	TagInterrupted      = "interrupted"
	TagPolicyDenied     = "policy-denied"
)

// Result is what a handler returns for one step.
type Result struct {
	Success          bool           `json:"success"`
	Content          string         `json:"content"`
	StatusUpdate     string         `json:"status_update"`
	ArtifactsCreated map[string]any `json:"artifacts_created,omitempty"`
	StateUpdates     map[string]any `json:"state_updates,omitempty"`
}

// Fail builds a failed result with the given status tag.
func Fail(tag, content string) *Result {
	return &Result{Success: false, Content: content, StatusUpdate: tag}
}

// Succeed builds a successful result.
func Succeed(content string) *Result {
	return &Result{Success: true, Content: content, StatusUpdate: TagCompleted}
}

// Step is one unit of work assigned to exactly one handler.
type Step struct {
	ID          string         `json:"id"`
	HandlerName string         `json:"handler_name"`
	StepGoal    string         `json:"step_goal"`
	InputArgs   map[string]any `json:"input_args"`
	Status      Status         `json:"status"`
	Result      *Result        `json:"result,omitempty"`
}

// NewStep creates a pending step. Names and goals are trimmed; nil args become empty.
func NewStep(handlerName, stepGoal string, args map[string]any) *Step {
	if args == nil {
		args = map[string]any{}
	}
	return &Step{
		ID:          uuid.New().String(),
		HandlerName: strings.TrimSpace(handlerName),
		StepGoal:    strings.TrimSpace(stepGoal),
		InputArgs:   args,
		Status:      StatusPending,
	}
}

// Start moves the step from pending to running.
func (s *Step) Start() error {
	if s.Status != StatusPending {
		return fmt.Errorf("step %s: cannot start from status %s", s.ID, s.Status)
	}
	s.Status = StatusRunning
	return nil
}

// Finish records the result and moves a running step to completed or failed.
func (s *Step) Finish(r *Result) error {
	if s.Status != StatusRunning {
		return fmt.Errorf("step %s: cannot finish from status %s", s.ID, s.Status)
	}
	if r == nil {
		r = Fail(TagError, "handler returned no result")
	}
	s.Result = r
	if r.Success {
		s.Status = StatusCompleted
	} else {
		s.Status = StatusFailed
	}
	return nil
}

// Plan is an ordered, validated decomposition of a goal into steps.
type Plan struct {
	ID          string  `json:"plan_id"`
	OverallGoal string  `json:"overall_goal"`
	Steps       []*Step `json:"steps"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning"`
}

// New builds and validates a plan. The goal is trimmed.
func New(overallGoal string, steps []*Step, confidence float64, reasoning string) (*Plan, error) {
	p := &Plan{
		ID:          uuid.New().String(),
		OverallGoal: strings.TrimSpace(overallGoal),
		Steps:       steps,
		Confidence:  confidence,
		Reasoning:   reasoning,
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// Validate checks the plan invariants and returns *ValidationErrors when any fail.
func (p *Plan) Validate() error {
	var v ValidationErrors

	if strings.TrimSpace(p.OverallGoal) == "" {
		v.Add("overall_goal", "non-empty string", p.OverallGoal, "overall_goal cannot be empty")
	}
	if p.Confidence < 0 || p.Confidence > 1 {
		v.Add("confidence", "number between 0.0 and 1.0", p.Confidence, "confidence must be between 0.0 and 1.0")
	}
	if len(p.Steps) == 0 {
		v.Add("steps", "at least one step", len(p.Steps), "at least one step is required")
	}

	seen := make(map[string]bool, len(p.Steps))
	for i, s := range p.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		if s == nil {
			v.Add(field, "step object", nil, "step cannot be null")
			continue
		}
		if strings.TrimSpace(s.HandlerName) == "" {
			v.Add(field+".handler_name", "non-empty string", s.HandlerName, "handler_name cannot be empty")
		}
		if strings.TrimSpace(s.StepGoal) == "" {
			v.Add(field+".step_goal", "non-empty string", s.StepGoal, "step_goal cannot be empty")
		}
		if !s.Status.IsValid() {
			v.Add(field+".status", "one of: pending, running, completed, failed", s.Status, "invalid step status")
		}
		if s.ID != "" {
			if seen[s.ID] {
				v.Add(field+".id", "unique id", s.ID, "duplicate step id")
			}
			seen[s.ID] = true
		}
	}

	if v.HasErrors() {
		return &v
	}
	return nil
}

// Pending reports how many steps have not yet run.
func (p *Plan) Pending() int {
	n := 0
	for _, s := range p.Steps {
		if s.Status == StatusPending {
			n++
		}
	}
	return n
}
