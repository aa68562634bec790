package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/rahul/sovereign/internal/handlers"
	"github.com/rahul/sovereign/internal/observability"
	"github.com/rahul/sovereign/internal/plan"
	"github.com/rahul/sovereign/internal/session"
	"github.com/rahul/sovereign/internal/store"
	"github.com/tidwall/jsonc"
	"github.com/tmc/langchaingo/llms"
)

// ErrNoPlan means the planner could not produce a usable plan.
var ErrNoPlan = errors.New("no usable plan")

const (
	proposePlanTool     = "propose_plan"
	conversationWindow  = 5
	defaultPlanAttempts = 3
)

// RecoveryContext describes the failure a recovery plan must work around.
type RecoveryContext struct {
	FailedStepGoal string
	FailureContent string
	OriginalGoal   string
}

// PlanRequest is everything the planner sees.
type PlanRequest struct {
	SessionID    string
	Goal         string
	Recovery     *RecoveryContext
	Capabilities []handlers.Capability
	Workspace    session.WorkspaceSummary
	Conversation []store.Message
}

// Planner turns a goal, or a failure to recover from, into a validated plan.
// Any error, or a nil plan, means "no plan".
type Planner interface {
	Plan(ctx context.Context, req PlanRequest) (*plan.Plan, error)
}

// LLMPlanner asks a language model for a plan.
type LLMPlanner struct {
	Model   llms.Model
	Prompts *PromptManager
	Logger  *observability.Logger

	// MaxAttempts bounds model calls per request; Backoff is multiplied by
	// the attempt number between calls.
	MaxAttempts int
	Backoff     time.Duration
}

func NewLLMPlanner(model llms.Model, prompts *PromptManager, logger *observability.Logger) *LLMPlanner {
	return &LLMPlanner{
		Model:       model,
		Prompts:     prompts,
		Logger:      logger,
		MaxAttempts: defaultPlanAttempts,
		Backoff:     time.Second,
	}
}

func (p *LLMPlanner) Plan(ctx context.Context, req PlanRequest) (*plan.Plan, error) {
	if req.Recovery == nil && strings.TrimSpace(req.Goal) == "" {
		return nil, fmt.Errorf("%w: empty goal", ErrNoPlan)
	}
	if len(req.Conversation) > conversationWindow {
		req.Conversation = req.Conversation[len(req.Conversation)-conversationWindow:]
	}

	observability.SetStatus(observability.RolePlanner, req.Goal)
	defer observability.SetStatus(observability.RoleIdle, "")

	userPrompt := BuildUserPrompt(req)
	messages := []llms.MessageContent{
		{
			Role:  llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{llms.TextPart(p.Prompts.GetPlannerPrompt())},
		},
		{
			Role:  llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{llms.TextPart(userPrompt)},
		},
	}

	resp, err := p.generate(ctx, messages)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoPlan, err)
	}
	if resp == nil || len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: model returned no choices", ErrNoPlan)
	}

	choice := resp.Choices[0]
	raw := choice.Content
	for _, tc := range choice.ToolCalls {
		if tc.FunctionCall != nil && tc.FunctionCall.Name == proposePlanTool {
			raw = tc.FunctionCall.Arguments
			break
		}
	}
	p.Logger.LogLLM(req.SessionID, userPrompt, choice.Content, choice.ToolCalls)

	result, err := ParsePlan(raw)
	if err != nil {
		log.Printf("Planner produced an unusable plan: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrNoPlan, err)
	}
	return result, nil
}

func (p *LLMPlanner) generate(ctx context.Context, messages []llms.MessageContent) (*llms.ContentResponse, error) {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		resp, err := p.Model.GenerateContent(ctx, messages, llms.WithTools(planTools()))
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("Planner call failed (attempt %d/%d): %v", attempt, attempts, err)
		if attempt == attempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.Backoff * time.Duration(attempt)):
		}
	}
	return nil, fmt.Errorf("planner failed after %d attempts: %w", attempts, lastErr)
}

func planTools() []llms.Tool {
	return []llms.Tool{
		{
			Type: "function",
			Function: &llms.FunctionDefinition{
				Name:        proposePlanTool,
				Description: "Submit a structured plan consisting of one or more handler steps.",
				Parameters: map[string]any{
					"type": "object",
					"properties": map[string]any{
						"overall_goal": map[string]any{"type": "string"},
						"steps": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"handler_name": map[string]any{"type": "string"},
									"step_goal":    map[string]any{"type": "string"},
									"input_args":   map[string]any{"type": "object"},
								},
								"required": []string{"handler_name", "step_goal", "input_args"},
							},
						},
						"confidence": map[string]any{"type": "number"},
						"reasoning":  map[string]any{"type": "string"},
					},
					"required": []string{"overall_goal", "steps"},
				},
			},
		},
	}
}

type planPayload struct {
	OverallGoal *string       `json:"overall_goal"`
	Steps       []stepPayload `json:"steps"`
	Confidence  *float64      `json:"confidence"`
	Reasoning   string        `json:"reasoning"`
}

type stepPayload struct {
	HandlerName string         `json:"handler_name"`
	StepGoal    string         `json:"step_goal"`
	InputArgs   map[string]any `json:"input_args"`
}

// ParsePlan decodes a model answer into a validated plan. Code fences,
// comments, trailing commas and unknown keys are tolerated; missing fields,
// wrong types and invalid steps are not. Step ids and statuses in the answer
// are ignored: every step starts pending with a fresh id.
func ParsePlan(raw string) (*plan.Plan, error) {
	body := extractJSON(raw)
	if body == "" {
		return nil, errors.New("empty plan response")
	}

	dec := json.NewDecoder(bytes.NewReader(jsonc.ToJSON([]byte(body))))
	var payload planPayload
	if err := dec.Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to parse plan: %w", err)
	}
	if payload.OverallGoal == nil {
		return nil, errors.New("missing required field: overall_goal")
	}
	if payload.Steps == nil {
		return nil, errors.New("missing required field: steps")
	}

	steps := make([]*plan.Step, 0, len(payload.Steps))
	for _, s := range payload.Steps {
		steps = append(steps, plan.NewStep(s.HandlerName, s.StepGoal, s.InputArgs))
	}

	confidence := 1.0
	if payload.Confidence != nil {
		confidence = *payload.Confidence
	}
	return plan.New(*payload.OverallGoal, steps, confidence, payload.Reasoning)
}

// extractJSON strips markdown fences and any prose around the outermost object.
func extractJSON(raw string) string {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "```") {
		if i := strings.Index(s, "\n"); i >= 0 {
			s = s[i+1:]
		} else {
			s = strings.TrimPrefix(s, "```")
		}
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end < start {
		return ""
	}
	return s[start : end+1]
}
