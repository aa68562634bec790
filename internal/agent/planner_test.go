package agent

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/rahul/sovereign/internal/plan"
	"github.com/rahul/sovereign/internal/store"
	"github.com/tmc/langchaingo/llms"
)

const listFilesPlan = `{
  "overall_goal": "List the files in the workspace",
  "steps": [
    {"handler_name": "ToolingHandler", "step_goal": "List files", "input_args": {"command": "ls"}}
  ],
  "confidence": 0.9,
  "reasoning": "ls prints the directory contents"
}`

func TestParsePlan(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		wantErr bool
		steps   int
	}{
		{"plain", listFilesPlan, false, 1},
		{"fenced", "```json\n" + listFilesPlan + "\n```", false, 1},
		{"prose around", "Here is the plan:\n" + listFilesPlan + "\nGood luck.", false, 1},
		{
			name: "comments and trailing commas",
			raw: `{
  // what we want
  "overall_goal": "x",
  "steps": [
    {"handler_name": "A", "step_goal": "a", "input_args": {},},
  ],
}`,
			steps: 1,
		},
		{"unknown keys ignored", `{"overall_goal":"x","notes":"extra","steps":[{"id":"s1","handler_name":"A","step_goal":"a","input_args":{},"status":"done"}]}`, false, 1},
		{"missing args defaults to empty", `{"overall_goal":"x","steps":[{"handler_name":"A","step_goal":"a"}]}`, false, 1},
		{"empty", "", true, 0},
		{"not json", "I cannot help with that", true, 0},
		{"missing goal", `{"steps":[{"handler_name":"A","step_goal":"a","input_args":{}}]}`, true, 0},
		{"missing steps", `{"overall_goal":"x"}`, true, 0},
		{"no steps", `{"overall_goal":"x","steps":[]}`, true, 0},
		{"steps wrong type", `{"overall_goal":"x","steps":"ls"}`, true, 0},
		{"args wrong type", `{"overall_goal":"x","steps":[{"handler_name":"A","step_goal":"a","input_args":"ls"}]}`, true, 0},
		{"blank handler", `{"overall_goal":"x","steps":[{"handler_name":" ","step_goal":"a","input_args":{}}]}`, true, 0},
		{"confidence out of range", `{"overall_goal":"x","confidence":2,"steps":[{"handler_name":"A","step_goal":"a","input_args":{}}]}`, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := ParsePlan(tt.raw)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got plan %+v", p)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(p.Steps) != tt.steps {
				t.Errorf("expected %d steps, got %d", tt.steps, len(p.Steps))
			}
			for _, s := range p.Steps {
				if s.Status != plan.StatusPending || s.ID == "" || s.InputArgs == nil {
					t.Errorf("bad step %+v", s)
				}
			}
		})
	}
}

func TestParsePlan_DefaultConfidence(t *testing.T) {
	p, err := ParsePlan(`{"overall_goal":"x","steps":[{"handler_name":"A","step_goal":"a","input_args":{"command":"ls"}}]}`)
	if err != nil {
		t.Fatal(err)
	}
	if p.Confidence != 1.0 {
		t.Errorf("expected default confidence 1.0, got %v", p.Confidence)
	}
	if p.Steps[0].InputArgs["command"] != "ls" {
		t.Errorf("unexpected args %v", p.Steps[0].InputArgs)
	}
}

func newTestPlanner(model *stubModel) *LLMPlanner {
	p := NewLLMPlanner(model, NewPromptManager(""), nil)
	p.Backoff = time.Millisecond
	return p
}

func TestLLMPlanner_ToolCall(t *testing.T) {
	model := &stubModel{replies: []stubReply{{toolArgs: listFilesPlan}}}

	p, err := newTestPlanner(model).Plan(context.Background(), PlanRequest{Goal: "list files"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if p.OverallGoal != "List the files in the workspace" || p.Steps[0].HandlerName != "ToolingHandler" {
		t.Errorf("unexpected plan %+v", p)
	}
}

func TestLLMPlanner_TextAnswer(t *testing.T) {
	model := &stubModel{replies: []stubReply{{text: "```json\n" + listFilesPlan + "\n```"}}}

	p, err := newTestPlanner(model).Plan(context.Background(), PlanRequest{Goal: "list files"})
	if err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if len(p.Steps) != 1 {
		t.Errorf("unexpected plan %+v", p)
	}
}

func TestLLMPlanner_RetriesTransportErrors(t *testing.T) {
	model := &stubModel{replies: []stubReply{
		{err: errors.New("connection reset")},
		{err: errors.New("502")},
		{toolArgs: listFilesPlan},
	}}

	if _, err := newTestPlanner(model).Plan(context.Background(), PlanRequest{Goal: "list files"}); err != nil {
		t.Fatalf("Plan: %v", err)
	}
	if got := model.callCount(); got != 3 {
		t.Errorf("expected 3 calls, got %d", got)
	}
}

func TestLLMPlanner_GivesUp(t *testing.T) {
	model := &stubModel{}

	_, err := newTestPlanner(model).Plan(context.Background(), PlanRequest{Goal: "list files"})
	if !errors.Is(err, ErrNoPlan) {
		t.Fatalf("expected ErrNoPlan, got %v", err)
	}
	if got := model.callCount(); got != defaultPlanAttempts {
		t.Errorf("expected %d calls, got %d", defaultPlanAttempts, got)
	}
}

func TestLLMPlanner_MalformedIsNoPlan(t *testing.T) {
	model := &stubModel{replies: []stubReply{{text: "Sure! I will list the files."}}}

	p, err := newTestPlanner(model).Plan(context.Background(), PlanRequest{Goal: "list files"})
	if !errors.Is(err, ErrNoPlan) || p != nil {
		t.Fatalf("expected ErrNoPlan, got %v %v", p, err)
	}
	if got := model.callCount(); got != 1 {
		t.Errorf("malformed answers must not be retried, got %d calls", got)
	}
}

func TestLLMPlanner_EmptyGoal(t *testing.T) {
	model := &stubModel{}

	if _, err := newTestPlanner(model).Plan(context.Background(), PlanRequest{Goal: "   "}); !errors.Is(err, ErrNoPlan) {
		t.Fatalf("expected ErrNoPlan, got %v", err)
	}
	if model.callCount() != 0 {
		t.Error("model must not be called for an empty goal")
	}
}

func TestLLMPlanner_ConversationWindow(t *testing.T) {
	model := &stubModel{replies: []stubReply{{toolArgs: listFilesPlan}}}

	var conv []store.Message
	for _, c := range []string{"m1", "m2", "m3", "m4", "m5", "m6", "m7"} {
		conv = append(conv, store.Message{Role: "user", Content: c})
	}
	if _, err := newTestPlanner(model).Plan(context.Background(), PlanRequest{Goal: "list files", Conversation: conv}); err != nil {
		t.Fatal(err)
	}

	var human string
	for _, part := range model.messages[0][1].Parts {
		if tp, ok := part.(llms.TextContent); ok {
			human += tp.Text
		}
	}
	if !strings.Contains(human, "m7") || strings.Contains(human, "m4") {
		t.Errorf("unexpected conversation in prompt:\n%s", human)
	}
}
