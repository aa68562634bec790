package agent

import (
	"context"
	"errors"
	"sync"

	"github.com/tmc/langchaingo/llms"
)

// stubReply is one canned model answer: a propose_plan tool call when
// toolArgs is set, plain text otherwise.
type stubReply struct {
	text     string
	toolArgs string
	err      error
}

type stubModel struct {
	mu       sync.Mutex
	replies  []stubReply
	calls    int
	messages [][]llms.MessageContent
}

func (m *stubModel) GenerateContent(ctx context.Context, messages []llms.MessageContent, options ...llms.CallOption) (*llms.ContentResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.messages = append(m.messages, messages)
	if m.calls >= len(m.replies) {
		m.calls++
		return nil, errors.New("stub model: no reply left")
	}
	r := m.replies[m.calls]
	m.calls++
	if r.err != nil {
		return nil, r.err
	}

	choice := &llms.ContentChoice{Content: r.text}
	if r.toolArgs != "" {
		choice.ToolCalls = []llms.ToolCall{{
			ID:   "call_1",
			Type: "function",
			FunctionCall: &llms.FunctionCall{
				Name:      proposePlanTool,
				Arguments: r.toolArgs,
			},
		}}
	}
	return &llms.ContentResponse{Choices: []*llms.ContentChoice{choice}}, nil
}

func (m *stubModel) Call(ctx context.Context, prompt string, options ...llms.CallOption) (string, error) {
	return llms.GenerateFromSinglePrompt(ctx, m, prompt, options...)
}

func (m *stubModel) callCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}
