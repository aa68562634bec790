package handlers

import (
	"context"
	"fmt"
	"strings"

	"github.com/rahul/sovereign/internal/plan"
	"github.com/rahul/sovereign/internal/session"
	"github.com/tmc/langchaingo/tools"
	"github.com/tmc/langchaingo/tools/duckduckgo"
)

const SearchHandlerName = "SearchHandler"

// SearchHandler runs a web search through a langchaingo tool.
type SearchHandler struct {
	client tools.Tool
}

// NewSearchHandler uses DuckDuckGo with maxResults results per query.
func NewSearchHandler(maxResults int) (*SearchHandler, error) {
	if maxResults <= 0 {
		maxResults = 10
	}
	ddg, err := duckduckgo.New(maxResults, duckduckgo.DefaultUserAgent)
	if err != nil {
		return nil, err
	}
	return &SearchHandler{client: ddg}, nil
}

// NewSearchHandlerWith wraps an arbitrary search tool.
func NewSearchHandlerWith(t tools.Tool) *SearchHandler {
	return &SearchHandler{client: t}
}

func (s *SearchHandler) Name() string {
	return SearchHandlerName
}

func (s *SearchHandler) Description() string {
	return "Search the web using DuckDuckGo for real-time information."
}

func (s *SearchHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{
				"type":        "string",
				"description": "The search query to look up",
			},
		},
		"required": []string{"query"},
	}
}

func (s *SearchHandler) Execute(ctx context.Context, stepGoal string, args map[string]any, sess *session.Session) (*plan.Result, error) {
	query, _ := args["query"].(string)
	query = strings.TrimSpace(query)
	if query == "" {
		return plan.Fail(plan.TagInvalidArgs, "No search query specified."), nil
	}

	out, err := s.client.Call(ctx, query)
	if err != nil {
		return plan.Fail(plan.TagError, fmt.Sprintf("Search failed: %v", err)), nil
	}
	res := plan.Succeed(out)
	res.ArtifactsCreated = map[string]any{"query": query}
	return res, nil
}
