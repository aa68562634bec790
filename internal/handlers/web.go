package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-shiori/go-readability"
	"github.com/microcosm-cc/bluemonday"
	"github.com/rahul/sovereign/internal/plan"
	"github.com/rahul/sovereign/internal/session"
)

const (
	WebHandlerName = "WebHandler"
	maxPageChars   = 50000
)

// WebHandler fetches a page and returns its readable text.
type WebHandler struct {
	UserAgent string
	Client    *http.Client
}

func NewWebHandler() *WebHandler {
	return &WebHandler{
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/91.0.4472.124 Safari/537.36",
		Client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (w *WebHandler) Name() string {
	return WebHandlerName
}

func (w *WebHandler) Description() string {
	return "Fetch a webpage URL and extract the main content as clean, sanitized text."
}

func (w *WebHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"url": map[string]any{
				"type":        "string",
				"description": "The full URL of the webpage (e.g., https://example.com/article)",
			},
		},
		"required": []string{"url"},
	}
}

func (w *WebHandler) Execute(ctx context.Context, stepGoal string, args map[string]any, sess *session.Session) (*plan.Result, error) {
	raw, _ := args["url"].(string)
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return plan.Fail(plan.TagInvalidArgs, "No URL specified."), nil
	}
	pageURL, err := url.Parse(raw)
	if err != nil || (pageURL.Scheme != "http" && pageURL.Scheme != "https") || pageURL.Host == "" {
		return plan.Fail(plan.TagInvalidArgs, fmt.Sprintf("Invalid URL: %s", raw)), nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return plan.Fail(plan.TagError, fmt.Sprintf("Failed to create request: %v", err)), nil
	}
	req.Header.Set("User-Agent", w.UserAgent)

	client := w.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return plan.Fail(plan.TagError, fmt.Sprintf("Failed to fetch URL: %v", err)), nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return plan.Fail(plan.TagError, fmt.Sprintf("Failed to fetch URL: status code %d", resp.StatusCode)), nil
	}

	article, err := readability.FromReader(resp.Body, pageURL)
	if err != nil {
		return plan.Fail(plan.TagError, fmt.Sprintf("Failed to parse article: %v", err)), nil
	}

	text := bluemonday.StrictPolicy().Sanitize(article.TextContent)
	truncated := false
	if len(text) > maxPageChars {
		text = text[:maxPageChars] + "\n... (content truncated) ..."
		truncated = true
	}

	var b strings.Builder
	fmt.Fprintf(&b, "TITLE: %s\n", article.Title)
	if article.Excerpt != "" {
		fmt.Fprintf(&b, "EXCERPT: %s\n", article.Excerpt)
	}
	b.WriteString("\n-- CONTENT --\n")
	b.WriteString(text)

	res := plan.Succeed(b.String())
	res.ArtifactsCreated = map[string]any{
		"url":       pageURL.String(),
		"title":     article.Title,
		"truncated": truncated,
	}
	return res, nil
}
