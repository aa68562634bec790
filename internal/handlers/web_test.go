package handlers

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rahul/sovereign/internal/plan"
)

const testArticle = `<!DOCTYPE html>
<html><head><title>Sandboxed Execution Field Notes</title></head>
<body>
<nav><a href="/">Home</a></nav>
<article>
<h1>Sandboxed Execution Field Notes</h1>
<p>Every command runs against a disposable copy of the workspace so that the live files stay untouched.</p>
<p>The copy is created fresh for each invocation and the session audit log is filtered out before anything runs.</p>
<p>Commands that exit cleanly but print usage text on standard error are still treated as failures by the classifier.</p>
<p>A wall clock timeout bounds every subprocess, and the result carries a distinct timeout tag when it fires.</p>
<script>alert("x")</script>
</article>
</body></html>`

func TestWebHandler_ExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("User-Agent") == "" {
			t.Error("expected a user agent")
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprint(w, testArticle)
	}))
	defer srv.Close()

	h := NewWebHandler()
	h.Client = srv.Client()
	sess := newTestSession(t)

	res, err := h.Execute(context.Background(), "read page", map[string]any{"url": srv.URL + "/notes"}, sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Fatalf("expected success, got %+v", res)
	}
	if !strings.Contains(res.Content, "disposable copy of the workspace") {
		t.Errorf("article text missing: %q", res.Content)
	}
	if strings.Contains(res.Content, "<script>") {
		t.Errorf("content not sanitised: %q", res.Content)
	}
	if res.ArtifactsCreated["truncated"] != false {
		t.Error("short page should not be truncated")
	}
}

func TestWebHandler_Failures(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer srv.Close()

	h := NewWebHandler()
	h.Client = srv.Client()
	sess := newTestSession(t)

	tests := []struct {
		name string
		args map[string]any
		tag  string
	}{
		{"missing url", map[string]any{}, plan.TagInvalidArgs},
		{"bad scheme", map[string]any{"url": "ftp://example.com"}, plan.TagInvalidArgs},
		{"no host", map[string]any{"url": "not a url"}, plan.TagInvalidArgs},
		{"not found", map[string]any{"url": srv.URL + "/missing"}, plan.TagError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.Execute(context.Background(), "fetch", tt.args, sess)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Success || res.StatusUpdate != tt.tag {
				t.Errorf("expected %q failure, got %+v", tt.tag, res)
			}
		})
	}
}
