package handlers

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rahul/sovereign/internal/plan"
	"github.com/rahul/sovereign/internal/session"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func newTestSession(t *testing.T) *session.Session {
	t.Helper()
	sess, err := session.New(session.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("session.New: %v", err)
	}
	return sess
}

func newTestTooling(t *testing.T) (*ToolingHandler, string) {
	t.Helper()
	root := t.TempDir()
	return NewToolingHandler(ToolingConfig{SandboxRoot: root}), root
}

func TestToolingHandler_NoCommand(t *testing.T) {
	h, sandboxes := newTestTooling(t)
	sess := newTestSession(t)

	tests := []struct {
		name string
		args map[string]any
	}{
		{"missing", map[string]any{}},
		{"empty", map[string]any{"command": ""}},
		{"whitespace", map[string]any{"command": "   \t"}},
		{"wrong type", map[string]any{"command": 42}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := h.Execute(context.Background(), "run nothing", tt.args, sess)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if res.Success {
				t.Error("expected failure")
			}
			if res.StatusUpdate != plan.TagNoCommand {
				t.Errorf("expected %q, got %q", plan.TagNoCommand, res.StatusUpdate)
			}
		})
	}

	entries, _ := os.ReadDir(sandboxes)
	if len(entries) != 0 {
		t.Errorf("expected no sandbox to be created, found %d", len(entries))
	}
}

func TestToolingHandler_DangerousCommandNeverRuns(t *testing.T) {
	requireShell(t)
	h, sandboxes := newTestTooling(t)
	sess := newTestSession(t)

	marker := filepath.Join(t.TempDir(), "marker")
	cmd := "touch " + marker + " && rm -rf ./nothing"

	res, err := h.Execute(context.Background(), "clean up", map[string]any{"command": cmd}, sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.StatusUpdate != plan.TagDangerousCommand {
		t.Fatalf("expected dangerous-command failure, got %+v", res)
	}
	if _, err := os.Stat(marker); !os.IsNotExist(err) {
		t.Error("dangerous command was executed")
	}
	entries, _ := os.ReadDir(sandboxes)
	if len(entries) != 0 {
		t.Errorf("expected no sandbox to be created, found %d", len(entries))
	}
}

func TestToolingHandler_Success(t *testing.T) {
	requireShell(t)
	h, _ := newTestTooling(t)
	sess := newTestSession(t)

	res, err := h.Execute(context.Background(), "say hello", map[string]any{"command": "echo hello"}, sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success || res.StatusUpdate != plan.TagCompleted {
		t.Fatalf("expected success, got %+v", res)
	}
	if res.ArtifactsCreated["stdout"] != "hello\n" {
		t.Errorf("unexpected stdout: %q", res.ArtifactsCreated["stdout"])
	}
	if res.ArtifactsCreated["exit_code"] != 0 {
		t.Errorf("unexpected exit code: %v", res.ArtifactsCreated["exit_code"])
	}
	if res.ArtifactsCreated["has_stderr"] != false {
		t.Error("expected has_stderr=false")
	}
	if !strings.Contains(res.Content, "hello") || !strings.Contains(res.Content, "SUCCESS") {
		t.Errorf("unexpected content: %q", res.Content)
	}
	if strings.Contains(res.Content, "\x1b[") {
		t.Error("content must not carry escape codes")
	}
}

func TestToolingHandler_UsageOnStderrIsFailure(t *testing.T) {
	requireShell(t)
	h, _ := newTestTooling(t)
	sess := newTestSession(t)

	res, err := h.Execute(context.Background(), "show usage", map[string]any{"command": "echo 'usage: foo [-x]' >&2"}, sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success {
		t.Fatal("expected failure despite exit code 0")
	}
	if res.StatusUpdate != plan.TagFailed {
		t.Errorf("expected %q, got %q", plan.TagFailed, res.StatusUpdate)
	}
	if res.ArtifactsCreated["exit_code"] != 0 {
		t.Errorf("expected exit code 0, got %v", res.ArtifactsCreated["exit_code"])
	}
	if res.ArtifactsCreated["has_stderr"] != true {
		t.Error("expected has_stderr=true")
	}
}

func TestToolingHandler_NonZeroExit(t *testing.T) {
	requireShell(t)
	h, _ := newTestTooling(t)
	sess := newTestSession(t)

	res, err := h.Execute(context.Background(), "fail", map[string]any{"command": "exit 3"}, sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.StatusUpdate != plan.TagFailed {
		t.Fatalf("expected failed result, got %+v", res)
	}
	if res.ArtifactsCreated["exit_code"] != 3 {
		t.Errorf("expected exit code 3, got %v", res.ArtifactsCreated["exit_code"])
	}
}

func TestToolingHandler_Timeout(t *testing.T) {
	requireShell(t)
	h := NewToolingHandler(ToolingConfig{SandboxRoot: t.TempDir(), Timeout: 200 * time.Millisecond})
	sess := newTestSession(t)

	start := time.Now()
	res, err := h.Execute(context.Background(), "wait", map[string]any{"command": "sleep 5"}, sess)
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Success || res.StatusUpdate != plan.TagTimeout {
		t.Fatalf("expected timeout, got %+v", res)
	}
	if elapsed > 200*time.Millisecond+waitDelay+time.Second {
		t.Errorf("timeout not honoured, took %s", elapsed)
	}
}

func TestToolingHandler_IgnoresCancellation(t *testing.T) {
	requireShell(t)
	h, _ := newTestTooling(t)
	sess := newTestSession(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := h.Execute(ctx, "say hi", map[string]any{"command": "echo hi"}, sess)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Success {
		t.Errorf("expected command to complete, got %+v", res)
	}
}

func TestToolingHandler_Idempotent(t *testing.T) {
	requireShell(t)
	h, _ := newTestTooling(t)
	sess := newTestSession(t)
	if err := os.WriteFile(filepath.Join(sess.Path(), "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	args := map[string]any{"command": "ls"}
	first, err := h.Execute(context.Background(), "list", args, sess)
	if err != nil {
		t.Fatal(err)
	}
	second, err := h.Execute(context.Background(), "list", args, sess)
	if err != nil {
		t.Fatal(err)
	}

	if first.Success != second.Success || first.Content != second.Content {
		t.Errorf("results differ:\n%q\n%q", first.Content, second.Content)
	}
	if first.ArtifactsCreated["workspace_digest"] != second.ArtifactsCreated["workspace_digest"] {
		t.Error("workspace digest differs between runs")
	}
	if first.ArtifactsCreated["sandbox_path"] == second.ArtifactsCreated["sandbox_path"] {
		t.Error("expected a fresh sandbox per invocation")
	}
}

func TestToolingHandler_SandboxIsolation(t *testing.T) {
	requireShell(t)
	h, _ := newTestTooling(t)
	sess := newTestSession(t)

	file := filepath.Join(sess.Path(), "data.txt")
	if err := os.WriteFile(file, []byte("original"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(sess.Path(), session.StateDirName), 0755); err != nil {
		t.Fatal(err)
	}

	res, err := h.Execute(context.Background(), "list all", map[string]any{"command": "ls -a"}, sess)
	if err != nil {
		t.Fatal(err)
	}
	stdout, _ := res.ArtifactsCreated["stdout"].(string)
	if !strings.Contains(stdout, "data.txt") {
		t.Errorf("expected data.txt in sandbox listing: %q", stdout)
	}
	if strings.Contains(stdout, session.FlightFileName) || strings.Contains(stdout, session.StateDirName+"\n") {
		t.Errorf("sandbox must not contain session state: %q", stdout)
	}

	res, err = h.Execute(context.Background(), "overwrite", map[string]any{"command": "echo changed > data.txt && touch new.txt"}, sess)
	if err != nil || !res.Success {
		t.Fatalf("expected success, got %+v, %v", res, err)
	}
	data, _ := os.ReadFile(file)
	if string(data) != "original" {
		t.Errorf("live workspace modified: %q", data)
	}
	if _, err := os.Stat(filepath.Join(sess.Path(), "new.txt")); !os.IsNotExist(err) {
		t.Error("file created in live workspace")
	}
	sandbox, _ := res.ArtifactsCreated["sandbox_path"].(string)
	if _, err := os.Stat(filepath.Join(sandbox, "new.txt")); err != nil {
		t.Errorf("expected sandbox to be kept with new.txt: %v", err)
	}
}

func TestClassifyOutcome(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		stderr string
		want   bool
	}{
		{"clean", 0, "", true},
		{"warning only", 0, "warning: deprecated flag", true},
		{"non-zero", 1, "", false},
		{"usage", 0, "usage: foo", false},
		{"upper case", 0, "Usage: foo", false},
		{"not found", 0, "sh: 1: frob: command not found", false},
		{"error prefix", 0, "ERROR: nope", false},
		{"illegal option", 0, "ls: illegal option -- z", false},
		{"invalid", 0, "invalid argument", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ClassifyOutcome(tt.code, tt.stderr); got != tt.want {
				t.Errorf("ClassifyOutcome(%d, %q) = %v, want %v", tt.code, tt.stderr, got, tt.want)
			}
		})
	}
}
