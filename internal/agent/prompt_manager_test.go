package agent

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rahul/sovereign/internal/handlers"
	"github.com/rahul/sovereign/internal/session"
	"github.com/rahul/sovereign/internal/store"
)

func TestPromptManager_DefaultPrompt(t *testing.T) {
	if got := NewPromptManager("").GetPlannerPrompt(); got != defaultPlannerPrompt {
		t.Error("expected built-in prompt for empty directory")
	}
	if got := NewPromptManager(filepath.Join(t.TempDir(), "missing")).GetPlannerPrompt(); got != defaultPlannerPrompt {
		t.Error("expected built-in prompt for missing directory")
	}
	var pm *PromptManager
	if got := pm.GetPlannerPrompt(); got != defaultPlannerPrompt {
		t.Error("expected built-in prompt for nil manager")
	}
}

func TestPromptManager_OverrideAndGuidance(t *testing.T) {
	tempDir := t.TempDir()

	files := map[string]string{
		"planner.md": "Planner Override",
		"b_style.md": "Style Content",
		"a_rules.md": "Rules Content",
		"notes.txt":  "Ignored Content",
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(tempDir, name), []byte(content), 0644); err != nil {
			t.Fatal(err)
		}
	}

	prompt := NewPromptManager(tempDir).GetPlannerPrompt()

	if !strings.HasPrefix(prompt, "Planner Override") {
		t.Errorf("override not used: %q", prompt)
	}
	if strings.Contains(prompt, "Ignored Content") {
		t.Error("non-markdown files must be ignored")
	}
	if strings.Index(prompt, "Rules Content") >= strings.Index(prompt, "Style Content") {
		t.Error("guidance should be appended in name order")
	}
}

func TestBuildUserPrompt(t *testing.T) {
	req := PlanRequest{
		Goal:         "list files",
		Capabilities: []handlers.Capability{{Name: "ToolingHandler", Description: "runs commands"}},
		Workspace: session.WorkspaceSummary{
			Path:            "/ws",
			FileTreeSummary: session.FileTree{Files: []string{"a", "b", "c", "d", "e", "f"}},
		},
		Conversation: []store.Message{
			{Role: "user", Content: "first"},
			{Role: "system", Content: "second"},
			{Role: "user", Content: "third"},
			{Role: "user", Content: "fourth"},
		},
	}

	prompt := BuildUserPrompt(req)
	for _, want := range []string{`"list files"`, "ToolingHandler", "Path: /ws", "Files: 6 files", "a, b, c, d, e...", "fourth"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
	if strings.Contains(prompt, "first") {
		t.Error("only the last three conversation entries should be included")
	}

	req.Recovery = &RecoveryContext{FailedStepGoal: "compile", FailureContent: "boom", OriginalGoal: "build it"}
	prompt = BuildUserPrompt(req)
	for _, want := range []string{"RECOVERY REQUEST", "compile", "boom", `"build it"`} {
		if !strings.Contains(prompt, want) {
			t.Errorf("recovery prompt missing %q", want)
		}
	}
}
