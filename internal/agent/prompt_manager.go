package agent

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const plannerPromptFile = "planner.md"

const defaultPlannerPrompt = `You are the planning core of a sovereign coding agent.
Translate the user's request into a precise, multi-step task plan.

Rules:
1. Answer by calling propose_plan, or with a single JSON object and nothing else.
2. Every step must be achievable with exactly one handler call.
3. Use only handlers from the capability list.
4. Each step needs handler_name, step_goal and input_args (an object).
5. Include overall_goal, steps, confidence (0.0 to 1.0) and reasoning.
6. Never skip an obvious prerequisite. Prefer low-risk, deterministic actions early.

Response format:
{
  "overall_goal": "What will be accomplished",
  "steps": [
    {"handler_name": "HandlerName", "step_goal": "What this step achieves", "input_args": {"key": "value"}}
  ],
  "confidence": 0.8,
  "reasoning": "Why this plan will work"
}`

// PromptManager loads prompt overrides from a directory of markdown files.
type PromptManager struct {
	Directory string
}

func NewPromptManager(dir string) *PromptManager {
	return &PromptManager{Directory: dir}
}

// GetPlannerPrompt returns planner.md from the prompts directory, or the
// built-in prompt when it is absent. Other markdown files in the directory
// are appended as extra guidance in name order.
func (pm *PromptManager) GetPlannerPrompt() string {
	if pm == nil || pm.Directory == "" {
		return defaultPlannerPrompt
	}

	base := defaultPlannerPrompt
	if data, err := os.ReadFile(filepath.Join(pm.Directory, plannerPromptFile)); err == nil {
		if s := strings.TrimSpace(string(data)); s != "" {
			base = s
		}
	} else if !os.IsNotExist(err) {
		log.Printf("Warning: failed to read planner prompt: %v", err)
	}

	extras := pm.guidance()
	if len(extras) == 0 {
		return base
	}
	return base + "\n\n---\n\n" + strings.Join(extras, "\n\n---\n\n")
}

func (pm *PromptManager) guidance() []string {
	entries, err := os.ReadDir(pm.Directory)
	if err != nil {
		return nil
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	var contents []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".md") || e.Name() == plannerPromptFile {
			continue
		}
		path := filepath.Join(pm.Directory, e.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			log.Printf("Warning: Failed to read prompt file %s: %v", path, err)
			continue
		}
		if s := strings.TrimSpace(string(data)); s != "" {
			contents = append(contents, s)
		}
	}
	return contents
}

// BuildUserPrompt renders the request, capabilities, workspace summary and the
// last three conversation entries.
func BuildUserPrompt(req PlanRequest) string {
	var b strings.Builder

	if req.Recovery != nil {
		fmt.Fprintf(&b, "RECOVERY REQUEST: a step failed while working towards %q.\n", req.Recovery.OriginalGoal)
		fmt.Fprintf(&b, "Failed step: %s\n", req.Recovery.FailedStepGoal)
		fmt.Fprintf(&b, "Failure output:\n%s\n\n", req.Recovery.FailureContent)
		b.WriteString("Propose a new plan that works around the failure and still reaches the original goal.\n\n")
	} else {
		fmt.Fprintf(&b, "ANALYZE REQUEST: %q\n\n", req.Goal)
	}

	caps, err := json.MarshalIndent(req.Capabilities, "", "  ")
	if err != nil {
		caps = []byte("[]")
	}
	fmt.Fprintf(&b, "AVAILABLE HANDLERS:\n%s\n\n", caps)

	files := req.Workspace.FileTreeSummary.Files
	structure := strings.Join(files[:min(len(files), 5)], ", ")
	if len(files) > 5 {
		structure += "..."
	}
	b.WriteString("WORKSPACE CONTEXT:\n")
	fmt.Fprintf(&b, "Path: %s\n", req.Workspace.Path)
	fmt.Fprintf(&b, "Files: %d files\n", len(files))
	fmt.Fprintf(&b, "Structure: %s\n\n", structure)

	conv := req.Conversation
	if len(conv) > 3 {
		conv = conv[len(conv)-3:]
	}
	history, err := json.MarshalIndent(conv, "", "  ")
	if err != nil || len(conv) == 0 {
		history = []byte("[]")
	}
	fmt.Fprintf(&b, "RECENT CONVERSATION:\n%s\n\n", history)

	b.WriteString("Generate a task plan that accomplishes the request using the available handlers.")
	return b.String()
}
