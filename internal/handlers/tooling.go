package handlers

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rahul/sovereign/internal/display"
	"github.com/rahul/sovereign/internal/governance"
	"github.com/rahul/sovereign/internal/observability"
	"github.com/rahul/sovereign/internal/plan"
	"github.com/rahul/sovereign/internal/session"
)

const (
	ToolingHandlerName    = "ToolingHandler"
	DefaultCommandTimeout = 30 * time.Second
	DefaultShell          = "sh"

	// waitDelay bounds how long output pipes are drained after the process is
	// killed, so a timed-out command returns shortly after the deadline even if
	// it left children holding stdout open.
	waitDelay = 2 * time.Second
)

// StderrFailureIndicators mark a command as failed even when it exits 0.
// Matching is case-insensitive.
var StderrFailureIndicators = []string{
	"error:",
	"invalid",
	"command not found",
	"usage:",
	"illegal option",
	"invalid option",
}

type ToolingConfig struct {
	// Policy screens commands before anything is copied or spawned. Defaults
	// to governance.NewCommandPolicy().
	Policy governance.PolicyEngine

	// Timeout is the wall-clock limit per command. Defaults to 30s.
	Timeout time.Duration

	// Shell runs the command as `Shell -c command`. Defaults to sh.
	Shell string

	// SandboxRoot is the parent of the sandbox directories. Defaults to the
	// system temp directory.
	SandboxRoot string

	Logger *observability.Logger
}

// ToolingHandler executes one shell command against a throwaway copy of the
// workspace.
type ToolingHandler struct {
	policy      governance.PolicyEngine
	timeout     time.Duration
	shell       string
	sandboxRoot string
	logger      *observability.Logger
	formatter   *display.Formatter
}

func NewToolingHandler(cfg ToolingConfig) *ToolingHandler {
	h := &ToolingHandler{
		policy:      cfg.Policy,
		timeout:     cfg.Timeout,
		shell:       cfg.Shell,
		sandboxRoot: cfg.SandboxRoot,
		logger:      cfg.Logger,
		formatter:   display.Plain(),
	}
	if h.policy == nil {
		h.policy = governance.NewCommandPolicy()
	}
	if h.timeout <= 0 {
		h.timeout = DefaultCommandTimeout
	}
	if h.shell == "" {
		h.shell = DefaultShell
	}
	return h
}

func (h *ToolingHandler) Name() string {
	return ToolingHandlerName
}

func (h *ToolingHandler) Description() string {
	return "Executes shell commands in an ephemeral sandbox copy of the workspace"
}

func (h *ToolingHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"command": map[string]any{
				"type":        "string",
				"description": "The shell command to execute inside the sandbox",
			},
		},
		"required": []string{"command"},
	}
}

func (h *ToolingHandler) Execute(ctx context.Context, stepGoal string, args map[string]any, sess *session.Session) (*plan.Result, error) {
	command, _ := args["command"].(string)
	if strings.TrimSpace(command) == "" {
		return plan.Fail(plan.TagNoCommand, "No command specified."), nil
	}

	verdict, err := h.policy.Evaluate(ctx, governance.Request{
		Tool:      h.Name(),
		Arguments: command,
		SessionID: sess.ID,
	})
	if err != nil {
		return plan.Fail(plan.TagError, fmt.Sprintf("Policy evaluation failed: %v", err)), nil
	}
	h.logger.LogPolicyCheck(h.Name(), command, string(verdict.Effect), verdict.Reason)
	if verdict.Effect == governance.EffectDeny {
		return plan.Fail(plan.TagDangerousCommand, fmt.Sprintf("Command appears dangerous or disallowed: %s", command)), nil
	}

	exclude := map[string]bool{
		session.FlightFileName: true,
		session.StateDirName:   true,
	}
	sb, err := CloneWorkspace(sess.Path(), h.sandboxRoot, exclude)
	if err != nil {
		return plan.Fail(plan.TagError, fmt.Sprintf("Exception during execution: %v", err)), nil
	}

	return h.run(ctx, command, sb), nil
}

// run executes command inside the sandbox. The user's cancellation is not
// propagated to the subprocess; only the timeout stops it.
func (h *ToolingHandler) run(ctx context.Context, command string, sb *Sandbox) *plan.Result {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, h.shell, "-c", command)
	cmd.Dir = sb.Path
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = waitDelay

	err := cmd.Run()
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		res := plan.Fail(plan.TagTimeout, fmt.Sprintf("Command timed out after %s.", h.timeout))
		res.ArtifactsCreated = map[string]any{"sandbox_path": sb.Path}
		return res
	}

	exitCode := 0
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			return plan.Fail(plan.TagError, fmt.Sprintf("Exception during execution: %v", err))
		}
		exitCode = exitErr.ExitCode()
	}

	out, errOut := stdout.String(), stderr.String()
	success := ClassifyOutcome(exitCode, errOut)

	tag := plan.TagFailed
	if success {
		tag = plan.TagCompleted
	}
	return &plan.Result{
		Success:      success,
		Content:      h.formatter.CommandResult(command, exitCode, out, errOut),
		StatusUpdate: tag,
		ArtifactsCreated: map[string]any{
			"stdout":           out,
			"stderr":           errOut,
			"exit_code":        exitCode,
			"has_stderr":       strings.TrimSpace(errOut) != "",
			"sandbox_path":     sb.Path,
			"workspace_digest": sb.Digest,
		},
	}
}

// ClassifyOutcome reports success only for exit code 0 with no failure
// indicator on stderr. Many tools print usage text and still exit 0.
func ClassifyOutcome(exitCode int, stderr string) bool {
	if exitCode != 0 {
		return false
	}
	lower := strings.ToLower(stderr)
	for _, indicator := range StderrFailureIndicators {
		if strings.Contains(lower, indicator) {
			return false
		}
	}
	return true
}
