// Package governance holds the command deny-list. Matching is textual and
// best effort: it is advisory and is not a security boundary. Quoting,
// variables, aliases or encoded payloads can all slip past it.
package governance

import (
	"context"
	"fmt"
	"regexp"
)

// Effect defines the result of a policy evaluation.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// Request contains the context of a tool call to be evaluated.
type Request struct {
	Tool      string
	Arguments string
	SessionID string
}

// Result contains the outcome of a policy evaluation.
type Result struct {
	Effect Effect
	Reason string
}

// PolicyEngine evaluates tool calls against a set of rules.
type PolicyEngine interface {
	Evaluate(ctx context.Context, req Request) (Result, error)
}

// DefaultDeniedPatterns are the destructive command shapes refused by
// NewCommandPolicy. All are case-insensitive.
var DefaultDeniedPatterns = []string{
	// recursive force delete, combined or split flags
	`(?i)(^|[\s;&|(])rm\s+(-[a-z]*r[a-z]*f[a-z]*|-[a-z]*f[a-z]*r[a-z]*)\b`,
	`(?i)(^|[\s;&|(])rm(\s+-\S+)*\s+(-[a-z]*r[a-z]*|--recursive)(\s+-\S+)*\s+(-[a-z]*f[a-z]*|--force)(\s|$)`,
	`(?i)(^|[\s;&|(])rm(\s+-\S+)*\s+(-[a-z]*f[a-z]*|--force)(\s+-\S+)*\s+(-[a-z]*r[a-z]*|--recursive)(\s|$)`,
	// raw block-device writes
	`(?i)(^|[\s;&|(])dd\s+`,
	`(?i)>\s*/dev/(sd|hd|nvme|xvd|vd|disk|mmcblk)`,
	// filesystem formatting
	`(?i)(^|[\s;&|(])mkfs`,
	// broad permission changes on root paths
	`(?i)(^|[\s;&|(])chmod\s+(-[a-z]+\s+)*[0-7]{3,4}\s+/`,
	`(?i)(^|[\s;&|(])chmod\s+-[a-z]*r[a-z]*\s+\S+\s+/(\s|$)`,
	`(?i)(^|[\s;&|(])chown\s+-[a-z]*r[a-z]*\s+\S+\s+/(\s|$)`,
	// shutdown / reboot, only in command position
	`(?i)(^|[;&|(]|\b(sudo|systemctl|exec)\s)\s*(shutdown|reboot|halt|poweroff)(\s|$)`,
}

// DefaultPolicyEngine is a basic implementation of PolicyEngine.
type DefaultPolicyEngine struct {
	DeniedTools map[string]bool
	DeniedRegex []*regexp.Regexp
}

func NewDefaultPolicyEngine() *DefaultPolicyEngine {
	return &DefaultPolicyEngine{
		DeniedTools: make(map[string]bool),
		DeniedRegex: make([]*regexp.Regexp, 0),
	}
}

// NewCommandPolicy returns an engine preloaded with DefaultDeniedPatterns.
func NewCommandPolicy() *DefaultPolicyEngine {
	e := NewDefaultPolicyEngine()
	for _, p := range DefaultDeniedPatterns {
		e.DeniedRegex = append(e.DeniedRegex, regexp.MustCompile(p))
	}
	return e
}

func (e *DefaultPolicyEngine) DenyTool(name string) {
	e.DeniedTools[name] = true
}

func (e *DefaultPolicyEngine) DenyArguments(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	e.DeniedRegex = append(e.DeniedRegex, re)
	return nil
}

func (e *DefaultPolicyEngine) Evaluate(ctx context.Context, req Request) (Result, error) {
	if e.DeniedTools[req.Tool] {
		return Result{
			Effect: EffectDeny,
			Reason: fmt.Sprintf("Tool '%s' is restricted by system policy", req.Tool),
		}, nil
	}

	for _, re := range e.DeniedRegex {
		if re.MatchString(req.Arguments) {
			return Result{
				Effect: EffectDeny,
				Reason: fmt.Sprintf("Arguments match restricted pattern: %s", re.String()),
			}, nil
		}
	}

	return Result{
		Effect: EffectAllow,
		Reason: "Approved by default policy",
	}, nil
}
