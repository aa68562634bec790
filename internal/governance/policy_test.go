package governance

import (
	"context"
	"testing"
)

func TestDefaultPolicyEngine_Evaluate(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	ctx := context.Background()

	// Test Allow (Default)
	req1 := Request{Tool: "search"}
	res1, err := engine.Evaluate(ctx, req1)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res1.Effect != EffectAllow {
		t.Errorf("Expected EffectAllow, got %s", res1.Effect)
	}

	// Test Deny
	engine.DenyTool("shell")
	req2 := Request{Tool: "shell"}
	res2, err := engine.Evaluate(ctx, req2)
	if err != nil {
		t.Fatalf("Evaluate failed: %v", err)
	}
	if res2.Effect != EffectDeny {
		t.Errorf("Expected EffectDeny, got %s", res2.Effect)
	}
}

func TestDenyArguments_InvalidPattern(t *testing.T) {
	engine := NewDefaultPolicyEngine()
	if err := engine.DenyArguments(`(`); err == nil {
		t.Error("expected compile error")
	}
}

func TestCommandPolicy(t *testing.T) {
	engine := NewCommandPolicy()
	ctx := context.Background()

	tests := []struct {
		command string
		deny    bool
	}{
		{"rm -rf /", true},
		{"rm -fr build", true},
		{"RM -RF ~", true},
		{"ls && rm -rf .", true},
		{"rm --recursive --force /", true},
		{"dd if=/dev/zero of=/dev/sda", true},
		{"cat image > /dev/sda", true},
		{"mkfs.ext4 /dev/sdb1", true},
		{"chmod 777 /", true},
		{"chmod -R 755 /", true},
		{"chown -R nobody /", true},
		{"shutdown -h now", true},
		{"sudo reboot", true},
		{"poweroff", true},
		{"rm -r -f /", true},
		{"rm -f -r build", true},
		{"rm -r -v -f /", true},
		{"rm --force --recursive /", true},
		{"rm -r --force /", true},
		{"ls; reboot", true},
		{"systemctl poweroff", true},
		{"echo done && halt", true},
		{"ls -la", false},
		{"rm file.txt", false},
		{"rm -r build", false},
		{"chmod 644 notes.txt", false},
		{"echo add more", false},
		{"grep -r reboot_count src", false},
		{"go test ./...", false},
		{"rm -f old.log", false},
		{"rm -r -v build", false},
		{"grep -n halt server.log", false},
		{"cat shutdown.log", false},
		{"echo reboot", false},
	}

	for _, tt := range tests {
		t.Run(tt.command, func(t *testing.T) {
			res, err := engine.Evaluate(ctx, Request{Tool: "ToolingHandler", Arguments: tt.command})
			if err != nil {
				t.Fatalf("Evaluate: %v", err)
			}
			if got := res.Effect == EffectDeny; got != tt.deny {
				t.Errorf("deny = %v, want %v (reason: %s)", got, tt.deny, res.Reason)
			}
		})
	}
}
