package observability

import (
	"encoding/json"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
)

// EventType defines the category of the log event.
type EventType string

const (
	EventTypeReasoning   EventType = "reasoning"
	EventTypeToolCall    EventType = "tool_call"
	EventTypeToolResult  EventType = "tool_result"
	EventTypePolicyCheck EventType = "policy_check"
	EventTypePlan        EventType = "plan"
	EventTypeStep        EventType = "step"
	EventTypeRecovery    EventType = "recovery"
	EventTypeAuditError  EventType = "audit_error"
	EventTypeHeartbeat   EventType = "heartbeat"
	EventTypeLLM         EventType = "llm"
)

// Event represents a structured log entry.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	StepID    string    `json:"step_id,omitempty"`
	Data      any       `json:"data"`
	Timestamp time.Time `json:"timestamp"`
}

// Logger writes structured events as JSON lines. A nil *Logger discards events.
type Logger struct {
	mu      sync.Mutex
	path    string
	maxSize int64
	echo    io.Writer
}

func NewLogger(path string) *Logger {
	return &Logger{
		path:    path,
		maxSize: 10 * 1024 * 1024, // 10MB
	}
}

// SetMaxSize sets the size after which the event file is rotated.
func (l *Logger) SetMaxSize(n int64) {
	if n > 0 {
		l.maxSize = n
	}
}

// SetEcho mirrors every event to w in addition to the event file.
func (l *Logger) SetEcho(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.echo = w
}

// Log emits a structured JSON event.
func (l *Logger) Log(evt Event) {
	if l == nil {
		return
	}
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("failed to marshal event: %v", err)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.echo != nil {
		fmt.Fprintln(l.echo, string(data))
	}
	if l.path != "" {
		l.writeToFile(data)
	}
}

func (l *Logger) writeToFile(data []byte) {
	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		log.Printf("failed to create log directory: %v", err)
		return
	}

	// Check size before writing
	info, err := os.Stat(l.path)
	if err == nil && info.Size() > l.maxSize {
		if err := l.rotateLogs(); err != nil {
			log.Printf("failed to rotate event log: %v", err)
		}
	}

	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		log.Printf("failed to open log file: %v", err)
		return
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		log.Printf("failed to write to log file: %v", err)
	}
}

// rotateLogs compresses the current file into a single .old.zst generation.
func (l *Logger) rotateLogs() error {
	src, err := os.Open(l.path)
	if err != nil {
		return err
	}
	defer src.Close()

	oldPath := l.path + ".old.zst"
	dst, err := os.Create(oldPath)
	if err != nil {
		return err
	}

	enc, err := zstd.NewWriter(dst)
	if err != nil {
		dst.Close()
		return err
	}
	if _, err := io.Copy(enc, src); err != nil {
		enc.Close()
		dst.Close()
		return err
	}
	if err := enc.Close(); err != nil {
		dst.Close()
		return err
	}
	if err := dst.Close(); err != nil {
		return err
	}
	return os.Remove(l.path)
}

// Helper methods for common events

func (l *Logger) LogPlan(sessionID, planID, goal string, steps int, recovery bool) {
	l.Log(Event{
		Type:      EventTypePlan,
		SessionID: sessionID,
		Data: map[string]any{
			"plan_id":  planID,
			"goal":     goal,
			"steps":    steps,
			"recovery": recovery,
		},
	})
}

func (l *Logger) LogStep(sessionID, stepID, handler, status, statusUpdate string) {
	l.Log(Event{
		Type:      EventTypeStep,
		SessionID: sessionID,
		StepID:    stepID,
		Data: map[string]string{
			"handler":       handler,
			"status":        status,
			"status_update": statusUpdate,
		},
	})
}

func (l *Logger) LogToolCall(sessionID, stepID, tool string, args any) {
	l.Log(Event{
		Type:      EventTypeToolCall,
		SessionID: sessionID,
		StepID:    stepID,
		Data: map[string]any{
			"tool": tool,
			"args": args,
		},
	})
}

func (l *Logger) LogToolResult(sessionID, stepID, tool string, success bool, statusUpdate string) {
	l.Log(Event{
		Type:      EventTypeToolResult,
		SessionID: sessionID,
		StepID:    stepID,
		Data: map[string]any{
			"tool":          tool,
			"success":       success,
			"status_update": statusUpdate,
		},
	})
}

func (l *Logger) LogPolicyCheck(tool, arguments, effect, reason string) {
	l.Log(Event{
		Type: EventTypePolicyCheck,
		Data: map[string]string{
			"tool":      tool,
			"arguments": arguments,
			"effect":    effect,
			"reason":    reason,
		},
	})
}

func (l *Logger) LogRecovery(sessionID, failedStepID, recoveryPlanID string, reason string) {
	l.Log(Event{
		Type:      EventTypeRecovery,
		SessionID: sessionID,
		StepID:    failedStepID,
		Data: map[string]string{
			"recovery_plan_id": recoveryPlanID,
			"reason":           reason,
		},
	})
}

func (l *Logger) LogAuditError(sessionID string, err error) {
	l.Log(Event{
		Type:      EventTypeAuditError,
		SessionID: sessionID,
		Data:      map[string]string{"error": err.Error()},
	})
}

func (l *Logger) LogHeartbeat() {
	l.Log(Event{
		Type: EventTypeHeartbeat,
		Data: map[string]string{"status": "alive"},
	})
}

func (l *Logger) LogLLM(sessionID string, prompt any, response string, toolCalls any) {
	l.Log(Event{
		Type:      EventTypeLLM,
		SessionID: sessionID,
		Data: map[string]any{
			"prompt":     prompt,
			"response":   response,
			"tool_calls": toolCalls,
		},
	})
}
