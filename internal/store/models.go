package store

import "time"

// Message is one conversation history entry.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// StepRecord is the persisted outcome of one executed step.
type StepRecord struct {
	SessionID    string    `json:"session_id"`
	PlanID       string    `json:"plan_id"`
	StepID       string    `json:"step_id"`
	Handler      string    `json:"handler"`
	Goal         string    `json:"goal"`
	Status       string    `json:"status"`
	StatusUpdate string    `json:"status_update"`
	Content      string    `json:"content"`
	Timestamp    time.Time `json:"timestamp"`
}

// Snapshot is one flight record: the session state as of a step's completion.
type Snapshot struct {
	Conversation []Message      `json:"conversation"`
	Artifacts    map[string]any `json:"artifacts"`
}
