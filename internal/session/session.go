package session

import (
	"fmt"
	"log"
	"maps"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rahul/sovereign/internal/observability"
	"github.com/rahul/sovereign/internal/plan"
	"github.com/rahul/sovereign/internal/store"
)

// Mirror receives a copy of history entries and step outcomes.
// *store.HistoryStore satisfies it.
type Mirror interface {
	AddMessage(sessionID string, role string, content string) error
	AddStep(rec store.StepRecord) error
}

type Config struct {
	// Workspace is the live workspace directory. It is created if absent.
	Workspace string

	// Mirror is optional.
	Mirror Mirror

	// Logger receives audit-log write failures. Optional.
	Logger *observability.Logger
}

// Session is the process-lifetime state of one interactive session. It is
// mutated only by the goroutine that runs the session.
type Session struct {
	ID          string
	Workspace   WorkspaceSummary
	History     []store.Message
	CurrentPlan *plan.Plan
	Artifacts   map[string]any

	recorder *store.FlightRecorder
	mirror   Mirror
	logger   *observability.Logger
}

// New resolves and creates the workspace, summarises it and writes the
// initial flight record.
func New(cfg Config) (*Session, error) {
	if cfg.Workspace == "" {
		return nil, fmt.Errorf("workspace is required")
	}
	root, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve workspace path: %w", err)
	}
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	s := &Session{
		ID:        uuid.New().String(),
		Workspace: AnalyzeWorkspace(root),
		History:   []store.Message{},
		Artifacts: map[string]any{},
		recorder:  store.NewFlightRecorder(filepath.Join(root, FlightFileName)),
		mirror:    cfg.Mirror,
		logger:    cfg.Logger,
	}
	s.SaveFlightRecord()
	return s, nil
}

// Path returns the absolute workspace path.
func (s *Session) Path() string {
	return s.Workspace.Path
}

// FlightPath returns the audit log location.
func (s *Session) FlightPath() string {
	return s.recorder.Path()
}

// FlightRecords returns the snapshots written so far.
func (s *Session) FlightRecords() []store.Snapshot {
	return s.recorder.Records()
}

func (s *Session) AddToHistory(role, content string) {
	s.History = append(s.History, store.Message{Role: role, Content: content})
	if s.mirror != nil {
		if err := s.mirror.AddMessage(s.ID, role, content); err != nil {
			log.Printf("Warning: failed to mirror history entry: %v", err)
		}
	}
}

// RecentHistory returns at most n of the latest history entries.
func (s *Session) RecentHistory(n int) []store.Message {
	if n <= 0 || len(s.History) == 0 {
		return []store.Message{}
	}
	start := len(s.History) - n
	if start < 0 {
		start = 0
	}
	out := make([]store.Message, len(s.History)-start)
	copy(out, s.History[start:])
	return out
}

// UpdateArtifact sets one entry of the session artifact map.
func (s *Session) UpdateArtifact(key string, value any) {
	s.Artifacts[key] = value
}

// ApplyResult folds a step's artifacts and state updates into the session.
// Artifacts are kept under the step id; state updates are merged at top level.
func (s *Session) ApplyResult(step *plan.Step) {
	if step.Result == nil {
		return
	}
	if len(step.Result.ArtifactsCreated) > 0 {
		s.UpdateArtifact(step.ID, maps.Clone(step.Result.ArtifactsCreated))
	}
	for k, v := range step.Result.StateUpdates {
		s.UpdateArtifact(k, v)
	}
}

// RecordStep mirrors a finished step to the history store.
func (s *Session) RecordStep(p *plan.Plan, step *plan.Step) {
	if s.mirror == nil {
		return
	}
	rec := store.StepRecord{
		SessionID: s.ID,
		StepID:    step.ID,
		Handler:   step.HandlerName,
		Goal:      step.StepGoal,
		Status:    step.Status.String(),
	}
	if p != nil {
		rec.PlanID = p.ID
	}
	if step.Result != nil {
		rec.StatusUpdate = step.Result.StatusUpdate
		rec.Content = step.Result.Content
	}
	if err := s.mirror.AddStep(rec); err != nil {
		log.Printf("Warning: failed to mirror step outcome: %v", err)
	}
}

// SaveFlightRecord appends the current conversation and artifacts to the audit
// log. Write failures never reach the caller; they go to the event log.
func (s *Session) SaveFlightRecord() {
	conversation := make([]store.Message, len(s.History))
	copy(conversation, s.History)
	snapshot := store.Snapshot{
		Conversation: conversation,
		Artifacts:    maps.Clone(s.Artifacts),
	}
	if err := s.recorder.Append(snapshot); err != nil {
		s.logger.LogAuditError(s.ID, err)
	}
}
