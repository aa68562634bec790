package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// FlightRecorder keeps the append-only audit log. Every Append rewrites the
// whole document so the file always holds the complete list of records.
type FlightRecorder struct {
	path    string
	records []Snapshot
	// encoded holds records[i] as written to disk.
	encoded []json.RawMessage
}

func NewFlightRecorder(path string) *FlightRecorder {
	return &FlightRecorder{path: path, records: make([]Snapshot, 0)}
}

func (f *FlightRecorder) Path() string {
	return f.path
}

// Records returns a copy of the accumulated snapshots.
func (f *FlightRecorder) Records() []Snapshot {
	out := make([]Snapshot, len(f.records))
	copy(out, f.records)
	return out
}

// Append adds a snapshot and replaces the file on disk. The snapshot is kept
// in memory even when the write fails. Artifact values that cannot be encoded
// as JSON are recorded as their printed form and reported in the error.
func (f *FlightRecorder) Append(s Snapshot) error {
	raw, encErr := json.Marshal(s)
	if encErr != nil {
		s.Artifacts = printable(s.Artifacts)
		var err error
		if raw, err = json.Marshal(s); err != nil {
			return fmt.Errorf("failed to encode flight record: %w", err)
		}
	}
	f.records = append(f.records, s)
	f.encoded = append(f.encoded, raw)

	if err := f.write(); err != nil {
		return err
	}
	if encErr != nil {
		return fmt.Errorf("flight record stored with unencodable artifacts: %w", encErr)
	}
	return nil
}

// printable replaces values json cannot encode with fmt.Sprint of them,
// descending into nested maps.
func printable(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if _, err := json.Marshal(v); err == nil {
			out[k] = v
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			out[k] = printable(nested)
			continue
		}
		out[k] = fmt.Sprint(v)
	}
	return out
}

func (f *FlightRecorder) write() error {
	doc := struct {
		Records []json.RawMessage `json:"records"`
	}{Records: f.encoded}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode flight record: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create flight record directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".flight-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create flight record: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write flight record: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write flight record: %w", err)
	}
	if err := os.Rename(tmpName, f.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to replace flight record: %w", err)
	}
	return nil
}
