package session

import (
	"io/fs"
	"path/filepath"
)

const (
	// FlightFileName is the audit log kept at the workspace root.
	FlightFileName = ".sovereign_flight.json"
	// StateDirName holds the event log and the history database.
	StateDirName = ".sovereign"
)

type FileTree struct {
	Files []string `json:"files"`
}

// WorkspaceSummary describes the workspace handed to the planner.
type WorkspaceSummary struct {
	Path            string   `json:"path"`
	FileTreeSummary FileTree `json:"file_tree_summary"`
}

// AnalyzeWorkspace lists every regular file under root as a slash-separated
// relative path, in lexical walk order. Unreadable entries are skipped.
func AnalyzeWorkspace(root string) WorkspaceSummary {
	files := []string{}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if d != nil && d.IsDir() && path != root {
				return fs.SkipDir
			}
			return nil
		}
		if d.IsDir() && d.Name() == StateDirName && path != root {
			return fs.SkipDir
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return nil
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	return WorkspaceSummary{Path: root, FileTreeSummary: FileTree{Files: files}}
}
