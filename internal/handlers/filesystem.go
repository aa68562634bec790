package handlers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/rahul/sovereign/internal/plan"
	"github.com/rahul/sovereign/internal/session"
)

const FileHandlerName = "FileHandler"

// maxReadBytes caps how much of a file is returned as step content.
const maxReadBytes = 64 * 1024

// FileHandler manages files in the live workspace: read, write, list and mkdir.
type FileHandler struct{}

func NewFileHandler() *FileHandler {
	return &FileHandler{}
}

func (f *FileHandler) Name() string {
	return FileHandlerName
}

func (f *FileHandler) Description() string {
	return "Manage files in the workspace: read, write, list, and mkdir."
}

func (f *FileHandler) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"operation": map[string]any{
				"type":        "string",
				"enum":        []string{"read", "write", "list", "mkdir"},
				"description": "The operation to perform",
			},
			"path": map[string]any{
				"type":        "string",
				"description": "Path relative to the workspace root",
			},
			"content": map[string]any{
				"type":        "string",
				"description": "The content to write (only for 'write')",
			},
		},
		"required": []string{"operation"},
	}
}

func (f *FileHandler) Execute(ctx context.Context, stepGoal string, args map[string]any, sess *session.Session) (*plan.Result, error) {
	op, _ := args["operation"].(string)
	name, _ := args["path"].(string)
	op = strings.ToLower(strings.TrimSpace(op))
	if op == "" {
		return plan.Fail(plan.TagInvalidArgs, "No operation specified. Use 'read', 'write', 'list', or 'mkdir'."), nil
	}
	if name == "" && op != "list" {
		return plan.Fail(plan.TagInvalidArgs, fmt.Sprintf("Operation '%s' requires a path.", op)), nil
	}

	target, err := resolveInside(sess.Path(), name)
	if err != nil {
		return plan.Fail(plan.TagInvalidArgs, err.Error()), nil
	}

	switch op {
	case "read":
		data, err := os.ReadFile(target)
		if err != nil {
			return plan.Fail(plan.TagError, fmt.Sprintf("Failed to read file: %v", err)), nil
		}
		text := string(data)
		if len(text) > maxReadBytes {
			text = text[:maxReadBytes] + "\n... (content truncated) ..."
		}
		res := plan.Succeed(text)
		res.ArtifactsCreated = map[string]any{"path": name, "bytes": len(data)}
		return res, nil

	case "write":
		content, _ := args["content"].(string)
		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return plan.Fail(plan.TagError, fmt.Sprintf("Failed to create parent directory: %v", err)), nil
		}
		if err := os.WriteFile(target, []byte(content), 0644); err != nil {
			return plan.Fail(plan.TagError, fmt.Sprintf("Failed to write file: %v", err)), nil
		}
		res := plan.Succeed(fmt.Sprintf("Successfully wrote to %s", name))
		res.ArtifactsCreated = map[string]any{"path": name, "bytes": len(content)}
		return res, nil

	case "list":
		entries, err := os.ReadDir(target)
		if err != nil {
			return plan.Fail(plan.TagError, fmt.Sprintf("Failed to list directory: %v", err)), nil
		}
		var b strings.Builder
		names := make([]string, 0, len(entries))
		for _, entry := range entries {
			if entry.Name() == session.FlightFileName || entry.Name() == session.StateDirName {
				continue
			}
			typeStr := "file"
			if entry.IsDir() {
				typeStr = "dir"
			}
			fmt.Fprintf(&b, "[%s] %s\n", typeStr, entry.Name())
			names = append(names, entry.Name())
		}
		out := b.String()
		if out == "" {
			out = "Directory is empty"
		}
		res := plan.Succeed(out)
		res.ArtifactsCreated = map[string]any{"entries": names}
		return res, nil

	case "mkdir":
		if err := os.MkdirAll(target, 0755); err != nil {
			return plan.Fail(plan.TagError, fmt.Sprintf("Failed to create directory: %v", err)), nil
		}
		return plan.Succeed(fmt.Sprintf("Successfully created directory %s", name)), nil

	default:
		return plan.Fail(plan.TagInvalidArgs, fmt.Sprintf("Invalid operation '%s'. Use 'read', 'write', 'list', or 'mkdir'.", op)), nil
	}
}

// resolveInside joins name onto root and rejects results outside root.
func resolveInside(root, name string) (string, error) {
	target := filepath.Join(root, name)
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("unsafe path attempt: %s", name)
	}
	return target, nil
}
