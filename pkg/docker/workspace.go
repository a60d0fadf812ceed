package docker

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is a host directory mounted into containers.
type Workspace struct {
	Dir string
}

// NewWorkspace creates a temporary workspace holding the given files.
func NewWorkspace(files map[string]string) (*Workspace, error) {
	dir, err := os.MkdirTemp("", "grader-")
	if err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}
	// containers may run as an unprivileged user
	if err := os.Chmod(dir, 0o777); err != nil {
		os.RemoveAll(dir)
		return nil, fmt.Errorf("chmod workspace: %w", err)
	}

	ws := &Workspace{Dir: dir}
	for name, content := range files {
		if err := ws.WriteFile(name, content); err != nil {
			ws.Close()
			return nil, err
		}
	}
	return ws, nil
}

// WriteFile stores content under name, relative to the workspace root.
func (w *Workspace) WriteFile(name, content string) error {
	clean := filepath.Clean(name)
	if filepath.IsAbs(clean) || strings.HasPrefix(clean, "..") {
		return fmt.Errorf("file %q escapes the workspace", name)
	}
	path := filepath.Join(w.Dir, clean)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(clean), err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", clean, err)
	}
	return nil
}

// Close removes the workspace from disk.
func (w *Workspace) Close() error {
	return os.RemoveAll(w.Dir)
}
