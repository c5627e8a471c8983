package output

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// FSStore writes artifacts to the local filesystem. It is the primary
// backend and produces the canonical on-disk layout.
type FSStore struct {
	root string
}

// NewFSStore validates the root directory, creating it if needed, and probes
// it for writability.
func NewFSStore(root string) (*FSStore, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("output root is required")
	}

	info, err := os.Stat(root)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(root, 0o750); mkErr != nil {
				return nil, fmt.Errorf("create output root: %w", mkErr)
			}
		} else {
			return nil, fmt.Errorf("stat output root: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("output root is not a directory")
	}

	probe := filepath.Join(root, ".writable_test")
	if err := os.WriteFile(probe, []byte("test"), 0o600); err != nil {
		return nil, fmt.Errorf("output root is not writable: %w", err)
	}
	if err := os.Remove(probe); err != nil {
		return nil, fmt.Errorf("clean up writability probe: %w", err)
	}

	return &FSStore{root: root}, nil
}

// Root returns the store's base directory.
func (s *FSStore) Root() string {
	return s.root
}

// Put writes data under the root and returns a file:// URI.
func (s *FSStore) Put(_ context.Context, path string, data []byte) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", fmt.Errorf("path is required")
	}

	fullPath := filepath.Join(s.root, filepath.FromSlash(path))

	cleanRoot := filepath.Clean(s.root)
	if !strings.HasPrefix(filepath.Clean(fullPath), cleanRoot+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal detected")
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o750); err != nil {
		return "", fmt.Errorf("create parent directories: %w", err)
	}
	if err := os.WriteFile(fullPath, data, 0o600); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	return fmt.Sprintf("file://%s", fullPath), nil
}
