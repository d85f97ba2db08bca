package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// FileStore archives reports on the local filesystem, rooted at a base
// directory. Used when no S3 endpoint is configured.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		return nil, fmt.Errorf("archive root is required")
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, err
	}
	return &FileStore{root: root}, nil
}

func (s *FileStore) Put(_ context.Context, sessionID, name string, content []byte) error {
	path, err := s.pathFor(sessionID, name)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, content, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *FileStore) Get(_ context.Context, sessionID, name string) ([]byte, error) {
	path, err := s.pathFor(sessionID, name)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, ErrNotFound
	}
	return data, err
}

func (s *FileStore) List(_ context.Context, sessionID string) ([]string, error) {
	dir, err := s.pathFor(sessionID, ".")
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// URL returns the local path; there is no presigning for disk archives.
func (s *FileStore) URL(_ context.Context, sessionID, name string) (string, error) {
	path, err := s.pathFor(sessionID, name)
	if err != nil {
		return "", err
	}
	return "file://" + path, nil
}

func (s *FileStore) pathFor(sessionID, name string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		return "", fmt.Errorf("session id is required")
	}
	clean := filepath.Clean(filepath.Join(sessionID, name))
	if strings.HasPrefix(clean, "..") {
		return "", fmt.Errorf("invalid archive path %q", name)
	}
	return filepath.Join(s.root, clean), nil
}
