package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	"unicode"
)

// FileStore persists one JSON checkpoint document per collection under a
// directory. Saves go through a temp file and rename so a crash mid-write
// never corrupts the previous checkpoint.
type FileStore struct {
	dir string
}

// NewFileStore creates the checkpoint directory if needed.
func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("checkpoint directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create checkpoint directory: %w", err)
	}
	return &FileStore{dir: dir}, nil
}

// Path returns the checkpoint file path for a collection.
func (s *FileStore) Path(resource string) string {
	return filepath.Join(s.dir, Slug(resource)+".state.json")
}

// Load returns the last saved state, or nil when no checkpoint exists.
func (s *FileStore) Load(_ context.Context, resource string) (*HarvestState, error) {
	data, err := os.ReadFile(s.Path(resource))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read checkpoint: %w", err)
	}

	var state HarvestState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("decode checkpoint: %w", err)
	}

	return &state, nil
}

// Save atomically persists the state: write to a temp file in the same
// directory, fsync, then rename over the previous checkpoint.
func (s *FileStore) Save(_ context.Context, state *HarvestState) error {
	state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode checkpoint: %w", err)
	}

	path := s.Path(state.Resource)
	tmp, err := os.CreateTemp(s.dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp checkpoint: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("write temp checkpoint: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("sync temp checkpoint: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("close temp checkpoint: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("replace checkpoint: %w", err)
	}

	return nil
}

// Delete removes the checkpoint. It is not an error if none exists.
func (s *FileStore) Delete(_ context.Context, resource string) error {
	if err := os.Remove(s.Path(resource)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("delete checkpoint: %w", err)
	}
	return nil
}

// Slug converts a collection name to a safe file name component.
func Slug(resource string) string {
	mapped := strings.Map(func(r rune) rune {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			return unicode.ToLower(r)
		case r == '-' || r == '_' || r == '.':
			return r
		default:
			return '_'
		}
	}, resource)
	return strings.Trim(mapped, "_")
}
