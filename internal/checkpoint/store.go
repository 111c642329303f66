package checkpoint

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"poolScope/internal/model"
)

// Store persists one checkpoint per key.
type Store interface {
	// Load returns the checkpoint for key. ok is false when none was saved yet.
	Load(ctx context.Context, key string) (cp model.Checkpoint, ok bool, err error)
	Save(ctx context.Context, key string, cp model.Checkpoint) error
}

// PersistenceError reports a checkpoint that could not be read or written.
type PersistenceError struct {
	Op  string
	Key string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkpoint %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// FileStore keeps each checkpoint as a JSON document on disk.
type FileStore struct {
	dir string
}

// NewFileStore creates a store rooted at dir. An empty dir means the working directory.
func NewFileStore(dir string) *FileStore {
	return &FileStore{dir: dir}
}

// Path returns the file backing key. Keys ending in .json are used as paths.
func (s *FileStore) Path(key string) string {
	if strings.HasSuffix(key, ".json") {
		if filepath.IsAbs(key) || s.dir == "" {
			return key
		}
		return filepath.Join(s.dir, key)
	}
	return filepath.Join(s.dir, key+".json")
}

// Load reads the checkpoint for key. A missing file is a first run, not an error.
func (s *FileStore) Load(ctx context.Context, key string) (model.Checkpoint, bool, error) {
	if err := ctx.Err(); err != nil {
		return model.Checkpoint{}, false, err
	}
	path := s.Path(key)

	stat, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return model.Checkpoint{}, false, nil
		}
		return model.Checkpoint{}, false, &PersistenceError{Op: "stat", Key: key, Err: err}
	}
	if stat.IsDir() {
		return model.Checkpoint{}, false, &PersistenceError{Op: "stat", Key: key, Err: fmt.Errorf("%s is a directory", path)}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return model.Checkpoint{}, false, &PersistenceError{Op: "read", Key: key, Err: err}
	}

	var cp model.Checkpoint
	if err := json.Unmarshal(data, &cp); err != nil {
		return model.Checkpoint{}, false, &PersistenceError{Op: "parse", Key: key, Err: err}
	}
	return cp, true, nil
}

// Save writes the checkpoint through a temporary file and a rename, so readers
// see either the previous document or the new one.
func (s *FileStore) Save(ctx context.Context, key string, cp model.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	path := s.Path(key)

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return &PersistenceError{Op: "mkdir", Key: key, Err: err}
		}
	}

	data, err := json.MarshalIndent(cp, "", "  ")
	if err != nil {
		return &PersistenceError{Op: "marshal", Key: key, Err: err}
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o644); err != nil {
		return &PersistenceError{Op: "write", Key: key, Err: err}
	}
	if err := os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return &PersistenceError{Op: "rename", Key: key, Err: err}
	}
	return nil
}
