package tokenstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"
)

const SchemaVersion = 1

var ErrStateNotFound = errors.New("token state not found")

// State is the persisted session record.
type State struct {
	SchemaVersion int       `json:"schema_version"`
	Token         string    `json:"token"`
	SavedAt       time.Time `json:"saved_at"`
}

func (s State) Validate() error {
	if s.SchemaVersion != SchemaVersion {
		return fmt.Errorf("unsupported schema_version: %d", s.SchemaVersion)
	}
	if s.Token == "" {
		return fmt.Errorf("state missing token")
	}
	return nil
}

func DecodeState(data []byte) (State, error) {
	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return State{}, fmt.Errorf("decode state: %w", err)
	}
	if err := state.Validate(); err != nil {
		return State{}, err
	}
	return state, nil
}

func encodeState(token string) ([]byte, error) {
	data, err := json.MarshalIndent(State{
		SchemaVersion: SchemaVersion,
		Token:         token,
		SavedAt:       time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal state: %w", err)
	}
	return data, nil
}

// FileStore keeps the token in a 0600 JSON file owned by the running user.
type FileStore struct {
	path string
}

func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("state path is required")
	}
	if !filepath.IsAbs(path) {
		return nil, fmt.Errorf("state path must be absolute")
	}
	return &FileStore{path: path}, nil
}

func (f *FileStore) Path() string {
	return f.path
}

func (f *FileStore) LoadState() (State, error) {
	data, err := os.ReadFile(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return State{}, ErrStateNotFound
		}
		return State{}, fmt.Errorf("read state: %w", err)
	}
	if err := checkStateFile(f.path); err != nil {
		return State{}, err
	}
	return DecodeState(data)
}

func (f *FileStore) Load(_ context.Context) (string, error) {
	state, err := f.LoadState()
	if errors.Is(err, ErrStateNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return state.Token, nil
}

func (f *FileStore) Save(_ context.Context, token string) error {
	data, err := encodeState(token)
	if err != nil {
		return err
	}
	return f.write(data)
}

func (f *FileStore) Clear(_ context.Context) error {
	if err := os.Remove(f.path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove state: %w", err)
	}
	return nil
}

func (f *FileStore) write(data []byte) error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return fmt.Errorf("mkdir state dir: %w", err)
	}
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("write state: %w", err)
	}
	if err := os.Rename(tmp, f.path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func checkStateFile(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return err
	}
	if info.Mode().Perm() != 0o600 {
		return fmt.Errorf("state file %s must have 0600 permissions", path)
	}
	if stat, ok := info.Sys().(*syscall.Stat_t); ok {
		if int(stat.Uid) != os.Geteuid() {
			return fmt.Errorf("state file %s must be owned by uid %d", path, os.Geteuid())
		}
	}
	return nil
}
