package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

type fileData struct {
	Tokens   map[string]string                     `json:"tokens"`
	Delivery map[string]string                     `json:"delivery"`
	Steps    map[string]map[string]json.RawMessage `json:"steps"`
	// run id -> time of the run's latest commit
	StepRuns map[string]time.Time `json:"step_runs"`
}

// FileStore persists everything in a single JSON document on disk. It suits
// a single-process deployment without a database.
type FileStore struct {
	path string

	mu   sync.Mutex
	data fileData
	now  func() time.Time
}

// NewFileStore opens (or starts) the document at path.
func NewFileStore(path string) (*FileStore, error) {
	f := &FileStore{path: path, now: time.Now}
	if err := f.read(); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *FileStore) read() error {
	f.data = fileData{}
	b, err := os.ReadFile(f.path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err == nil {
		if err := json.Unmarshal(b, &f.data); err != nil {
			return fmt.Errorf("parse %s: %w", f.path, err)
		}
	}
	if f.data.Tokens == nil {
		f.data.Tokens = make(map[string]string)
	}
	if f.data.Delivery == nil {
		f.data.Delivery = make(map[string]string)
	}
	if f.data.Steps == nil {
		f.data.Steps = make(map[string]map[string]json.RawMessage)
	}
	if f.data.StepRuns == nil {
		f.data.StepRuns = make(map[string]time.Time)
	}
	return nil
}

// writeLocked replaces the document atomically. Caller holds f.mu.
func (f *FileStore) writeLocked() error {
	if err := os.MkdirAll(filepath.Dir(f.path), 0o700); err != nil {
		return err
	}
	b, err := json.MarshalIndent(f.data, "", "  ")
	if err != nil {
		return err
	}
	// Restrictive permissions: the file holds access tokens.
	tmp := f.path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, f.path)
}

func (f *FileStore) GetToken(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	tok, ok := f.data.Tokens[userID]
	if !ok {
		return "", ErrNotFound
	}
	return tok, nil
}

func (f *FileStore) SetToken(_ context.Context, userID, token string) error {
	if userID == "" || token == "" {
		return fmt.Errorf("user id and token are required")
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data.Tokens[userID] = token
	return f.writeLocked()
}

func (f *FileStore) DeleteToken(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data.Tokens[userID]; !ok {
		return nil
	}
	delete(f.data.Tokens, userID)
	return f.writeLocked()
}

func (f *FileStore) GetDelivery(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if method, ok := f.data.Delivery[userID]; ok {
		return method, nil
	}
	return DefaultDelivery, nil
}

func (f *FileStore) SetDelivery(_ context.Context, userID, method string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if method == DefaultDelivery {
		delete(f.data.Delivery, userID)
	} else {
		f.data.Delivery[userID] = method
	}
	return f.writeLocked()
}

func (f *FileStore) ListUsers(_ context.Context) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	users := make([]string, 0, len(f.data.Tokens))
	for id := range f.data.Tokens {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

func (f *FileStore) LoadStep(_ context.Context, runID, name string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	raw, ok := f.data.Steps[runID][name]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), raw...), true, nil
}

func (f *FileStore) SaveStep(_ context.Context, runID, name string, result []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	run, ok := f.data.Steps[runID]
	if !ok {
		run = make(map[string]json.RawMessage)
		f.data.Steps[runID] = run
	}
	if _, exists := run[name]; exists {
		return nil
	}
	run[name] = append(json.RawMessage(nil), result...)
	f.data.StepRuns[runID] = f.now().UTC()
	return f.writeLocked()
}

// PruneSteps drops runs last written before the cutoff. Runs recorded
// without a timestamp count as stale.
func (f *FileStore) PruneSteps(_ context.Context, before time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pruned := 0
	for runID := range f.data.Steps {
		if f.data.StepRuns[runID].Before(before) {
			delete(f.data.Steps, runID)
			delete(f.data.StepRuns, runID)
			pruned++
		}
	}
	if pruned == 0 {
		return 0, nil
	}
	return pruned, f.writeLocked()
}
