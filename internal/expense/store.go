package expense

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// reloadDebounce collapses the burst of events a single save produces.
const reloadDebounce = 50 * time.Millisecond

// Store is the JSON-file backed expense list.
//
// Every worker owns its own Store over the same file. Saves replace the file
// atomically, and Watch reloads the list when another worker saves, so a
// worker's view does not go stale while its session is open. Concurrent
// writers still race: the last save wins.
type Store struct {
	path string

	mu       sync.RWMutex
	expenses []Expense
	lastSave []byte
}

// NewStore returns a Store for the JSON file at path. Nothing is read until
// Load.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the data file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads the data file. A missing file is created holding an empty
// list. On a read or decode error the list is left empty and the error is
// returned.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.expenses = nil
		s.mu.Unlock()
		return s.Save()
	}
	if err != nil {
		s.reset()
		return err
	}

	expenses, err := decode(data)
	if err != nil {
		s.reset()
		return err
	}

	s.mu.Lock()
	s.expenses = expenses
	s.lastSave = data
	s.mu.Unlock()
	return nil
}

func (s *Store) reset() {
	s.mu.Lock()
	s.expenses = nil
	s.mu.Unlock()
}

func decode(data []byte) ([]Expense, error) {
	var expenses []Expense
	if err := json.Unmarshal(data, &expenses); err != nil {
		return nil, err
	}
	return expenses, nil
}

// Save writes the list to the data file with four-space indentation.
func (s *Store) Save() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked()
}

func (s *Store) saveLocked() error {
	list := s.expenses
	if list == nil {
		list = []Expense{}
	}
	data, err := json.MarshalIndent(list, "", "    ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(s.path)+".*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}

	s.lastSave = data
	return nil
}

// All returns a copy of the list.
func (s *Store) All() []Expense {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]Expense(nil), s.expenses...)
}

// Len returns the number of expenses.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.expenses)
}

// Append adds e and saves. The expense stays in memory even if the save
// fails; the save error is returned.
func (s *Store) Append(e Expense) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expenses = append(s.expenses, e)
	return s.saveLocked()
}

// RemoveAt removes the expense at zero-based index i and saves. ok is false
// if i is out of range, in which case nothing changes.
func (s *Store) RemoveAt(i int) (removed Expense, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if i < 0 || i >= len(s.expenses) {
		return Expense{}, false, nil
	}
	removed = s.expenses[i]
	s.expenses = append(s.expenses[:i:i], s.expenses[i+1:]...)
	return removed, true, s.saveLocked()
}

// reload re-reads the data file after an external change. The file content
// this Store wrote itself is skipped. A file that fails to decode, for
// example mid-write by a non-atomic writer, leaves the list unchanged.
func (s *Store) reload() (bool, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if bytes.Equal(data, s.lastSave) {
		return false, nil
	}
	expenses, err := decode(data)
	if err != nil {
		return false, err
	}
	s.expenses = expenses
	s.lastSave = data
	return true, nil
}

// Watch reloads the list whenever the data file changes on disk, until ctx
// is done. The parent directory is watched rather than the file itself
// because saves replace the file. notify, if non-nil, is called after every
// reload attempt that changed the list or failed.
func (s *Store) Watch(ctx context.Context, notify func(error)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(s.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(s.path), err)
	}

	go s.watchLoop(ctx, watcher, notify)
	return nil
}

func (s *Store) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, notify func(error)) {
	defer func() { _ = watcher.Close() }()

	debounce := time.NewTimer(0)
	<-debounce.C
	target := filepath.Clean(s.path)

	for {
		select {
		case <-ctx.Done():
			debounce.Stop()
			return

		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(reloadDebounce)

		case <-debounce.C:
			changed, err := s.reload()
			if notify != nil && (changed || err != nil) {
				notify(err)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if notify != nil {
				notify(err)
			}
		}
	}
}
