// Package state implements LockedState: a filelock-guarded, gob-serialized
// persistence of the task graph to a single file, so the scheduler can
// resume a batch run after a restart.
//
// Concrete taskgraph.Task implementations must call gob.Register on
// themselves (see internal/encodetask's init) before a Graph containing
// them can round-trip through Read/Write.
package state

import (
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mohae/deepcopy"

	"github.com/jmylchreest/recode/internal/filelock"
	"github.com/jmylchreest/recode/internal/taskgraph"
)

// LockedState mediates exclusive, cross-process access to a persisted
// taskgraph.Graph. Every read-modify-write cycle must happen between a
// Lock and its matching Unlock.
type LockedState struct {
	path string
	lock *filelock.FileLock
}

// New returns a LockedState for the given state file path. The sibling
// lock file is named "<dir>/.<basename>.lock", matching the original
// implementation's convention.
func New(path string) *LockedState {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &LockedState{
		path: abs,
		lock: filelock.New(filelock.StateLockName(abs)),
	}
}

// Path returns the absolute state file path.
func (s *LockedState) Path() string { return s.path }

// Lock acquires exclusive access. Every call must be paired with Unlock,
// typically via defer.
func (s *LockedState) Lock() error { return s.lock.Lock() }

// Unlock releases exclusive access.
func (s *LockedState) Unlock() error { return s.lock.Unlock() }

// Read decodes the persisted graph. The caller must hold the lock.
// If the state file does not yet exist, the returned error satisfies
// errors.Is(err, os.ErrNotExist) — callers should treat that as "no
// previous run, start from scratch", matching the original's IOError
// handling in main().
func (s *LockedState) Read() (taskgraph.Graph, error) {
	f, err := os.Open(s.path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var g taskgraph.Graph
	if err := gob.NewDecoder(f).Decode(&g); err != nil {
		return nil, fmt.Errorf("state: decode %s: %w", s.path, err)
	}
	return g, nil
}

// Write persists the graph, replacing any previous contents. The caller
// must hold the lock.
func (s *LockedState) Write(g taskgraph.Graph) error {
	if dir := filepath.Dir(s.path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("state: mkdir %s: %w", dir, err)
		}
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("state: create %s: %w", s.path, err)
	}
	defer f.Close()

	if err := gob.NewEncoder(f).Encode(g); err != nil {
		return fmt.Errorf("state: encode %s: %w", s.path, err)
	}
	return nil
}

// Remove deletes the state file. The caller must hold the lock. Removing
// an already-absent file is not an error.
func (s *LockedState) Remove() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("state: remove %s: %w", s.path, err)
	}
	return nil
}

// DeepCopy returns an independent copy of a graph, breaking aliasing
// between the live tasklists projection and the unfinished projection the
// Executor maintains in parallel (spec's Data Model, Executor section).
func DeepCopy(g taskgraph.Graph) taskgraph.Graph {
	if g == nil {
		return nil
	}
	copied := deepcopy.Copy([]taskgraph.Batch(g))
	batches, ok := copied.([]taskgraph.Batch)
	if !ok {
		panic(fmt.Sprintf("state: deepcopy returned unexpected type %T", copied))
	}
	return taskgraph.Graph(batches)
}
