// Package filelock provides a cross-process advisory exclusive lock keyed
// by a filesystem path, used to guard LockedState's read-modify-write cycle
// and scriptize's shell-script append.
//
// On unix, FileLock wraps flock(2) with an extra identity-verification step:
// after the lock is granted, it confirms the locked file descriptor still
// refers to the path currently on disk. Without this, a lock holder that
// unlinks the path on Unlock (as LockedState does) can race a waiter that
// opened the old inode just before the unlink — flock(2) alone would hand
// that waiter a lock on a file nobody can see anymore. The loop in Lock
// re-opens and re-checks until the fd it holds and the path agree, exactly
// as the original Python implementation's flock.FLock did via readlink
// (here via os.SameFile's device/inode comparison instead, which needs no
// /proc filesystem).
package filelock

import (
	"errors"
	"path/filepath"
)

// FileLock is a cross-process mutex backed by a lock file at Path.
type FileLock struct {
	path string
	file lockHandle
}

// New returns a FileLock for the given path. The path is not touched until
// Lock is called.
func New(path string) *FileLock {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return &FileLock{path: abs}
}

// Path returns the absolute lock file path.
func (l *FileLock) Path() string {
	return l.path
}

// ErrNotLocked is returned by Unlock when the lock is not currently held.
var ErrNotLocked = errors.New("filelock: not locked")

// StateLockName returns the sibling lock-file path for a state file, using
// the original naming convention: "<dir>/.<basename>.lock".
func StateLockName(statePath string) string {
	dir, base := filepath.Split(statePath)
	return filepath.Join(dir, "."+base+".lock")
}
