//go:build windows

package filelock

// lockHandle is unused on windows; the lock degrades to a no-op here,
// matching the original implementation's win32 stub. This build is for
// local development only — production use targets unix where flock(2)
// semantics are available.
type lockHandle = struct{}

// Lock is a no-op on windows.
func (l *FileLock) Lock() error {
	return nil
}

// Unlock is a no-op on windows.
func (l *FileLock) Unlock() error {
	return nil
}
