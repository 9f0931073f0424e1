package filelock

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateLockName(t *testing.T) {
	got := StateLockName("/var/data/tasks.state")
	assert.Equal(t, "/var/data/.tasks.state.lock", got)
}

func TestLockUnlockRemovesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".tasks.lock")

	l := New(path)
	require.NoError(t, l.Lock())
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected lock file to exist while held: %v", err)
	}
	require.NoError(t, l.Unlock())
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected lock file to be removed after unlock, err=%v", err)
	}
}

func TestUnlockWithoutLockErrors(t *testing.T) {
	l := New(filepath.Join(t.TempDir(), "x.lock"))
	assert.ErrorIs(t, l.Unlock(), ErrNotLocked)
}

func TestLockSerializesConcurrentHolders(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".shared.lock")

	const holders = 8
	var mu sync.Mutex
	active := 0
	maxActive := 0

	var wg sync.WaitGroup
	wg.Add(holders)
	for i := 0; i < holders; i++ {
		go func() {
			defer wg.Done()
			l := New(path)
			require.NoError(t, l.Lock())

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()

			require.NoError(t, l.Unlock())
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive, "expected flock to serialize all holders")
}
