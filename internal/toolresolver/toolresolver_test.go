package toolresolver

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFakeBinary(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\nexit 0\n"), 0o755))
	return path
}

func TestResolveWithPinnedPath(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeBinary(t, dir, "mkvmerge")

	r := New().WithPath(Mkvmerge, path)
	got, err := r.Resolve(Mkvmerge)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestResolveViaEnvVar(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeBinary(t, dir, "ffmpeg")
	t.Setenv("FFMPEG_PATH", path)

	got, err := New().Resolve(FFmpeg)
	require.NoError(t, err)
	assert.Equal(t, path, got)
}

func TestResolveMissingToolErrors(t *testing.T) {
	t.Setenv("PATH", "")
	_, err := New().Resolve("definitely-not-a-real-binary")
	assert.Error(t, err)
}

func TestResolveCachesUntilTTLExpires(t *testing.T) {
	dir := t.TempDir()
	path := writeFakeBinary(t, dir, "mkvextract")

	r := New().WithPath(Mkvextract, path).WithCacheTTL(10 * time.Millisecond)
	first, err := r.Resolve(Mkvextract)
	require.NoError(t, err)

	// Pull the rug out from under the pinned path; a cached result should
	// still be returned until the TTL elapses.
	r.paths[Mkvextract] = "/nonexistent"
	second, err := r.Resolve(Mkvextract)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	time.Sleep(20 * time.Millisecond)
	_, err = r.Resolve(Mkvextract)
	assert.Error(t, err, "expired cache entry must re-resolve against the now-broken pinned path")
}
