package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Test Plan:
// - Bursts of writes to a watched header fire one callback
// - Files next to watched headers are ignored
// - Run returns when the context is cancelled or the watcher is closed
// - Missing directories are reported by New

func startWatcher(t *testing.T, paths []string) (<-chan []string, context.CancelFunc, <-chan error) {
	t.Helper()
	w, err := New(paths, WithDebounce(50*time.Millisecond))
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	changes := make(chan []string, 8)
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(changed []string) { changes <- changed })
	}()
	return changes, cancel, done
}

func TestWatcher_DebouncesChanges(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	header := filepath.Join(dir, "api.h")
	require.NoError(t, os.WriteFile(header, []byte("int a;\n"), 0o644))

	changes, _, _ := startWatcher(t, []string{header})

	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(header, []byte("int b;\n"), 0o644))
	}

	select {
	case changed := <-changes:
		assert.Equal(t, []string{header}, changed)
	case <-time.After(5 * time.Second):
		t.Fatal("no change reported")
	}

	select {
	case changed := <-changes:
		t.Fatalf("unexpected second callback: %v", changed)
	case <-time.After(200 * time.Millisecond):
	}
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	header := filepath.Join(dir, "api.h")
	require.NoError(t, os.WriteFile(header, []byte("int a;\n"), 0o644))

	changes, _, _ := startWatcher(t, []string{header})

	require.NoError(t, os.WriteFile(filepath.Join(dir, "other.h"), []byte("int c;\n"), 0o644))

	select {
	case changed := <-changes:
		t.Fatalf("unexpected callback: %v", changed)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestWatcher_StopsWithContext(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	header := filepath.Join(dir, "api.h")
	require.NoError(t, os.WriteFile(header, nil, 0o644))

	_, cancel, done := startWatcher(t, []string{header})
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
}

func TestNew_MissingDirectory(t *testing.T) {
	t.Parallel()

	_, err := New([]string{filepath.Join(t.TempDir(), "absent", "api.h")})
	assert.Error(t, err)
}
