package watch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RequiresFiles(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)
}

func TestWatcher_DebouncesBurst(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)

	rlog := filepath.Join(dir, "rlog.ndjson")
	cfg := filepath.Join(dir, "services.toml")
	other := filepath.Join(dir, "unrelated.txt")
	for _, f := range []string{rlog, cfg, other} {
		require.NoError(t, os.WriteFile(f, []byte("x"), 0o644))
	}

	w, err := New(Config{Files: []string{rlog, cfg}, Debounce: 50 * time.Millisecond})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		calls [][]string
	)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, changed []string) {
			mu.Lock()
			calls = append(calls, changed)
			mu.Unlock()
		})
	}()

	// give fsnotify time to register the directory
	time.Sleep(100 * time.Millisecond)

	require.NoError(t, os.WriteFile(other, []byte("y"), 0o644))
	for i := 0; i < 3; i++ {
		require.NoError(t, os.WriteFile(rlog, []byte("y"), 0o644))
	}
	require.NoError(t, os.WriteFile(cfg, []byte("y"), 0o644))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(calls) >= 1
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(150 * time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{rlog, cfg}, calls[0])
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w, err := New(Config{Files: []string{filepath.Join(t.TempDir(), "nope", "rlog.ndjson")}})
	require.NoError(t, err)

	err = w.Run(context.Background(), func(context.Context, []string) {})
	assert.Error(t, err)
}

func TestWatcher_DebounceFollowsClock(t *testing.T) {
	dir, err := filepath.EvalSymlinks(t.TempDir())
	require.NoError(t, err)
	rlog := filepath.Join(dir, "rlog.ndjson")
	require.NoError(t, os.WriteFile(rlog, []byte("x"), 0o644))

	mock := clock.NewMock()
	w, err := New(Config{Files: []string{rlog}, Debounce: time.Minute, Clock: mock})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		calls [][]string
	)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func(_ context.Context, changed []string) {
			mu.Lock()
			calls = append(calls, changed)
			mu.Unlock()
		})
	}()

	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(rlog, []byte("y"), 0o644))

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return w.pending[rlog]
	}, 5*time.Second, 10*time.Millisecond)

	time.Sleep(50 * time.Millisecond)
	mu.Lock()
	assert.Empty(t, calls, "no call before the debounce elapses")
	mu.Unlock()

	require.Eventually(t, func() bool {
		mock.Add(time.Minute)
		mu.Lock()
		defer mu.Unlock()
		return len(calls) == 1
	}, 5*time.Second, 10*time.Millisecond)

	mu.Lock()
	assert.Equal(t, []string{rlog}, calls[0])
	mu.Unlock()

	cancel()
	require.NoError(t, <-done)
}
