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

// =============================================================================
// Configuration
// =============================================================================

func TestNew_Validation(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	file := filepath.Join(dir, "a.py")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	_, err := New(Config{})
	assert.ErrorIs(t, err, ErrNoPathsConfigured)

	_, err = New(Config{Paths: []string{filepath.Join(dir, "missing")}})
	assert.ErrorIs(t, err, ErrPathNotExist)

	_, err = New(Config{Paths: []string{file}})
	assert.ErrorIs(t, err, ErrPathNotDirectory)

	_, err = New(Config{Paths: []string{dir}, Excludes: []string{"["}})
	assert.ErrorIs(t, err, ErrInvalidPattern)
}

func TestExcluded(t *testing.T) {
	t.Parallel()
	w, err := New(Config{Paths: []string{t.TempDir()}, Excludes: []string{"**/.git/**", "**/__pycache__/**", "**.pyc"}})
	require.NoError(t, err)
	t.Cleanup(w.Stop)

	assert.True(t, w.Excluded("/proj/.git"))
	assert.True(t, w.Excluded("/proj/.git/objects/ab"))
	assert.True(t, w.Excluded("/proj/pkg/__pycache__/mod.cpython-312.pyc"))
	assert.True(t, w.Excluded("/proj/mod.pyc"))
	assert.False(t, w.Excluded("/proj/pkg/mod.py"))
}

func TestOp_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "change", OpChange.String())
	assert.Equal(t, "delete", OpDelete.String())
	assert.Equal(t, "rename", OpRename.String())
}

// =============================================================================
// Events
// =============================================================================

func nextEvent(t *testing.T, events <-chan Event, path string) Event {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-events:
			require.True(t, ok, "event channel closed")
			if ev.Path == path {
				return ev
			}
		case <-deadline:
			require.FailNow(t, "no event", path)
		}
	}
}

func TestWatcher_CreateChangeDelete(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := New(Config{Paths: []string{dir}, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	events, err := w.Start(ctx)
	require.NoError(t, err)

	path := filepath.Join(dir, "mod.py")
	require.NoError(t, os.WriteFile(path, []byte("X = 1\n"), 0o644))
	assert.Equal(t, OpCreate, nextEvent(t, events, path).Op)

	require.NoError(t, os.WriteFile(path, []byte("X = 2\n"), 0o644))
	assert.Equal(t, OpChange, nextEvent(t, events, path).Op)

	require.NoError(t, os.Remove(path))
	assert.Equal(t, OpDelete, nextEvent(t, events, path).Op)
}

func TestWatcher_NewDirectoryIsWatched(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	w, err := New(Config{Paths: []string{dir}, Debounce: 20 * time.Millisecond})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	events, err := w.Start(ctx)
	require.NoError(t, err)

	pkg := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(pkg, 0o755))
	nextEvent(t, events, pkg)

	initPath := filepath.Join(pkg, "__init__.py")
	require.NoError(t, os.WriteFile(initPath, nil, 0o644))
	assert.Equal(t, OpCreate, nextEvent(t, events, initPath).Op)
}

func TestWatcher_StopClosesChannel(t *testing.T) {
	t.Parallel()
	w, err := New(Config{Paths: []string{t.TempDir()}})
	require.NoError(t, err)
	events, err := w.Start(context.Background())
	require.NoError(t, err)

	_, err = w.Start(context.Background())
	assert.ErrorIs(t, err, ErrStarted)

	w.Stop()
	w.Stop()
	select {
	case _, ok := <-events:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("channel not closed")
	}
}
