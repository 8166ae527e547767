package watch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recorder collects the continuations a Debouncer runs.
type recorder struct {
	mu   sync.Mutex
	runs []bool
	ch   chan bool
}

func newRecorder() *recorder { return &recorder{ch: make(chan bool, 16)} }

func (r *recorder) run(full bool) {
	r.mu.Lock()
	r.runs = append(r.runs, full)
	r.mu.Unlock()
	r.ch <- full
}

func (r *recorder) wait(t *testing.T) bool {
	t.Helper()
	select {
	case full := <-r.ch:
		return full
	case <-time.After(5 * time.Second):
		require.FailNow(t, "continuation did not run")
	}
	return false
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.runs)
}

func startDebouncer(t *testing.T, delay time.Duration, opts ...DebouncerOption) (*Debouncer, *recorder) {
	t.Helper()
	r := newRecorder()
	d := NewDebouncer(delay, r.run, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	go d.Run(ctx)
	t.Cleanup(cancel)
	return d, r
}

// =============================================================================
// Windows
// =============================================================================

func TestDebouncer_CoalescesRequests(t *testing.T) {
	t.Parallel()
	d, r := startDebouncer(t, 50*time.Millisecond)
	for range 5 {
		d.Process()
	}
	assert.False(t, r.wait(t))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 1, r.count())
}

func TestDebouncer_RebuildWinsWindow(t *testing.T) {
	t.Parallel()
	d, r := startDebouncer(t, 20*time.Millisecond, WithForcedDelay(40*time.Millisecond))
	start := time.Now()
	d.Process()
	d.Rebuild()
	assert.True(t, r.wait(t))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
}

func TestDebouncer_BurstWidensWindow(t *testing.T) {
	t.Parallel()
	d, r := startDebouncer(t, 10*time.Millisecond,
		WithBurstThreshold(3), WithForcedDelay(150*time.Millisecond))
	start := time.Now()
	for range 5 {
		d.Process()
	}
	assert.False(t, r.wait(t))
	assert.GreaterOrEqual(t, time.Since(start), 150*time.Millisecond)
}

func TestDebouncer_SeparateWindows(t *testing.T) {
	t.Parallel()
	d, r := startDebouncer(t, 10*time.Millisecond)
	d.Process()
	r.wait(t)
	d.Process()
	r.wait(t)
	assert.Equal(t, 2, r.count())
}

// =============================================================================
// Control messages
// =============================================================================

func TestDebouncer_UpdateDelay(t *testing.T) {
	t.Parallel()
	d, r := startDebouncer(t, time.Hour)
	assert.Equal(t, MaxDelay, d.Delay())
	d.UpdateDelay(10 * time.Millisecond)
	d.Process()
	r.wait(t)
}

func TestDebouncer_ExitStopsRun(t *testing.T) {
	t.Parallel()
	r := newRecorder()
	d := NewDebouncer(time.Hour, r.run)
	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	d.Process()
	d.Exit()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	assert.Zero(t, r.count())

	// Requests after exit do not block.
	d.Process()
}

func TestDebouncer_RequestsNeverBlockWhenBufferFull(t *testing.T) {
	t.Parallel()
	r := newRecorder()
	d := NewDebouncer(10*time.Millisecond, r.run, WithForcedDelay(10*time.Millisecond))
	sent := make(chan struct{})
	go func() {
		for range 1000 {
			d.Process()
		}
		d.Rebuild()
		d.UpdateDelay(20 * time.Millisecond)
		close(sent)
	}()
	select {
	case <-sent:
	case <-time.After(5 * time.Second):
		t.Fatal("requests blocked while Run was not serving")
	}
	assert.Equal(t, 20*time.Millisecond, d.Delay())

	// The rebuild was dropped from the buffer but still makes the run full.
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go d.Run(ctx)
	assert.True(t, r.wait(t))
}

func TestClampDelay(t *testing.T) {
	t.Parallel()
	assert.Equal(t, time.Duration(0), ClampDelay(-time.Second))
	assert.Equal(t, time.Second, ClampDelay(time.Second))
	assert.Equal(t, MaxDelay, ClampDelay(time.Minute))
}

func TestMessageKind_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "process", MsgProcess.String())
	assert.Equal(t, "rebuild", MsgRebuild.String())
	assert.Equal(t, "update_delay", MsgUpdateDelay.String())
	assert.Equal(t, "exit", MsgExit.String())
}
