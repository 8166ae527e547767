package watch

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// MaxDelay caps the continuation window.
	MaxDelay = 15 * time.Second
	// ForcedDelay is the minimum window of a full reload or of a burst.
	ForcedDelay = 4 * time.Second
	// BurstThreshold is the number of process requests within one window
	// past which the window is widened to ForcedDelay.
	BurstThreshold = 20
)

// MessageKind tags a Debouncer message.
type MessageKind int

const (
	// MsgProcess asks for a drain once the window closes.
	MsgProcess MessageKind = iota
	// MsgRebuild asks for a full reload once the window closes.
	MsgRebuild
	// MsgUpdateDelay changes the window.
	MsgUpdateDelay
	// MsgExit stops the loop.
	MsgExit
)

func (k MessageKind) String() string {
	switch k {
	case MsgProcess:
		return "process"
	case MsgRebuild:
		return "rebuild"
	case MsgUpdateDelay:
		return "update_delay"
	case MsgExit:
		return "exit"
	}
	return "unknown"
}

// Message is one request to the Debouncer.
type Message struct {
	Kind  MessageKind
	At    time.Time
	Delay time.Duration
}

// DebouncerOption configures a Debouncer.
type DebouncerOption func(*Debouncer)

// WithDebouncerLogger sets the debouncer logger.
func WithDebouncerLogger(l *slog.Logger) DebouncerOption {
	return func(d *Debouncer) { d.logger = l }
}

// WithForcedDelay overrides ForcedDelay.
func WithForcedDelay(delay time.Duration) DebouncerOption {
	return func(d *Debouncer) { d.forced = delay }
}

// WithBurstThreshold overrides BurstThreshold.
func WithBurstThreshold(n int) DebouncerOption {
	return func(d *Debouncer) { d.burst = n }
}

// Debouncer coalesces process and rebuild requests: the first request
// opens a window, later ones push its end, and when it closes run is
// called once with full set if any request in the window was a rebuild.
//
// Process, Rebuild and UpdateDelay never block: when the request buffer is
// full the request folds into the ones already pending.
type Debouncer struct {
	run    func(full bool)
	delay  atomic.Int64
	forced time.Duration
	burst  int
	logger *slog.Logger

	// rebuild is set by Rebuild until a run consumes it, so a dropped
	// rebuild message still makes the next run full.
	rebuild atomic.Bool

	ch   chan Message
	done chan struct{}
}

// NewDebouncer creates a Debouncer with the given window. Run must be
// started for requests to be served.
func NewDebouncer(delay time.Duration, run func(full bool), opts ...DebouncerOption) *Debouncer {
	d := &Debouncer{
		run:    run,
		forced: ForcedDelay,
		burst:  BurstThreshold,
		logger: slog.Default(),
		ch:     make(chan Message, 256),
		done:   make(chan struct{}),
	}
	for _, o := range opts {
		o(d)
	}
	d.delay.Store(int64(ClampDelay(delay)))
	return d
}

// ClampDelay bounds delay to [0, MaxDelay].
func ClampDelay(delay time.Duration) time.Duration {
	return min(max(delay, 0), MaxDelay)
}

// Delay returns the configured window.
func (d *Debouncer) Delay() time.Duration { return time.Duration(d.delay.Load()) }

func (d *Debouncer) send(m Message) {
	select {
	case d.ch <- m:
	case <-d.done:
	}
}

// offer queues m unless the buffer is full.
func (d *Debouncer) offer(m Message) {
	select {
	case d.ch <- m:
	default:
	}
}

// Process requests a drain.
func (d *Debouncer) Process() { d.offer(Message{Kind: MsgProcess, At: time.Now()}) }

// Rebuild requests a full reload.
func (d *Debouncer) Rebuild() {
	d.rebuild.Store(true)
	d.offer(Message{Kind: MsgRebuild, At: time.Now()})
}

// UpdateDelay changes the window of the next requests.
func (d *Debouncer) UpdateDelay(delay time.Duration) {
	delay = ClampDelay(delay)
	d.delay.Store(int64(delay))
	d.offer(Message{Kind: MsgUpdateDelay, Delay: delay})
}

// Exit stops Run.
func (d *Debouncer) Exit() { d.send(Message{Kind: MsgExit}) }

// Run serves requests until ctx is done or Exit is received.
func (d *Debouncer) Run(ctx context.Context) {
	defer close(d.done)
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-d.ch:
			switch m.Kind {
			case MsgExit:
				return
			case MsgUpdateDelay:
			case MsgProcess, MsgRebuild:
				if !d.window(ctx, m) {
					return
				}
			}
		}
	}
}

// window waits for the window opened by first to close, then runs. It
// returns false when the loop must stop.
func (d *Debouncer) window(ctx context.Context, first Message) bool {
	full := first.Kind == MsgRebuild
	delay := d.Delay()
	if full {
		delay = max(delay, d.forced)
	}
	last := first.At
	count := 1
	timer := time.NewTimer(time.Until(last.Add(delay)))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timer.C:
			if d.rebuild.Swap(false) {
				full = true
			}
			d.logger.Debug("watch: continuation", "full", full, "requests", count)
			d.run(full)
			return true
		case m := <-d.ch:
			switch m.Kind {
			case MsgExit:
				return false
			case MsgUpdateDelay:
				delay = d.Delay()
				continue
			case MsgRebuild:
				full = true
				delay = max(d.Delay(), d.forced)
			case MsgProcess:
				count++
				if count > d.burst {
					delay = max(delay, d.forced)
				}
			}
			if m.At.After(last) {
				last = m.At
			}
			timer.Reset(time.Until(last.Add(delay)))
		}
	}
}
