// Package eventloop drives a scheduler from wall-clock time and descriptor
// notifications.
//
// The scheduler itself never blocks and never reads a clock. The loop maps
// elapsed time onto ticks, steps the scheduler, dispatches descriptors
// whose readiness was signalled, and sleeps until the next timer, the next
// enqueued handle or the next notification.
//
// Thread Safety:
//   - Notify is safe for concurrent use; connection goroutines call it.
//   - Run and RunOnce must not be called concurrently.
package eventloop

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
)

// defaultTick is the wall-clock length of one scheduler tick.
const defaultTick = time.Second

// Logger is the logging interface used by the loop.
type Logger interface {
	Debug(msg string, args ...any)
}

// Option configures a Loop.
type Option func(*Loop)

// WithTick sets the length of one tick.
func WithTick(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.tick = d
		}
	}
}

// WithClock replaces the wall clock.
func WithClock(now func() time.Time) Option {
	return func(l *Loop) {
		if now != nil {
			l.now = now
		}
	}
}

// WithLogger sets the loop logger.
func WithLogger(lg Logger) Option {
	return func(l *Loop) {
		if lg != nil {
			l.logger = lg
		}
	}
}

type fdKey struct {
	kind scheduler.FDKind
	fd   int
}

// Loop runs one scheduler.
type Loop struct {
	sched  *scheduler.Scheduler
	tick   time.Duration
	now    func() time.Time
	start  time.Time
	logger Logger

	mu       sync.Mutex
	notified map[fdKey]struct{}
	signal   chan struct{}
}

// New creates a loop for sched. Tick zero is the moment New is called.
func New(sched *scheduler.Scheduler, opts ...Option) *Loop {
	l := &Loop{
		sched:    sched,
		tick:     defaultTick,
		now:      time.Now,
		logger:   slog.New(slog.DiscardHandler),
		notified: make(map[fdKey]struct{}),
		signal:   make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.start = l.now()
	return l
}

// TickDuration returns the length of one tick.
func (l *Loop) TickDuration() time.Duration {
	return l.tick
}

// Tick returns the tick the wall clock is currently in.
func (l *Loop) Tick() scheduler.Tick {
	return scheduler.Tick(l.now().Sub(l.start) / l.tick)
}

// Notify marks a descriptor ready. Its handle runs on the loop goroutine
// during the next pass.
func (l *Loop) Notify(kind scheduler.FDKind, fd int) {
	l.mu.Lock()
	l.notified[fdKey{kind: kind, fd: fd}] = struct{}{}
	l.mu.Unlock()

	select {
	case l.signal <- struct{}{}:
	default:
	}
}

// Run steps the scheduler until it stops or ctx is done. It returns the
// scheduler's fatal error, nil after a clean Stop, or ctx.Err().
func (l *Loop) Run(ctx context.Context) error {
	for {
		if done := l.RunOnce(); done {
			return l.sched.Err()
		}

		if l.busy() {
			if err := ctx.Err(); err != nil {
				return err
			}
			continue
		}

		timer := time.NewTimer(l.wait())
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-l.sched.Wake():
		case <-l.signal:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// RunOnce performs a single pass: step the scheduler at the current tick,
// then dispatch ready descriptors. It reports whether the scheduler has
// stopped.
func (l *Loop) RunOnce() bool {
	l.sched.Step(l.Tick())
	if l.sched.Stopped() {
		return true
	}
	l.dispatch()
	return l.sched.Stopped()
}

// busy reports whether another pass has work without waiting.
func (l *Loop) busy() bool {
	if ready, _ := l.sched.Pending(); ready > 0 {
		return true
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.notified) > 0
}

// wait returns how long the loop may sleep before the next timer is due.
// Without timers it wakes once per tick.
func (l *Loop) wait() time.Duration {
	at, ok := l.sched.NextDeadline()
	if !ok {
		return l.tick
	}
	d := l.start.Add(time.Duration(at) * l.tick).Sub(l.now())
	if d < 0 {
		return 0
	}
	return d
}

// dispatch runs the handle of every descriptor whose interest is
// satisfied. Sockets waiting for writability are always writable: the
// transport writes through a buffered goroutine. Sockets waiting for
// reads, and files, run only when notified. A read notification on a
// socket that was dispatched for writing is kept for the next pass.
func (l *Loop) dispatch() {
	l.mu.Lock()
	notified := l.notified
	l.notified = make(map[fdKey]struct{})
	l.mu.Unlock()

	var kept []fdKey
	for _, in := range l.sched.Interests(scheduler.SocketFD) {
		key := fdKey{kind: scheduler.SocketFD, fd: in.FD}
		_, hit := notified[key]
		delete(notified, key)

		switch {
		case in.Event&scheduler.WantWrite != 0:
			l.update(key)
			if hit {
				kept = append(kept, key)
			}
		case in.Event&scheduler.WantRead != 0 && hit:
			l.update(key)
		}
	}

	for _, in := range l.sched.Interests(scheduler.FileFD) {
		key := fdKey{kind: scheduler.FileFD, fd: in.FD}
		if _, hit := notified[key]; hit {
			delete(notified, key)
			l.update(key)
		}
	}

	for key := range notified {
		l.logger.Debug("eventloop: notification for unregistered descriptor", "fd", key.fd)
	}

	if len(kept) > 0 {
		l.mu.Lock()
		for _, key := range kept {
			l.notified[key] = struct{}{}
		}
		l.mu.Unlock()
	}
}

func (l *Loop) update(key fdKey) {
	err := l.sched.UpdateEventOnFD(key.kind, key.fd)
	if err != nil && !errors.Is(err, scheduler.ErrNotFound) {
		l.logger.Debug("eventloop: descriptor handle failed", "fd", key.fd, "error", err)
	}
}
