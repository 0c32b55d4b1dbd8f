package scheduler

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// Tick is a point on the scheduler's monotonic timeline.
// The caller decides what one tick means; the event loop uses one second.
type Tick int64

// Handle is a unit of deferred work. A nil Handle is "unset" and is
// rejected wherever a handle is accepted.
type Handle func() error

// Logger is the logging interface used by the scheduler.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithLogger sets the logger used for handle failures.
func WithLogger(l Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithLimits caps the ready queue and the timer collection.
// Enqueue operations beyond a cap fail with ErrOutOfMemory. Zero means unbounded.
func WithLimits(maxReady, maxTimers int) Option {
	return func(s *Scheduler) {
		s.maxReady = maxReady
		s.maxTimers = maxTimers
	}
}

// Scheduler is a single-threaded cooperative runtime.
//
// It holds a FIFO queue of ready handles, an unordered collection of timed
// handles keyed by absolute tick, a one-shot on-empty hook and readiness
// tables for file and socket descriptors. Nothing runs until Step is called;
// Step executes every handle on the calling goroutine.
//
// Thread Safety:
//   - RunNow, Wake, Stop and the query methods are safe for concurrent use.
//   - Step and the descriptor dispatch methods must be called from a single
//     goroutine (the event loop).
type Scheduler struct {
	mu sync.Mutex

	current Tick
	ready   []Handle
	timers  []*Timer
	seq     uint64
	onEmpty Handle

	sockets map[int]*fdEntry
	files   map[int]*fdEntry

	maxReady  int
	maxTimers int

	wake    chan struct{}
	stopped bool
	err     error

	logger Logger
}

// New creates an idle scheduler positioned at tick zero.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		sockets: make(map[int]*fdEntry),
		files:   make(map[int]*fdEntry),
		wake:    make(chan struct{}, 1),
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// RunNow appends h to the ready queue. It runs during the next Step,
// after any timers that are due.
func (s *Scheduler) RunNow(h Handle) error {
	if h == nil {
		s.logger.Error("scheduler: run now called with unset handle")
		return ErrUnsetHandle
	}

	s.mu.Lock()
	if s.maxReady > 0 && len(s.ready) >= s.maxReady {
		s.mu.Unlock()
		return ErrOutOfMemory
	}
	s.ready = append(s.ready, h)
	s.mu.Unlock()

	s.signal()
	return nil
}

// ScheduleIn arranges for h to run once delay ticks after the current step.
// The returned Timer can be cancelled or restarted until it fires.
func (s *Scheduler) ScheduleIn(delay Tick, h Handle) (*Timer, error) {
	if h == nil {
		s.logger.Error("scheduler: schedule in called with unset handle")
		return nil, ErrUnsetHandle
	}
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	if s.maxTimers > 0 && len(s.timers) >= s.maxTimers {
		s.mu.Unlock()
		return nil, ErrOutOfMemory
	}
	s.seq++
	t := &Timer{
		s:      s,
		handle: h,
		at:     s.current + delay,
		seq:    s.seq,
		live:   true,
	}
	s.timers = append(s.timers, t)
	s.mu.Unlock()

	s.signal()
	return t, nil
}

// Cancel removes a live timer. It returns ErrNotFound if the timer has
// already fired or been cancelled.
func (s *Scheduler) Cancel(t *Timer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfLocked(t)
	if i < 0 {
		return ErrNotFound
	}
	s.removeTimerLocked(i)
	return nil
}

// Restart moves a live timer to delay ticks after the current step,
// keeping its handle. It returns ErrNotFound if the timer is not live.
func (s *Scheduler) Restart(t *Timer, delay Tick) error {
	if delay < 0 {
		delay = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.indexOfLocked(t) < 0 {
		return ErrNotFound
	}
	s.seq++
	t.at = s.current + delay
	t.seq = s.seq
	return nil
}

// ContinueWhenEmpty registers a one-shot hook that runs at the end of a
// Step once no timers remain.
func (s *Scheduler) ContinueWhenEmpty(h Handle) error {
	if h == nil {
		return ErrUnsetHandle
	}
	s.mu.Lock()
	s.onEmpty = h
	s.mu.Unlock()
	return nil
}

// Step advances the scheduler to now and runs everything that is due.
//
// In order it:
//  1. records now as the current step
//  2. runs every timer whose tick has arrived, earliest first, removing each
//     before it runs
//  3. drains the ready queue, including handles enqueued during the drain
//  4. runs the on-empty hook once if no timers remain
//
// A fatal result from a timed handle stops the scheduler.
func (s *Scheduler) Step(now Tick) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	if now > s.current {
		s.current = now
	}
	s.mu.Unlock()

	for {
		s.mu.Lock()
		t := s.popDueLocked()
		s.mu.Unlock()
		if t == nil {
			break
		}

		if err := t.handle(); err != nil {
			if isFatal(err) {
				s.logger.Error("scheduler: fatal error while processing timed event", "error", err)
				s.stopWith(err)
				return
			}
			s.logger.Debug("scheduler: timed event returned error", "error", err)
		}
	}

	for s.runOne() {
	}

	s.mu.Lock()
	if len(s.timers) == 0 && s.onEmpty != nil {
		h := s.onEmpty
		s.onEmpty = nil
		s.mu.Unlock()

		if err := h(); err != nil {
			s.logger.Debug("scheduler: on-empty hook returned error", "error", err)
		}
		return
	}
	s.mu.Unlock()
}

// runOne pops and runs the head of the ready queue.
func (s *Scheduler) runOne() bool {
	s.mu.Lock()
	if len(s.ready) == 0 || s.stopped {
		s.mu.Unlock()
		return false
	}
	h := s.ready[0]
	s.ready[0] = nil
	s.ready = s.ready[1:]
	s.mu.Unlock()

	if err := h(); err != nil {
		if isFatal(err) {
			s.logger.Error("scheduler: error while processing ready handle", "error", err)
		} else {
			s.logger.Debug("scheduler: ready handle returned error", "error", err)
		}
	}
	return true
}

// Now returns the current step.
func (s *Scheduler) Now() Tick {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

// NextDeadline returns the tick of the earliest live timer.
func (s *Scheduler) NextDeadline() (Tick, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.timers) == 0 {
		return 0, false
	}
	min := s.timers[0].at
	for _, t := range s.timers[1:] {
		if t.at < min {
			min = t.at
		}
	}
	return min, true
}

// Pending returns the number of ready handles and live timers.
func (s *Scheduler) Pending() (ready, timers int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready), len(s.timers)
}

// Wake returns a channel that receives a value whenever work is enqueued.
func (s *Scheduler) Wake() <-chan struct{} {
	return s.wake
}

// Stop prevents any further Step from running handles.
func (s *Scheduler) Stop() {
	s.stopWith(nil)
}

// Stopped reports whether the scheduler has been stopped.
func (s *Scheduler) Stopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}

// Err returns the fatal error that stopped the scheduler, if any.
func (s *Scheduler) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Scheduler) stopWith(err error) {
	s.mu.Lock()
	s.stopped = true
	if s.err == nil {
		s.err = err
	}
	s.mu.Unlock()
	s.signal()
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// popDueLocked removes and returns the earliest due timer, or nil.
// Timers sharing a tick fire in the order they were armed.
func (s *Scheduler) popDueLocked() *Timer {
	best := -1
	for i, t := range s.timers {
		if t.at > s.current {
			continue
		}
		if best < 0 || t.at < s.timers[best].at ||
			(t.at == s.timers[best].at && t.seq < s.timers[best].seq) {
			best = i
		}
	}
	if best < 0 {
		return nil
	}
	t := s.timers[best]
	s.removeTimerLocked(best)
	return t
}

func (s *Scheduler) indexOfLocked(t *Timer) int {
	if t == nil {
		return -1
	}
	for i, candidate := range s.timers {
		if candidate == t {
			return i
		}
	}
	return -1
}

func (s *Scheduler) removeTimerLocked(i int) {
	t := s.timers[i]
	last := len(s.timers) - 1
	s.timers[i] = s.timers[last]
	s.timers[last] = nil
	s.timers = s.timers[:last]
	t.live = false
}

// isFatal reports whether a handle error must stop the scheduler.
func isFatal(err error) bool {
	if errors.Is(err, ErrUnsetHandle) || errors.Is(err, ErrOutOfMemory) {
		return true
	}
	var code status.Code
	if errors.As(err, &code) {
		return code.IsFatal()
	}
	return false
}

// Timer is a handle to a pending timed event.
type Timer struct {
	s      *Scheduler
	handle Handle
	at     Tick
	seq    uint64
	live   bool
}

// Live reports whether the timer is still waiting to fire.
func (t *Timer) Live() bool {
	if t == nil {
		return false
	}
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.live
}

// Deadline returns the tick at which the timer fires.
func (t *Timer) Deadline() Tick {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	return t.at
}
