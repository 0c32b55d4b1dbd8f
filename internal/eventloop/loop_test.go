package eventloop

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ====================================================================
// Clock
// ====================================================================

func TestLoop_Tick(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	l := New(scheduler.New(), WithClock(clock.Now), WithTick(100*time.Millisecond))

	if got := l.Tick(); got != 0 {
		t.Errorf("Tick() = %d, want 0", got)
	}
	clock.Advance(250 * time.Millisecond)
	if got := l.Tick(); got != 2 {
		t.Errorf("Tick() = %d, want 2", got)
	}
	if got := l.TickDuration(); got != 100*time.Millisecond {
		t.Errorf("TickDuration() = %v, want 100ms", got)
	}
}

func TestLoop_RunOnceFiresDueTimers(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1000, 0)}
	s := scheduler.New()
	l := New(s, WithClock(clock.Now))

	fired := 0
	if _, err := s.ScheduleIn(3, func() error {
		fired++
		return nil
	}); err != nil {
		t.Fatalf("ScheduleIn() error = %v", err)
	}

	clock.Advance(2 * time.Second)
	l.RunOnce()
	if fired != 0 {
		t.Errorf("fired at tick 2 = %d, want 0", fired)
	}
	clock.Advance(time.Second)
	l.RunOnce()
	if fired != 1 {
		t.Errorf("fired at tick 3 = %d, want 1", fired)
	}
}

// ====================================================================
// Descriptor dispatch
// ====================================================================

func TestLoop_DispatchSockets(t *testing.T) {
	s := scheduler.New()
	l := New(s)

	var log []string
	read := func() error {
		log = append(log, "read")
		return nil
	}
	if err := s.RegisterFD(scheduler.SocketFD, 5, read); err != nil {
		t.Fatalf("RegisterFD() error = %v", err)
	}

	// WantRead without a notification does nothing.
	l.RunOnce()
	if len(log) != 0 {
		t.Fatalf("log = %v, want empty", log)
	}

	l.Notify(scheduler.SocketFD, 5)
	l.RunOnce()
	if len(log) != 1 || log[0] != "read" {
		t.Fatalf("log = %v, want [read]", log)
	}

	// Writability is dispatched without a notification; a read
	// notification arriving meanwhile runs on the following pass.
	_ = s.ContinueWhenEvtOnSocket(5, scheduler.WantWrite, func() error {
		log = append(log, "write")
		return nil
	})
	l.Notify(scheduler.SocketFD, 5)
	l.RunOnce()
	if got := len(log); got != 2 || log[1] != "write" {
		t.Fatalf("log = %v, want [read write]", log)
	}
	l.RunOnce()
	if got := len(log); got != 3 || log[2] != "read" {
		t.Fatalf("log = %v, want [read write read]", log)
	}
}

func TestLoop_DispatchFiles(t *testing.T) {
	s := scheduler.New()
	l := New(s)

	reads := 0
	_ = s.RegisterFD(scheduler.FileFD, 2, func() error {
		reads++
		return nil
	})

	l.RunOnce()
	if reads != 0 {
		t.Errorf("reads without notification = %d, want 0", reads)
	}
	l.Notify(scheduler.FileFD, 2)
	l.Notify(scheduler.FileFD, 99)
	l.RunOnce()
	if reads != 1 {
		t.Errorf("reads = %d, want 1", reads)
	}
	if l.busy() {
		t.Error("busy() = true, want unregistered notification dropped")
	}
}

// ====================================================================
// Run
// ====================================================================

func TestLoop_RunStopsWithScheduler(t *testing.T) {
	s := scheduler.New()
	l := New(s, WithTick(10*time.Millisecond))

	if _, err := s.ScheduleIn(2, func() error {
		s.Stop()
		return nil
	}); err != nil {
		t.Fatalf("ScheduleIn() error = %v", err)
	}

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("Run() returned after %v, want at least two ticks", elapsed)
	}
}

func TestLoop_RunWakesOnNotify(t *testing.T) {
	s := scheduler.New()
	l := New(s, WithTick(time.Hour))

	_ = s.RegisterFD(scheduler.SocketFD, 1, func() error {
		s.Stop()
		return nil
	})
	go func() {
		time.Sleep(10 * time.Millisecond)
		l.Notify(scheduler.SocketFD, 1)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}

func TestLoop_RunWakesOnRunNow(t *testing.T) {
	s := scheduler.New()
	l := New(s, WithTick(time.Hour))

	go func() {
		time.Sleep(10 * time.Millisecond)
		_ = s.RunNow(func() error {
			s.Stop()
			return nil
		})
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.Run(ctx); err != nil {
		t.Errorf("Run() error = %v, want nil", err)
	}
}

func TestLoop_RunFatalError(t *testing.T) {
	s := scheduler.New()
	l := New(s)

	_, _ = s.ScheduleIn(0, func() error {
		return status.InternalError.Err()
	})

	err := l.Run(context.Background())
	if !errors.Is(err, status.InternalError) {
		t.Errorf("Run() error = %v, want internal error", err)
	}
}

func TestLoop_RunContextCancelled(t *testing.T) {
	l := New(scheduler.New(), WithTick(time.Hour))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	if err := l.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}
