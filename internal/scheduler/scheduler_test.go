package scheduler

import (
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// record returns a handle that appends name to the log.
func record(log *[]string, name string) Handle {
	return func() error {
		*log = append(*log, name)
		return nil
	}
}

// =============================================================================
// Ready Queue Tests
// =============================================================================

func TestRunNow_FIFO(t *testing.T) {
	s := New()
	var log []string

	for _, name := range []string{"a", "b", "c"} {
		if err := s.RunNow(record(&log, name)); err != nil {
			t.Fatalf("RunNow() error = %v", err)
		}
	}

	s.Step(0)

	want := []string{"a", "b", "c"}
	if len(log) != len(want) {
		t.Fatalf("ran %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestRunNow_UnsetHandle(t *testing.T) {
	s := New()
	if err := s.RunNow(nil); !errors.Is(err, ErrUnsetHandle) {
		t.Errorf("RunNow(nil) error = %v, want ErrUnsetHandle", err)
	}
}

func TestStep_DrainsHandlesEnqueuedDuringDrain(t *testing.T) {
	s := New()
	var log []string

	_ = s.RunNow(func() error {
		log = append(log, "outer")
		return s.RunNow(record(&log, "inner"))
	})

	s.Step(0)

	if len(log) != 2 || log[1] != "inner" {
		t.Errorf("log = %v, want [outer inner]", log)
	}
	if ready, _ := s.Pending(); ready != 0 {
		t.Errorf("Pending() ready = %d, want 0", ready)
	}
}

func TestWithLimits_ReadyQueue(t *testing.T) {
	s := New(WithLimits(1, 0))
	var log []string

	if err := s.RunNow(record(&log, "a")); err != nil {
		t.Fatalf("RunNow() error = %v", err)
	}
	if err := s.RunNow(record(&log, "b")); !errors.Is(err, ErrOutOfMemory) {
		t.Errorf("RunNow() over capacity error = %v, want ErrOutOfMemory", err)
	}
}

func TestWake_SignalledOnEnqueue(t *testing.T) {
	s := New()
	_ = s.RunNow(func() error { return nil })

	select {
	case <-s.Wake():
	default:
		t.Error("Wake() not signalled after RunNow")
	}
}

// =============================================================================
// Timer Tests
// =============================================================================

func TestScheduleIn_FiresInTimeOrder(t *testing.T) {
	s := New()
	var log []string

	_, _ = s.ScheduleIn(3, record(&log, "three"))
	_, _ = s.ScheduleIn(1, record(&log, "one"))
	_, _ = s.ScheduleIn(2, record(&log, "two"))
	_, _ = s.ScheduleIn(1, record(&log, "one-bis"))

	s.Step(0)
	if len(log) != 0 {
		t.Fatalf("timers fired early: %v", log)
	}

	s.Step(5)

	want := []string{"one", "one-bis", "two", "three"}
	if len(log) != len(want) {
		t.Fatalf("ran %v, want %v", log, want)
	}
	for i := range want {
		if log[i] != want[i] {
			t.Errorf("log[%d] = %q, want %q", i, log[i], want[i])
		}
	}
}

func TestScheduleIn_TimersBeforeReadyQueue(t *testing.T) {
	s := New()
	var log []string

	_, _ = s.ScheduleIn(1, record(&log, "timer"))
	s.Step(0)
	_ = s.RunNow(record(&log, "ready"))
	s.Step(1)

	if len(log) != 2 || log[0] != "timer" || log[1] != "ready" {
		t.Errorf("log = %v, want [timer ready]", log)
	}
}

func TestScheduleIn_RelativeToCurrentStep(t *testing.T) {
	s := New()
	s.Step(10)

	timer, err := s.ScheduleIn(5, func() error { return nil })
	if err != nil {
		t.Fatalf("ScheduleIn() error = %v", err)
	}
	if got := timer.Deadline(); got != 15 {
		t.Errorf("Deadline() = %d, want 15", got)
	}

	deadline, ok := s.NextDeadline()
	if !ok || deadline != 15 {
		t.Errorf("NextDeadline() = %d, %v, want 15, true", deadline, ok)
	}
}

func TestCancel(t *testing.T) {
	s := New()
	var log []string

	timer, _ := s.ScheduleIn(1, record(&log, "cancelled"))
	if err := s.Cancel(timer); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}
	if timer.Live() {
		t.Error("Live() = true after Cancel")
	}
	if err := s.Cancel(timer); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Cancel() error = %v, want ErrNotFound", err)
	}

	s.Step(2)
	if len(log) != 0 {
		t.Errorf("cancelled timer ran: %v", log)
	}
}

func TestCancel_AfterFire(t *testing.T) {
	s := New()
	timer, _ := s.ScheduleIn(0, func() error { return nil })
	s.Step(0)

	if err := s.Cancel(timer); !errors.Is(err, ErrNotFound) {
		t.Errorf("Cancel() after fire error = %v, want ErrNotFound", err)
	}
}

func TestRestart(t *testing.T) {
	s := New()
	var log []string

	timer, _ := s.ScheduleIn(2, record(&log, "restarted"))
	s.Step(1)
	if err := s.Restart(timer, 5); err != nil {
		t.Fatalf("Restart() error = %v", err)
	}

	s.Step(3)
	if len(log) != 0 {
		t.Fatalf("timer fired at original deadline: %v", log)
	}

	s.Step(6)
	if len(log) != 1 {
		t.Errorf("timer did not fire after restart: %v", log)
	}

	if err := s.Restart(timer, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("Restart() after fire error = %v, want ErrNotFound", err)
	}
}

func TestTimer_CanRearmItself(t *testing.T) {
	s := New()
	count := 0

	var h Handle
	h = func() error {
		count++
		if count < 3 {
			_, err := s.ScheduleIn(1, h)
			return err
		}
		return nil
	}
	_, _ = s.ScheduleIn(1, h)

	for tick := Tick(1); tick <= 5; tick++ {
		s.Step(tick)
	}

	if count != 3 {
		t.Errorf("count = %d, want 3", count)
	}
}

// =============================================================================
// On-Empty Hook Tests
// =============================================================================

func TestContinueWhenEmpty(t *testing.T) {
	s := New()
	var log []string

	_, _ = s.ScheduleIn(2, record(&log, "timer"))
	if err := s.ContinueWhenEmpty(record(&log, "empty")); err != nil {
		t.Fatalf("ContinueWhenEmpty() error = %v", err)
	}

	s.Step(1)
	if len(log) != 0 {
		t.Fatalf("hook ran while timers remain: %v", log)
	}

	s.Step(2)
	s.Step(3)

	if len(log) != 2 || log[1] != "empty" {
		t.Errorf("log = %v, want [timer empty] with hook run once", log)
	}
}

// =============================================================================
// Fatal Result Tests
// =============================================================================

func TestStep_FatalTimedEventStops(t *testing.T) {
	s := New()
	var log []string

	_, _ = s.ScheduleIn(1, func() error { return status.InternalError })
	_, _ = s.ScheduleIn(2, record(&log, "after"))
	_ = s.RunNow(record(&log, "ready"))

	s.Step(5)

	if !s.Stopped() {
		t.Fatal("Stopped() = false after fatal timed event")
	}
	if !errors.Is(s.Err(), status.InternalError) {
		t.Errorf("Err() = %v, want InternalError", s.Err())
	}
	if len(log) != 0 {
		t.Errorf("handles ran after stop: %v", log)
	}

	s.Step(6)
	if len(log) != 0 {
		t.Errorf("Step ran handles on a stopped scheduler: %v", log)
	}
}

func TestStep_NonFatalTimedEventContinues(t *testing.T) {
	s := New()
	var log []string

	_, _ = s.ScheduleIn(1, func() error { return status.Timeout })
	_, _ = s.ScheduleIn(1, record(&log, "next"))

	s.Step(1)

	if s.Stopped() {
		t.Error("Stopped() = true after non-fatal error")
	}
	if len(log) != 1 {
		t.Errorf("log = %v, want [next]", log)
	}
}

func TestStep_FatalReadyHandleIsLoggedOnly(t *testing.T) {
	s := New()
	var log []string

	_ = s.RunNow(func() error { return status.UnknownMessageID })
	_ = s.RunNow(record(&log, "next"))

	s.Step(0)

	if s.Stopped() {
		t.Error("Stopped() = true after fatal ready handle")
	}
	if len(log) != 1 {
		t.Errorf("log = %v, want [next]", log)
	}
}

func TestStop(t *testing.T) {
	s := New()
	var log []string
	_ = s.RunNow(record(&log, "a"))

	s.Stop()
	s.Step(0)

	if len(log) != 0 {
		t.Errorf("handles ran after Stop: %v", log)
	}
	if s.Err() != nil {
		t.Errorf("Err() = %v, want nil after Stop", s.Err())
	}
}
