package scheduler

import "sort"

// FDKind separates descriptor readiness tables.
type FDKind uint8

const (
	// FileFD descriptors are dispatched when the event loop is notified.
	FileFD FDKind = iota

	// SocketFD descriptors are dispatched when their interest is satisfied:
	// WantWrite at once, WantRead on notification.
	SocketFD
)

// Event is a readiness interest on a descriptor.
type Event uint8

const (
	WantRead Event = 1 << iota
	WantWrite
	EventError
)

func (e Event) String() string {
	switch e {
	case WantRead:
		return "want_read"
	case WantWrite:
		return "want_write"
	case EventError:
		return "error"
	case WantRead | WantWrite:
		return "want_read|want_write"
	default:
		return "none"
	}
}

// Interest is a snapshot of one descriptor's registered event.
type Interest struct {
	FD    int
	Event Event
}

type fdEntry struct {
	fd     int
	event  Event
	handle Handle
	read   Handle
}

func (s *Scheduler) table(kind FDKind) map[int]*fdEntry {
	if kind == SocketFD {
		return s.sockets
	}
	return s.files
}

// RegisterFD adds a descriptor with a read handle. The descriptor starts
// with a WantRead interest and readHandle becomes its default continuation.
func (s *Scheduler) RegisterFD(kind FDKind, fd int, readHandle Handle) error {
	if readHandle == nil {
		return ErrUnsetHandle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(kind)
	if _, exists := t[fd]; exists {
		return ErrAlreadyRegistered
	}
	t[fd] = &fdEntry{fd: fd, event: WantRead, handle: readHandle, read: readHandle}
	return nil
}

// UnregisterFD removes a descriptor and its pending continuation.
func (s *Scheduler) UnregisterFD(kind FDKind, fd int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(kind)
	if _, exists := t[fd]; !exists {
		return ErrNotFound
	}
	delete(t, fd)
	return nil
}

// ContinueWhenEvtOnSocket replaces a socket's interest and continuation.
// The continuation runs once when the event is observed; the socket then
// falls back to WantRead with its read handle.
func (s *Scheduler) ContinueWhenEvtOnSocket(fd int, ev Event, h Handle) error {
	if h == nil {
		return ErrUnsetHandle
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.sockets[fd]
	if !ok {
		return ErrNotFound
	}
	e.event = ev
	e.handle = h
	s.signalLocked()
	return nil
}

// UpdateEventOnFD runs the continuation of a descriptor whose interest has
// been satisfied. Socket descriptors are reset to WantRead with their read
// handle before the continuation runs, so the continuation may re-arm.
//
// A missing descriptor yields ErrNotFound without stopping the scheduler.
func (s *Scheduler) UpdateEventOnFD(kind FDKind, fd int) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	e, ok := s.table(kind)[fd]
	if !ok {
		s.mu.Unlock()
		s.logger.Debug("scheduler: event on unknown descriptor", "fd", fd)
		return ErrNotFound
	}
	h := e.handle
	if kind == SocketFD {
		e.event = WantRead
		e.handle = e.read
	}
	s.mu.Unlock()

	err := h()
	if err != nil && isFatal(err) {
		s.logger.Error("scheduler: fatal error while processing descriptor event", "fd", fd, "error", err)
	}
	return err
}

// Interests returns the registered descriptors of a kind ordered by fd.
func (s *Scheduler) Interests(kind FDKind) []Interest {
	s.mu.Lock()
	defer s.mu.Unlock()

	t := s.table(kind)
	out := make([]Interest, 0, len(t))
	for fd, e := range t {
		out = append(out, Interest{FD: fd, Event: e.event})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FD < out[j].FD })
	return out
}

func (s *Scheduler) signalLocked() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}
