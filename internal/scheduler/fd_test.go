package scheduler

import (
	"errors"
	"testing"
)

// =============================================================================
// Descriptor Registration Tests
// =============================================================================

func TestRegisterFD(t *testing.T) {
	s := New()
	read := func() error { return nil }

	if err := s.RegisterFD(SocketFD, 3, read); err != nil {
		t.Fatalf("RegisterFD() error = %v", err)
	}
	if err := s.RegisterFD(SocketFD, 3, read); !errors.Is(err, ErrAlreadyRegistered) {
		t.Errorf("second RegisterFD() error = %v, want ErrAlreadyRegistered", err)
	}
	if err := s.RegisterFD(FileFD, 3, read); err != nil {
		t.Errorf("RegisterFD() same fd as file error = %v, want nil", err)
	}
	if err := s.RegisterFD(SocketFD, 4, nil); !errors.Is(err, ErrUnsetHandle) {
		t.Errorf("RegisterFD(nil) error = %v, want ErrUnsetHandle", err)
	}

	got := s.Interests(SocketFD)
	if len(got) != 1 || got[0].FD != 3 || got[0].Event != WantRead {
		t.Errorf("Interests() = %v, want [{3 want_read}]", got)
	}
}

func TestUnregisterFD(t *testing.T) {
	s := New()
	_ = s.RegisterFD(SocketFD, 3, func() error { return nil })

	if err := s.UnregisterFD(SocketFD, 3); err != nil {
		t.Fatalf("UnregisterFD() error = %v", err)
	}
	if err := s.UnregisterFD(SocketFD, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("second UnregisterFD() error = %v, want ErrNotFound", err)
	}
	if err := s.UpdateEventOnFD(SocketFD, 3); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateEventOnFD() unregistered error = %v, want ErrNotFound", err)
	}
	if s.Stopped() {
		t.Error("Stopped() = true after event on unknown descriptor")
	}
}

// =============================================================================
// Socket Default-Reset Tests
// =============================================================================

func TestUpdateEventOnFD_SocketResetsToRead(t *testing.T) {
	s := New()
	var log []string

	_ = s.RegisterFD(SocketFD, 7, record(&log, "read"))
	if err := s.ContinueWhenEvtOnSocket(7, WantWrite, record(&log, "write")); err != nil {
		t.Fatalf("ContinueWhenEvtOnSocket() error = %v", err)
	}

	if got := s.Interests(SocketFD)[0].Event; got != WantWrite {
		t.Fatalf("Event = %v, want want_write", got)
	}

	if err := s.UpdateEventOnFD(SocketFD, 7); err != nil {
		t.Fatalf("UpdateEventOnFD() error = %v", err)
	}
	if got := s.Interests(SocketFD)[0].Event; got != WantRead {
		t.Errorf("Event after dispatch = %v, want want_read", got)
	}

	_ = s.UpdateEventOnFD(SocketFD, 7)

	if len(log) != 2 || log[0] != "write" || log[1] != "read" {
		t.Errorf("log = %v, want [write read]", log)
	}
}

func TestUpdateEventOnFD_ContinuationCanRearm(t *testing.T) {
	s := New()
	writes := 0

	_ = s.RegisterFD(SocketFD, 7, func() error { return nil })

	var write Handle
	write = func() error {
		writes++
		if writes < 2 {
			return s.ContinueWhenEvtOnSocket(7, WantWrite, write)
		}
		return nil
	}
	_ = s.ContinueWhenEvtOnSocket(7, WantWrite, write)

	_ = s.UpdateEventOnFD(SocketFD, 7)
	if got := s.Interests(SocketFD)[0].Event; got != WantWrite {
		t.Errorf("Event after re-arm = %v, want want_write", got)
	}

	_ = s.UpdateEventOnFD(SocketFD, 7)
	if got := s.Interests(SocketFD)[0].Event; got != WantRead {
		t.Errorf("Event after final write = %v, want want_read", got)
	}
	if writes != 2 {
		t.Errorf("writes = %d, want 2", writes)
	}
}

func TestUpdateEventOnFD_FileKeepsHandle(t *testing.T) {
	s := New()
	count := 0

	_ = s.RegisterFD(FileFD, 1, func() error {
		count++
		return nil
	})

	_ = s.UpdateEventOnFD(FileFD, 1)
	_ = s.UpdateEventOnFD(FileFD, 1)

	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}
}

func TestContinueWhenEvtOnSocket_Errors(t *testing.T) {
	s := New()

	if err := s.ContinueWhenEvtOnSocket(9, WantWrite, func() error { return nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("ContinueWhenEvtOnSocket() unknown fd error = %v, want ErrNotFound", err)
	}

	_ = s.RegisterFD(SocketFD, 9, func() error { return nil })
	if err := s.ContinueWhenEvtOnSocket(9, WantWrite, nil); !errors.Is(err, ErrUnsetHandle) {
		t.Errorf("ContinueWhenEvtOnSocket(nil) error = %v, want ErrUnsetHandle", err)
	}
}
