package session

import (
	"context"
	"errors"
	"sync"
)

// ErrInvalidClientID is returned when a store is addressed without a client id.
var ErrInvalidClientID = errors.New("session: client id cannot be empty")

// Stage is how far an outbound QoS 1/2 exchange progressed.
type Stage uint8

const (
	// StagePublish means the PUBLISH awaits PUBACK or PUBREC.
	StagePublish Stage = iota

	// StageRelease means PUBREL was sent and PUBCOMP is awaited.
	StageRelease
)

// Record is one unacknowledged outbound publish.
type Record struct {
	MessageID uint16 `cbor:"1,keyasint"`
	Topic     string `cbor:"2,keyasint"`
	Payload   []byte `cbor:"3,keyasint,omitempty"`
	QoS       byte   `cbor:"4,keyasint"`
	Retain    bool   `cbor:"5,keyasint,omitempty"`
	Stage     Stage  `cbor:"6,keyasint,omitempty"`
}

// Snapshot is the client session state that survives a process restart.
type Snapshot struct {
	LastMessageID uint16
	Pending       []Record
}

// Empty reports whether the snapshot carries nothing to restore.
func (s Snapshot) Empty() bool {
	return s.LastMessageID == 0 && len(s.Pending) == 0
}

// Store persists session snapshots keyed by client id.
//
// Save replaces whatever was stored for the client. Load of an unknown
// client returns an empty snapshot and no error.
type Store interface {
	Save(ctx context.Context, clientID string, snap Snapshot) error
	Load(ctx context.Context, clientID string) (Snapshot, error)
	Clear(ctx context.Context, clientID string) error
}

// MemoryStore keeps snapshots in process memory.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
type MemoryStore struct {
	mu    sync.Mutex
	snaps map[string]Snapshot
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

func (m *MemoryStore) Save(_ context.Context, clientID string, snap Snapshot) error {
	if clientID == "" {
		return ErrInvalidClientID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snaps[clientID] = cloneSnapshot(snap)
	return nil
}

func (m *MemoryStore) Load(_ context.Context, clientID string) (Snapshot, error) {
	if clientID == "" {
		return Snapshot{}, ErrInvalidClientID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneSnapshot(m.snaps[clientID]), nil
}

func (m *MemoryStore) Clear(_ context.Context, clientID string) error {
	if clientID == "" {
		return ErrInvalidClientID
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.snaps, clientID)
	return nil
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := Snapshot{LastMessageID: s.LastMessageID}
	if len(s.Pending) > 0 {
		out.Pending = make([]Record, len(s.Pending))
		for i, r := range s.Pending {
			r.Payload = append([]byte(nil), r.Payload...)
			out.Pending[i] = r
		}
	}
	return out
}
