package logic

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/gray-logic-edge/internal/session"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// storeTimeout bounds a single session store call.
const storeTimeout = 5 * time.Second

// Slot holds a continue session between a teardown and the next init.
//
// The client context owns the slot so it outlives any one connection. A
// slot is bound to the Layer it was passed to.
type Slot struct {
	filled   bool
	lastID   uint16
	handlers map[string]subscription
	pending  []taskRef
}

// NewSlot returns an empty slot.
func NewSlot() *Slot {
	return &Slot{}
}

// Filled reports whether a saved session is waiting to be restored.
func (s *Slot) Filled() bool { return s.filled }

// Held returns the number of tasks waiting in the slot.
func (s *Slot) Held() int { return len(s.pending) }

func (s *Slot) reset() {
	s.filled = false
	s.handlers = nil
	s.pending = nil
}

// Restore loads the persisted session for the connection's client id into
// the slot. It is a no-op without a store or for clean sessions.
//
// Call it once before the scheduler starts.
func (e *Layer) Restore(ctx context.Context) error {
	if e.store == nil || e.conn.SessionType != session.Continue {
		return nil
	}

	snap, err := e.store.Load(ctx, e.conn.ClientID)
	if err != nil {
		return fmt.Errorf("logic: restoring session: %w", err)
	}
	if snap.Empty() {
		return nil
	}

	for _, rec := range snap.Pending {
		if rec.MessageID == 0 || rec.QoS == 0 || rec.QoS > 2 {
			continue
		}
		if _, used := e.ids[rec.MessageID]; used {
			continue
		}
		ref, t := e.tasks.alloc()
		t.kind = kindPublish
		t.id = rec.MessageID
		t.qos = rec.QoS
		t.stage = rec.Stage
		t.dup = true
		t.session = sessionStore
		t.msg = Message{Topic: rec.Topic, Payload: rec.Payload, QoS: rec.QoS, Retain: rec.Retain}
		e.ids[t.id] = ref
		e.slot.pending = append(e.slot.pending, ref)
	}
	e.lastID = snap.LastMessageID
	e.slot.lastID = snap.LastMessageID
	e.slot.filled = true

	e.logger.Debug("logic: session restored from store",
		"client_id", e.conn.ClientID, "pending", len(e.slot.pending), "last_id", e.lastID)
	return nil
}

// hold moves the session into the slot after a teardown.
func (e *Layer) hold() {
	keep := e.send[:0]
	for _, ref := range e.send {
		t := e.tasks.get(ref)
		if t == nil {
			continue
		}
		if t.session == sessionStore {
			e.slot.pending = append(e.slot.pending, ref)
			continue
		}
		keep = append(keep, ref)
	}
	e.send = keep

	if e.slot.handlers == nil {
		e.slot.handlers = make(map[string]subscription, len(e.handlers))
	}
	for filter, sub := range e.handlers {
		e.slot.handlers[filter] = sub
	}
	e.handlers = make(map[string]subscription)
	e.slot.lastID = e.lastID
	e.slot.filled = true
	e.persist()
}

// unhold puts a held session back in front of anything queued since.
func (e *Layer) unhold() {
	if !e.slot.filled {
		return
	}
	e.send = append(append([]taskRef(nil), e.slot.pending...), e.send...)
	for filter, sub := range e.slot.handlers {
		if _, ok := e.handlers[filter]; !ok {
			e.handlers[filter] = sub
		}
	}
	e.lastID = e.slot.lastID
	e.slot.reset()
	e.reportDepth()
}

// discard drops a held session for a clean connect.
func (e *Layer) discard() {
	for _, ref := range append([]taskRef(nil), e.slot.pending...) {
		e.drop(ref, status.Aborted)
	}
	e.slot.reset()

	if e.store != nil && !e.storeCleared {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := e.store.Clear(ctx, e.conn.ClientID); err != nil {
			e.logger.Warn("logic: clearing stored session failed", "error", err)
			return
		}
		e.storeCleared = true
	}
}

// persist mirrors the slot to the store.
func (e *Layer) persist() {
	if e.store == nil {
		return
	}

	snap := session.Snapshot{LastMessageID: e.slot.lastID}
	for _, ref := range e.slot.pending {
		t := e.tasks.get(ref)
		if t == nil || t.kind != kindPublish {
			continue
		}
		snap.Pending = append(snap.Pending, session.Record{
			MessageID: t.id,
			Topic:     t.msg.Topic,
			Payload:   t.msg.Payload,
			QoS:       t.qos,
			Retain:    t.msg.Retain,
			Stage:     t.stage,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := e.store.Save(ctx, e.conn.ClientID, snap); err != nil {
		e.logger.Warn("logic: saving session failed", "error", err, "pending", len(snap.Pending))
		return
	}
	e.storeCleared = false
}
