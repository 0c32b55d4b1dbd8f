package logic

import (
	"log/slog"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/gray-logic-edge/internal/backoff"
	"github.com/nerrad567/gray-logic-edge/internal/layer"
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/codec"
	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/session"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

type subscription struct {
	qos     byte
	handler MessageHandler
}

// Layer is the protocol logic layer. It sits between the codec layer and
// the application-facing layer.
type Layer struct {
	conn     *session.ConnectionData
	slot     *Slot
	store    session.Store
	ackTicks scheduler.Tick
	logger   Logger
	observer Observer
	outcomes OutcomeRecorder

	link  *layer.Link
	tasks arena

	q0     []taskRef
	q0Busy bool
	send   []taskRef
	ids    map[uint16]taskRef
	recv   map[uint16]taskRef

	handlers  map[string]subscription
	lastID    uint16
	keepalive *scheduler.Timer

	// online is set by post_connect; send-queue tasks start only then.
	online       bool
	storeCleared bool
}

// New creates a logic layer for conn. The slot may be nil, in which case the
// layer keeps its own.
func New(conn *session.ConnectionData, slot *Slot, opts ...Option) *Layer {
	if slot == nil {
		slot = NewSlot()
	}
	e := &Layer{
		conn:     conn,
		slot:     slot,
		logger:   slog.New(slog.DiscardHandler),
		observer: noopObserver{},
		ids:      make(map[uint16]taskRef),
		recv:     make(map[uint16]taskRef),
		handlers: make(map[string]subscription),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Stats returns the current queue sizes.
func (e *Layer) Stats() Stats {
	return Stats{
		QoS0:          len(e.q0),
		Send:          len(e.send),
		Receive:       len(e.recv),
		Held:          len(e.slot.pending),
		Subscriptions: len(e.handlers),
		LastMessageID: e.lastID,
		Online:        e.online,
	}
}

// Push accepts application requests (status OK) and write confirmations
// from the codec layer (Written or FailedWriting).
func (e *Layer) Push(l *layer.Link, data any, in status.Code) status.Code {
	e.link = l

	switch in {
	case status.OK:
		return e.submit(data)

	case status.Written, status.FailedWriting:
		receipt, ok := data.(codec.SendReceipt)
		if !ok {
			e.logger.Warn("logic: write confirmation without receipt", "status", in.String())
			return status.InternalError
		}
		return e.onReceipt(receipt, in)

	default:
		e.logger.Debug("logic: push ignored", "status", in.String())
		return status.OK
	}
}

// Pull routes a decoded packet to the task waiting for it.
func (e *Layer) Pull(l *layer.Link, data any, in status.Code) status.Code {
	e.link = l

	if in != status.OK {
		if backoff.Classify(in) == backoff.Terminal {
			e.logger.Warn("logic: terminal status from below, closing", "status", in.String())
			return e.link.CloseOnPrev(nil, status.BackoffTerminal)
		}
		e.logger.Debug("logic: pull with failure status", "status", in.String())
		return status.OK
	}
	pkt, ok := data.(packets.ControlPacket)
	if !ok || pkt == nil {
		e.logger.Warn("logic: pull without a control packet")
		return status.InternalError
	}
	return e.onPacket(pkt)
}

// Init restores or discards the held session and starts the connection.
func (e *Layer) Init(l *layer.Link, data any, in status.Code) status.Code {
	e.link = l

	if e.conn.SessionType == session.Continue {
		e.unhold()
	} else {
		e.discard()
	}
	e.conn.State = session.Opening
	return l.InitOnPrev(data, in)
}

// Connect runs the CONNECT exchange once the transport is up.
func (e *Layer) Connect(l *layer.Link, data any, in status.Code) status.Code {
	e.link = l

	if in != status.OK {
		e.conn.State = session.OpenFailed
		e.online = false
		return l.ConnectOnNext(data, in)
	}

	ref, t := e.tasks.alloc()
	t.kind = kindConnect
	e.enqueueQ0(ref, true)
	return status.OK
}

// Close forwards an abrupt close toward the transport.
func (e *Layer) Close(l *layer.Link, data any, in status.Code) status.Code {
	e.link = l
	e.stopKeepalive()
	return l.CloseOnPrev(data, in)
}

// CloseExternally tears down the connection state. Written but
// unacknowledged tasks are held for a continue session and aborted for a
// clean one. Tasks whose first send was never confirmed are aborted; tasks
// that were never started stay queued.
func (e *Layer) CloseExternally(l *layer.Link, data any, in status.Code) status.Code {
	e.link = l

	if e.conn.State == session.Opening {
		e.conn.State = session.OpenFailed
	} else {
		e.conn.State = session.Closed
	}
	e.online = false
	e.stopKeepalive()

	// QoS 0: the in-flight task and internal tasks end here; queued
	// publishes wait for the next connection.
	busy := e.q0Busy
	e.q0Busy = false
	for i, ref := range append([]taskRef(nil), e.q0...) {
		t := e.tasks.get(ref)
		if t == nil {
			e.q0 = removeRef(e.q0, ref)
			continue
		}
		switch {
		case i == 0 && busy && t.kind == kindPublish:
			e.drop(ref, status.Aborted)
		case t.kind == kindShutdown:
			e.drop(ref, status.OK)
		case t.kind != kindPublish:
			e.drop(ref, in)
		}
	}

	for _, ref := range e.recvRefs() {
		e.drop(ref, status.Aborted)
	}

	for _, ref := range append([]taskRef(nil), e.send...) {
		t := e.tasks.get(ref)
		if t == nil {
			e.send = removeRef(e.send, ref)
			continue
		}
		e.disarm(t)
		switch t.session {
		case sessionUnset:
			// Started but never confirmed on the wire.
			if t.step != stepStart {
				e.drop(ref, status.Aborted)
			}
		case sessionStore:
			t.step = stepStart
			if e.conn.SessionType != session.Continue {
				e.drop(ref, status.Aborted)
			}
		default:
			e.drop(ref, status.Aborted)
		}
	}

	if e.conn.SessionType == session.Continue {
		e.hold()
	} else {
		e.handlers = make(map[string]subscription)
	}
	e.reportDepth()

	return l.CloseExternallyOnNext(data, in)
}

// PostConnect resends held tasks with DUP set and starts tasks queued
// while the connection was down.
func (e *Layer) PostConnect(l *layer.Link, data any, in status.Code) status.Code {
	e.link = l
	e.online = true

	for _, ref := range append([]taskRef(nil), e.send...) {
		t := e.tasks.get(ref)
		if t == nil {
			continue
		}
		switch {
		case t.session == sessionStore:
			e.resume(ref, evResend, nil)
		case t.step == stepStart:
			e.resume(ref, evRun, nil)
		}
	}
	return l.PostConnectOnPrev(data, in)
}

// AbortAll ends every queued and held task with Aborted. It is used once
// the client stops for good; a persistent store keeps the held session.
func (e *Layer) AbortAll() {
	e.stopKeepalive()
	e.q0Busy = false

	refs := append([]taskRef(nil), e.q0...)
	refs = append(refs, e.recvRefs()...)
	refs = append(refs, e.send...)
	refs = append(refs, e.slot.pending...)
	for _, ref := range refs {
		e.drop(ref, status.Aborted)
	}
}

func (e *Layer) recvRefs() []taskRef {
	refs := make([]taskRef, 0, len(e.recv))
	for _, ref := range e.recv {
		refs = append(refs, ref)
	}
	return refs
}

// =============================================================================
// Task lifecycle
// =============================================================================

func (e *Layer) sched() *scheduler.Scheduler {
	return e.link.Scheduler()
}

// enqueueQ0 queues a QoS 0 task. Immediate tasks go right behind the one in
// flight.
func (e *Layer) enqueueQ0(ref taskRef, immediate bool) {
	switch {
	case !immediate:
		e.q0 = append(e.q0, ref)
	case e.q0Busy:
		e.q0 = append(e.q0[:1], append([]taskRef{ref}, e.q0[1:]...)...)
	default:
		e.q0 = append([]taskRef{ref}, e.q0...)
	}
	e.reportDepth()
	e.runNextQ0()
}

// runNextQ0 starts the head of the QoS 0 queue if nothing is in flight.
// Only connect and shutdown run before the connection is open.
func (e *Layer) runNextQ0() {
	for !e.q0Busy && len(e.q0) > 0 {
		ref := e.q0[0]
		t := e.tasks.get(ref)
		if t == nil {
			e.q0 = e.q0[1:]
			continue
		}
		if t.kind != kindConnect && t.kind != kindShutdown && e.conn.State != session.Opened {
			return
		}
		e.q0Busy = true
		e.resume(ref, evRun, nil)
	}
}

// currentQ0 returns the task in flight in the QoS 0 queue.
func (e *Layer) currentQ0() (taskRef, *task) {
	if !e.q0Busy || len(e.q0) == 0 {
		return taskRef{}, nil
	}
	ref := e.q0[0]
	return ref, e.tasks.get(ref)
}

// finish completes a task and lets the next QoS 0 task run.
func (e *Layer) finish(ref taskRef, code status.Code) {
	if e.drop(ref, code) {
		e.runNextQ0()
	}
}

// drop detaches a task from its queue, reports the result and releases
// it. It returns true when the task was the QoS 0 task in flight.
func (e *Layer) drop(ref taskRef, code status.Code) bool {
	t := e.tasks.get(ref)
	if t == nil {
		return false
	}
	e.disarm(t)

	current := false
	switch {
	case t.kind == kindInbound:
		if e.recv[t.id] == ref {
			delete(e.recv, t.id)
		}
	case t.qos0():
		current = e.q0Busy && len(e.q0) > 0 && e.q0[0] == ref
		if current {
			e.q0Busy = false
		}
		e.q0 = removeRef(e.q0, ref)
	default:
		e.send = removeRef(e.send, ref)
		e.slot.pending = removeRef(e.slot.pending, ref)
		if e.ids[t.id] == ref {
			delete(e.ids, t.id)
		}
	}

	e.notify(t.done, code)
	e.observer.TaskCompleted(t.kind.String(), code)
	e.logger.Debug("logic: task finished", "kind", t.kind.String(), "id", t.id, "status", code.String())
	e.tasks.release(ref)
	e.reportDepth()
	return current
}

// notify schedules a completion callback.
func (e *Layer) notify(done Done, code status.Code) {
	if done == nil || e.link == nil {
		return
	}
	if err := e.sched().RunNow(func() error {
		done(code)
		return nil
	}); err != nil {
		e.logger.Warn("logic: scheduling completion failed", "status", code.String(), "error", err)
	}
}

// arm (re)starts the task timeout.
func (e *Layer) arm(ref taskRef, t *task, delay scheduler.Tick, ev event) {
	e.disarm(t)
	tm, err := e.sched().ScheduleIn(delay, func() error {
		e.resume(ref, ev, nil)
		return nil
	})
	if err != nil {
		e.logger.Warn("logic: arming timeout failed", "kind", t.kind.String(), "error", err)
		return
	}
	t.timeout = tm
}

func (e *Layer) disarm(t *task) {
	if t.timeout.Live() {
		_ = e.sched().Cancel(t.timeout)
	}
	t.timeout = nil
}

func (e *Layer) ackTimeout() scheduler.Tick {
	if e.ackTicks > 0 {
		return e.ackTicks
	}
	return e.conn.Keepalive
}

// transmit hands a packet to the codec layer.
func (e *Layer) transmit(pkt packets.ControlPacket) status.Code {
	return e.link.PushOnPrev(pkt, status.OK)
}

func (e *Layer) reportDepth() {
	e.observer.QueueDepth(len(e.q0), len(e.send)+len(e.slot.pending), len(e.recv))
}

// =============================================================================
// Keepalive timer
// =============================================================================

func (e *Layer) startKeepalive() {
	e.stopKeepalive()
	if e.conn.Keepalive <= 0 {
		return
	}
	tm, err := e.sched().ScheduleIn(e.conn.Keepalive, e.onKeepalive)
	if err != nil {
		e.logger.Warn("logic: arming keepalive failed", "error", err)
		return
	}
	e.keepalive = tm
}

func (e *Layer) stopKeepalive() {
	if e.keepalive.Live() {
		_ = e.sched().Cancel(e.keepalive)
	}
	e.keepalive = nil
}

func (e *Layer) onKeepalive() error {
	for _, ref := range e.q0 {
		if t := e.tasks.get(ref); t != nil && t.kind == kindKeepalive {
			return nil
		}
	}
	ref, t := e.tasks.alloc()
	t.kind = kindKeepalive
	e.enqueueQ0(ref, false)
	return nil
}
