package logic

import (
	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/gray-logic-edge/internal/mqtt/topic"
	"github.com/nerrad567/gray-logic-edge/internal/session"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// resume advances a task. Stale references are ignored so timers and
// receipts that outlive their task are harmless.
func (e *Layer) resume(ref taskRef, ev event, pkt packets.ControlPacket) status.Code {
	t := e.tasks.get(ref)
	if t == nil {
		return status.OK
	}

	switch t.kind {
	case kindConnect:
		return e.runConnect(ref, t, ev, pkt)
	case kindKeepalive:
		return e.runKeepalive(ref, t, ev, pkt)
	case kindShutdown:
		return e.runShutdown(ref, t, ev)
	case kindPublish:
		if t.qos == 0 {
			return e.runPublishQoS0(ref, t, ev)
		}
		return e.runPublish(ref, t, ev, pkt)
	case kindSubscribe, kindUnsubscribe:
		return e.runSubscription(ref, t, ev, pkt)
	case kindInbound:
		return e.runInbound(ref, t, ev, pkt)
	default:
		return status.InternalError
	}
}

// =============================================================================
// Requests
// =============================================================================

func (e *Layer) submit(data any) status.Code {
	switch r := data.(type) {
	case *PublishRequest:
		return e.submitPublish(r)
	case *SubscribeRequest:
		return e.submitSubscription(kindSubscribe, r.Filter, r.QoS, r.Handler, r.Done)
	case *UnsubscribeRequest:
		return e.submitSubscription(kindUnsubscribe, r.Filter, 0, nil, r.Done)
	case *ShutdownRequest:
		return e.submitShutdown()
	default:
		e.logger.Warn("logic: unsupported request", "type", typeName(data))
		return status.InvalidParameter
	}
}

func (e *Layer) submitPublish(r *PublishRequest) status.Code {
	if err := topic.ValidateName(r.Topic); err != nil || r.QoS > 2 {
		e.notify(r.Done, status.InvalidParameter)
		return status.OK
	}

	msg := Message{Topic: r.Topic, Payload: r.Payload, QoS: r.QoS, Retain: r.Retain}
	if r.QoS == 0 {
		ref, t := e.tasks.alloc()
		t.kind = kindPublish
		t.msg = msg
		t.done = r.Done
		e.enqueueQ0(ref, false)
		return status.OK
	}

	id, code := e.nextID()
	if code != status.OK {
		e.notify(r.Done, code)
		return status.OK
	}
	ref, t := e.tasks.alloc()
	t.kind = kindPublish
	t.id = id
	t.qos = r.QoS
	t.msg = msg
	t.done = r.Done
	e.enqueueSend(ref, t)
	return status.OK
}

func (e *Layer) submitSubscription(k kind, filter string, qos byte, h MessageHandler, done Done) status.Code {
	if err := topic.ValidateFilter(filter); err != nil || qos > 2 || (k == kindSubscribe && h == nil) {
		e.notify(done, status.InvalidParameter)
		return status.OK
	}

	id, code := e.nextID()
	if code != status.OK {
		e.notify(done, code)
		return status.OK
	}
	ref, t := e.tasks.alloc()
	t.kind = k
	t.id = id
	t.qos = 1
	t.filter = filter
	t.msg.QoS = qos
	t.handler = h
	t.done = done
	e.enqueueSend(ref, t)
	return status.OK
}

func (e *Layer) submitShutdown() status.Code {
	for _, ref := range e.q0 {
		if t := e.tasks.get(ref); t != nil && t.kind == kindShutdown {
			e.logger.Debug("logic: shutdown already pending")
			return status.OK
		}
	}
	ref, t := e.tasks.alloc()
	t.kind = kindShutdown
	e.enqueueQ0(ref, true)
	return status.OK
}

// enqueueSend adds a task to the send queue and starts it when the
// connection is usable.
func (e *Layer) enqueueSend(ref taskRef, t *task) {
	e.send = append(e.send, ref)
	e.ids[t.id] = ref
	e.reportDepth()
	if e.online {
		e.resume(ref, evRun, nil)
	}
}

// =============================================================================
// Connect
// =============================================================================

func (e *Layer) runConnect(ref taskRef, t *task, ev event, pkt packets.ControlPacket) status.Code {
	switch ev {
	case evRun:
		t.step = stepAwaitSend
		if e.conn.ConnectionTimeout > 0 {
			e.arm(ref, t, e.conn.ConnectionTimeout, evTimeout)
		}
		return e.transmit(e.connectPacket())

	case evWritten:
		t.step = stepAwaitReply
		return status.OK

	case evFailedWriting, evTimeout:
		code := status.FailedWriting
		if ev == evTimeout {
			code = status.Timeout
		}
		e.finish(ref, code)
		return e.link.CloseOnPrev(nil, code)

	case evReply:
		ack, ok := pkt.(*packets.ConnackPacket)
		if !ok {
			e.finish(ref, status.ProtocolError)
			return e.link.CloseOnPrev(nil, status.ProtocolError)
		}
		code := status.FromConnack(ack.ReturnCode)
		if code != status.OK {
			e.finish(ref, code)
			return e.link.CloseOnPrev(nil, code)
		}
		e.conn.State = session.Opened
		e.startKeepalive()
		e.finish(ref, status.OK)
		return e.link.ConnectOnNext(nil, status.OK)

	default:
		return status.OK
	}
}

func (e *Layer) connectPacket() *packets.ConnectPacket {
	p := packets.NewControlPacket(packets.Connect).(*packets.ConnectPacket)
	p.ProtocolName = "MQTT"
	p.ProtocolVersion = 4
	p.CleanSession = e.conn.SessionType == session.Clean
	p.ClientIdentifier = e.conn.ClientID
	p.Keepalive = uint16(min(max(e.conn.Keepalive, 0), 0xffff)) //nolint:gosec // clamped above

	if e.conn.Username != "" {
		p.UsernameFlag = true
		p.Username = e.conn.Username
	}
	if e.conn.Password != "" {
		p.PasswordFlag = true
		p.Password = []byte(e.conn.Password)
	}
	if w := e.conn.Will; w != nil && w.Topic != "" {
		p.WillFlag = true
		p.WillTopic = w.Topic
		p.WillMessage = w.Payload
		p.WillQos = w.QoS
		p.WillRetain = w.Retain
	}
	return p
}

// =============================================================================
// Keepalive
// =============================================================================

func (e *Layer) runKeepalive(ref taskRef, t *task, ev event, pkt packets.ControlPacket) status.Code {
	switch ev {
	case evRun:
		t.step = stepAwaitSend
		e.arm(ref, t, e.conn.Keepalive, evTimeout)
		return e.transmit(packets.NewControlPacket(packets.Pingreq))

	case evWritten:
		t.step = stepAwaitReply
		return status.OK

	case evFailedWriting:
		e.finish(ref, status.FailedWriting)
		e.stopKeepalive()
		return e.link.CloseOnPrev(nil, status.FailedWriting)

	case evTimeout:
		e.logger.Warn("logic: keepalive timed out", "client_id", e.conn.ClientID)
		e.finish(ref, status.Timeout)
		e.stopKeepalive()
		return e.link.CloseOnPrev(nil, status.Timeout)

	case evReply:
		if _, ok := pkt.(*packets.PingrespPacket); !ok {
			e.finish(ref, status.ProtocolError)
			return status.ProtocolError
		}
		e.finish(ref, status.OK)
		e.startKeepalive()
		return status.OK

	default:
		return status.OK
	}
}

// =============================================================================
// Shutdown
// =============================================================================

func (e *Layer) runShutdown(ref taskRef, t *task, ev event) status.Code {
	switch ev {
	case evRun:
		e.stopKeepalive()
		switch e.conn.State {
		case session.Opened:
			e.conn.State = session.Closing
			t.step = stepAwaitSend
			return e.transmit(packets.NewControlPacket(packets.Disconnect))
		case session.Opening:
			e.conn.State = session.Closing
			e.finish(ref, status.OK)
			return e.link.CloseOnPrev(nil, status.OK)
		default:
			e.finish(ref, status.OK)
			return status.OK
		}

	case evWritten, evFailedWriting:
		e.finish(ref, status.OK)
		return e.link.CloseOnPrev(nil, status.OK)

	default:
		return status.OK
	}
}

// =============================================================================
// Publish
// =============================================================================

func (e *Layer) runPublishQoS0(ref taskRef, t *task, ev event) status.Code {
	switch ev {
	case evRun:
		t.step = stepAwaitSend
		return e.transmit(e.publishPacket(t))
	case evWritten:
		e.finish(ref, status.OK)
	case evFailedWriting:
		e.finish(ref, status.FailedWriting)
	}
	return status.OK
}

// runPublish drives QoS 1 (PUBLISH, PUBACK) and QoS 2 (PUBLISH, PUBREC,
// PUBREL, PUBCOMP). Every send after the first carries DUP.
func (e *Layer) runPublish(ref taskRef, t *task, ev event, pkt packets.ControlPacket) status.Code {
	switch ev {
	case evRun, evResend, evTimeout:
		if !e.online {
			e.disarm(t)
			t.step = stepStart
			return status.OK
		}
		e.disarm(t)
		t.step = stepAwaitSend
		if t.stage == session.StageRelease {
			return e.transmit(pubrel(t.id))
		}
		p := e.publishPacket(t)
		t.dup = true
		return e.transmit(p)

	case evWritten:
		if t.step != stepAwaitSend {
			return status.OK
		}
		e.markWritten(t)
		t.step = stepAwaitReply
		if d := e.ackTimeout(); d > 0 {
			e.arm(ref, t, d, evTimeout)
		}
		return status.OK

	case evFailedWriting:
		if t.step != stepAwaitSend {
			return status.OK
		}
		t.step = stepAwaitRetry
		e.arm(ref, t, 1, evResend)
		return status.OK

	case evReply:
		switch pkt.(type) {
		case *packets.PubackPacket:
			if t.qos == 1 {
				e.finish(ref, status.OK)
				return status.OK
			}
		case *packets.PubrecPacket:
			if t.qos == 2 {
				e.disarm(t)
				t.stage = session.StageRelease
				t.step = stepAwaitSend
				return e.transmit(pubrel(t.id))
			}
		case *packets.PubcompPacket:
			if t.qos == 2 && t.stage == session.StageRelease {
				e.finish(ref, status.OK)
				return status.OK
			}
		}
		e.logger.Warn("logic: unexpected reply to publish",
			"id", t.id, "qos", t.qos, "reply", typeName(pkt))
		e.finish(ref, status.ProtocolError)
		return status.OK

	default:
		return status.OK
	}
}

func (e *Layer) publishPacket(t *task) *packets.PublishPacket {
	p := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	p.TopicName = t.msg.Topic
	p.Payload = t.msg.Payload
	p.Qos = t.qos
	p.Retain = t.msg.Retain
	p.Dup = t.dup && t.qos > 0
	p.MessageID = t.id
	return p
}

func pubrel(id uint16) *packets.PubrelPacket {
	p := packets.NewControlPacket(packets.Pubrel).(*packets.PubrelPacket)
	p.MessageID = id
	return p
}

// markWritten decides what a later teardown does with the task.
func (e *Layer) markWritten(t *task) {
	if t.session != sessionUnset {
		return
	}
	if e.conn.SessionType == session.Continue {
		t.session = sessionStore
	} else {
		t.session = sessionDoNotStore
	}
}

// =============================================================================
// Subscribe / Unsubscribe
// =============================================================================

func (e *Layer) runSubscription(ref taskRef, t *task, ev event, pkt packets.ControlPacket) status.Code {
	switch ev {
	case evRun, evResend, evTimeout:
		e.disarm(t)
		if !e.online {
			t.step = stepStart
			return status.OK
		}
		t.step = stepAwaitSend
		if t.kind == kindSubscribe {
			p := packets.NewControlPacket(packets.Subscribe).(*packets.SubscribePacket)
			p.MessageID = t.id
			p.Topics = []string{t.filter}
			p.Qoss = []byte{t.msg.QoS}
			return e.transmit(p)
		}
		p := packets.NewControlPacket(packets.Unsubscribe).(*packets.UnsubscribePacket)
		p.MessageID = t.id
		p.Topics = []string{t.filter}
		return e.transmit(p)

	case evWritten:
		if t.step != stepAwaitSend {
			return status.OK
		}
		e.markWritten(t)
		t.step = stepAwaitReply
		if d := e.ackTimeout(); d > 0 {
			e.arm(ref, t, d, evTimeout)
		}
		return status.OK

	case evFailedWriting:
		if t.step != stepAwaitSend {
			return status.OK
		}
		t.step = stepAwaitRetry
		e.arm(ref, t, 1, evResend)
		return status.OK

	case evReply:
		switch p := pkt.(type) {
		case *packets.SubackPacket:
			if t.kind != kindSubscribe {
				break
			}
			if len(p.ReturnCodes) == 0 || p.ReturnCodes[0] > 2 {
				e.finish(ref, status.SubscriptionFailed)
				return status.OK
			}
			e.handlers[t.filter] = subscription{qos: p.ReturnCodes[0], handler: t.handler}
			e.finish(ref, status.OK)
			return status.OK
		case *packets.UnsubackPacket:
			if t.kind != kindUnsubscribe {
				break
			}
			delete(e.handlers, t.filter)
			e.finish(ref, status.OK)
			return status.OK
		}
		e.logger.Warn("logic: unexpected reply to "+t.kind.String(), "id", t.id, "reply", typeName(pkt))
		e.finish(ref, status.ProtocolError)
		return status.OK

	default:
		return status.OK
	}
}

// =============================================================================
// Inbound QoS 1/2
// =============================================================================

// runInbound acknowledges a broker publish: PUBACK for QoS 1; PUBREC, then
// delivery and PUBCOMP on PUBREL for QoS 2.
func (e *Layer) runInbound(ref taskRef, t *task, ev event, pkt packets.ControlPacket) status.Code {
	switch ev {
	case evRun:
		t.step = stepAwaitSend
		if t.qos == 1 {
			e.deliver(t.msg)
			ack := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
			ack.MessageID = t.id
			return e.transmit(ack)
		}
		rec := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
		rec.MessageID = t.id
		return e.transmit(rec)

	case evWritten, evFailedWriting:
		if t.qos == 1 || t.stage == session.StageRelease {
			e.finish(ref, status.OK)
			return status.OK
		}
		t.step = stepAwaitRelease
		return status.OK

	case evReply:
		if _, ok := pkt.(*packets.PubrelPacket); !ok || t.qos != 2 {
			e.finish(ref, status.ProtocolError)
			return status.ProtocolError
		}
		if t.stage != session.StageRelease {
			t.stage = session.StageRelease
			e.deliver(t.msg)
		}
		t.step = stepAwaitSend
		return e.transmit(pubcomp(t.id))

	default:
		return status.OK
	}
}

func pubcomp(id uint16) *packets.PubcompPacket {
	p := packets.NewControlPacket(packets.Pubcomp).(*packets.PubcompPacket)
	p.MessageID = id
	return p
}
