package logic

import (
	"fmt"
	"maps"
	"slices"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/gray-logic-edge/internal/mqtt/codec"
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/topic"
	"github.com/nerrad567/gray-logic-edge/internal/session"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// onReceipt routes a write confirmation to the task that sent the packet.
func (e *Layer) onReceipt(r codec.SendReceipt, in status.Code) status.Code {
	e.observer.PacketSent(r.Type, in)
	if in == status.Written {
		if e.outcomes != nil {
			e.outcomes.OnOutcome(in)
		}
		if e.keepalive.Live() {
			_ = e.sched().Restart(e.keepalive, e.conn.Keepalive)
		}
	}

	ev := evWritten
	if in == status.FailedWriting {
		ev = evFailedWriting
	}

	var ref taskRef
	var ok bool
	switch {
	case r.MessageID == 0:
		var t *task
		ref, t = e.currentQ0()
		ok = t != nil
	case sentByPeer(r.Type):
		// Our acknowledgements of broker publishes.
		ref, ok = e.recv[r.MessageID]
	default:
		ref, ok = e.ids[r.MessageID]
	}
	if !ok {
		e.logger.Debug("logic: receipt without task",
			"type", codec.TypeName(r.Type), "id", r.MessageID, "status", in.String())
		return status.OK
	}
	return e.resume(ref, ev, nil)
}

// sentByPeer reports whether packets of type t answer a publish the broker
// started.
func sentByPeer(t byte) bool {
	switch t {
	case packets.Puback, packets.Pubrec, packets.Pubcomp:
		return true
	default:
		return false
	}
}

// onPacket routes a packet from the broker.
func (e *Layer) onPacket(pkt packets.ControlPacket) status.Code {
	typ := codec.TypeOf(pkt)
	e.observer.PacketReceived(typ)

	switch p := pkt.(type) {
	case *packets.PublishPacket:
		return e.onPublish(p)

	case *packets.ConnackPacket, *packets.PingrespPacket:
		ref, t := e.currentQ0()
		if t == nil {
			e.logger.Warn("logic: reply without a task in flight", "type", codec.TypeName(typ))
			return status.OK
		}
		return e.resume(ref, evReply, pkt)

	case *packets.PubackPacket, *packets.PubrecPacket, *packets.PubcompPacket,
		*packets.SubackPacket, *packets.UnsubackPacket:
		id := pkt.Details().MessageID
		ref, ok := e.ids[id]
		if !ok || e.tasks.get(ref) == nil {
			// Fatal to the connection, not to the scheduler.
			e.logger.Error("logic: unknown message id", "type", codec.TypeName(typ), "id", id)
			e.link.CloseOnPrev(nil, status.UnknownMessageID)
			return status.OK
		}
		return e.resume(ref, evReply, pkt)

	case *packets.PubrelPacket:
		ref, ok := e.recv[p.MessageID]
		if !ok {
			// Release for a publish from an earlier connection: complete it.
			return e.transmit(pubcomp(p.MessageID))
		}
		return e.resume(ref, evReply, pkt)

	default:
		e.logger.Warn("logic: unexpected packet from broker", "type", codec.TypeName(typ))
		e.link.CloseOnPrev(nil, status.WrongMessageReceived)
		return status.WrongMessageReceived
	}
}

func (e *Layer) onPublish(p *packets.PublishPacket) status.Code {
	msg := Message{
		Topic:   p.TopicName,
		Payload: p.Payload,
		QoS:     p.Qos,
		Retain:  p.Retain,
		Dup:     p.Dup,
	}

	switch p.Qos {
	case 0:
		e.deliver(msg)
		return status.OK

	case 1, 2:
		if ref, ok := e.recv[p.MessageID]; ok {
			// Broker resend while the first copy is still being acknowledged.
			if t := e.tasks.get(ref); t != nil && t.qos == 2 && t.stage != session.StageRelease {
				rec := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
				rec.MessageID = p.MessageID
				return e.transmit(rec)
			}
			return status.OK
		}
		ref, t := e.tasks.alloc()
		t.kind = kindInbound
		t.id = p.MessageID
		t.qos = p.Qos
		t.msg = msg
		e.recv[t.id] = ref
		e.reportDepth()
		return e.resume(ref, evRun, nil)

	default:
		e.link.CloseOnPrev(nil, status.ProtocolError)
		return status.ProtocolError
	}
}

// deliver schedules every handler whose filter matches the topic.
func (e *Layer) deliver(msg Message) {
	matched := 0
	for _, filter := range slices.Sorted(maps.Keys(e.handlers)) {
		if !topic.Match(filter, msg.Topic) {
			continue
		}
		matched++
		h := e.handlers[filter].handler
		if err := e.sched().RunNow(func() error {
			h(msg)
			return nil
		}); err != nil {
			e.logger.Warn("logic: scheduling delivery failed", "topic", msg.Topic, "error", err)
		}
	}
	if matched == 0 {
		e.logger.Debug("logic: message without subscriber", "topic", msg.Topic)
	}
}

// nextID returns the next free message identifier. Identifiers wrap,
// skip zero and skip any identifier still held by a task.
func (e *Layer) nextID() (uint16, status.Code) {
	for range 0xffff {
		e.lastID++
		if e.lastID == 0 {
			e.lastID = 1
		}
		if _, used := e.ids[e.lastID]; !used {
			return e.lastID, status.OK
		}
	}
	return 0, status.ResourceExhausted
}

func typeName(v any) string {
	if pkt, ok := v.(packets.ControlPacket); ok && pkt != nil {
		return codec.TypeName(codec.TypeOf(pkt))
	}
	return fmt.Sprintf("%T", v)
}
