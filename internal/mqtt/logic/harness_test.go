package logic

import (
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/gray-logic-edge/internal/layer"
	"github.com/nerrad567/gray-logic-edge/internal/mqtt/codec"
	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/session"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// broker stands in for the codec and transport layers. It records every
// packet the logic layer sends and confirms writes immediately unless
// hold is set.
type broker struct {
	layer.Passthrough
	sent    []packets.ControlPacket
	held    []codec.SendReceipt
	hold    bool
	failing int
	closes  []status.Code
}

func (b *broker) Push(l *layer.Link, data any, _ status.Code) status.Code {
	pkt := data.(packets.ControlPacket)
	b.sent = append(b.sent, pkt)
	r := codec.SendReceipt{MessageID: pkt.Details().MessageID, Type: codec.TypeOf(pkt)}
	if b.hold {
		b.held = append(b.held, r)
		return status.OK
	}
	result := status.Written
	if b.failing > 0 {
		b.failing--
		result = status.FailedWriting
	}
	return l.PushOnNext(r, result)
}

func (b *broker) Close(l *layer.Link, _ any, in status.Code) status.Code {
	b.closes = append(b.closes, in)
	return l.CloseExternallyOnNext(nil, in)
}

// app stands in for the client layer.
type app struct {
	layer.Passthrough
	connects []status.Code
	closes   []status.Code
}

func (a *app) Connect(l *layer.Link, _ any, in status.Code) status.Code {
	a.connects = append(a.connects, in)
	if in == status.OK {
		return l.PostConnectOnPrev(nil, status.OK)
	}
	return status.OK
}

func (a *app) CloseExternally(_ *layer.Link, _ any, in status.Code) status.Code {
	a.closes = append(a.closes, in)
	return status.OK
}

type harness struct {
	t    *testing.T
	s    *scheduler.Scheduler
	p    *layer.Pipeline
	b    *broker
	a    *app
	e    *Layer
	conn *session.ConnectionData
	now  scheduler.Tick
}

func newHarness(t *testing.T, conn *session.ConnectionData, opts ...Option) *harness {
	t.Helper()

	if conn == nil {
		conn = &session.ConnectionData{ClientID: "edge-1"}
	}
	s := scheduler.New()
	b, a := &broker{}, &app{}
	e := New(conn, nil, opts...)
	p, err := layer.New(s, []layer.Descriptor{
		{Name: "broker", Layer: b},
		{Name: "logic", Layer: e},
		{Name: "app", Layer: a},
	})
	if err != nil {
		t.Fatalf("layer.New() error = %v", err)
	}
	return &harness{t: t, s: s, p: p, b: b, a: a, e: e, conn: conn}
}

func (h *harness) step() {
	h.s.Step(h.now)
}

// advance steps one tick at a time up to and including tick.
func (h *harness) advance(tick scheduler.Tick) {
	for h.now < tick {
		h.now++
		h.s.Step(h.now)
	}
}

// open runs init, transport connect and an accepted CONNACK.
func (h *harness) open() {
	h.t.Helper()
	h.p.Top().InitOnPrev(nil, status.OK)
	h.step()
	h.p.Bottom().ConnectOnNext(nil, status.OK)
	h.step()
	h.reply(connack(0))
	if h.conn.State != session.Opened {
		h.t.Fatalf("connection state = %v, want opened", h.conn.State)
	}
}

func (h *harness) submit(req any) {
	h.p.Top().PushOnPrev(req, status.OK)
	h.step()
}

func (h *harness) reply(pkt packets.ControlPacket) {
	h.p.Bottom().PullOnNext(pkt, status.OK)
	h.step()
}

// confirm releases the oldest held write confirmation.
func (h *harness) confirm(result status.Code) {
	h.t.Helper()
	if len(h.b.held) == 0 {
		h.t.Fatal("no held write to confirm")
	}
	r := h.b.held[0]
	h.b.held = h.b.held[1:]
	h.p.Bottom().PushOnNext(r, result)
	h.step()
}

// drop simulates the transport losing the connection.
func (h *harness) drop(code status.Code) {
	h.p.Bottom().CloseExternallyOnNext(nil, code)
	h.step()
}

// sentOf returns the sent packets of one type.
func (h *harness) sentOf(typ byte) []packets.ControlPacket {
	var out []packets.ControlPacket
	for _, p := range h.b.sent {
		if codec.TypeOf(p) == typ {
			out = append(out, p)
		}
	}
	return out
}

// results collects completion callbacks.
type results struct {
	codes []status.Code
}

func (r *results) done(code status.Code) {
	r.codes = append(r.codes, code)
}

func (r *results) last() status.Code {
	if len(r.codes) == 0 {
		return status.Code(0xffff)
	}
	return r.codes[len(r.codes)-1]
}

func connack(rc byte) *packets.ConnackPacket {
	p := packets.NewControlPacket(packets.Connack).(*packets.ConnackPacket)
	p.ReturnCode = rc
	return p
}

func puback(id uint16) *packets.PubackPacket {
	p := packets.NewControlPacket(packets.Puback).(*packets.PubackPacket)
	p.MessageID = id
	return p
}

func pubrec(id uint16) *packets.PubrecPacket {
	p := packets.NewControlPacket(packets.Pubrec).(*packets.PubrecPacket)
	p.MessageID = id
	return p
}

func suback(id uint16, rc byte) *packets.SubackPacket {
	p := packets.NewControlPacket(packets.Suback).(*packets.SubackPacket)
	p.MessageID = id
	p.ReturnCodes = []byte{rc}
	return p
}

func unsuback(id uint16) *packets.UnsubackPacket {
	p := packets.NewControlPacket(packets.Unsuback).(*packets.UnsubackPacket)
	p.MessageID = id
	return p
}

func inbound(topicName string, qos byte, id uint16, payload string) *packets.PublishPacket {
	p := packets.NewControlPacket(packets.Publish).(*packets.PublishPacket)
	p.TopicName = topicName
	p.Qos = qos
	p.MessageID = id
	p.Payload = []byte(payload)
	return p
}
