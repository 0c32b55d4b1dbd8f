package codec

import (
	"testing"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/gray-logic-edge/internal/layer"
	"github.com/nerrad567/gray-logic-edge/internal/scheduler"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// capture records what reaches it from the codec layer.
type capture struct {
	layer.Passthrough
	pushes []any
	codes  []status.Code
	closes []status.Code
}

func (c *capture) Push(_ *layer.Link, data any, in status.Code) status.Code {
	c.pushes = append(c.pushes, data)
	c.codes = append(c.codes, in)
	return status.OK
}

func (c *capture) Pull(_ *layer.Link, data any, in status.Code) status.Code {
	c.pushes = append(c.pushes, data)
	c.codes = append(c.codes, in)
	return status.OK
}

func (c *capture) Close(_ *layer.Link, _ any, in status.Code) status.Code {
	c.closes = append(c.closes, in)
	return status.OK
}

func newCodecPipeline(t *testing.T) (*scheduler.Scheduler, *layer.Pipeline, *capture, *capture, *Layer) {
	t.Helper()

	s := scheduler.New()
	below, above := &capture{}, &capture{}
	codec := NewLayer(0, nil)
	p, err := layer.New(s, []layer.Descriptor{
		{Name: "io", Layer: below},
		{Name: "codec", Layer: codec},
		{Name: "logic", Layer: above},
	})
	if err != nil {
		t.Fatalf("layer.New() error = %v", err)
	}
	return s, p, below, above, codec
}

// =============================================================================
// Codec Layer Tests
// =============================================================================

func TestLayer_PushEncodesAndMatchesReceipts(t *testing.T) {
	s, p, below, above, codec := newCodecPipeline(t)

	p.Top().PushOnPrev(newPublish("t", 1, 11, "a"), status.OK)
	p.Top().PushOnPrev(packets.NewControlPacket(packets.Pingreq), status.OK)
	s.Step(0)

	if len(below.pushes) != 2 {
		t.Fatalf("transport received %d frames, want 2", len(below.pushes))
	}
	if frame, ok := below.pushes[1].([]byte); !ok || frame[0] != 0xc0 {
		t.Errorf("second frame = %v, want PINGREQ bytes", below.pushes[1])
	}
	if codec.Pending() != 2 {
		t.Errorf("Pending() = %d, want 2", codec.Pending())
	}

	p.Bottom().PushOnNext(nil, status.Written)
	p.Bottom().PushOnNext(nil, status.FailedWriting)
	s.Step(1)

	if len(above.pushes) != 2 {
		t.Fatalf("logic received %d receipts, want 2", len(above.pushes))
	}
	first := above.pushes[0].(SendReceipt)
	if first.MessageID != 11 || first.Type != packets.Publish || above.codes[0] != status.Written {
		t.Errorf("first receipt = %+v/%v, want PUBLISH 11 written", first, above.codes[0])
	}
	second := above.pushes[1].(SendReceipt)
	if second.Type != packets.Pingreq || above.codes[1] != status.FailedWriting {
		t.Errorf("second receipt = %+v/%v, want PINGREQ failed writing", second, above.codes[1])
	}
}

func TestLayer_PullDecodesStream(t *testing.T) {
	s, p, _, above, _ := newCodecPipeline(t)

	frame := mustEncode(t, newPublish("in", 0, 0, "x"))
	stream := append(mustEncode(t, packets.NewControlPacket(packets.Pingresp)), frame[:3]...)

	p.Bottom().PullOnNext(stream, status.OK)
	s.Step(0)
	if len(above.pushes) != 1 {
		t.Fatalf("logic received %d packets, want 1", len(above.pushes))
	}

	p.Bottom().PullOnNext(frame[3:], status.OK)
	s.Step(1)
	if len(above.pushes) != 2 {
		t.Fatalf("logic received %d packets, want 2", len(above.pushes))
	}
	if _, ok := above.pushes[1].(*packets.PublishPacket); !ok {
		t.Errorf("second packet = %T, want *PublishPacket", above.pushes[1])
	}
}

func TestLayer_PullMalformedClosesPipeline(t *testing.T) {
	s, p, below, above, _ := newCodecPipeline(t)

	p.Bottom().PullOnNext([]byte{0x00, 0x00}, status.OK)
	s.Step(0)

	if len(above.pushes) != 0 {
		t.Errorf("logic received %d packets, want 0", len(above.pushes))
	}
	if len(below.closes) != 1 || below.closes[0] != status.ProtocolError {
		t.Errorf("transport closes = %v, want [protocol error]", below.closes)
	}
}

func TestLayer_CloseExternallyResets(t *testing.T) {
	s, p, _, _, codec := newCodecPipeline(t)

	p.Top().PushOnPrev(packets.NewControlPacket(packets.Pingreq), status.OK)
	s.Step(0)
	p.Bottom().CloseExternallyOnNext(nil, status.SocketReadError)
	s.Step(1)

	if codec.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0 after close", codec.Pending())
	}
}
