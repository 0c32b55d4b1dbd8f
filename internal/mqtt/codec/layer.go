package codec

import (
	"errors"
	"log/slog"

	"github.com/eclipse/paho.mqtt.golang/packets"

	"github.com/nerrad567/gray-logic-edge/internal/layer"
	"github.com/nerrad567/gray-logic-edge/internal/status"
)

// SendReceipt identifies an encoded packet when the transport reports
// the outcome of writing it.
type SendReceipt struct {
	MessageID uint16
	Type      byte
}

// Logger is the logging interface used by the codec layer.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Layer sits between the transport and the protocol logic.
//
// Going down it encodes packets into frames and remembers a receipt per
// frame; write confirmations coming back from the transport are matched to
// receipts in order and carried up. Going up it decodes the byte stream and
// delivers one packet per Pull.
type Layer struct {
	dec      *Decoder
	receipts []SendReceipt
	logger   Logger
}

// NewLayer creates a codec layer. maxPacketSize bounds inbound packets.
func NewLayer(maxPacketSize int, logger Logger) *Layer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Layer{
		dec:    NewDecoder(maxPacketSize),
		logger: logger,
	}
}

// Pending returns the number of frames awaiting a write confirmation.
func (c *Layer) Pending() int {
	return len(c.receipts)
}

func (c *Layer) Push(l *layer.Link, data any, in status.Code) status.Code {
	switch in {
	case status.Written, status.FailedWriting:
		if len(c.receipts) == 0 {
			c.logger.Warn("codec: write confirmation without pending frame", "status", in.String())
			return status.InternalError
		}
		receipt := c.receipts[0]
		c.receipts = c.receipts[1:]
		return l.PushOnNext(receipt, in)

	case status.OK:
		pkt, ok := data.(packets.ControlPacket)
		if !ok || pkt == nil {
			c.logger.Warn("codec: push without a control packet")
			return status.InternalError
		}

		receipt := SendReceipt{MessageID: pkt.Details().MessageID, Type: TypeOf(pkt)}
		frame, err := Encode(pkt)
		if err != nil {
			c.logger.Warn("codec: encoding failed", "type", TypeName(receipt.Type), "error", err)
			return l.PushOnNext(receipt, status.FailedWriting)
		}
		receipt.Type = frame[0] >> 4

		c.receipts = append(c.receipts, receipt)
		return l.PushOnPrev(frame, status.OK)

	default:
		return l.PushOnNext(data, in)
	}
}

func (c *Layer) Pull(l *layer.Link, data any, in status.Code) status.Code {
	if in != status.OK {
		return l.PullOnNext(nil, in)
	}

	chunk, ok := data.([]byte)
	if !ok {
		c.logger.Warn("codec: pull without bytes")
		return status.InternalError
	}
	c.dec.Feed(chunk)

	for {
		pkt, err := c.dec.Decode()
		if errors.Is(err, ErrWantMoreData) {
			return status.OK
		}
		if err != nil {
			c.logger.Warn("codec: decoding failed", "error", err)
			c.dec.Reset()
			l.CloseOnPrev(nil, status.ProtocolError)
			return status.ProtocolError
		}
		l.PullOnNext(pkt, status.OK)
	}
}

func (c *Layer) Init(l *layer.Link, data any, in status.Code) status.Code {
	c.reset()
	return l.InitOnPrev(data, in)
}

func (c *Layer) Connect(l *layer.Link, data any, in status.Code) status.Code {
	return l.ConnectOnNext(data, in)
}

func (c *Layer) Close(l *layer.Link, data any, in status.Code) status.Code {
	return l.CloseOnPrev(data, in)
}

func (c *Layer) CloseExternally(l *layer.Link, data any, in status.Code) status.Code {
	if n := len(c.receipts); n > 0 {
		c.logger.Debug("codec: dropping unconfirmed frames", "count", n)
	}
	c.reset()
	return l.CloseExternallyOnNext(data, in)
}

func (c *Layer) PostConnect(l *layer.Link, data any, in status.Code) status.Code {
	return l.PostConnectOnPrev(data, in)
}

func (c *Layer) reset() {
	c.dec.Reset()
	c.receipts = nil
}
