// Package codec converts MQTT 3.1.1 control packets to and from wire bytes.
//
// Packet encoding and body parsing use the paho packets package. Framing is
// done here so a stream can be decoded incrementally: several packets per
// read, or one packet split across many reads.
package codec

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/eclipse/paho.mqtt.golang/packets"
)

// DefaultMaxPacketSize bounds the remaining length of an inbound packet.
const DefaultMaxPacketSize = 256 * 1024

// maxVarintBytes is the longest remaining-length encoding MQTT allows.
const maxVarintBytes = 4

var (
	// ErrWantMoreData is returned when the buffer holds a partial packet.
	ErrWantMoreData = errors.New("codec: want more data")

	// ErrMalformed is returned for bytes that do not form a valid packet.
	ErrMalformed = errors.New("codec: malformed packet")

	// ErrPacketTooLarge is returned when a packet exceeds the size limit.
	ErrPacketTooLarge = errors.New("codec: packet too large")
)

// Encode serialises a control packet.
func Encode(p packets.ControlPacket) ([]byte, error) {
	if p == nil {
		return nil, fmt.Errorf("%w: nil packet", ErrMalformed)
	}
	var buf bytes.Buffer
	if err := p.Write(&buf); err != nil {
		return nil, fmt.Errorf("codec: encoding %s: %w", TypeName(TypeOf(p)), err)
	}
	return buf.Bytes(), nil
}

// Decoder accumulates stream bytes and yields whole packets.
type Decoder struct {
	buf []byte
	max int
}

// NewDecoder returns a decoder enforcing maxPacketSize on the remaining
// length. Zero selects DefaultMaxPacketSize.
func NewDecoder(maxPacketSize int) *Decoder {
	if maxPacketSize <= 0 {
		maxPacketSize = DefaultMaxPacketSize
	}
	return &Decoder{max: maxPacketSize}
}

// Feed appends received bytes.
func (d *Decoder) Feed(b []byte) {
	d.buf = append(d.buf, b...)
}

// Buffered returns the number of undecoded bytes.
func (d *Decoder) Buffered() int {
	return len(d.buf)
}

// Reset discards buffered bytes.
func (d *Decoder) Reset() {
	d.buf = d.buf[:0]
}

// Decode returns the next complete packet. It returns ErrWantMoreData until
// enough bytes have been fed. Any other error leaves the stream unusable.
func (d *Decoder) Decode() (packets.ControlPacket, error) {
	if len(d.buf) < 2 {
		return nil, ErrWantMoreData
	}

	remaining, n, err := remainingLength(d.buf[1:])
	if err != nil {
		return nil, err
	}
	if remaining > d.max {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit %d", ErrPacketTooLarge, remaining, d.max)
	}

	total := 1 + n + remaining
	if len(d.buf) < total {
		return nil, ErrWantMoreData
	}

	pkt, err := packets.ReadPacket(bytes.NewReader(d.buf[:total]))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	rest := copy(d.buf, d.buf[total:])
	d.buf = d.buf[:rest]
	return pkt, nil
}

// remainingLength decodes the variable-length integer after the first byte.
func remainingLength(b []byte) (value, n int, err error) {
	multiplier := 1
	for i := 0; i < maxVarintBytes; i++ {
		if i >= len(b) {
			return 0, 0, ErrWantMoreData
		}
		digit := b[i]
		value += int(digit&0x7f) * multiplier
		if digit&0x80 == 0 {
			return value, i + 1, nil
		}
		multiplier *= 128
	}
	return 0, 0, fmt.Errorf("%w: remaining length longer than %d bytes", ErrMalformed, maxVarintBytes)
}

// TypeOf returns the control packet type of p, or 0 if unknown.
func TypeOf(p packets.ControlPacket) byte {
	switch p.(type) {
	case *packets.ConnectPacket:
		return packets.Connect
	case *packets.ConnackPacket:
		return packets.Connack
	case *packets.PublishPacket:
		return packets.Publish
	case *packets.PubackPacket:
		return packets.Puback
	case *packets.PubrecPacket:
		return packets.Pubrec
	case *packets.PubrelPacket:
		return packets.Pubrel
	case *packets.PubcompPacket:
		return packets.Pubcomp
	case *packets.SubscribePacket:
		return packets.Subscribe
	case *packets.SubackPacket:
		return packets.Suback
	case *packets.UnsubscribePacket:
		return packets.Unsubscribe
	case *packets.UnsubackPacket:
		return packets.Unsuback
	case *packets.PingreqPacket:
		return packets.Pingreq
	case *packets.PingrespPacket:
		return packets.Pingresp
	case *packets.DisconnectPacket:
		return packets.Disconnect
	default:
		return 0
	}
}

// TypeName returns the upper-case name of a packet type.
func TypeName(t byte) string {
	if name, ok := packets.PacketNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TYPE(%d)", t)
}
