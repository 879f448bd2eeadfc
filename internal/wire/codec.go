package wire

import (
	"fmt"
	"net/netip"

	"github.com/paslavsky/bintunnel/internal/iface"
)

// Codec reads and writes frames against a datagram transport. It owns a
// single reusable decode buffer: payloads returned by Read alias that
// buffer and are valid only until the next Read.
//
// The codec is not safe for concurrent use; the tunnel drives it from its
// poll loop only.
type Codec struct {
	transport iface.Transport
	buf       []byte
	out       []byte
}

// NewCodec creates a codec over transport.
func NewCodec(transport iface.Transport) *Codec {
	return &Codec{
		transport: transport,
		buf:       make([]byte, FrameMax),
		out:       make([]byte, 0, FrameMax),
	}
}

// Read consumes the next inbound datagram, if any, and parses it into a
// frame. The boolean result is false when no datagram was waiting. On
// parse or validation failure the returned status names the first problem;
// the frame is the zero frame for length errors and the partially decoded
// frame otherwise. The reported address is the datagram's origin.
func (c *Codec) Read() (Frame, ValidationStatus, netip.AddrPort, bool) {
	n, remote, err := c.transport.ReadFrom(c.buf)
	if err != nil {
		return EmptyFrame(), StatusStreamError, remote, true
	}
	if n == 0 {
		return EmptyFrame(), StatusUnexpectedEndOfStream, remote, false
	}
	if n <= HeaderLen {
		return EmptyFrame(), StatusUnexpectedEndOfStream, remote, true
	}

	size := c.buf[3]
	if n != int(size)+HeaderLen+ChecksumLen {
		return EmptyFrame(), StatusUnexpectedEndOfStream, remote, true
	}

	frame := Frame{
		Start:     identifyStartByte(c.buf[0]),
		DeviceID:  c.buf[1],
		MessageID: c.buf[2],
		Size:      size,
	}
	if size > 0 {
		frame.Payload = c.buf[HeaderLen : HeaderLen+int(size)]
	}
	received := uint16(c.buf[n-2])<<8 | uint16(c.buf[n-1])

	status := Validate(frame)
	if status == StatusOK && received != Checksum(frame.Payload) {
		status = StatusIncorrectChecksum
	}
	return frame, status, remote, true
}

// Write emits frame as a single datagram to addr, appending the checksum.
func (c *Codec) Write(frame Frame, addr netip.AddrPort) error {
	if int(frame.Size) != len(frame.Payload) {
		return fmt.Errorf("frame size %d does not match payload length %d", frame.Size, len(frame.Payload))
	}
	c.out = c.out[:0]
	c.out = append(c.out, byte(frame.Start), frame.DeviceID, frame.MessageID, frame.Size)
	c.out = append(c.out, frame.Payload...)
	sum := Checksum(frame.Payload)
	c.out = append(c.out, byte(sum>>8), byte(sum))
	if err := c.transport.WriteTo(c.out, addr); err != nil {
		return fmt.Errorf("write %s frame to %s: %w", frame.Start, addr, err)
	}
	return nil
}

func identifyStartByte(b byte) StartByte {
	if IsSupportedStartByte(b) {
		return StartByte(b)
	}
	return Undefined
}
