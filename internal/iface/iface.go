package iface

import (
	"net/netip"
	"time"
)

// Device info discriminants. RTTI-free tagging so transports can be told
// apart without type switches at the protocol boundary.
const (
	UDPDeviceType       byte = 0x01
	ConnectedDeviceType byte = 0x02
	WebsocketDeviceType byte = 0x03
)

// DeviceInfo describes a remote endpoint. The tunnel only ever looks at the
// discriminant and the transport address.
type DeviceInfo interface {
	Type() byte
	AddrPort() netip.AddrPort
}

// Transport is a datagram transport. Both methods are called from the
// tunnel's poll loop only and must not block beyond a brief, bounded wait.
type Transport interface {
	// WriteTo sends one datagram to addr.
	WriteTo(p []byte, addr netip.AddrPort) error
	// ReadFrom copies the next inbound datagram into p and reports its
	// length and origin. It returns n == 0 when no datagram is waiting.
	// A datagram longer than p is truncated to len(p).
	ReadFrom(p []byte) (n int, addr netip.AddrPort, err error)
}

// Clock supplies the current time. Injected so tests can drive timeouts
// deterministically.
type Clock interface {
	Now() time.Time
}

// Random supplies handshake seed bytes. Need not be cryptographic.
type Random interface {
	Byte() byte
}

// Tunnel is the connection-oriented messaging engine over a Transport.
// Progress is made exclusively by repeated Poll calls; none of the methods
// may be invoked concurrently with Poll from another goroutine.
type Tunnel interface {
	// ID returns the local device id.
	ID() byte
	// Send transmits an application payload to a connected peer and
	// registers the frame for acknowledgement tracking.
	Send(to byte, payload []byte) error
	// Connect starts a handshake with the device described by info.
	Connect(info DeviceInfo)
	// Disconnect tears down the peer synchronously, notifying it first.
	Disconnect(id byte)
	// Poll reads at most one inbound datagram, dispatches it, and performs
	// the periodic bookkeeping (ack expiry, pings, liveness, stale
	// handshake cleanup).
	Poll()

	IsConnected(id byte) bool
	IsKnown(id byte) bool
	IsLost(id byte) bool
}
