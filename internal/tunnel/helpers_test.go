package tunnel

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paslavsky/bintunnel/internal/iface"
	"github.com/paslavsky/bintunnel/internal/wire"
)

var (
	localAddr  = netip.MustParseAddrPort("192.0.2.1:9000")
	remoteAddr = netip.MustParseAddrPort("192.0.2.2:9000")
)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
}

func (c *fakeClock) Now() time.Time { return c.now }

func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

// fixedRandom replays a byte sequence, repeating the last byte forever.
type fixedRandom struct {
	seq []byte
	idx int
}

func (r *fixedRandom) Byte() byte {
	if len(r.seq) == 0 {
		return 0x2A
	}
	b := r.seq[r.idx]
	if r.idx < len(r.seq)-1 {
		r.idx++
	}
	return b
}

type datagram struct {
	data []byte
	addr netip.AddrPort
}

// memTransport is an in-memory datagram transport. Datagrams written to an
// address registered in links are delivered to that transport's inbox;
// everything is also captured in sent for assertions. Unroutable datagrams
// vanish, like UDP.
type memTransport struct {
	addr  netip.AddrPort
	inbox []datagram
	sent  []datagram
	links map[netip.AddrPort]*memTransport
}

func newMemTransport(addr netip.AddrPort) *memTransport {
	return &memTransport{addr: addr, links: make(map[netip.AddrPort]*memTransport)}
}

// link makes datagrams addressed to peer.addr arrive at peer.
func (m *memTransport) link(peer *memTransport) {
	m.links[peer.addr] = peer
}

// deliver queues a raw datagram as if it arrived from from.
func (m *memTransport) deliver(data []byte, from netip.AddrPort) {
	cp := make([]byte, len(data))
	copy(cp, data)
	m.inbox = append(m.inbox, datagram{data: cp, addr: from})
}

func (m *memTransport) WriteTo(p []byte, addr netip.AddrPort) error {
	cp := make([]byte, len(p))
	copy(cp, p)
	m.sent = append(m.sent, datagram{data: cp, addr: addr})
	if peer, ok := m.links[addr]; ok {
		peer.deliver(cp, m.addr)
	}
	return nil
}

func (m *memTransport) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	if len(m.inbox) == 0 {
		return 0, netip.AddrPort{}, nil
	}
	next := m.inbox[0]
	m.inbox = m.inbox[1:]
	return copy(p, next.data), next.addr, nil
}

// sentFrames decodes every captured outbound datagram.
func (m *memTransport) sentFrames(t *testing.T) []wire.Frame {
	t.Helper()
	frames := make([]wire.Frame, 0, len(m.sent))
	for _, d := range m.sent {
		frames = append(frames, parseFrame(t, d.data))
	}
	return frames
}

func (m *memTransport) lastFrame(t *testing.T) wire.Frame {
	t.Helper()
	require.NotEmpty(t, m.sent)
	return parseFrame(t, m.sent[len(m.sent)-1].data)
}

func parseFrame(t *testing.T, b []byte) wire.Frame {
	t.Helper()
	require.GreaterOrEqual(t, len(b), wire.HeaderLen+wire.ChecksumLen)
	f := wire.Frame{
		Start:     wire.StartByte(b[0]),
		DeviceID:  b[1],
		MessageID: b[2],
		Size:      b[3],
	}
	if f.Size > 0 {
		f.Payload = b[wire.HeaderLen : wire.HeaderLen+int(f.Size)]
	}
	return f
}

// encodeDatagram builds the wire form of a frame with a valid checksum.
func encodeDatagram(start wire.StartByte, deviceID, messageID byte, payload []byte) []byte {
	b := []byte{byte(start), deviceID, messageID, byte(len(payload))}
	b = append(b, payload...)
	sum := wire.Checksum(payload)
	return append(b, byte(sum>>8), byte(sum))
}

// events collects every callback a tunnel fires.
type events struct {
	connected    []byte
	disconnected []byte
	messages     map[byte][]string
	errors       []ErrorCode
	errorIDs     []byte
}

func captureEvents(tun *Tunnel) *events {
	ev := &events{messages: make(map[byte][]string)}
	tun.OnDeviceConnected(func(id byte, _ iface.DeviceInfo) {
		ev.connected = append(ev.connected, id)
	})
	tun.OnDeviceDisconnected(func(id byte) {
		ev.disconnected = append(ev.disconnected, id)
	})
	tun.OnMessageReceived(func(id byte, payload []byte) {
		ev.messages[id] = append(ev.messages[id], string(payload))
	})
	tun.OnError(func(id byte, code ErrorCode, _ string) {
		ev.errors = append(ev.errors, code)
		ev.errorIDs = append(ev.errorIDs, id)
	})
	return ev
}
