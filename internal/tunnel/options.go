package tunnel

import (
	crand "crypto/rand"
	"time"

	"github.com/paslavsky/bintunnel/internal/iface"
)

// Default engine timings and protocol parameters.
const (
	DefaultLostPacketTimeout   = 1000 * time.Millisecond
	DefaultPingFrequency       = 1000 * time.Millisecond
	DefaultStaleTimeout        = 10000 * time.Millisecond
	DefaultDisconnectedTimeout = 10000 * time.Millisecond

	// ProtocolVersion is the version byte carried in handshake payloads.
	ProtocolVersion byte = 1
)

// Options tune a Tunnel. The zero value of each field selects its default.
type Options struct {
	// LostPacketTimeout is how long an outbound frame may stay
	// unacknowledged before it counts as lost.
	LostPacketTimeout time.Duration
	// PingFrequency is the outbound PING cadence per peer.
	PingFrequency time.Duration
	// StaleTimeout moves a silent Connected peer to Lost and also expires
	// in-flight handshakes.
	StaleTimeout time.Duration
	// DisconnectedTimeout removes a Lost peer that stays silent.
	DisconnectedTimeout time.Duration
	// DisconnectOnLostPackets, when non-zero, moves a peer to Lost as soon
	// as its lost-frame count exceeds the threshold.
	DisconnectOnLostPackets uint8
	// Clock and Rand are injectable for deterministic tests; they default
	// to the system clock and crypto/rand.
	Clock iface.Clock
	Rand  iface.Random
}

func (o *Options) withDefaults() Options {
	opts := *o
	if opts.LostPacketTimeout == 0 {
		opts.LostPacketTimeout = DefaultLostPacketTimeout
	}
	if opts.PingFrequency == 0 {
		opts.PingFrequency = DefaultPingFrequency
	}
	if opts.StaleTimeout == 0 {
		opts.StaleTimeout = DefaultStaleTimeout
	}
	if opts.DisconnectedTimeout == 0 {
		opts.DisconnectedTimeout = DefaultDisconnectedTimeout
	}
	if opts.Clock == nil {
		opts.Clock = systemClock{}
	}
	if opts.Rand == nil {
		opts.Rand = systemRandom{}
	}
	return opts
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

type systemRandom struct{}

func (systemRandom) Byte() byte {
	var b [1]byte
	_, _ = crand.Read(b[:])
	return b[0]
}
