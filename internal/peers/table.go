// Package peers holds the tunnel's view of remote devices: one record per
// known device id with its transport address, lifecycle state and liveness
// accounting.
package peers

import (
	"net/netip"
	"time"
)

// State is the lifecycle state of a known peer.
type State int

const (
	// Connected means the peer completed a handshake and has shown recent
	// activity.
	Connected State = iota
	// Lost means the peer stopped responding but is still tracked.
	Lost
	// Disconnected is the terminal state just before removal.
	Disconnected
)

func (s State) String() string {
	switch s {
	case Connected:
		return "CONNECTED"
	case Lost:
		return "LOST"
	case Disconnected:
		return "DISCONNECTED"
	default:
		return "UNKNOWN"
	}
}

// Peer is the per-device record. The table owns these records; callers that
// receive a *Peer must not retain it past the current poll iteration.
type Peer struct {
	Addr        netip.AddrPort
	State       State
	LastSeen    time.Time // last inbound frame from the peer
	LastUpdated time.Time // last state change or accounting event
	LastPing    time.Time // last outbound PING
	Errors      uint8     // inbound NACKs attributed to this peer
	Lost        uint8     // outbound frames whose ack deadline elapsed
}

// Table maps device ids to peer records.
type Table struct {
	peers map[byte]*Peer
}

// NewTable creates an empty peer table.
func NewTable() *Table {
	return &Table{peers: make(map[byte]*Peer)}
}

// Insert registers a freshly handshaken peer in the Connected state with
// every liveness timestamp set to now, replacing any previous record.
func (t *Table) Insert(id byte, addr netip.AddrPort, now time.Time) *Peer {
	p := &Peer{
		Addr:        addr,
		State:       Connected,
		LastSeen:    now,
		LastUpdated: now,
		LastPing:    now,
	}
	t.peers[id] = p
	return p
}

// Get returns the record for id, if any.
func (t *Table) Get(id byte) (*Peer, bool) {
	p, ok := t.peers[id]
	return p, ok
}

// Remove deletes the record for id.
func (t *Table) Remove(id byte) {
	delete(t.peers, id)
}

// Contains reports whether id has a record.
func (t *Table) Contains(id byte) bool {
	_, ok := t.peers[id]
	return ok
}

// IDs returns a snapshot of the known device ids, so callers can mutate the
// table while walking it.
func (t *Table) IDs() []byte {
	ids := make([]byte, 0, len(t.peers))
	for id := range t.peers {
		ids = append(ids, id)
	}
	return ids
}

// Len returns the number of known peers.
func (t *Table) Len() int {
	return len(t.peers)
}

// IsConnected reports whether id is known and in the Connected state.
func (t *Table) IsConnected(id byte) bool {
	p, ok := t.peers[id]
	return ok && p.State == Connected
}

// IsKnown reports whether id has a record in any state.
func (t *Table) IsKnown(id byte) bool {
	return t.Contains(id)
}

// IsLost reports whether id is known and in the Lost state.
func (t *Table) IsLost(id byte) bool {
	p, ok := t.peers[id]
	return ok && p.State == Lost
}
