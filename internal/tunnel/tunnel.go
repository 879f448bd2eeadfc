// Package tunnel implements the connection-oriented messaging engine: the
// handshake state machine, per-message acknowledgement tracking, liveness
// pings and peer lifecycle over an unreliable datagram transport.
package tunnel

import (
	"log"
	"net/netip"

	"github.com/paslavsky/bintunnel/internal/iface"
	"github.com/paslavsky/bintunnel/internal/peers"
	"github.com/paslavsky/bintunnel/internal/pending"
	"github.com/paslavsky/bintunnel/internal/wire"
)

// Tunnel drives the protocol for one local device id. It is single-threaded
// and cooperatively scheduled: all progress happens inside Poll, and no
// method may be called concurrently with another.
type Tunnel struct {
	id    byte
	opts  Options
	codec *wire.Codec
	clock iface.Clock
	rand  iface.Random

	peers      *peers.Table
	acks       *pending.AckTable
	handshakes *pending.HandshakeTable

	messageCounter byte

	onConnected    func(id byte, info iface.DeviceInfo)
	onDisconnected func(id byte)
	onMessage      func(id byte, payload []byte)
	onError        func(id byte, code ErrorCode, message string)
}

var _ iface.Tunnel = (*Tunnel)(nil)

// New creates a tunnel for the given local device id over transport.
func New(id byte, transport iface.Transport, opts Options) *Tunnel {
	resolved := opts.withDefaults()
	return &Tunnel{
		id:         id,
		opts:       resolved,
		codec:      wire.NewCodec(transport),
		clock:      resolved.Clock,
		rand:       resolved.Rand,
		peers:      peers.NewTable(),
		acks:       pending.NewAckTable(),
		handshakes: pending.NewHandshakeTable(),
	}
}

// ID returns the local device id.
func (t *Tunnel) ID() byte { return t.id }

// OnDeviceConnected registers the callback fired when a handshake completes.
// The DeviceInfo argument is borrowed and valid only during the callback.
func (t *Tunnel) OnDeviceConnected(fn func(id byte, info iface.DeviceInfo)) {
	t.onConnected = fn
}

// OnDeviceDisconnected registers the callback fired when a peer leaves the
// table: inbound DISCONNECT, local Disconnect, or timeout teardown.
func (t *Tunnel) OnDeviceDisconnected(fn func(id byte)) {
	t.onDisconnected = fn
}

// OnMessageReceived registers the callback fired for inbound application
// payloads. The payload aliases the codec's decode buffer and is valid only
// until the callback returns; copy it to retain it.
func (t *Tunnel) OnMessageReceived(fn func(id byte, payload []byte)) {
	t.onMessage = fn
}

// OnError registers the callback fired for operational errors.
func (t *Tunnel) OnError(fn func(id byte, code ErrorCode, message string)) {
	t.onError = fn
}

// Send transmits payload to the connected peer and registers the frame for
// acknowledgement. Targets that are unknown, lost or disconnected fail with
// ErrDeviceNotConnected, also reported through the error callback.
func (t *Tunnel) Send(to byte, payload []byte) error {
	if len(payload) == 0 || len(payload) > wire.PayloadMax-1 {
		return ErrPayloadSize
	}
	if !t.peers.IsConnected(to) {
		t.emitError(to, DeviceNotConnected, "device not connected")
		return ErrDeviceNotConnected
	}
	peer, _ := t.peers.Get(to)
	messageID := t.transmit(peer.Addr, wire.StartV1, payload)
	t.acks.Insert(messageID, to, t.clock.Now())
	return nil
}

// Connect starts a handshake with the device described by info. The result
// is reported asynchronously through the connected callback; a handshake
// that never completes expires after the stale timeout.
func (t *Tunnel) Connect(info iface.DeviceInfo) {
	switch info.Type() {
	case iface.UDPDeviceType, iface.ConnectedDeviceType, iface.WebsocketDeviceType:
		t.ConnectAddr(info.AddrPort())
	default:
		log.Printf("WARN: [TUNNEL] Unsupported device info type 0x%02X", info.Type())
	}
}

// ConnectAddr starts a handshake with the device listening at addr.
func (t *Tunnel) ConnectAddr(addr netip.AddrPort) {
	seed := t.generateSeed()
	t.handshakes.Insert(seed, addr, t.clock.Now())
	t.sendHandshake(wire.HandshakeInit, seed, addr)
	log.Printf("INFO: [TUNNEL] Handshake started with %s", addr)
}

// Disconnect notifies the peer and removes it synchronously. Unknown ids
// are ignored.
func (t *Tunnel) Disconnect(id byte) {
	peer, ok := t.peers.Get(id)
	if !ok {
		return
	}
	peer.State = peers.Disconnected
	t.transmit(peer.Addr, wire.Disconnect, nil)
	t.peers.Remove(id)
	t.emitDisconnected(id)
	log.Printf("INFO: [TUNNEL] Device %d disconnected locally", id)
}

// IsConnected reports whether id is known and connected.
func (t *Tunnel) IsConnected(id byte) bool { return t.peers.IsConnected(id) }

// IsKnown reports whether id is known in any state.
func (t *Tunnel) IsKnown(id byte) bool { return t.peers.IsKnown(id) }

// IsLost reports whether id is known but unresponsive.
func (t *Tunnel) IsLost(id byte) bool { return t.peers.IsLost(id) }

// Poll makes one unit of progress: it reads and dispatches at most one
// inbound datagram, expires unacknowledged frames, pings and ages peers,
// and drops stale handshakes. The host must call it repeatedly.
func (t *Tunnel) Poll() {
	t.readInbound()
	t.sweepAcks()
	t.updatePeers()
	t.handshakes.Sweep(t.clock.Now(), t.opts.StaleTimeout)
}

func (t *Tunnel) readInbound() {
	frame, status, remote, ok := t.codec.Read()
	if !ok {
		return
	}
	if status != wire.StatusOK {
		t.processInvalidFrame(frame, status, remote)
		return
	}
	t.processFrame(frame, remote)
}

// processInvalidFrame handles frames that failed structural or checksum
// validation: best-effort ack resolution plus the appropriate NACK reply.
func (t *Tunnel) processInvalidFrame(frame wire.Frame, status wire.ValidationStatus, remote netip.AddrPort) {
	if frame.MessageID != 0 {
		t.acks.Resolve(frame.MessageID)
	}
	switch status {
	case wire.StatusMissedStartByte, wire.StatusMissedDeviceID, wire.StatusIncorrectFormat:
		t.transmit(remote, wire.IncorrectFormat, nil)
	case wire.StatusIncorrectChecksum:
		t.transmit(remote, wire.IncorrectChecksum, nil)
	}
	log.Printf("DEBUG: [TUNNEL] Dropped invalid frame from %s (%s)", remote, status)
}

func (t *Tunnel) processFrame(frame wire.Frame, remote netip.AddrPort) {
	sender := frame.DeviceID
	known := t.peers.IsKnown(sender)

	// Stranger rule: data and control frames from devices that never
	// completed a handshake get a single DISCONNECT and nothing else.
	if (wire.IsVersionStartByte(byte(frame.Start)) || wire.IsControlStartByte(byte(frame.Start))) && !known {
		t.transmit(remote, wire.Disconnect, nil)
		log.Printf("DEBUG: [TUNNEL] %s frame from unknown device %d at %s", frame.Start, sender, remote)
		return
	}

	switch frame.Start {
	case wire.StartV1:
		messageID := t.transmit(remote, wire.Confirm, nil)
		t.acks.Insert(messageID, sender, t.clock.Now())
		t.recordActivity(sender)
		if t.onMessage != nil {
			t.onMessage(sender, frame.Payload)
		}

	case wire.Confirm:
		t.acks.Resolve(frame.MessageID)
		t.recordActivity(sender)

	case wire.IncorrectFormat, wire.IncorrectChecksum, wire.Rejected:
		t.acks.Resolve(frame.MessageID)
		t.recordError(sender)
		t.emitError(sender, IncorrectFormatError, "peer rejected frame: "+frame.Start.String())

	case wire.Ping:
		messageID := t.transmit(remote, wire.Confirm, nil)
		t.acks.Insert(messageID, sender, t.clock.Now())
		t.recordActivity(sender)

	case wire.HandshakeInit:
		t.handleHandshakeInit(frame, remote)

	case wire.HandshakeResp:
		t.handleHandshakeResp(frame, remote)

	case wire.HandshakeComplete:
		t.handleHandshakeComplete(frame, remote)

	case wire.Disconnect:
		if known {
			if peer, ok := t.peers.Get(sender); ok {
				peer.State = peers.Disconnected
			}
			t.peers.Remove(sender)
			t.emitDisconnected(sender)
			log.Printf("INFO: [TUNNEL] Device %d disconnected", sender)
		}
	}
}

// handleHandshakeInit is the responder's first step: validate the payload,
// remember the initiator under the locally decoded seed, and answer with
// HANDSHAKE_RESP.
func (t *Tunnel) handleHandshakeInit(frame wire.Frame, remote netip.AddrPort) {
	seed, ok := t.acceptHandshakePayload(frame, remote, true)
	if !ok {
		return
	}
	t.handshakes.Insert(seed, remote, t.clock.Now())
	t.sendHandshake(wire.HandshakeResp, seed, remote)
	log.Printf("DEBUG: [TUNNEL] Handshake init from device %d at %s", frame.DeviceID, remote)
}

// handleHandshakeResp is the initiator's terminal step: the responder
// echoed our challenge, so the peer becomes connected here and the
// exchange is closed with HANDSHAKE_COMPLETE.
func (t *Tunnel) handleHandshakeResp(frame wire.Frame, remote netip.AddrPort) {
	seed, ok := t.acceptHandshakePayload(frame, remote, true)
	if !ok {
		return
	}
	entry, ok := t.handshakes.Take(seed)
	if !ok {
		t.transmit(remote, wire.Rejected, nil)
		log.Printf("WARN: [TUNNEL] Handshake response from device %d with unknown seed", frame.DeviceID)
		return
	}
	t.sendHandshake(wire.HandshakeComplete, seed, entry.Addr)
	t.establishPeer(frame.DeviceID, entry.Addr)
}

// handleHandshakeComplete is the responder's terminal step.
func (t *Tunnel) handleHandshakeComplete(frame wire.Frame, remote netip.AddrPort) {
	seed, ok := t.acceptHandshakePayload(frame, remote, false)
	if !ok {
		return
	}
	entry, ok := t.handshakes.Take(seed)
	if !ok {
		t.transmit(remote, wire.Rejected, nil)
		log.Printf("WARN: [TUNNEL] Handshake completion from device %d with unknown seed", frame.DeviceID)
		return
	}
	t.establishPeer(frame.DeviceID, entry.Addr)
}

// acceptHandshakePayload checks the version byte (when the step requires
// it) and the XOR verification byte, answering REJECTED on mismatch, and
// returns the seed decoded into the local keyspace.
func (t *Tunnel) acceptHandshakePayload(frame wire.Frame, remote netip.AddrPort, checkVersion bool) (byte, bool) {
	version, low, high := frame.Payload[0], frame.Payload[1], frame.Payload[2]
	if checkVersion && version != ProtocolVersion {
		t.transmit(remote, wire.Rejected, nil)
		log.Printf("WARN: [TUNNEL] Device %d offered unsupported protocol version %d", frame.DeviceID, version)
		return 0, false
	}
	if !verifyEncodedSeed(frame.DeviceID, low, high) {
		t.transmit(remote, wire.Rejected, nil)
		log.Printf("WARN: [TUNNEL] Device %d sent an inconsistent handshake payload", frame.DeviceID)
		return 0, false
	}
	return decodeSeed(t.id, low), true
}

// establishPeer inserts the peer as connected and fires the connected
// callback. Exactly one insertion happens per completed handshake on each
// side: the initiator's on HANDSHAKE_RESP, the responder's on
// HANDSHAKE_COMPLETE.
func (t *Tunnel) establishPeer(id byte, addr netip.AddrPort) {
	t.peers.Insert(id, addr, t.clock.Now())
	log.Printf("INFO: [TUNNEL] Device %d connected via %s", id, addr)
	if t.onConnected != nil {
		t.onConnected(id, connectedDevice{addr: addr})
	}
}

// sendHandshake emits one handshake frame carrying the version and the
// seed encoded against the local id.
func (t *Tunnel) sendHandshake(start wire.StartByte, seed byte, addr netip.AddrPort) {
	enc := encodeSeed(t.id, seed)
	payload := []byte{ProtocolVersion, byte(enc), byte(enc >> 8)}
	t.transmit(addr, start, payload)
}

// transmit writes one frame with a fresh message id and returns that id.
func (t *Tunnel) transmit(addr netip.AddrPort, start wire.StartByte, payload []byte) byte {
	frame := wire.Frame{
		Start:     start,
		DeviceID:  t.id,
		MessageID: t.nextMessageID(),
		Size:      byte(len(payload)),
		Payload:   payload,
	}
	if err := t.codec.Write(frame, addr); err != nil {
		log.Printf("ERROR: [TUNNEL] %v", err)
	}
	return frame.MessageID
}

// nextMessageID advances the rolling counter, skipping 0, which marks an
// absent message id on the wire.
func (t *Tunnel) nextMessageID() byte {
	if t.messageCounter == 255 {
		t.messageCounter = 1
	} else {
		t.messageCounter++
	}
	return t.messageCounter
}

// generateSeed draws a random seed that does not collide with an in-flight
// handshake.
func (t *Tunnel) generateSeed() byte {
	seed := t.rand.Byte()
	for t.handshakes.Contains(seed) {
		seed = t.rand.Byte()
	}
	return seed
}

// sweepAcks expires unacknowledged frames and charges each loss to the
// addressed peer.
func (t *Tunnel) sweepAcks() {
	now := t.clock.Now()
	for _, id := range t.acks.Sweep(now, t.opts.LostPacketTimeout) {
		peer, ok := t.peers.Get(id)
		if !ok {
			continue
		}
		peer.Lost++
		peer.LastUpdated = now
		log.Printf("DEBUG: [TUNNEL] Device %d did not confirm a frame in time", id)
	}
}

// updatePeers performs the per-peer periodic work: pings, loss-triggered
// and staleness-triggered LOST transitions, and final timeout teardown.
func (t *Tunnel) updatePeers() {
	now := t.clock.Now()
	for _, id := range t.peers.IDs() {
		peer, ok := t.peers.Get(id)
		if !ok {
			continue
		}

		if now.Sub(peer.LastPing) >= t.opts.PingFrequency {
			messageID := t.transmit(peer.Addr, wire.Ping, nil)
			t.acks.Insert(messageID, id, now)
			peer.LastPing = now
		}

		threshold := t.opts.DisconnectOnLostPackets
		switch {
		case threshold > 0 && peer.State == peers.Connected && peer.Lost > threshold:
			peer.State = peers.Lost
			peer.LastUpdated = now
			t.emitError(id, DeviceLost, "device lost")
			log.Printf("WARN: [TUNNEL] Device %d lost too many frames", id)

		case peer.State == peers.Connected && now.Sub(peer.LastSeen) > t.opts.StaleTimeout:
			peer.State = peers.Lost
			peer.LastUpdated = now
			t.emitError(id, DeviceLost, "device lost")
			log.Printf("WARN: [TUNNEL] Device %d went stale", id)

		case peer.State == peers.Lost && now.Sub(peer.LastSeen) > t.opts.DisconnectedTimeout:
			t.transmit(peer.Addr, wire.Disconnect, nil)
			t.peers.Remove(id)
			t.emitDisconnected(id)
			log.Printf("INFO: [TUNNEL] Device %d removed after disconnect timeout", id)
		}
	}
}

// recordActivity credits the sender with a validated inbound frame: all
// liveness counters reset, and a lost peer recovers to connected.
func (t *Tunnel) recordActivity(id byte) {
	peer, ok := t.peers.Get(id)
	if !ok {
		return
	}
	now := t.clock.Now()
	peer.Lost = 0
	peer.Errors = 0
	peer.LastSeen = now
	peer.LastUpdated = now
	peer.LastPing = now
	if peer.State == peers.Lost {
		peer.State = peers.Connected
		log.Printf("INFO: [TUNNEL] Device %d recovered", id)
	}
}

// recordError charges the sender with an inbound NACK. The frame still
// counts as activity for staleness purposes.
func (t *Tunnel) recordError(id byte) {
	peer, ok := t.peers.Get(id)
	if !ok {
		return
	}
	now := t.clock.Now()
	peer.LastSeen = now
	peer.LastUpdated = now
	peer.Errors++
}

func (t *Tunnel) emitError(id byte, code ErrorCode, message string) {
	if t.onError != nil {
		t.onError(id, code, message)
	}
}

func (t *Tunnel) emitDisconnected(id byte) {
	if t.onDisconnected != nil {
		t.onDisconnected(id)
	}
}
