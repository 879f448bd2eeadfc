package tunnel

// Handshake payloads carry three bytes: the protocol version and a one-byte
// seed encoded against the sender's device id. The low byte is the additive
// mix the receiver inverts with its own id; the high byte is the XOR mix
// used as verification material.

// encodeSeed mixes id and seed into the two payload bytes.
func encodeSeed(id, seed byte) uint16 {
	return uint16(id^seed)<<8 | uint16(id+seed)
}

// decodeSeed recovers, from the low encoded byte, the seed in the keyspace
// of the device with the given id. Each side of a handshake decodes with
// its own id, so the two tables are keyed independently but consistently:
// low = sender_id + sender_seed holds for every step of one exchange.
func decodeSeed(id, low byte) byte {
	return low - id
}

// verifyEncodedSeed checks the XOR half of the payload against the additive
// half, using the sender's id from the frame header. A mismatch means the
// payload was not produced by the claimed sender for a single seed.
func verifyEncodedSeed(senderID, low, high byte) bool {
	return high == senderID^(low-senderID)
}
