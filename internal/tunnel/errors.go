package tunnel

import "errors"

// ErrorCode identifies an operational error surfaced through the error
// callback. The numeric values are part of the public contract.
type ErrorCode int

const (
	NoError              ErrorCode = 0
	DeviceNotConnected   ErrorCode = 1
	DeviceLost           ErrorCode = 2
	IncorrectFormatError ErrorCode = 3
)

func (c ErrorCode) String() string {
	switch c {
	case NoError:
		return "NO_ERROR"
	case DeviceNotConnected:
		return "DEVICE_NOT_CONNECTED"
	case DeviceLost:
		return "DEVICE_LOST"
	case IncorrectFormatError:
		return "INCORRECT_FORMAT_ERROR"
	default:
		return "UNKNOWN"
	}
}

// ErrDeviceNotConnected is returned by Send when the target peer is not in
// the Connected state. The same condition is reported through the error
// callback as DeviceNotConnected.
var ErrDeviceNotConnected = errors.New("device not connected")

// ErrPayloadSize is returned by Send for payloads outside 1..255 bytes:
// the wire size field is a single byte and data frames require a payload.
var ErrPayloadSize = errors.New("payload must be 1..255 bytes")
