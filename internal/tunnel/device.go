package tunnel

import (
	"net/netip"

	"github.com/paslavsky/bintunnel/internal/iface"
)

// UDPDevice describes a remote endpoint reachable by plain UDP datagrams.
type UDPDevice struct {
	addr netip.AddrPort
}

// NewUDPDevice wraps addr as a connectable device description.
func NewUDPDevice(addr netip.AddrPort) UDPDevice {
	return UDPDevice{addr: addr}
}

func (d UDPDevice) Type() byte { return iface.UDPDeviceType }

func (d UDPDevice) AddrPort() netip.AddrPort { return d.addr }

// connectedDevice is the borrowed view of a peer handed to the
// device-connected callback; it is valid only for the callback's duration.
type connectedDevice struct {
	addr netip.AddrPort
}

func (d connectedDevice) Type() byte { return iface.ConnectedDeviceType }

func (d connectedDevice) AddrPort() netip.AddrPort { return d.addr }
