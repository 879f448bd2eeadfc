// Package transport provides the datagram transports the tunnel engine
// runs over: plain UDP sockets and a WebSocket adapter for links that must
// traverse HTTP infrastructure.
package transport

import (
	"fmt"
	"net"
	"net/netip"
	"time"
)

// UDP is a datagram transport over a single UDP socket.
type UDP struct {
	conn *net.UDPConn
}

// ListenUDP opens a UDP transport bound to addr ("host:port" or ":port").
func ListenUDP(addr string) (*UDP, error) {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return nil, fmt.Errorf("resolve udp address %q: %w", addr, err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp on %q: %w", addr, err)
	}
	return &UDP{conn: conn}, nil
}

// LocalAddrPort returns the bound socket address.
func (u *UDP) LocalAddrPort() netip.AddrPort {
	return u.conn.LocalAddr().(*net.UDPAddr).AddrPort()
}

// WriteTo sends one datagram to addr.
func (u *UDP) WriteTo(p []byte, addr netip.AddrPort) error {
	_, err := u.conn.WriteToUDPAddrPort(p, addr)
	return err
}

// ReadFrom copies the next waiting datagram into p. When nothing is queued
// it waits at most one millisecond and then reports n == 0. The deadline
// lies in the future because a deadline that has already passed fails the
// read before the socket is looked at, even with a datagram queued.
func (u *UDP) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	if err := u.conn.SetReadDeadline(time.Now().Add(time.Millisecond)); err != nil {
		return 0, netip.AddrPort{}, err
	}
	n, addr, err := u.conn.ReadFromUDPAddrPort(p)
	if err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return 0, netip.AddrPort{}, nil
		}
		return 0, netip.AddrPort{}, err
	}
	return n, addr, nil
}

// Close releases the socket.
func (u *UDP) Close() error {
	return u.conn.Close()
}
