package transport_test

import (
	"net/netip"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/paslavsky/bintunnel/internal/auth"
	"github.com/paslavsky/bintunnel/internal/transport"
)

const wsSecret = "ws-test-secret"

func waitDatagram(t *testing.T, w *transport.Websocket) ([]byte, netip.AddrPort) {
	t.Helper()
	buf := make([]byte, 512)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, from, err := w.ReadFrom(buf)
		require.NoError(t, err)
		if n > 0 {
			return append([]byte(nil), buf[:n]...), from
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("no datagram arrived in time")
	return nil, netip.AddrPort{}
}

func TestWebsocketDatagramExchange(t *testing.T) {
	validator, err := auth.NewValidator(wsSecret)
	require.NoError(t, err)

	server := transport.NewWebsocket(validator, "")
	require.NoError(t, server.Listen("127.0.0.1:0"))
	defer server.Close()

	token, err := auth.NewToken(wsSecret, "node-7", nil, time.Hour)
	require.NoError(t, err)

	client := transport.NewWebsocket(nil, token)
	defer client.Close()

	serverAddr, err := client.Dial("ws://" + server.ListenerAddr() + "/tunnel")
	require.NoError(t, err)

	ping := []byte{0x50, 0x01, 0x01, 0x00, 0x00, 0x97}
	require.NoError(t, client.WriteTo(ping, serverAddr))

	got, clientAddr := waitDatagram(t, server)
	require.Equal(t, ping, got)

	confirm := []byte{0x41, 0x09, 0x01, 0x00, 0x00, 0x97}
	require.NoError(t, server.WriteTo(confirm, clientAddr))

	reply, from := waitDatagram(t, client)
	require.Equal(t, confirm, reply)
	require.Equal(t, serverAddr, from)
}

func TestWebsocketRejectsBadToken(t *testing.T) {
	validator, err := auth.NewValidator(wsSecret)
	require.NoError(t, err)

	server := transport.NewWebsocket(validator, "")
	require.NoError(t, server.Listen("127.0.0.1:0"))
	defer server.Close()

	forged, err := auth.NewToken("wrong-secret", "intruder", nil, time.Hour)
	require.NoError(t, err)

	client := transport.NewWebsocket(nil, forged)
	defer client.Close()

	_, err = client.Dial("ws://" + server.ListenerAddr() + "/tunnel")
	require.Error(t, err)
}

func TestWebsocketWriteToUnknownAddr(t *testing.T) {
	t.Parallel()

	ws := transport.NewWebsocket(nil, "")
	defer ws.Close()

	err := ws.WriteTo([]byte{0x01}, netip.MustParseAddrPort("192.0.2.1:1"))
	require.Error(t, err)
}

func TestWebsocketListenerRequiresValidator(t *testing.T) {
	t.Parallel()

	ws := transport.NewWebsocket(nil, "")
	defer ws.Close()

	require.Error(t, ws.Listen("127.0.0.1:0"))
}
