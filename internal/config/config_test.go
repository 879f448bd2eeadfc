package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigUDP(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
deviceId: 7
transport: udp
listenAddress: ":9000"
peers:
  - "192.0.2.10:9000"
lostPacketTimeoutMs: 1500
pingFrequencyMs: 2000
staleTimeoutMs: 12000
disconnectedTimeoutMs: 15000
disconnectOnLostPackets: 3
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, 7, cfg.DeviceID)
	require.Equal(t, TransportUDP, cfg.Transport)
	require.Equal(t, []string{"192.0.2.10:9000"}, cfg.Peers)
	require.Equal(t, 1500*time.Millisecond, cfg.LostPacketTimeout())
	require.Equal(t, 2*time.Second, cfg.PingFrequency())
	require.Equal(t, 12*time.Second, cfg.StaleTimeout())
	require.Equal(t, 15*time.Second, cfg.DisconnectedTimeout())
	require.Equal(t, 3, cfg.DisconnectOnLostPackets)
}

func TestLoadConfigWebsocket(t *testing.T) {
	t.Parallel()

	path := writeConfig(t, `
deviceId: 9
transport: websocket
websocket:
  listenAddress: ":8080"
  tokenSecret: "hush"
  token: "eyJ..."
  peers:
    - "ws://peer.example:8080/tunnel"
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, ":8080", cfg.Websocket.ListenAddress)
	require.Equal(t, "hush", cfg.Websocket.TokenSecret)
	require.Len(t, cfg.Websocket.Peers, 1)
}

func TestPollIntervalDefault(t *testing.T) {
	t.Parallel()

	cfg := &Config{}
	require.Equal(t, 10*time.Millisecond, cfg.PollInterval())
	cfg.PollIntervalMs = 50
	require.Equal(t, 50*time.Millisecond, cfg.PollInterval())
}

func TestLoadConfigMissingFile(t *testing.T) {
	t.Parallel()

	_, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.Error(t, err)
}

func TestValidateFailures(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		yaml string
	}{
		{"missing device id", "transport: udp\nlistenAddress: ':9000'\n"},
		{"device id too large", "deviceId: 300\ntransport: udp\nlistenAddress: ':9000'\n"},
		{"missing transport", "deviceId: 7\n"},
		{"unknown transport", "deviceId: 7\ntransport: carrier-pigeon\n"},
		{"udp without listen address", "deviceId: 7\ntransport: udp\n"},
		{"websocket without endpoints", "deviceId: 7\ntransport: websocket\n"},
		{"websocket listener without secret", "deviceId: 7\ntransport: websocket\nwebsocket:\n  listenAddress: ':8080'\n"},
		{"websocket peers without token", "deviceId: 7\ntransport: websocket\nwebsocket:\n  peers: ['ws://x/tunnel']\n"},
		{"negative timeout", "deviceId: 7\ntransport: udp\nlistenAddress: ':9000'\nstaleTimeoutMs: -1\n"},
		{"loss threshold too large", "deviceId: 7\ntransport: udp\nlistenAddress: ':9000'\ndisconnectOnLostPackets: 300\n"},
		{"not yaml", "deviceId: [unterminated\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tc.yaml))
			require.Error(t, err)
		})
	}
}
