// Package config loads and validates the node configuration from a YAML
// file.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Transport kinds accepted in the configuration.
const (
	TransportUDP       = "udp"
	TransportWebsocket = "websocket"
)

// WebsocketConfig holds the settings of the WebSocket transport.
type WebsocketConfig struct {
	// ListenAddress accepts inbound upgrade requests; empty disables the
	// listener.
	ListenAddress string `yaml:"listenAddress"`
	// TokenSecret is the shared HMAC secret used to validate dialer tokens.
	TokenSecret string `yaml:"tokenSecret"`
	// Token is presented when dialing out to other nodes.
	Token string `yaml:"token"`
	// Peers are listener URLs (ws://host:port/tunnel) to dial and handshake
	// with on startup.
	Peers []string `yaml:"peers"`
}

// Config holds the entire node configuration, loaded from a YAML file.
type Config struct {
	DeviceID      int    `yaml:"deviceId"`
	Transport     string `yaml:"transport"`
	ListenAddress string `yaml:"listenAddress"`
	// Peers are "host:port" endpoints to handshake with on startup (UDP
	// transport).
	Peers []string `yaml:"peers"`

	LostPacketTimeoutMs     int `yaml:"lostPacketTimeoutMs"`
	PingFrequencyMs         int `yaml:"pingFrequencyMs"`
	StaleTimeoutMs          int `yaml:"staleTimeoutMs"`
	DisconnectedTimeoutMs   int `yaml:"disconnectedTimeoutMs"`
	DisconnectOnLostPackets int `yaml:"disconnectOnLostPackets"`

	PollIntervalMs int `yaml:"pollIntervalMs"`

	Websocket WebsocketConfig `yaml:"websocket"`
}

// LostPacketTimeout returns the pending-ack expiry as a time.Duration.
func (c *Config) LostPacketTimeout() time.Duration {
	return time.Duration(c.LostPacketTimeoutMs) * time.Millisecond
}

// PingFrequency returns the outbound ping cadence as a time.Duration.
func (c *Config) PingFrequency() time.Duration {
	return time.Duration(c.PingFrequencyMs) * time.Millisecond
}

// StaleTimeout returns the liveness/handshake expiry as a time.Duration.
func (c *Config) StaleTimeout() time.Duration {
	return time.Duration(c.StaleTimeoutMs) * time.Millisecond
}

// DisconnectedTimeout returns the lost-peer removal timeout as a
// time.Duration.
func (c *Config) DisconnectedTimeout() time.Duration {
	return time.Duration(c.DisconnectedTimeoutMs) * time.Millisecond
}

// PollInterval returns the poll loop cadence, defaulting to 10ms.
func (c *Config) PollInterval() time.Duration {
	if c.PollIntervalMs <= 0 {
		return 10 * time.Millisecond
	}
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// validate performs comprehensive validation of the loaded configuration.
func (c *Config) validate() error {
	if c.DeviceID < 1 || c.DeviceID > 255 {
		return fmt.Errorf("deviceId must be in 1..255, got %d", c.DeviceID)
	}
	switch c.Transport {
	case TransportUDP:
		if c.ListenAddress == "" {
			return fmt.Errorf("listenAddress must be set for the udp transport")
		}
	case TransportWebsocket:
		if c.Websocket.ListenAddress == "" && len(c.Websocket.Peers) == 0 {
			return fmt.Errorf("websocket transport needs a listenAddress, peers, or both")
		}
		if c.Websocket.ListenAddress != "" && c.Websocket.TokenSecret == "" {
			return fmt.Errorf("websocket.tokenSecret must be set when websocket.listenAddress is set")
		}
		if len(c.Websocket.Peers) > 0 && c.Websocket.Token == "" {
			return fmt.Errorf("websocket.token must be set when websocket.peers are defined")
		}
	case "":
		return fmt.Errorf("transport must be set (%q or %q)", TransportUDP, TransportWebsocket)
	default:
		return fmt.Errorf("unknown transport %q", c.Transport)
	}
	if c.LostPacketTimeoutMs < 0 || c.PingFrequencyMs < 0 || c.StaleTimeoutMs < 0 ||
		c.DisconnectedTimeoutMs < 0 || c.PollIntervalMs < 0 {
		return fmt.Errorf("timeouts cannot be negative")
	}
	if c.DisconnectOnLostPackets < 0 || c.DisconnectOnLostPackets > 255 {
		return fmt.Errorf("disconnectOnLostPackets must be in 0..255, got %d", c.DisconnectOnLostPackets)
	}
	return nil
}

// LoadConfig reads the configuration from the given file path, unmarshals
// it, and performs validation.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file at %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal yaml from %s: %w", path, err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}
