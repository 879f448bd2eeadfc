package main

import (
	"flag"
	"fmt"
	"log"
	"net/netip"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/paslavsky/bintunnel/internal/auth"
	"github.com/paslavsky/bintunnel/internal/config"
	"github.com/paslavsky/bintunnel/internal/iface"
	"github.com/paslavsky/bintunnel/internal/transport"
	"github.com/paslavsky/bintunnel/internal/tunnel"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to the configuration file.")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("FATAL: Error loading configuration: %v", err)
	}
	log.Printf("INFO: Configuration loaded successfully from %s", *configPath)
	log.Printf("INFO: Local device id: %d, transport: %s", cfg.DeviceID, cfg.Transport)

	tr, peerAddrs, cleanup, err := buildTransport(cfg)
	if err != nil {
		log.Fatalf("FATAL: %v", err)
	}
	defer cleanup()

	tun := tunnel.New(byte(cfg.DeviceID), tr, tunnel.Options{
		LostPacketTimeout:       cfg.LostPacketTimeout(),
		PingFrequency:           cfg.PingFrequency(),
		StaleTimeout:            cfg.StaleTimeout(),
		DisconnectedTimeout:     cfg.DisconnectedTimeout(),
		DisconnectOnLostPackets: uint8(cfg.DisconnectOnLostPackets),
	})

	tun.OnDeviceConnected(func(id byte, info iface.DeviceInfo) {
		log.Printf("INFO: Device %d connected via %s", id, info.AddrPort())
	})
	tun.OnDeviceDisconnected(func(id byte) {
		log.Printf("INFO: Device %d disconnected", id)
	})
	tun.OnMessageReceived(func(id byte, payload []byte) {
		log.Printf("INFO: Message from device %d: %q", id, payload)
	})
	tun.OnError(func(id byte, code tunnel.ErrorCode, message string) {
		log.Printf("WARN: Device %d reported %s: %s", id, code, message)
	})

	for _, addr := range peerAddrs {
		tun.ConnectAddr(addr)
	}

	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, syscall.SIGINT, syscall.SIGTERM)

	log.Println("INFO: Tunnel node is running. Press CTRL+C to exit.")

	// The tunnel is single-threaded by contract: one goroutine, one ticker.
	ticker := time.NewTicker(cfg.PollInterval())
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tun.Poll()
		case <-shutdownChan:
			log.Println("INFO: Shutdown signal received.")
			log.Println("INFO: Shutdown complete. Goodbye.")
			return
		}
	}
}

// buildTransport assembles the configured transport and resolves the peer
// endpoints to handshake with on startup.
func buildTransport(cfg *config.Config) (iface.Transport, []netip.AddrPort, func(), error) {
	switch cfg.Transport {
	case config.TransportUDP:
		udp, err := transport.ListenUDP(cfg.ListenAddress)
		if err != nil {
			return nil, nil, nil, err
		}
		var addrs []netip.AddrPort
		for _, p := range cfg.Peers {
			addr, err := netip.ParseAddrPort(p)
			if err != nil {
				udp.Close()
				return nil, nil, nil, err
			}
			addrs = append(addrs, addr)
		}
		return udp, addrs, func() { udp.Close() }, nil

	case config.TransportWebsocket:
		var validator auth.Validator
		if cfg.Websocket.ListenAddress != "" {
			var err error
			validator, err = auth.NewValidator(cfg.Websocket.TokenSecret)
			if err != nil {
				return nil, nil, nil, err
			}
		}
		ws := transport.NewWebsocket(validator, cfg.Websocket.Token)
		if cfg.Websocket.ListenAddress != "" {
			if err := ws.Listen(cfg.Websocket.ListenAddress); err != nil {
				return nil, nil, nil, err
			}
		}
		var addrs []netip.AddrPort
		for _, u := range cfg.Websocket.Peers {
			addr, err := ws.Dial(u)
			if err != nil {
				log.Printf("WARN: Could not dial peer %s: %v", u, err)
				continue
			}
			addrs = append(addrs, addr)
		}
		return ws, addrs, func() { ws.Close() }, nil

	default:
		return nil, nil, nil, fmt.Errorf("unknown transport %q", cfg.Transport)
	}
}
