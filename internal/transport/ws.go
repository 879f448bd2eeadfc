package transport

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/paslavsky/bintunnel/internal/auth"
	"github.com/paslavsky/bintunnel/internal/wire"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	// TokenHeader carries the dialer's JWT on the upgrade request.
	TokenHeader = "X-Tunnel-Token"

	inboundQueueDepth  = 256
	outboundQueueDepth = 256
)

// Websocket adapts WebSocket connections to the datagram transport
// contract: every binary message is one datagram, addressed by the remote
// TCP endpoint of the carrying connection. A single Websocket can both
// accept token-bearing dialers and dial out to other listeners.
type Websocket struct {
	validator auth.Validator
	token     string

	inbound      chan packet
	links        sync.Map // netip.AddrPort -> *wsLink
	server       *http.Server
	listenerAddr string

	ctx    context.Context
	cancel context.CancelFunc
}

type packet struct {
	data []byte
	addr netip.AddrPort
}

// NewWebsocket creates a WebSocket transport. validator gates inbound
// upgrades and may be nil for a dial-only transport; token is presented on
// outbound dials.
func NewWebsocket(validator auth.Validator, token string) *Websocket {
	ctx, cancel := context.WithCancel(context.Background())
	return &Websocket{
		validator: validator,
		token:     token,
		inbound:   make(chan packet, inboundQueueDepth),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Listen starts accepting upgrades on listenAddr. Each dialer must present
// a token the validator accepts.
func (w *Websocket) Listen(listenAddr string) error {
	if w.validator == nil {
		return errors.New("websocket listener requires a token validator")
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/tunnel", w.handleUpgrade)
	ln, err := net.Listen("tcp", listenAddr)
	if err != nil {
		return fmt.Errorf("listen websocket on %q: %w", listenAddr, err)
	}
	w.server = &http.Server{Handler: mux}
	w.listenerAddr = ln.Addr().String()
	go func() {
		if err := w.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("ERROR: [WS] Listener terminated: %v", err)
		}
	}()
	log.Printf("INFO: [WS] Listening on %s", ln.Addr())
	return nil
}

// ListenerAddr returns the bound listener address, useful when listening
// on port 0.
func (w *Websocket) ListenerAddr() string {
	return w.listenerAddr
}

func (w *Websocket) handleUpgrade(rw http.ResponseWriter, r *http.Request) {
	token := r.Header.Get(TokenHeader)
	claims, err := w.validator.Validate(r.Context(), token)
	if err != nil {
		log.Printf("WARN: [WS] Rejected upgrade from %s: %v", r.RemoteAddr, err)
		http.Error(rw, "invalid token", http.StatusUnauthorized)
		return
	}

	upgrader := websocket.Upgrader{}
	conn, err := upgrader.Upgrade(rw, r, nil)
	if err != nil {
		log.Printf("WARN: [WS] Upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}
	link, err := w.register(conn)
	if err != nil {
		log.Printf("WARN: [WS] Dropped connection from %s: %v", r.RemoteAddr, err)
		conn.Close()
		return
	}
	log.Printf("INFO: [WS] Session %s accepted from %s (subject %q)", link.session, link.addr, claims.Subject())
}

// Dial connects to a listener at rawURL (ws://host:port/tunnel) and returns
// the datagram address of the new link.
func (w *Websocket) Dial(rawURL string) (netip.AddrPort, error) {
	headers := http.Header{}
	headers.Set(TokenHeader, w.token)
	conn, resp, err := websocket.DefaultDialer.Dial(rawURL, headers)
	if err != nil {
		if resp != nil {
			resp.Body.Close()
		}
		return netip.AddrPort{}, fmt.Errorf("dial %q: %w", rawURL, err)
	}
	link, err := w.register(conn)
	if err != nil {
		conn.Close()
		return netip.AddrPort{}, err
	}
	log.Printf("INFO: [WS] Session %s established to %s", link.session, link.addr)
	return link.addr, nil
}

// WriteTo queues one datagram on the link addressed by addr.
func (w *Websocket) WriteTo(p []byte, addr netip.AddrPort) error {
	raw, ok := w.links.Load(addr)
	if !ok {
		return fmt.Errorf("no websocket link for %s", addr)
	}
	link := raw.(*wsLink)
	msg := make([]byte, len(p))
	copy(msg, p)
	select {
	case link.send <- msg:
		return nil
	default:
		return fmt.Errorf("send queue full for %s", addr)
	}
}

// ReadFrom pops the next queued inbound datagram, reporting n == 0 when
// none is waiting.
func (w *Websocket) ReadFrom(p []byte) (int, netip.AddrPort, error) {
	select {
	case pkt := <-w.inbound:
		n := copy(p, pkt.data)
		return n, pkt.addr, nil
	default:
		return 0, netip.AddrPort{}, nil
	}
}

// Close tears down the listener and every link.
func (w *Websocket) Close() error {
	w.cancel()
	var err error
	if w.server != nil {
		err = w.server.Close()
	}
	w.links.Range(func(_, raw any) bool {
		raw.(*wsLink).conn.Close()
		return true
	})
	return err
}

func (w *Websocket) register(conn *websocket.Conn) (*wsLink, error) {
	addr, err := netip.ParseAddrPort(conn.RemoteAddr().String())
	if err != nil {
		return nil, fmt.Errorf("unusable remote address %q: %w", conn.RemoteAddr(), err)
	}
	link := &wsLink{
		session: uuid.New(),
		conn:    conn,
		addr:    addr,
		send:    make(chan []byte, outboundQueueDepth),
	}
	w.links.Store(addr, link)
	go link.writePump(w.ctx)
	go link.readPump(w)
	return link, nil
}

// wsLink is one WebSocket connection with its read/write pumps. The pumps
// bridge the concurrent socket to the single-threaded poll loop through
// the transport's inbound queue.
type wsLink struct {
	session uuid.UUID
	conn    *websocket.Conn
	addr    netip.AddrPort
	send    chan []byte
}

func (l *wsLink) readPump(w *Websocket) {
	defer func() {
		w.links.Delete(l.addr)
		l.conn.Close()
		log.Printf("INFO: [WS] Session %s closed", l.session)
	}()

	l.conn.SetReadLimit(wire.FrameMax)
	l.conn.SetReadDeadline(time.Now().Add(pongWait))
	l.conn.SetPongHandler(func(string) error {
		return l.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, message, err := l.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WARN: [WS] Session %s read error: %v", l.session, err)
			}
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		select {
		case w.inbound <- packet{data: message, addr: l.addr}:
		default:
			log.Printf("WARN: [WS] Inbound queue full, dropping datagram from %s", l.addr)
		}
	}
}

func (l *wsLink) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		l.conn.Close()
	}()
	for {
		select {
		case message := <-l.send:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				log.Printf("WARN: [WS] Session %s write error: %v", l.session, err)
				return
			}
		case <-ticker.C:
			l.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := l.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			l.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
