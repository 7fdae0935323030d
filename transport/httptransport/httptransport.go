// Package httptransport is an optional WebSocket-backed variant of the
// peer transport, documented as the "secure peer" replaceable collaborator
// in spec.md §1. It speaks the same fingerprinted single-frame protocol as
// transport, and serves the same transport.Handler, but over
// github.com/gorilla/websocket instead of a raw net.Conn. It is not
// started by default; a node wires it in alongside the plain TCP server
// when it wants a browser-reachable peer endpoint.
package httptransport

import (
	"fmt"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/websocket"
	"github.com/inetconnector/smartxchain/transport"
)

// upgrader accepts WebSocket upgrades from any origin: peer authentication
// happens at the message layer (Register:'s HMAC check), not at the HTTP
// handshake.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(*http.Request) bool { return true },
}

// Server serves transport.Handler over a single WebSocket endpoint.
type Server struct {
	addr    string
	path    string
	handler transport.Handler
	debug   bool
}

// NewServer returns a Server that will listen on addr and upgrade
// connections to path.
func NewServer(addr, path string, handler transport.Handler, debug bool) *Server {
	return &Server{addr: addr, path: path, handler: handler, debug: debug}
}

// ListenAndServe blocks serving WebSocket connections until the process is
// told to stop or the listener fails.
func (s *Server) ListenAndServe() error {
	mux := http.NewServeMux()
	mux.HandleFunc(s.path, s.handleUpgrade)
	log.Info("websocket peer transport bound", "addr", s.addr, "path", s.path)
	return http.ListenAndServe(s.addr, mux)
}

func (s *Server) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade failed", "err", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		logical, err := transport.DecodeFrame(string(raw), s.debug)
		if err != nil {
			_ = conn.WriteMessage(websocket.TextMessage, []byte("ERROR: "+err.Error()))
			continue
		}
		replies, err := s.handler.Handle(logical)
		if err != nil {
			log.Error("websocket handler error, closing connection", "err", err)
			return
		}
		for _, reply := range replies {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(reply)); err != nil {
				return
			}
		}
	}
}

// dialTimeout bounds establishing the WebSocket handshake to a peer.
const dialTimeout = 5 * time.Second

// Send dials url (e.g. "ws://host:port/peer"), writes message as a single
// fingerprinted frame, and returns the first reply frame.
func Send(url, message string) (string, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: dialTimeout}
	conn, _, err := dialer.Dial(url, nil)
	if err != nil {
		return "", fmt.Errorf("websocket dial %s: %w", url, err)
	}
	defer conn.Close()

	if err := conn.WriteMessage(websocket.TextMessage, []byte(transport.EncodeFrame(message))); err != nil {
		return "", fmt.Errorf("websocket write to %s: %w", url, err)
	}
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("websocket read from %s: %w", url, err)
	}
	return string(raw), nil
}
