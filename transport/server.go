package transport

import (
	"bufio"
	"fmt"
	"net"
	"time"

	"github.com/ethereum/go-ethereum/log"
)

// Handler processes one decoded logical message and returns the reply
// frames to send back, in order. Most tags reply with exactly one line;
// GetChain is the documented exception that replies with many.
type Handler interface {
	Handle(logical string) (replies []string, err error)
}

// rebindDelay is how long the accept loop waits before re-binding after a
// non-fatal accept failure, to avoid a hot error loop.
const rebindDelay = 500 * time.Millisecond

// Server runs the dispatcher's accepting endpoint. Its lifecycle follows
// the documented state machine: bound -> accepting -> (accepting |
// closed-on-error -> rebind), terminal only on a fatal bind failure.
type Server struct {
	addr    string
	handler Handler
	debug   bool
}

// NewServer returns a Server that will listen on addr.
func NewServer(addr string, handler Handler, debug bool) *Server {
	return &Server{addr: addr, handler: handler, debug: debug}
}

// Serve runs the accept loop until stop is closed or a fatal bind failure
// occurs.
func (s *Server) Serve(stop <-chan struct{}) error {
	for {
		ln, err := net.Listen("tcp", s.addr)
		if err != nil {
			log.Error("fatal bind failure", "addr", s.addr, "err", err)
			return fmt.Errorf("bind %s: %w", s.addr, err)
		}
		log.Info("peer transport bound", "addr", s.addr)

		err = s.accept(ln, stop)
		ln.Close()
		if err == errStopped {
			return nil
		}
		log.Warn("accepting endpoint closed on error, rebinding", "addr", s.addr, "err", err)
		select {
		case <-stop:
			return nil
		case <-time.After(rebindDelay):
		}
	}
}

var errStopped = fmt.Errorf("server stopped")

// accept runs the inner accepting loop against one bound listener.
func (s *Server) accept(ln net.Listener, stop <-chan struct{}) error {
	go func() {
		<-stop
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-stop:
				return errStopped
			default:
				return err
			}
		}
		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(RequestTimeout))

	reader := bufio.NewReader(conn)
	frame, err := reader.ReadString('\n')
	if err != nil {
		return
	}
	frame = trimNewline(frame)

	logical, err := DecodeFrame(frame, s.debug)
	if err != nil {
		_, _ = conn.Write([]byte("ERROR: " + err.Error() + "\n"))
		return
	}

	replies, err := s.handler.Handle(logical)
	if err != nil {
		log.Error("handler error, closing connection", "err", err)
		return
	}
	for _, reply := range replies {
		if _, err := conn.Write([]byte(reply + "\n")); err != nil {
			return
		}
	}
}
