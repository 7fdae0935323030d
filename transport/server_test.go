package transport

import (
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoHandler replies with the logical message it was given, prefixed with
// "echo:", simulating a single-reply tag handler.
type echoHandler struct{}

func (echoHandler) Handle(logical string) ([]string, error) {
	return []string{"echo:" + logical}, nil
}

func freeAddr(t *testing.T) string {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	ln.Close()
	return addr
}

func TestServer_RoundTripsThroughSend(t *testing.T) {
	addr := freeAddr(t)
	srv := NewServer(addr, echoHandler{}, false)

	stop := make(chan struct{})
	go func() { _ = srv.Serve(stop) }()
	defer close(stop)

	waitForListener(t, addr)

	reply, err := Send(addr, "ping")
	require.NoError(t, err)
	assert.Equal(t, "echo:ping", reply)
}

// multiReplyHandler always replies with three lines, modeling GetChain.
type multiReplyHandler struct{}

func (multiReplyHandler) Handle(string) ([]string, error) {
	return []string{"chunk-1", "chunk-2", "END"}, nil
}

func TestServer_StreamUntilReadsMultipleFrames(t *testing.T) {
	addr := freeAddr(t)
	srv := NewServer(addr, multiReplyHandler{}, false)

	stop := make(chan struct{})
	go func() { _ = srv.Serve(stop) }()
	defer close(stop)

	waitForListener(t, addr)

	lines, err := StreamUntil(addr, "GetChain", func(line string) bool { return line == "END" })
	require.NoError(t, err)
	assert.Equal(t, []string{"chunk-1", "chunk-2", "END"}, lines)
}

func TestSend_TimesOutAgainstClosedPort(t *testing.T) {
	addr := freeAddr(t) // nothing is listening here
	_, err := Send(addr, "ping")
	require.Error(t, err)
	var timeout *ErrTimeout
	assert.ErrorAs(t, err, &timeout)
}

func waitForListener(t *testing.T, addr string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			conn.Close()
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(fmt.Sprintf("server never bound %s", addr))
}
