package syncengine

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/gob"
	"net"
	"testing"
	"time"

	"github.com/inetconnector/smartxchain/chain"
	"github.com/inetconnector/smartxchain/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeChainChunks_SplitsAndTerminates(t *testing.T) {
	raw := bytes.Repeat([]byte("x"), ChunkSize+10)
	frames := EncodeChainChunks(raw)

	require.Len(t, frames, 3) // two chunks + END
	last, err := transport.DecodeFrame(frames[len(frames)-1], true)
	require.NoError(t, err)
	assert.Equal(t, endSentinelPayload, last)

	var reassembled []byte
	for _, f := range frames[:len(frames)-1] {
		logical, err := transport.DecodeFrame(f, true)
		require.NoError(t, err)
		chunk, err := base64.StdEncoding.DecodeString(logical)
		require.NoError(t, err)
		reassembled = append(reassembled, chunk...)
	}
	assert.Equal(t, raw, reassembled)
}

// chainServer answers GetBlockCount and GetChain the way the dispatcher
// would, serving a single peer's chain for the duration of one test.
func chainServer(t *testing.T, c *chain.Chain) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				buf := make([]byte, 4096)
				n, err := conn.Read(buf)
				if err != nil {
					return
				}
				logical, err := transport.DecodeFrame(string(bytes.TrimRight(buf[:n], "\n")), false)
				if err != nil {
					return
				}
				switch {
				case logical == "GetChain":
					var blockBuf bytes.Buffer
					_ = gob.NewEncoder(&blockBuf).Encode(c.Blocks())
					for _, frame := range EncodeChainChunks(blockBuf.Bytes()) {
						_, _ = conn.Write([]byte(frame + "\n"))
					}
				default:
					_, _ = conn.Write([]byte("0\n"))
				}
			}()
		}
	}()

	t.Cleanup(func() { ln.Close() })
	return addr
}

func TestEngine_DownloadFromReplacesLocalChain(t *testing.T) {
	remote := chain.NewChain()
	remote.MinePendingTransactions("miner-1")
	remote.MinePendingTransactions("miner-2")

	addr := chainServer(t, remote)
	time.Sleep(20 * time.Millisecond) // let the listener goroutine start accepting

	local := chain.NewChain()
	e := New(local, []string{addr})

	e.downloadFrom(addr)
	assert.Equal(t, remote.Len(), local.Len())
}

func TestEngine_IsCurrentWithNoPeersIsTrue(t *testing.T) {
	local := chain.NewChain()
	e := New(local, nil)
	assert.True(t, e.IsCurrent(context.Background()))
}
