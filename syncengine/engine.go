// Package syncengine compares the local chain's length with each known
// peer, downloads a longer valid chain in 32 KiB chunks, and atomically
// swaps it in. Failures at any step are logged and the sync is abandoned:
// the local chain is left unchanged.
package syncengine

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"strconv"

	"github.com/ethereum/go-ethereum/log"
	"github.com/inetconnector/smartxchain/chain"
	"github.com/inetconnector/smartxchain/internal/xmetrics"
	"github.com/inetconnector/smartxchain/transport"
	"golang.org/x/sync/errgroup"
)

// endSentinelPayload is the logical payload of the final GetChain frame.
const endSentinelPayload = "END"

// Engine drives chain synchronization against a fixed set of peers.
type Engine struct {
	local *chain.Chain
	peers []string
}

// New returns an Engine that keeps local in sync against peers.
func New(local *chain.Chain, peers []string) *Engine {
	return &Engine{local: local, peers: peers}
}

// IsCurrent reports whether no peer reports a strictly larger block count
// than the local chain's length. It gates admission. Only the reported
// count is compared; the peer's chain is not downloaded or validated here.
func (e *Engine) IsCurrent(context.Context) bool {
	localLen := e.local.Len()
	var g errgroup.Group
	longer := make(chan struct{}, len(e.peers))

	for _, peer := range e.peers {
		peer := peer
		g.Go(func() error {
			reply, err := transport.Send(peer, fmt.Sprintf("GetBlockCount:%d", localLen))
			if err != nil {
				return nil // no reply counts as "not longer", never aborts the round
			}
			n, err := strconv.Atoi(reply)
			if err != nil {
				return nil
			}
			if n > localLen {
				select {
				case longer <- struct{}{}:
				default:
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	select {
	case <-longer:
		return false
	default:
		return true
	}
}

// SyncIfBehind polls every peer's block count and, if any reports a
// strictly longer chain, downloads and adopts it.
func (e *Engine) SyncIfBehind(ctx context.Context) {
	localLen := e.local.Len()
	for _, peer := range e.peers {
		reply, err := transport.Send(peer, fmt.Sprintf("GetBlockCount:%d", localLen))
		if err != nil {
			log.Warn("sync: peer did not reply to GetBlockCount", "peer", peer, "err", err)
			continue
		}
		n, err := strconv.Atoi(reply)
		if err != nil {
			continue
		}
		if n > localLen {
			xmetrics.SyncAttempts.Inc(1)
			e.downloadFrom(peer)
			return
		}
	}
}

// downloadFrom requests the full chain from peer, assembles it into a temp
// file from 32 KiB chunks, and swaps it in if valid. The temp file is
// always removed afterward.
func (e *Engine) downloadFrom(peer string) {
	succeeded := false
	defer func() {
		if !succeeded {
			xmetrics.SyncFailures.Inc(1)
		}
	}()

	tmp, err := os.CreateTemp("", "smartxchain-sync-*.dat")
	if err != nil {
		log.Error("sync: failed to create temp file", "err", err)
		return
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	isEnd := func(line string) bool {
		logical, err := transport.DecodeFrame(line, true)
		return err == nil && logical == endSentinelPayload
	}

	frames, err := transport.StreamUntil(peer, "GetChain", isEnd)
	if err != nil {
		log.Error("sync: GetChain request failed", "peer", peer, "err", err)
		tmp.Close()
		return
	}

	for _, frame := range frames {
		logical, err := transport.DecodeFrame(frame, true)
		if err != nil || logical == endSentinelPayload {
			continue
		}
		chunk, err := base64.StdEncoding.DecodeString(logical)
		if err != nil {
			log.Error("sync: malformed chain chunk", "peer", peer, "err", err)
			tmp.Close()
			return
		}
		if _, err := tmp.Write(chunk); err != nil {
			log.Error("sync: failed writing chain chunk", "err", err)
			tmp.Close()
			return
		}
	}
	tmp.Close()

	candidate, err := chain.Load(tmpPath)
	if err != nil {
		log.Warn("sync: downloaded chain failed to load", "peer", peer, "err", err)
		return
	}
	if !e.local.ReplaceIfValid(candidate) {
		log.Warn("sync: downloaded chain failed validation, discarding", "peer", peer)
		return
	}
	succeeded = true
	log.Info("sync: replaced local chain", "peer", peer, "newLength", candidate.Len())
}

// ChunkSize is the maximum GetChain chunk payload size before base64
// encoding.
const ChunkSize = 32 * 1024

// EncodeChainChunks splits raw chain bytes into ChunkSize frames followed
// by the terminating END frame, ready to be written by the server side of
// a GetChain exchange.
func EncodeChainChunks(raw []byte) []string {
	var frames []string
	for len(raw) > 0 {
		n := ChunkSize
		if n > len(raw) {
			n = len(raw)
		}
		chunk := raw[:n]
		raw = raw[n:]
		frames = append(frames, transport.EncodeFrame(base64.StdEncoding.EncodeToString(chunk)))
	}
	frames = append(frames, transport.EncodeFrame(endSentinelPayload))
	return frames
}
