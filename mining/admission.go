// Package mining implements transaction admission and the mining step that
// follows it: append to pending, prepare a candidate block, put it to a
// Snowman quorum vote, and only then commit and broadcast it.
package mining

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/log"
	"github.com/inetconnector/smartxchain/chain"
	"github.com/inetconnector/smartxchain/consensus/snowman"
	"github.com/inetconnector/smartxchain/syncengine"
	"github.com/inetconnector/smartxchain/transport"
)

// Outcome is the result of an admission attempt.
type Outcome int

const (
	Rejected Outcome = iota
	OK
)

// Admitter wires the local chain, the sync engine's currency check, the
// Snowman voter, and peer broadcast together for AddTransaction.
type Admitter struct {
	local      *chain.Chain
	sync       *syncengine.Engine
	voter      snowman.Voter
	minerAddr  string
	knownPeers func() []string
}

// New returns an Admitter for local, gated by sync and quorum voting, and
// broadcasting to whatever knownPeers returns at call time. The voter
// sends its Vote: requests through transport.Send.
func New(local *chain.Chain, sync *syncengine.Engine, minerAddr string, knownPeers func() []string) *Admitter {
	voter := snowman.New(func(_ context.Context, addr, message string) (string, error) {
		return transport.Send(addr, message)
	})
	return &Admitter{local: local, sync: sync, voter: voter, minerAddr: minerAddr, knownPeers: knownPeers}
}

// AddTransaction runs the full admission pipeline: reject if the local
// chain is known to be behind, otherwise enqueue, prepare a candidate
// block, collect quorum votes on it, and commit and broadcast only if
// consensus was reached.
func (a *Admitter) AddTransaction(ctx context.Context, tx *chain.Transaction) Outcome {
	if !a.sync.IsCurrent(ctx) {
		log.Warn("admission rejected: local chain is behind a peer", "sender", tx.Sender)
		return Rejected
	}

	a.local.AddTransaction(tx)
	block := a.local.PrepareBlock(a.minerAddr)

	blockB64, err := block.Base64()
	if err != nil {
		log.Error("failed to encode candidate block for voting", "err", err)
		return Rejected
	}

	peers := a.knownPeers()
	if !a.voter.ReachConsensus(ctx, blockB64, peers) {
		log.Warn("admission rejected: quorum not reached", "index", block.Index, "peers", len(peers))
		return Rejected
	}

	if !a.local.CommitBlock(block) {
		log.Warn("admission rejected: candidate block no longer extends tip", "index", block.Index)
		return Rejected
	}

	a.broadcastBlock(block)
	return OK
}

// broadcastBlock fans the newly committed block out to every known peer.
// Each send is dispatched as an independent goroutine and not awaited.
func (a *Admitter) broadcastBlock(block *chain.Block) {
	enc, err := json.Marshal(block)
	if err != nil {
		log.Error("failed to encode mined block for broadcast", "err", err)
		return
	}
	message := fmt.Sprintf("NewBlock:%s", enc)

	for _, peer := range a.knownPeers() {
		peer := peer
		go func() {
			if _, err := transport.Send(peer, message); err != nil {
				log.Warn("broadcast failed", "peer", peer, "err", err)
			}
		}()
	}
}
