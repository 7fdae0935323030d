// Package snowman implements the single-round quorum vote used to accept a
// freshly mined block, modeled on (but deliberately simpler than) Avalanche
// Snowman consensus: a static n/2+1 threshold over one parallel fan-out of
// votes, rather than repeated randomized sampling.
package snowman

import (
	"context"

	"github.com/inetconnector/smartxchain/internal/xmetrics"
	"golang.org/x/sync/errgroup"
)

// Requester issues a single Vote request to addr and reports its reply.
// mining.New adapts transport.Send to this shape.
type Requester func(ctx context.Context, addr, message string) (reply string, err error)

// Voter is gated behind an interface so a future multi-round Snowman
// replacement can be substituted without touching callers (spec.md §9).
type Voter interface {
	ReachConsensus(ctx context.Context, blockBase64 string, peers []string) bool
}

// singleRoundVoter is the only implementation today: one parallel fan-out,
// stateless across rounds.
type singleRoundVoter struct {
	request Requester
}

// New returns the single-round Voter, sending votes via request.
func New(request Requester) Voter {
	return &singleRoundVoter{request: request}
}

// Quorum is floor(n/2)+1 over n peers sampled at round start.
func Quorum(n int) int {
	return n/2 + 1
}

// ReachConsensus asks every peer in peers to vote on blockBase64 in
// parallel and reports whether the quorum threshold was met. Ties and
// missing replies count as negative. Individual vote ordering never
// affects the result since all votes are joined before deciding.
func (v *singleRoundVoter) ReachConsensus(ctx context.Context, blockBase64 string, peers []string) bool {
	xmetrics.QuorumRounds.Inc(1)
	if len(peers) == 0 {
		xmetrics.QuorumReached.Inc(1)
		return true
	}
	threshold := Quorum(len(peers))

	var oks atomicCounter
	g, gctx := errgroup.WithContext(ctx)
	for _, peer := range peers {
		peer := peer
		g.Go(func() error {
			reply, err := v.request(gctx, peer, "Vote:"+blockBase64)
			if err == nil && reply == "OK" {
				oks.inc()
			}
			return nil
		})
	}
	_ = g.Wait()

	reached := oks.get() >= threshold
	if reached {
		xmetrics.QuorumReached.Inc(1)
	}
	return reached
}
