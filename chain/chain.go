package chain

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/holiman/uint256"
)

// miningReward is credited to the miner address of every mined block.
var miningReward = uint256.NewInt(100)

// chainState is the immutable snapshot swapped atomically by Chain. Blocks
// are append-only; Chain.pending is only ever touched while holding Chain.mu.
type chainState struct {
	Blocks []*Block
}

// Chain is the node's local view of the block chain. Block storage is
// single-writer/many-reader: readers take the atomic pointer snapshot,
// writers (admission and sync) hold mu and install a new snapshot.
type Chain struct {
	state   atomic.Pointer[chainState]
	mu      sync.Mutex
	pending []*Transaction
}

// NewChain returns a chain containing only the genesis block.
func NewChain() *Chain {
	c := &Chain{}
	genesis := &Block{Index: 0, Timestamp: time.Now().UnixNano(), MinerAddress: "genesis"}
	genesis.SealHash()
	c.state.Store(&chainState{Blocks: []*Block{genesis}})
	return c
}

// Len returns the number of blocks currently in the chain.
func (c *Chain) Len() int {
	return len(c.state.Load().Blocks)
}

// Blocks returns a snapshot of the current block slice. Callers must not
// mutate the returned slice or its elements.
func (c *Chain) Blocks() []*Block {
	return c.state.Load().Blocks
}

// IsValid re-validates every block's self-consistency and hash linkage.
func (c *Chain) IsValid() bool {
	blocks := c.state.Load().Blocks
	for i, b := range blocks {
		if !b.Valid() {
			return false
		}
		if i > 0 && b.PrevHash != blocks[i-1].Hash {
			return false
		}
	}
	return true
}

// AddBlock appends b if it extends the current tip and is self-consistent.
func (c *Chain) AddBlock(b *Block) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	if !b.Valid() {
		return false
	}
	tip := cur.Blocks[len(cur.Blocks)-1]
	if b.PrevHash != tip.Hash || b.Index != tip.Index+1 {
		return false
	}
	next := append(append([]*Block{}, cur.Blocks...), b)
	c.state.Store(&chainState{Blocks: next})
	return true
}

// AddTransaction enqueues tx into the pending set for the next mined block.
func (c *Chain) AddTransaction(tx *Transaction) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending = append(c.pending, tx)
}

// PrepareBlock seals every currently pending transaction plus a mining
// reward into a new candidate block, without committing it to the chain.
// Callers that need quorum agreement before persisting (mining.Admitter)
// call CommitBlock afterward; callers that don't (tests, single-node
// bootstrapping) use MinePendingTransactions instead.
func (c *Chain) PrepareBlock(minerAddr string) *Block {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	tip := cur.Blocks[len(cur.Blocks)-1]

	reward := NewTransaction("network", minerAddr, miningReward, nil, "mining reward")
	txs := append(append([]*Transaction{}, c.pending...), reward)

	block := &Block{
		Index:        tip.Index + 1,
		Timestamp:    time.Now().UnixNano(),
		Transactions: txs,
		PrevHash:     tip.Hash,
		MinerAddress: minerAddr,
	}
	block.SealHash()
	return block
}

// CommitBlock appends block, previously returned by PrepareBlock, to the
// chain and clears the pending set it was built from. It is the caller's
// responsibility to have already reached consensus on block; CommitBlock
// itself only re-checks self-consistency and tip linkage.
func (c *Chain) CommitBlock(block *Block) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur := c.state.Load()
	tip := cur.Blocks[len(cur.Blocks)-1]
	if !block.Valid() || block.PrevHash != tip.Hash || block.Index != tip.Index+1 {
		return false
	}

	next := append(append([]*Block{}, cur.Blocks...), block)
	c.state.Store(&chainState{Blocks: next})
	c.pending = nil
	return true
}

// MinePendingTransactions seals every pending transaction into a new block
// mined by minerAddr, commits it unconditionally, and appends it to the
// chain. Used where no separate quorum step precedes persistence.
func (c *Chain) MinePendingTransactions(minerAddr string) *Block {
	block := c.PrepareBlock(minerAddr)
	c.CommitBlock(block)
	return block
}

// ReplaceIfValid atomically swaps in candidate if it validates, discarding
// it otherwise. Used by the sync engine after downloading a longer chain.
func (c *Chain) ReplaceIfValid(candidate *Chain) bool {
	if !candidate.IsValid() {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.Store(candidate.state.Load())
	return true
}

// Save serializes the whole chain as a single gob stream to path. The chain
// is treated as an opaque byte stream by every other collaborator, so the
// on-disk shape only needs to round-trip through Load.
func (c *Chain) Save(path string) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(c.state.Load().Blocks); err != nil {
		return fmt.Errorf("encode chain: %w", err)
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return fmt.Errorf("write chain file: %w", err)
	}
	return nil
}

// ErrEmptyChainFile is returned by Load when path contains no blocks.
var ErrEmptyChainFile = errors.New("chain file contains no blocks")

// Load reads a chain previously written by Save (or assembled by the sync
// engine from downloaded chunks) from path.
func Load(path string) (*Chain, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read chain file: %w", err)
	}
	var blocks []*Block
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&blocks); err != nil {
		return nil, fmt.Errorf("decode chain file: %w", err)
	}
	if len(blocks) == 0 {
		return nil, ErrEmptyChainFile
	}
	c := &Chain{}
	c.state.Store(&chainState{Blocks: blocks})
	return c, nil
}

func init() {
	// Block/Transaction contain pointer and fixed-size-array fields gob
	// must be told about once at package init.
	gob.Register(&Block{})
	gob.Register(&Transaction{})
}
