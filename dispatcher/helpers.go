package dispatcher

import (
	"context"
	"encoding/gob"
	"io"

	"github.com/cespare/xxhash/v2"
	"github.com/inetconnector/smartxchain/chain"
	"github.com/inetconnector/smartxchain/transport"
)

func sendFireAndForget(addr, message string) error {
	_, err := transport.Send(addr, message)
	return err
}

func gobEncodeBlocks(w io.Writer, blocks []*chain.Block) error {
	return gob.NewEncoder(w).Encode(blocks)
}

// contextBackground is a tiny seam so handlers read naturally without
// importing "context" inline at every call site; dispatcher handlers run
// with no inbound deadline of their own beyond the connection's.
func contextBackground() context.Context {
	return context.Background()
}

// hash64 is a minimal hash.Hash64 wrapper around a precomputed digest, so a
// block hash can be added to the dedup bloom filter without re-hashing
// through a streaming hash.Hash.
type hash64 uint64

func asHashable(key []byte) hash64 {
	return hash64(xxhash.Sum64(key))
}

func (h hash64) Sum64() uint64             { return uint64(h) }
func (h hash64) Write(p []byte) (int, error) { return len(p), nil }
func (h hash64) Sum(b []byte) []byte       { return b }
func (h hash64) Reset()                    {}
func (h hash64) Size() int                 { return 8 }
func (h hash64) BlockSize() int            { return 8 }
