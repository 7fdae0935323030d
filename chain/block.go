package chain

import (
	"encoding/base64"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
)

// Block is opaque to every collaborator except for the three contracts the
// node relies on: Hash must equal CalculateHash for the block to be
// accepted, and Base64/VerifyBlockBase64 round-trip the canonical wire form
// used as a Snowman vote payload.
type Block struct {
	Index        uint64         `json:"index"`
	Timestamp    int64          `json:"timestamp"`
	Transactions []*Transaction `json:"transactions"`
	PrevHash     [32]byte       `json:"prevHash"`
	Nonce        uint64         `json:"nonce"`
	MinerAddress string         `json:"minerAddress"`
	Hash         [32]byte       `json:"hash"`
}

// blockForHashing is Block stripped of its own Hash field, so
// CalculateHash never folds the hash into itself.
type blockForHashing struct {
	Index        uint64         `json:"index"`
	Timestamp    int64          `json:"timestamp"`
	Transactions []*Transaction `json:"transactions"`
	PrevHash     [32]byte       `json:"prevHash"`
	Nonce        uint64         `json:"nonce"`
	MinerAddress string         `json:"minerAddress"`
}

// CalculateHash derives the block's canonical hash from its contents.
func (b *Block) CalculateHash() [32]byte {
	enc, err := json.Marshal(blockForHashing{
		Index:        b.Index,
		Timestamp:    b.Timestamp,
		Transactions: b.Transactions,
		PrevHash:     b.PrevHash,
		Nonce:        b.Nonce,
		MinerAddress: b.MinerAddress,
	})
	if err != nil {
		// Marshaling a Block can only fail on a pathological value (e.g. a
		// transaction carrying a NaN-like amount), never on well-formed input.
		panic(fmt.Errorf("calculate block hash: %w", err))
	}
	return crypto.Keccak256Hash(enc)
}

// SealHash stores CalculateHash's result into Hash, making the block
// self-consistent.
func (b *Block) SealHash() {
	b.Hash = b.CalculateHash()
}

// Valid reports whether the stored Hash matches what CalculateHash derives.
func (b *Block) Valid() bool {
	return b.Hash == b.CalculateHash()
}

// Base64 renders the block as its canonical base64 wire form, usable as a
// Snowman vote payload.
func (b *Block) Base64() (string, error) {
	enc, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("encode block: %w", err)
	}
	return base64.StdEncoding.EncodeToString(enc), nil
}

// DecodeBlockBase64 is the inverse of Base64.
func DecodeBlockBase64(encoded string) (*Block, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("decode block base64: %w", err)
	}
	var b Block
	if err := json.Unmarshal(raw, &b); err != nil {
		return nil, fmt.Errorf("unmarshal block: %w", err)
	}
	return &b, nil
}

// VerifyBlockBase64 decodes msg as a block and reports whether its stored
// hash is self-consistent. This is exactly the check a Snowman peer performs
// before replying OK to a Vote: message.
func VerifyBlockBase64(msg string) bool {
	b, err := DecodeBlockBase64(msg)
	if err != nil {
		return false
	}
	return b.Valid()
}
