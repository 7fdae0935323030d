// Package chain implements the append-only block chain, its pending
// transaction pool, and the mining procedure used to seal a new block.
package chain

import (
	"crypto/ecdsa"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
)

// Transaction is a single transfer between two smartX addresses. Amount is
// kept in the smallest integer unit (the wei convention go-ethereum uses for
// value fields) since no decimal-arithmetic library is available; callers
// that need a human decimal use AmountDecimal.
type Transaction struct {
	Sender    string       `json:"sender"`
	Recipient string       `json:"recipient"`
	Amount    *uint256.Int `json:"amount"`
	Data      []byte       `json:"data"`
	Info      string       `json:"info"`
	Timestamp int64        `json:"timestamp"`
	Signature string       `json:"signature"`
	Gas       uint64       `json:"gas"`
}

// NewTransaction builds a transaction with gas already derived.
func NewTransaction(sender, recipient string, amount *uint256.Int, data []byte, info string) *Transaction {
	tx := &Transaction{
		Sender:    sender,
		Recipient: recipient,
		Amount:    amount,
		Data:      data,
		Info:      info,
		Timestamp: time.Now().UnixNano(),
	}
	tx.Retag()
	return tx
}

// Retag recomputes Gas. It must be called after any mutation of Data or Info.
func (t *Transaction) Retag() {
	t.Gas = 10 + 2*uint64(len(t.Data)+len(t.Info))
}

// SetData replaces Data and keeps Gas consistent.
func (t *Transaction) SetData(data []byte) {
	t.Data = data
	t.Retag()
}

// SetInfo replaces Info and keeps Gas consistent.
func (t *Transaction) SetInfo(info string) {
	t.Info = info
	t.Retag()
}

// AmountDecimal renders Amount as a decimal value, scaled down by 18 places,
// matching the wei/ether convention used for the underlying integer.
func (t *Transaction) AmountDecimal() *big.Float {
	if t.Amount == nil {
		return new(big.Float)
	}
	f := new(big.Float).SetInt(t.Amount.ToBig())
	return f.Quo(f, big.NewFloat(1e18))
}

// SigningHash is the digest signed and verified for this transaction. It
// deliberately excludes Signature itself.
func (t *Transaction) SigningHash() [32]byte {
	msg := fmt.Sprintf("%s|%s|%s|%x|%s|%d|%d",
		t.Sender, t.Recipient, t.Amount.String(), t.Data, t.Info, t.Timestamp, t.Gas)
	return crypto.Keccak256Hash([]byte(msg))
}

// Sign produces the "base64(sig)|fingerprint" signature field using the
// given private key and assembly fingerprint.
func (t *Transaction) Sign(key *ecdsa.PrivateKey, fingerprint string) error {
	hash := t.SigningHash()
	sig, err := crypto.Sign(hash[:], key)
	if err != nil {
		return fmt.Errorf("sign transaction: %w", err)
	}
	t.Signature = base64.StdEncoding.EncodeToString(sig) + "|" + fingerprint
	return nil
}

// ErrMalformedSignature describes a signature field that does not carry
// both a base64 signature and a fingerprint separated by "|". Verify
// reports such a field as false and does not return this error.
var ErrMalformedSignature = errors.New("malformed transaction signature")

// Verify checks that the signature decodes, was produced over this
// transaction's signing hash, and carries the expected fingerprint.
func (t *Transaction) Verify(fingerprint string) bool {
	parts := strings.SplitN(t.Signature, "|", 2)
	if len(parts) != 2 {
		return false
	}
	sigB64, fp := parts[0], parts[1]
	if fp != fingerprint {
		return false
	}
	sig, err := base64.StdEncoding.DecodeString(sigB64)
	if err != nil {
		return false
	}
	if len(sig) != 65 {
		return false
	}
	hash := t.SigningHash()
	pub, err := crypto.SigToPub(hash[:], sig)
	if err != nil {
		return false
	}
	return crypto.VerifySignature(crypto.FromECDSAPub(pub), hash[:], sig[:64])
}
