package chain

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBlock_SealHashIsValid(t *testing.T) {
	b := &Block{Index: 1, Timestamp: 123, MinerAddress: "miner"}
	b.SealHash()
	assert.True(t, b.Valid())
}

func TestBlock_TamperedTransactionsInvalidatesHash(t *testing.T) {
	b := &Block{Index: 1, Timestamp: 123, MinerAddress: "miner"}
	b.SealHash()

	b.Transactions = append(b.Transactions, NewTransaction("a", "b", uint256.NewInt(1), nil, ""))
	assert.False(t, b.Valid())
}

func TestBlock_Base64RoundTrip(t *testing.T) {
	b := &Block{
		Index:        7,
		Timestamp:    555,
		MinerAddress: "miner",
		Transactions: []*Transaction{NewTransaction("a", "b", uint256.NewInt(5), nil, "note")},
	}
	b.SealHash()

	enc, err := b.Base64()
	require.NoError(t, err)

	decoded, err := DecodeBlockBase64(enc)
	require.NoError(t, err)
	assert.Equal(t, b.Index, decoded.Index)
	assert.Equal(t, b.Hash, decoded.Hash)
	assert.True(t, decoded.Valid())
}

func TestVerifyBlockBase64(t *testing.T) {
	b := &Block{Index: 1, Timestamp: 1, MinerAddress: "m"}
	b.SealHash()
	enc, err := b.Base64()
	require.NoError(t, err)

	assert.True(t, VerifyBlockBase64(enc))
	assert.False(t, VerifyBlockBase64("not-base64-at-all!!!"))
}
