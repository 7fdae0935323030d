package chain

import (
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testFingerprint = "SMARTX-NODE-ASM-FINGERPRINT-v1"

func TestTransaction_RetagTracksDataAndInfo(t *testing.T) {
	tx := NewTransaction("alice", "bob", uint256.NewInt(10), nil, "")
	assert.Equal(t, uint64(10), tx.Gas)

	tx.SetData([]byte("hello"))
	assert.Equal(t, uint64(10+2*5), tx.Gas)

	tx.SetInfo("memo")
	assert.Equal(t, uint64(10+2*(5+4)), tx.Gas)
}

func TestTransaction_SignAndVerify(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx := NewTransaction("alice", "bob", uint256.NewInt(42), nil, "payment")
	require.NoError(t, tx.Sign(key, testFingerprint))

	assert.True(t, tx.Verify(testFingerprint))
}

func TestTransaction_VerifyRejectsWrongFingerprint(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx := NewTransaction("alice", "bob", uint256.NewInt(42), nil, "payment")
	require.NoError(t, tx.Sign(key, testFingerprint))

	assert.False(t, tx.Verify("some-other-fingerprint"))
}

func TestTransaction_VerifyRejectsTamperedAmount(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	tx := NewTransaction("alice", "bob", uint256.NewInt(42), nil, "payment")
	require.NoError(t, tx.Sign(key, testFingerprint))

	tx.Amount = uint256.NewInt(1000)
	assert.False(t, tx.Verify(testFingerprint))
}

func TestTransaction_VerifyRejectsMalformedSignature(t *testing.T) {
	tx := NewTransaction("alice", "bob", uint256.NewInt(1), nil, "")
	tx.Signature = "not-a-valid-signature"
	assert.False(t, tx.Verify(testFingerprint))
}
