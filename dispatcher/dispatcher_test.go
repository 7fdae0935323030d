package dispatcher

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/inetconnector/smartxchain/chain"
	"github.com/inetconnector/smartxchain/directory"
	"github.com/inetconnector/smartxchain/mining"
	"github.com/inetconnector/smartxchain/safety"
	"github.com/inetconnector/smartxchain/syncengine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "shared-node-secret"

func newTestDispatcher() (*Dispatcher, *chain.Chain, *directory.Directory) {
	dir := directory.New()
	c := chain.NewChain()
	analyzer := safety.NewAnalyzer()
	engine := syncengine.New(c, nil)
	admitter := mining.New(c, engine, "miner-1", func() []string { return nil })
	return New(dir, c, analyzer, admitter, testSecret), c, dir
}

func TestDispatcher_HandleUnknownTag(t *testing.T) {
	d, _, _ := newTestDispatcher()
	replies, err := d.Handle("TotallyUnknownMessage")
	require.NoError(t, err)
	assert.Equal(t, []string{"ERROR: Unknown message"}, replies)
}

func TestDispatcher_RegisterWithValidSignature(t *testing.T) {
	d, _, dir := newTestDispatcher()
	addr := "tcp://127.0.0.1:30303"
	sig := directory.SignRegistration(addr, testSecret)

	replies, err := d.Handle("Register:" + addr + ":" + sig)
	require.NoError(t, err)
	assert.Equal(t, []string{"OK"}, replies)
	assert.Equal(t, 1, dir.Len())
}

func TestDispatcher_RegisterWithInvalidSignature(t *testing.T) {
	d, _, dir := newTestDispatcher()
	replies, err := d.Handle("Register:tcp://127.0.0.1:30303:bm90LXZhbGlk")
	require.NoError(t, err)
	assert.Equal(t, []string{"ERROR: invalid registration signature"}, replies)
	assert.Equal(t, 0, dir.Len())
}

func TestDispatcher_GetNodesReturnsDirectorySnapshot(t *testing.T) {
	d, _, dir := newTestDispatcher()
	dir.Heartbeat("tcp://a:1")

	replies, err := d.Handle("GetNodes")
	require.NoError(t, err)
	require.Len(t, replies, 1)
	assert.Contains(t, replies[0], "tcp://a:1")
}

func TestDispatcher_HeartbeatAcceptsAbsoluteAddress(t *testing.T) {
	d, _, dir := newTestDispatcher()
	replies, err := d.Handle("Heartbeat:tcp://peer:30303")
	require.NoError(t, err)
	assert.Equal(t, []string{"OK"}, replies)
	assert.Equal(t, 1, dir.Len())
}

func TestDispatcher_GetBlockCountReportsChainLength(t *testing.T) {
	d, c, _ := newTestDispatcher()
	c.MinePendingTransactions("miner-1")

	replies, err := d.Handle("GetBlockCount:0")
	require.NoError(t, err)
	assert.Equal(t, []string{"2"}, replies)
}

func TestDispatcher_VoteOnValidBlock(t *testing.T) {
	d, _, _ := newTestDispatcher()
	b := &chain.Block{Index: 1, MinerAddress: "m"}
	b.SealHash()
	enc, err := b.Base64()
	require.NoError(t, err)

	replies, err := d.Handle("Vote:" + enc)
	require.NoError(t, err)
	assert.Equal(t, []string{"OK"}, replies)
}

func TestDispatcher_VoteOnTamperedBlock(t *testing.T) {
	d, _, _ := newTestDispatcher()
	replies, err := d.Handle("Vote:bm90LWEtdmFsaWQtYmxvY2s=")
	require.NoError(t, err)
	assert.Equal(t, []string{""}, replies)
}

func TestDispatcher_VerifyCodeAcceptsCompressedBenignSource(t *testing.T) {
	d, _, _ := newTestDispatcher()
	compressed, err := gzipCompress(`using System; public class Ok { }`)
	require.NoError(t, err)

	replies, err := d.Handle("VerifyCode:" + base64Encode(compressed))
	require.NoError(t, err)
	assert.Equal(t, []string{"OK"}, replies)
}

func TestDispatcher_VerifyCodeRejectsForbiddenSource(t *testing.T) {
	d, _, _ := newTestDispatcher()
	compressed, err := gzipCompress(`using System.IO; public class Evil { }`)
	require.NoError(t, err)

	replies, err := d.Handle("VerifyCode:" + base64Encode(compressed))
	require.NoError(t, err)
	assert.Equal(t, []string{""}, replies)
}

func TestDispatcher_NewBlockExtendsChain(t *testing.T) {
	d, c, _ := newTestDispatcher()
	genesis := c.Blocks()[0]
	next := &chain.Block{Index: genesis.Index + 1, PrevHash: genesis.Hash, MinerAddress: "m"}
	next.SealHash()
	enc, err := json.Marshal(next)
	require.NoError(t, err)

	_, err = d.Handle("NewBlock:" + string(enc))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestDispatcher_NewBlockDedupsViaBloomFilter(t *testing.T) {
	d, c, _ := newTestDispatcher()
	genesis := c.Blocks()[0]
	next := &chain.Block{Index: genesis.Index + 1, PrevHash: genesis.Hash, MinerAddress: "m"}
	next.SealHash()
	enc, err := json.Marshal(next)
	require.NoError(t, err)

	_, err = d.Handle("NewBlock:" + string(enc))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())

	// Second delivery of the identical block is deduped and never reaches
	// AddBlock, so chain length is unaffected either way.
	_, err = d.Handle("NewBlock:" + string(enc))
	require.NoError(t, err)
	assert.Equal(t, 2, c.Len())
}

func TestDispatcher_AddTransactionMinesABlockWhenAdmitted(t *testing.T) {
	d, c, _ := newTestDispatcher()
	tx := chain.NewTransaction("alice", "bob", nil, nil, "")
	tx.Amount = nil
	enc, err := json.Marshal(tx)
	require.NoError(t, err)

	replies, err := d.Handle("AddTransaction:" + string(enc))
	require.NoError(t, err)
	assert.Equal(t, []string{"OK"}, replies)
	assert.Equal(t, 2, c.Len())
}

func base64Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
