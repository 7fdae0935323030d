// Package dispatcher reads a frame, validates its fingerprint, matches the
// longest tag prefix, and invokes the corresponding handler, exactly as
// spec.md §4.4/§4.9 describe the message catalog and server state machine.
package dispatcher

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/log"
	"github.com/holiman/bloomfilter/v2"
	"github.com/inetconnector/smartxchain/chain"
	"github.com/inetconnector/smartxchain/directory"
	"github.com/inetconnector/smartxchain/internal/xmetrics"
	"github.com/inetconnector/smartxchain/mining"
	"github.com/inetconnector/smartxchain/safety"
	"github.com/inetconnector/smartxchain/syncengine"
	"github.com/klauspost/compress/gzip"
)

// tag is one recognized message prefix, tried in the documented order so
// the longest/most specific match wins.
type tag struct {
	prefix  string
	handler func(d *Dispatcher, rest string) ([]string, error)
}

// orderedTags mirrors the table in spec.md §4.4.
var orderedTags = []tag{
	{"Register:", (*Dispatcher).handleRegister},
	{"GetNodes", (*Dispatcher).handleGetNodes},
	{"Vote:", (*Dispatcher).handleVote},
	{"VerifyCode:", (*Dispatcher).handleVerifyCode},
	{"Heartbeat:", (*Dispatcher).handleHeartbeat},
	{"GetBlockCount:", (*Dispatcher).handleGetBlockCount},
	{"GetChain", (*Dispatcher).handleGetChain},
	{"NewBlock:", (*Dispatcher).handleNewBlock},
	{"AddTransaction:", (*Dispatcher).handleAddTransaction},
}

// Dispatcher routes decoded logical messages to their handlers.
type Dispatcher struct {
	directory   *directory.Directory
	chain       *chain.Chain
	analyzer    *safety.Analyzer
	admitter    *mining.Admitter
	chainSecret string

	seenBlocks *bloomfilter.Filter
}

// New returns a Dispatcher wired to the node's collaborators.
func New(dir *directory.Directory, c *chain.Chain, analyzer *safety.Analyzer, admitter *mining.Admitter, chainSecret string) *Dispatcher {
	// Sized for a few hundred thousand gossiped block hashes at under 1%
	// false-positive rate; a false positive makes handleNewBlock drop a
	// block it has not actually seen before.
	filter, err := bloomfilter.NewOptimal(200_000, 0.01)
	if err != nil {
		panic(fmt.Errorf("construct dedup bloom filter: %w", err))
	}
	return &Dispatcher{
		directory:   dir,
		chain:       c,
		analyzer:    analyzer,
		admitter:    admitter,
		chainSecret: chainSecret,
		seenBlocks:  filter,
	}
}

// Handle implements transport.Handler: it matches the longest tag prefix,
// in table order, and invokes its handler.
func (d *Dispatcher) Handle(logical string) ([]string, error) {
	for _, t := range orderedTags {
		if strings.HasPrefix(logical, t.prefix) {
			rest := strings.TrimPrefix(logical, t.prefix)
			return t.handler(d, rest)
		}
	}
	xmetrics.DispatcherUnknownTag.Inc(1)
	return []string{"ERROR: Unknown message"}, nil
}

func (d *Dispatcher) handleRegister(rest string) ([]string, error) {
	addr, sig, ok := parseRegistration(rest)
	if !ok {
		return []string{"ERROR: malformed registration"}, nil
	}
	if !d.directory.Register(addr, sig, d.chainSecret) {
		return []string{"ERROR: invalid registration signature"}, nil
	}
	go d.rebroadcastRegistration(addr, sig)
	return []string{"OK"}, nil
}

// parseRegistration splits rest at its last ':' into address and
// signature. A base64 signature never contains ':', while an address may
// (tcp://host:port, which split on ':' together with the tag gives the
// 5-field shape), so both that shape and a plain address:signature pair
// parse the same way.
func parseRegistration(rest string) (addr, sig string, ok bool) {
	i := strings.LastIndex(rest, ":")
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

func (d *Dispatcher) rebroadcastRegistration(addr, sig string) {
	message := fmt.Sprintf("Register:%s:%s", addr, sig)
	for _, peer := range d.directory.Snapshot().ToSlice() {
		peer := peer
		go func() { _ = sendFireAndForget(peer, message) }()
	}
}

func (d *Dispatcher) handleGetNodes(string) ([]string, error) {
	peers := d.directory.Snapshot().ToSlice()
	return []string{strings.Join(peers, ",")}, nil
}

func (d *Dispatcher) handleVote(rest string) ([]string, error) {
	if chain.VerifyBlockBase64(rest) {
		return []string{"OK"}, nil
	}
	return []string{""}, nil
}

func (d *Dispatcher) handleVerifyCode(rest string) ([]string, error) {
	raw, err := base64.StdEncoding.DecodeString(rest)
	if err != nil {
		return []string{""}, nil
	}
	source, err := gunzip(raw)
	if err != nil {
		return []string{""}, nil
	}
	if err := d.analyzer.Analyze(source); err != nil {
		return []string{""}, nil
	}
	return []string{"OK"}, nil
}

func gunzip(raw []byte) (string, error) {
	r, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	defer r.Close()
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// gzipCompress is the client-side counterpart used by tests and by any peer
// preparing a VerifyCode: request.
func gzipCompress(source string) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(source)); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (d *Dispatcher) handleHeartbeat(rest string) ([]string, error) {
	if !d.directory.Heartbeat(rest) {
		return []string{"ERROR: malformed address"}, nil
	}
	return []string{"OK"}, nil
}

func (d *Dispatcher) handleGetBlockCount(string) ([]string, error) {
	return []string{strconv.Itoa(d.chain.Len())}, nil
}

func (d *Dispatcher) handleGetChain(string) ([]string, error) {
	var buf bytes.Buffer
	if err := gobEncodeBlocks(&buf, d.chain.Blocks()); err != nil {
		log.Error("failed to encode chain for GetChain reply", "err", err)
		return []string{"ERROR: internal error"}, nil
	}
	return syncengine.EncodeChainChunks(buf.Bytes()), nil
}

func (d *Dispatcher) handleNewBlock(rest string) ([]string, error) {
	var b chain.Block
	if err := json.Unmarshal([]byte(rest), &b); err != nil {
		log.Warn("NewBlock: malformed payload", "err", err)
		return nil, nil
	}
	key := []byte(fmt.Sprintf("%x", b.Hash))
	if d.seenBlocks.Contains(asHashable(key)) {
		return nil, nil
	}
	d.seenBlocks.Add(asHashable(key))
	if !d.chain.AddBlock(&b) {
		log.Warn("NewBlock: rejected, does not extend current tip", "index", b.Index)
	}
	return nil, nil
}

func (d *Dispatcher) handleAddTransaction(rest string) ([]string, error) {
	var tx chain.Transaction
	if err := json.Unmarshal([]byte(rest), &tx); err != nil {
		return []string{"ERROR: malformed transaction"}, nil
	}
	switch d.admitter.AddTransaction(contextBackground(), &tx) {
	case mining.OK:
		return []string{"OK"}, nil
	default:
		return []string{"ERROR: rejected"}, nil
	}
}
