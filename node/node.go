// Package node wires the Contract Execution Subsystem and the Peer Node
// Subsystem together into one running process: directory, chain,
// dispatcher, sync engine, admitter, and the transport server, driven by
// the handful of long-running loops described in spec.md §5.
package node

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/inetconnector/smartxchain/chain"
	"github.com/inetconnector/smartxchain/config"
	"github.com/inetconnector/smartxchain/directory"
	"github.com/inetconnector/smartxchain/dispatcher"
	"github.com/inetconnector/smartxchain/executor"
	"github.com/inetconnector/smartxchain/mining"
	"github.com/inetconnector/smartxchain/syncengine"
	"github.com/inetconnector/smartxchain/transport"
)

// synchronizeInterval is how often the node asks its known peers for
// GetNodes and folds the results into the local directory.
const synchronizeInterval = 5 * time.Second

// syncInterval is how often the node checks whether any peer has a longer
// valid chain and, if so, adopts it.
const syncInterval = 5 * time.Second

// heartbeatInterval is how often the node announces itself to each known
// peer so its own directory entry there does not expire.
const heartbeatInterval = 20 * time.Second

// saveInterval is how often the local chain is persisted to disk so a
// restart does not lose mined blocks.
const saveInterval = 30 * time.Second

// Node owns every long-lived collaborator and the goroutines that drive
// them. Its zero value is not usable; construct with New.
type Node struct {
	cfg *config.Config

	dir      *directory.Directory
	chain    *chain.Chain
	dispatch *dispatcher.Dispatcher
	sync     *syncengine.Engine
	admitter *mining.Admitter
	server   *transport.Server
	executor *executor.Executor

	selfAddr string
	stop     chan struct{}
}

// New constructs a Node from cfg. It does not start any goroutines; call
// Start for that.
func New(cfg *config.Config) (*Node, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	c, err := chain.Load(cfg.ChainFilePath)
	if err != nil {
		log.Warn("no usable chain file on disk, starting from genesis", "path", cfg.ChainFilePath, "err", err)
		c = chain.NewChain()
	}

	dir := directory.New()
	for _, p := range cfg.Peers {
		dir.Heartbeat(p)
	}

	exec := executor.New(cfg.SandboxHostPath)
	executor.SetDefaultHostBinaryPath(cfg.SandboxHostPath)

	selfAddr := fmt.Sprintf("tcp://127.0.0.1:%d", cfg.Port)
	peersFn := func() []string { return dir.Snapshot().ToSlice() }

	syncEngine := syncengine.New(c, peersFn())
	admitter := mining.New(c, syncEngine, cfg.MinerAddress, peersFn)
	disp := dispatcher.New(dir, c, exec.Analyzer(), admitter, cfg.ChainSecret)
	server := transport.NewServer(fmt.Sprintf(":%d", cfg.Port), disp, cfg.Debug)

	return &Node{
		cfg:      cfg,
		dir:      dir,
		chain:    c,
		dispatch: disp,
		sync:     syncEngine,
		admitter: admitter,
		server:   server,
		executor: exec,
		selfAddr: selfAddr,
		stop:     make(chan struct{}),
	}, nil
}

// Start launches the accept loop and every periodic background loop. It
// returns once the accept loop has bound its listener, or immediately with
// an error on a fatal bind failure.
func (n *Node) Start(ctx context.Context) error {
	bound := make(chan error, 1)
	go func() {
		bound <- n.server.Serve(n.stop)
	}()

	select {
	case err := <-bound:
		if err != nil {
			return err
		}
	case <-time.After(100 * time.Millisecond):
		go func() {
			if err := <-bound; err != nil {
				log.Error("transport server exited", "err", err)
			}
		}()
	}

	n.registerWithPeers()

	go n.synchronizeLoop(ctx)
	go n.syncLoop(ctx)
	go n.heartbeatLoop(ctx)
	go n.saveLoop(ctx)

	log.Info("node started", "addr", n.selfAddr, "chainLength", n.chain.Len())
	return nil
}

// Stop signals every background loop to exit and persists the chain one
// final time.
func (n *Node) Stop() {
	close(n.stop)
	if err := n.chain.Save(n.cfg.ChainFilePath); err != nil {
		log.Error("failed to save chain on shutdown", "err", err)
	}
}

// registerWithPeers sends this node's signed registration to every
// configured peer once at startup.
func (n *Node) registerWithPeers() {
	sig := directory.SignRegistration(n.selfAddr, n.cfg.ChainSecret)
	message := fmt.Sprintf("Register:%s:%s", n.selfAddr, sig)
	for _, peer := range n.cfg.Peers {
		peer := peer
		go func() {
			if _, err := transport.Send(peer, message); err != nil {
				log.Warn("initial registration failed", "peer", peer, "err", err)
			}
		}()
	}
}

// synchronizeLoop periodically asks every known peer for its neighbor
// list and folds the replies into the local directory.
func (n *Node) synchronizeLoop(ctx context.Context) {
	ticker := time.NewTicker(synchronizeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			seenAt := time.Now()
			for _, peer := range n.dir.Snapshot().ToSlice() {
				reply, err := transport.Send(peer, "GetNodes")
				if err != nil || reply == "" {
					continue
				}
				n.dir.Merge(splitNonEmpty(reply), seenAt)
			}
		}
	}
}

// syncLoop periodically checks whether any peer has a strictly longer
// valid chain and, if so, downloads and adopts it.
func (n *Node) syncLoop(ctx context.Context) {
	ticker := time.NewTicker(syncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.sync.SyncIfBehind(ctx)
		}
	}
}

// heartbeatLoop periodically announces this node's address to every known
// peer so its directory entry there does not expire.
func (n *Node) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, peer := range n.dir.Snapshot().ToSlice() {
				peer := peer
				go func() {
					if _, err := transport.Send(peer, "Heartbeat:"+n.selfAddr); err != nil {
						log.Warn("heartbeat failed", "peer", peer, "err", err)
					}
				}()
			}
		}
	}
}

// saveLoop periodically persists the chain to disk so a crash or restart
// does not lose mined blocks.
func (n *Node) saveLoop(ctx context.Context) {
	ticker := time.NewTicker(saveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := n.chain.Save(n.cfg.ChainFilePath); err != nil {
				log.Error("periodic chain save failed", "err", err)
			}
		}
	}
}

// splitNonEmpty splits a comma-joined GetNodes reply, discarding empty
// fields (an empty directory reply is one empty string, not zero fields).
func splitNonEmpty(s string) []string {
	var out []string
	start := 0
	for i := 0; i <= len(s); i++ {
		if i == len(s) || s[i] == ',' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	return out
}

// Executor exposes the node's contract executor for the RPC/CLI surface
// that drives compile/execute scenarios directly against this process.
func (n *Node) Executor() *executor.Executor { return n.executor }

// Chain exposes the node's local chain for read-only inspection by the
// CLI surface.
func (n *Node) Chain() *chain.Chain { return n.chain }
