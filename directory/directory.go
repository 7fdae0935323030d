// Package directory is the concurrent liveness map of peer addresses used
// by the dispatcher, the sync loop, and the heartbeat handler.
package directory

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/url"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// HeartbeatTimeout is how long a peer entry survives without a fresh
// registration, heartbeat, or directory-merge touch.
const HeartbeatTimeout = 30 * time.Second

// Directory is a concurrent address -> last-seen map.
type Directory struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// New returns an empty Directory.
func New() *Directory {
	return &Directory{entries: make(map[string]time.Time)}
}

// Register validates sig as HMAC-SHA-256(secret, address) and, on success,
// sets address's last-seen to now. It reports whether registration
// succeeded.
func (d *Directory) Register(address, sig, secret string) bool {
	if !verifyRegistration(address, sig, secret) {
		return false
	}
	d.touch(address, time.Now())
	return true
}

func verifyRegistration(address, sig, secret string) bool {
	decoded, err := base64.StdEncoding.DecodeString(sig)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(address))
	expected := mac.Sum(nil)
	return hmac.Equal(decoded, expected)
}

// SignRegistration computes the signature a peer presents when registering.
func SignRegistration(address, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(address))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

// Heartbeat refreshes address's last-seen if it is a well-formed absolute
// URI. It reports whether the address was accepted.
func (d *Directory) Heartbeat(address string) bool {
	u, err := url.Parse(address)
	if err != nil || !u.IsAbs() {
		return false
	}
	d.touch(address, time.Now())
	return true
}

// Merge folds addrs into the directory without ever overwriting a more
// recent timestamp already recorded locally. Used by the 5s synchronize
// loop after querying peers for GetNodes.
func (d *Directory) Merge(addrs []string, seenAt time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, addr := range addrs {
		if existing, ok := d.entries[addr]; ok && existing.After(seenAt) {
			continue
		}
		d.entries[addr] = seenAt
	}
}

func (d *Directory) touch(address string, at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.entries[address] = at
}

// Prune removes every entry whose last-seen is older than HeartbeatTimeout.
func (d *Directory) Prune() {
	cutoff := time.Now().Add(-HeartbeatTimeout)
	d.mu.Lock()
	defer d.mu.Unlock()
	for addr, seen := range d.entries {
		if seen.Before(cutoff) {
			delete(d.entries, addr)
		}
	}
}

// Snapshot prunes expired entries and returns the set of currently active
// peer addresses.
func (d *Directory) Snapshot() mapset.Set[string] {
	d.Prune()
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := mapset.NewThreadUnsafeSet[string]()
	for addr := range d.entries {
		out.Add(addr)
	}
	return out
}

// Len reports the number of active peers, pruning first.
func (d *Directory) Len() int {
	return d.Snapshot().Cardinality()
}
