package directory

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const testSecret = "shared-node-secret"

func TestDirectory_RegisterAcceptsValidSignature(t *testing.T) {
	d := New()
	addr := "tcp://127.0.0.1:30303"
	sig := SignRegistration(addr, testSecret)

	assert.True(t, d.Register(addr, sig, testSecret))
	assert.Equal(t, 1, d.Len())
}

func TestDirectory_RegisterRejectsBadSignature(t *testing.T) {
	d := New()
	assert.False(t, d.Register("tcp://127.0.0.1:30303", "bm90LXZhbGlk", testSecret))
	assert.Equal(t, 0, d.Len())
}

func TestDirectory_RegisterIsIdempotent(t *testing.T) {
	d := New()
	addr := "tcp://127.0.0.1:30303"
	sig := SignRegistration(addr, testSecret)

	assert.True(t, d.Register(addr, sig, testSecret))
	assert.True(t, d.Register(addr, sig, testSecret))
	assert.Equal(t, 1, d.Len())
}

func TestDirectory_HeartbeatRejectsRelativeAddress(t *testing.T) {
	d := New()
	assert.False(t, d.Heartbeat("not-a-uri"))
	assert.Equal(t, 0, d.Len())
}

func TestDirectory_HeartbeatAcceptsAbsoluteAddress(t *testing.T) {
	d := New()
	assert.True(t, d.Heartbeat("tcp://10.0.0.5:30303"))
	assert.Equal(t, 1, d.Len())
}

func TestDirectory_PruneExpiresStaleEntries(t *testing.T) {
	d := New()
	d.touch("tcp://stale:1", time.Now().Add(-HeartbeatTimeout-time.Second))
	d.touch("tcp://fresh:1", time.Now())

	d.Prune()
	assert.Equal(t, 1, d.Len())
	assert.True(t, d.Snapshot().Contains("tcp://fresh:1"))
}

func TestDirectory_MergeNeverOverwritesNewerTimestamp(t *testing.T) {
	d := New()
	newer := time.Now()
	older := newer.Add(-time.Minute)

	d.touch("tcp://peer:1", newer)
	d.Merge([]string{"tcp://peer:1"}, older)

	d.mu.RLock()
	recorded := d.entries["tcp://peer:1"]
	d.mu.RUnlock()
	assert.True(t, recorded.Equal(newer))
}

func TestDirectory_SnapshotReflectsRegisteredAndHeartbeatPeers(t *testing.T) {
	d := New()
	d.Heartbeat("tcp://a:1")
	d.Heartbeat("tcp://b:1")

	snap := d.Snapshot()
	assert.Equal(t, 2, snap.Cardinality())
	assert.True(t, snap.Contains("tcp://a:1"))
	assert.True(t, snap.Contains("tcp://b:1"))
}
