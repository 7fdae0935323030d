package snowman

import "sync/atomic"

// atomicCounter is a tiny thread-safe tally, used instead of a mutex-guarded
// int since votes only ever increment.
type atomicCounter struct {
	n atomic.Int64
}

func (c *atomicCounter) inc()      { c.n.Add(1) }
func (c *atomicCounter) get() int  { return int(c.n.Load()) }
