/*
Package bufpool hands out fixed-size byte buffers from a bounded set.

The pool never allocates more than `capacity` buffers.  When all of them
are out, `Acquire` blocks until one is released (or the context ends).
Every buffer is zeroed on release, so bytes from one use can never be
observed by the next.

Buffers are the unit of memory accounting for a whole import: the directory
scanner decodes entries in place inside them, and the content hasher reads
file windows into them.  Holding a buffer means owning it exclusively;
views into it (e.g. directory entry names) are valid only until release.
*/
package bufpool

import (
	"context"
	"sync/atomic"

	. "github.com/warpfork/go-errcat"

	"github.com/polydawn/banyan/api"
)

type Pool struct {
	size     int
	capacity int
	free     chan *Buffer  // released buffers, ready for reuse.
	tokens   chan struct{} // one per buffer not yet allocated.
	out      atomic.Int64  // buffers currently acquired.
	made     atomic.Int64  // buffers ever allocated.
}

type Buffer struct {
	pool *Pool
	bs   []byte
	held atomic.Bool
}

type Stats struct {
	Size        int // bytes per buffer.
	Capacity    int // maximum buffers.
	Allocated   int // buffers allocated so far (never exceeds Capacity).
	Outstanding int // buffers currently acquired.
}

/*
Create a pool of up to `capacity` buffers of `size` bytes each.
Buffers are allocated lazily, on first demand.
*/
func New(size, capacity int) *Pool {
	if size <= 0 || capacity <= 0 {
		panic("bufpool: size and capacity must be positive")
	}
	p := &Pool{
		size:     size,
		capacity: capacity,
		free:     make(chan *Buffer, capacity),
		tokens:   make(chan struct{}, capacity),
	}
	for i := 0; i < capacity; i++ {
		p.tokens <- struct{}{}
	}
	return p
}

// Size is the length of every buffer this pool hands out.
func (p *Pool) Size() int { return p.size }

/*
Acquire a buffer at least `minSize` bytes long, blocking while none is free.

Errors:

  - `api.ErrUsage` -- if minSize exceeds the pool's buffer size (it would block forever)
  - `api.ErrCancelled` -- if the context ends before a buffer frees up
*/
func (p *Pool) Acquire(ctx context.Context, minSize int) (*Buffer, error) {
	if minSize > p.size {
		return nil, Errorf(api.ErrUsage, "bufpool: requested %d bytes but buffers are only %d", minSize, p.size)
	}
	// Prefer reuse.  Only allocate if nothing's free right now.
	select {
	case b := <-p.free:
		return p.hand(b), nil
	default:
	}
	select {
	case b := <-p.free:
		return p.hand(b), nil
	case <-p.tokens:
		p.made.Add(1)
		return p.hand(&Buffer{pool: p, bs: make([]byte, p.size)}), nil
	case <-ctx.Done():
		return nil, Errorf(api.ErrCancelled, "bufpool: cancelled while waiting for a buffer: %s", ctx.Err())
	}
}

func (p *Pool) hand(b *Buffer) *Buffer {
	b.held.Store(true)
	p.out.Add(1)
	return b
}

func (p *Pool) Stats() Stats {
	return Stats{
		Size:        p.size,
		Capacity:    p.capacity,
		Allocated:   int(p.made.Load()),
		Outstanding: int(p.out.Load()),
	}
}

// Bytes returns the whole buffer.  Don't retain it past Release.
func (b *Buffer) Bytes() []byte {
	return b.bs
}

/*
Return the buffer to its pool.  The contents are zeroed first.
Releasing a buffer twice is a bug, and panics.
*/
func (b *Buffer) Release() {
	if !b.held.CompareAndSwap(true, false) {
		panic("bufpool: buffer released twice")
	}
	clear(b.bs)
	b.pool.out.Add(-1)
	b.pool.free <- b
}
