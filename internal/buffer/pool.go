package buffer

import "sync"

// Pool is a bounded free-list of fixed-size Buffers. Unlike sync.Pool, Alloc
// never manufactures a Buffer past the configured capacity — it reports
// exhaustion instead — so steady-state memory is capped at
// size * capacity, matching the "at most 2 * max_sessions buffers
// outstanding" resource bound.
type Pool struct {
	mu       sync.Mutex
	free     []*Buffer
	size     int
	capacity int
	created  int
}

// NewPool creates a pool that hands out Buffers of bufSize bytes, never
// holding more than capacity of them alive at once.
func NewPool(bufSize, capacity int) *Pool {
	return &Pool{
		size:     bufSize,
		capacity: capacity,
	}
}

// Alloc returns a fresh Buffer with Offset and Length zeroed, or ok=false if
// the pool is exhausted. Every caller must set Offset/Length before use.
func (p *Pool) Alloc() (buf *Buffer, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if n := len(p.free); n > 0 {
		buf = p.free[n-1]
		p.free = p.free[:n-1]
		buf.Reset()
		return buf, true
	}

	if p.created >= p.capacity {
		return nil, false
	}

	p.created++
	return &Buffer{data: make([]byte, p.size)}, true
}

// Free returns buf to the pool for reuse. Freeing a Buffer not obtained from
// this Pool, or freeing the same Buffer twice, is a bug.
func (p *Pool) Free(buf *Buffer) {
	if buf == nil {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.free = append(p.free, buf)
}

// InUse reports how many buffers are currently checked out of the pool.
func (p *Pool) InUse() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.created - len(p.free)
}
