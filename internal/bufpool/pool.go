package bufpool

import "sync"

// Pool hands out byte buffers of a fixed size and reuses them to reduce
// allocations. Every active stream borrows at most one buffer, which is
// what keeps per-stream memory at O(buffer size) regardless of file size.
type Pool struct {
	pool    sync.Pool
	bufSize int
}

// New creates a pool that returns buffers of exactly bufSize bytes.
func New(bufSize int) *Pool {
	if bufSize <= 0 {
		panic("bufpool: bufSize must be positive")
	}
	return &Pool{
		bufSize: bufSize,
		pool: sync.Pool{
			New: func() any {
				return make([]byte, bufSize)
			},
		},
	}
}

// Get returns a buffer of exactly bufSize bytes.
func (p *Pool) Get() []byte {
	buf := p.pool.Get().([]byte)
	if cap(buf) < p.bufSize {
		return make([]byte, p.bufSize)
	}
	return buf[:p.bufSize]
}

// Put returns a buffer obtained from Get for reuse.
func (p *Pool) Put(buf []byte) {
	if cap(buf) < p.bufSize {
		return
	}
	p.pool.Put(buf[:cap(buf)])
}

// BufSize returns the size of buffers in this pool.
func (p *Pool) BufSize() int {
	return p.bufSize
}
