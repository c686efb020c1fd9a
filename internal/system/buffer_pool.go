package system

import "sync"

// BufferPool recycles byte slices by exact length to cut GC pressure when
// many tasks of the same shape run back to back.
type BufferPool struct {
	pools map[int]*sync.Pool
	mu    sync.RWMutex
}

func NewBufferPool() *BufferPool {
	return &BufferPool{pools: make(map[int]*sync.Pool)}
}

// Get returns a buffer of exactly size bytes. Its contents are undefined.
func (p *BufferPool) Get(size int) *[]byte {
	p.mu.RLock()
	pool, exists := p.pools[size]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		// Double check
		pool, exists = p.pools[size]
		if !exists {
			pool = &sync.Pool{
				New: func() any {
					b := make([]byte, size)
					return &b
				},
			}
			p.pools[size] = pool
		}
		p.mu.Unlock()
	}

	return pool.Get().(*[]byte)
}

// Put hands buf back for reuse. Buffers of a size never requested through
// Get are dropped.
func (p *BufferPool) Put(buf *[]byte) {
	if buf == nil {
		return
	}
	p.mu.RLock()
	pool, exists := p.pools[len(*buf)]
	p.mu.RUnlock()

	if exists {
		pool.Put(buf)
	}
}
