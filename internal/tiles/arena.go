package tiles

import "sync"

// bufferPool keeps one sync.Pool per buffer length so tile and padded-image
// buffers are reused across classifications instead of churning the GC.
type bufferPool struct {
	pools map[int]*sync.Pool
	mu    sync.RWMutex
}

var globalPool = &bufferPool{
	pools: make(map[int]*sync.Pool),
}

func (p *bufferPool) get(n int) *[]float32 {
	p.mu.RLock()
	pool, exists := p.pools[n]
	p.mu.RUnlock()

	if !exists {
		p.mu.Lock()
		pool, exists = p.pools[n]
		if !exists {
			pool = &sync.Pool{
				New: func() any {
					buf := make([]float32, n)
					return &buf
				},
			}
			p.pools[n] = pool
		}
		p.mu.Unlock()
	}

	return pool.Get().(*[]float32)
}

func (p *bufferPool) put(buf *[]float32) {
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

// Arena owns every buffer handed out during a single classification.
// Buffers must not be used after Release. An Arena is not safe for
// concurrent use; a nil Arena allocates unpooled buffers.
type Arena struct {
	bufs []*[]float32
}

func NewArena() *Arena {
	return &Arena{}
}

// Alloc returns a zeroed buffer of length n.
func (a *Arena) Alloc(n int) []float32 {
	if a == nil {
		return make([]float32, n)
	}
	buf := globalPool.get(n)
	clear(*buf)
	a.bufs = append(a.bufs, buf)
	return *buf
}

// Live reports how many buffers are currently held.
func (a *Arena) Live() int {
	if a == nil {
		return 0
	}
	return len(a.bufs)
}

func (a *Arena) Release() {
	if a == nil {
		return
	}
	for _, buf := range a.bufs {
		globalPool.put(buf)
	}
	clear(a.bufs)
	a.bufs = a.bufs[:0]
}
