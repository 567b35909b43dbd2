package buffer

import "sync"

// DefaultSize is the working-buffer size used when a caller gives no hint.
const DefaultSize = 32 * 1024

var pool = sync.Pool{
	New: func() interface{} {
		return New(DefaultSize)
	},
}

// Get returns a reset Buffer from the pool. Hints up to DefaultSize are
// served from pooled storage; larger hints allocate exactly.
func Get(sizeHint int) *Buffer {
	if sizeHint > DefaultSize {
		return New(sizeHint)
	}
	b := pool.Get().(*Buffer)
	b.Reset()
	return b
}

// Put returns a Buffer to the pool. The caller must not touch the buffer or
// any of its readers afterwards. Oversized buffers are dropped so the pool
// holds only DefaultSize storage.
func Put(b *Buffer) {
	if b == nil || cap(b.data) > DefaultSize {
		return
	}
	b.Reset()
	pool.Put(b)
}
