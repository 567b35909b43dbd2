package buffer

import (
	"github.com/samber/oops"
)

var (
	// ErrConsumePastWriter is returned when a reader tries to consume more
	// bytes than the writer has produced.
	ErrConsumePastWriter = oops.Errorf("buffer: consume past writer cursor")
	// ErrNegativeCount is returned for negative byte counts.
	ErrNegativeCount = oops.Errorf("buffer: negative count")
)

// Buffer is a producer/consumer byte queue with a single writer cursor and
// one or more reader cursors. The writer appends with Write; each Reader
// consumes independently from its own cursor. A Buffer may back both a read
// operation and a write operation at once (zero-copy sharing), which is why
// readers never observe bytes past the writer cursor and the writer never
// reclaims bytes a reader has not consumed.
//
// Buffer performs no locking of its own: callers are expected to hold the
// lock of the scope the buffer lives in (a tunnel and its paired sibling
// share one lock).
type Buffer struct {
	data    []byte // window starting at absolute offset base
	base    int64  // absolute offset of data[0]
	wpos    int64  // absolute writer cursor, wpos >= base
	readers []*Reader
}

// Reader is one consume cursor over a Buffer.
type Reader struct {
	buf  *Buffer
	rpos int64 // absolute, base <= rpos <= wpos
}

// New returns an empty Buffer whose initial storage holds sizeHint bytes.
// A non-positive hint falls back to a single page.
func New(sizeHint int) *Buffer {
	if sizeHint <= 0 {
		sizeHint = 4096
	}
	return &Buffer{data: make([]byte, 0, sizeHint)}
}

// Write appends p after the writer cursor. It never fails; storage grows as
// needed after reclaiming fully consumed bytes.
func (b *Buffer) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	if cap(b.data)-len(b.data) < len(p) {
		b.compact()
	}
	b.data = append(b.data, p...)
	b.wpos += int64(len(p))
	return len(p), nil
}

// Len reports the number of bytes held between the least advanced reader
// cursor and the writer cursor. A Buffer with no readers reports everything
// written since the last Reset.
func (b *Buffer) Len() int {
	return int(b.wpos - b.minReader())
}

// NewReader attaches a new consume cursor positioned at the writer cursor:
// a fresh reader sees only bytes written after it was created.
func (b *Buffer) NewReader() *Reader {
	r := &Reader{buf: b, rpos: b.wpos}
	b.readers = append(b.readers, r)
	return r
}

// Reset drops all content and detaches all readers. The storage is retained
// for reuse.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.base = 0
	b.wpos = 0
	b.readers = nil
}

func (b *Buffer) minReader() int64 {
	min := b.wpos
	for _, r := range b.readers {
		if r.rpos < min {
			min = r.rpos
		}
	}
	return min
}

// compact discards bytes every reader has consumed, sliding the window down
// so appends can reuse the freed capacity.
func (b *Buffer) compact() {
	min := b.minReader()
	drop := int(min - b.base)
	if drop <= 0 {
		return
	}
	n := copy(b.data, b.data[drop:])
	b.data = b.data[:n]
	b.base = min
}

// Buffered reports how many bytes are available to this reader.
func (r *Reader) Buffered() int {
	return int(r.buf.wpos - r.rpos)
}

// Peek returns up to n unconsumed bytes without advancing the cursor.
// n < 0 peeks everything available. The returned slice aliases the buffer's
// storage and is invalidated by the next Write or Consume on any cursor;
// callers that release the lock must copy it first.
func (r *Reader) Peek(n int) []byte {
	avail := r.Buffered()
	if n < 0 || n > avail {
		n = avail
	}
	off := int(r.rpos - r.buf.base)
	return r.buf.data[off : off+n]
}

// Consume advances the cursor by n bytes. Advancing past the writer cursor
// is an error and leaves the cursor unchanged.
func (r *Reader) Consume(n int) error {
	if n < 0 {
		return ErrNegativeCount
	}
	if n > r.Buffered() {
		return ErrConsumePastWriter
	}
	r.rpos += int64(n)
	return nil
}

// Buffer returns the queue this reader consumes from.
func (r *Reader) Buffer() *Buffer {
	return r.buf
}
