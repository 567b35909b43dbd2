package pump

import (
	"math"
	"sync"

	"github.com/go-i2p/go-datapump/lib/buffer"
)

// Unbounded requests as many bytes as the stream can supply.
const Unbounded int64 = math.MaxInt64

// Dir is the direction of a VIO.
type Dir int

const (
	DirRead Dir = iota
	DirWrite
)

func (d Dir) String() string {
	if d == DirRead {
		return "read"
	}
	return "write"
}

// VIO represents one in-flight asynchronous read or write: the requested and
// completed byte counts, the buffer the operation works against, and the
// controls to pause and resume it. A Tunnel holds at most one read VIO and
// one write VIO.
//
// All methods require the VIO's lock to be held unless noted otherwise.
type VIO struct {
	dir  Dir
	mu   *sync.Mutex
	ep   Endpoint
	sink EventSink

	buf *buffer.Buffer // read direction: bytes produced land here
	rd  *buffer.Reader // write direction: bytes to send come from here

	nbytes int64 // requested
	ndone  int64 // completed

	err      error
	enabled  bool
	canceled bool
	wakeup   func() // endpoint hook, fired on Reenable/Disable/cancel
}

// NewReadVIO builds the handle for a read operation filling buf. Endpoint
// implementations call this from IssueRead.
func NewReadVIO(ep Endpoint, sink EventSink, mu *sync.Mutex, buf *buffer.Buffer, n int64) *VIO {
	return &VIO{dir: DirRead, mu: mu, ep: ep, sink: sink, buf: buf, nbytes: n, enabled: true}
}

// NewWriteVIO builds the handle for a write operation draining rd. Endpoint
// implementations call this from IssueWrite.
func NewWriteVIO(ep Endpoint, sink EventSink, mu *sync.Mutex, rd *buffer.Reader, n int64) *VIO {
	return &VIO{dir: DirWrite, mu: mu, ep: ep, sink: sink, rd: rd, nbytes: n, enabled: true}
}

// Dir reports the operation direction. Immutable, safe without the lock.
func (v *VIO) Dir() Dir { return v.dir }

// Lock returns the mutex serializing this operation's events. Immutable,
// safe without the lock.
func (v *VIO) Lock() *sync.Mutex { return v.mu }

// Endpoint returns the connection that owns the operation. Immutable, safe
// without the lock.
func (v *VIO) Endpoint() Endpoint { return v.ep }

// Buffer returns the buffer a read operation fills (nil for writes).
func (v *VIO) Buffer() *buffer.Buffer { return v.buf }

// Reader returns the cursor a write operation drains (nil for reads).
func (v *VIO) Reader() *buffer.Reader { return v.rd }

// Nbytes reports the requested byte count.
func (v *VIO) Nbytes() int64 { return v.nbytes }

// Ndone reports the completed byte count.
func (v *VIO) Ndone() int64 { return v.ndone }

// Todo reports the bytes still outstanding.
func (v *VIO) Todo() int64 {
	if v.ndone >= v.nbytes {
		return 0
	}
	return v.nbytes - v.ndone
}

// AddDone credits n completed bytes.
func (v *VIO) AddDone(n int64) { v.ndone += n }

// SetNbytes adjusts the requested byte count; the tunnel clamps the write
// side's request when the source hits end-of-stream.
func (v *VIO) SetNbytes(n int64) { v.nbytes = n }

// Err returns the error recorded against this operation, if any.
func (v *VIO) Err() error { return v.err }

// SetErr records the failure an EventError delivery will carry.
func (v *VIO) SetErr(err error) { v.err = err }

// Enabled reports whether the operation may make progress.
func (v *VIO) Enabled() bool { return v.enabled }

// Reenable resumes a paused operation and wakes its endpoint. Calling it on
// an already enabled operation just nudges the endpoint, which is how the
// tunnel kicks the write side after new bytes arrive.
func (v *VIO) Reenable() {
	v.enabled = true
	v.notify()
}

// Disable pauses the operation; the endpoint must not make progress until
// Reenable.
func (v *VIO) Disable() {
	v.enabled = false
	v.notify()
}

// Canceled reports whether the tunnel has abandoned the operation. A
// canceled VIO must deliver no further events.
func (v *VIO) Canceled() bool { return v.canceled }

// cancel abandons the operation and wakes the endpoint so it can unwind.
func (v *VIO) cancel() {
	v.canceled = true
	v.notify()
}

// SetWakeup installs the endpoint's wake hook, fired whenever the enabled or
// canceled state changes.
func (v *VIO) SetWakeup(f func()) { v.wakeup = f }

// SetSink redirects event delivery, used when a tunnel adopts an operation
// that was issued before the tunnel existed.
func (v *VIO) SetSink(s EventSink) { v.sink = s }

// Deliver hands an event to the current sink.
func (v *VIO) Deliver(kind EventKind) Action {
	if v.sink == nil {
		return ActionClosed
	}
	return v.sink.HandleEvent(kind, v)
}

func (v *VIO) notify() {
	if v.wakeup != nil {
		v.wakeup()
	}
}
