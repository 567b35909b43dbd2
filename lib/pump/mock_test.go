package pump

import (
	"sync"

	"github.com/go-i2p/go-datapump/lib/buffer"
)

// scriptEndpoint is a deterministic, single-threaded Endpoint for tests: the
// test drives read-side production with feed/eos and write-side drain with
// drain, observing the Action verdicts the tunnel hands back. Bytes the
// "network" accepted accumulate in wire.
type scriptEndpoint struct {
	name string

	readVIO  *VIO
	writeVIO *VIO

	wire   []byte
	closed int

	issueReadErr  error
	issueWriteErr error
}

func newScriptEndpoint(name string) *scriptEndpoint {
	return &scriptEndpoint{name: name}
}

func (e *scriptEndpoint) IssueRead(sink EventSink, mu *sync.Mutex, buf *buffer.Buffer, n int64) (*VIO, error) {
	if e.issueReadErr != nil {
		return nil, e.issueReadErr
	}
	e.readVIO = NewReadVIO(e, sink, mu, buf, n)
	return e.readVIO, nil
}

func (e *scriptEndpoint) IssueWrite(sink EventSink, mu *sync.Mutex, rd *buffer.Reader, n int64) (*VIO, error) {
	if e.issueWriteErr != nil {
		return nil, e.issueWriteErr
	}
	e.writeVIO = NewWriteVIO(e, sink, mu, rd, n)
	return e.writeVIO, nil
}

func (e *scriptEndpoint) Close() error {
	e.closed++
	return nil
}

// feed produces up to len(p) bytes from the source, honoring the read
// operation's byte limit and enabled state, then delivers read-ready.
// Returns how many bytes the operation accepted.
func (e *scriptEndpoint) feed(p []byte) (int, Action) {
	v := e.readVIO
	if v == nil || v.Canceled() || !v.Enabled() {
		return 0, ActionClosed
	}
	n := len(p)
	if int64(n) > v.Todo() {
		n = int(v.Todo())
	}
	if n == 0 {
		return 0, ActionContinue
	}
	v.Buffer().Write(p[:n])
	v.AddDone(int64(n))
	return n, v.Deliver(EventReadReady)
}

// eos delivers end-of-stream on the read operation.
func (e *scriptEndpoint) eos() Action {
	v := e.readVIO
	if v == nil || v.Canceled() {
		return ActionClosed
	}
	return v.Deliver(EventEndOfStream)
}

// drain lets the target accept up to max buffered bytes and delivers
// write-ready. Returns how many bytes moved to the wire.
func (e *scriptEndpoint) drain(max int) (int, Action) {
	v := e.writeVIO
	if v == nil || v.Canceled() || !v.Enabled() {
		return 0, ActionClosed
	}
	n := v.Reader().Buffered()
	if n > max {
		n = max
	}
	if int64(n) > v.Todo() {
		n = int(v.Todo())
	}
	if n == 0 {
		return 0, ActionContinue
	}
	e.wire = append(e.wire, v.Reader().Peek(n)...)
	if err := v.Reader().Consume(n); err != nil {
		panic(err)
	}
	v.AddDone(int64(n))
	return n, v.Deliver(EventWriteReady)
}

// drainAll drains in fixed-size steps until the write side stalls or closes.
func (e *scriptEndpoint) drainAll() int {
	total := 0
	for {
		n, act := e.drain(7) // odd step size to exercise partial writes
		total += n
		if n == 0 || act != ActionContinue {
			return total
		}
	}
}

// failRead delivers an error event on the read operation.
func (e *scriptEndpoint) failRead(err error) Action {
	v := e.readVIO
	if v == nil || v.Canceled() {
		return ActionClosed
	}
	v.SetErr(err)
	return v.Deliver(EventError)
}

// failWrite delivers an error event on the write operation.
func (e *scriptEndpoint) failWrite(err error) Action {
	v := e.writeVIO
	if v == nil || v.Canceled() {
		return ActionClosed
	}
	v.SetErr(err)
	return v.Deliver(EventError)
}
