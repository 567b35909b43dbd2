package netio

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"github.com/go-i2p/go-datapump/lib/buffer"
	"github.com/go-i2p/go-datapump/lib/pump"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/time/rate"
)

var log = logger.GetGoI2PLogger()

// ErrNilConn is returned when an endpoint is built around no connection.
var ErrNilConn = oops.Errorf("netio: nil connection")

// chunkSize is how many bytes one read or write syscall moves at most.
const chunkSize = 32 * 1024

// ConnEndpoint adapts a net.Conn to the pump.Endpoint interface. Each issued
// operation runs on its own goroutine, the external "scheduler" the state
// machine expects: the goroutine blocks on the wire (and on a condition
// variable while its VIO is paused) outside the tunnel's lock, then takes
// the lock to move cursors and deliver exactly one event at a time.
//
// Inactivity deadlines set on the conn surface as ordinary error events,
// indistinguishable from any other I/O failure, which is the contract the
// tunnel wants.
type ConnEndpoint struct {
	conn    net.Conn
	limiter *rate.Limiter

	closeOnce sync.Once
	closeErr  error
}

// Option configures a ConnEndpoint.
type Option func(*ConnEndpoint)

// WithReadLimiter paces the read side with l. Reads are capped at the
// limiter's burst per syscall, so the burst should be at least a few KiB to
// keep syscall counts sane.
func WithReadLimiter(l *rate.Limiter) Option {
	return func(e *ConnEndpoint) { e.limiter = l }
}

// New wraps conn as an endpoint usable as a tunnel source and/or target.
func New(conn net.Conn, opts ...Option) *ConnEndpoint {
	e := &ConnEndpoint{conn: conn}
	for _, o := range opts {
		o(e)
	}
	return e
}

// IssueRead starts the read operation: bytes from the conn are appended to
// buf and announced as read-ready events; io.EOF becomes end-of-stream.
func (e *ConnEndpoint) IssueRead(sink pump.EventSink, mu *sync.Mutex, buf *buffer.Buffer, n int64) (*pump.VIO, error) {
	if e.conn == nil {
		return nil, ErrNilConn
	}
	v := pump.NewReadVIO(e, sink, mu, buf, n)
	cond := sync.NewCond(mu)
	v.SetWakeup(cond.Broadcast)
	go e.readLoop(v, cond)
	return v, nil
}

// IssueWrite starts the write operation draining rd into the conn,
// announcing progress as write-ready events.
func (e *ConnEndpoint) IssueWrite(sink pump.EventSink, mu *sync.Mutex, rd *buffer.Reader, n int64) (*pump.VIO, error) {
	if e.conn == nil {
		return nil, ErrNilConn
	}
	v := pump.NewWriteVIO(e, sink, mu, rd, n)
	cond := sync.NewCond(mu)
	v.SetWakeup(cond.Broadcast)
	go e.writeLoop(v, cond)
	return v, nil
}

// Close shuts the connection down. Idempotent: both tunnels of a pair may
// close a shared endpoint during teardown.
func (e *ConnEndpoint) Close() error {
	e.closeOnce.Do(func() {
		if e.conn != nil {
			e.closeErr = e.conn.Close()
		}
	})
	return e.closeErr
}

func (e *ConnEndpoint) readLoop(v *pump.VIO, cond *sync.Cond) {
	mu := v.Lock()
	chunk := make([]byte, e.readChunkSize())

	mu.Lock()
	for {
		for !v.Canceled() && !v.Enabled() {
			cond.Wait()
		}
		if v.Canceled() || v.Todo() == 0 {
			mu.Unlock()
			return
		}
		want := int64(len(chunk))
		if todo := v.Todo(); todo < want {
			want = todo
		}
		mu.Unlock()

		n, err := e.conn.Read(chunk[:want])
		if n > 0 && e.limiter != nil {
			// Pace after the fact: the syscall size is capped at the
			// burst, so WaitN never exceeds it.
			if lerr := e.limiter.WaitN(context.Background(), n); lerr != nil {
				err = lerr
			}
		}

		mu.Lock()
		if v.Canceled() {
			mu.Unlock()
			return
		}
		if n > 0 {
			if _, werr := v.Buffer().Write(chunk[:n]); werr != nil && err == nil {
				err = werr
			}
			v.AddDone(int64(n))
			if act := v.Deliver(pump.EventReadReady); act != pump.ActionContinue {
				mu.Unlock()
				return
			}
			if v.Canceled() {
				mu.Unlock()
				return
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				v.Deliver(pump.EventEndOfStream)
			} else {
				v.SetErr(err)
				v.Deliver(pump.EventError)
			}
			mu.Unlock()
			return
		}
	}
}

func (e *ConnEndpoint) writeLoop(v *pump.VIO, cond *sync.Cond) {
	mu := v.Lock()
	scratch := make([]byte, chunkSize)

	mu.Lock()
	for {
		for !v.Canceled() && v.Todo() > 0 &&
			(!v.Enabled() || v.Reader().Buffered() == 0) {
			cond.Wait()
		}
		if v.Canceled() || v.Todo() == 0 {
			mu.Unlock()
			return
		}
		n := v.Reader().Buffered()
		if n > len(scratch) {
			n = len(scratch)
		}
		if int64(n) > v.Todo() {
			n = int(v.Todo())
		}
		// Copy out before dropping the lock: the read side may compact
		// the buffer underneath a live Peek slice.
		copy(scratch, v.Reader().Peek(n))
		mu.Unlock()

		nw, err := e.conn.Write(scratch[:n])

		mu.Lock()
		if v.Canceled() {
			mu.Unlock()
			return
		}
		if nw > 0 {
			if cerr := v.Reader().Consume(nw); cerr != nil && err == nil {
				err = cerr
			}
			v.AddDone(int64(nw))
			if act := v.Deliver(pump.EventWriteReady); act != pump.ActionContinue {
				mu.Unlock()
				return
			}
			if v.Canceled() {
				mu.Unlock()
				return
			}
		}
		if err != nil {
			v.SetErr(err)
			v.Deliver(pump.EventError)
			mu.Unlock()
			return
		}
	}
}

func (e *ConnEndpoint) readChunkSize() int {
	if e.limiter == nil {
		return chunkSize
	}
	burst := e.limiter.Burst()
	if burst <= 0 || burst > chunkSize {
		return chunkSize
	}
	log.WithFields(logger.Fields{"burst": burst}).Debug("read chunk capped by limiter burst")
	return burst
}
