package pump

import (
	"sync"

	"github.com/go-i2p/go-datapump/lib/buffer"
)

// Result is delivered to the completion callback exactly once per tunnel.
type Result struct {
	// BytesWritten is the number of bytes the target accepted.
	BytesWritten int64
	// Err is nil on success. Failures carry ErrSetupFailed,
	// ErrPeerForcedClose, ErrShortRead, or the endpoint's own error
	// wrapped as a transfer error.
	Err error
}

// OK reports whether the transfer succeeded.
func (r Result) OK() bool { return r.Err == nil }

// Config parameterizes a tunnel. The zero value runs a zero-byte transfer
// over a shared buffer with both endpoints closed on finish; most callers
// set ByteBudget to Unbounded.
type Config struct {
	// Completion is invoked exactly once, inside the lock scope, when the
	// tunnel reaches its terminal state. When nil the caller gives up
	// ownership: the tunnel must be left to close both endpoints
	// (LeaveSourceOpen/LeaveTargetOpen unset) and releases itself.
	Completion func(Result)

	// Lock is the scope all of this tunnel's events serialize under. Both
	// tunnels of a pair must share one lock. Allocated when nil.
	Lock *sync.Mutex

	// BufferSize is the working-buffer size hint; buffer.DefaultSize when
	// zero or negative.
	BufferSize int

	// ByteBudget caps how many bytes the target accepts before the tunnel
	// terminates successfully. Zero transfers nothing; use Unbounded to
	// relay until end-of-stream.
	ByteBudget int64

	// SeparateBuffers splits the read and write operations onto distinct
	// buffers instead of sharing one zero-copy queue. Implied by
	// Transform.
	SeparateBuffers bool

	// LeaveSourceOpen and LeaveTargetOpen suppress closing the respective
	// endpoint when the tunnel finishes. Both must stay false when
	// Completion is nil, otherwise the connection leaks with no owner to
	// close it; this is a caller contract, not enforced.
	LeaveSourceOpen bool
	LeaveTargetOpen bool

	// Transform rewrites chunks between source and target. Only honored
	// by Start; the attach variants reject it through the completion
	// path.
	Transform Transform

	// Watermark pauses the read operation while more than this many
	// unwritten bytes sit buffered, resuming it once the write side
	// drains below. Zero disables pacing.
	Watermark int64

	// ErrorOnShortRead makes end-of-stream before a bounded ByteBudget a
	// failure (ErrShortRead) instead of a success.
	ErrorOnShortRead bool
}

func (cfg Config) bufferSize() int {
	if cfg.BufferSize <= 0 {
		return buffer.DefaultSize
	}
	return cfg.BufferSize
}

func (cfg Config) budget() int64 {
	if cfg.ByteBudget < 0 {
		return Unbounded
	}
	return cfg.ByteBudget
}
