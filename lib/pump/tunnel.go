package pump

import (
	"sync"
	"sync/atomic"

	"github.com/go-i2p/go-datapump/lib/buffer"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

var log = logger.GetGoI2PLogger()

// State is a tunnel's position in its lifecycle.
type State int

const (
	// StateInit: constructed, no I/O issued yet.
	StateInit State = iota
	// StateRunning: read and/or write in flight.
	StateRunning
	// StateClosingSource: the source side closed, target still open.
	StateClosingSource
	// StateClosingTarget: the target side closed, source still open.
	StateClosingTarget
	// StateDone: terminal; the completion callback fired or the tunnel
	// self-released.
	StateDone
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateClosingSource:
		return "closing-source"
	case StateClosingTarget:
		return "closing-target"
	case StateDone:
		return "done"
	default:
		return "unknown"
	}
}

// Tunnel is the data-pump state machine. It owns up to two VIOs (the read
// side on the source, the write side on the target), a byte budget, a close
// policy, an optional transform, and, when paired, a back-reference into its
// TunnelPair.
//
// All fields are guarded by mu; exported methods take the lock, unexported
// ones assume it is held.
type Tunnel struct {
	mu *sync.Mutex

	sourceEP Endpoint
	targetEP Endpoint

	sourceVIO *VIO
	targetVIO *VIO

	// Transform mode uses separate input/output buffers; shared mode wires
	// the write side straight onto the buffer the read side fills.
	inBuf    *buffer.Buffer
	outBuf   *buffer.Buffer
	inReader *buffer.Reader // transform's consume cursor over inBuf
	ownsBufs bool

	budget      int64
	watermark   int64
	transform   Transform
	closeSource bool
	closeTarget bool
	shortIsErr  bool
	completion  func(Result)

	pair    *TunnelPair
	pairIdx int

	st           State
	openSides    int
	sourceClosed bool
	targetClosed bool
	sourceEOS    bool
	written      int64
	lastErr      error

	released atomic.Bool
}

// Start issues a read on source and a write on target and returns the
// tunnel that coordinates them. It never fails synchronously: setup errors
// surface through the completion callback like any other failure.
func Start(source, target Endpoint, cfg Config) *Tunnel {
	t := newTunnel(cfg)
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sourceEP, t.targetEP = source, target

	if source == nil || target == nil {
		t.setupFail(oops.Wrapf(ErrSetupFailed, "nil endpoint"))
		return t
	}
	if t.budget == 0 {
		// Nothing to move; close per policy and complete successfully.
		t.closeSourceVIO(nil)
		t.closeTargetVIO(nil)
		return t
	}

	size := cfg.bufferSize()
	var readBuf *buffer.Buffer
	var rd *buffer.Reader
	if t.transform != nil || cfg.SeparateBuffers {
		t.inBuf = buffer.Get(size)
		t.outBuf = buffer.Get(size)
		t.inReader = t.inBuf.NewReader()
		readBuf = t.inBuf
		rd = t.outBuf.NewReader()
	} else {
		t.inBuf = buffer.Get(size)
		readBuf = t.inBuf
		rd = t.inBuf.NewReader()
	}
	t.ownsBufs = true

	// With a transform installed the output length is unknown, so the
	// budget is enforced on the write side only.
	readLimit := t.budget
	if t.transform != nil {
		readLimit = Unbounded
	}

	rvio, err := source.IssueRead(t, t.mu, readBuf, readLimit)
	if err != nil {
		t.setupFail(oops.Wrapf(err, "tunnel setup failed"))
		return t
	}
	t.sourceVIO = rvio

	wvio, err := target.IssueWrite(t, t.mu, rd, t.budget)
	if err != nil {
		t.setupFail(oops.Wrapf(err, "tunnel setup failed"))
		return t
	}
	t.targetVIO = wvio
	t.st = StateRunning

	log.WithFields(logger.Fields{
		"budget":    t.budget,
		"watermark": t.watermark,
	}).Debug("Tunnel started")
	return t
}

// StartWithReader attaches a new write on target that drains rd, consuming
// bytes from an already-issued read whose VIO the tunnel adopts. The
// tunnel runs under the read operation's existing lock; cfg.Lock is
// ignored. Transforms are not supported on adopted operations.
func StartWithReader(target Endpoint, readVIO *VIO, rd *buffer.Reader, cfg Config) *Tunnel {
	t := newTunnelLocked(cfg, readVIO.Lock())
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sourceEP, t.targetEP = readVIO.Endpoint(), target

	if t.transform != nil {
		t.setupFail(oops.Wrapf(ErrSetupFailed, "transform requires Start"))
		return t
	}
	if target == nil || rd == nil {
		t.setupFail(oops.Wrapf(ErrSetupFailed, "nil target or reader"))
		return t
	}

	readVIO.SetSink(t)
	t.sourceVIO = readVIO

	if t.budget == 0 {
		t.closeSourceVIO(nil)
		t.closeTargetVIO(nil)
		return t
	}

	wvio, err := target.IssueWrite(t, t.mu, rd, t.budget)
	if err != nil {
		t.setupFail(oops.Wrapf(err, "tunnel setup failed"))
		return t
	}
	t.targetVIO = wvio
	t.st = StateRunning
	return t
}

// Coordinate adopts a pre-issued read and write pair; the tunnel only
// sequences their events, closes, and completion. The write operation's own
// byte request is the budget; cfg.ByteBudget and cfg.Lock are ignored, and
// transforms are not supported.
func Coordinate(readVIO, writeVIO *VIO, cfg Config) *Tunnel {
	t := newTunnelLocked(cfg, readVIO.Lock())
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sourceEP, t.targetEP = readVIO.Endpoint(), writeVIO.Endpoint()

	if t.transform != nil {
		t.setupFail(oops.Wrapf(ErrSetupFailed, "transform requires Start"))
		return t
	}

	readVIO.SetSink(t)
	writeVIO.SetSink(t)
	t.sourceVIO = readVIO
	t.targetVIO = writeVIO
	t.budget = writeVIO.Nbytes()
	t.written = writeVIO.Ndone()
	t.st = StateRunning
	return t
}

func newTunnel(cfg Config) *Tunnel {
	mu := cfg.Lock
	if mu == nil {
		mu = new(sync.Mutex)
	}
	return newTunnelLocked(cfg, mu)
}

func newTunnelLocked(cfg Config, mu *sync.Mutex) *Tunnel {
	return &Tunnel{
		mu:          mu,
		budget:      cfg.budget(),
		watermark:   cfg.Watermark,
		transform:   cfg.Transform,
		closeSource: !cfg.LeaveSourceOpen,
		closeTarget: !cfg.LeaveTargetOpen,
		shortIsErr:  cfg.ErrorOnShortRead,
		completion:  cfg.Completion,
		pairIdx:     -1,
		st:          StateInit,
		openSides:   2,
	}
}

// State reports the tunnel's current lifecycle state.
func (t *Tunnel) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.st
}

// BytesWritten reports how many bytes the target has accepted so far.
func (t *Tunnel) BytesWritten() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.written
}

// HandleEvent sequences one readiness, end-of-stream or error event against
// either of the tunnel's VIOs. The caller (the endpoint's delivery path)
// must hold the tunnel's lock. Events arriving after the tunnel is done are
// ignored.
func (t *Tunnel) HandleEvent(kind EventKind, vio *VIO) Action {
	if t.st == StateDone {
		return ActionClosed
	}
	if t.st == StateInit {
		t.st = StateRunning
	}
	switch kind {
	case EventReadReady:
		return t.handleReadReady(vio)
	case EventWriteReady:
		return t.handleWriteReady(vio)
	case EventEndOfStream:
		return t.handleEOS(vio)
	case EventError:
		cause := vio.Err()
		if cause == nil {
			cause = ErrTransfer
		}
		t.fail(oops.Wrapf(cause, "%s operation failed", vio.Dir()))
		return ActionFailed
	default:
		return ActionContinue
	}
}

func (t *Tunnel) handleReadReady(vio *VIO) Action {
	if vio != t.sourceVIO {
		return ActionClosed // stale handle
	}
	if err := t.runTransform(); err != nil {
		t.fail(err)
		return ActionFailed
	}
	if t.watermark > 0 && int64(t.unwritten()) > t.watermark {
		vio.Disable()
	}
	if t.targetVIO != nil {
		t.targetVIO.Reenable()
	}
	return ActionContinue
}

func (t *Tunnel) handleWriteReady(vio *VIO) Action {
	if vio != t.targetVIO {
		return ActionClosed
	}
	t.written = vio.Ndone()
	// Budget reached exactly, or the post-EOS clamp fully drained: a
	// successful terminal condition regardless of source state.
	if vio.Ndone() >= vio.Nbytes() {
		t.closeSourceVIO(nil)
		t.closeTargetVIO(nil)
		return ActionClosed
	}
	if t.sourceVIO != nil {
		if t.watermark > 0 {
			if !t.sourceVIO.Enabled() && int64(t.unwritten()) < t.watermark {
				t.sourceVIO.Reenable()
			}
		} else {
			t.sourceVIO.Reenable()
		}
	}
	return ActionContinue
}

func (t *Tunnel) handleEOS(vio *VIO) Action {
	if vio != t.sourceVIO {
		return ActionClosed
	}
	t.sourceEOS = true
	// Bytes may have arrived in the same delivery as the EOS; transform
	// them before sizing the drain.
	if err := t.runTransform(); err != nil {
		t.fail(err)
		return ActionFailed
	}
	unwritten := int64(t.unwritten())
	if t.shortIsErr && t.budget != Unbounded && t.targetVIO != nil &&
		t.targetVIO.Ndone()+unwritten < t.budget {
		t.fail(ErrShortRead)
		return ActionFailed
	}
	if t.targetVIO != nil {
		// Clamp the write request so the target drains exactly what the
		// source produced, never past the budget: a transform can leave
		// more buffered output than a bounded budget allows, and the
		// excess must stay unconsumed.
		nb := t.targetVIO.Ndone() + unwritten
		if t.budget != Unbounded && nb > t.budget {
			nb = t.budget
		}
		t.targetVIO.SetNbytes(nb)
	}
	t.closeSourceVIO(nil)
	if t.st != StateDone {
		if t.targetVIO == nil || t.targetVIO.Todo() == 0 {
			t.closeTargetVIO(nil)
		} else {
			t.targetVIO.Reenable()
		}
	}
	return ActionClosed
}

// runTransform feeds everything the source has produced and the transform
// has not yet seen through the transform, appending the result to the output
// buffer. No-op in shared-buffer mode.
func (t *Tunnel) runTransform() error {
	if t.transform == nil || t.inReader == nil {
		return nil
	}
	chunk := t.inReader.Peek(-1)
	if len(chunk) == 0 {
		return nil
	}
	out, err := t.transform.Transform(chunk)
	if err != nil {
		return oops.Wrapf(err, "transform failed")
	}
	if err := t.inReader.Consume(len(chunk)); err != nil {
		return err
	}
	if _, err := t.outBuf.Write(out); err != nil {
		return err
	}
	return nil
}

// unwritten reports the bytes buffered for the target but not yet drained,
// the quantity the watermark paces against.
func (t *Tunnel) unwritten() int {
	if t.targetVIO == nil || t.targetVIO.Reader() == nil {
		return 0
	}
	return t.targetVIO.Reader().Buffered()
}

func (t *Tunnel) fail(cause error) {
	if t.st == StateDone {
		return
	}
	if t.lastErr == nil {
		t.lastErr = cause
	}
	log.WithError(cause).Debug("Tunnel failed, closing both sides")
	t.closeSourceVIO(cause)
	t.closeTargetVIO(cause)
}

func (t *Tunnel) setupFail(cause error) {
	t.lastErr = cause
	t.closeSourceVIO(cause)
	t.closeTargetVIO(cause)
}

// closeSourceVIO shuts the source side down. Idempotent: a second call has
// no effect, so the open-side count decrements exactly once per side.
func (t *Tunnel) closeSourceVIO(cause error) {
	if t.sourceClosed {
		return
	}
	t.sourceClosed = true
	if t.sourceVIO != nil {
		t.sourceVIO.cancel()
		t.sourceVIO = nil
	}
	if t.closeSource && t.sourceEP != nil {
		if err := t.sourceEP.Close(); err != nil {
			log.WithError(err).Debug("source endpoint close failed")
		}
	}
	if cause != nil {
		log.WithError(cause).Debug("source side closed abnormally")
	}
	t.sideClosed()
}

// closeTargetVIO shuts the target side down; same idempotence rule as
// closeSourceVIO.
func (t *Tunnel) closeTargetVIO(cause error) {
	if t.targetClosed {
		return
	}
	t.targetClosed = true
	if t.targetVIO != nil {
		t.written = t.targetVIO.Ndone()
		t.targetVIO.cancel()
		t.targetVIO = nil
	}
	if t.closeTarget && t.targetEP != nil {
		if err := t.targetEP.Close(); err != nil {
			log.WithError(err).Debug("target endpoint close failed")
		}
	}
	if cause != nil {
		log.WithError(cause).Debug("target side closed abnormally")
	}
	t.sideClosed()
}

func (t *Tunnel) sideClosed() {
	t.openSides--
	switch {
	case t.lastConnection():
		t.finish()
	case t.sourceClosed && !t.targetClosed:
		t.st = StateClosingSource
	case t.targetClosed && !t.sourceClosed:
		t.st = StateClosingTarget
	}
}

// lastConnection is true exactly when the most recent decrement brought the
// open-side count to zero: the single gate in front of the completion
// callback and self-release.
func (t *Tunnel) lastConnection() bool {
	return t.openSides == 0
}

func (t *Tunnel) finish() {
	t.st = StateDone
	res := Result{BytesWritten: t.written, Err: t.lastErr}

	// Peer teardown comes first so both directions of a duplexed
	// connection fold within one event-processing step.
	if p := t.peer(); p != nil {
		p.forceClose()
	}

	log.WithFields(logger.Fields{
		"bytes":   res.BytesWritten,
		"success": res.OK(),
	}).Debug("Tunnel finished")

	if t.completion != nil {
		t.completion(res)
		return
	}
	t.release()
}

// forceClose is the peer-teardown entry: it folds this tunnel's remaining
// open sides with a forced-close marker. No-op once the tunnel is done.
func (t *Tunnel) forceClose() {
	if t.st == StateDone {
		return
	}
	if t.lastErr == nil {
		t.lastErr = ErrPeerForcedClose
	}
	t.closeSourceVIO(ErrPeerForcedClose)
	t.closeTargetVIO(ErrPeerForcedClose)
}

// Release returns the tunnel's pooled buffers. Callers that supplied a
// completion callback own the tunnel and call this after the callback has
// fired; a tunnel without a callback releases itself. Safe to call from
// inside the completion callback, and idempotent.
func (t *Tunnel) Release() {
	t.release()
}

func (t *Tunnel) release() {
	if !t.released.CompareAndSwap(false, true) {
		return
	}
	if t.ownsBufs {
		if t.outBuf != nil && t.outBuf != t.inBuf {
			buffer.Put(t.outBuf)
		}
		buffer.Put(t.inBuf)
	}
}
