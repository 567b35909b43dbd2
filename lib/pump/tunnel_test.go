package pump

import (
	"bytes"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/go-i2p/go-datapump/lib/buffer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBudgets(t *testing.T) {
	data := []byte("0123456789")

	tests := []struct {
		name   string
		budget int64
		want   int64
	}{
		{"zero", 0, 0},
		{"one", 1, 1},
		{"partial", 4, 4},
		{"exact", 10, 10},
		{"unbounded", Unbounded, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newScriptEndpoint("src")
			dst := newScriptEndpoint("dst")
			var results []Result
			tn := Start(src, dst, Config{
				ByteBudget: tt.budget,
				Completion: func(r Result) { results = append(results, r) },
			})

			if tt.budget != 0 {
				src.feed(data)
				dst.drainAll()
				if tn.State() != StateDone {
					src.eos()
					dst.drainAll()
				}
			}

			require.Len(t, results, 1, "completion must fire exactly once")
			assert.NoError(t, results[0].Err)
			assert.Equal(t, tt.want, results[0].BytesWritten)
			assert.Equal(t, string(data[:tt.want]), string(dst.wire))
			assert.Equal(t, StateDone, tn.State())
			assert.Equal(t, 1, src.closed, "source endpoint closed exactly once")
			assert.Equal(t, 1, dst.closed, "target endpoint closed exactly once")
		})
	}
}

// Scenario: source provides 100 bytes then EOS, unbounded budget, shared
// buffer, no completion callback. Everything reaches the target, both
// endpoints close, and the tunnel self-releases.
func TestSelfReleaseWithoutCompletion(t *testing.T) {
	src := newScriptEndpoint("src")
	dst := newScriptEndpoint("dst")
	data := bytes.Repeat([]byte("x"), 100)

	tn := Start(src, dst, Config{ByteBudget: Unbounded})
	n, _ := src.feed(data)
	require.Equal(t, 100, n)
	dst.drainAll()
	src.eos()

	assert.Equal(t, data, dst.wire)
	assert.Equal(t, StateDone, tn.State())
	assert.Equal(t, 1, src.closed)
	assert.Equal(t, 1, dst.closed)
	assert.True(t, tn.released.Load(), "tunnel without a callback frees itself")
}

// Scenario: budget 50, source offers 100. Exactly 50 bytes are written and
// the remaining 50 are never consumed from the source.
func TestBudgetStopsConsumingSource(t *testing.T) {
	src := newScriptEndpoint("src")
	dst := newScriptEndpoint("dst")
	data := bytes.Repeat([]byte("y"), 100)
	var results []Result

	Start(src, dst, Config{
		ByteBudget: 50,
		Completion: func(r Result) { results = append(results, r) },
	})
	accepted, _ := src.feed(data)
	assert.Equal(t, 50, accepted, "read operation must not consume past the budget")
	dst.drainAll()

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, int64(50), results[0].BytesWritten)
	assert.Len(t, dst.wire, 50)
}

// Scenario: target write fails after 30 of 100 unbounded bytes. The error is
// reported once, the source closes per policy, and no further reads happen.
func TestWriteFailureMidTransfer(t *testing.T) {
	src := newScriptEndpoint("src")
	dst := newScriptEndpoint("dst")
	boom := errors.New("connection reset")
	var results []Result

	Start(src, dst, Config{
		ByteBudget: Unbounded,
		Completion: func(r Result) { results = append(results, r) },
	})
	src.feed(bytes.Repeat([]byte("z"), 100))
	dst.drain(30)
	dst.failWrite(boom)

	require.Len(t, results, 1)
	require.Error(t, results[0].Err)
	assert.ErrorIs(t, results[0].Err, boom)
	assert.Equal(t, int64(30), results[0].BytesWritten)
	assert.Equal(t, 1, src.closed)

	n, act := src.feed([]byte("more"))
	assert.Equal(t, 0, n, "no reads after the error")
	assert.Equal(t, ActionClosed, act)
}

func TestReadFailure(t *testing.T) {
	src := newScriptEndpoint("src")
	dst := newScriptEndpoint("dst")
	boom := errors.New("timeout")
	var results []Result

	Start(src, dst, Config{
		ByteBudget: Unbounded,
		Completion: func(r Result) { results = append(results, r) },
	})
	src.failRead(boom)

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, boom)
	assert.Equal(t, 1, dst.closed, "error on one side closes both")
}

func TestCloseIdempotence(t *testing.T) {
	src := newScriptEndpoint("src")
	dst := newScriptEndpoint("dst")
	var results []Result
	tn := Start(src, dst, Config{
		ByteBudget: Unbounded,
		Completion: func(r Result) { results = append(results, r) },
	})

	tn.closeSourceVIO(nil)
	tn.closeSourceVIO(nil)
	assert.Equal(t, 1, tn.openSides, "second close must not double-decrement")
	assert.Equal(t, 1, src.closed)
	assert.Empty(t, results)

	tn.closeTargetVIO(nil)
	tn.closeTargetVIO(nil)
	assert.Equal(t, 0, tn.openSides)
	assert.Equal(t, 1, dst.closed)
	require.Len(t, results, 1, "completion fires on the last close only, once")
}

func TestEventsAfterDoneAreIgnored(t *testing.T) {
	src := newScriptEndpoint("src")
	dst := newScriptEndpoint("dst")
	var results []Result
	Start(src, dst, Config{
		ByteBudget: 0,
		Completion: func(r Result) { results = append(results, r) },
	})
	require.Len(t, results, 1)

	assert.Equal(t, ActionClosed, src.eos())
	n, _ := src.feed([]byte("late"))
	assert.Zero(t, n)
	assert.Len(t, results, 1, "no second completion")
}

func TestSetupFailure(t *testing.T) {
	boom := errors.New("socket gone")
	tests := []struct {
		name  string
		wreck func(src, dst *scriptEndpoint)
	}{
		{"read issue fails", func(src, _ *scriptEndpoint) { src.issueReadErr = boom }},
		{"write issue fails", func(_, dst *scriptEndpoint) { dst.issueWriteErr = boom }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newScriptEndpoint("src")
			dst := newScriptEndpoint("dst")
			tt.wreck(src, dst)
			var results []Result
			tn := Start(src, dst, Config{
				ByteBudget: Unbounded,
				Completion: func(r Result) { results = append(results, r) },
			})

			require.Len(t, results, 1, "setup failures use the completion path")
			assert.ErrorIs(t, results[0].Err, boom)
			assert.Equal(t, StateDone, tn.State())
			assert.Equal(t, 1, src.closed)
			assert.Equal(t, 1, dst.closed)
		})
	}
}

func TestStartNilEndpoint(t *testing.T) {
	var results []Result
	Start(nil, nil, Config{Completion: func(r Result) { results = append(results, r) }})
	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrSetupFailed)
}

func TestWatermarkPacesReads(t *testing.T) {
	src := newScriptEndpoint("src")
	dst := newScriptEndpoint("dst")
	Start(src, dst, Config{ByteBudget: Unbounded, Watermark: 8,
		Completion: func(Result) {}})

	n, _ := src.feed(bytes.Repeat([]byte("a"), 20))
	require.Equal(t, 20, n)
	assert.False(t, src.readVIO.Enabled(), "read pauses above the watermark")

	n, _ = src.feed([]byte("bb"))
	assert.Zero(t, n, "paused read accepts nothing")

	dst.drain(5) // 15 unwritten, still above
	assert.False(t, src.readVIO.Enabled())

	dst.drain(10) // 5 unwritten, below
	assert.True(t, src.readVIO.Enabled(), "read resumes below the watermark")

	n, _ = src.feed([]byte("bb"))
	assert.Equal(t, 2, n)
}

func TestZeroWatermarkNeverPauses(t *testing.T) {
	src := newScriptEndpoint("src")
	dst := newScriptEndpoint("dst")
	Start(src, dst, Config{ByteBudget: Unbounded, Completion: func(Result) {}})

	src.feed(bytes.Repeat([]byte("a"), 4096))
	assert.True(t, src.readVIO.Enabled(), "watermark zero must not pause reads")
}

// orderedTransform uppercases chunks and records the order it saw them in.
type orderedTransform struct {
	chunks []string
}

func (o *orderedTransform) Transform(in []byte) ([]byte, error) {
	o.chunks = append(o.chunks, string(in))
	return []byte(strings.ToUpper(string(in))), nil
}

func TestTransformFidelity(t *testing.T) {
	src := newScriptEndpoint("src")
	dst := newScriptEndpoint("dst")
	tf := &orderedTransform{}
	var results []Result

	Start(src, dst, Config{
		ByteBudget: Unbounded,
		Transform:  tf,
		Completion: func(r Result) { results = append(results, r) },
	})

	src.feed([]byte("hello "))
	dst.drainAll()
	src.feed([]byte("tunnel"))
	dst.drainAll()
	src.eos()
	dst.drainAll()

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, []byte("HELLO TUNNEL"), dst.wire,
		"target sees the transform of the source bytes, in order")
	assert.Equal(t, []string{"hello ", "tunnel"}, tf.chunks)
}

func TestTransformErrorFailsTransfer(t *testing.T) {
	src := newScriptEndpoint("src")
	dst := newScriptEndpoint("dst")
	boom := errors.New("corrupt stream")
	var results []Result

	Start(src, dst, Config{
		ByteBudget: Unbounded,
		Transform:  TransformFunc(func([]byte) ([]byte, error) { return nil, boom }),
		Completion: func(r Result) { results = append(results, r) },
	})
	src.feed([]byte("junk"))

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, boom)
}

// With a transform installed the read side runs unbounded and only the write
// request enforces the budget, so the budget must hold however the drain and
// the end-of-stream interleave.
func TestTransformWithBoundedBudget(t *testing.T) {
	identity := TransformFunc(func(in []byte) ([]byte, error) { return in, nil })
	data := bytes.Repeat([]byte("t"), 100)

	t.Run("eos before drain", func(t *testing.T) {
		src := newScriptEndpoint("src")
		dst := newScriptEndpoint("dst")
		var results []Result

		Start(src, dst, Config{
			ByteBudget: 50,
			Transform:  identity,
			Completion: func(r Result) { results = append(results, r) },
		})
		accepted, _ := src.feed(data)
		assert.Equal(t, 100, accepted, "transform mode reads past the budget")
		src.eos()
		dst.drainAll()

		require.Len(t, results, 1)
		assert.NoError(t, results[0].Err)
		assert.Equal(t, int64(50), results[0].BytesWritten)
		assert.Len(t, dst.wire, 50)
	})

	t.Run("drain before eos", func(t *testing.T) {
		src := newScriptEndpoint("src")
		dst := newScriptEndpoint("dst")
		var results []Result

		Start(src, dst, Config{
			ByteBudget: 50,
			Transform:  identity,
			Completion: func(r Result) { results = append(results, r) },
		})
		src.feed(data)
		dst.drain(30)
		src.eos()
		dst.drainAll()

		require.Len(t, results, 1)
		assert.NoError(t, results[0].Err)
		assert.Equal(t, int64(50), results[0].BytesWritten)
		assert.Len(t, dst.wire, 50)
	})
}

func TestShortReadPolicy(t *testing.T) {
	tests := []struct {
		name       string
		strict     bool
		wantErr    error
		wantState  State
		wantOnWire int
	}{
		{"lenient short read succeeds", false, nil, StateDone, 10},
		{"strict short read fails", true, ErrShortRead, StateDone, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := newScriptEndpoint("src")
			dst := newScriptEndpoint("dst")
			var results []Result
			tn := Start(src, dst, Config{
				ByteBudget:       100,
				ErrorOnShortRead: tt.strict,
				Completion:       func(r Result) { results = append(results, r) },
			})

			src.feed([]byte("only10byte"))
			src.eos()
			dst.drainAll()

			require.Len(t, results, 1)
			if tt.wantErr != nil {
				assert.ErrorIs(t, results[0].Err, tt.wantErr)
			} else {
				assert.NoError(t, results[0].Err)
			}
			assert.Equal(t, tt.wantState, tn.State())
			assert.Len(t, dst.wire, tt.wantOnWire)
		})
	}
}

func TestStartWithReaderAttachesToLiveRead(t *testing.T) {
	mu := new(sync.Mutex)
	src := newScriptEndpoint("src")
	srcBuf := buffer.New(64)
	rv, err := src.IssueRead(nil, mu, srcBuf, Unbounded)
	require.NoError(t, err)
	rd := srcBuf.NewReader()

	dst := newScriptEndpoint("dst")
	var results []Result
	StartWithReader(dst, rv, rd, Config{
		ByteBudget: Unbounded,
		Completion: func(r Result) { results = append(results, r) },
	})

	src.feed([]byte("adopted"))
	dst.drainAll()
	src.eos()

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, []byte("adopted"), dst.wire)
	assert.Equal(t, int64(7), results[0].BytesWritten)
}

func TestStartWithReaderRejectsTransform(t *testing.T) {
	mu := new(sync.Mutex)
	src := newScriptEndpoint("src")
	srcBuf := buffer.New(64)
	rv, _ := src.IssueRead(nil, mu, srcBuf, Unbounded)

	var results []Result
	StartWithReader(newScriptEndpoint("dst"), rv, srcBuf.NewReader(), Config{
		Transform:  TransformFunc(func(in []byte) ([]byte, error) { return in, nil }),
		Completion: func(r Result) { results = append(results, r) },
	})

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, ErrSetupFailed)
}

func TestCoordinatePreIssuedOperations(t *testing.T) {
	mu := new(sync.Mutex)
	src := newScriptEndpoint("src")
	dst := newScriptEndpoint("dst")
	buf := buffer.New(64)
	rv, err := src.IssueRead(nil, mu, buf, Unbounded)
	require.NoError(t, err)
	wv, err := dst.IssueWrite(nil, mu, buf.NewReader(), 100)
	require.NoError(t, err)

	var results []Result
	tn := Coordinate(rv, wv, Config{
		Completion: func(r Result) { results = append(results, r) },
	})
	assert.Equal(t, StateRunning, tn.State())

	src.feed([]byte("pre-issued"))
	dst.drainAll()
	src.eos()
	dst.drainAll()

	require.Len(t, results, 1)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, []byte("pre-issued"), dst.wire)
}
