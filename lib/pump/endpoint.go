package pump

import (
	"sync"

	"github.com/go-i2p/go-datapump/lib/buffer"
)

// Endpoint is an abstract connection able to carry one asynchronous read and
// one asynchronous write at a time. Issuing an operation returns
// immediately; progress is observed only through events the endpoint later
// delivers to the VIO's sink while holding the given lock.
//
// Close must be idempotent: paired tunnels may both close a shared endpoint
// during teardown.
type Endpoint interface {
	// IssueRead starts an asynchronous read of up to n bytes appended to
	// buf. Events are delivered under mu.
	IssueRead(sink EventSink, mu *sync.Mutex, buf *buffer.Buffer, n int64) (*VIO, error)
	// IssueWrite starts an asynchronous write of up to n bytes consumed
	// from rd. Events are delivered under mu.
	IssueWrite(sink EventSink, mu *sync.Mutex, rd *buffer.Reader, n int64) (*VIO, error)
	// Close tears the underlying connection down, failing any in-flight
	// operation.
	Close() error
}
