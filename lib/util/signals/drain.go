package signals

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// defaultDrainTimeout bounds how long shutdown waits for in-flight transfers.
const defaultDrainTimeout = 30 * time.Second

var (
	drainersMu   sync.RWMutex
	drainers     []Handler
	drainTimeout = defaultDrainTimeout
)

// RegisterDrainHandler registers a handler that runs BEFORE shutdown handlers
// when an interrupt arrives. Drain handlers are the place to stop accepting
// new connections and wait for active relays to flush their buffered bytes;
// shutdown handlers then tear down whatever remains.
//
// Drain handlers run in registration order and each is protected against
// panics. All of them must finish (or the drain timeout must expire) before
// shutdown handlers are invoked. Nil handlers are silently ignored.
func RegisterDrainHandler(f Handler) {
	if f == nil {
		return
	}
	drainersMu.Lock()
	defer drainersMu.Unlock()
	drainers = append(drainers, f)
}

// SetDrainTimeout configures the maximum time to wait for drain handlers.
// Zero or negative restores the 30 second default.
func SetDrainTimeout(timeout time.Duration) {
	drainersMu.Lock()
	defer drainersMu.Unlock()
	if timeout <= 0 {
		drainTimeout = defaultDrainTimeout
	} else {
		drainTimeout = timeout
	}
}

// handleDrain runs all registered drain handlers with a timeout.
// Returns true if every handler completed before the deadline.
func handleDrain() bool {
	drainersMu.RLock()
	snapshot := make([]Handler, len(drainers))
	copy(snapshot, drainers)
	timeout := drainTimeout
	drainersMu.RUnlock()

	if len(snapshot) == 0 {
		return true
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for _, h := range snapshot {
			func() {
				defer func() {
					if r := recover(); r != nil {
						fmt.Fprintf(os.Stderr, "signals: panic in drain handler: %v\n", r)
					}
				}()
				h()
			}()
		}
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		fmt.Fprintf(os.Stderr, "signals: drain handlers timed out after %s\n", timeout)
		return false
	}
}
