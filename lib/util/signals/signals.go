package signals

import (
	"fmt"
	"os"
	"os/signal"
	"sync"
)

// sigChan is buffered to avoid missing signals delivered while no receiver is ready.
var sigChan = make(chan os.Signal, 1)

// Handler is a function called when a signal is received.
type Handler func()

// HandlerID is a unique identifier returned by registration functions,
// used to deregister individual handlers.
type HandlerID int

// handlerList is an ordered, ID-addressable set of handlers. All handler
// classes (reload, drain, shutdown) share this mechanism.
type handlerList struct {
	mu       sync.RWMutex
	name     string
	handlers []registeredHandler
	nextID   HandlerID
}

type registeredHandler struct {
	id HandlerID
	fn Handler
}

var (
	reloaders   = &handlerList{name: "reload"}
	shutdowners = &handlerList{name: "shutdown"}
	stopOnce    sync.Once
)

// register appends f and returns its ID, or -1 for nil handlers.
func (l *handlerList) register(f Handler) HandlerID {
	if f == nil {
		return -1
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	id := l.nextID
	l.nextID++
	l.handlers = append(l.handlers, registeredHandler{id: id, fn: f})
	return id
}

func (l *handlerList) deregister(id HandlerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for i, h := range l.handlers {
		if h.id == id {
			l.handlers = append(l.handlers[:i], l.handlers[i+1:]...)
			return
		}
	}
}

func (l *handlerList) len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.handlers)
}

// run invokes every registered handler in registration order. Each call is
// protected against panics so one broken handler cannot skip the rest.
func (l *handlerList) run() {
	l.mu.RLock()
	snapshot := make([]registeredHandler, len(l.handlers))
	copy(snapshot, l.handlers)
	l.mu.RUnlock()
	for _, h := range snapshot {
		func() {
			defer func() {
				if r := recover(); r != nil {
					// This package cannot use the logger without an import
					// cycle risk during early init; write straight to stderr.
					fmt.Fprintf(os.Stderr, "signals: panic in %s handler: %v\n", l.name, r)
				}
			}()
			h.fn()
		}()
	}
}

// RegisterReloadHandler registers a handler called on SIGHUP (config reload).
// Returns a HandlerID for DeregisterReloadHandler. Nil handlers return -1.
func RegisterReloadHandler(f Handler) HandlerID {
	return reloaders.register(f)
}

// DeregisterReloadHandler removes a previously registered reload handler by ID.
func DeregisterReloadHandler(id HandlerID) {
	reloaders.deregister(id)
}

// RegisterShutdownHandler registers a handler called on SIGINT/SIGTERM after
// drain handlers have run. This is where listeners get closed.
// Returns a HandlerID for DeregisterShutdownHandler. Nil handlers return -1.
func RegisterShutdownHandler(f Handler) HandlerID {
	return shutdowners.register(f)
}

// DeregisterShutdownHandler removes a previously registered shutdown handler by ID.
func DeregisterShutdownHandler(id HandlerID) {
	shutdowners.deregister(id)
}

func handleReload() {
	reloaders.run()
}

func handleShutdown() {
	handleDrain()
	shutdowners.run()
}

// StopHandle closes the signal channel, causing Handle() to return.
// It first calls signal.Stop to prevent signal delivery to the closed channel.
// Safe to call multiple times; only the first call takes effect.
func StopHandle() {
	stopOnce.Do(func() {
		signal.Stop(sigChan)
		close(sigChan)
	})
}
