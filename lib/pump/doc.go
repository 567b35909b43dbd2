// Package pump implements an asynchronous data-pump state machine for a
// proxy's I/O core: it moves bytes from a readable endpoint (the "source")
// to a writable endpoint (the "target"), optionally transforming them in
// flight, and notifies the caller exactly once when the transfer completes
// or fails.
//
// # Overview
//
// A Tunnel owns at most two in-flight operations, one read and one write,
// each represented by a VIO. The external I/O layer (see lib/netio for the
// net.Conn implementation) delivers readiness, end-of-stream and error
// events against those VIOs; the Tunnel's event handler moves bytes,
// enforces the byte budget and watermark, re-enables the counterpart
// operation, and on terminal conditions closes its endpoints and fires the
// completion callback.
//
// Two Tunnels relaying opposite directions of one duplexed connection can be
// coupled with SetupTwoWayTunnel: when either reaches its terminal state it
// forces the remaining open sides of its sibling closed, so neither
// direction outlives the other.
//
// # Concurrency
//
// All events for a Tunnel (and its paired sibling) are serialized under one
// sync.Mutex, the tunnel's lock scope. Endpoint implementations acquire that
// lock before delivering an event and perform blocking I/O outside it.
// Independent tunnels or pairs may use different locks and run concurrently.
// The Tunnel itself takes no other locks; shared-buffer ordering between the
// read and write operations is enforced by the buffer's cursor discipline.
//
// # Completion contract
//
// The completion callback is invoked exactly once, inside the lock scope,
// with a Result carrying the byte count and the final error (nil on
// success). A Tunnel started without a callback must be left to close both
// of its endpoints; it releases its own buffers once done. When a callback
// is supplied the caller releases the Tunnel (or its TunnelPair) after the
// callback has fired.
package pump
