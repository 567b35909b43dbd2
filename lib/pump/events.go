package pump

// EventKind identifies one readiness, end-of-stream or error event delivered
// against a VIO.
type EventKind int

const (
	// EventReadReady signals that the read operation produced bytes into
	// its buffer.
	EventReadReady EventKind = iota
	// EventWriteReady signals that the write operation drained bytes from
	// its reader.
	EventWriteReady
	// EventEndOfStream signals that the source is exhausted. Successful
	// terminal condition for the read side.
	EventEndOfStream
	// EventError signals an I/O failure on either operation; the VIO's
	// error slot carries the cause.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventReadReady:
		return "read-ready"
	case EventWriteReady:
		return "write-ready"
	case EventEndOfStream:
		return "end-of-stream"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Action is the verdict an event handler returns to the delivering I/O
// layer.
type Action int

const (
	// ActionContinue: keep the operation going.
	ActionContinue Action = iota
	// ActionClosed: the side (or the whole tunnel) is closed; stop
	// delivering events for this VIO.
	ActionClosed
	// ActionFailed: the tunnel recorded an error and tore down; stop
	// delivering events for this VIO.
	ActionFailed
)

func (a Action) String() string {
	switch a {
	case ActionContinue:
		return "continue"
	case ActionClosed:
		return "closed"
	case ActionFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// EventSink receives events for a VIO. Tunnel is the canonical
// implementation. The caller must hold the VIO's lock.
type EventSink interface {
	HandleEvent(kind EventKind, vio *VIO) Action
}
