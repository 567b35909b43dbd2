package pump

// Transform rewrites chunks in flight between the source and the target. It
// is invoked zero or more times per transfer, in the order chunks become
// available, and must not reorder bytes across calls; stateful transforms
// (stream ciphers, streaming decompressors) are expected. The input slice is
// only valid for the duration of the call.
//
// A transform forces the tunnel into separate input/output buffers: a shared
// buffer cannot be rewritten in place.
type Transform interface {
	Transform(in []byte) ([]byte, error)
}

// TransformFunc adapts a function to the Transform interface.
type TransformFunc func(in []byte) ([]byte, error)

func (f TransformFunc) Transform(in []byte) ([]byte, error) { return f(in) }
