package transform

import (
	"github.com/go-i2p/go-datapump/lib/pump"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
	"golang.org/x/crypto/chacha20"
)

var log = logger.GetGoI2PLogger()

// ChaCha20 returns a stateful stream-cipher transform. The cipher keystream
// advances across chunks, so the same key and nonce on the encrypting and
// decrypting tunnel yield an identity relay regardless of how the bytes were
// chunked in flight. Byte order and length are preserved, as the transform
// contract requires.
//
// Key must be 32 bytes, nonce 12 (or 24 for the XChaCha20 variant).
func ChaCha20(key, nonce []byte) (pump.Transform, error) {
	c, err := chacha20.NewUnauthenticatedCipher(key, nonce)
	if err != nil {
		return nil, oops.Errorf("failed to create ChaCha20 cipher: %w", err)
	}
	log.WithField("nonce_length", len(nonce)).Debug("ChaCha20 transform created")
	return pump.TransformFunc(func(in []byte) ([]byte, error) {
		out := make([]byte, len(in))
		c.XORKeyStream(out, in)
		return out, nil
	}), nil
}

// Chain composes transforms left to right: the output of ts[0] feeds ts[1],
// and so on. An empty chain is the identity.
func Chain(ts ...pump.Transform) pump.Transform {
	return pump.TransformFunc(func(in []byte) ([]byte, error) {
		cur := in
		for _, t := range ts {
			out, err := t.Transform(cur)
			if err != nil {
				return nil, err
			}
			cur = out
		}
		return cur, nil
	})
}
