package vectorstore

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
)

// HashEmbedder is a deterministic embedder for tests: it hashes the input
// text into a fixed-dimension vector, so the same text always produces the
// same embedding without calling any model. It has no semantic meaning
// beyond "identical text is identical, different text is different" — good
// enough to exercise ranking and search-path wiring without a network
// dependency.
func HashEmbedder(dims int) Embedder {
	return func(ctx context.Context, text string) ([]float64, error) {
		out := make([]float64, dims)
		block := sha256.Sum256([]byte(text))
		for i := 0; i < dims; i++ {
			// Re-hash with a counter so dims > len(block)/8 still spreads.
			seed := sha256.Sum256(append(block[:], byte(i)))
			bits := binary.BigEndian.Uint64(seed[:8])
			// Map to [-1, 1].
			out[i] = float64(bits)/float64(^uint64(0))*2 - 1
		}
		return out, nil
	}
}
