// internal/inference/interface.go
package inference

import (
	"context"

	"github.com/SyedDaiam9101/neurotone-service/internal/features"
)

// Hidden is the representation model output for one example: a row-major
// (Frames, Dim) matrix of per-frame embeddings.
type Hidden struct {
	Frames int
	Dim    int
	Data   []float32
}

// Encoder defines the interface for running the representation model.
// Implementations must allow concurrent Encode calls.
type Encoder interface {
	// Encode runs one feature batch and returns its last hidden state.
	Encode(ctx context.Context, batch *features.Batch) (Hidden, error)

	// HiddenSize is the embedding width the encoder produces.
	HiddenSize() int

	// Close releases any resources held by the encoder.
	Close() error
}
