// internal/inference/mock.go
package inference

import (
	"context"
	"fmt"
	"sync"

	"github.com/SyedDaiam9101/neurotone-service/internal/features"
)

// MockEncoder is a mock implementation of Encoder for testing.
// It returns deterministic hidden states derived from the input without
// requiring the ONNX shared library.
type MockEncoder struct {
	// Dim is the embedding width returned per frame
	Dim int
	// Fixed, when set, is returned as a single frame instead of derived states
	Fixed []float32

	mu           sync.Mutex
	shouldError  bool
	errorMessage string
	callCount    int
	closed       bool
}

// NewMock creates a MockEncoder producing dim-wide embeddings
func NewMock(dim int) *MockEncoder {
	return &MockEncoder{Dim: dim}
}

// NewMockWithHidden creates a MockEncoder that always returns one frame
// holding hidden
func NewMockWithHidden(hidden []float32) *MockEncoder {
	return &MockEncoder{Dim: len(hidden), Fixed: hidden}
}

// HiddenSize returns Dim
func (m *MockEncoder) HiddenSize() int { return m.Dim }

// Encode splits the input into FrameCount frames and maps each frame's
// mean into Dim values with a fixed per-dimension scale and offset.
func (m *MockEncoder) Encode(ctx context.Context, batch *features.Batch) (Hidden, error) {
	m.mu.Lock()
	m.callCount++
	shouldError, msg, closed := m.shouldError, m.errorMessage, m.closed
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return Hidden{}, err
	}
	if closed {
		return Hidden{}, ErrClosed
	}
	if shouldError {
		if msg != "" {
			return Hidden{}, fmt.Errorf("%s", msg)
		}
		return Hidden{}, fmt.Errorf("mock inference error")
	}

	if m.Fixed != nil {
		return Hidden{Frames: 1, Dim: len(m.Fixed), Data: append([]float32(nil), m.Fixed...)}, nil
	}

	values := batch.Values()
	frames := FrameCount(len(values))
	if frames <= 0 {
		return Hidden{}, fmt.Errorf("input of %d samples is too short for the feature encoder", len(values))
	}
	chunk := len(values) / frames

	data := make([]float32, frames*m.Dim)
	for t := 0; t < frames; t++ {
		var sum float64
		for _, v := range values[t*chunk : (t+1)*chunk] {
			sum += float64(v)
		}
		mean := float32(sum / float64(chunk))
		for d := 0; d < m.Dim; d++ {
			data[t*m.Dim+d] = mean*float32(d%7+1)/7 + 0.01*float32(d%5)
		}
	}
	return Hidden{Frames: frames, Dim: m.Dim, Data: data}, nil
}

// Close marks the mock closed; later Encode calls fail with ErrClosed
func (m *MockEncoder) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

// SetError configures the mock to return an error on the next Encode call
func (m *MockEncoder) SetError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldError = true
	m.errorMessage = msg
}

// ClearError clears any configured error
func (m *MockEncoder) ClearError() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shouldError = false
	m.errorMessage = ""
}

// CallCount returns the number of Encode calls
func (m *MockEncoder) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.callCount
}

// Ensure MockEncoder implements Encoder at compile time
var _ Encoder = (*MockEncoder)(nil)
