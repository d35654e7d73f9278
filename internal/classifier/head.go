// Package classifier implements the feed-forward head that maps pooled
// representation-model output to a single binary logit.
package classifier

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Layer sizes and dropout probability the head was trained with.
const (
	Hidden1     = 512
	Hidden2     = 256
	DropoutProb = 0.2
)

// Linear is a dense layer with a row-major (Out, In) weight matrix.
type Linear struct {
	In, Out int
	Weight  []float32
	Bias    []float32
}

// NewLinear validates the parameter sizes
func NewLinear(in, out int, weight, bias []float32) (*Linear, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("invalid linear dims %dx%d", out, in)
	}
	if len(weight) != in*out {
		return nil, fmt.Errorf("weight has %d values, expected %d (%dx%d)", len(weight), in*out, out, in)
	}
	if len(bias) != out {
		return nil, fmt.Errorf("bias has %d values, expected %d", len(bias), out)
	}
	return &Linear{In: in, Out: out, Weight: weight, Bias: bias}, nil
}

// Forward computes W·x + b, accumulating in float64
func (l *Linear) Forward(x []float32) []float32 {
	out := make([]float32, l.Out)
	for o := 0; o < l.Out; o++ {
		row := l.Weight[o*l.In : (o+1)*l.In]
		sum := float64(l.Bias[o])
		for i, w := range row {
			sum += float64(w) * float64(x[i])
		}
		out[o] = float32(sum)
	}
	return out
}

func relu(x []float32) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// Weights holds the parameters of the three dense layers.
type Weights struct {
	W1, B1 []float32 // (Hidden1, input)
	W2, B2 []float32 // (Hidden2, Hidden1)
	W3, B3 []float32 // (1, Hidden2)
}

// Head is Linear → ReLU → Dropout → Linear → ReLU → Dropout → Linear(1).
// A new Head starts in evaluation mode.
type Head struct {
	fc1, fc2, out *Linear
	dropout       float32
	training      bool
	rng           *rand.Rand
}

// NewHead builds a head for pooled vectors of size inputDim
func NewHead(inputDim int, w Weights) (*Head, error) {
	fc1, err := NewLinear(inputDim, Hidden1, w.W1, w.B1)
	if err != nil {
		return nil, fmt.Errorf("layer 0: %w", err)
	}
	fc2, err := NewLinear(Hidden1, Hidden2, w.W2, w.B2)
	if err != nil {
		return nil, fmt.Errorf("layer 3: %w", err)
	}
	out, err := NewLinear(Hidden2, 1, w.W3, w.B3)
	if err != nil {
		return nil, fmt.Errorf("layer 6: %w", err)
	}
	return &Head{fc1: fc1, fc2: fc2, out: out, dropout: DropoutProb}, nil
}

// InputDim returns the expected pooled vector size
func (h *Head) InputDim() int { return h.fc1.In }

// Eval disables dropout. Forward is deterministic afterwards.
func (h *Head) Eval() {
	h.training = false
	h.rng = nil
}

// Train enables inverted dropout driven by rng. Not for use on a head
// shared between requests.
func (h *Head) Train(rng *rand.Rand) {
	h.training = true
	h.rng = rng
}

// Training reports whether dropout is active
func (h *Head) Training() bool { return h.training }

// Forward returns the logit for one pooled vector
func (h *Head) Forward(pooled []float32) (float32, error) {
	if len(pooled) != h.fc1.In {
		return 0, fmt.Errorf("pooled vector has %d values, head expects %d", len(pooled), h.fc1.In)
	}
	x := h.fc1.Forward(pooled)
	relu(x)
	h.drop(x)
	x = h.fc2.Forward(x)
	relu(x)
	h.drop(x)
	return h.out.Forward(x)[0], nil
}

func (h *Head) drop(x []float32) {
	if !h.training || h.dropout <= 0 {
		return
	}
	keep := 1 - h.dropout
	for i := range x {
		if h.rng.Float32() < h.dropout {
			x[i] = 0
		} else {
			x[i] /= keep
		}
	}
}

// MeanPool averages a row-major (frames, dim) matrix over frames
func MeanPool(hidden []float32, frames, dim int) ([]float32, error) {
	if frames <= 0 || dim <= 0 {
		return nil, fmt.Errorf("invalid hidden state shape (%d, %d)", frames, dim)
	}
	if len(hidden) != frames*dim {
		return nil, fmt.Errorf("hidden state has %d values, expected %d", len(hidden), frames*dim)
	}
	acc := make([]float64, dim)
	for t := 0; t < frames; t++ {
		row := hidden[t*dim : (t+1)*dim]
		for d, v := range row {
			acc[d] += float64(v)
		}
	}
	out := make([]float32, dim)
	for d, v := range acc {
		out[d] = float32(v / float64(frames))
	}
	return out, nil
}

// Sigmoid maps a logit to a probability. NaN stays NaN.
func Sigmoid(logit float64) float64 {
	return 1 / (1 + math.Exp(-logit))
}
