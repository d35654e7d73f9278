// Package features adapts a normalized waveform to the input layout the
// representation model was exported with.
package features

import (
	"errors"
	"fmt"
	"math"

	"github.com/SyedDaiam9101/neurotone-service/internal/audio"
)

// ErrNotInitialized is returned by a nil or zero-value Extractor
var ErrNotInitialized = errors.New("feature extractor not initialized")

// varianceEpsilon matches the Wav2Vec2 feature extractor
const varianceEpsilon = 1e-7

// Config mirrors the preprocessing switches of the base model.
type Config struct {
	SampleRate int
	Length     int
	// Normalize applies zero-mean unit-variance scaling
	Normalize bool
	// AttentionMask requests a mask alongside the values
	AttentionMask bool
}

// Batch is a single-example model input of shape (1, N). It is not
// modified after Extract returns it.
type Batch struct {
	values []float32
	mask   []int64
	rate   int
}

// Values returns the flattened (1, N) input. Callers must not modify it.
func (b *Batch) Values() []float32 { return b.values }

// Mask returns the (1, N) attention mask, or nil for no masking
func (b *Batch) Mask() []int64 { return b.mask }

// HasMask reports whether a mask was produced
func (b *Batch) HasMask() bool { return b.mask != nil }

// Shape returns the batch shape
func (b *Batch) Shape() []int64 { return []int64{1, int64(len(b.values))} }

// SampleRate returns the rate of the underlying waveform
func (b *Batch) SampleRate() int { return b.rate }

// NewBatch builds a batch from raw values, copying both slices. It exists
// for encoders and tests that need a batch without a waveform.
func NewBatch(values []float32, mask []int64, rate int) *Batch {
	b := &Batch{values: append([]float32(nil), values...), rate: rate}
	if mask != nil {
		b.mask = append([]int64(nil), mask...)
	}
	return b
}

// Extractor produces Batches. It is immutable and safe for concurrent use.
type Extractor struct {
	cfg   Config
	ready bool
}

// New validates cfg and returns a ready Extractor
func New(cfg Config) (*Extractor, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid sample rate %d", cfg.SampleRate)
	}
	if cfg.Length <= 0 {
		return nil, fmt.Errorf("invalid input length %d", cfg.Length)
	}
	return &Extractor{cfg: cfg, ready: true}, nil
}

// Config returns the extractor configuration
func (e *Extractor) Config() Config { return e.cfg }

// Ready reports whether e can extract
func (e *Extractor) Ready() bool { return e != nil && e.ready }

// Extract wraps w as a batch of one. Padding and truncation are the
// normalizer's job; a waveform of the wrong rate or length is rejected.
func (e *Extractor) Extract(w audio.Waveform) (*Batch, error) {
	if !e.Ready() {
		return nil, ErrNotInitialized
	}
	if w.SampleRate != e.cfg.SampleRate {
		return nil, fmt.Errorf("waveform sample rate %d, extractor expects %d", w.SampleRate, e.cfg.SampleRate)
	}
	if len(w.Samples) != e.cfg.Length {
		return nil, fmt.Errorf("waveform has %d samples, extractor expects %d", len(w.Samples), e.cfg.Length)
	}

	values := make([]float32, len(w.Samples))
	if e.cfg.Normalize {
		ZeroMeanUnitVar(values, w.Samples)
	} else {
		copy(values, w.Samples)
	}

	b := &Batch{values: values, rate: w.SampleRate}
	if e.cfg.AttentionMask {
		mask := make([]int64, len(values))
		for i := range mask {
			mask[i] = 1
		}
		b.mask = mask
	}
	return b, nil
}

// ZeroMeanUnitVar writes (src - mean) / sqrt(var + 1e-7) into dst.
// Statistics are accumulated in float64.
func ZeroMeanUnitVar(dst, src []float32) {
	if len(src) == 0 {
		return
	}
	var sum float64
	for _, v := range src {
		sum += float64(v)
	}
	mean := sum / float64(len(src))

	var sq float64
	for _, v := range src {
		d := float64(v) - mean
		sq += d * d
	}
	std := math.Sqrt(sq/float64(len(src)) + varianceEpsilon)

	for i, v := range src {
		dst[i] = float32((float64(v) - mean) / std)
	}
}
