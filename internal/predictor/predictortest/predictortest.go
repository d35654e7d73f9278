// Package predictortest builds ready predictors backed by the mock encoder.
package predictortest

import (
	"testing"

	"github.com/SyedDaiam9101/neurotone-service/internal/audio"
	"github.com/SyedDaiam9101/neurotone-service/internal/checkpoint/checkpointtest"
	"github.com/SyedDaiam9101/neurotone-service/internal/features"
	"github.com/SyedDaiam9101/neurotone-service/internal/inference"
	"github.com/SyedDaiam9101/neurotone-service/internal/predictor"
)

// Small shapes keep tests fast. One second of 16 kHz audio.
const (
	SampleRate = 16000
	Length     = 16000
	Dim        = 8
)

// Normalizer returns a normalizer for SampleRate and Length
func Normalizer(t testing.TB) *audio.Normalizer {
	t.Helper()
	n, err := audio.NewNormalizer(SampleRate, Length)
	if err != nil {
		t.Fatalf("predictortest: normalizer: %v", err)
	}
	return n
}

// Model loads a structured checkpoint around enc
func Model(t testing.TB, enc inference.Encoder) *predictor.Model {
	t.Helper()
	path := checkpointtest.WriteStructured(t, checkpointtest.State(enc.HiddenSize(), 1))
	m, err := predictor.LoadModel(predictor.LoadOptions{
		CheckpointPath: path,
		Features:       features.Config{SampleRate: SampleRate, Length: Length, AttentionMask: true},
		NewEncoder:     func() (inference.Encoder, error) { return enc, nil },
	})
	if err != nil {
		t.Fatalf("predictortest: load model: %v", err)
	}
	return m
}

// Ready returns a started predictor and the mock behind it
func Ready(t testing.TB, opts ...predictor.Option) (*predictor.Predictor, *inference.MockEncoder) {
	t.Helper()
	enc := inference.NewMock(Dim)
	p := predictor.New(Normalizer(t), opts...)
	if err := p.Start(Model(t, enc)); err != nil {
		t.Fatalf("predictortest: start: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown() })
	return p, enc
}
