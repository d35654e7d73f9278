package predictor

import (
	"errors"
	"fmt"

	"github.com/SyedDaiam9101/neurotone-service/internal/checkpoint"
	"github.com/SyedDaiam9101/neurotone-service/internal/classifier"
	"github.com/SyedDaiam9101/neurotone-service/internal/features"
	"github.com/SyedDaiam9101/neurotone-service/internal/inference"
)

// Model is the state loaded once at startup and shared read-only by all
// requests.
type Model struct {
	Encoder     inference.Encoder
	Head        *classifier.Head
	Extractor   *features.Extractor
	ClassNames  []string
	Fingerprint string
	Layout      string
}

// Validate checks that the parts fit together
func (m *Model) Validate() error {
	if m == nil {
		return errors.New("nil model")
	}
	if m.Encoder == nil {
		return errors.New("missing encoder")
	}
	if m.Head == nil {
		return errors.New("missing classification head")
	}
	if !m.Extractor.Ready() {
		return features.ErrNotInitialized
	}
	if m.Head.Training() {
		return errors.New("classification head is in training mode")
	}
	if m.Head.InputDim() != m.Encoder.HiddenSize() {
		return fmt.Errorf("head expects %d-wide embeddings, encoder produces %d", m.Head.InputDim(), m.Encoder.HiddenSize())
	}
	if len(m.ClassNames) != 2 {
		return fmt.Errorf("expected 2 class names, got %d", len(m.ClassNames))
	}
	return nil
}

// LoadOptions describes where the model comes from.
type LoadOptions struct {
	CheckpointPath string
	// Strategies defaults to checkpoint.DefaultStrategies
	Strategies []checkpoint.Strategy
	Features   features.Config
	// ClassNames overrides the names stored in the checkpoint
	ClassNames []string
	NewEncoder func() (inference.Encoder, error)
}

// LoadModel reads the checkpoint, opens the encoder and assembles a Model.
// The checkpoint is read first so a missing file fails before the
// runtime is touched.
func LoadModel(opts LoadOptions) (*Model, error) {
	ckpt, err := checkpoint.Load(opts.CheckpointPath, opts.Strategies...)
	if err != nil {
		return nil, err
	}

	ext, err := features.New(opts.Features)
	if err != nil {
		return nil, fmt.Errorf("feature extractor: %w", err)
	}

	if opts.NewEncoder == nil {
		return nil, errors.New("no encoder factory configured")
	}
	enc, err := opts.NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("load encoder: %w", err)
	}

	head, err := ckpt.Head(enc.HiddenSize())
	if err != nil {
		enc.Close()
		return nil, err
	}

	names := opts.ClassNames
	if len(names) == 0 {
		names = ckpt.ClassNames
	}

	m := &Model{
		Encoder:     enc,
		Head:        head,
		Extractor:   ext,
		ClassNames:  names,
		Fingerprint: ckpt.Fingerprint,
		Layout:      ckpt.Layout,
	}
	if err := m.Validate(); err != nil {
		enc.Close()
		return nil, &checkpoint.LoadError{Path: opts.CheckpointPath, Err: err}
	}
	return m, nil
}
