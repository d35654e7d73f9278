package predictor

import (
	"errors"
	"fmt"
)

// ErrNotReady is wrapped by every not-ready outcome
var ErrNotReady = errors.New("model or feature extractor not loaded")

// Stage names a step of a prediction request.
type Stage string

const (
	StageReceived   Stage = "received"
	StageNormalized Stage = "normalized"
	StageFeaturized Stage = "featurized"
	StageInferred   Stage = "inferred"
	StageResult     Stage = "result"
)

// Kind classifies a prediction failure.
type Kind int

const (
	// KindNotReady: the predictor has not started or has shut down
	KindNotReady Kind = iota + 1
	// KindDecode: the upload is not audio
	KindDecode
	// KindPreprocessing: resample, mono, pad/truncate or feature extraction failed
	KindPreprocessing
	// KindInference: the forward pass failed
	KindInference
)

func (k Kind) String() string {
	switch k {
	case KindNotReady:
		return "not_ready"
	case KindDecode:
		return "decode"
	case KindPreprocessing:
		return "preprocessing"
	case KindInference:
		return "inference"
	default:
		return "unknown"
	}
}

// Category is the caller-facing class of a failure.
type Category string

const (
	CategoryNotReady Category = "not_ready"
	CategoryBadInput Category = "bad_input"
	CategoryInternal Category = "internal"
)

// Category maps the kind to its caller-facing category
func (k Kind) Category() Category {
	switch k {
	case KindNotReady:
		return CategoryNotReady
	case KindDecode, KindPreprocessing:
		return CategoryBadInput
	default:
		return CategoryInternal
	}
}

// Error is returned by Predict. Stage is the stage that was being
// entered when the failure happened.
type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s failed at %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Category returns the caller-facing category
func (e *Error) Category() Category { return e.Kind.Category() }

// Retryable reports whether the same request may succeed later
func (e *Error) Retryable() bool { return e.Kind == KindNotReady }

// CategoryOf returns the category of err, treating unknown errors as
// internal
func CategoryOf(err error) Category {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Category()
	}
	return CategoryInternal
}
