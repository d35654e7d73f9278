// Package checkpoint loads the classification head weights from a
// MessagePack checkpoint, trying each known layout in order.
package checkpoint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/SyedDaiam9101/neurotone-service/internal/classifier"
)

// State dict keys of the head's dense layers.
const (
	KeyW1 = "classifier.0.weight"
	KeyB1 = "classifier.0.bias"
	KeyW2 = "classifier.3.weight"
	KeyB2 = "classifier.3.bias"
	KeyW3 = "classifier.6.weight"
	KeyB3 = "classifier.6.bias"
)

// ErrLayoutMismatch tells Load to try the next strategy
var ErrLayoutMismatch = errors.New("checkpoint layout mismatch")

// LoadError is fatal at startup: the checkpoint is missing or cannot
// produce a head.
type LoadError struct {
	Path string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load checkpoint %s: %v", e.Path, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// Tensor is a dense float32 array with its shape.
type Tensor struct {
	Shape []int     `msgpack:"shape"`
	Data  []float32 `msgpack:"data"`
}

// StateDict maps parameter names to tensors
type StateDict map[string]Tensor

// Checkpoint is the result of a successful load.
type Checkpoint struct {
	Path        string
	State       StateDict
	Epoch       int
	ClassNames  []string
	Layout      string
	Fingerprint string
}

// Strategy decodes one checkpoint layout. It returns ErrLayoutMismatch
// (possibly wrapped) when raw is not in its layout.
type Strategy interface {
	Name() string
	Decode(raw []byte) (*Checkpoint, error)
}

// DefaultStrategies is the structured layout followed by the legacy one
func DefaultStrategies() []Strategy {
	return []Strategy{Structured{}, Legacy{}}
}

// Structured reads {"model_state_dict": {...}, "epoch": n, "class_names": [...]}.
type Structured struct{}

func (Structured) Name() string { return "structured" }

func (Structured) Decode(raw []byte) (*Checkpoint, error) {
	var doc struct {
		ModelStateDict StateDict `msgpack:"model_state_dict"`
		Epoch          int       `msgpack:"epoch"`
		ClassNames     []string  `msgpack:"class_names"`
	}
	if err := msgpack.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLayoutMismatch, err)
	}
	if doc.ModelStateDict == nil {
		return nil, fmt.Errorf("%w: no model_state_dict", ErrLayoutMismatch)
	}
	return &Checkpoint{State: doc.ModelStateDict, Epoch: doc.Epoch, ClassNames: doc.ClassNames}, nil
}

// Legacy reads a bare state dict written without the wrapping document.
type Legacy struct{}

func (Legacy) Name() string { return "legacy" }

func (Legacy) Decode(raw []byte) (*Checkpoint, error) {
	var state StateDict
	if err := msgpack.Unmarshal(raw, &state); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrLayoutMismatch, err)
	}
	if len(state) == 0 {
		return nil, fmt.Errorf("%w: empty state dict", ErrLayoutMismatch)
	}
	return &Checkpoint{State: state}, nil
}

// Load reads path and returns the first layout that decodes. Every
// failure is a *LoadError.
func Load(path string, strategies ...Strategy) (*Checkpoint, error) {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &LoadError{Path: path, Err: err}
	}

	var errs []error
	for _, s := range strategies {
		ckpt, err := s.Decode(raw)
		if err == nil {
			sum := sha256.Sum256(raw)
			ckpt.Path = path
			ckpt.Layout = s.Name()
			ckpt.Fingerprint = hex.EncodeToString(sum[:])
			return ckpt, nil
		}
		if !errors.Is(err, ErrLayoutMismatch) {
			return nil, &LoadError{Path: path, Err: fmt.Errorf("%s layout: %w", s.Name(), err)}
		}
		errs = append(errs, fmt.Errorf("%s: %w", s.Name(), err))
	}
	return nil, &LoadError{Path: path, Err: errors.Join(errs...)}
}

// Head builds an evaluation-mode classification head for pooled vectors
// of size inputDim from the checkpoint's state dict. Weights that do not
// fit the architecture are reported as a *LoadError.
func (c *Checkpoint) Head(inputDim int) (*classifier.Head, error) {
	h, err := c.head(inputDim)
	if err != nil {
		return nil, &LoadError{Path: c.Path, Err: err}
	}
	return h, nil
}

func (c *Checkpoint) head(inputDim int) (*classifier.Head, error) {
	w1, err := c.param(KeyW1, classifier.Hidden1, inputDim)
	if err != nil {
		return nil, err
	}
	b1, err := c.param(KeyB1, classifier.Hidden1)
	if err != nil {
		return nil, err
	}
	w2, err := c.param(KeyW2, classifier.Hidden2, classifier.Hidden1)
	if err != nil {
		return nil, err
	}
	b2, err := c.param(KeyB2, classifier.Hidden2)
	if err != nil {
		return nil, err
	}
	w3, err := c.param(KeyW3, 1, classifier.Hidden2)
	if err != nil {
		return nil, err
	}
	b3, err := c.param(KeyB3, 1)
	if err != nil {
		return nil, err
	}

	h, err := classifier.NewHead(inputDim, classifier.Weights{W1: w1, B1: b1, W2: w2, B2: b2, W3: w3, B3: b3})
	if err != nil {
		return nil, err
	}
	h.Eval()
	return h, nil
}

func (c *Checkpoint) param(key string, shape ...int) ([]float32, error) {
	t, ok := c.State[key]
	if !ok {
		return nil, fmt.Errorf("missing parameter %s", key)
	}
	if len(t.Shape) != len(shape) {
		return nil, fmt.Errorf("parameter %s has shape %v, expected %v", key, t.Shape, shape)
	}
	n := 1
	for i, d := range shape {
		if t.Shape[i] != d {
			return nil, fmt.Errorf("parameter %s has shape %v, expected %v", key, t.Shape, shape)
		}
		n *= d
	}
	if len(t.Data) != n {
		return nil, fmt.Errorf("parameter %s has %d values, shape needs %d", key, len(t.Data), n)
	}
	return t.Data, nil
}
