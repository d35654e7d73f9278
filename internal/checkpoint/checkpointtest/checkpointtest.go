// Package checkpointtest writes head checkpoints for tests.
package checkpointtest

import (
	"math/rand/v2"
	"os"
	"path/filepath"
	"testing"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/SyedDaiam9101/neurotone-service/internal/checkpoint"
	"github.com/SyedDaiam9101/neurotone-service/internal/classifier"
)

// State returns a head state dict for inputDim with small deterministic
// weights derived from seed.
func State(inputDim int, seed uint64) checkpoint.StateDict {
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))
	tensor := func(shape ...int) checkpoint.Tensor {
		n := 1
		for _, d := range shape {
			n *= d
		}
		data := make([]float32, n)
		for i := range data {
			data[i] = (rng.Float32() - 0.5) * 0.1
		}
		return checkpoint.Tensor{Shape: shape, Data: data}
	}
	return checkpoint.StateDict{
		checkpoint.KeyW1: tensor(classifier.Hidden1, inputDim),
		checkpoint.KeyB1: tensor(classifier.Hidden1),
		checkpoint.KeyW2: tensor(classifier.Hidden2, classifier.Hidden1),
		checkpoint.KeyB2: tensor(classifier.Hidden2),
		checkpoint.KeyW3: tensor(1, classifier.Hidden2),
		checkpoint.KeyB3: tensor(1),
	}
}

// WriteStructured writes state wrapped in a model_state_dict document and
// returns the file path.
func WriteStructured(t testing.TB, state checkpoint.StateDict) string {
	t.Helper()
	return write(t, map[string]any{
		"model_state_dict": state,
		"epoch":            7,
		"class_names":      []string{"No Dementia", "Dementia"},
	})
}

// WriteLegacy writes state as a bare map and returns the file path
func WriteLegacy(t testing.TB, state checkpoint.StateDict) string {
	t.Helper()
	return write(t, state)
}

// WriteRaw writes arbitrary bytes as a checkpoint file
func WriteRaw(t testing.TB, raw []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "model.msgpack")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatalf("checkpointtest: write: %v", err)
	}
	return path
}

func write(t testing.TB, v any) string {
	t.Helper()
	raw, err := msgpack.Marshal(v)
	if err != nil {
		t.Fatalf("checkpointtest: marshal: %v", err)
	}
	return WriteRaw(t, raw)
}
