// internal/inference/inference.go
package inference

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/SyedDaiam9101/neurotone-service/internal/features"
)

// ErrClosed is returned by Encode after Close
var ErrClosed = errors.New("encoder session is closed")

// Tensor names used when the base model was exported to ONNX.
const (
	InputValuesName   = "input_values"
	AttentionMaskName = "attention_mask"
	LastHiddenName    = "last_hidden_state"
)

// Convolutional feature encoder of WavLM / wav2vec 2.0: seven layers,
// no padding. It fixes how many frames N samples produce.
var (
	convKernels = []int{10, 3, 3, 3, 3, 2, 2}
	convStrides = []int{5, 2, 2, 2, 2, 2, 2}
)

// FrameCount returns the number of hidden-state frames for n input samples
func FrameCount(n int) int {
	for i, k := range convKernels {
		if n < k {
			return 0
		}
		n = (n-k)/convStrides[i] + 1
	}
	return n
}

// ResolveModelPath maps a base model identifier such as
// "microsoft/wavlm-base-plus" to <dir>/microsoft/wavlm-base-plus/model.onnx.
// A path ending in .onnx is returned unchanged.
func ResolveModelPath(dir, baseModel string) string {
	if strings.HasSuffix(baseModel, ".onnx") {
		return baseModel
	}
	return filepath.Join(dir, filepath.FromSlash(baseModel), "model.onnx")
}

// Options configures an ONNX encoder session.
type Options struct {
	ModelPath string
	// LibraryPath points at libonnxruntime; empty uses the default lookup
	LibraryPath string
	HiddenSize  int
	// MaskInput is set when the exported graph takes attention_mask
	MaskInput      bool
	IntraOpThreads int
}

// ONNXEncoder wraps an ONNX runtime session for concurrent inference.
// It implements the Encoder interface.
type ONNXEncoder struct {
	mu         sync.RWMutex
	session    *ort.DynamicAdvancedSession
	hiddenSize int
	maskInput  bool
}

// New creates an ONNXEncoder by loading the exported representation model
func New(opts Options) (*ONNXEncoder, error) {
	if opts.HiddenSize <= 0 {
		return nil, fmt.Errorf("invalid hidden size %d", opts.HiddenSize)
	}
	if opts.LibraryPath != "" {
		ort.SetSharedLibraryPath(opts.LibraryPath)
	}

	// Initialize the ONNX runtime environment
	if err := ort.InitializeEnvironment(); err != nil {
		return nil, fmt.Errorf("failed to initialize ONNX environment: %w", err)
	}

	sessionOpts, err := ort.NewSessionOptions()
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	defer sessionOpts.Destroy()
	if opts.IntraOpThreads > 0 {
		if err := sessionOpts.SetIntraOpNumThreads(opts.IntraOpThreads); err != nil {
			ort.DestroyEnvironment()
			return nil, fmt.Errorf("failed to set intra-op threads: %w", err)
		}
	}

	inputNames := []string{InputValuesName}
	if opts.MaskInput {
		inputNames = append(inputNames, AttentionMaskName)
	}
	outputNames := []string{LastHiddenName}

	// Dynamic session: the sequence length is only known per request
	session, err := ort.NewDynamicAdvancedSession(opts.ModelPath, inputNames, outputNames, sessionOpts)
	if err != nil {
		ort.DestroyEnvironment()
		return nil, fmt.Errorf("failed to create ONNX session: %w", err)
	}

	return &ONNXEncoder{
		session:    session,
		hiddenSize: opts.HiddenSize,
		maskInput:  opts.MaskInput,
	}, nil
}

// HiddenSize returns the embedding width
func (e *ONNXEncoder) HiddenSize() int { return e.hiddenSize }

// Encode runs the representation model over batch. A batch without a mask
// is fed an all-ones mask when the graph requires one.
func (e *ONNXEncoder) Encode(ctx context.Context, batch *features.Batch) (Hidden, error) {
	if err := ctx.Err(); err != nil {
		return Hidden{}, err
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.session == nil {
		return Hidden{}, ErrClosed
	}

	values := batch.Values()
	n := int64(len(values))
	frames := FrameCount(len(values))
	if frames <= 0 {
		return Hidden{}, fmt.Errorf("input of %d samples is too short for the feature encoder", n)
	}

	inputTensor, err := ort.NewTensor(ort.NewShape(1, n), values)
	if err != nil {
		return Hidden{}, fmt.Errorf("failed to create input tensor: %w", err)
	}
	defer inputTensor.Destroy()
	inputs := []ort.ArbitraryTensor{inputTensor}

	if e.maskInput {
		mask := batch.Mask()
		if mask == nil {
			mask = make([]int64, n)
			for i := range mask {
				mask[i] = 1
			}
		}
		maskTensor, err := ort.NewTensor(ort.NewShape(1, n), mask)
		if err != nil {
			return Hidden{}, fmt.Errorf("failed to create mask tensor: %w", err)
		}
		defer maskTensor.Destroy()
		inputs = append(inputs, maskTensor)
	}

	// Output shape [1, frames, hidden]
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(frames), int64(e.hiddenSize)))
	if err != nil {
		return Hidden{}, fmt.Errorf("failed to create output tensor: %w", err)
	}
	defer outputTensor.Destroy()

	if err := e.session.Run(inputs, []ort.ArbitraryTensor{outputTensor}); err != nil {
		return Hidden{}, fmt.Errorf("inference failed: %w", err)
	}

	// the tensor memory is released on return
	data := make([]float32, frames*e.hiddenSize)
	copy(data, outputTensor.GetData())
	return Hidden{Frames: frames, Dim: e.hiddenSize, Data: data}, nil
}

// Close releases the ONNX session resources
func (e *ONNXEncoder) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.session == nil {
		return nil
	}
	err := e.session.Destroy()
	e.session = nil
	if err != nil {
		return fmt.Errorf("failed to destroy session: %w", err)
	}
	return ort.DestroyEnvironment()
}

// Ensure ONNXEncoder implements Encoder at compile time
var _ Encoder = (*ONNXEncoder)(nil)
