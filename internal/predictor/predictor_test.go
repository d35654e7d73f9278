package predictor_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"

	"github.com/SyedDaiam9101/neurotone-service/internal/audio"
	"github.com/SyedDaiam9101/neurotone-service/internal/audio/audiotest"
	"github.com/SyedDaiam9101/neurotone-service/internal/checkpoint"
	"github.com/SyedDaiam9101/neurotone-service/internal/checkpoint/checkpointtest"
	"github.com/SyedDaiam9101/neurotone-service/internal/features"
	"github.com/SyedDaiam9101/neurotone-service/internal/inference"
	"github.com/SyedDaiam9101/neurotone-service/internal/predictor"
	"github.com/SyedDaiam9101/neurotone-service/internal/predictor/predictortest"
)

func clip(t *testing.T) []byte {
	t.Helper()
	return audiotest.WAV(t, predictortest.SampleRate, audiotest.Sine(8000, 40, 8000))
}

func assertKind(t *testing.T, err error, kind predictor.Kind, category predictor.Category) {
	t.Helper()
	if err == nil {
		t.Fatalf("Expected %s error, got nil", kind)
	}
	var pe *predictor.Error
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *predictor.Error, got %T: %v", err, err)
	}
	if pe.Kind != kind {
		t.Errorf("Kind = %s, expected %s (%v)", pe.Kind, kind, err)
	}
	if got := predictor.CategoryOf(err); got != category {
		t.Errorf("CategoryOf = %s, expected %s", got, category)
	}
}

func assertProbability(t *testing.T, p float64) {
	t.Helper()
	if math.IsNaN(p) || p < 0 || p > 1 {
		t.Errorf("probability %v outside [0, 1]", p)
	}
}

// fullSize starts a predictor with the production input length of ten
// seconds at 16 kHz.
func fullSize(t *testing.T) (*predictor.Predictor, *inference.MockEncoder) {
	t.Helper()
	const rate, length = 16000, 160000
	norm, err := audio.NewNormalizer(rate, length)
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	enc := inference.NewMock(predictortest.Dim)
	m, err := predictor.LoadModel(predictor.LoadOptions{
		CheckpointPath: checkpointtest.WriteLegacy(t, checkpointtest.State(predictortest.Dim, 3)),
		Features:       features.Config{SampleRate: rate, Length: length, AttentionMask: true},
		ClassNames:     []string{"No Dementia", "Dementia"},
		NewEncoder:     func() (inference.Encoder, error) { return enc, nil },
	})
	if err != nil {
		t.Fatalf("LoadModel: %v", err)
	}
	p := predictor.New(norm)
	if err := p.Start(m); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = p.Shutdown() })
	return p, enc
}

func TestPredict_NotReadyBeforeStart(t *testing.T) {
	enc := inference.NewMock(predictortest.Dim)
	_ = predictortest.Model(t, enc)
	p := predictor.New(predictortest.Normalizer(t))

	if p.Ready() {
		t.Fatal("Expected new predictor to not be ready")
	}
	if p.State() != predictor.StateUninitialized {
		t.Errorf("State = %s, expected uninitialized", p.State())
	}

	// garbage input must still report not ready, not a decode failure
	for _, raw := range [][]byte{clip(t), []byte("not audio")} {
		_, err := p.Predict(context.Background(), raw)
		assertKind(t, err, predictor.KindNotReady, predictor.CategoryNotReady)
		if !errors.Is(err, predictor.ErrNotReady) {
			t.Errorf("Expected errors.Is(err, ErrNotReady), got %v", err)
		}
		var pe *predictor.Error
		if errors.As(err, &pe) && pe.Stage != predictor.StageReceived {
			t.Errorf("Stage = %s, expected received", pe.Stage)
		}
	}
	if enc.CallCount() != 0 {
		t.Errorf("encoder called %d times before start", enc.CallCount())
	}
}

func TestPredict_ReturnsProbability(t *testing.T) {
	p, enc := predictortest.Ready(t)

	res, err := p.Predict(context.Background(), clip(t))
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	assertProbability(t, res.Probability)
	if res.Label != "No Dementia" && res.Label != "Dementia" {
		t.Errorf("unexpected label %q", res.Label)
	}
	if res.Cached {
		t.Error("Expected uncached result")
	}
	for _, s := range []predictor.Stage{predictor.StageNormalized, predictor.StageFeaturized, predictor.StageInferred, predictor.StageResult} {
		if _, ok := res.Timings[s]; !ok {
			t.Errorf("missing timing for stage %s", s)
		}
	}
	if enc.CallCount() != 1 {
		t.Errorf("Expected 1 encoder call, got %d", enc.CallCount())
	}
}

func TestPredict_Deterministic(t *testing.T) {
	p, _ := predictortest.Ready(t)
	raw := clip(t)

	a, err := p.Predict(context.Background(), raw)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	b, err := p.Predict(context.Background(), raw)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if a.Probability != b.Probability || a.Logit != b.Logit {
		t.Errorf("repeated predictions differ: %v vs %v", a.Probability, b.Probability)
	}
}

func TestPredict_EightKilohertzFiveSecondClip(t *testing.T) {
	p, _ := fullSize(t)
	raw := audiotest.WAV(t, 8000, audiotest.Sine(8000*5, 20, 6000))

	res, err := p.Predict(context.Background(), raw)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	assertProbability(t, res.Probability)
}

func TestPredict_FifteenSecondStereoClip(t *testing.T) {
	p, _ := fullSize(t)
	const rate = 44100
	left := audiotest.Sine(rate*15, 100, 9000)
	right := audiotest.Ramp(rate*15, -3000, 0)
	raw := audiotest.WAV(t, rate, left, right)

	res, err := p.Predict(context.Background(), raw)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	assertProbability(t, res.Probability)
}

func TestPredict_MalformedInputIsBadInput(t *testing.T) {
	p, enc := predictortest.Ready(t)

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "text", raw: []byte("this is not a wav file")},
		{name: "truncated header", raw: clip(t)[:20]},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := p.Predict(context.Background(), tt.raw)
			assertKind(t, err, predictor.KindDecode, predictor.CategoryBadInput)
			var de *audio.DecodeError
			if !errors.As(err, &de) {
				t.Errorf("Expected wrapped *audio.DecodeError, got %v", err)
			}
		})
	}
	if enc.CallCount() != 0 {
		t.Errorf("encoder called %d times for malformed input", enc.CallCount())
	}
}

func TestPredict_EncoderFailureIsInternal(t *testing.T) {
	p, enc := predictortest.Ready(t)
	enc.SetError("device lost")

	_, err := p.Predict(context.Background(), clip(t))
	assertKind(t, err, predictor.KindInference, predictor.CategoryInternal)

	enc.ClearError()
	if _, err := p.Predict(context.Background(), clip(t)); err != nil {
		t.Errorf("Expected recovery after ClearError, got %v", err)
	}
}

type panicEncoder struct{ dim int }

func (e panicEncoder) Encode(context.Context, *features.Batch) (inference.Hidden, error) {
	panic("index out of range")
}
func (e panicEncoder) HiddenSize() int { return e.dim }
func (e panicEncoder) Close() error    { return nil }

func TestPredict_PanicIsInternal(t *testing.T) {
	p := predictor.New(predictortest.Normalizer(t))
	if err := p.Start(predictortest.Model(t, panicEncoder{dim: predictortest.Dim})); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown()

	_, err := p.Predict(context.Background(), clip(t))
	assertKind(t, err, predictor.KindInference, predictor.CategoryInternal)
}

func TestPredict_NaNHiddenStatesPropagate(t *testing.T) {
	hidden := make([]float32, predictortest.Dim)
	for i := range hidden {
		hidden[i] = float32(math.NaN())
	}
	enc := inference.NewMockWithHidden(hidden)
	p := predictor.New(predictortest.Normalizer(t))
	if err := p.Start(predictortest.Model(t, enc)); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer p.Shutdown()

	res, err := p.Predict(context.Background(), clip(t))
	if err != nil {
		t.Fatalf("Expected NaN to pass through, got error %v", err)
	}
	if !math.IsNaN(res.Probability) {
		t.Errorf("Probability = %v, expected NaN", res.Probability)
	}
	if res.Label != "" {
		t.Errorf("Label = %q, expected empty for NaN", res.Label)
	}
}

func TestPredict_CancelledContext(t *testing.T) {
	p, enc := predictortest.Ready(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Predict(ctx, clip(t))
	assertKind(t, err, predictor.KindInference, predictor.CategoryInternal)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if enc.CallCount() != 0 {
		t.Errorf("encoder ran after cancellation")
	}
}

func TestPredict_ConcurrentRequests(t *testing.T) {
	p, enc := predictortest.Ready(t)
	raw := clip(t)

	want, err := p.Predict(context.Background(), raw)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}

	const n = 16
	var wg sync.WaitGroup
	errs := make(chan error, n)
	probs := make(chan float64, n)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := p.Predict(context.Background(), raw)
			if err != nil {
				errs <- err
				return
			}
			probs <- res.Probability
		}()
	}
	wg.Wait()
	close(errs)
	close(probs)

	for err := range errs {
		t.Errorf("concurrent Predict failed: %v", err)
	}
	for got := range probs {
		if got != want.Probability {
			t.Errorf("concurrent probability %v, expected %v", got, want.Probability)
		}
	}
	if enc.CallCount() != n+1 {
		t.Errorf("Expected %d encoder calls, got %d", n+1, enc.CallCount())
	}
}

func TestLifecycle(t *testing.T) {
	enc := inference.NewMock(predictortest.Dim)
	m := predictortest.Model(t, enc)
	p := predictor.New(predictortest.Normalizer(t))

	if err := p.Start(m); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !p.Ready() || p.State() != predictor.StateReady {
		t.Fatalf("Expected ready after Start, state %s", p.State())
	}
	if err := p.Start(m); err == nil {
		t.Error("Expected second Start to fail")
	}
	if !p.Ready() || p.State() != predictor.StateReady {
		t.Fatalf("Expected still ready after rejected Start, state %s", p.State())
	}
	if _, err := p.Predict(context.Background(), clip(t)); err != nil {
		t.Fatalf("Predict after rejected Start: %v", err)
	}

	if err := p.Shutdown(); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if p.Ready() || p.State() != predictor.StateShutdown {
		t.Errorf("Expected shutdown state, got %s", p.State())
	}
	if _, err := enc.Encode(context.Background(), nil); !errors.Is(err, inference.ErrClosed) {
		t.Errorf("Expected encoder closed by Shutdown, got %v", err)
	}
	_, err := p.Predict(context.Background(), clip(t))
	assertKind(t, err, predictor.KindNotReady, predictor.CategoryNotReady)

	if err := p.Shutdown(); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
	if err := p.Start(m); err == nil {
		t.Error("Expected Start after Shutdown to fail")
	}
}

func TestStart_RejectsMismatchedExtractor(t *testing.T) {
	enc := inference.NewMock(predictortest.Dim)
	m := predictortest.Model(t, enc)

	norm, err := audio.NewNormalizer(predictortest.SampleRate, predictortest.Length*2)
	if err != nil {
		t.Fatalf("NewNormalizer: %v", err)
	}
	p := predictor.New(norm)
	if err := p.Start(m); err == nil {
		t.Fatal("Expected Start to reject extractor/normalizer length mismatch")
	}
	if p.Ready() {
		t.Error("predictor became ready after failed Start")
	}
}

func TestStart_RejectsInvalidModel(t *testing.T) {
	enc := inference.NewMock(predictortest.Dim)
	valid := predictortest.Model(t, enc)

	tests := []struct {
		name  string
		model *predictor.Model
	}{
		{name: "nil", model: nil},
		{name: "no encoder", model: &predictor.Model{Head: valid.Head, Extractor: valid.Extractor, ClassNames: valid.ClassNames}},
		{name: "no head", model: &predictor.Model{Encoder: enc, Extractor: valid.Extractor, ClassNames: valid.ClassNames}},
		{name: "no extractor", model: &predictor.Model{Encoder: enc, Head: valid.Head, ClassNames: valid.ClassNames}},
		{name: "wrong width", model: &predictor.Model{Encoder: inference.NewMock(predictortest.Dim + 1), Head: valid.Head, Extractor: valid.Extractor, ClassNames: valid.ClassNames}},
		{name: "one class", model: &predictor.Model{Encoder: enc, Head: valid.Head, Extractor: valid.Extractor, ClassNames: []string{"x"}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := predictor.New(predictortest.Normalizer(t))
			if err := p.Start(tt.model); err == nil {
				t.Error("Expected Start to fail")
			}
		})
	}
}

func TestLoadModel_MissingCheckpoint(t *testing.T) {
	called := false
	_, err := predictor.LoadModel(predictor.LoadOptions{
		CheckpointPath: "/nonexistent/model.msgpack",
		Features:       features.Config{SampleRate: 16000, Length: 16000},
		NewEncoder: func() (inference.Encoder, error) {
			called = true
			return inference.NewMock(predictortest.Dim), nil
		},
	})
	var le *checkpoint.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("Expected *checkpoint.LoadError, got %T: %v", err, err)
	}
	if called {
		t.Error("encoder opened although the checkpoint is missing")
	}
}

func TestLoadModel_WidthMismatchClosesEncoder(t *testing.T) {
	enc := inference.NewMock(predictortest.Dim)
	_, err := predictor.LoadModel(predictor.LoadOptions{
		CheckpointPath: checkpointtest.WriteStructured(t, checkpointtest.State(predictortest.Dim+2, 1)),
		Features:       features.Config{SampleRate: 16000, Length: 16000},
		NewEncoder:     func() (inference.Encoder, error) { return enc, nil },
	})
	var le *checkpoint.LoadError
	if !errors.As(err, &le) {
		t.Fatalf("Expected *checkpoint.LoadError, got %T: %v", err, err)
	}
	if _, err := enc.Encode(context.Background(), features.NewBatch(make([]float32, 400), nil, 16000)); !errors.Is(err, inference.ErrClosed) {
		t.Errorf("Expected encoder to be closed, got %v", err)
	}
}

func TestLoadModel_ClassNamesFromCheckpoint(t *testing.T) {
	m := predictortest.Model(t, inference.NewMock(predictortest.Dim))
	if len(m.ClassNames) != 2 || m.ClassNames[1] != "Dementia" {
		t.Errorf("ClassNames = %v", m.ClassNames)
	}
	if m.Layout != "structured" || m.Fingerprint == "" {
		t.Errorf("Layout = %q, Fingerprint = %q", m.Layout, m.Fingerprint)
	}
}

type memCache struct {
	mu     sync.Mutex
	values map[string]float64
	err    error
	sets   int
}

func (c *memCache) Get(_ context.Context, key string) (float64, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, false, c.err
	}
	v, ok := c.values[key]
	return v, ok, nil
}

func (c *memCache) Set(_ context.Context, key string, p float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sets++
	if c.err != nil {
		return c.err
	}
	c.values[key] = p
	return nil
}

func TestPredict_CacheHitSkipsEncoder(t *testing.T) {
	cache := &memCache{values: map[string]float64{}}
	p, enc := predictortest.Ready(t, predictor.WithCache(cache))
	raw := clip(t)

	first, err := p.Predict(context.Background(), raw)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	second, err := p.Predict(context.Background(), raw)
	if err != nil {
		t.Fatalf("Predict failed: %v", err)
	}
	if !second.Cached || second.Probability != first.Probability {
		t.Errorf("Expected cached %v, got %+v", first.Probability, second)
	}
	if enc.CallCount() != 1 {
		t.Errorf("Expected 1 encoder call, got %d", enc.CallCount())
	}
}

func TestPredict_CacheFailureDoesNotFailRequest(t *testing.T) {
	cache := &memCache{values: map[string]float64{}, err: errors.New("connection refused")}
	p, _ := predictortest.Ready(t, predictor.WithCache(cache))

	res, err := p.Predict(context.Background(), clip(t))
	if err != nil {
		t.Fatalf("Expected cache errors to be ignored, got %v", err)
	}
	assertProbability(t, res.Probability)
	if cache.sets != 1 {
		t.Errorf("Expected one store attempt, got %d", cache.sets)
	}
}

func TestPredict_NotReadyBeforeCache(t *testing.T) {
	cache := &memCache{values: map[string]float64{}}
	p := predictor.New(predictortest.Normalizer(t), predictor.WithCache(cache))
	raw := clip(t)
	cache.values[predictor.CacheKey(raw, "")] = 0.9

	_, err := p.Predict(context.Background(), raw)
	assertKind(t, err, predictor.KindNotReady, predictor.CategoryNotReady)
}

func TestCacheKey(t *testing.T) {
	a := predictor.CacheKey([]byte("abc"), "fingerprint-one-xxxxxxxx")
	b := predictor.CacheKey([]byte("abc"), "fingerprint-two-xxxxxxxx")
	c := predictor.CacheKey([]byte("abd"), "fingerprint-one-xxxxxxxx")
	if a == b || a == c {
		t.Errorf("cache keys collide: %q %q %q", a, b, c)
	}
	if a != predictor.CacheKey([]byte("abc"), "fingerprint-one-xxxxxxxx") {
		t.Error("cache key not stable")
	}
}

func TestErrorCategories(t *testing.T) {
	tests := []struct {
		kind      predictor.Kind
		category  predictor.Category
		retryable bool
	}{
		{predictor.KindNotReady, predictor.CategoryNotReady, true},
		{predictor.KindDecode, predictor.CategoryBadInput, false},
		{predictor.KindPreprocessing, predictor.CategoryBadInput, false},
		{predictor.KindInference, predictor.CategoryInternal, false},
	}
	for _, tt := range tests {
		e := &predictor.Error{Kind: tt.kind, Stage: predictor.StageReceived, Err: errors.New("x")}
		if e.Category() != tt.category {
			t.Errorf("%s: Category = %s, expected %s", tt.kind, e.Category(), tt.category)
		}
		if e.Retryable() != tt.retryable {
			t.Errorf("%s: Retryable = %v", tt.kind, e.Retryable())
		}
	}
	if predictor.CategoryOf(errors.New("plain")) != predictor.CategoryInternal {
		t.Error("unknown errors should be internal")
	}
}
