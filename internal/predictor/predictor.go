// Package predictor composes audio normalization, feature extraction and
// the model forward pass into a single Predict call with an explicit
// readiness lifecycle.
package predictor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/SyedDaiam9101/neurotone-service/internal/audio"
	"github.com/SyedDaiam9101/neurotone-service/internal/classifier"
	"github.com/SyedDaiam9101/neurotone-service/internal/features"
	"github.com/SyedDaiam9101/neurotone-service/internal/inference"
	"github.com/SyedDaiam9101/neurotone-service/internal/logger"
	"github.com/SyedDaiam9101/neurotone-service/internal/metrics"
)

const tracerName = "github.com/SyedDaiam9101/neurotone-service/internal/predictor"

// State is the readiness lifecycle of a Predictor.
type State int32

const (
	StateUninitialized State = iota
	StateReady
	StateShutdown
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateReady:
		return "ready"
	case StateShutdown:
		return "shutdown"
	default:
		return "unknown"
	}
}

// Cache memoizes probabilities by content key. Implementations must be
// safe for concurrent use.
type Cache interface {
	Get(ctx context.Context, key string) (float64, bool, error)
	Set(ctx context.Context, key string, probability float64) error
}

// Result is the outcome of a successful Predict.
type Result struct {
	// Probability of the positive class; NaN when the logit was NaN
	Probability float64
	// Logit is NaN for cached results
	Logit   float64
	Label   string
	Cached  bool
	Timings map[Stage]time.Duration
}

// Predictor owns the loaded model. Predict is safe for concurrent use.
type Predictor struct {
	normalizer *audio.Normalizer
	state      atomic.Int32
	model      atomic.Pointer[Model]

	cache     Cache
	timeout   time.Duration
	threshold float64
	log       *logger.Logger
	tracer    trace.Tracer
}

// Option configures a Predictor
type Option func(*Predictor)

// WithCache enables result memoization
func WithCache(c Cache) Option {
	return func(p *Predictor) { p.cache = c }
}

// WithTimeout bounds the compute time of a single request
func WithTimeout(d time.Duration) Option {
	return func(p *Predictor) { p.timeout = d }
}

// WithThreshold sets the probability at which the positive label is chosen
func WithThreshold(t float64) Option {
	return func(p *Predictor) { p.threshold = t }
}

// WithLogger sets the predictor logger
func WithLogger(l *logger.Logger) Option {
	return func(p *Predictor) { p.log = l }
}

// WithTracer overrides the global OpenTelemetry tracer
func WithTracer(t trace.Tracer) Option {
	return func(p *Predictor) { p.tracer = t }
}

// New returns an uninitialized Predictor. Predict fails with
// KindNotReady until Start succeeds.
func New(normalizer *audio.Normalizer, opts ...Option) *Predictor {
	p := &Predictor{
		normalizer: normalizer,
		threshold:  0.5,
		log:        logger.Nop(),
		tracer:     otel.Tracer(tracerName),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Start publishes m and moves the predictor to ready. It can only be
// called once.
func (p *Predictor) Start(m *Model) error {
	if p.normalizer == nil {
		return errors.New("predictor has no normalizer")
	}
	if err := m.Validate(); err != nil {
		return fmt.Errorf("invalid model: %w", err)
	}
	cfg := m.Extractor.Config()
	if cfg.SampleRate != p.normalizer.SampleRate() || cfg.Length != p.normalizer.Length() {
		return fmt.Errorf("extractor expects %d samples at %d Hz, normalizer produces %d at %d Hz",
			cfg.Length, cfg.SampleRate, p.normalizer.Length(), p.normalizer.SampleRate())
	}

	// claim the model slot before the state flips to ready
	if !p.model.CompareAndSwap(nil, m) {
		return fmt.Errorf("cannot start predictor in state %s", p.State())
	}
	if !p.state.CompareAndSwap(int32(StateUninitialized), int32(StateReady)) {
		p.model.CompareAndSwap(m, nil)
		return fmt.Errorf("cannot start predictor in state %s", p.State())
	}
	metrics.SetModelReady(true)
	p.log.Info().
		Str("layout", m.Layout).
		Str("fingerprint", m.Fingerprint).
		Int("hidden_size", m.Encoder.HiddenSize()).
		Msg("model ready")
	return nil
}

// Shutdown stops accepting requests and releases the encoder. Requests
// already past the readiness guard finish or fail as not ready.
func (p *Predictor) Shutdown() error {
	prev := State(p.state.Swap(int32(StateShutdown)))
	metrics.SetModelReady(false)
	m := p.model.Swap(nil)
	if prev != StateReady || m == nil {
		return nil
	}
	p.log.Info().Msg("releasing model")
	return m.Encoder.Close()
}

// State returns the lifecycle state
func (p *Predictor) State() State { return State(p.state.Load()) }

// Ready reports whether Predict will run
func (p *Predictor) Ready() bool {
	return p.State() == StateReady && p.model.Load() != nil
}

// Predict runs raw audio through the pipeline and returns the positive
// class probability. Every error is a *Error.
func (p *Predictor) Predict(ctx context.Context, raw []byte) (res Result, err error) {
	start := time.Now()
	defer func() {
		metrics.RecordPrediction(outcome(err), time.Since(start).Seconds())
	}()

	m := p.model.Load()
	if p.State() != StateReady || m == nil || !m.Extractor.Ready() {
		return Result{}, &Error{Kind: KindNotReady, Stage: StageReceived, Err: ErrNotReady}
	}

	ctx, span := p.tracer.Start(ctx, "predict", trace.WithAttributes(attribute.Int("audio.bytes", len(raw))))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	log := logger.C(ctx, p.log)
	log.Debug().Int("bytes", len(raw)).Msg("received audio")

	var key string
	if p.cache != nil {
		key = CacheKey(raw, m.Fingerprint)
		if prob, ok, cerr := p.cache.Get(ctx, key); cerr != nil {
			log.Warn().Err(cerr).Msg("result cache lookup failed")
		} else if ok {
			metrics.RecordCacheHit()
			return Result{
				Probability: prob,
				Logit:       math.NaN(),
				Label:       p.label(m, prob),
				Cached:      true,
				Timings:     map[Stage]time.Duration{},
			}, nil
		}
	}

	timings := make(map[Stage]time.Duration, 3)

	var wave audio.Waveform
	err = p.stage(ctx, StageNormalized, timings, func(ctx context.Context) error {
		var nerr error
		wave, nerr = p.normalizer.Normalize(ctx, raw)
		return nerr
	})
	if err != nil {
		var de *audio.DecodeError
		if errors.As(err, &de) {
			return Result{}, &Error{Kind: KindDecode, Stage: StageNormalized, Err: err}
		}
		return Result{}, &Error{Kind: KindPreprocessing, Stage: StageNormalized, Err: err}
	}
	if cerr := ctx.Err(); cerr != nil {
		return Result{}, &Error{Kind: KindInference, Stage: StageFeaturized, Err: cerr}
	}

	var batch *features.Batch
	err = p.stage(ctx, StageFeaturized, timings, func(context.Context) error {
		var ferr error
		batch, ferr = m.Extractor.Extract(wave)
		return ferr
	})
	if err != nil {
		return Result{}, &Error{Kind: KindPreprocessing, Stage: StageFeaturized, Err: err}
	}
	if cerr := ctx.Err(); cerr != nil {
		return Result{}, &Error{Kind: KindInference, Stage: StageInferred, Err: cerr}
	}

	var logit float64
	err = p.stage(ctx, StageInferred, timings, func(ctx context.Context) error {
		var ierr error
		logit, ierr = forward(ctx, m, batch)
		return ierr
	})
	if err != nil {
		if errors.Is(err, inference.ErrClosed) {
			return Result{}, &Error{Kind: KindNotReady, Stage: StageInferred, Err: fmt.Errorf("%w: %v", ErrNotReady, err)}
		}
		return Result{}, &Error{Kind: KindInference, Stage: StageInferred, Err: err}
	}

	var prob float64
	_ = p.stage(ctx, StageResult, timings, func(context.Context) error {
		prob = classifier.Sigmoid(logit)
		return nil
	})
	if math.IsNaN(prob) {
		log.Warn().Msg("model produced a NaN logit")
	} else if key != "" {
		if cerr := p.cache.Set(ctx, key, prob); cerr != nil {
			log.Warn().Err(cerr).Msg("result cache store failed")
		}
	}
	metrics.RecordProbability(prob)

	log.Info().
		Float64("logit", logit).
		Float64("probability", prob).
		Dur("elapsed", time.Since(start)).
		Msg("inference successful")

	return Result{
		Probability: prob,
		Logit:       logit,
		Label:       p.label(m, prob),
		Timings:     timings,
	}, nil
}

// stage runs fn in its own span and records its latency
func (p *Predictor) stage(ctx context.Context, s Stage, timings map[Stage]time.Duration, fn func(context.Context) error) error {
	ctx, span := p.tracer.Start(ctx, string(s))
	defer span.End()

	start := time.Now()
	err := fn(ctx)
	d := time.Since(start)
	timings[s] = d
	metrics.RecordStage(string(s), d.Seconds())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

// forward runs encoder → mean pool → head. Panics from the compute path
// come back as errors.
func forward(ctx context.Context, m *Model, batch *features.Batch) (logit float64, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic in forward pass: %v", r)
		}
	}()

	hidden, err := m.Encoder.Encode(ctx, batch)
	if err != nil {
		return 0, err
	}
	if hidden.Dim != m.Head.InputDim() {
		return 0, fmt.Errorf("encoder returned %d-wide embeddings, head expects %d", hidden.Dim, m.Head.InputDim())
	}
	pooled, err := classifier.MeanPool(hidden.Data, hidden.Frames, hidden.Dim)
	if err != nil {
		return 0, err
	}
	l, err := m.Head.Forward(pooled)
	if err != nil {
		return 0, err
	}
	return float64(l), nil
}

func (p *Predictor) label(m *Model, prob float64) string {
	if math.IsNaN(prob) || len(m.ClassNames) < 2 {
		return ""
	}
	if prob >= p.threshold {
		return m.ClassNames[1]
	}
	return m.ClassNames[0]
}

// CacheKey identifies raw audio scored by a given checkpoint
func CacheKey(raw []byte, fingerprint string) string {
	sum := sha256.Sum256(raw)
	fp := fingerprint
	if len(fp) > 16 {
		fp = fp[:16]
	}
	return fp + ":" + hex.EncodeToString(sum[:])
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind.String()
	}
	return "unknown"
}
