// Package audio turns uploaded audio bytes into the fixed-rate, fixed-length
// mono waveform the screening model was trained on.
package audio

import (
	"context"
	"fmt"
	"math"

	resampling "github.com/tphakala/go-audio-resampling"

	"github.com/SyedDaiam9101/neurotone-service/internal/logger"
)

// PreprocessError reports a failure after decoding, tagged with the step.
type PreprocessError struct {
	Step string
	Err  error
}

func (e *PreprocessError) Error() string {
	return fmt.Sprintf("preprocess audio (%s): %v", e.Step, e.Err)
}

func (e *PreprocessError) Unwrap() error { return e.Err }

// Waveform is mono audio at the normalizer's rate and length.
type Waveform struct {
	SampleRate int
	Samples    []float32
}

// Clip views the waveform as a single channel clip
func (w Waveform) Clip() Clip {
	return Clip{SampleRate: w.SampleRate, Channels: [][]float32{w.Samples}}
}

// Normalizer decodes, resamples, downmixes and pads or truncates audio.
// It holds no per-request state and is safe for concurrent use.
type Normalizer struct {
	rate     int
	length   int
	decoders []Decoder
	log      *logger.Logger
}

// Option configures a Normalizer
type Option func(*Normalizer)

// WithDecoders replaces the default decoder list
func WithDecoders(d ...Decoder) Option {
	return func(n *Normalizer) { n.decoders = d }
}

// WithLogger sets the logger used for diagnostic events
func WithLogger(l *logger.Logger) Option {
	return func(n *Normalizer) { n.log = l }
}

// NewNormalizer returns a Normalizer producing length samples at rate Hz
func NewNormalizer(rate, length int, opts ...Option) (*Normalizer, error) {
	if rate <= 0 {
		return nil, fmt.Errorf("invalid target sample rate %d", rate)
	}
	if length <= 0 {
		return nil, fmt.Errorf("invalid target length %d", length)
	}
	n := &Normalizer{
		rate:     rate,
		length:   length,
		decoders: DefaultDecoders(),
		log:      logger.Nop(),
	}
	for _, o := range opts {
		o(n)
	}
	return n, nil
}

// SampleRate returns the target rate
func (n *Normalizer) SampleRate() int { return n.rate }

// Length returns the target length in samples
func (n *Normalizer) Length() int { return n.length }

// Normalize decodes raw and normalizes the result. Decoding failures are
// *DecodeError, later failures *PreprocessError.
func (n *Normalizer) Normalize(ctx context.Context, raw []byte) (Waveform, error) {
	clip, format, err := decode(n.decoders, raw)
	if err != nil {
		return Waveform{}, err
	}
	logger.C(ctx, n.log).Debug().
		Str("format", format).
		Int("sample_rate", clip.SampleRate).
		Int("channels", len(clip.Channels)).
		Int("frames", clip.Frames()).
		Msg("audio decoded")
	return n.NormalizeClip(ctx, clip)
}

// NormalizeClip applies resampling, channel reduction and length fitting
// to an already decoded clip.
func (n *Normalizer) NormalizeClip(ctx context.Context, clip Clip) (Waveform, error) {
	log := logger.C(ctx, n.log)
	if len(clip.Channels) == 0 {
		return Waveform{}, &PreprocessError{Step: "mono", Err: fmt.Errorf("clip has no channels")}
	}
	frames := clip.Frames()
	for i, ch := range clip.Channels {
		if len(ch) != frames {
			return Waveform{}, &PreprocessError{Step: "mono", Err: fmt.Errorf("channel %d has %d samples, channel 0 has %d", i, len(ch), frames)}
		}
	}

	channels := clip.Channels
	if clip.SampleRate != n.rate {
		log.Debug().Int("from_hz", clip.SampleRate).Int("to_hz", n.rate).Msg("resampling")
		resampled := make([][]float32, len(channels))
		for i, ch := range channels {
			out, err := Resample(ch, clip.SampleRate, n.rate)
			if err != nil {
				return Waveform{}, &PreprocessError{Step: "resample", Err: err}
			}
			resampled[i] = out
		}
		channels = resampled
	}

	mono := channels[0]
	if len(channels) > 1 {
		log.Debug().Int("channels", len(channels)).Msg("converting to mono")
		mono = Mixdown(channels)
	}

	samples := FitLength(mono, n.length)
	switch {
	case len(mono) > n.length:
		log.Debug().Int("from", len(mono)).Int("to", n.length).Msg("truncating waveform")
	case len(mono) < n.length:
		log.Debug().Int("padding", n.length-len(mono)).Msg("padding waveform with zeros")
	}
	return Waveform{SampleRate: n.rate, Samples: samples}, nil
}

// Resample converts samples from one rate to another with a band-limited
// resampler. The output always holds round(len*to/from) samples.
func Resample(samples []float32, from, to int) ([]float32, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid rates %d -> %d", from, to)
	}
	want := int(math.Round(float64(len(samples)) * float64(to) / float64(from)))
	if from == to || len(samples) == 0 {
		out := make([]float32, want)
		copy(out, samples)
		return out, nil
	}

	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("create resampler: %w", err)
	}

	in := make([]float64, len(samples))
	for i, s := range samples {
		in[i] = float64(s)
	}
	res, err := rs.Process(in)
	if err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}
	// drain the samples still held in the filter delay line
	tail, err := rs.Flush()
	if err != nil {
		return nil, fmt.Errorf("resample flush: %w", err)
	}
	res = append(res, tail...)

	out := make([]float32, want)
	for i := 0; i < want && i < len(res); i++ {
		out[i] = float32(res[i])
	}
	return out, nil
}

// Mixdown averages channels sample by sample. Accumulation is float64 in
// channel order so the result is reproducible bit for bit.
func Mixdown(channels [][]float32) []float32 {
	if len(channels) == 0 {
		return nil
	}
	n := float64(len(channels))
	out := make([]float32, len(channels[0]))
	for i := range out {
		var sum float64
		for _, ch := range channels {
			sum += float64(ch[i])
		}
		out[i] = float32(sum / n)
	}
	return out
}

// FitLength keeps the first length samples or zero-pads at the end. The
// result never aliases samples.
func FitLength(samples []float32, length int) []float32 {
	out := make([]float32, length)
	copy(out, samples)
	return out
}
