package audio

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/SyedDaiam9101/neurotone-service/internal/audio/audiotest"
)

const (
	testRate   = 16000
	testLength = 160000
)

func newTestNormalizer(t *testing.T, rate, length int) *Normalizer {
	t.Helper()
	n, err := NewNormalizer(rate, length)
	if err != nil {
		t.Fatalf("NewNormalizer failed: %v", err)
	}
	return n
}

func scaled(v int) float32 {
	return float32(float64(v) / 32768)
}

func TestNormalize_LengthIsAlwaysTarget(t *testing.T) {
	n := newTestNormalizer(t, testRate, 1600)

	tests := []struct {
		name   string
		frames int
	}{
		{name: "shorter", frames: 100},
		{name: "equal", frames: 1600},
		{name: "longer", frames: 5000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			raw := audiotest.WAV(t, testRate, audiotest.Sine(tt.frames, 50, 8000))
			w, err := n.Normalize(context.Background(), raw)
			if err != nil {
				t.Fatalf("Normalize failed: %v", err)
			}
			if len(w.Samples) != 1600 {
				t.Errorf("len(Samples) = %d, expected 1600", len(w.Samples))
			}
			if w.SampleRate != testRate {
				t.Errorf("SampleRate = %d, expected %d", w.SampleRate, testRate)
			}
		})
	}
}

func TestNormalize_PadsWithTrailingZeros(t *testing.T) {
	n := newTestNormalizer(t, testRate, 10)
	src := []int{100, -200, 300, -400}

	w, err := n.Normalize(context.Background(), audiotest.WAV(t, testRate, src))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	for i, v := range src {
		if w.Samples[i] != scaled(v) {
			t.Errorf("Samples[%d] = %v, expected %v", i, w.Samples[i], scaled(v))
		}
	}
	for i := len(src); i < 10; i++ {
		if w.Samples[i] != 0 {
			t.Errorf("Samples[%d] = %v, expected zero padding", i, w.Samples[i])
		}
	}
}

func TestNormalize_TruncatesKeepingFirstSamples(t *testing.T) {
	n := newTestNormalizer(t, testRate, 3)
	src := []int{1, 2, 3, 4, 5, 6}

	w, err := n.Normalize(context.Background(), audiotest.WAV(t, testRate, src))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	expected := []float32{scaled(1), scaled(2), scaled(3)}
	for i, v := range expected {
		if w.Samples[i] != v {
			t.Errorf("Samples[%d] = %v, expected %v", i, w.Samples[i], v)
		}
	}
}

func TestNormalize_StereoIsElementwiseMean(t *testing.T) {
	n := newTestNormalizer(t, testRate, 400)
	left := audiotest.Sine(400, 40, 12000)
	right := audiotest.Sine(400, 25, -7000)

	w, err := n.Normalize(context.Background(), audiotest.WAV(t, testRate, left, right))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	for i := range left {
		expected := float32((float64(scaled(left[i])) + float64(scaled(right[i]))) / 2)
		if w.Samples[i] != expected {
			t.Fatalf("Samples[%d] = %v, expected exact mean %v", i, w.Samples[i], expected)
		}
	}
}

func TestNormalize_IsIdempotent(t *testing.T) {
	n := newTestNormalizer(t, testRate, 800)
	raw := audiotest.WAV(t, testRate, audiotest.Sine(500, 33, 9000))

	first, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	second, err := n.NormalizeClip(context.Background(), first.Clip())
	if err != nil {
		t.Fatalf("NormalizeClip failed: %v", err)
	}

	if len(second.Samples) != len(first.Samples) {
		t.Fatalf("length changed: %d -> %d", len(first.Samples), len(second.Samples))
	}
	for i := range first.Samples {
		if first.Samples[i] != second.Samples[i] {
			t.Fatalf("Samples[%d] changed: %v -> %v", i, first.Samples[i], second.Samples[i])
		}
	}
}

func TestNormalize_EightKilohertzFiveSecondClip(t *testing.T) {
	n := newTestNormalizer(t, testRate, testLength)
	raw := audiotest.WAV(t, 8000, audiotest.Sine(5*8000, 80, 10000))

	clip, _, err := decode(DefaultDecoders(), raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	resampled, err := Resample(clip.Channels[0], clip.SampleRate, testRate)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(resampled) != 80000 {
		t.Errorf("resampled length = %d, expected 80000", len(resampled))
	}

	w, err := n.Normalize(context.Background(), raw)
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(w.Samples) != testLength {
		t.Fatalf("len(Samples) = %d, expected %d", len(w.Samples), testLength)
	}
	for i := 80000; i < testLength; i++ {
		if w.Samples[i] != 0 {
			t.Fatalf("Samples[%d] = %v, expected zero padding after resampled audio", i, w.Samples[i])
		}
	}
}

func TestResample_KeepsSignalUpToTheEnd(t *testing.T) {
	// 500 Hz at 8 kHz is 16 samples per period, 32 after upsampling
	const amplitude = 0.5
	src := make([]float32, 8000)
	for i := range src {
		src[i] = float32(amplitude * math.Sin(2*math.Pi*float64(i)/16))
	}

	out, err := Resample(src, 8000, testRate)
	if err != nil {
		t.Fatalf("Resample failed: %v", err)
	}
	if len(out) != 16000 {
		t.Fatalf("len = %d, expected 16000", len(out))
	}

	// four whole periods just before the end, clear of the edge transient
	var sum float64
	window := out[len(out)-144 : len(out)-16]
	for _, v := range window {
		sum += float64(v) * float64(v)
	}
	rms := math.Sqrt(sum / float64(len(window)))
	want := amplitude / math.Sqrt2
	if math.Abs(rms-want) > 0.15*want {
		t.Errorf("tail rms = %.4f, expected about %.4f", rms, want)
	}
}

func TestNormalize_FifteenSecondStereoClip(t *testing.T) {
	n := newTestNormalizer(t, testRate, testLength)
	frames := 15 * testRate
	left := audiotest.Sine(frames, 160, 6000)
	right := audiotest.Sine(frames, 90, 3000)

	w, err := n.Normalize(context.Background(), audiotest.WAV(t, testRate, left, right))
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if len(w.Samples) != testLength {
		t.Fatalf("len(Samples) = %d, expected %d", len(w.Samples), testLength)
	}
	last := testLength - 1
	expected := float32((float64(scaled(left[last])) + float64(scaled(right[last]))) / 2)
	if w.Samples[last] != expected {
		t.Errorf("last sample = %v, expected %v from the first ten seconds", w.Samples[last], expected)
	}
}

func TestNormalize_MalformedInput(t *testing.T) {
	n := newTestNormalizer(t, testRate, 100)
	valid := audiotest.WAV(t, testRate, audiotest.Sine(100, 10, 1000))

	tests := []struct {
		name string
		raw  []byte
	}{
		{name: "empty", raw: nil},
		{name: "truncated riff header", raw: []byte("RIFF\x10\x00")},
		{name: "header only", raw: valid[:20]},
		{name: "not audio", raw: []byte("definitely not an audio file")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := n.Normalize(context.Background(), tt.raw)
			if err == nil {
				t.Fatal("Expected error for malformed input, got nil")
			}
			var de *DecodeError
			if !errors.As(err, &de) {
				t.Errorf("Expected *DecodeError, got %T: %v", err, err)
			}
		})
	}
}

func TestNormalize_EmptyInputIsErrEmptyInput(t *testing.T) {
	n := newTestNormalizer(t, testRate, 100)
	_, err := n.Normalize(context.Background(), []byte{})
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Expected ErrEmptyInput, got %v", err)
	}
}

func TestNormalizeClip_MismatchedChannelsIsPreprocessError(t *testing.T) {
	n := newTestNormalizer(t, testRate, 100)
	clip := Clip{SampleRate: testRate, Channels: [][]float32{{1, 2, 3}, {1}}}

	_, err := n.NormalizeClip(context.Background(), clip)
	var pe *PreprocessError
	if !errors.As(err, &pe) {
		t.Fatalf("Expected *PreprocessError, got %v", err)
	}
	if pe.Step != "mono" {
		t.Errorf("Step = %q, expected mono", pe.Step)
	}
}

func TestFitLength(t *testing.T) {
	tests := []struct {
		name   string
		in     []float32
		length int
		want   []float32
	}{
		{name: "pad", in: []float32{1, 2}, length: 4, want: []float32{1, 2, 0, 0}},
		{name: "truncate", in: []float32{1, 2, 3, 4}, length: 2, want: []float32{1, 2}},
		{name: "equal", in: []float32{1, 2}, length: 2, want: []float32{1, 2}},
		{name: "empty", in: nil, length: 3, want: []float32{0, 0, 0}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FitLength(tt.in, tt.length)
			if len(got) != len(tt.want) {
				t.Fatalf("len = %d, want %d", len(got), len(tt.want))
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("got[%d] = %v, want %v", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMixdown_ThreeChannels(t *testing.T) {
	got := Mixdown([][]float32{{3, 0}, {6, 1}, {9, 2}})
	want := []float32{6, 1}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("got[%d] = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestNewNormalizer_RejectsInvalidTargets(t *testing.T) {
	if _, err := NewNormalizer(0, 10); err == nil {
		t.Error("Expected error for zero sample rate")
	}
	if _, err := NewNormalizer(16000, 0); err == nil {
		t.Error("Expected error for zero length")
	}
}
