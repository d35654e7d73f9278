// Package audiotest builds WAV fixtures for tests.
package audiotest

import (
	"bytes"
	"encoding/binary"
	"math"
	"os"
	"testing"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// WAV encodes one int slice per channel as 16-bit PCM and returns the
// file bytes. All channels must have the same length.
func WAV(t testing.TB, rate int, channels ...[]int) []byte {
	t.Helper()
	return WAVDepth(t, rate, 16, channels...)
}

// WAVDepth is WAV with an explicit bit depth
func WAVDepth(t testing.TB, rate, depth int, channels ...[]int) []byte {
	t.Helper()
	if len(channels) == 0 {
		t.Fatal("audiotest: at least one channel required")
	}
	frames := len(channels[0])
	data := make([]int, 0, frames*len(channels))
	for i := 0; i < frames; i++ {
		for _, ch := range channels {
			data = append(data, ch[i])
		}
	}

	f, err := os.CreateTemp(t.TempDir(), "fixture-*.wav")
	if err != nil {
		t.Fatalf("audiotest: create temp: %v", err)
	}
	defer f.Close()

	enc := wav.NewEncoder(f, rate, depth, len(channels), 1)
	buf := &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: len(channels), SampleRate: rate},
		Data:           data,
		SourceBitDepth: depth,
	}
	if err := enc.Write(buf); err != nil {
		t.Fatalf("audiotest: write samples: %v", err)
	}
	if err := enc.Close(); err != nil {
		t.Fatalf("audiotest: close encoder: %v", err)
	}

	raw, err := os.ReadFile(f.Name())
	if err != nil {
		t.Fatalf("audiotest: read back: %v", err)
	}
	return raw
}

// FloatWAV encodes channels as 32-bit IEEE float (format tag 3)
func FloatWAV(t testing.TB, rate int, channels ...[]float32) []byte {
	t.Helper()
	if len(channels) == 0 {
		t.Fatal("audiotest: at least one channel required")
	}
	var data bytes.Buffer
	for i := range channels[0] {
		for _, ch := range channels {
			_ = binary.Write(&data, binary.LittleEndian, math.Float32bits(ch[i]))
		}
	}
	return riff(fmtChunk(3, len(channels), rate, 32), data.Bytes())
}

// ExtensibleWAV encodes integer PCM behind a WAVE_FORMAT_EXTENSIBLE header
// with the PCM subformat. Depth must be 16, 24 or 32.
func ExtensibleWAV(t testing.TB, rate, depth int, channels ...[]int) []byte {
	t.Helper()
	if len(channels) == 0 {
		t.Fatal("audiotest: at least one channel required")
	}
	var data bytes.Buffer
	width := depth / 8
	for i := range channels[0] {
		for _, ch := range channels {
			var b [4]byte
			binary.LittleEndian.PutUint32(b[:], uint32(int32(ch[i])))
			data.Write(b[:width])
		}
	}

	f := fmtChunk(0xFFFE, len(channels), rate, depth)
	ext := make([]byte, 24)
	binary.LittleEndian.PutUint16(ext[0:], 22)            // cbSize
	binary.LittleEndian.PutUint16(ext[2:], uint16(depth)) // valid bits
	binary.LittleEndian.PutUint32(ext[4:], 0)             // channel mask
	copy(ext[8:], pcmSubformat)
	return riff(append(f, ext...), data.Bytes())
}

// KSDATAFORMAT_SUBTYPE_PCM
var pcmSubformat = []byte{
	0x01, 0x00, 0x00, 0x00, 0x00, 0x00, 0x10, 0x00,
	0x80, 0x00, 0x00, 0xAA, 0x00, 0x38, 0x9B, 0x71,
}

func fmtChunk(tag, numCh, rate, depth int) []byte {
	block := numCh * depth / 8
	b := make([]byte, 16)
	binary.LittleEndian.PutUint16(b[0:], uint16(tag))
	binary.LittleEndian.PutUint16(b[2:], uint16(numCh))
	binary.LittleEndian.PutUint32(b[4:], uint32(rate))
	binary.LittleEndian.PutUint32(b[8:], uint32(rate*block))
	binary.LittleEndian.PutUint16(b[12:], uint16(block))
	binary.LittleEndian.PutUint16(b[14:], uint16(depth))
	return b
}

func riff(fmtBody, data []byte) []byte {
	var out bytes.Buffer
	chunk := func(id string, body []byte) {
		out.WriteString(id)
		_ = binary.Write(&out, binary.LittleEndian, uint32(len(body)))
		out.Write(body)
		if len(body)%2 == 1 {
			out.WriteByte(0)
		}
	}
	out.WriteString("RIFF")
	_ = binary.Write(&out, binary.LittleEndian, uint32(0))
	out.WriteString("WAVE")
	chunk("fmt ", fmtBody)
	chunk("data", data)
	raw := out.Bytes()
	binary.LittleEndian.PutUint32(raw[4:], uint32(len(raw)-8))
	return raw
}

// SilentMP3 returns frames MPEG-1 layer III frames of mono silence at
// 44.1 kHz and 128 kbps. Every side info and main data bit is zero.
func SilentMP3(frames int) []byte {
	const frameLen = 144 * 128000 / 44100
	out := make([]byte, 0, frames*frameLen)
	for i := 0; i < frames; i++ {
		frame := make([]byte, frameLen)
		copy(frame, []byte{0xFF, 0xFB, 0x90, 0xC0})
		out = append(out, frame...)
	}
	return out
}

// Sine returns frames samples of a 16-bit sine wave with the given period
// in samples and peak amplitude.
func Sine(frames, period, amplitude int) []int {
	out := make([]int, frames)
	for i := range out {
		out[i] = int(math.Round(float64(amplitude) * math.Sin(2*math.Pi*float64(i)/float64(period))))
	}
	return out
}

// Ramp returns frames samples rising by step from start
func Ramp(frames, start, step int) []int {
	out := make([]int, frames)
	for i := range out {
		out[i] = start + i*step
	}
	return out
}
