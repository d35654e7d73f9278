package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var (
	// ErrEmptyInput is returned for a zero-length upload
	ErrEmptyInput = errors.New("empty audio buffer")
	// ErrUnrecognizedFormat is returned when no decoder claims the bytes
	ErrUnrecognizedFormat = errors.New("unrecognized audio container")
)

// DecodeError reports bytes that could not be parsed as audio.
type DecodeError struct {
	Format string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Format == "" {
		return fmt.Sprintf("decode audio: %v", e.Err)
	}
	return fmt.Sprintf("decode %s audio: %v", e.Format, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// Clip is decoded audio at its original rate with planar float samples.
type Clip struct {
	SampleRate int
	Channels   [][]float32
}

// Frames returns the number of samples per channel
func (c Clip) Frames() int {
	if len(c.Channels) == 0 {
		return 0
	}
	return len(c.Channels[0])
}

// Decoder turns a container format into a Clip.
type Decoder interface {
	// Name identifies the container in logs and errors
	Name() string
	// Sniff reports whether raw looks like this container
	Sniff(raw []byte) bool
	Decode(raw []byte) (Clip, error)
}

// DefaultDecoders returns the decoders tried by a Normalizer, in order
func DefaultDecoders() []Decoder {
	return []Decoder{WAVDecoder{}, MP3Decoder{}}
}

// decode picks the first decoder that sniffs raw and wraps every failure
// in a DecodeError.
func decode(decoders []Decoder, raw []byte) (Clip, string, error) {
	if len(raw) == 0 {
		return Clip{}, "", &DecodeError{Err: ErrEmptyInput}
	}
	for _, d := range decoders {
		if !d.Sniff(raw) {
			continue
		}
		clip, err := d.Decode(raw)
		if err != nil {
			return Clip{}, d.Name(), &DecodeError{Format: d.Name(), Err: err}
		}
		if clip.SampleRate <= 0 {
			return Clip{}, d.Name(), &DecodeError{Format: d.Name(), Err: fmt.Errorf("invalid sample rate %d", clip.SampleRate)}
		}
		if len(clip.Channels) == 0 {
			return Clip{}, d.Name(), &DecodeError{Format: d.Name(), Err: errors.New("no channels")}
		}
		return clip, d.Name(), nil
	}
	return Clip{}, "", &DecodeError{Err: ErrUnrecognizedFormat}
}

// WAV format tags
const (
	wavFormatPCM        = 0x0001
	wavFormatFloat      = 0x0003
	wavFormatExtensible = 0xFFFE
)

// WAVDecoder decodes RIFF/WAVE integer PCM and IEEE float, plain or in
// a WAVE_FORMAT_EXTENSIBLE header.
type WAVDecoder struct{}

func (WAVDecoder) Name() string { return "wav" }

func (WAVDecoder) Sniff(raw []byte) bool {
	return len(raw) >= 4 && string(raw[:4]) == "RIFF"
}

func (WAVDecoder) Decode(raw []byte) (Clip, error) {
	d := wav.NewDecoder(bytes.NewReader(raw))
	if !d.IsValidFile() {
		if err := d.Err(); err != nil {
			return Clip{}, fmt.Errorf("invalid header: %w", err)
		}
		return Clip{}, errors.New("invalid header")
	}
	layout, err := scanWAV(raw)
	if err != nil {
		return Clip{}, err
	}

	switch layout.format {
	case wavFormatPCM:
		return decodeIntPCM(d)
	case wavFormatFloat:
		return decodeFloat(layout.data, int(d.SampleRate), int(d.NumChans), int(d.BitDepth))
	default:
		return Clip{}, fmt.Errorf("unsupported format tag %#04x", layout.format)
	}
}

type wavLayout struct {
	// format is the effective tag, the subformat for extensible files
	format uint16
	data   []byte
}

// scanWAV walks the RIFF chunks for the format tag and the data chunk
func scanWAV(raw []byte) (wavLayout, error) {
	if len(raw) < 12 || string(raw[8:12]) != "WAVE" {
		return wavLayout{}, errors.New("not a WAVE file")
	}
	var (
		l       wavLayout
		haveFmt bool
	)
	for off := 12; off+8 <= len(raw); {
		id := string(raw[off : off+4])
		size := uint64(binary.LittleEndian.Uint32(raw[off+4 : off+8]))
		body := raw[off+8:]
		if size < uint64(len(body)) {
			body = body[:size]
		}
		switch id {
		case "fmt ":
			if len(body) < 16 {
				return wavLayout{}, fmt.Errorf("fmt chunk too short (%d bytes)", len(body))
			}
			l.format = binary.LittleEndian.Uint16(body[0:2])
			if l.format == wavFormatExtensible {
				if len(body) < 40 {
					return wavLayout{}, fmt.Errorf("extensible fmt chunk too short (%d bytes)", len(body))
				}
				l.format = binary.LittleEndian.Uint16(body[24:26])
			}
			haveFmt = true
		case "data":
			l.data = body
		}
		off += 8 + len(body) + len(body)&1
	}
	if !haveFmt {
		return wavLayout{}, errors.New("missing fmt chunk")
	}
	return l, nil
}

func decodeIntPCM(d *wav.Decoder) (Clip, error) {
	buf, err := d.FullPCMBuffer()
	if err != nil {
		return Clip{}, fmt.Errorf("read pcm: %w", err)
	}
	if buf == nil || buf.Format == nil {
		return Clip{}, errors.New("missing pcm chunk")
	}

	numCh := buf.Format.NumChannels
	if numCh <= 0 {
		return Clip{}, fmt.Errorf("invalid channel count %d", numCh)
	}
	depth := int(d.BitDepth)
	var offset, scale float64
	switch depth {
	case 8:
		// 8-bit WAV samples are unsigned
		offset, scale = 128, 128
	case 16, 24, 32:
		scale = float64(int64(1) << (depth - 1))
	default:
		return Clip{}, fmt.Errorf("unsupported bit depth %d", depth)
	}

	frames := len(buf.Data) / numCh
	ch := make([][]float32, numCh)
	for c := range ch {
		ch[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < numCh; c++ {
			ch[c][i] = float32((float64(buf.Data[i*numCh+c]) - offset) / scale)
		}
	}
	return Clip{SampleRate: buf.Format.SampleRate, Channels: ch}, nil
}

// decodeFloat reads interleaved little endian IEEE float samples as is
func decodeFloat(data []byte, rate, numCh, depth int) (Clip, error) {
	if numCh <= 0 {
		return Clip{}, fmt.Errorf("invalid channel count %d", numCh)
	}
	if depth != 32 && depth != 64 {
		return Clip{}, fmt.Errorf("unsupported float bit depth %d", depth)
	}
	if len(data) == 0 {
		return Clip{}, errors.New("missing pcm chunk")
	}
	width := depth / 8
	frames := len(data) / (width * numCh)
	ch := make([][]float32, numCh)
	for c := range ch {
		ch[c] = make([]float32, frames)
	}
	for i := 0; i < frames; i++ {
		for c := 0; c < numCh; c++ {
			b := data[(i*numCh+c)*width:]
			if width == 4 {
				ch[c][i] = math.Float32frombits(binary.LittleEndian.Uint32(b))
			} else {
				ch[c][i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(b)))
			}
		}
	}
	return Clip{SampleRate: rate, Channels: ch}, nil
}

// MP3Decoder decodes MPEG-1/2 layer III. The underlying decoder always
// yields 16-bit stereo, so mono sources come back as two equal channels.
type MP3Decoder struct{}

func (MP3Decoder) Name() string { return "mp3" }

func (MP3Decoder) Sniff(raw []byte) bool {
	if len(raw) >= 3 && string(raw[:3]) == "ID3" {
		return true
	}
	return len(raw) >= 2 && raw[0] == 0xFF && raw[1]&0xE0 == 0xE0
}

func (MP3Decoder) Decode(raw []byte) (Clip, error) {
	d, err := mp3.NewDecoder(bytes.NewReader(raw))
	if err != nil {
		return Clip{}, err
	}
	pcm, err := io.ReadAll(d)
	if err != nil {
		return Clip{}, fmt.Errorf("read frames: %w", err)
	}

	frames := len(pcm) / 4
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := 0; i < frames; i++ {
		j := i * 4
		l := int16(uint16(pcm[j]) | uint16(pcm[j+1])<<8)
		r := int16(uint16(pcm[j+2]) | uint16(pcm[j+3])<<8)
		left[i] = float32(l) / 32768
		right[i] = float32(r) / 32768
	}
	return Clip{SampleRate: d.SampleRate(), Channels: [][]float32{left, right}}, nil
}
