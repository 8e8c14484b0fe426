package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"mime"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dgnsrekt/narrate/internal/ttypes"
	"github.com/go-audio/wav"
	"github.com/hajimehoshi/go-mp3"
)

var (
	// ErrUnknownFormat is returned when the container cannot be recognized
	ErrUnknownFormat = errors.New("unrecognized audio format")

	// ErrUnsupportedMIME is returned for media types the codec cannot decode
	ErrUnsupportedMIME = errors.New("unsupported audio media type")

	// ErrNoAudio is returned when decoding yields no samples
	ErrNoAudio = errors.New("decoded audio contains no samples")
)

// Container identifies an encoded audio container.
type Container string

const (
	ContainerUnknown Container = ""
	ContainerWAV     Container = "wav"
	ContainerMP3     Container = "mp3"
	ContainerPCM     Container = "pcm"
)

// Codec decodes WAV, MP3 and raw L16 PCM into buffers in the output format.
// It implements ttypes.AudioDecoder.
type Codec struct {
	output ttypes.Format
	raw    ttypes.Format // Assumed format of audio/L16 without parameters
	logger *log.Logger
}

// NewCodec creates a codec converting everything to output.
func NewCodec(output ttypes.Format) *Codec {
	return &Codec{
		output: output,
		raw:    ttypes.Format{SampleRate: 24000, Channels: 1},
		logger: log.Default().WithPrefix("codec"),
	}
}

// SetRawFormat sets the format assumed for parameterless audio/L16 blobs.
func (c *Codec) SetRawFormat(f ttypes.Format) {
	c.raw = f
}

// Sniff inspects the leading bytes of data.
func Sniff(data []byte) Container {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return ContainerWAV
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return ContainerMP3
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		// MPEG frame sync
		return ContainerMP3
	default:
		return ContainerUnknown
	}
}

// Decode sniffs the container and decodes data to the output format.
func (c *Codec) Decode(ctx context.Context, data []byte) (*ttypes.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	switch container := Sniff(data); container {
	case ContainerWAV:
		return c.decodeWAV(data)
	case ContainerMP3:
		return c.decodeMP3(data)
	default:
		return nil, fmt.Errorf("%w (%d bytes)", ErrUnknownFormat, len(data))
	}
}

// DecodeBlob decodes using the blob's declared media type without sniffing.
func (c *Codec) DecodeBlob(ctx context.Context, blob ttypes.Blob) (*ttypes.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mediaType, params, err := mime.ParseMediaType(blob.MIMEType)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrUnsupportedMIME, blob.MIMEType, err)
	}

	switch strings.ToLower(mediaType) {
	case "audio/wav", "audio/x-wav", "audio/wave", "audio/vnd.wave":
		return c.decodeWAV(blob.Data)
	case "audio/mpeg", "audio/mp3", "audio/mpeg3":
		return c.decodeMP3(blob.Data)
	case "audio/l16", "audio/pcm":
		src := c.raw
		if rate, err := strconv.Atoi(params["rate"]); err == nil && rate > 0 {
			src.SampleRate = rate
		}
		if ch, err := strconv.Atoi(params["channels"]); err == nil && ch > 0 {
			src.Channels = ch
		}
		// audio/L16 is big endian by RFC 2586; audio/pcm is little endian.
		order := binary.ByteOrder(binary.LittleEndian)
		if strings.EqualFold(mediaType, "audio/l16") {
			order = binary.BigEndian
		}
		return c.decodePCM(blob.Data, src, order)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedMIME, mediaType)
	}
}

// decodeWAV reads a RIFF/WAVE file of any integer bit depth.
func (c *Codec) decodeWAV(data []byte) (*ttypes.Buffer, error) {
	decoder := wav.NewDecoder(bytes.NewReader(data))
	if !decoder.IsValidFile() {
		return nil, fmt.Errorf("invalid wav file: %w", ErrUnknownFormat)
	}

	pcm, err := decoder.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("read full pcm buffer: %w", err)
	}
	if pcm == nil || len(pcm.Data) == 0 {
		return nil, ErrNoAudio
	}

	depth := pcm.SourceBitDepth
	if depth == 0 {
		depth = int(decoder.BitDepth)
	}

	samples := make([]int16, len(pcm.Data))
	for i, v := range pcm.Data {
		samples[i] = scaleTo16(v, depth)
	}

	src := ttypes.Format{
		SampleRate: pcm.Format.SampleRate,
		Channels:   pcm.Format.NumChannels,
	}
	return c.finish(samples, src, ContainerWAV)
}

// decodeMP3 decodes MPEG audio. go-mp3 always yields 16-bit LE stereo.
func (c *Codec) decodeMP3(data []byte) (*ttypes.Buffer, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create mp3 decoder: %w", err)
	}

	pcm, err := io.ReadAll(decoder)
	if err != nil {
		return nil, fmt.Errorf("decode mp3: %w", err)
	}

	src := ttypes.Format{SampleRate: decoder.SampleRate(), Channels: 2}
	return c.finish(bytesToSamples(pcm, binary.LittleEndian), src, ContainerMP3)
}

// decodePCM interprets data as headerless 16-bit PCM in src format.
func (c *Codec) decodePCM(data []byte, src ttypes.Format, order binary.ByteOrder) (*ttypes.Buffer, error) {
	if len(data)%2 != 0 {
		data = data[:len(data)-1]
	}
	return c.finish(bytesToSamples(data, order), src, ContainerPCM)
}

// finish converts decoded samples to the output format.
func (c *Codec) finish(samples []int16, src ttypes.Format, container Container) (*ttypes.Buffer, error) {
	if len(samples) == 0 {
		return nil, ErrNoAudio
	}

	out, err := Convert(samples, src, c.output)
	if err != nil {
		return nil, fmt.Errorf("convert %s audio: %w", container, err)
	}
	if len(out) == 0 {
		return nil, ErrNoAudio
	}

	c.logger.Debug("Decoded audio",
		"container", container,
		"source_rate", src.SampleRate,
		"source_channels", src.Channels,
		"samples", len(out))

	return &ttypes.Buffer{Format: c.output, Samples: out}, nil
}

func bytesToSamples(data []byte, order binary.ByteOrder) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(order.Uint16(data[i*2:]))
	}
	return samples
}

// scaleTo16 maps an integer sample of the given bit depth to 16 bits.
func scaleTo16(v, depth int) int16 {
	switch depth {
	case 8:
		// 8-bit WAV is unsigned
		return int16((v - 128) << 8)
	case 24:
		return int16(v >> 8)
	case 32:
		return int16(v >> 16)
	default:
		return int16(v)
	}
}
