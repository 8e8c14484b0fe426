package audio

import (
	"fmt"
	"io"

	"github.com/dgnsrekt/narrate/internal/ttypes"
	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"
	resampling "github.com/tphakala/go-audio-resampling"
)

// Convert mixes channels and resamples interleaved 16-bit samples from src to dst.
func Convert(samples []int16, src, dst ttypes.Format) ([]int16, error) {
	if src.Channels <= 0 || src.SampleRate <= 0 {
		return nil, fmt.Errorf("invalid source format %+v", src)
	}

	mixed := mixChannels(samples, src.Channels, dst.Channels)
	if src.SampleRate == dst.SampleRate {
		return mixed, nil
	}
	return resample(mixed, src.SampleRate, dst.SampleRate, dst.Channels)
}

// mixChannels averages down to mono or duplicates up from mono.
func mixChannels(samples []int16, from, to int) []int16 {
	if from == to {
		return samples
	}

	frames := len(samples) / from
	out := make([]int16, frames*to)
	for i := range frames {
		frame := samples[i*from : (i+1)*from]

		var sum int32
		for _, s := range frame {
			sum += int32(s)
		}
		mono := int16(sum / int32(from))

		for c := range to {
			if from > 1 && to > 1 && c < from {
				out[i*to+c] = frame[c]
			} else {
				out[i*to+c] = mono
			}
		}
	}
	return out
}

// resample converts the sample rate of each channel separately with a high
// quality polyphase filter. The result is trimmed or padded to the nominal
// frame count so durations survive the conversion.
func resample(samples []int16, fromRate, toRate, channels int) ([]int16, error) {
	if channels <= 0 {
		channels = 1
	}
	frames := len(samples) / channels
	want := int(int64(frames) * int64(toRate) / int64(fromRate))

	out := make([]int16, want*channels)
	input := make([]float64, frames)
	for c := range channels {
		// Deinterleave and normalize to -1.0 .. 1.0
		for i := range frames {
			input[i] = float64(samples[i*channels+c]) / 32768.0
		}

		// ResampleMono processes and flushes the filter tail
		output, err := resampling.ResampleMono(input, float64(fromRate), float64(toRate), resampling.QualityHigh)
		if err != nil {
			return nil, fmt.Errorf("resample channel %d: %w", c, err)
		}

		for i := range min(want, len(output)) {
			out[i*channels+c] = toInt16(output[i])
		}
	}
	return out, nil
}

func toInt16(s float64) int16 {
	switch {
	case s > 1.0:
		return 32767
	case s < -1.0:
		return -32768
	default:
		return int16(s * 32767.0)
	}
}

// EncodeWAV writes buf as a 16-bit RIFF/WAVE file.
func EncodeWAV(buf *ttypes.Buffer) ([]byte, error) {
	data := make([]int, len(buf.Samples))
	for i, s := range buf.Samples {
		data[i] = int(s)
	}

	intBuf := &audio.IntBuffer{
		Format: &audio.Format{
			SampleRate:  buf.Format.SampleRate,
			NumChannels: buf.Format.Channels,
		},
		Data:           data,
		SourceBitDepth: 16,
	}

	wavFile := &writerseeker.WriterSeeker{}
	encoder := wav.NewEncoder(wavFile, buf.Format.SampleRate, 16, buf.Format.Channels, 1)

	if err := encoder.Write(intBuf); err != nil {
		return nil, fmt.Errorf("write wav: %w", err)
	}

	if err := encoder.Close(); err != nil {
		return nil, fmt.Errorf("close wav encoder: %w", err)
	}

	b, err := io.ReadAll(wavFile.Reader())
	if err != nil {
		return nil, fmt.Errorf("read encoded wav: %w", err)
	}
	return b, nil
}
