package audio

import (
	"fmt"

	resampling "github.com/tphakala/go-audio-resampling"
)

// TargetRate is the sample rate expected by the transcription engine.
const TargetRate = 16000

// Normalize converts a 16-bit PCM WAV chunk to mono 16 kHz WAV. Already
// conformant input is returned unchanged, as is any non-WAV payload
// (compressed containers go to the transcription engine untouched).
func Normalize(chunk []byte) ([]byte, error) {
	if !IsWAV(chunk) {
		return chunk, nil
	}

	info, err := decodeWAV(chunk)
	if err != nil {
		return nil, err
	}
	if info.sampleRate == TargetRate && info.channels == 1 {
		return chunk, nil
	}

	mono := downmix(info.samples, info.channels)
	if info.sampleRate == TargetRate {
		return encodeWAV(mono, TargetRate), nil
	}

	out, err := resample(mono, info.sampleRate, TargetRate)
	if err != nil {
		return nil, err
	}
	return encodeWAV(out, TargetRate), nil
}

// resample converts mono samples between sample rates.
func resample(samples []int16, from, to int) ([]int16, error) {
	rs, err := resampling.New(&resampling.Config{
		InputRate:  float64(from),
		OutputRate: float64(to),
		Channels:   1,
		Quality:    resampling.QualitySpec{Preset: resampling.QualityHigh},
	})
	if err != nil {
		return nil, fmt.Errorf("audio: create resampler: %w", err)
	}

	input := make([]float64, len(samples))
	for i, s := range samples {
		input[i] = float64(s) / 32768.0
	}

	output, err := rs.Process(input)
	if err != nil {
		return nil, fmt.Errorf("audio: resample: %w", err)
	}

	out := make([]int16, len(output))
	for i, f := range output {
		switch {
		case f > 1.0:
			out[i] = 32767
		case f < -1.0:
			out[i] = -32768
		default:
			out[i] = int16(f * 32767.0)
		}
	}
	return out, nil
}
