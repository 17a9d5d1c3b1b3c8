package audio

import (
	"math"
	"testing"
)

// sine generates n interleaved samples of a test tone.
func sine(n, channels, rate int, freq float64) []int16 {
	out := make([]int16, n*channels)
	for i := 0; i < n; i++ {
		v := int16(10000 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		for c := 0; c < channels; c++ {
			out[i*channels+c] = v
		}
	}
	return out
}

func TestWAVRoundTrip(t *testing.T) {
	samples := sine(1600, 1, TargetRate, 440)
	wav := encodeWAV(samples, TargetRate)

	if !IsWAV(wav) {
		t.Fatal("encoded buffer is not recognized as WAV")
	}
	info, err := decodeWAV(wav)
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	if info.sampleRate != TargetRate || info.channels != 1 {
		t.Fatalf("decoded format = %d Hz %d ch", info.sampleRate, info.channels)
	}
	if len(info.samples) != len(samples) {
		t.Fatalf("sample count = %d, want %d", len(info.samples), len(samples))
	}
	for i := range samples {
		if info.samples[i] != samples[i] {
			t.Fatalf("sample %d = %d, want %d", i, info.samples[i], samples[i])
		}
	}
}

func TestNormalizePassthrough(t *testing.T) {
	// Conformant audio comes back unchanged.
	wav := encodeWAV(sine(800, 1, TargetRate, 300), TargetRate)
	out, err := Normalize(wav)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(out) != len(wav) {
		t.Fatalf("conformant WAV was modified: %d -> %d bytes", len(wav), len(out))
	}

	// Non-WAV payloads pass through for the engine to handle.
	ogg := []byte("OggS\x00fake")
	out, err = Normalize(ogg)
	if err != nil {
		t.Fatalf("Normalize non-WAV: %v", err)
	}
	if string(out) != string(ogg) {
		t.Fatal("non-WAV payload was modified")
	}
}

func TestNormalizeDownmix(t *testing.T) {
	n := 400
	stereo := make([]int16, 0, n*2)
	for i := 0; i < n; i++ {
		stereo = append(stereo, 1000, 3000) // L, R
	}
	wav := encodeStereoWAV(t, stereo, TargetRate)

	out, err := Normalize(wav)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	info, err := decodeWAV(out)
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	if info.channels != 1 || info.sampleRate != TargetRate {
		t.Fatalf("normalized format = %d Hz %d ch", info.sampleRate, info.channels)
	}
	if len(info.samples) != n {
		t.Fatalf("sample count = %d, want %d", len(info.samples), n)
	}
	if info.samples[0] != 2000 {
		t.Fatalf("downmixed sample = %d, want 2000", info.samples[0])
	}
}

func TestNormalizeResample(t *testing.T) {
	// One second at 44.1 kHz should come out near one second at 16 kHz.
	in := sine(44100, 1, 44100, 440)
	wav := encodeWAV(in, 44100)

	out, err := Normalize(wav)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	info, err := decodeWAV(out)
	if err != nil {
		t.Fatalf("decodeWAV: %v", err)
	}
	if info.sampleRate != TargetRate {
		t.Fatalf("rate = %d, want %d", info.sampleRate, TargetRate)
	}
	got := len(info.samples)
	if got < TargetRate*8/10 || got > TargetRate*12/10 {
		t.Fatalf("resampled length = %d samples, want ~%d", got, TargetRate)
	}
}

func TestDecodeRejectsNonPCM(t *testing.T) {
	wav := encodeWAV(sine(10, 1, TargetRate, 100), TargetRate)
	wav[20] = 3 // IEEE float format tag
	if _, err := decodeWAV(wav); err == nil {
		t.Fatal("expected error for non-PCM format tag")
	}
}

func encodeStereoWAV(t *testing.T, interleaved []int16, rate int) []byte {
	t.Helper()
	// Build on the mono encoder, then patch channel fields.
	b := encodeWAV(interleaved, rate)
	b[22] = 2                       // channels
	b[32] = 4                       // block align
	putU32(b[28:32], uint32(rate*4)) // byte rate
	return b
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}
