// Package audio normalizes incoming audio chunks for transcription:
// 16-bit PCM WAV input is downmixed to mono and resampled to 16 kHz.
// Container formats other than WAV pass through untouched; the
// transcription engine accepts them directly.
package audio

import (
	"encoding/binary"
	"fmt"
)

const (
	riffHeaderSize = 44

	pcmFormatTag = 1
)

// wavInfo describes a decoded 16-bit PCM WAV payload.
type wavInfo struct {
	sampleRate int
	channels   int
	samples    []int16 // interleaved
}

// IsWAV reports whether the buffer starts with a RIFF/WAVE header.
func IsWAV(b []byte) bool {
	return len(b) >= 12 && string(b[0:4]) == "RIFF" && string(b[8:12]) == "WAVE"
}

// decodeWAV parses a 16-bit PCM WAV file into interleaved samples.
func decodeWAV(b []byte) (*wavInfo, error) {
	if !IsWAV(b) {
		return nil, fmt.Errorf("audio: not a RIFF/WAVE file")
	}

	info := &wavInfo{}
	pos := 12
	var haveFmt, haveData bool
	for pos+8 <= len(b) {
		chunkID := string(b[pos : pos+4])
		chunkLen := int(binary.LittleEndian.Uint32(b[pos+4 : pos+8]))
		body := pos + 8
		if body+chunkLen > len(b) {
			chunkLen = len(b) - body
		}

		switch chunkID {
		case "fmt ":
			if chunkLen < 16 {
				return nil, fmt.Errorf("audio: fmt chunk too short (%d bytes)", chunkLen)
			}
			formatTag := binary.LittleEndian.Uint16(b[body : body+2])
			if formatTag != pcmFormatTag {
				return nil, fmt.Errorf("audio: unsupported WAV format tag %d (want PCM)", formatTag)
			}
			info.channels = int(binary.LittleEndian.Uint16(b[body+2 : body+4]))
			info.sampleRate = int(binary.LittleEndian.Uint32(b[body+4 : body+8]))
			bits := binary.LittleEndian.Uint16(b[body+14 : body+16])
			if bits != 16 {
				return nil, fmt.Errorf("audio: unsupported bit depth %d (want 16)", bits)
			}
			if info.channels < 1 || info.channels > 2 {
				return nil, fmt.Errorf("audio: unsupported channel count %d", info.channels)
			}
			haveFmt = true
		case "data":
			n := chunkLen / 2
			info.samples = make([]int16, n)
			for i := 0; i < n; i++ {
				info.samples[i] = int16(binary.LittleEndian.Uint16(b[body+i*2 : body+i*2+2]))
			}
			haveData = true
		}

		// Chunks are word-aligned.
		pos = body + chunkLen
		if chunkLen%2 == 1 {
			pos++
		}
	}

	if !haveFmt || !haveData {
		return nil, fmt.Errorf("audio: missing fmt or data chunk")
	}
	return info, nil
}

// encodeWAV writes mono 16-bit PCM samples into a WAV container.
func encodeWAV(samples []int16, sampleRate int) []byte {
	dataLen := len(samples) * 2
	buf := make([]byte, riffHeaderSize+dataLen)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLen))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], pcmFormatTag)
	binary.LittleEndian.PutUint16(buf[22:24], 1) // mono
	binary.LittleEndian.PutUint32(buf[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(sampleRate*2)) // byte rate
	binary.LittleEndian.PutUint16(buf[32:34], 2)                    // block align
	binary.LittleEndian.PutUint16(buf[34:36], 16)                   // bits per sample

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLen))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[44+i*2:46+i*2], uint16(s))
	}
	return buf
}

// downmix averages interleaved stereo samples into mono. Mono input is
// returned as-is.
func downmix(samples []int16, channels int) []int16 {
	if channels == 1 {
		return samples
	}
	mono := make([]int16, len(samples)/2)
	for i := range mono {
		l := int32(samples[i*2])
		r := int32(samples[i*2+1])
		mono[i] = int16((l + r) / 2)
	}
	return mono
}
