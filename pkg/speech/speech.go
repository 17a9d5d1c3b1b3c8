// Package speech wraps a speech-to-text engine behind the Transcriber
// interface. The pipeline submits one audio chunk (mono 16 kHz PCM in a
// WAV container) and receives timestamped text segments.
package speech

import (
	"context"
	"strings"
)

// Segment is a timestamped text span within one transcribed chunk.
// Start and End are seconds relative to the chunk start; Start <= End.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Transcription is the result of transcribing one audio chunk.
type Transcription struct {
	// FullText is the concatenated transcript of all segments.
	FullText string `json:"text"`

	// Segments are time-ordered spans within the chunk.
	Segments []Segment `json:"segments"`

	// Language is the detected language code, if the engine reports one.
	Language string `json:"language,omitempty"`

	// Duration is the audio duration in seconds, if the engine
	// reports one.
	Duration float64 `json:"duration,omitempty"`
}

// Span returns the start of the first segment and the end of the last.
// Both are zero when there are no segments.
func (t *Transcription) Span() (start, end float64) {
	if len(t.Segments) == 0 {
		return 0, 0
	}
	return t.Segments[0].Start, t.Segments[len(t.Segments)-1].End
}

// Empty reports whether the chunk contained no recognizable speech.
func (t *Transcription) Empty() bool {
	return strings.TrimSpace(t.FullText) == ""
}

// Transcriber converts one audio chunk into a Transcription. Calls may
// take seconds; implementations must honor ctx cancellation.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte) (*Transcription, error)
}

// TranscribeFunc adapts an ordinary function to the Transcriber
// interface.
type TranscribeFunc func(ctx context.Context, audio []byte) (*Transcription, error)

// Transcribe calls the underlying function.
func (f TranscribeFunc) Transcribe(ctx context.Context, audio []byte) (*Transcription, error) {
	return f(ctx, audio)
}
