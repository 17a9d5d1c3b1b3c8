package pipeline

import (
	"github.com/eduscribe/eduscribe/pkg/jsontime"
	"github.com/eduscribe/eduscribe/pkg/notes"
)

// Event types pushed to session sinks.
const (
	EventConnectionConfirmed = "connection_confirmed"
	EventRecordingStarted    = "recording_started"
	EventRecordingStopped    = "recording_stopped"
	EventTranscription       = "transcription"
	EventSynthesisStarted    = "synthesis_started"
	EventStructuredNotes     = "structured_notes"
	EventSynthesisError      = "synthesis_error"
	EventQueueFull           = "queue_full"
)

// Event is one message delivered to a session's client. Fields beyond
// Type and At are populated per event type.
type Event struct {
	Type      string         `json:"type"`
	At        jsontime.Milli `json:"at"`
	SessionID string         `json:"session_id,omitempty"`

	// transcription
	ChunkNumber int     `json:"chunk_number,omitempty"`
	Text        string  `json:"text,omitempty"`
	Importance  float64 `json:"importance,omitempty"`
	RawNotes    string  `json:"raw_notes,omitempty"`

	// structured_notes
	Notes *notes.StructuredNote `json:"notes,omitempty"`

	// synthesis_error and other failures
	Error string `json:"error,omitempty"`

	// connection_confirmed and informational messages
	Message string `json:"message,omitempty"`
}

// Sink receives session events. Implementations must tolerate calls
// from the session worker goroutine and must not block indefinitely.
type Sink interface {
	Send(ev Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(ev Event)

func (f SinkFunc) Send(ev Event) { f(ev) }

func newEvent(typ, sessionID string) Event {
	return Event{Type: typ, At: jsontime.Now(), SessionID: sessionID}
}
