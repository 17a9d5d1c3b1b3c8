// Package pipeline runs the per-session audio processing loop:
// ordered transcription, importance filtering, retrieval-augmented
// raw notes, and triggered structured synthesis, with events pushed
// to a per-session sink.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/eduscribe/eduscribe/pkg/lecture"
	"github.com/eduscribe/eduscribe/pkg/notes"
	"github.com/eduscribe/eduscribe/pkg/speech"
)

var (
	ErrSessionNotFound = errors.New("pipeline: session not found")
	ErrNotRecording    = errors.New("pipeline: session is not recording")
	ErrSessionClosed   = errors.New("pipeline: session closed")
)

// Retriever supplies supporting corpus text for a lecture. A nil
// Retriever disables retrieval.
type Retriever interface {
	Query(ctx context.Context, lectureID, text string, topK int) []string
}

// Config tunes the per-session processing loop. Zero values take the
// defaults below.
type Config struct {
	// QueueSize bounds the pending audio queue. When full, the
	// newest chunk is dropped.
	QueueSize int

	// StaleAfter is how long a queued chunk may wait before the
	// worker skips it.
	StaleAfter time.Duration

	// MinImportance drops transcripts scoring below it from note
	// generation. Transcription events are still emitted.
	MinImportance float64

	// BufferMin is the number of buffered raw notes required before
	// synthesis may trigger.
	BufferMin int

	// SynthesisInterval is the minimum spacing between timed
	// syntheses. Topic shifts bypass it.
	SynthesisInterval time.Duration

	// RetrievalTopK is how many corpus chunks to retrieve per query.
	RetrievalTopK int

	// ShutdownGrace bounds how long Close waits for the worker to
	// finish its current task.
	ShutdownGrace time.Duration
}

func (c *Config) setDefaults() {
	if c.QueueSize <= 0 {
		c.QueueSize = 32
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 30 * time.Second
	}
	if c.BufferMin <= 0 {
		c.BufferMin = 3
	}
	if c.SynthesisInterval <= 0 {
		c.SynthesisInterval = 60 * time.Second
	}
	if c.RetrievalTopK <= 0 {
		c.RetrievalTopK = 3
	}
	if c.ShutdownGrace <= 0 {
		c.ShutdownGrace = 5 * time.Second
	}
}

// Deps are the processing stages a session runs. Transcriber, Raw,
// and Synth are required; Retriever and Journal are optional.
type Deps struct {
	Transcriber speech.Transcriber
	Raw         *notes.RawGenerator
	Synth       *notes.Synthesizer
	Retriever   Retriever
	Journal     *lecture.Journal
}

// Manager owns the live sessions. Safe for concurrent use.
type Manager struct {
	cfg  Config
	deps Deps

	mu       sync.Mutex
	sessions map[string]*Session
	closed   bool
}

// NewManager creates a session manager.
func NewManager(cfg Config, deps Deps) *Manager {
	cfg.setDefaults()
	return &Manager{
		cfg:      cfg,
		deps:     deps,
		sessions: make(map[string]*Session),
	}
}

// Open creates a session for id delivering events to sink. If a
// session with the same id already exists it is retired first, before
// the replacement worker starts, so a lecture never has two writers
// at once.
func (m *Manager) Open(id string, sink Sink) *Session {
	m.mu.Lock()
	old := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()

	if old != nil {
		slog.Info("pipeline: replacing existing session", "session", id)
		old.Close()
	}

	s := newSession(id, m.cfg, m.deps, sink)
	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()
	return s
}

// Get returns the session for id, or ErrSessionNotFound.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// CloseSession shuts down and removes the session for id.
func (m *Manager) CloseSession(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	s.Close()
	return nil
}

// Sessions returns the ids of all live sessions.
func (m *Manager) Sessions() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		out = append(out, id)
	}
	return out
}

// Close shuts down every session.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	all := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		all = append(all, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range all {
		s.Close()
	}
}
