package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/eduscribe/eduscribe/pkg/audio"
	"github.com/eduscribe/eduscribe/pkg/jsontime"
	"github.com/eduscribe/eduscribe/pkg/lecture"
	"github.com/eduscribe/eduscribe/pkg/notes"
	"github.com/eduscribe/eduscribe/pkg/score"
	"github.com/eduscribe/eduscribe/pkg/speech"
)

// Session states reported by Status.
const (
	StateAccumulating = "accumulating"
	StateSynthesizing = "synthesizing"
)

const (
	recentRawKeep = 4

	// synthesisTopK is how many corpus chunks are retrieved for a
	// structured synthesis pass.
	synthesisTopK = 5
)

type task struct {
	id       string
	data     []byte
	chunk    int
	enqueued time.Time
	flush    bool
}

// Session processes one client's audio stream. All pipeline stages
// run on a single worker goroutine, so events for a session are
// emitted in chunk order.
type Session struct {
	id   string
	cfg  Config
	deps Deps
	sink Sink

	queue  chan task
	cancel context.CancelFunc
	done   chan struct{}

	mu            sync.Mutex
	closed        bool
	recording     bool
	state         string
	chunkNum      int
	processed     int
	buffer        []string
	recentRaw     []string
	latestText    string
	lastSynthesis time.Time
	prevNote      *notes.StructuredNote
}

// Status is a point-in-time snapshot of a session.
type Status struct {
	SessionID     string         `json:"session_id"`
	Recording     bool           `json:"recording"`
	State         string         `json:"state"`
	ChunksQueued  int            `json:"chunks_queued"`
	Processed     int            `json:"processed"`
	Buffered      int            `json:"buffered"`
	LastSynthesis jsontime.Milli `json:"last_synthesis,omitzero"`
}

func newSession(id string, cfg Config, deps Deps, sink Sink) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:     id,
		cfg:    cfg,
		deps:   deps,
		sink:   sink,
		queue:  make(chan task, cfg.QueueSize),
		cancel: cancel,
		done:   make(chan struct{}),
		state:  StateAccumulating,
	}
	go s.run(ctx)
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// StartRecording begins accepting audio. Idempotent.
func (s *Session) StartRecording() {
	s.mu.Lock()
	already := s.recording
	s.recording = true
	s.mu.Unlock()
	if !already {
		s.sink.Send(newEvent(EventRecordingStarted, s.id))
	}
}

// StopRecording stops accepting audio and flushes any buffered notes
// through a final synthesis. The recording_stopped event follows the
// flush, so the client sees the last structured note before the
// acknowledgement.
func (s *Session) StopRecording() {
	s.mu.Lock()
	was := s.recording
	s.recording = false
	s.mu.Unlock()
	if !was {
		return
	}
	// The flush must reach the worker even when the queue is full,
	// otherwise recording_stopped would arrive with notes still
	// unsynthesized. Wait for a slot, bounded by the shutdown grace.
	t := task{id: uuid.NewString(), enqueued: time.Now(), flush: true}
	select {
	case s.queue <- t:
	case <-s.done:
		s.sink.Send(newEvent(EventRecordingStopped, s.id))
	case <-time.After(s.cfg.ShutdownGrace):
		slog.Warn("pipeline: queue still full, skipping final flush", "session", s.id)
		s.sink.Send(newEvent(EventRecordingStopped, s.id))
	}
}

// EnqueueAudio queues one audio chunk for processing. A full queue
// drops the chunk and emits a queue_full warning event rather than
// blocking the caller.
func (s *Session) EnqueueAudio(data []byte) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	if !s.recording {
		s.mu.Unlock()
		return ErrNotRecording
	}
	s.chunkNum++
	t := task{
		id:       uuid.NewString(),
		data:     data,
		chunk:    s.chunkNum,
		enqueued: time.Now(),
	}
	s.mu.Unlock()

	s.enqueue(t)
	return nil
}

func (s *Session) enqueue(t task) {
	select {
	case s.queue <- t:
	default:
		slog.Warn("pipeline: queue full, dropping chunk",
			"session", s.id, "task", t.id, "chunk", t.chunk)
		ev := newEvent(EventQueueFull, s.id)
		ev.ChunkNumber = t.chunk
		ev.Message = "processing queue full, audio chunk dropped"
		s.sink.Send(ev)
	}
}

// Status returns a snapshot of the session's state.
func (s *Session) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		SessionID:     s.id,
		Recording:     s.recording,
		State:         s.state,
		ChunksQueued:  len(s.queue),
		Processed:     s.processed,
		Buffered:      len(s.buffer),
		LastSynthesis: jsontime.Milli(s.lastSynthesis),
	}
}

// Close cancels the worker and waits up to the configured grace for
// the in-flight task to finish. Idempotent.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.recording = false
	s.mu.Unlock()

	s.cancel()
	select {
	case <-s.done:
	case <-time.After(s.cfg.ShutdownGrace):
		slog.Warn("pipeline: worker did not stop within grace", "session", s.id)
	}
}

func (s *Session) run(ctx context.Context) {
	defer close(s.done)
	for {
		select {
		case <-ctx.Done():
			return
		case t := <-s.queue:
			if !t.flush && time.Since(t.enqueued) > s.cfg.StaleAfter {
				slog.Warn("pipeline: skipping stale chunk",
					"session", s.id, "task", t.id, "chunk", t.chunk,
					"age", time.Since(t.enqueued))
				continue
			}
			if err := s.process(ctx, t); err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("pipeline: task failed",
					"session", s.id, "task", t.id, "chunk", t.chunk, "err", err)
			}
		}
	}
}

func (s *Session) process(ctx context.Context, t task) error {
	if t.flush {
		err := s.synthesize(ctx, true)
		s.sink.Send(newEvent(EventRecordingStopped, s.id))
		return err
	}

	pcm, err := audio.Normalize(t.data)
	if err != nil {
		return fmt.Errorf("normalize audio: %w", err)
	}

	tr, err := s.deps.Transcriber.Transcribe(ctx, pcm)
	if err != nil {
		return fmt.Errorf("transcribe: %w", err)
	}
	if tr.Empty() {
		slog.Debug("pipeline: silent chunk", "session", s.id, "chunk", t.chunk)
		return nil
	}

	sc := score.Text(tr.FullText, tr.Duration)

	ev := newEvent(EventTranscription, s.id)
	ev.ChunkNumber = t.chunk
	ev.Text = tr.FullText
	ev.Importance = sc.Importance

	if sc.Importance < s.cfg.MinImportance {
		slog.Debug("pipeline: below importance threshold",
			"session", s.id, "chunk", t.chunk, "importance", sc.Importance)
		s.sink.Send(ev)
		return nil
	}

	var contextChunks []string
	if s.deps.Retriever != nil {
		contextChunks = s.deps.Retriever.Query(ctx, s.id, tr.FullText, s.cfg.RetrievalTopK)
	}

	s.mu.Lock()
	recent := append([]string(nil), s.recentRaw...)
	s.mu.Unlock()

	raw, err := s.deps.Raw.Generate(ctx, tr.FullText, contextChunks, recent)
	if err != nil {
		return fmt.Errorf("raw notes: %w", err)
	}

	s.journalTranscript(ctx, t.chunk, tr, sc.Importance)
	s.journalNote(ctx, lecture.NoteRecord{Kind: lecture.NoteRaw, Raw: raw})

	s.mu.Lock()
	s.processed++
	s.latestText = tr.FullText
	s.buffer = append(s.buffer, raw)
	s.recentRaw = append(s.recentRaw, raw)
	if len(s.recentRaw) > recentRawKeep {
		s.recentRaw = s.recentRaw[len(s.recentRaw)-recentRawKeep:]
	}
	s.mu.Unlock()

	ev.RawNotes = raw
	s.sink.Send(ev)

	return s.synthesize(ctx, false)
}

// synthesize runs structured synthesis when the trigger condition
// holds. On success the buffer keeps only its newest entry, so the
// next section overlaps one raw note with this one. On failure the
// buffer and timer are untouched and the next chunk retries.
func (s *Session) synthesize(ctx context.Context, flush bool) error {
	s.mu.Lock()
	buffered := append([]string(nil), s.buffer...)
	prev := s.prevNote
	latest := s.latestText
	last := s.lastSynthesis
	s.mu.Unlock()

	if len(buffered) == 0 {
		return nil
	}
	if !flush {
		if len(buffered) < s.cfg.BufferMin {
			return nil
		}
		timed := last.IsZero() || time.Since(last) >= s.cfg.SynthesisInterval
		if !timed && !topicShift(latest, len(buffered)-1) {
			return nil
		}
		// Only the newest entries feed the synthesizer; older ones
		// were covered by previous sections.
		if len(buffered) > s.cfg.BufferMin {
			buffered = buffered[len(buffered)-s.cfg.BufferMin:]
		}
	}

	s.setState(StateSynthesizing)
	defer s.setState(StateAccumulating)

	s.sink.Send(newEvent(EventSynthesisStarted, s.id))

	var contextChunks []string
	if s.deps.Retriever != nil {
		contextChunks = s.deps.Retriever.Query(ctx, s.id, strings.Join(buffered, "\n"), synthesisTopK)
	}

	note, err := s.deps.Synth.Synthesize(ctx, buffered, contextChunks, prev)
	if err != nil {
		ev := newEvent(EventSynthesisError, s.id)
		ev.Error = err.Error()
		s.sink.Send(ev)
		return fmt.Errorf("synthesize: %w", err)
	}

	s.journalNote(ctx, lecture.NoteRecord{Kind: lecture.NoteStructured, Structured: note})

	s.mu.Lock()
	s.prevNote = note
	s.lastSynthesis = time.Now()
	if flush {
		s.buffer = nil
	} else if n := len(s.buffer); n > 0 {
		s.buffer = s.buffer[n-1:]
	}
	s.mu.Unlock()

	ev := newEvent(EventStructuredNotes, s.id)
	ev.Notes = note
	s.sink.Send(ev)
	return nil
}

func (s *Session) setState(state string) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

func (s *Session) journalTranscript(ctx context.Context, chunk int, tr *speech.Transcription, importance float64) {
	if s.deps.Journal == nil {
		return
	}
	start, end := tr.Span()
	_, err := s.deps.Journal.AppendTranscript(ctx, s.id, lecture.TranscriptRecord{
		ChunkNumber: chunk,
		Start:       start,
		End:         end,
		Text:        tr.FullText,
		Importance:  importance,
	})
	if err != nil {
		slog.Warn("pipeline: journal transcript", "session", s.id, "err", err)
	}
}

func (s *Session) journalNote(ctx context.Context, rec lecture.NoteRecord) {
	if s.deps.Journal == nil {
		return
	}
	if _, err := s.deps.Journal.AppendNote(ctx, s.id, rec); err != nil {
		slog.Warn("pipeline: journal note", "session", s.id, "err", err)
	}
}
