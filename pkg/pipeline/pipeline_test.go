package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eduscribe/eduscribe/pkg/kv"
	"github.com/eduscribe/eduscribe/pkg/lecture"
	"github.com/eduscribe/eduscribe/pkg/notes"
	"github.com/eduscribe/eduscribe/pkg/speech"
)

// collector records events and lets tests wait for them.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) Send(ev Event) {
	c.mu.Lock()
	c.events = append(c.events, ev)
	c.mu.Unlock()
}

func (c *collector) ofType(typ string) []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Event
	for _, ev := range c.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

func (c *collector) waitFor(t *testing.T, typ string, n int) []Event {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if got := c.ofType(typ); len(got) >= n {
			return got
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d %q events, have %d", n, typ, len(c.ofType(typ)))
	return nil
}

// echoTranscriber returns the chunk bytes as the transcript text.
func echoTranscriber() speech.Transcriber {
	return speech.TranscribeFunc(func(_ context.Context, audio []byte) (*speech.Transcription, error) {
		return &speech.Transcription{FullText: string(audio), Duration: 2}, nil
	})
}

func testDeps(tr speech.Transcriber) Deps {
	return Deps{
		Transcriber: tr,
		Raw:         notes.NewRawGenerator(nil),
		Synth:       notes.NewSynthesizer(nil),
	}
}

func testConfig() Config {
	return Config{
		BufferMin:         3,
		SynthesisInterval: time.Hour, // only first-synthesis and topic shifts fire
	}
}

func TestTranscriptionOrder(t *testing.T) {
	sink := &collector{}
	m := NewManager(testConfig(), testDeps(echoTranscriber()))
	defer m.Close()

	s := m.Open("lec1", sink)
	s.StartRecording()
	for i := range 5 {
		if err := s.EnqueueAudio(fmt.Appendf(nil, "Chunk number %d carries important content.", i)); err != nil {
			t.Fatal(err)
		}
	}

	evs := sink.waitFor(t, EventTranscription, 5)
	for i, ev := range evs[:5] {
		if ev.ChunkNumber != i+1 {
			t.Fatalf("event %d chunk = %d, want %d", i, ev.ChunkNumber, i+1)
		}
		if ev.RawNotes == "" {
			t.Fatalf("event %d missing raw notes", i)
		}
	}
}

func TestFirstSynthesisAtBufferMin(t *testing.T) {
	sink := &collector{}
	m := NewManager(testConfig(), testDeps(echoTranscriber()))
	defer m.Close()

	s := m.Open("lec1", sink)
	s.StartRecording()
	for i := range 3 {
		if err := s.EnqueueAudio(fmt.Appendf(nil, "Fact number %d about sorting algorithms.", i)); err != nil {
			t.Fatal(err)
		}
	}

	sink.waitFor(t, EventSynthesisStarted, 1)
	got := sink.waitFor(t, EventStructuredNotes, 1)
	if got[0].Notes == nil || !got[0].Notes.Valid() {
		t.Fatalf("structured note invalid: %+v", got[0].Notes)
	}

	// Two more chunks refill the buffer to the minimum, but with the
	// interval at an hour and no topic shift nothing fires again.
	for i := range 2 {
		if err := s.EnqueueAudio(fmt.Appendf(nil, "Additional fact %d.", i)); err != nil {
			t.Fatal(err)
		}
	}
	sink.waitFor(t, EventTranscription, 5)
	if n := len(sink.ofType(EventSynthesisStarted)); n != 1 {
		t.Fatalf("synthesis count = %d, want 1", n)
	}
}

func TestTopicShiftTriggersEarlySynthesis(t *testing.T) {
	sink := &collector{}
	m := NewManager(testConfig(), testDeps(echoTranscriber()))
	defer m.Close()

	s := m.Open("lec1", sink)
	s.StartRecording()
	for i := range 3 {
		if err := s.EnqueueAudio(fmt.Appendf(nil, "Background fact %d about entropy.", i)); err != nil {
			t.Fatal(err)
		}
	}
	sink.waitFor(t, EventStructuredNotes, 1)

	// Buffer: 1 overlap + these 2 = 3, and the last chunk announces
	// a transition, so synthesis fires despite the hour interval.
	if err := s.EnqueueAudio([]byte("Entropy always increases in closed systems.")); err != nil {
		t.Fatal(err)
	}
	if err := s.EnqueueAudio([]byte("Moving on to the second law of thermodynamics.")); err != nil {
		t.Fatal(err)
	}

	sink.waitFor(t, EventStructuredNotes, 2)
}

func TestSynthesisKeepsOverlap(t *testing.T) {
	sink := &collector{}
	m := NewManager(testConfig(), testDeps(echoTranscriber()))
	defer m.Close()

	s := m.Open("lec1", sink)
	s.StartRecording()
	for i := range 3 {
		if err := s.EnqueueAudio(fmt.Appendf(nil, "Fact %d.", i)); err != nil {
			t.Fatal(err)
		}
	}
	sink.waitFor(t, EventStructuredNotes, 1)

	// A successful synthesis keeps only the newest raw note so the
	// next section overlaps this one by a single entry.
	deadline := time.Now().Add(3 * time.Second)
	for s.Status().Buffered != 1 {
		if time.Now().After(deadline) {
			t.Fatalf("buffered = %d, want 1 after synthesis", s.Status().Buffered)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestNotRecording(t *testing.T) {
	m := NewManager(testConfig(), testDeps(echoTranscriber()))
	defer m.Close()

	s := m.Open("lec1", &collector{})
	if err := s.EnqueueAudio([]byte("x")); !errors.Is(err, ErrNotRecording) {
		t.Fatalf("err = %v, want ErrNotRecording", err)
	}
}

func TestStopRecordingFlushes(t *testing.T) {
	sink := &collector{}
	m := NewManager(testConfig(), testDeps(echoTranscriber()))
	defer m.Close()

	s := m.Open("lec1", sink)
	s.StartRecording()
	sink.waitFor(t, EventRecordingStarted, 1)

	// Two chunks: below the buffer minimum, so only the stop flush
	// can produce a structured note.
	for i := range 2 {
		if err := s.EnqueueAudio(fmt.Appendf(nil, "Closing fact %d.", i)); err != nil {
			t.Fatal(err)
		}
	}
	sink.waitFor(t, EventTranscription, 2)
	s.StopRecording()

	sink.waitFor(t, EventRecordingStopped, 1)
	sink.waitFor(t, EventStructuredNotes, 1)

	deadline := time.Now().Add(3 * time.Second)
	for s.Status().Buffered != 0 {
		if time.Now().After(deadline) {
			t.Fatalf("buffered = %d after flush", s.Status().Buffered)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestSessionNotFound(t *testing.T) {
	m := NewManager(testConfig(), testDeps(echoTranscriber()))
	defer m.Close()

	if _, err := m.Get("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get err = %v", err)
	}
	if err := m.CloseSession("missing"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("CloseSession err = %v", err)
	}
}

func TestReopenReplacesSession(t *testing.T) {
	m := NewManager(testConfig(), testDeps(echoTranscriber()))
	defer m.Close()

	first := m.Open("lec1", &collector{})
	first.StartRecording()

	second := m.Open("lec1", &collector{})
	if first == second {
		t.Fatal("expected a fresh session")
	}

	// The replaced session is closed and refuses new audio.
	if err := first.EnqueueAudio([]byte("x")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("old session err = %v, want ErrSessionClosed", err)
	}

	got, err := m.Get("lec1")
	if err != nil {
		t.Fatal(err)
	}
	if got != second {
		t.Fatal("manager should return the replacement session")
	}
}

func TestTranscribeErrorIsolation(t *testing.T) {
	var calls int
	var mu sync.Mutex
	tr := speech.TranscribeFunc(func(_ context.Context, audio []byte) (*speech.Transcription, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			return nil, errors.New("backend hiccup")
		}
		return &speech.Transcription{FullText: string(audio), Duration: 2}, nil
	})

	sink := &collector{}
	m := NewManager(testConfig(), testDeps(tr))
	defer m.Close()

	s := m.Open("lec1", sink)
	s.StartRecording()
	if err := s.EnqueueAudio([]byte("This chunk fails.")); err != nil {
		t.Fatal(err)
	}
	if err := s.EnqueueAudio([]byte("This chunk succeeds.")); err != nil {
		t.Fatal(err)
	}

	evs := sink.waitFor(t, EventTranscription, 1)
	if evs[0].Text != "This chunk succeeds." {
		t.Fatalf("text = %q", evs[0].Text)
	}
}

func TestJournalRecords(t *testing.T) {
	db := kv.NewMemory()
	defer db.Close()
	journal := lecture.NewJournal(db)

	deps := testDeps(echoTranscriber())
	deps.Journal = journal
	sink := &collector{}
	m := NewManager(testConfig(), deps)
	defer m.Close()

	s := m.Open("lec1", sink)
	s.StartRecording()
	for i := range 3 {
		if err := s.EnqueueAudio(fmt.Appendf(nil, "Journaled fact %d.", i)); err != nil {
			t.Fatal(err)
		}
	}
	sink.waitFor(t, EventStructuredNotes, 1)

	ctx := context.Background()
	trs, err := journal.Transcripts(ctx, "lec1")
	if err != nil {
		t.Fatal(err)
	}
	if len(trs) != 3 {
		t.Fatalf("transcripts = %d, want 3", len(trs))
	}
	raws, err := journal.Notes(ctx, "lec1", lecture.NoteRaw)
	if err != nil {
		t.Fatal(err)
	}
	if len(raws) != 3 {
		t.Fatalf("raw notes = %d, want 3", len(raws))
	}
	structs, err := journal.Notes(ctx, "lec1", lecture.NoteStructured)
	if err != nil {
		t.Fatal(err)
	}
	if len(structs) != 1 {
		t.Fatalf("structured notes = %d, want 1", len(structs))
	}
}

func TestRetrieverFeedsPrompts(t *testing.T) {
	queried := make(chan string, 8)
	deps := testDeps(echoTranscriber())
	deps.Retriever = retrieverFunc(func(_ context.Context, lectureID, text string, topK int) []string {
		select {
		case queried <- text:
		default:
		}
		return []string{"supporting chunk"}
	})

	sink := &collector{}
	m := NewManager(testConfig(), deps)
	defer m.Close()

	s := m.Open("lec1", sink)
	s.StartRecording()
	if err := s.EnqueueAudio([]byte("Dijkstra uses a priority queue.")); err != nil {
		t.Fatal(err)
	}
	sink.waitFor(t, EventTranscription, 1)

	select {
	case text := <-queried:
		if !strings.Contains(text, "Dijkstra") {
			t.Fatalf("query text = %q", text)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("retriever was not queried")
	}
}

type retrieverFunc func(ctx context.Context, lectureID, text string, topK int) []string

func (f retrieverFunc) Query(ctx context.Context, lectureID, text string, topK int) []string {
	return f(ctx, lectureID, text, topK)
}

// blockingTranscriber parks inside Transcribe until released or the
// context is cancelled, and tracks how many calls run at once.
type blockingTranscriber struct {
	mu      sync.Mutex
	active  int
	peak    int
	entered chan string
	release chan struct{}
}

func newBlockingTranscriber() *blockingTranscriber {
	return &blockingTranscriber{
		entered: make(chan string, 8),
		release: make(chan struct{}),
	}
}

func (b *blockingTranscriber) Transcribe(ctx context.Context, audio []byte) (*speech.Transcription, error) {
	b.mu.Lock()
	b.active++
	if b.active > b.peak {
		b.peak = b.active
	}
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		b.active--
		b.mu.Unlock()
	}()

	b.entered <- string(audio)
	select {
	case <-b.release:
		return &speech.Transcription{FullText: string(audio), Duration: 2}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (b *blockingTranscriber) peakConcurrent() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

func recvText(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case s := <-ch:
		return s
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for a transcriber call")
		return ""
	}
}

func TestReopenRetiresOldWorkerFirst(t *testing.T) {
	tr := newBlockingTranscriber()
	sink1 := &collector{}
	m := NewManager(testConfig(), testDeps(tr))
	defer m.Close()

	first := m.Open("lec1", sink1)
	first.StartRecording()
	if err := first.EnqueueAudio([]byte("Held by the first worker.")); err != nil {
		t.Fatal(err)
	}
	recvText(t, tr.entered) // first worker is now inside Transcribe

	// Open must retire the first worker before its replacement starts,
	// so the two transcriber calls never overlap.
	sink2 := &collector{}
	second := m.Open("lec1", sink2)
	if err := first.EnqueueAudio([]byte("x")); !errors.Is(err, ErrSessionClosed) {
		t.Fatalf("old session err = %v, want ErrSessionClosed", err)
	}

	second.StartRecording()
	if err := second.EnqueueAudio([]byte("Handled by the replacement.")); err != nil {
		t.Fatal(err)
	}
	if got := recvText(t, tr.entered); got != "Handled by the replacement." {
		t.Fatalf("replacement worker saw %q", got)
	}
	close(tr.release)
	sink2.waitFor(t, EventTranscription, 1)

	if n := tr.peakConcurrent(); n != 1 {
		t.Fatalf("concurrent transcriber calls peaked at %d, want 1", n)
	}
}

func TestStaleChunkSkipped(t *testing.T) {
	cfg := testConfig()
	cfg.StaleAfter = time.Nanosecond
	sink := &collector{}
	m := NewManager(cfg, testDeps(echoTranscriber()))
	defer m.Close()

	s := m.Open("lec1", sink)
	s.StartRecording()
	if err := s.EnqueueAudio([]byte("Arrives after its useful life.")); err != nil {
		t.Fatal(err)
	}

	// The worker dequeues the chunk well past the cutoff and must skip
	// it without transcribing.
	time.Sleep(100 * time.Millisecond)
	if n := len(sink.ofType(EventTranscription)); n != 0 {
		t.Fatalf("transcription events = %d, want 0 for a stale chunk", n)
	}
}

func TestQueueFullDropsNewest(t *testing.T) {
	tr := newBlockingTranscriber()
	cfg := testConfig()
	cfg.QueueSize = 1
	sink := &collector{}
	m := NewManager(cfg, testDeps(tr))
	defer m.Close()

	s := m.Open("lec1", sink)
	s.StartRecording()
	if err := s.EnqueueAudio([]byte("First chunk, in flight.")); err != nil {
		t.Fatal(err)
	}
	recvText(t, tr.entered) // worker holds the first chunk
	if err := s.EnqueueAudio([]byte("Second chunk, queued.")); err != nil {
		t.Fatal(err)
	}
	if err := s.EnqueueAudio([]byte("Third chunk, over capacity.")); err != nil {
		t.Fatal(err)
	}

	evs := sink.waitFor(t, EventQueueFull, 1)
	if evs[0].ChunkNumber != 3 {
		t.Fatalf("dropped chunk = %d, want 3", evs[0].ChunkNumber)
	}

	close(tr.release)
	got := sink.waitFor(t, EventTranscription, 2)
	for _, ev := range got {
		if ev.ChunkNumber == 3 {
			t.Fatal("dropped chunk was still processed")
		}
	}
}

func TestStopFlushSurvivesFullQueue(t *testing.T) {
	tr := newBlockingTranscriber()
	cfg := testConfig()
	cfg.QueueSize = 1
	sink := &collector{}
	m := NewManager(cfg, testDeps(tr))
	defer m.Close()

	s := m.Open("lec1", sink)
	s.StartRecording()
	if err := s.EnqueueAudio([]byte("First closing fact.")); err != nil {
		t.Fatal(err)
	}
	recvText(t, tr.entered) // worker holds the first chunk
	if err := s.EnqueueAudio([]byte("Second closing fact.")); err != nil {
		t.Fatal(err)
	}

	// The queue is now full. StopRecording waits for a slot instead of
	// abandoning the flush, so the final note still goes out before
	// the acknowledgement.
	stopped := make(chan struct{})
	go func() {
		s.StopRecording()
		close(stopped)
	}()
	close(tr.release)

	select {
	case <-stopped:
	case <-time.After(3 * time.Second):
		t.Fatal("StopRecording did not return")
	}
	sink.waitFor(t, EventTranscription, 2)
	sink.waitFor(t, EventStructuredNotes, 1)
	sink.waitFor(t, EventRecordingStopped, 1)
}

func TestTopicShiftDetection(t *testing.T) {
	if topicShift("moving on to graph theory", 3) != true {
		t.Error("expected shift")
	}
	if topicShift("Next Topic is recursion", 1) != true {
		t.Error("expected case-insensitive shift")
	}
	if topicShift("moving on to graph theory", 0) {
		t.Error("first chunk must not shift")
	}
	if topicShift("continuing with the same proof", 3) {
		t.Error("unexpected shift")
	}
}
