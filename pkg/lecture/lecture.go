// Package lecture persists the audit trail of a session: every
// transcript that survived filtering and every note that was
// produced, in order, keyed by lecture.
package lecture

import (
	"context"
	"fmt"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/eduscribe/eduscribe/pkg/jsontime"
	"github.com/eduscribe/eduscribe/pkg/kv"
	"github.com/eduscribe/eduscribe/pkg/notes"
)

const (
	keyRoot        = "lec"
	keyTranscripts = "tr"
	keyNotes       = "note"
)

// NoteKind distinguishes journal note records.
type NoteKind string

const (
	NoteRaw        NoteKind = "raw"
	NoteStructured NoteKind = "structured"
)

// TranscriptRecord is one transcribed audio chunk that passed the
// importance filter.
type TranscriptRecord struct {
	Seq         int           `msgpack:"seq"`
	ChunkNumber int           `msgpack:"chunk_number"`
	At          jsontime.Milli `msgpack:"at"`
	Start       float64       `msgpack:"start"`
	End         float64       `msgpack:"end"`
	Text        string        `msgpack:"text"`
	Importance  float64       `msgpack:"importance"`
}

// NoteRecord is one generated note, raw or structured.
type NoteRecord struct {
	Seq        int                   `msgpack:"seq"`
	At         jsontime.Milli        `msgpack:"at"`
	Kind       NoteKind              `msgpack:"kind"`
	Raw        string                `msgpack:"raw,omitempty"`
	Structured *notes.StructuredNote `msgpack:"structured,omitempty"`
}

// Journal appends and reads per-lecture records. Sequence numbers are
// assigned on append and are contiguous per record kind. Safe for
// concurrent use.
type Journal struct {
	db kv.Store

	mu   sync.Mutex
	next map[string]int // "<lecture>/<kind>" -> next seq
}

// NewJournal creates a journal over db.
func NewJournal(db kv.Store) *Journal {
	return &Journal{db: db, next: make(map[string]int)}
}

// AppendTranscript stores a transcript record and returns its
// assigned sequence number.
func (j *Journal) AppendTranscript(ctx context.Context, lectureID string, rec TranscriptRecord) (int, error) {
	seq, err := j.nextSeq(ctx, lectureID, keyTranscripts)
	if err != nil {
		return 0, err
	}
	rec.Seq = seq
	if rec.At.IsZero() {
		rec.At = jsontime.Now()
	}
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("lecture: encode transcript: %w", err)
	}
	if err := j.db.Set(ctx, recordKey(lectureID, keyTranscripts, seq), b); err != nil {
		return 0, fmt.Errorf("lecture: store transcript: %w", err)
	}
	return seq, nil
}

// AppendNote stores a note record and returns its assigned sequence
// number.
func (j *Journal) AppendNote(ctx context.Context, lectureID string, rec NoteRecord) (int, error) {
	if rec.Kind != NoteRaw && rec.Kind != NoteStructured {
		return 0, fmt.Errorf("lecture: unknown note kind %q", rec.Kind)
	}
	seq, err := j.nextSeq(ctx, lectureID, keyNotes)
	if err != nil {
		return 0, err
	}
	rec.Seq = seq
	if rec.At.IsZero() {
		rec.At = jsontime.Now()
	}
	b, err := msgpack.Marshal(rec)
	if err != nil {
		return 0, fmt.Errorf("lecture: encode note: %w", err)
	}
	if err := j.db.Set(ctx, recordKey(lectureID, keyNotes, seq), b); err != nil {
		return 0, fmt.Errorf("lecture: store note: %w", err)
	}
	return seq, nil
}

// Transcripts returns all transcript records for a lecture in append
// order.
func (j *Journal) Transcripts(ctx context.Context, lectureID string) ([]TranscriptRecord, error) {
	var out []TranscriptRecord
	prefix := kv.Key{keyRoot, lectureID, keyTranscripts}
	for entry, err := range j.db.List(ctx, prefix) {
		if err != nil {
			return nil, fmt.Errorf("lecture: list transcripts: %w", err)
		}
		var rec TranscriptRecord
		if err := msgpack.Unmarshal(entry.Value, &rec); err != nil {
			return nil, fmt.Errorf("lecture: decode transcript %s: %w", entry.Key, err)
		}
		out = append(out, rec)
	}
	return out, nil
}

// Notes returns all note records for a lecture in append order,
// optionally filtered by kind. An empty kind returns everything.
func (j *Journal) Notes(ctx context.Context, lectureID string, kind NoteKind) ([]NoteRecord, error) {
	var out []NoteRecord
	prefix := kv.Key{keyRoot, lectureID, keyNotes}
	for entry, err := range j.db.List(ctx, prefix) {
		if err != nil {
			return nil, fmt.Errorf("lecture: list notes: %w", err)
		}
		var rec NoteRecord
		if err := msgpack.Unmarshal(entry.Value, &rec); err != nil {
			return nil, fmt.Errorf("lecture: decode note %s: %w", entry.Key, err)
		}
		if kind != "" && rec.Kind != kind {
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// nextSeq returns the next sequence number for a lecture and record
// kind, scanning existing records on first use.
func (j *Journal) nextSeq(ctx context.Context, lectureID, kind string) (int, error) {
	j.mu.Lock()
	defer j.mu.Unlock()

	ck := lectureID + "/" + kind
	if n, ok := j.next[ck]; ok {
		j.next[ck] = n + 1
		return n, nil
	}

	// Keys sort lexicographically and seqs are zero padded, so the
	// last listed entry carries the highest seq.
	last := -1
	for entry, err := range j.db.List(ctx, kv.Key{keyRoot, lectureID, kind}) {
		if err != nil {
			return 0, fmt.Errorf("lecture: scan records: %w", err)
		}
		var s int
		if _, err := fmt.Sscanf(entry.Key[len(entry.Key)-1], "%d", &s); err == nil {
			last = s
		}
	}
	n := last + 1
	j.next[ck] = n + 1
	return n, nil
}

func recordKey(lectureID, kind string, seq int) kv.Key {
	return kv.Key{keyRoot, lectureID, kind, fmt.Sprintf("%08d", seq)}
}
