// Package corpus stores course reference material and answers
// similarity queries against it. Documents are split into word
// chunks, embedded, and indexed per lecture; retrieval is best
// effort and never blocks the transcription path on failure.
package corpus

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/eduscribe/eduscribe/pkg/embed"
	"github.com/eduscribe/eduscribe/pkg/kv"
	"github.com/eduscribe/eduscribe/pkg/vecindex"
)

const (
	chunkWords   = 300
	chunkOverlap = 50

	keyRoot = "corpus"
)

// Chunk is one embedded slice of a source document.
type Chunk struct {
	ID        string `msgpack:"id"`
	LectureID string `msgpack:"lecture_id"`
	Source    string `msgpack:"source"`
	Seq       int    `msgpack:"seq"`
	Text      string `msgpack:"text"`
}

// Store holds corpus chunks in a kv store and keeps an in-memory
// vector index per lecture. Safe for concurrent use.
type Store struct {
	db  kv.Store
	emb embed.Embedder

	mu      sync.RWMutex
	indexes map[string]*lectureIndex
}

type lectureIndex struct {
	index  *vecindex.Index
	chunks map[string]string // chunk id -> text
}

// NewStore creates a corpus store backed by db, embedding with emb.
func NewStore(db kv.Store, emb embed.Embedder) *Store {
	return &Store{
		db:      db,
		emb:     emb,
		indexes: make(map[string]*lectureIndex),
	}
}

// Ingest splits text into chunks, embeds them, persists them, and
// adds them to the lecture's index. source labels the origin
// document. Returns the number of chunks stored.
func (s *Store) Ingest(ctx context.Context, lectureID, source, text string) (int, error) {
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("corpus: empty document")
	}
	parts := splitChunks(text, chunkWords, chunkOverlap)

	li, err := s.lecture(ctx, lectureID)
	if err != nil {
		return 0, err
	}

	base := len(li.chunks)
	chunks := make([]Chunk, len(parts))
	texts := make([]string, len(parts))
	for i, p := range parts {
		seq := base + i
		chunks[i] = Chunk{
			ID:        fmt.Sprintf("%s/%s/%06d", lectureID, source, seq),
			LectureID: lectureID,
			Source:    source,
			Seq:       seq,
			Text:      p,
		}
		texts[i] = p
	}

	vectors, err := s.emb.EmbedBatch(ctx, texts)
	if err != nil {
		return 0, fmt.Errorf("corpus: embed document: %w", err)
	}

	entries := make([]kv.Entry, len(chunks))
	for i, c := range chunks {
		b, err := msgpack.Marshal(c)
		if err != nil {
			return 0, fmt.Errorf("corpus: encode chunk: %w", err)
		}
		entries[i] = kv.Entry{
			Key:   kv.Key{keyRoot, lectureID, fmt.Sprintf("%06d", c.Seq)},
			Value: b,
		}
	}
	if err := s.db.BatchSet(ctx, entries); err != nil {
		return 0, fmt.Errorf("corpus: persist chunks: %w", err)
	}

	s.mu.Lock()
	for i, c := range chunks {
		if err := li.index.Insert(c.ID, vectors[i]); err != nil {
			s.mu.Unlock()
			return 0, fmt.Errorf("corpus: index chunk: %w", err)
		}
		li.chunks[c.ID] = c.Text
	}
	s.mu.Unlock()

	return len(chunks), nil
}

// Query returns the text of up to topK chunks most similar to text
// for the given lecture. Retrieval is best effort: any failure, or a
// lecture with no corpus, yields an empty result.
func (s *Store) Query(ctx context.Context, lectureID, text string, topK int) []string {
	if topK <= 0 || strings.TrimSpace(text) == "" {
		return nil
	}
	li, err := s.lecture(ctx, lectureID)
	if err != nil {
		slog.Warn("corpus: load lecture index", "lecture", lectureID, "err", err)
		return nil
	}

	s.mu.RLock()
	n := li.index.Len()
	s.mu.RUnlock()
	if n == 0 {
		return nil
	}

	vec, err := s.emb.Embed(ctx, text)
	if err != nil {
		slog.Warn("corpus: embed query", "lecture", lectureID, "err", err)
		return nil
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	matches, err := li.index.Search(vec, topK)
	if err != nil {
		slog.Warn("corpus: search", "lecture", lectureID, "err", err)
		return nil
	}
	out := make([]string, 0, len(matches))
	for _, m := range matches {
		if t, ok := li.chunks[m.ID]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Count reports how many chunks are indexed for a lecture.
func (s *Store) Count(ctx context.Context, lectureID string) (int, error) {
	li, err := s.lecture(ctx, lectureID)
	if err != nil {
		return 0, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return li.index.Len(), nil
}

// lecture returns the in-memory index for a lecture, loading persisted
// chunks on first use.
func (s *Store) lecture(ctx context.Context, lectureID string) (*lectureIndex, error) {
	s.mu.RLock()
	li, ok := s.indexes[lectureID]
	s.mu.RUnlock()
	if ok {
		return li, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if li, ok := s.indexes[lectureID]; ok {
		return li, nil
	}

	li = &lectureIndex{
		index:  vecindex.New(),
		chunks: make(map[string]string),
	}

	var texts []string
	var ids []string
	for entry, err := range s.db.List(ctx, kv.Key{keyRoot, lectureID}) {
		if err != nil {
			return nil, fmt.Errorf("corpus: list chunks: %w", err)
		}
		var c Chunk
		if err := msgpack.Unmarshal(entry.Value, &c); err != nil {
			return nil, fmt.Errorf("corpus: decode chunk %s: %w", entry.Key, err)
		}
		ids = append(ids, c.ID)
		texts = append(texts, c.Text)
	}
	if len(texts) > 0 {
		vectors, err := s.emb.EmbedBatch(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("corpus: re-embed chunks: %w", err)
		}
		if err := li.index.BatchInsert(ids, vectors); err != nil {
			return nil, fmt.Errorf("corpus: rebuild index: %w", err)
		}
		for i, id := range ids {
			li.chunks[id] = texts[i]
		}
	}

	s.indexes[lectureID] = li
	return li, nil
}

// splitChunks breaks text into word windows of size words with the
// given overlap between consecutive windows.
func splitChunks(text string, words, overlap int) []string {
	fields := strings.Fields(text)
	if len(fields) == 0 {
		return nil
	}
	if words <= 0 {
		words = chunkWords
	}
	if overlap >= words {
		overlap = words / 2
	}
	step := words - overlap

	var out []string
	for start := 0; start < len(fields); start += step {
		end := min(start+words, len(fields))
		out = append(out, strings.Join(fields[start:end], " "))
		if end == len(fields) {
			break
		}
	}
	return out
}
