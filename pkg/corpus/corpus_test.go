package corpus

import (
	"context"
	"strings"
	"testing"

	"github.com/eduscribe/eduscribe/pkg/embed"
	"github.com/eduscribe/eduscribe/pkg/kv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	db := kv.NewMemory()
	t.Cleanup(func() { db.Close() })
	return NewStore(db, embed.NewHash(64))
}

func TestIngestAndQuery(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	n, err := s.Ingest(ctx, "lec1", "slides.txt",
		"Merge sort splits the input array in half and recursively sorts each half before merging.")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("chunks = %d, want 1", n)
	}
	if _, err := s.Ingest(ctx, "lec1", "notes.txt",
		"Photosynthesis converts sunlight into chemical energy inside chloroplasts."); err != nil {
		t.Fatal(err)
	}

	got := s.Query(ctx, "lec1", "how does merge sort divide the array", 1)
	if len(got) != 1 {
		t.Fatalf("matches = %d, want 1", len(got))
	}
	if !strings.Contains(got[0], "Merge sort") {
		t.Fatalf("unexpected match: %q", got[0])
	}
}

func TestQueryBestEffort(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// No corpus for the lecture.
	if got := s.Query(ctx, "empty-lec", "anything", 3); got != nil {
		t.Fatalf("expected nil, got %v", got)
	}
	// Degenerate arguments.
	if got := s.Query(ctx, "empty-lec", "", 3); got != nil {
		t.Fatalf("expected nil for blank query, got %v", got)
	}
	if got := s.Query(ctx, "empty-lec", "anything", 0); got != nil {
		t.Fatalf("expected nil for topK=0, got %v", got)
	}
}

func TestIngestEmptyDocument(t *testing.T) {
	s := newTestStore(t)
	if _, err := s.Ingest(context.Background(), "lec1", "blank.txt", "  \n "); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestLectureIsolation(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if _, err := s.Ingest(ctx, "lecA", "doc", "Dijkstra finds shortest paths in weighted graphs."); err != nil {
		t.Fatal(err)
	}
	if got := s.Query(ctx, "lecB", "shortest paths", 3); len(got) != 0 {
		t.Fatalf("lecture B should be empty, got %v", got)
	}
	if got := s.Query(ctx, "lecA", "shortest paths", 3); len(got) != 1 {
		t.Fatalf("lecture A matches = %d, want 1", len(got))
	}
}

func TestReloadFromStore(t *testing.T) {
	db := kv.NewMemory()
	defer db.Close()
	emb := embed.NewHash(64)
	ctx := context.Background()

	first := NewStore(db, emb)
	if _, err := first.Ingest(ctx, "lec1", "doc", "Entropy measures disorder in thermodynamic systems."); err != nil {
		t.Fatal(err)
	}

	// A fresh Store over the same kv must rebuild the index lazily.
	second := NewStore(db, emb)
	got := second.Query(ctx, "lec1", "what is entropy", 1)
	if len(got) != 1 || !strings.Contains(got[0], "Entropy") {
		t.Fatalf("reloaded query = %v", got)
	}
	n, err := second.Count(ctx, "lec1")
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Fatalf("count = %d, want 1", n)
	}
}

func TestSplitChunks(t *testing.T) {
	words := make([]string, 700)
	for i := range words {
		words[i] = "w"
	}
	chunks := splitChunks(strings.Join(words, " "), 300, 50)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	if n := len(strings.Fields(chunks[0])); n != 300 {
		t.Fatalf("first chunk words = %d", n)
	}
	// 700 words, step 250: windows start at 0, 250, 500.
	if n := len(strings.Fields(chunks[2])); n != 200 {
		t.Fatalf("last chunk words = %d", n)
	}

	if got := splitChunks("   ", 300, 50); got != nil {
		t.Fatalf("expected nil for blank text, got %v", got)
	}
	if got := splitChunks("one two", 300, 50); len(got) != 1 {
		t.Fatalf("short text chunks = %d", len(got))
	}
}
