package notes

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
)

const (
	structuredSystemPrompt = "You are an expert note-maker. Your job is to convert raw micro-notes into a " +
		"well-structured study section. Output MUST be a valid JSON object (no surrounding commentary). " +
		"Follow the JSON schema exactly."

	structuredSchemaName = "structured_note"

	structuredMaxContext = 5
)

// Synthesizer combines buffered raw notes into one StructuredNote
// section. A nil chat client always uses the local fallback.
type Synthesizer struct {
	client ChatClient
}

// NewSynthesizer creates a structured note synthesizer. client may be
// nil.
func NewSynthesizer(client ChatClient) *Synthesizer {
	return &Synthesizer{client: client}
}

// Synthesize builds one structured note section from the given raw
// notes. contextChunks is retrieved supporting material; prev is the
// most recent structured note, included so the model avoids repeating
// it. Model failures — including unparseable or schema-violating
// responses — degrade to a deterministic local wrapping of the raw
// notes; the result is always schema-valid.
func (s *Synthesizer) Synthesize(ctx context.Context, rawNotes []string, contextChunks []string, prev *StructuredNote) (*StructuredNote, error) {
	rawNotes = nonBlank(rawNotes)
	if len(rawNotes) == 0 {
		return nil, fmt.Errorf("notes: nothing to synthesize")
	}

	if s.client == nil {
		return fallbackStructured(rawNotes), nil
	}

	out, err := s.client.CompleteJSON(ctx, ChatRequest{
		System:      structuredSystemPrompt,
		User:        s.userPrompt(rawNotes, contextChunks, prev),
		Temperature: 0.2,
		MaxTokens:   600,
	}, structuredSchemaName, structuredNoteSchema)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		slog.Warn("notes: synthesis falling back", "err", err)
		return fallbackStructured(rawNotes), nil
	}

	// A response that fails to parse or violates the schema is a call
	// failure; it is never partially trusted.
	var note StructuredNote
	if err := unmarshalLenient(out, &note); err != nil || !note.Valid() {
		slog.Warn("notes: discarding malformed synthesis response", "err", err)
		return fallbackStructured(rawNotes), nil
	}
	return &note, nil
}

func (s *Synthesizer) userPrompt(rawNotes, contextChunks []string, prev *StructuredNote) string {
	if len(contextChunks) > structuredMaxContext {
		contextChunks = contextChunks[:structuredMaxContext]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Raw notes (batch):\n\"\"\"\n%s\n\"\"\"\n\n", strings.Join(rawNotes, "\n\n"))

	if len(contextChunks) > 0 {
		fmt.Fprintf(&sb, "Supporting context from course documents:\n\"\"\"\n%s\n\"\"\"\n\n", strings.Join(contextChunks, "\n\n"))
	}
	if prev != nil {
		if b, err := json.Marshal(prev); err == nil {
			fmt.Fprintf(&sb, "Previous structured note (avoid repetition):\n%s\n\n", b)
		}
	}

	sb.WriteString(`Return a single JSON object with these exact keys:
{
  "title": "<short title for this section>",
  "summary": "<one-sentence summary (<= 25 words)>",
  "subtopics": [{"title": "<subtopic title>", "bullets": ["short bullet", ...]}],
  "key_terms": ["term1", ...],
  "key_takeaways": ["one-sentence takeaway", ...]
}

Rules:
- Create a subtopic heading only where there is a clear thematic break.
- If the raw notes are already succinct, group them into a single subtopic called 'Key points'.
- Keep bullets short (<= 12 words).
- Key terms should be nouns or short technical phrases.
- Do NOT fabricate facts beyond what's in the raw notes.
Return only JSON.`)
	return sb.String()
}

// fallbackStructured wraps raw notes into the minimal valid schema:
// one "Key points" subtopic carrying the bullets verbatim.
func fallbackStructured(rawNotes []string) *StructuredNote {
	var bullets []string
	for _, n := range rawNotes {
		for _, line := range strings.Split(n, "\n") {
			line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
			if line != "" {
				bullets = append(bullets, line)
			}
		}
	}
	if len(bullets) > rawFallbackBullets {
		bullets = bullets[:rawFallbackBullets]
	}
	return &StructuredNote{
		Title:   "Lecture Notes",
		Summary: "Auto-generated summary from raw notes.",
		Subtopics: []Subtopic{
			{Title: "Key points", Bullets: bullets},
		},
		KeyTerms:     []string{},
		KeyTakeaways: []string{},
	}
}

func nonBlank(in []string) []string {
	out := in[:0:len(in)]
	for _, s := range in {
		if strings.TrimSpace(s) != "" {
			out = append(out, s)
		}
	}
	return out
}
