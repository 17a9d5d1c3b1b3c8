package notes

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"unicode/utf8"
)

const (
	rawSystemPrompt = "You are an assistant creating very short (3-5 bullets) focused lecture notes " +
		"from a spoken transcript chunk. Use the transcript primarily and optionally the supporting " +
		"context. Avoid repeating content that already appears in the recent notes memory."

	rawMaxBullets      = 5
	rawMaxContext      = 3
	rawMaxRecentNotes  = 4
	rawFallbackBullets = 5
	rawBulletMaxChars  = 80
)

// RawGenerator produces terse bullet notes for a single transcript
// chunk. A nil chat client always uses the local fallback.
type RawGenerator struct {
	client ChatClient
}

// NewRawGenerator creates a raw note generator. client may be nil.
func NewRawGenerator(client ChatClient) *RawGenerator {
	return &RawGenerator{client: client}
}

// Generate returns 3-5 newline-separated bullets for the transcript
// chunk. contextChunks is retrieved supporting material; recentNotes are
// prior raw notes the model must not repeat. The result is always
// non-empty for a non-blank transcript: model failures degrade to a
// deterministic sentence-based extraction.
func (g *RawGenerator) Generate(ctx context.Context, transcript string, contextChunks, recentNotes []string) (string, error) {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return "", fmt.Errorf("notes: empty transcript")
	}

	if g.client == nil {
		return fallbackBullets(transcript), nil
	}

	out, err := g.client.Complete(ctx, ChatRequest{
		System:      rawSystemPrompt,
		User:        g.userPrompt(transcript, contextChunks, recentNotes),
		Temperature: 0.15,
		MaxTokens:   220,
	})
	if err != nil || strings.TrimSpace(out) == "" {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		slog.Warn("notes: raw generation falling back", "err", err)
		return fallbackBullets(transcript), nil
	}
	return strings.TrimSpace(out), nil
}

func (g *RawGenerator) userPrompt(transcript string, contextChunks, recentNotes []string) string {
	if len(contextChunks) > rawMaxContext {
		contextChunks = contextChunks[:rawMaxContext]
	}
	if len(recentNotes) > rawMaxRecentNotes {
		recentNotes = recentNotes[len(recentNotes)-rawMaxRecentNotes:]
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Transcript chunk:\n\"\"\"\n%s\n\"\"\"\n\n", transcript)
	fmt.Fprintf(&sb, "Recent raw notes memory (do NOT repeat):\n\"\"\"\n%s\n\"\"\"\n\n", strings.Join(recentNotes, "\n"))
	fmt.Fprintf(&sb, "Supporting context:\n\"\"\"\n%s\n\"\"\"\n\n", strings.Join(contextChunks, "\n"))
	sb.WriteString("Produce:\n" +
		"- 3 to 5 ultra-concise bullet points (<=10 words each) capturing only the speaker's key ideas.\n" +
		"- Avoid textbook definitions, filler, or repeating anything already in the recent notes memory.\n" +
		"- If the transcript contains a single clear takeaway, include it as the first bullet.\n" +
		"- Return only the bullet text separated by newlines (no numbering or extra commentary).")
	return sb.String()
}

// fallbackBullets extracts naive sentence-based bullets from the
// transcript. Deterministic and dependency-free.
func fallbackBullets(transcript string) string {
	var bullets []string
	for _, sentence := range splitSentences(transcript) {
		sentence = strings.TrimSpace(sentence)
		if len(sentence) < 10 {
			continue
		}
		if len(sentence) > rawBulletMaxChars {
			cut := rawBulletMaxChars
			for cut > 0 && !utf8.RuneStart(sentence[cut]) {
				cut--
			}
			sentence = strings.TrimSpace(sentence[:cut]) + "..."
		}
		bullets = append(bullets, "- "+sentence)
		if len(bullets) >= rawFallbackBullets {
			break
		}
	}
	if len(bullets) == 0 {
		return "- " + strings.TrimSpace(transcript)
	}
	return strings.Join(bullets, "\n")
}

// splitSentences splits text on sentence-terminating punctuation.
func splitSentences(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?'
	})
}
