// Package embed provides a text embedding interface with an OpenAI-backed
// implementation and a deterministic local fallback.
//
// An Embedder converts text into dense vectors suitable for similarity
// search over a lecture's document corpus.
package embed

import (
	"context"
	"errors"
)

// ErrEmptyInput is returned when the input text is empty.
var ErrEmptyInput = errors.New("embed: empty input")

// Embedder converts text into dense float32 vectors.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns embedding vectors for multiple texts.
	// Implementations may split large batches into multiple API calls.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the dimensionality of the output vectors.
	Dimension() int
}
