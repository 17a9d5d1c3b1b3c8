// Package notes generates study notes from lecture transcript chunks.
//
// Two generators are provided. RawGenerator turns one transcript chunk
// plus retrieved context into a handful of terse bullets. Synthesizer
// combines several buffered chunks, retrieved context, and the previous
// structured note into a schema'd note section.
//
// Both generators call a hosted chat model when one is configured and
// fall back to a deterministic local extraction when the call fails or
// no credential is present. The fallback always produces well-formed,
// non-empty output, so the pipeline never blocks on model availability.
package notes

import (
	"sort"

	"github.com/google/jsonschema-go/jsonschema"
)

// StructuredNote is one synthesized study-note section.
type StructuredNote struct {
	Title        string     `json:"title"`
	Summary      string     `json:"summary"`
	Subtopics    []Subtopic `json:"subtopics"`
	KeyTerms     []string   `json:"key_terms"`
	KeyTakeaways []string   `json:"key_takeaways"`
}

// Subtopic groups bullets under one thematic heading.
type Subtopic struct {
	Title   string   `json:"title"`
	Bullets []string `json:"bullets"`
}

// Valid reports whether the note satisfies the minimal schema contract:
// a title, a summary, and at least one subtopic with at least one
// bullet.
func (n *StructuredNote) Valid() bool {
	if n == nil || n.Title == "" || n.Summary == "" || len(n.Subtopics) == 0 {
		return false
	}
	for _, st := range n.Subtopics {
		if st.Title == "" || len(st.Bullets) == 0 {
			return false
		}
	}
	return true
}

// structuredNoteSchema is the JSON schema sent to the model for
// structured output, built once at init.
var structuredNoteSchema = mustSchema()

func mustSchema() *jsonschema.Schema {
	s, err := jsonschema.For[StructuredNote](nil)
	if err != nil {
		panic(err)
	}
	return formatStrict(s)
}

// formatStrict prepares a schema for the OpenAI strict structured-output
// mode: every object forbids additional properties and requires all of
// its declared properties.
func formatStrict(s *jsonschema.Schema) *jsonschema.Schema {
	if s == nil {
		return nil
	}
	switch s.Type {
	case "array":
		s.Items = formatStrict(s.Items)
	case "object":
		s.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
		s.Required = s.Required[:0]
		for name := range s.Properties {
			s.Required = append(s.Required, name)
		}
		sort.Strings(s.Required)
		for name, prop := range s.Properties {
			s.Properties[name] = formatStrict(prop)
		}
	}
	return s
}
