// Package score rates the pedagogical salience of a transcript segment.
//
// Scoring is a pure function of the segment text and its speaking
// duration. Four component signals are combined into a weighted
// importance value; every component and the final value are clamped to
// [0, 1].
package score

import (
	"math"
	"strings"
	"unicode"
)

// Weights and normalization constants. The keyword set and weights are
// tuneable; these defaults favor explicit emphasis ("important",
// "exam") and complete, information-dense sentences.
const (
	weightKeyword      = 0.3
	weightSpeakingRate = 0.2
	weightLength       = 0.2
	weightSentence     = 0.3

	keywordNorm  = 2.0
	lengthNorm   = 20.0
	sentenceNorm = 3.0

	// rateCenter is the words-per-second value mapped to 0.5 by the
	// logistic curve.
	rateCenter = 2.0

	// wordsPerSecondEstimate assumes 150 words per minute when no
	// measured duration is available.
	wordsPerSecondEstimate = 2.5

	// minDuration floors the duration to keep the rate computation
	// defined for degenerate inputs.
	minDuration = 0.001
)

var keywords = map[string]struct{}{
	"important": {}, "definition": {}, "remember": {}, "note": {},
	"exam": {}, "formula": {}, "must": {}, "key": {},
	"significant": {}, "critical": {}, "essential": {}, "concept": {},
	"principle": {}, "theory": {}, "algorithm": {}, "method": {},
	"approach": {}, "technique": {}, "strategy": {}, "solution": {},
}

// Score holds the weighted importance of a segment and its components.
// All score fields are in [0, 1].
type Score struct {
	Importance   float64 `json:"importance"`
	Keyword      float64 `json:"keyword_score"`
	SpeakingRate float64 `json:"speaking_rate_score"`
	Length       float64 `json:"length_score"`
	Sentence     float64 `json:"sentence_score"`

	// WordsPerSec and Duration are the measured inputs behind the
	// rate component, kept for audit records.
	WordsPerSec float64 `json:"words_per_sec"`
	WordCount   int     `json:"word_count"`
	Duration    float64 `json:"duration"`
}

// Text scores a transcript text given its speaking duration in seconds.
// A non-positive duration is estimated from the word count at 150 words
// per minute. Empty text scores zero across the board.
func Text(text string, duration float64) Score {
	words := tokenize(text)
	if len(words) == 0 {
		return Score{Duration: minDuration}
	}

	if duration <= 0 {
		duration = float64(len(words)) / wordsPerSecondEstimate
	}
	duration = math.Max(duration, minDuration)

	wps := float64(len(words)) / duration

	s := Score{
		Keyword:      clamp(keywordScore(words)),
		SpeakingRate: clamp(logistic(wps - rateCenter)),
		Length:       clamp(float64(len(words)) / lengthNorm),
		Sentence:     clamp(float64(sentenceCount(text)) / sentenceNorm),
		WordsPerSec:  wps,
		WordCount:    len(words),
		Duration:     duration,
	}
	s.Importance = clamp(weightKeyword*s.Keyword +
		weightSpeakingRate*s.SpeakingRate +
		weightLength*s.Length +
		weightSentence*s.Sentence)
	return s
}

func keywordScore(words []string) float64 {
	hits := 0
	for _, w := range words {
		if _, ok := keywords[w]; ok {
			hits++
		}
	}
	return float64(hits) / keywordNorm
}

func logistic(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}

func clamp(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r) && r != '\''
	})
}

func sentenceCount(text string) int {
	n := 0
	inSentence := false
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			if inSentence {
				n++
				inSentence = false
			}
		default:
			if !unicode.IsSpace(r) {
				inSentence = true
			}
		}
	}
	if inSentence {
		n++
	}
	return n
}
