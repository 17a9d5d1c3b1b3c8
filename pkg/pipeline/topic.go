package pipeline

import "strings"

// transitionPhrases mark an explicit change of subject in the
// lecturer's speech. Any match triggers early synthesis.
var transitionPhrases = []string{
	"now let's move on",
	"next topic",
	"moving on to",
	"let's discuss",
	"now we'll talk about",
	"switching to",
	"another important topic",
}

// topicShift reports whether text announces a topic transition.
// previous is the number of earlier buffered entries the shift would
// break away from; with none there is nothing to shift from.
func topicShift(text string, previous int) bool {
	if previous <= 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, p := range transitionPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
