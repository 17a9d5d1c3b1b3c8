package notes

import (
	"encoding/json"
	"strings"

	"github.com/kaptinlin/jsonrepair"
)

// unmarshalLenient unmarshals model output into v, tolerating the usual
// LLM JSON defects: markdown fences, trailing commentary, minor syntax
// errors. A repair pass runs only when the strict parse fails.
func unmarshalLenient(data string, v any) error {
	data = stripFences(data)
	err := json.Unmarshal([]byte(data), v)
	if err == nil {
		return nil
	}
	fixed, rerr := jsonrepair.JSONRepair(data)
	if rerr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}

// stripFences removes a surrounding markdown code fence, if present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}
