package diagnostics

import (
	"encoding/json"
	"regexp"
)

// MaxStringLength caps string values forwarded to a sink.
const MaxStringLength = 200

const redacted = "[REDACTED]"

var sensitiveKey = regexp.MustCompile(`(?i)password|secret|token|auth`)

// Sanitize returns a JSON-shaped copy of v with sensitive keys redacted and
// long strings truncated. Values that cannot be encoded become nil.
func Sanitize(v any) any {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil
	}
	return scrub(generic)
}

func scrub(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			if sensitiveKey.MatchString(k) {
				out[k] = redacted
				continue
			}
			out[k] = scrub(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = scrub(inner)
		}
		return out
	case string:
		runes := []rune(val)
		if len(runes) > MaxStringLength {
			return string(runes[:MaxStringLength]) + "..."
		}
		return val
	default:
		return val
	}
}
