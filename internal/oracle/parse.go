package oracle

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// codeFenceRegex captures the body of the first markdown code fence,
// with or without a language tag.
var codeFenceRegex = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// Parse extracts a JSON value of type T from oracle output. Oracles are
// instructed to return bare JSON but routinely wrap it in code fences or
// surround it with prose, so parsing runs a recovery chain: direct
// unmarshal, then the first code-fence body, then the widest
// brace-delimited substring. Single-quote to double-quote rewriting is
// deliberately absent: it corrupts valid JSON containing apostrophes.
func Parse[T any](text string) (T, error) {
	var zero T

	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return zero, fmt.Errorf("%w: empty response", ErrMalformedOracleResponse)
	}

	out := zero
	firstErr := json.Unmarshal([]byte(trimmed), &out)
	if firstErr == nil {
		return out, nil
	}

	if fenced := stripCodeFences(trimmed); fenced != trimmed {
		out = zero
		if err := json.Unmarshal([]byte(fenced), &out); err == nil {
			return out, nil
		}
	}

	if body := widestObject(trimmed); body != "" && body != trimmed {
		out = zero
		if err := json.Unmarshal([]byte(body), &out); err == nil {
			return out, nil
		}
	}

	return zero, fmt.Errorf("%w: no valid JSON in response: %v", ErrMalformedOracleResponse, firstErr)
}

// stripCodeFences returns the body of the first code fence, or the input
// unchanged when no fence is present.
func stripCodeFences(text string) string {
	if m := codeFenceRegex.FindStringSubmatch(text); m != nil {
		return strings.TrimSpace(m[1])
	}
	return text
}

// widestObject returns the substring from the first '{' to the last '}',
// or "" when the text holds no such span.
func widestObject(text string) string {
	start := strings.Index(text, "{")
	end := strings.LastIndex(text, "}")
	if start == -1 || end <= start {
		return ""
	}
	return text[start : end+1]
}
