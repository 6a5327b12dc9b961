package patterns

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/fyrsmithlabs/rcad/internal/vectorstore"
)

// formatPatterns renders stored documents as the two-section prompt block.
// The output is a pure function of store contents: lines are sorted within
// each section and carry no timestamps or IDs, so unchanged state always
// formats to identical bytes.
func formatPatterns(results []vectorstore.SearchResult) string {
	var successes, antis []string

	for _, res := range results {
		confidence := metadataFloat(res.Metadata, "confidence")
		if confidence < displayThreshold {
			continue
		}
		errorType := metadataString(res.Metadata, "error_type")
		if errorType == "" {
			errorType = "Unknown"
		}

		switch metadataString(res.Metadata, "category") {
		case CategoryPattern:
			approach := metadataString(res.Metadata, "fix_approach")
			if approach == "" {
				// Records written before fix_approach was mirrored into
				// metadata carry it only in the document content.
				approach = res.Content
			}
			successes = append(successes, fmt.Sprintf("- %s (confidence: %.0f%%): %s", errorType, confidence*100, approach))
		case CategoryAntiPattern:
			failed := metadataString(res.Metadata, "failed_approach")
			reason := metadataString(res.Metadata, "reason")
			antis = append(antis, fmt.Sprintf("- %s: AVOID '%s' (%s)", errorType, failed, reason))
		}
	}

	var sections []string
	if len(successes) > 0 {
		sort.Strings(successes)
		sections = append(sections, headerPatterns)
		sections = append(sections, successes...)
	}
	if len(antis) > 0 {
		sort.Strings(antis)
		sections = append(sections, headerAntiPatterns)
		sections = append(sections, antis...)
	}
	if len(sections) == 0 {
		return msgNoPatterns
	}
	return strings.Join(sections, "\n")
}

// filterByErrorType keeps pattern lines that mention errorType. A section
// header survives only when at least one line under it matches; an empty
// filter result yields a per-type empty message so callers always get
// usable prompt text.
func filterByErrorType(text, errorType string) string {
	needle := strings.ToLower(errorType)

	var sections [][]string
	var current []string
	flush := func() {
		// Header plus at least one matching line.
		if len(current) > 1 {
			sections = append(sections, current)
		}
		current = nil
	}

	for _, line := range strings.Split(text, "\n") {
		switch {
		case strings.HasPrefix(line, "##"):
			flush()
			current = []string{line}
		case strings.HasPrefix(strings.TrimSpace(line), "-") && strings.Contains(strings.ToLower(line), needle):
			if current != nil {
				current = append(current, line)
			}
		}
	}
	flush()

	if len(sections) == 0 {
		return fmt.Sprintf("No learned patterns yet for %s.", errorType)
	}

	var out []string
	for i, section := range sections {
		if i > 0 {
			out = append(out, "")
		}
		out = append(out, section...)
	}
	return strings.Join(out, "\n")
}

// metadataString reads a string metadata field, tolerating missing keys and
// non-string values.
func metadataString(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	if s, ok := m[key].(string); ok {
		return s
	}
	return ""
}

// metadataFloat reads a numeric metadata field. The chromem backend
// round-trips metadata values as strings while qdrant returns typed values,
// so both shapes are accepted. Missing or unparsable values read as 0.
func metadataFloat(m map[string]interface{}, key string) float64 {
	if m == nil {
		return 0
	}
	switch v := m[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return 0
}
