// Package discovery finds, scores, and queues Sentry issues for analysis:
// a scanner that pages unresolved issues out of Sentry, a deterministic
// priority score, an error-type grouper that feeds batch analysis, and the
// in-memory work queue the analysis endpoints operate on.
package discovery

import (
	"strings"
	"time"
)

// Issue is a scored issue as it moves through scan, grouping, and the
// queue.
type Issue struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ErrorCount int    `json:"error_count"`
	UserCount  int    `json:"user_count"`
	LastSeen   string `json:"last_seen"`
	Priority   int    `json:"priority"`
}

// Score computes an issue priority in [0, 100]. Components are capped
// before summing: frequency up to 50 (one point per 10 errors), user
// impact up to 30 (one point per 10 users), recency up to 20 (full marks
// under an hour old, fading to zero at 20 hours).
//
// A missing or unparsable lastSeen contributes no recency, it never fails
// the score.
func Score(errorCount, userCount int, lastSeen string, now time.Time) int {
	score := min(float64(errorCount)/10, 50)
	score += min(float64(userCount)/10, 30)

	if seen, ok := parseLastSeen(lastSeen); ok {
		hours := now.Sub(seen).Hours()
		score += min(max(20-hours, 0), 20)
	}
	return int(score)
}

func parseLastSeen(value string) (time.Time, bool) {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// errorSignatures is the ordered classification table for issue titles.
// First match wins; alternations share one bucket where the errors are
// interchangeable for analysis (every DB driver error gets the same fix
// context). Bare "Timeout"/"Connection" come after the specific names so
// "ConnectionError" never lands in a generic bucket.
var errorSignatures = []struct {
	bucket string
	names  []string
}{
	{bucket: "KeyError", names: []string{"KeyError"}},
	{bucket: "TypeError", names: []string{"TypeError"}},
	{bucket: "ValueError", names: []string{"ValueError"}},
	{bucket: "AttributeError", names: []string{"AttributeError"}},
	{bucket: "IndexError", names: []string{"IndexError"}},
	{bucket: "NameError", names: []string{"NameError"}},
	{bucket: "RuntimeError", names: []string{"RuntimeError"}},
	{bucket: "DatabaseError", names: []string{"DatabaseError", "IntegrityError", "OperationalError"}},
	{bucket: "TimeoutError", names: []string{"TimeoutError", "Timeout"}},
	{bucket: "ConnectionError", names: []string{"ConnectionError", "Connection"}},
	{bucket: "ValidationError", names: []string{"ValidationError"}},
	{bucket: "HTTPException", names: []string{"HTTPException"}},
	{bucket: "ApiError", names: []string{"ApiError"}},
}

// BucketOther collects titles matching no known signature.
const BucketOther = "Other"

// ExtractErrorType classifies an issue title into its error-type bucket
// via ordered case-insensitive substring match.
func ExtractErrorType(title string) string {
	lower := strings.ToLower(title)
	for _, sig := range errorSignatures {
		for _, name := range sig.names {
			if strings.Contains(lower, strings.ToLower(name)) {
				return sig.bucket
			}
		}
	}
	return BucketOther
}

// GroupByErrorType buckets issues by error type so same-type issues can be
// analyzed as one batch against a shared oracle prompt prefix. Order within
// a bucket follows input order.
func GroupByErrorType(issues []Issue) map[string][]Issue {
	groups := make(map[string][]Issue)
	for _, issue := range issues {
		et := ExtractErrorType(issue.Title)
		groups[et] = append(groups[et], issue)
	}
	return groups
}
