package sentry

import (
	"fmt"
	"strconv"
	"strings"
)

// Count unmarshals Sentry count fields. The issues list endpoint returns
// counts as JSON strings ("4123"); some detail responses use numbers.
type Count int

// UnmarshalJSON accepts a JSON number, a numeric string, or null.
func (c *Count) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return fmt.Errorf("invalid count %q", s)
		}
		n = int(f)
	}
	*c = Count(n)
	return nil
}

// Issue is one entry from the organization issues endpoint.
type Issue struct {
	ID        string `json:"id"`
	ShortID   string `json:"shortId"`
	Title     string `json:"title"`
	Culprit   string `json:"culprit"`
	Count     Count  `json:"count"`
	UserCount Count  `json:"userCount"`
	// LastSeen stays a string; the priority scorer parses it and treats an
	// unparsable value as "no recency signal" rather than an error.
	LastSeen string        `json:"lastSeen"`
	Metadata IssueMetadata `json:"metadata"`
}

// IssueMetadata carries the subset of issue metadata rcad reads.
type IssueMetadata struct {
	Filename string `json:"filename"`
	Type     string `json:"type"`
	Value    string `json:"value"`
}

// IssueDetails is the single-issue endpoint response, which additionally
// carries the activity log.
type IssueDetails struct {
	Issue
	Activity []Activity `json:"activity"`
}

// Activity is one issue activity entry.
type Activity struct {
	Type string       `json:"type"`
	Data ActivityData `json:"data"`
}

// ActivityData holds activity payloads; only resolution commits are read.
type ActivityData struct {
	Commit *Commit `json:"commit"`
}

// Commit describes the commit attached to a set_resolved_in_commit
// activity.
type Commit struct {
	ID          string      `json:"id"`
	Message     string      `json:"message"`
	DateCreated string      `json:"dateCreated"`
	Repository  *Repository `json:"repository"`
}

// Repository is the repository a commit belongs to.
type Repository struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}
