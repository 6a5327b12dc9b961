// Package secrets scrubs credentials out of text before it is persisted.
//
// Pattern text fed to the store originates in stack traces, error messages,
// and oracle output, any of which can embed live tokens. The scrubber runs
// the Gitleaks ruleset (800+ patterns) over the text and replaces matches
// with [REDACTED:rule-id:preview] markers that keep enough context for
// embeddings to stay meaningful.
package secrets

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/zricethezav/gitleaks/v8/detect"
)

// Finding is one detected secret with its location.
type Finding struct {
	RuleID   string
	RuleDesc string
	Line     int // 1-indexed
	StartCol int
	EndCol   int
	Match    string
}

// Result holds the outcome of a scrub or check.
type Result struct {
	Scrubbed string
	Findings []Finding
	ByRule   map[string]int
	Duration time.Duration
}

// HasSecrets reports whether anything was detected.
func (r *Result) HasSecrets() bool {
	return len(r.Findings) > 0
}

// Scrubber detects and redacts secrets.
type Scrubber struct {
	detector *detect.Detector
	enabled  bool
}

// Options configures a Scrubber.
type Options struct {
	// Enabled turns scrubbing off entirely when false; Scrub then returns
	// content unchanged.
	Enabled bool
	// AllowlistPath is an optional TOML allowlist merged into the ruleset.
	AllowlistPath string
}

// New builds a Scrubber. The Gitleaks detector compiles its full ruleset
// here, so construct once and share; Scrub and Check are safe for
// concurrent use.
func New(opts Options) (*Scrubber, error) {
	if !opts.Enabled {
		return &Scrubber{enabled: false}, nil
	}

	detector, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, fmt.Errorf("creating secret detector: %w", err)
	}

	if opts.AllowlistPath != "" {
		allowlist, err := LoadAllowlist(opts.AllowlistPath)
		if err != nil {
			return nil, err
		}
		if allowlist != nil {
			applyAllowlist(&detector.Config, allowlist)
		}
	}

	return &Scrubber{detector: detector, enabled: true}, nil
}

// IsEnabled reports whether scrubbing is active.
func (s *Scrubber) IsEnabled() bool {
	return s != nil && s.enabled
}

// Check detects secrets without modifying the content.
func (s *Scrubber) Check(content string) *Result {
	start := time.Now()
	result := &Result{
		Scrubbed: content,
		Findings: []Finding{},
		ByRule:   map[string]int{},
	}
	if !s.IsEnabled() {
		result.Duration = time.Since(start)
		return result
	}

	for _, f := range s.detector.DetectString(content) {
		result.Findings = append(result.Findings, Finding{
			RuleID:   f.RuleID,
			RuleDesc: f.Description,
			Line:     f.StartLine,
			StartCol: f.StartColumn,
			EndCol:   f.EndColumn,
			Match:    f.Secret,
		})
		result.ByRule[f.RuleID]++
	}
	result.Duration = time.Since(start)
	return result
}

// Scrub detects secrets and replaces each with a redaction marker.
func (s *Scrubber) Scrub(content string) *Result {
	result := s.Check(content)
	if len(result.Findings) == 0 {
		return result
	}
	start := time.Now()
	result.Scrubbed = replaceFindings(content, result.Findings)
	result.Duration += time.Since(start)
	return result
}

// replaceFindings substitutes markers for matches, walking findings in
// reverse position order so earlier replacements do not shift later
// indices.
func replaceFindings(content string, findings []Finding) string {
	sorted := make([]Finding, len(findings))
	copy(sorted, findings)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Line != sorted[j].Line {
			return sorted[i].Line > sorted[j].Line
		}
		return sorted[i].StartCol > sorted[j].StartCol
	})

	lines := strings.Split(content, "\n")
	for _, f := range sorted {
		if f.Line < 1 || f.Line > len(lines) {
			continue
		}
		line := lines[f.Line-1]
		if f.StartCol < 0 || f.EndCol > len(line) || f.StartCol > f.EndCol {
			continue
		}
		marker := fmt.Sprintf("[REDACTED:%s:%s]", f.RuleID, preview(f.Match, 4))
		lines[f.Line-1] = line[:f.StartCol] + marker + line[f.EndCol:]
	}
	return strings.Join(lines, "\n")
}

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
