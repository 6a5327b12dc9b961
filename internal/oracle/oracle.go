// Package oracle drives the external reasoning oracle that performs
// root-cause analysis and opens fix pull requests.
//
// The oracle is a conversational LLM given a small set of tools for
// gathering evidence (issue details, file contents) and acting on the
// code host (branches, commits, pull requests). Conversations are
// turn-capped: the dominant cost of the system is oracle calls, and a
// runaway conversation is a runaway bill.
package oracle

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedOracleResponse is returned when the oracle's final payload
// cannot be parsed into the documented schema, or parses but fails
// validation.
var ErrMalformedOracleResponse = errors.New("malformed oracle response")

// EventType classifies progress events emitted during an analysis.
type EventType string

const (
	// EventStatus marks coarse progress ("Analyzing Sentry issue ...").
	EventStatus EventType = "status"
	// EventThinking forwards a truncated preview of intermediate oracle text.
	EventThinking EventType = "thinking"
	// EventResult carries the terminal parsed payload.
	EventResult EventType = "result"
	// EventError carries a terminal failure message.
	EventError EventType = "error"
)

// Event is one entry in an analysis progress stream. Exactly one event of
// type result or error terminates a successful stream; a stream cut short
// by context cancellation closes without a terminal event.
type Event struct {
	Type    EventType `json:"type"`
	Message string    `json:"message,omitempty"`
	Result  *Result   `json:"result,omitempty"`
}

// AnalyzeRequest identifies the issue to analyze.
type AnalyzeRequest struct {
	IssueID      string
	Organization string
	// ErrorType selects error-type-filtered learned patterns when known
	// (batch runs); empty selects the full pattern context.
	ErrorType string
}

// TestCase is one generated test in an analysis result.
type TestCase struct {
	Name string `json:"name,omitempty"`
	Code string `json:"code"`
	// Type is smoke, regression, or edge_case.
	Type string `json:"type,omitempty"`
}

// Evidence collects the supporting data behind a root-cause verdict.
// Sections for unavailable integrations arrive as empty objects, not
// omissions; readers treat every field as optional regardless.
type Evidence struct {
	StackTraceSummary string                 `json:"stack_trace_summary,omitempty"`
	Infrastructure    map[string]interface{} `json:"infrastructure,omitempty"`
	UserSessions      map[string]interface{} `json:"user_sessions,omitempty"`
	CodeContext       map[string]interface{} `json:"code_context,omitempty"`
}

// Result is the oracle's analysis payload, parsed strictly at the
// conversation boundary.
type Result struct {
	ErrorType      string     `json:"error_type"`
	ErrorMessage   string     `json:"error_message,omitempty"`
	FilePath       string     `json:"file_path,omitempty"`
	LineNumber     int        `json:"line_number,omitempty"`
	FunctionName   string     `json:"function_name,omitempty"`
	RootCause      string     `json:"root_cause"`
	FixConfidence  float64    `json:"fix_confidence"`
	FixCode        string     `json:"fix_code,omitempty"`
	TestCases      []TestCase `json:"test_cases,omitempty"`
	MatchedPattern bool       `json:"matched_pattern,omitempty"`
	Evidence       *Evidence  `json:"evidence,omitempty"`
	// InfrastructureCorrelation scores 0.0-1.0 how strongly the issue
	// correlates with infrastructure problems.
	InfrastructureCorrelation float64 `json:"infrastructure_correlation,omitempty"`
	// UserImpactScore scores 0.0-100.0 estimated user impact.
	UserImpactScore float64 `json:"user_impact_score,omitempty"`
}

// Validate checks the fields every downstream consumer depends on.
func (r *Result) Validate() error {
	if strings.TrimSpace(r.RootCause) == "" {
		return fmt.Errorf("%w: missing root_cause", ErrMalformedOracleResponse)
	}
	if r.FixConfidence < 0 || r.FixConfidence > 1 {
		return fmt.Errorf("%w: fix_confidence %v outside [0, 1]", ErrMalformedOracleResponse, r.FixConfidence)
	}
	return nil
}

// TestCode joins the generated test cases into a single source block.
func (r *Result) TestCode() string {
	var blocks []string
	for _, tc := range r.TestCases {
		if tc.Code != "" {
			blocks = append(blocks, tc.Code)
		}
	}
	return strings.Join(blocks, "\n\n")
}

// PRRequest carries a completed analysis into the pull-request round-trip.
type PRRequest struct {
	IssueID   string
	SentryURL string
	Result    *Result
}

// PRResult identifies the pull request the oracle opened.
type PRResult struct {
	URL       string   `json:"url"`
	Number    int      `json:"number"`
	Branch    string   `json:"branch"`
	Files     []string `json:"files,omitempty"`
	Reviewers []string `json:"reviewers,omitempty"`
	TestFile  string   `json:"test_file,omitempty"`
	// TestStrategy is added_to_existing or created_new.
	TestStrategy string `json:"test_strategy,omitempty"`
}

// Validate checks that the oracle actually opened a pull request rather
// than returning a plan.
func (p *PRResult) Validate() error {
	if p.URL == "" || p.Number <= 0 || p.Branch == "" {
		return fmt.Errorf("%w: pull request response missing url, number, or branch", ErrMalformedOracleResponse)
	}
	return nil
}

// Oracle is the reasoning-oracle contract consumed by the analysis
// orchestrator.
type Oracle interface {
	// Analyze starts an analysis conversation and returns its event
	// stream. The stream is closed after the terminal result or error
	// event, or without one if ctx is cancelled first. Cancelling ctx
	// stops the conversation before any further oracle call.
	Analyze(ctx context.Context, req AnalyzeRequest) (<-chan Event, error)

	// CreateFixPR runs the pull-request round-trip for a completed
	// analysis and returns the opened PR.
	CreateFixPR(ctx context.Context, req PRRequest) (*PRResult, error)
}
