// Package analysis orchestrates root-cause analyses: it owns the analysis
// record table, drives the reasoning oracle, streams progress events, and
// sequences the pull-request round-trip.
package analysis

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/rcad/internal/oracle"
)

// Status is the lifecycle state of one analysis. The only transitions are
// analyzing to a terminal state; terminal states never change.
type Status string

const (
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether s is a terminal status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// PRState tracks the pull-request sub-protocol on a completed analysis.
type PRState string

const (
	PRStateNone     PRState = ""
	PRStateCreating PRState = "creating"
	PRStateCreated  PRState = "created"
	PRStateFailed   PRState = "failed"
)

// cancelMessage is the error-typed event text reported for a cancelled
// analysis.
const cancelMessage = "Analysis cancelled by user - no more API calls"

// ErrNotFound is returned for unknown analysis IDs.
var ErrNotFound = errors.New("analysis not found")

// ErrNoResult is returned when a completed analysis carries no result
// payload.
var ErrNoResult = errors.New("result not available")

// NotCompletedError rejects operations that need a completed analysis.
type NotCompletedError struct {
	Status Status
}

func (e *NotCompletedError) Error() string {
	return fmt.Sprintf("analysis not completed (status: %s)", e.Status)
}

// LowConfidenceError rejects PR creation below the confidence floor.
type LowConfidenceError struct {
	Confidence float64
}

func (e *LowConfidenceError) Error() string {
	return fmt.Sprintf("Fix confidence too low (%.0f%%). Manual review required.", e.Confidence*100)
}

// Event is one entry in an analysis's append-only event log. Result
// events carry the post-processed payload under data; all other types
// carry a message.
type Event struct {
	Type    oracle.EventType `json:"type"`
	Message string           `json:"message,omitempty"`
	Data    *Result          `json:"data,omitempty"`
}

// Terminal reports whether this event ends a stream.
func (e Event) Terminal() bool {
	return e.Type == oracle.EventResult || e.Type == oracle.EventError
}

// Result is the outward analysis payload: the oracle's verdict plus the
// fields derived by post-processing.
type Result struct {
	oracle.Result

	IssueID   string `json:"issue_id"`
	SentryURL string `json:"sentry_url"`
	// CanAutoFix and RequiresApproval partition on the auto-fix
	// confidence threshold; exactly one is true.
	CanAutoFix       bool   `json:"can_auto_fix"`
	RequiresApproval bool   `json:"requires_approval"`
	LearnedContext   string `json:"learned_context"`
	TestCode         string `json:"test_code"`
	// Cross-issue correlation is not populated yet; the fields stay so
	// the payload shape is stable for clients.
	SameFileIssues      []string `json:"same_file_issues"`
	CodebaseIssues      []string `json:"codebase_issues"`
	RelatedSentryIssues []string `json:"related_sentry_issues"`
}

// StartRequest identifies the issue an analysis should cover.
type StartRequest struct {
	IssueID      string
	Organization string
	// ErrorType selects error-type-filtered pattern context (batch runs).
	ErrorType string
}

// StartInfo acknowledges a started analysis.
type StartInfo struct {
	AnalysisID string `json:"analysis_id"`
	Status     Status `json:"status"`
}

// CancelAck reports the outcome of a cancellation request.
type CancelAck struct {
	Status  string `json:"status"` // cancelled, not_running, or already_stopped
	Message string `json:"message"`
}

// PRAck reports the outcome of a PR creation request.
type PRAck struct {
	Status  string `json:"status"` // creating or exists
	Message string `json:"message,omitempty"`
	URL     string `json:"pr_url,omitempty"`
	Number  int    `json:"pr_number,omitempty"`
	Branch  string `json:"branch,omitempty"`
}

// PRInfo is the local view of the PR sub-protocol state.
type PRInfo struct {
	State  PRState `json:"pr_status"`
	URL    string  `json:"pr_url,omitempty"`
	Number int     `json:"pr_number,omitempty"`
	Branch string  `json:"branch,omitempty"`
	Error  string  `json:"pr_error,omitempty"`
}

// HistoryEntry is one analysis in the history listing.
type HistoryEntry struct {
	AnalysisID    string    `json:"analysis_id"`
	IssueID       string    `json:"issue_id"`
	Organization  string    `json:"organization,omitempty"`
	Status        Status    `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ErrorType     string    `json:"error_type,omitempty"`
	FixConfidence float64   `json:"fix_confidence,omitempty"`
	PRURL         string    `json:"pr_url,omitempty"`
	Error         string    `json:"error,omitempty"`
}

// Stats summarizes the in-process analysis table.
type Stats struct {
	Total      int `json:"total"`
	Analyzing  int `json:"analyzing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Cancelled  int `json:"cancelled"`
	PRsCreated int `json:"prs_created"`
}

// Record is the full in-memory state of one analysis. Records are owned
// by the registry; callers receive copies.
type Record struct {
	ID           string
	IssueID      string
	Organization string
	Status       Status
	CreatedAt    time.Time
	Events       []Event
	Result       *Result
	Error        string

	PRState  PRState
	PRURL    string
	PRNumber int
	PRBranch string
	PRError  string
}
