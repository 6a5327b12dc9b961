package discovery

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Status is a queued issue's lifecycle state.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusAnalyzing Status = "analyzing"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
)

var (
	// ErrNotFound means the issue is not in the queue.
	ErrNotFound = errors.New("discovery: issue not found in queue")
	// ErrInvalidTransition means the issue is past the queued state.
	ErrInvalidTransition = errors.New("discovery: invalid status transition")
)

// TransitionError reports the state that blocked a transition. Unwraps to
// ErrInvalidTransition.
type TransitionError struct {
	IssueID string
	Status  Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("issue %s already %s", e.IssueID, e.Status)
}

func (e *TransitionError) Unwrap() error { return ErrInvalidTransition }

// QueuedIssue is one queue entry. Entries are unique per IssueID and live
// until explicitly removed.
type QueuedIssue struct {
	IssueID    string    `json:"issue_id"`
	Priority   int       `json:"priority"`
	ErrorCount int       `json:"error_count"`
	UserCount  int       `json:"user_count"`
	LastSeen   string    `json:"last_seen"`
	Title      string    `json:"title"`
	Status     Status    `json:"status"`
	AnalysisID string    `json:"analysis_id,omitempty"`
	Error      string    `json:"error,omitempty"`
	QueuedAt   time.Time `json:"queued_at"`
}

// Queue is the in-memory discovery queue. It is a passive store: status
// transitions are driven by the analysis layer, the queue only enforces
// uniqueness and the queued-to-analyzing gate. Not persisted across
// restarts.
type Queue struct {
	mu      sync.RWMutex
	entries []*QueuedIssue
	byID    map[string]*QueuedIssue
	now     func() time.Time
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{
		byID: make(map[string]*QueuedIssue),
		now:  time.Now,
	}
}

// Enqueue inserts a scored issue with status queued. A second enqueue of
// the same issue ID is a no-op that leaves the existing entry (status,
// priority, queued_at) untouched; it reports whether an insert happened.
func (q *Queue) Enqueue(issue Issue) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byID[issue.ID]; ok {
		return false
	}

	entry := &QueuedIssue{
		IssueID:    issue.ID,
		Priority:   issue.Priority,
		ErrorCount: issue.ErrorCount,
		UserCount:  issue.UserCount,
		LastSeen:   issue.LastSeen,
		Title:      issue.Title,
		Status:     StatusQueued,
		QueuedAt:   q.now().UTC(),
	}
	q.entries = append(q.entries, entry)
	q.byID[issue.ID] = entry
	queueDepth.Set(float64(len(q.entries)))
	return true
}

// List returns queue entries sorted by priority descending, ties in
// insertion order. A non-empty status filters; limit > 0 caps the result.
func (q *Queue) List(status Status, limit int) []QueuedIssue {
	q.mu.RLock()
	defer q.mu.RUnlock()

	out := make([]QueuedIssue, 0, len(q.entries))
	for _, entry := range q.entries {
		if status != "" && entry.Status != status {
			continue
		}
		out = append(out, *entry)
	}

	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority > out[j].Priority
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Get returns a copy of one entry.
func (q *Queue) Get(issueID string) (QueuedIssue, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()

	entry, ok := q.byID[issueID]
	if !ok {
		return QueuedIssue{}, false
	}
	return *entry, true
}

// Len returns the number of entries.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Remove deletes an entry. Returns ErrNotFound if absent.
func (q *Queue) Remove(issueID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.byID[issueID]; !ok {
		return ErrNotFound
	}
	delete(q.byID, issueID)
	for i, entry := range q.entries {
		if entry.IssueID == issueID {
			q.entries = append(q.entries[:i], q.entries[i+1:]...)
			break
		}
	}
	queueDepth.Set(float64(len(q.entries)))
	return nil
}

// MarkAnalyzing moves an entry from queued to analyzing, recording the
// analysis ID when given. Returns ErrNotFound if absent, or a
// TransitionError if the entry is past queued.
func (q *Queue) MarkAnalyzing(issueID, analysisID string) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.byID[issueID]
	if !ok {
		return ErrNotFound
	}
	if entry.Status != StatusQueued {
		return &TransitionError{IssueID: issueID, Status: entry.Status}
	}
	entry.Status = StatusAnalyzing
	if analysisID != "" {
		entry.AnalysisID = analysisID
	}
	return nil
}

// AttachAnalysis backfills the analysis ID on an analyzing entry, for
// callers that claim the entry before the analysis ID exists.
// Best-effort: unknown or non-analyzing entries are left alone.
func (q *Queue) AttachAnalysis(issueID, analysisID string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if entry, ok := q.byID[issueID]; ok && entry.Status == StatusAnalyzing {
		entry.AnalysisID = analysisID
	}
}

// Resolve records an analysis outcome (completed or failed) on an entry.
// Best-effort: a missing entry is ignored, since analyses can be started
// directly without ever passing through the queue.
func (q *Queue) Resolve(issueID string, status Status, analysisID, errMsg string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	entry, ok := q.byID[issueID]
	if !ok {
		return
	}
	entry.Status = status
	if analysisID != "" {
		entry.AnalysisID = analysisID
	}
	entry.Error = errMsg
}
