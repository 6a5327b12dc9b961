package analysis

import (
	"context"
	"time"
)

// Batch event types.
const (
	BatchStart         = "batch_start"
	BatchIssueStart    = "issue_start"
	BatchIssueComplete = "issue_complete"
	BatchIssueError    = "issue_error"
	BatchComplete      = "batch_complete"
)

const batchEventBuffer = 16

// BatchEvent is one entry in a batch coordination stream.
type BatchEvent struct {
	Type       string        `json:"type"`
	ErrorType  string        `json:"error_type,omitempty"`
	Total      int           `json:"total,omitempty"`
	IssueID    string        `json:"issue_id,omitempty"`
	AnalysisID string        `json:"analysis_id,omitempty"`
	Error      string        `json:"error,omitempty"`
	Analyzed   int           `json:"analyzed,omitempty"`
	Failed     int           `json:"failed,omitempty"`
	Results    []BatchResult `json:"results,omitempty"`
}

// BatchResult summarizes one issue's outcome within a batch.
type BatchResult struct {
	IssueID       string  `json:"issue_id"`
	AnalysisID    string  `json:"analysis_id,omitempty"`
	Status        Status  `json:"status"`
	ErrorType     string  `json:"error_type,omitempty"`
	FixConfidence float64 `json:"fix_confidence,omitempty"`
	Error         string  `json:"error,omitempty"`
}

// RunBatch analyzes issues one at a time, strictly serially: each
// issue's oracle conversation reuses the prompt prefix cached by the
// previous one in the same error-type batch, and that only holds when
// the conversations do not interleave. One issue's failure does not
// abort the batch. The stream closes after batch_complete, or early if
// ctx is cancelled; an analysis already in flight keeps running either
// way.
func (o *Orchestrator) RunBatch(ctx context.Context, issueIDs []string, organization, errorType string) <-chan BatchEvent {
	out := make(chan BatchEvent, batchEventBuffer)
	go o.runBatch(ctx, out, issueIDs, organization, errorType)
	return out
}

func (o *Orchestrator) runBatch(ctx context.Context, out chan<- BatchEvent, issueIDs []string, organization, errorType string) {
	defer close(out)
	batchesTotal.Inc()

	emit := func(ev BatchEvent) bool {
		select {
		case out <- ev:
			return true
		case <-ctx.Done():
			return false
		}
	}

	if !emit(BatchEvent{Type: BatchStart, Total: len(issueIDs), ErrorType: errorType}) {
		return
	}

	var analyzed, failed int
	results := make([]BatchResult, 0, len(issueIDs))

	for _, issueID := range issueIDs {
		if ctx.Err() != nil {
			return
		}
		if !emit(BatchEvent{Type: BatchIssueStart, IssueID: issueID}) {
			return
		}

		info, err := o.Start(ctx, StartRequest{
			IssueID:      issueID,
			Organization: organization,
			ErrorType:    errorType,
		})
		if err != nil {
			failed++
			results = append(results, BatchResult{IssueID: issueID, Status: StatusFailed, Error: err.Error()})
			if !emit(BatchEvent{Type: BatchIssueError, IssueID: issueID, Error: err.Error()}) {
				return
			}
			continue
		}

		rec, err := o.awaitTerminal(ctx, info.AnalysisID)
		if err != nil {
			return
		}

		br := BatchResult{
			IssueID:    issueID,
			AnalysisID: info.AnalysisID,
			Status:     rec.Status,
			Error:      rec.Error,
		}
		if rec.Result != nil {
			br.ErrorType = rec.Result.ErrorType
			br.FixConfidence = rec.Result.FixConfidence
		}
		results = append(results, br)

		if rec.Status == StatusCompleted {
			analyzed++
			if !emit(BatchEvent{Type: BatchIssueComplete, IssueID: issueID, AnalysisID: info.AnalysisID}) {
				return
			}
		} else {
			failed++
			if !emit(BatchEvent{Type: BatchIssueError, IssueID: issueID, AnalysisID: info.AnalysisID, Error: rec.Error}) {
				return
			}
		}
	}

	emit(BatchEvent{Type: BatchComplete, Analyzed: analyzed, Failed: failed, Results: results})
}

// awaitTerminal polls the record until it leaves analyzing.
func (o *Orchestrator) awaitTerminal(ctx context.Context, id string) (Record, error) {
	ticker := time.NewTicker(o.poll)
	defer ticker.Stop()
	for {
		st, ok := o.reg.status(id)
		if !ok {
			return Record{}, ErrNotFound
		}
		if st.Terminal() {
			rec, _ := o.reg.snapshot(id)
			return rec, nil
		}
		select {
		case <-ctx.Done():
			return Record{}, ctx.Err()
		case <-ticker.C:
		}
	}
}
