package analysis

import (
	"context"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/rcad/internal/oracle"
)

// registry is the process-wide analysis record table. One coarse lock
// guards the records and the cancel funcs together; records are only
// ever mutated through registry methods, so per-record locks are not
// needed. Records are never deleted in-process.
type registry struct {
	mu      sync.RWMutex
	records map[string]*Record
	cancels map[string]context.CancelFunc
}

func newRegistry() *registry {
	return &registry{
		records: make(map[string]*Record),
		cancels: make(map[string]context.CancelFunc),
	}
}

func (r *registry) add(rec *Record, cancel context.CancelFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[rec.ID] = rec
	r.cancels[rec.ID] = cancel
}

// snapshot returns a copy of the record. The Result pointer is shared:
// results are immutable once set.
func (r *registry) snapshot(id string) (Record, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return Record{}, false
	}
	out := *rec
	out.Events = append([]Event(nil), rec.Events...)
	return out, true
}

func (r *registry) status(id string) (Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return "", false
	}
	return rec.Status, true
}

// appendEvent adds to the event log. Terminal records refuse appends so
// a late oracle event cannot trail a cancellation.
func (r *registry) appendEvent(id string, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status.Terminal() {
		return
	}
	rec.Events = append(rec.Events, ev)
}

// eventsSince copies the event log tail from offset.
func (r *registry) eventsSince(id string, offset int) ([]Event, Status, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.records[id]
	if !ok {
		return nil, "", false
	}
	if offset < 0 {
		offset = 0
	}
	if offset >= len(rec.Events) {
		return nil, rec.Status, true
	}
	return append([]Event(nil), rec.Events[offset:]...), rec.Status, true
}

// failWithError atomically appends an error event and moves the record
// to failed. Returns false when the record is unknown or already
// terminal; terminal states never transition.
func (r *registry) failWithError(id, errMsg string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status.Terminal() {
		return false
	}
	rec.Events = append(rec.Events, Event{Type: oracle.EventError, Message: errMsg})
	rec.Status = StatusFailed
	rec.Error = errMsg
	return true
}

// completeWithResult atomically appends the result event and moves the
// record to completed. A cancellation that won the race keeps the record
// cancelled and the result is dropped.
func (r *registry) completeWithResult(id string, res *Result) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status.Terminal() {
		return false
	}
	rec.Events = append(rec.Events, Event{Type: oracle.EventResult, Data: res})
	rec.Status = StatusCompleted
	rec.Result = res
	return true
}

// markCancelled atomically appends the cancellation event and moves the
// record to cancelled.
func (r *registry) markCancelled(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok || rec.Status.Terminal() {
		return false
	}
	rec.Events = append(rec.Events, Event{Type: oracle.EventError, Message: cancelMessage})
	rec.Status = StatusCancelled
	rec.Error = cancelMessage
	return true
}

func (r *registry) cancelFunc(id string) (context.CancelFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.cancels[id]
	return fn, ok
}

// dropCancel removes the cancel func when the driving goroutine exits;
// its absence is what "already stopped" means.
func (r *registry) dropCancel(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.cancels, id)
}

// beginPR claims the PR slot. A fresh or failed state is claimable;
// creating and created are not. Returns the state after the call and
// whether the claim succeeded.
func (r *registry) beginPR(id string) (PRState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return PRStateNone, false
	}
	switch rec.PRState {
	case PRStateNone, PRStateFailed:
		rec.PRState = PRStateCreating
		rec.PRError = ""
		return PRStateCreating, true
	default:
		return rec.PRState, false
	}
}

func (r *registry) finishPR(id string, state PRState, pr *oracle.PRResult, errMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.records[id]
	if !ok {
		return
	}
	rec.PRState = state
	rec.PRError = errMsg
	if pr != nil {
		rec.PRURL = pr.URL
		rec.PRNumber = pr.Number
		rec.PRBranch = pr.Branch
	}
}

func (r *registry) history(limit int) []HistoryEntry {
	r.mu.RLock()
	defer r.mu.RUnlock()

	entries := make([]HistoryEntry, 0, len(r.records))
	for _, rec := range r.records {
		e := HistoryEntry{
			AnalysisID:   rec.ID,
			IssueID:      rec.IssueID,
			Organization: rec.Organization,
			Status:       rec.Status,
			CreatedAt:    rec.CreatedAt,
			PRURL:        rec.PRURL,
			Error:        rec.Error,
		}
		if rec.Result != nil {
			e.ErrorType = rec.Result.ErrorType
			e.FixConfidence = rec.Result.FixConfidence
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].AnalysisID < entries[j].AnalysisID
		}
		return entries[i].CreatedAt.After(entries[j].CreatedAt)
	})

	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

func (r *registry) stats() Stats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s := Stats{Total: len(r.records)}
	for _, rec := range r.records {
		switch rec.Status {
		case StatusAnalyzing:
			s.Analyzing++
		case StatusCompleted:
			s.Completed++
		case StatusFailed:
			s.Failed++
		case StatusCancelled:
			s.Cancelled++
		}
		if rec.PRState == PRStateCreated {
			s.PRsCreated++
		}
	}
	return s
}
