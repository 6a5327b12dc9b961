package analysis

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/fyrsmithlabs/rcad/internal/discovery"
	"github.com/fyrsmithlabs/rcad/internal/events"
	"github.com/fyrsmithlabs/rcad/internal/logging"
	"github.com/fyrsmithlabs/rcad/internal/oracle"
)

const (
	// autoFixConfidence partitions results into auto-fixable and
	// approval-required.
	autoFixConfidence = 0.9
	// prConfidenceFloor is the minimum confidence for opening a fix PR.
	prConfidenceFloor = 0.5
	// patternExcerptLen bounds the root-cause excerpt stored as a
	// learned pattern.
	patternExcerptLen = 200

	defaultHistoryLimit  = 50
	defaultMaxConcurrent = 4
	defaultPollInterval  = 100 * time.Millisecond
)

// PatternStore persists fix approaches learned from completed analyses.
type PatternStore interface {
	StorePattern(ctx context.Context, errorType, fixApproach string, confidence float64, extra map[string]interface{}) string
}

// QueueResolver closes out discovery queue entries when their analysis
// reaches a terminal state.
type QueueResolver interface {
	Resolve(issueID string, status discovery.Status, analysisID, errMsg string)
}

// Options configures an Orchestrator. Patterns, Queue, and Events are
// optional; a nil value disables that integration.
type Options struct {
	Oracle   oracle.Oracle
	Patterns PatternStore
	Queue    QueueResolver
	Events   *events.Publisher
	// Organization is the default Sentry organization for requests that
	// do not carry one.
	Organization string
	// MaxConcurrent bounds simultaneously running analyses; additional
	// starts wait for a slot. Defaults to 4.
	MaxConcurrent int64
	// PollInterval is how often batch coordination re-checks a running
	// analysis for a terminal state. Defaults to 100ms.
	PollInterval time.Duration
	Logger       *zap.Logger
}

// Orchestrator owns the analysis record table. It starts analyses as
// detached tasks, forwards oracle events into each record's append-only
// log, post-processes results, and sequences the pull-request
// round-trip.
type Orchestrator struct {
	reg      *registry
	oracle   oracle.Oracle
	patterns PatternStore
	queue    QueueResolver
	pub      *events.Publisher
	org      string
	sem      *semaphore.Weighted
	poll     time.Duration
	logger   *zap.Logger
}

// New builds an Orchestrator.
func New(opts Options) (*Orchestrator, error) {
	if opts.Oracle == nil {
		return nil, fmt.Errorf("oracle is required")
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = defaultMaxConcurrent
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Orchestrator{
		reg:      newRegistry(),
		oracle:   opts.Oracle,
		patterns: opts.Patterns,
		queue:    opts.Queue,
		pub:      opts.Events,
		org:      opts.Organization,
		sem:      semaphore.NewWeighted(opts.MaxConcurrent),
		poll:     opts.PollInterval,
		logger:   opts.Logger,
	}, nil
}

// Start allocates a record and spawns the analysis task. The task runs
// on a context detached from the caller's: an HTTP disconnect must not
// kill an analysis that is spending oracle credits. Only Cancel stops
// it.
func (o *Orchestrator) Start(ctx context.Context, req StartRequest) (*StartInfo, error) {
	if req.IssueID == "" {
		return nil, fmt.Errorf("issue_id is required")
	}
	if req.Organization == "" {
		req.Organization = o.org
	}

	id := uuid.New().String()
	rec := &Record{
		ID:           id,
		IssueID:      req.IssueID,
		Organization: req.Organization,
		Status:       StatusAnalyzing,
		CreatedAt:    time.Now().UTC(),
	}
	// WithoutCancel keeps the caller's correlation values (request id)
	// while detaching its cancellation.
	runCtx, cancel := context.WithCancel(logging.WithAnalysisID(context.WithoutCancel(ctx), id))
	o.reg.add(rec, cancel)

	logging.For(ctx, o.logger).Info("analysis started",
		zap.String("analysis_id", id),
		zap.String("issue_id", req.IssueID),
		zap.String("organization", req.Organization))
	o.pub.Analysis(id, req.IssueID, events.PhaseStarted)

	go o.run(runCtx, id, req)

	return &StartInfo{AnalysisID: id, Status: StatusAnalyzing}, nil
}

// run drives one analysis to a terminal state. The concurrency slot is
// acquired here rather than in Start so Start returns immediately; a
// queued analysis is observable and cancellable while it waits.
func (o *Orchestrator) run(ctx context.Context, id string, req StartRequest) {
	defer o.reg.dropCancel(id)

	if err := o.sem.Acquire(ctx, 1); err != nil {
		return // cancelled while queued; Cancel did the bookkeeping
	}
	defer o.sem.Release(1)

	analysesInFlight.Inc()
	defer analysesInFlight.Dec()
	start := time.Now()

	stream, err := o.oracle.Analyze(ctx, oracle.AnalyzeRequest{
		IssueID:      req.IssueID,
		Organization: req.Organization,
		ErrorType:    req.ErrorType,
	})
	if err != nil {
		o.finishFailed(id, req, err.Error(), time.Since(start))
		return
	}

	for ev := range stream {
		// Cancellation is observed before each event is consumed, so no
		// further oracle turn is triggered once the flag is up.
		if ctx.Err() != nil {
			return
		}
		switch ev.Type {
		case oracle.EventResult:
			if ev.Result == nil {
				o.finishFailed(id, req, "analysis result missing payload", time.Since(start))
				return
			}
			o.finishCompleted(ctx, id, req, o.postProcess(req, ev.Result), time.Since(start))
			return
		case oracle.EventError:
			o.finishFailed(id, req, ev.Message, time.Since(start))
			return
		default:
			o.reg.appendEvent(id, Event{Type: ev.Type, Message: ev.Message})
		}
	}

	// The stream closed without a terminal event. A cancelled run
	// context means Cancel already marked the record; anything else is
	// an oracle bug surfaced as a failure.
	if ctx.Err() == nil {
		o.finishFailed(id, req, "analysis ended without a result", time.Since(start))
	}
}

// postProcess derives the outward result fields from the oracle
// verdict.
func (o *Orchestrator) postProcess(req StartRequest, or *oracle.Result) *Result {
	res := &Result{
		Result:           *or,
		IssueID:          req.IssueID,
		SentryURL:        fmt.Sprintf("https://sentry.io/organizations/%s/issues/%s/", req.Organization, req.IssueID),
		CanAutoFix:       or.FixConfidence >= autoFixConfidence,
		RequiresApproval: or.FixConfidence < autoFixConfidence,
		LearnedContext:   fmt.Sprintf("Matched pattern: %t", or.MatchedPattern),
		TestCode:         or.TestCode(),

		SameFileIssues:      []string{},
		CodebaseIssues:      []string{},
		RelatedSentryIssues: []string{},
	}
	if res.TestCode == "" {
		res.TestCode = "# No tests generated"
	}
	return res
}

func (o *Orchestrator) finishCompleted(ctx context.Context, id string, req StartRequest, res *Result, elapsed time.Duration) {
	if !o.reg.completeWithResult(id, res) {
		return
	}
	analysesTotal.WithLabelValues("completed").Inc()
	analysisDuration.WithLabelValues("completed").Observe(elapsed.Seconds())
	o.logger.Info("analysis completed",
		zap.String("analysis_id", id),
		zap.String("issue_id", req.IssueID),
		zap.String("error_type", res.ErrorType),
		zap.Float64("fix_confidence", res.FixConfidence),
		zap.Duration("elapsed", elapsed))

	o.storePattern(ctx, req, res)
	if o.queue != nil {
		o.queue.Resolve(req.IssueID, discovery.StatusCompleted, id, "")
	}
	o.pub.Analysis(id, req.IssueID, events.PhaseCompleted)
}

func (o *Orchestrator) finishFailed(id string, req StartRequest, errMsg string, elapsed time.Duration) {
	if !o.reg.failWithError(id, errMsg) {
		return
	}
	analysesTotal.WithLabelValues("failed").Inc()
	analysisDuration.WithLabelValues("failed").Observe(elapsed.Seconds())
	o.logger.Warn("analysis failed",
		zap.String("analysis_id", id),
		zap.String("issue_id", req.IssueID),
		zap.String("error", errMsg))

	if o.queue != nil {
		o.queue.Resolve(req.IssueID, discovery.StatusFailed, id, errMsg)
	}
	o.pub.Analysis(id, req.IssueID, events.PhaseFailed)
}

// storePattern is best-effort: an analysis must not fail because
// learning failed. Results without an error type are not stored, there
// is nothing to match future issues against.
func (o *Orchestrator) storePattern(ctx context.Context, req StartRequest, res *Result) {
	if o.patterns == nil || res.ErrorType == "" {
		return
	}
	excerpt := truncateRunes(res.RootCause, patternExcerptLen)
	id := o.patterns.StorePattern(ctx, res.ErrorType, excerpt, res.FixConfidence, map[string]interface{}{
		"issue_id": req.IssueID,
	})
	if id != "" {
		o.pub.PatternStored(res.ErrorType)
	}
}

// Cancel requests cooperative cancellation of a running analysis. The
// record is marked cancelled here, synchronously, so the ack reflects
// committed state; the driving task observes the cancelled context and
// stops before its next oracle call.
func (o *Orchestrator) Cancel(id string) (*CancelAck, error) {
	st, ok := o.reg.status(id)
	if !ok {
		return nil, ErrNotFound
	}
	if st != StatusAnalyzing {
		return &CancelAck{
			Status:  "not_running",
			Message: fmt.Sprintf("Analysis is %s, cannot cancel", st),
		}, nil
	}
	fn, ok := o.reg.cancelFunc(id)
	if !ok {
		return &CancelAck{Status: "already_stopped", Message: "Analysis already stopped"}, nil
	}
	if !o.reg.markCancelled(id) {
		// Lost the race to a finishing run.
		cur, _ := o.reg.status(id)
		return &CancelAck{
			Status:  "not_running",
			Message: fmt.Sprintf("Analysis is %s, cannot cancel", cur),
		}, nil
	}
	fn()

	analysesTotal.WithLabelValues("cancelled").Inc()
	rec, _ := o.reg.snapshot(id)
	o.logger.Info("analysis cancelled",
		zap.String("analysis_id", id),
		zap.String("issue_id", rec.IssueID))
	if o.queue != nil {
		o.queue.Resolve(rec.IssueID, discovery.StatusFailed, id, cancelMessage)
	}
	o.pub.Analysis(id, rec.IssueID, events.PhaseCancelled)

	return &CancelAck{
		Status:  "cancelled",
		Message: "Analysis cancelled successfully. Agent stopped - no more API calls or credit usage.",
	}, nil
}

// EventsSince returns a copy of the record's event log from offset,
// with the record's current status.
func (o *Orchestrator) EventsSince(id string, offset int) ([]Event, Status, error) {
	evs, st, ok := o.reg.eventsSince(id, offset)
	if !ok {
		return nil, "", ErrNotFound
	}
	return evs, st, nil
}

// Snapshot returns a copy of the full analysis record.
func (o *Orchestrator) Snapshot(id string) (Record, error) {
	rec, ok := o.reg.snapshot(id)
	if !ok {
		return Record{}, ErrNotFound
	}
	return rec, nil
}

// Result returns the post-processed result of a completed analysis.
func (o *Orchestrator) Result(id string) (*Result, error) {
	rec, ok := o.reg.snapshot(id)
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != StatusCompleted {
		return nil, &NotCompletedError{Status: rec.Status}
	}
	if rec.Result == nil {
		return nil, ErrNoResult
	}
	return rec.Result, nil
}

// History lists analyses newest-first. A non-positive limit applies the
// default of 50.
func (o *Orchestrator) History(limit int) []HistoryEntry {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	return o.reg.history(limit)
}

// Stats summarizes the analysis table.
func (o *Orchestrator) Stats() Stats {
	return o.reg.stats()
}

// CreatePR sequences the oracle pull-request round-trip for a completed
// analysis. The call returns immediately; the round-trip runs in the
// background and lands on the record's PR tracker. Repeated calls while
// creating, or after created, report the existing state instead of
// re-creating.
func (o *Orchestrator) CreatePR(ctx context.Context, id string) (*PRAck, error) {
	rec, ok := o.reg.snapshot(id)
	if !ok {
		return nil, ErrNotFound
	}
	if rec.Status != StatusCompleted {
		return nil, &NotCompletedError{Status: rec.Status}
	}
	if rec.Result == nil {
		return nil, ErrNoResult
	}
	if rec.Result.FixConfidence < prConfidenceFloor {
		return nil, &LowConfidenceError{Confidence: rec.Result.FixConfidence}
	}

	state, claimed := o.reg.beginPR(id)
	if !claimed {
		if state == PRStateCreated {
			cur, _ := o.reg.snapshot(id)
			return &PRAck{Status: "exists", URL: cur.PRURL, Number: cur.PRNumber, Branch: cur.PRBranch}, nil
		}
		return &PRAck{Status: "creating", Message: "Pull request creation already in progress"}, nil
	}

	go o.runCreatePR(logging.WithAnalysisID(context.WithoutCancel(ctx), id), id, rec)

	return &PRAck{Status: "creating", Message: "Pull request creation started"}, nil
}

func (o *Orchestrator) runCreatePR(ctx context.Context, id string, rec Record) {
	pr, err := o.oracle.CreateFixPR(ctx, oracle.PRRequest{
		IssueID:   rec.IssueID,
		SentryURL: rec.Result.SentryURL,
		Result:    &rec.Result.Result,
	})
	if err != nil {
		o.reg.finishPR(id, PRStateFailed, nil, err.Error())
		prsTotal.WithLabelValues("failed").Inc()
		o.logger.Warn("pr creation failed",
			zap.String("analysis_id", id),
			zap.String("issue_id", rec.IssueID),
			zap.Error(err))
		return
	}

	o.reg.finishPR(id, PRStateCreated, pr, "")
	prsTotal.WithLabelValues("created").Inc()
	o.logger.Info("pr created",
		zap.String("analysis_id", id),
		zap.String("issue_id", rec.IssueID),
		zap.String("pr_url", pr.URL),
		zap.Int("pr_number", pr.Number))
}

// PRInfo reports the PR sub-protocol state for an analysis.
func (o *Orchestrator) PRInfo(id string) (*PRInfo, error) {
	rec, ok := o.reg.snapshot(id)
	if !ok {
		return nil, ErrNotFound
	}
	return &PRInfo{
		State:  rec.PRState,
		URL:    rec.PRURL,
		Number: rec.PRNumber,
		Branch: rec.PRBranch,
		Error:  rec.PRError,
	}, nil
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
