package discovery

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/config"
	"github.com/fyrsmithlabs/rcad/internal/events"
	"github.com/fyrsmithlabs/rcad/internal/sentry"
)

// maxReportedIssues caps the issue list echoed in a scan result.
const maxReportedIssues = 20

// timeframeHours maps request timeframes to search windows. Unknown values
// fall back to 24h rather than failing the scan.
var timeframeHours = map[string]int{
	"24h": 24,
	"7d":  168,
	"30d": 720,
}

// IssueSearcher is the slice of the Sentry client the scanner needs.
type IssueSearcher interface {
	SearchIssues(ctx context.Context, opts sentry.SearchOptions) ([]sentry.Issue, error)
}

// ScanOptions shapes one discovery scan.
type ScanOptions struct {
	// Timeframe is one of 24h, 7d, 30d. Defaults to 24h.
	Timeframe string
	// Organization overrides the configured Sentry org on the analyses a
	// scan spawns.
	Organization string
	// MinOccurrences drops issues seen fewer times than this.
	MinOccurrences int
	// AutoAnalyze selects high-priority groups for batch analysis.
	AutoAnalyze bool
}

// Batch is one error-type group selected for auto-analysis.
type Batch struct {
	ErrorType string
	Issues    []Issue
}

// ScanResult summarizes a scan: what was queued, how the issues grouped,
// and which batches qualified for auto-analysis.
type ScanResult struct {
	Queued       int
	TotalFound   int
	Timeframe    string
	Organization string
	Groups       map[string]int
	// Issues holds the top scored issues, capped at maxReportedIssues.
	Issues []Issue
	// AutoBatches is empty unless AutoAnalyze was requested. Ordered by
	// error type so runs are deterministic.
	AutoBatches []Batch
}

// Scanner pages unresolved issues out of Sentry, scores and groups them,
// and feeds the queue.
type Scanner struct {
	searcher IssueSearcher
	queue    *Queue
	pub      *events.Publisher
	cfg      config.DiscoveryConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewScanner wires a scanner to its issue source and queue. pub may be nil.
func NewScanner(searcher IssueSearcher, queue *Queue, pub *events.Publisher, cfg config.DiscoveryConfig, logger *zap.Logger) *Scanner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scanner{
		searcher: searcher,
		queue:    queue,
		pub:      pub,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// Scan searches the window, filters by occurrence count, scores, groups,
// and enqueues. Any page failure aborts the whole scan: a partial scan
// would silently queue a mis-prioritized subset.
func (s *Scanner) Scan(ctx context.Context, opts ScanOptions) (*ScanResult, error) {
	if opts.Timeframe == "" {
		opts.Timeframe = "24h"
	}
	hours, ok := timeframeHours[opts.Timeframe]
	if !ok {
		hours = 24
	}

	end := s.now().UTC()
	start := end.Add(-time.Duration(hours) * time.Hour)

	raw, err := s.searcher.SearchIssues(ctx, sentry.SearchOptions{
		Query:    "is:unresolved",
		Start:    start,
		End:      end,
		Sort:     "freq",
		PageSize: s.cfg.PageSize,
		MaxPages: s.cfg.MaxPages,
	})
	if err != nil {
		scans.WithLabelValues(scanError).Inc()
		return nil, fmt.Errorf("sentry scan: %w", err)
	}

	issues := make([]Issue, 0, len(raw))
	for _, r := range raw {
		if int(r.Count) < opts.MinOccurrences {
			continue
		}
		title := r.Title
		if title == "" {
			title = "Unknown"
		}
		issues = append(issues, Issue{
			ID:         r.ID,
			Title:      title,
			ErrorCount: int(r.Count),
			UserCount:  int(r.UserCount),
			LastSeen:   r.LastSeen,
			Priority:   Score(int(r.Count), int(r.UserCount), r.LastSeen, end),
		})
	}

	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].Priority > issues[j].Priority
	})

	groups := GroupByErrorType(issues)

	queued := 0
	for _, issue := range issues {
		if s.queue.Enqueue(issue) {
			queued++
		}
	}

	result := &ScanResult{
		Queued:       queued,
		TotalFound:   len(issues),
		Timeframe:    opts.Timeframe,
		Organization: opts.Organization,
		Groups:       make(map[string]int, len(groups)),
		Issues:       issues,
	}
	if len(result.Issues) > maxReportedIssues {
		result.Issues = result.Issues[:maxReportedIssues]
	}
	for et, group := range groups {
		result.Groups[et] = len(group)
	}
	if opts.AutoAnalyze {
		result.AutoBatches = s.selectBatches(groups)
	}

	scans.WithLabelValues(scanOK).Inc()
	issuesFound.Add(float64(len(issues)))
	s.logger.Info("sentry scan complete",
		zap.String("timeframe", opts.Timeframe),
		zap.Int("fetched", len(raw)),
		zap.Int("matched", len(issues)),
		zap.Int("queued", queued),
		zap.Int("groups", len(groups)),
		zap.Int("auto_batches", len(result.AutoBatches)))
	s.pub.ScanCompleted(result.TotalFound, queued)
	return result, nil
}

// selectBatches picks, per error-type group, the issues worth analyzing
// unattended (priority or raw volume above threshold), capped at the
// configured batch size.
func (s *Scanner) selectBatches(groups map[string][]Issue) []Batch {
	errorTypes := make([]string, 0, len(groups))
	for et := range groups {
		errorTypes = append(errorTypes, et)
	}
	sort.Strings(errorTypes)

	var batches []Batch
	for _, et := range errorTypes {
		var high []Issue
		for _, issue := range groups[et] {
			if issue.Priority >= s.cfg.AutoPriorityThreshold || issue.ErrorCount >= s.cfg.AutoCountThreshold {
				high = append(high, issue)
			}
		}
		if len(high) == 0 {
			continue
		}
		if s.cfg.BatchLimit > 0 && len(high) > s.cfg.BatchLimit {
			high = high[:s.cfg.BatchLimit]
		}
		batches = append(batches, Batch{ErrorType: et, Issues: high})
	}
	return batches
}
