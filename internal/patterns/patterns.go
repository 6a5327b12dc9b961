// Package patterns implements the learned-pattern store that feeds the
// reasoning oracle.
//
// Patterns are fix approaches harvested from completed analyses, PR
// feedback, and historically resolved issues. They are persisted as vector
// documents and surfaced to the oracle as a single formatted text block.
// That block is the stable prefix of every analysis prompt, so its exact
// bytes matter: GetAllPatterns serves from a TTL cache and never varies its
// output while the cache is warm, which keeps the oracle's prompt prefix
// cacheable across a whole batch of same-type issues.
package patterns

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/secrets"
	"github.com/fyrsmithlabs/rcad/internal/vectorstore"
)

// Pattern categories as stored in document metadata.
const (
	CategoryPattern     = "error_pattern"
	CategoryAntiPattern = "antipattern"
)

// Pattern lifecycle states.
const (
	StatusPending    = "pending"
	StatusSuccess    = "success"
	StatusHistorical = "historical"
)

// Confidence thresholds and fixed assignments.
const (
	// displayThreshold hides low-confidence patterns from oracle prompts.
	displayThreshold = 0.7
	// highConfidenceThreshold marks patterns counted as high confidence in
	// stats.
	highConfidenceThreshold = 0.8
	// feedbackConfidence is assigned to records created from PR merge or
	// rejection feedback.
	feedbackConfidence = 0.9
)

// HistoricalConfidence is assigned to bootstrapped patterns: the fix shipped
// to production and resolved the issue, but its text is reconstructed from
// commit messages rather than observed directly.
const HistoricalConfidence = 0.95

// Formatted-text fragments. These are embedded verbatim in oracle prompts;
// changing any of them invalidates every cached prompt prefix downstream.
const (
	msgNoPatterns    = "No learned patterns yet."
	msgRetrievalFail = "Error retrieving learned patterns."

	headerPatterns = "## Learned Successful Patterns"
	// The leading newline becomes the blank separator line when sections are
	// joined.
	headerAntiPatterns = "\n## Anti-Patterns (What NOT to Do)"
)

// Options configures a Service.
type Options struct {
	// Store is the backing vector store. Required.
	Store vectorstore.Store

	// Scrubber redacts secrets from pattern text before storage. Optional;
	// nil disables scrubbing.
	Scrubber *secrets.Scrubber

	// Logger defaults to a nop logger.
	Logger *zap.Logger

	// CacheTTL is the formatted-text cache window. Defaults to 5 minutes.
	CacheTTL time.Duration

	// TrackerPath locates the bootstrap tracker sidecar file. Defaults to
	// ~/.config/rcad/bootstrap_tracker.json.
	TrackerPath string

	// MaxAgeDays is the re-bootstrap interval. Defaults to 180.
	MaxAgeDays int

	// Mode names the backing provider; reported by Stats.
	Mode string

	// Now overrides the clock for tests.
	Now func() time.Time
}

// Service mediates between analysis components and the vector store.
// All methods are safe for concurrent use.
type Service struct {
	store       vectorstore.Store
	scrubber    *secrets.Scrubber
	logger      *zap.Logger
	cacheTTL    time.Duration
	trackerPath string
	maxAgeDays  int
	mode        string
	now         func() time.Time

	mu        sync.Mutex
	cacheText string
	cacheAt   time.Time
}

// New builds a Service over the given vector store.
func New(opts Options) (*Service, error) {
	if opts.Store == nil {
		return nil, errors.New("patterns: store is required")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.CacheTTL == 0 {
		opts.CacheTTL = 5 * time.Minute
	}
	if opts.TrackerPath == "" {
		opts.TrackerPath = "~/.config/rcad/bootstrap_tracker.json"
	}
	if opts.MaxAgeDays == 0 {
		opts.MaxAgeDays = 180
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	trackerPath, err := expandPath(opts.TrackerPath)
	if err != nil {
		return nil, fmt.Errorf("patterns: resolving tracker path: %w", err)
	}

	return &Service{
		store:       opts.Store,
		scrubber:    opts.Scrubber,
		logger:      opts.Logger,
		cacheTTL:    opts.CacheTTL,
		trackerPath: trackerPath,
		maxAgeDays:  opts.MaxAgeDays,
		mode:        opts.Mode,
		now:         opts.Now,
	}, nil
}

// GetAllPatterns returns the formatted pattern text for oracle prompts.
//
// The result is cached for the configured TTL and returned verbatim while
// the cache is warm. Writes deliberately do not invalidate the cache: every
// analysis in a batch must see byte-identical text even as completed
// analyses store new patterns mid-batch. Degraded states are not cached, so
// recovery is immediate.
func (s *Service) GetAllPatterns(ctx context.Context) string {
	s.mu.Lock()
	if s.cacheText != "" && s.now().Sub(s.cacheAt) < s.cacheTTL {
		text := s.cacheText
		s.mu.Unlock()
		cacheReads.WithLabelValues(cacheHit).Inc()
		return text
	}
	s.mu.Unlock()

	results, err := s.store.ListAll(ctx)
	if err != nil {
		s.logger.Warn("pattern retrieval failed", zap.Error(err))
		cacheReads.WithLabelValues(cacheError).Inc()
		return msgRetrievalFail
	}
	if len(results) == 0 {
		// Not cached: the first stored pattern should become visible on the
		// next read, not after a TTL round.
		cacheReads.WithLabelValues(cacheMiss).Inc()
		return msgNoPatterns
	}

	text := formatPatterns(results)

	s.mu.Lock()
	s.cacheText = text
	s.cacheAt = s.now()
	s.mu.Unlock()

	cacheReads.WithLabelValues(cacheMiss).Inc()
	return text
}

// GetPatternsByErrorType returns the pattern text filtered to lines that
// mention errorType, case-insensitively. It derives from GetAllPatterns and
// inherits its cache, so every issue of one error type in a batch receives
// identical text.
func (s *Service) GetPatternsByErrorType(ctx context.Context, errorType string) string {
	all := s.GetAllPatterns(ctx)
	if all == "" || strings.HasPrefix(all, "No learned patterns") {
		return all
	}
	return filterByErrorType(all, errorType)
}

// StorePattern records a fix approach from a completed analysis. It never
// returns an error: analysis must not fail merely because learning failed.
// On success the new document's ID is returned; on any failure the failure
// is logged and "" is returned.
func (s *Service) StorePattern(ctx context.Context, errorType, fixApproach string, confidence float64, extra map[string]interface{}) string {
	fixApproach = s.scrub(fixApproach)

	metadata := map[string]interface{}{
		"category":     CategoryPattern,
		"error_type":   errorType,
		"fix_approach": fixApproach,
		"confidence":   confidence,
		"status":       StatusPending,
		"stored_at":    s.now().UTC().Format(time.RFC3339),
	}
	for k, v := range extra {
		metadata[k] = v
	}

	ids, err := s.store.AddDocuments(ctx, []vectorstore.Document{{
		Content:  errorType + ": " + fixApproach,
		Metadata: metadata,
	}})
	if err != nil || len(ids) == 0 {
		s.logger.Warn("pattern store failed",
			zap.String("error_type", errorType),
			zap.Error(err))
		storeFailures.Inc()
		return ""
	}

	patternsStored.WithLabelValues(CategoryPattern).Inc()
	s.logger.Info("stored pattern",
		zap.String("error_type", errorType),
		zap.Float64("confidence", confidence),
		zap.String("id", ids[0]))
	return ids[0]
}

// UpdateOnPRMerged records positive feedback: a fix PR for errorType was
// merged. A new high-confidence success record is inserted; prior records
// for the same approach are left untouched, so confidence only accumulates.
func (s *Service) UpdateOnPRMerged(ctx context.Context, errorType, fixApproach string, prNumber int) {
	fixApproach = s.scrub(fixApproach)

	_, err := s.store.AddDocuments(ctx, []vectorstore.Document{{
		Content: "Successfully fixed " + errorType + " using: " + fixApproach,
		Metadata: map[string]interface{}{
			"category":     CategoryPattern,
			"error_type":   errorType,
			"fix_approach": fixApproach,
			"confidence":   feedbackConfidence,
			"status":       StatusSuccess,
			"pr_number":    prNumber,
			"updated_at":   s.now().UTC().Format(time.RFC3339),
		},
	}})
	if err != nil {
		s.logger.Warn("recording merged fix failed",
			zap.String("error_type", errorType),
			zap.Int("pr_number", prNumber),
			zap.Error(err))
		storeFailures.Inc()
		return
	}

	patternsStored.WithLabelValues(CategoryPattern).Inc()
	s.logger.Info("merged fix recorded",
		zap.String("error_type", errorType),
		zap.Int("pr_number", prNumber))
}

// UpdateOnPRRejected records negative feedback: a fix PR was closed without
// merging. An anti-pattern record is inserted so future analyses are warned
// away from the approach. The original pattern's confidence is not lowered.
func (s *Service) UpdateOnPRRejected(ctx context.Context, errorType, failedApproach, reason string, prNumber int) {
	failedApproach = s.scrub(failedApproach)
	reason = s.scrub(reason)

	_, err := s.store.AddDocuments(ctx, []vectorstore.Document{{
		Content: "Failed fix for " + errorType + ": " + failedApproach + ". Reason: " + reason,
		Metadata: map[string]interface{}{
			"category":        CategoryAntiPattern,
			"error_type":      errorType,
			"failed_approach": failedApproach,
			"reason":          reason,
			"confidence":      feedbackConfidence,
			"pr_number":       prNumber,
			"updated_at":      s.now().UTC().Format(time.RFC3339),
		},
	}})
	if err != nil {
		s.logger.Warn("recording anti-pattern failed",
			zap.String("error_type", errorType),
			zap.Int("pr_number", prNumber),
			zap.Error(err))
		storeFailures.Inc()
		return
	}

	patternsStored.WithLabelValues(CategoryAntiPattern).Inc()
	s.logger.Info("anti-pattern recorded",
		zap.String("error_type", errorType),
		zap.Int("pr_number", prNumber))
}

// Stats summarizes the pattern library.
type Stats struct {
	TotalPatterns          int    `json:"total_patterns"`
	TotalAntiPatterns      int    `json:"total_antipatterns"`
	HighConfidencePatterns int    `json:"high_confidence_patterns"`
	TotalMemories          int    `json:"total_memories"`
	Mode                   string `json:"mode"`
}

// Stats returns library counts. On backing failure it degrades to zero
// counts rather than erroring; the health surface stays available while the
// store is down.
func (s *Service) Stats(ctx context.Context) Stats {
	stats := Stats{Mode: s.mode}

	results, err := s.store.ListAll(ctx)
	if err != nil {
		s.logger.Warn("stats retrieval failed", zap.Error(err))
		return stats
	}

	for _, res := range results {
		stats.TotalMemories++
		switch metadataString(res.Metadata, "category") {
		case CategoryPattern:
			stats.TotalPatterns++
			if metadataFloat(res.Metadata, "confidence") >= highConfidenceThreshold {
				stats.HighConfidencePatterns++
			}
		case CategoryAntiPattern:
			stats.TotalAntiPatterns++
		}
	}
	return stats
}

// scrub redacts secrets from text destined for storage. Pattern text
// originates in stack traces and oracle output, either of which can embed
// live credentials.
func (s *Service) scrub(text string) string {
	if !s.scrubber.IsEnabled() {
		return text
	}
	result := s.scrubber.Scrub(text)
	if result.HasSecrets() {
		s.logger.Warn("redacted secrets from pattern text",
			zap.Int("findings", len(result.Findings)))
	}
	return result.Scrubbed
}
