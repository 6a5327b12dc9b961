package patterns

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/vectorstore"
)

// signatureApproachLen bounds the fix-approach prefix used for duplicate
// detection. Long approaches differ in their tails (file lists, stack
// detail) while describing the same fix.
const signatureApproachLen = 100

// HistoricalPattern is a fix pattern reconstructed from a resolved issue
// and the commit that resolved it. Produced by the history loader, consumed
// by Bootstrap.
type HistoricalPattern struct {
	ErrorType     string
	ErrorMessage  string
	FilePath      string
	FunctionName  string
	FixApproach   string
	CommitURL     string
	SentryIssueID string
	Occurrences   int
	Confidence    float64
	ResolvedAt    time.Time
	Project       string
}

// Bootstrap seeds the store with historical patterns. Candidates whose
// signature matches an existing pattern, or an earlier candidate in the
// same batch, are skipped. Per-candidate store failures are logged and do
// not abort the run. Returns the number actually inserted.
func (s *Service) Bootstrap(ctx context.Context, candidates []HistoricalPattern) (int, error) {
	if len(candidates) == 0 {
		return 0, nil
	}

	existing := s.existingSignatures(ctx)

	loaded, skipped, failed := 0, 0, 0
	for _, p := range candidates {
		if err := ctx.Err(); err != nil {
			return loaded, err
		}

		// Scrub before computing the signature so it matches the scrubbed
		// approach already persisted for prior duplicates.
		p.FixApproach = s.scrub(p.FixApproach)

		sig := signature(p.ErrorType, p.FixApproach)
		if existing[sig] {
			skipped++
			continue
		}

		if err := s.storeHistorical(ctx, p); err != nil {
			s.logger.Warn("historical pattern store failed",
				zap.String("error_type", p.ErrorType),
				zap.String("project", p.Project),
				zap.Error(err))
			failed++
			continue
		}

		existing[sig] = true
		loaded++
	}

	bootstrapLoaded.Set(float64(loaded))
	s.logger.Info("bootstrap finished",
		zap.Int("loaded", loaded),
		zap.Int("skipped", skipped),
		zap.Int("failed", failed))
	return loaded, nil
}

// existingSignatures collects signatures of stored success patterns. A
// retrieval failure yields an empty set: the bootstrap proceeds and may
// insert duplicates rather than aborting.
func (s *Service) existingSignatures(ctx context.Context) map[string]bool {
	signatures := map[string]bool{}

	results, err := s.store.ListAll(ctx)
	if err != nil {
		s.logger.Warn("duplicate check unavailable", zap.Error(err))
		return signatures
	}

	for _, res := range results {
		if metadataString(res.Metadata, "category") != CategoryPattern {
			continue
		}
		approach := metadataString(res.Metadata, "fix_approach")
		if approach == "" {
			approach = res.Content
		}
		signatures[signature(metadataString(res.Metadata, "error_type"), approach)] = true
	}
	return signatures
}

func signature(errorType, fixApproach string) string {
	if len(fixApproach) > signatureApproachLen {
		fixApproach = fixApproach[:signatureApproachLen]
	}
	return errorType + ":" + fixApproach
}

func (s *Service) storeHistorical(ctx context.Context, p HistoricalPattern) error {
	confidence := p.Confidence
	if confidence == 0 {
		confidence = HistoricalConfidence
	}
	functionName := p.FunctionName
	if functionName == "" {
		functionName = "unknown"
	}
	resolvedAt := ""
	if !p.ResolvedAt.IsZero() {
		resolvedAt = p.ResolvedAt.UTC().Format(time.RFC3339)
	}

	_, err := s.store.AddDocuments(ctx, []vectorstore.Document{{
		Content: p.ErrorType + " in " + functionName + ": " + p.FixApproach,
		Metadata: map[string]interface{}{
			"category":        CategoryPattern,
			"error_type":      p.ErrorType,
			"fix_approach":    p.FixApproach,
			"confidence":      confidence,
			"status":          StatusHistorical,
			"source":          "bootstrap",
			"pr_url":          p.CommitURL,
			"sentry_issue_id": p.SentryIssueID,
			"occurrences":     p.Occurrences,
			"resolved_at":     resolvedAt,
			"project":         p.Project,
			"file_path":       p.FilePath,
			"function_name":   p.FunctionName,
		},
	}})
	if err != nil {
		return err
	}
	patternsStored.WithLabelValues(CategoryPattern).Inc()
	return nil
}

// Tracker records the last completed bootstrap. It lives in a sidecar file
// rather than the vector store so the skip decision survives a store wipe
// and never costs a store round-trip.
type Tracker struct {
	LastBootstrap  time.Time `json:"last_bootstrap"`
	PatternsLoaded int       `json:"patterns_loaded"`
	Projects       []string  `json:"projects"`
}

// MarkBootstrapComplete persists the tracker. Called separately from
// Bootstrap because a run that finds zero candidates still counts as
// complete; otherwise an empty history would be rescanned on every request.
func (s *Service) MarkBootstrapComplete(patternsLoaded int, projects []string) error {
	if err := os.MkdirAll(filepath.Dir(s.trackerPath), 0o755); err != nil {
		return fmt.Errorf("creating tracker directory: %w", err)
	}

	tracker := Tracker{
		LastBootstrap:  s.now().UTC(),
		PatternsLoaded: patternsLoaded,
		Projects:       projects,
	}
	data, err := json.MarshalIndent(tracker, "", "  ")
	if err != nil {
		return fmt.Errorf("encoding tracker: %w", err)
	}
	if err := os.WriteFile(s.trackerPath, data, 0o644); err != nil {
		return fmt.Errorf("writing tracker: %w", err)
	}

	s.logger.Info("bootstrap tracker updated",
		zap.Int("patterns_loaded", patternsLoaded),
		zap.Strings("projects", projects))
	return nil
}

// BootstrapNeeded reports whether a bootstrap should run: no tracker, an
// unreadable tracker, or a last run older than the configured interval all
// answer true. Fails open so a corrupt tracker costs a redundant bootstrap,
// not a permanently unseeded store.
func (s *Service) BootstrapNeeded() bool {
	tracker, err := s.readTracker()
	if err != nil {
		return true
	}
	days := int(s.now().UTC().Sub(tracker.LastBootstrap).Hours() / 24)
	return days >= s.maxAgeDays
}

// TrackerStatus returns the current tracker, or nil when no bootstrap has
// ever completed. Unlike the read paths this surfaces parse errors, so
// operators can see a corrupt tracker instead of a silent re-bootstrap.
func (s *Service) TrackerStatus() (*Tracker, error) {
	tracker, err := s.readTracker()
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return tracker, err
}

func (s *Service) readTracker() (*Tracker, error) {
	data, err := os.ReadFile(s.trackerPath)
	if err != nil {
		return nil, err
	}
	var tracker Tracker
	if err := json.Unmarshal(data, &tracker); err != nil {
		return nil, fmt.Errorf("parsing tracker %s: %w", s.trackerPath, err)
	}
	return &tracker, nil
}

func expandPath(path string) (string, error) {
	if !strings.HasPrefix(path, "~") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}
