package http

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/analysis"
	"github.com/fyrsmithlabs/rcad/internal/discovery"
	"github.com/fyrsmithlabs/rcad/internal/sentry"
)

// defaultMinOccurrences filters scan noise when the request does not set
// its own floor.
const defaultMinOccurrences = 10

// defaultQueueLimit caps queue listings without an explicit limit.
const defaultQueueLimit = 50

// ScanRequest is the request body for POST /api/discovery/scan.
type ScanRequest struct {
	Timeframe      string `json:"timeframe"`
	Organization   string `json:"organization"`
	MinOccurrences int    `json:"min_occurrences"`
	AutoAnalyze    bool   `json:"auto_analyze"`
}

// BatchSummary reports one auto-analysis batch launched by a scan.
type BatchSummary struct {
	ErrorType string `json:"error_type"`
	Issues    int    `json:"issues"`
}

// ScanResponse is the response body for POST /api/discovery/scan.
type ScanResponse struct {
	Queued       int               `json:"queued"`
	TotalFound   int               `json:"total_found"`
	Timeframe    string            `json:"timeframe"`
	Organization string            `json:"organization,omitempty"`
	Groups       map[string]int    `json:"groups"`
	Issues       []discovery.Issue `json:"issues"`
	AutoBatches  []BatchSummary    `json:"auto_batches,omitempty"`
}

// handleScan searches the issue source, queues what it finds, and when
// auto-analysis was requested launches one background batch per selected
// error-type group.
func (s *Server) handleScan(c echo.Context) error {
	if s.deps.Scanner == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "issue scanning is not configured")
	}

	var req ScanRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid scan request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.MinOccurrences <= 0 {
		req.MinOccurrences = defaultMinOccurrences
	}

	result, err := s.deps.Scanner.Scan(c.Request().Context(), discovery.ScanOptions{
		Timeframe:      req.Timeframe,
		Organization:   req.Organization,
		MinOccurrences: req.MinOccurrences,
		AutoAnalyze:    req.AutoAnalyze,
	})
	if err != nil {
		s.logger.Error("scan failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("scan failed: %v", err))
	}

	resp := ScanResponse{
		Queued:       result.Queued,
		TotalFound:   result.TotalFound,
		Timeframe:    result.Timeframe,
		Organization: result.Organization,
		Groups:       result.Groups,
		Issues:       result.Issues,
	}

	for _, batch := range result.AutoBatches {
		ids := make([]string, 0, len(batch.Issues))
		for _, issue := range batch.Issues {
			ids = append(ids, issue.ID)
			// Best effort: an issue can already be analyzing from an
			// earlier scan.
			_ = s.deps.Queue.MarkAnalyzing(issue.ID, "")
		}
		s.logger.Info("launching auto-analysis batch",
			zap.String("error_type", batch.ErrorType),
			zap.Int("issues", len(ids)))
		go s.drainBatch(batch.ErrorType, s.deps.Analyzer.RunBatch(context.Background(), ids, result.Organization, batch.ErrorType))
		resp.AutoBatches = append(resp.AutoBatches, BatchSummary{ErrorType: batch.ErrorType, Issues: len(ids)})
	}

	return c.JSON(http.StatusOK, resp)
}

// drainBatch consumes a background batch to completion. Per-issue
// outcomes land in the queue via the orchestrator; only the summary is
// worth logging here.
func (s *Server) drainBatch(errorType string, events <-chan analysis.BatchEvent) {
	for ev := range events {
		if ev.Type == analysis.BatchComplete {
			s.logger.Info("auto-analysis batch finished",
				zap.String("error_type", errorType),
				zap.Int("analyzed", ev.Analyzed),
				zap.Int("failed", ev.Failed))
		}
	}
}

// handleQueue lists queued issues by priority.
func (s *Server) handleQueue(c echo.Context) error {
	limit := defaultQueueLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	status := discovery.Status(c.QueryParam("status"))
	return c.JSON(http.StatusOK, s.deps.Queue.List(status, limit))
}

// RemoveResponse is the response body for DELETE /api/discovery/queue/:issue_id.
type RemoveResponse struct {
	Removed bool `json:"removed"`
}

// handleQueueRemove drops an issue from the queue.
func (s *Server) handleQueueRemove(c echo.Context) error {
	if err := s.deps.Queue.Remove(c.Param("issue_id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "issue not found in queue")
	}
	return c.JSON(http.StatusOK, RemoveResponse{Removed: true})
}

// handleQueueAnalyze claims a queued issue and starts its analysis. The
// claim happens before the start so two concurrent requests cannot spend
// oracle credits on the same issue.
func (s *Server) handleQueueAnalyze(c echo.Context) error {
	issueID := c.Param("issue_id")
	if err := s.deps.Queue.MarkAnalyzing(issueID, ""); err != nil {
		if errors.Is(err, discovery.ErrNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "issue not found in queue")
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	info, err := s.deps.Analyzer.Start(c.Request().Context(), analysis.StartRequest{IssueID: issueID})
	if err != nil {
		s.deps.Queue.Resolve(issueID, discovery.StatusFailed, "", err.Error())
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.deps.Queue.AttachAnalysis(issueID, info.AnalysisID)
	return c.JSON(http.StatusOK, info)
}

// BootstrapRequest is the request body for POST /api/discovery/bootstrap.
type BootstrapRequest struct {
	Projects            []string `json:"projects"`
	MaxIssuesPerProject int      `json:"max_issues_per_project"`
	MinOccurrences      int      `json:"min_occurrences"`
	MonthsBack          int      `json:"months_back"`
	Force               bool     `json:"force"`
}

// BootstrapResponse is the response body for POST /api/discovery/bootstrap.
type BootstrapResponse struct {
	Status         string     `json:"status"`
	Message        string     `json:"message"`
	PatternsLoaded int        `json:"patterns_loaded"`
	Projects       []string   `json:"projects"`
	ElapsedSeconds int        `json:"elapsed_seconds"`
	LastBootstrap  *time.Time `json:"last_bootstrap,omitempty"`
}

// handleBootstrap seeds the pattern library from historically resolved
// issues. Blocks until the load finishes; a run newer than the tracker
// max age is skipped unless forced.
func (s *Server) handleBootstrap(c echo.Context) error {
	if s.deps.History == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "history loading is not configured")
	}

	var req BootstrapRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid bootstrap request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if len(req.Projects) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "at least one project is required")
	}

	if !req.Force && !s.deps.Patterns.BootstrapNeeded() {
		resp := BootstrapResponse{
			Status:   "skipped",
			Message:  "bootstrap completed recently",
			Projects: []string{},
		}
		if tracker, err := s.deps.Patterns.TrackerStatus(); err == nil && tracker != nil {
			resp.PatternsLoaded = tracker.PatternsLoaded
			resp.LastBootstrap = &tracker.LastBootstrap
			if tracker.Projects != nil {
				resp.Projects = tracker.Projects
			}
		}
		return c.JSON(http.StatusOK, resp)
	}

	start := time.Now()
	candidates, err := s.deps.History.ResolvedPatterns(c.Request().Context(), sentry.HistoryOptions{
		Projects:            req.Projects,
		MaxIssuesPerProject: req.MaxIssuesPerProject,
		MinOccurrences:      req.MinOccurrences,
		MonthsBack:          req.MonthsBack,
	})
	if err != nil {
		s.logger.Error("historical pattern load failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, fmt.Sprintf("historical pattern load failed: %v", err))
	}

	loaded, err := s.deps.Patterns.Bootstrap(c.Request().Context(), candidates)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("bootstrap failed: %v", err))
	}

	// A zero-pattern run still marks completion; an empty history should
	// not be rescanned on every request.
	if err := s.deps.Patterns.MarkBootstrapComplete(loaded, req.Projects); err != nil {
		s.logger.Warn("bootstrap tracker update failed", zap.Error(err))
	}

	return c.JSON(http.StatusOK, BootstrapResponse{
		Status:         "completed",
		Message:        fmt.Sprintf("loaded %d patterns from %d projects", loaded, len(req.Projects)),
		PatternsLoaded: loaded,
		Projects:       req.Projects,
		ElapsedSeconds: int(time.Since(start).Seconds()),
	})
}

// BootstrapStatusResponse is the response body for GET /api/discovery/bootstrap/status.
type BootstrapStatusResponse struct {
	LastBootstrap   *time.Time `json:"last_bootstrap"`
	PatternsLoaded  int        `json:"patterns_loaded"`
	Projects        []string   `json:"projects"`
	NeedsBootstrap  bool       `json:"needs_bootstrap"`
	MonthsSinceLast *float64   `json:"months_since_last"`
	Error           string     `json:"error,omitempty"`
}

// handleBootstrapStatus reports the last bootstrap run. Tracker read
// errors are surfaced in the body so a corrupt tracker is visible
// instead of silently re-triggering bootstraps.
func (s *Server) handleBootstrapStatus(c echo.Context) error {
	tracker, err := s.deps.Patterns.TrackerStatus()
	if err != nil {
		return c.JSON(http.StatusOK, BootstrapStatusResponse{
			Projects:       []string{},
			NeedsBootstrap: true,
			Error:          err.Error(),
		})
	}
	if tracker == nil {
		return c.JSON(http.StatusOK, BootstrapStatusResponse{
			Projects:       []string{},
			NeedsBootstrap: true,
		})
	}

	months := math.Round(time.Since(tracker.LastBootstrap).Hours()/24/30*10) / 10
	resp := BootstrapStatusResponse{
		LastBootstrap:   &tracker.LastBootstrap,
		PatternsLoaded:  tracker.PatternsLoaded,
		Projects:        tracker.Projects,
		NeedsBootstrap:  s.deps.Patterns.BootstrapNeeded(),
		MonthsSinceLast: &months,
	}
	if resp.Projects == nil {
		resp.Projects = []string{}
	}
	return c.JSON(http.StatusOK, resp)
}
