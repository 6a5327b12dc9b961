package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/analysis"
	"github.com/fyrsmithlabs/rcad/internal/codehost"
	"github.com/fyrsmithlabs/rcad/internal/patterns"
)

// AnalyzeRequest is the request body for POST /api/rca/analyze.
type AnalyzeRequest struct {
	IssueID      string `json:"issue_id"`
	Organization string `json:"organization"`
}

// handleAnalyze starts an analysis and returns its ID immediately.
func (s *Server) handleAnalyze(c echo.Context) error {
	var req AnalyzeRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid analyze request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	info, err := s.deps.Analyzer.Start(c.Request().Context(), analysis.StartRequest{
		IssueID:      req.IssueID,
		Organization: req.Organization,
	})
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, info)
}

// handleStream replays an analysis event log over SSE and follows it
// until the terminal event. Cancelled analyses carry a synthetic error
// event, so every stream that outlives its analysis ends with exactly
// one result or error frame.
func (s *Server) handleStream(c echo.Context) error {
	id := c.Param("id")
	if _, _, err := s.deps.Analyzer.EventsSince(id, 0); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "analysis not found")
	}

	res := c.Response()
	res.Header().Set(echo.HeaderContentType, "text/event-stream")
	res.Header().Set(echo.HeaderCacheControl, "no-cache")
	res.Header().Set(echo.HeaderConnection, "keep-alive")
	res.WriteHeader(http.StatusOK)
	res.Flush()

	ctx := c.Request().Context()
	ticker := time.NewTicker(s.config.StreamPoll)
	defer ticker.Stop()

	offset := 0
	for {
		events, _, err := s.deps.Analyzer.EventsSince(id, offset)
		if err != nil {
			return nil
		}
		for _, ev := range events {
			if err := writeSSE(res, ev); err != nil {
				return nil
			}
			if ev.Terminal() {
				return nil
			}
		}
		offset += len(events)

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func writeSSE(res *echo.Response, ev analysis.Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(res, "data: %s\n\n", data); err != nil {
		return err
	}
	res.Flush()
	return nil
}

// handleCancel stops a running analysis.
func (s *Server) handleCancel(c echo.Context) error {
	ack, err := s.deps.Analyzer.Cancel(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "analysis not found")
	}
	return c.JSON(http.StatusOK, ack)
}

// handleResult returns the terminal result of a completed analysis.
func (s *Server) handleResult(c echo.Context) error {
	result, err := s.deps.Analyzer.Result(c.Param("id"))
	if err != nil {
		return resultError(err)
	}
	return c.JSON(http.StatusOK, result)
}

// resultError maps analysis result gating errors onto HTTP statuses.
func resultError(err error) error {
	var notCompleted *analysis.NotCompletedError
	switch {
	case errors.Is(err, analysis.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "analysis not found")
	case errors.As(err, &notCompleted):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, analysis.ErrNoResult):
		return echo.NewHTTPError(http.StatusNotFound, "result not available")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
}

// handleHistory lists past analyses, newest first.
func (s *Server) handleHistory(c echo.Context) error {
	limit := 0
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid limit")
		}
		limit = n
	}
	return c.JSON(http.StatusOK, s.deps.Analyzer.History(limit))
}

// StatsResponse is the response body for GET /api/rca/stats: the
// in-process analysis table next to the learning library counts.
type StatsResponse struct {
	Analyses analysis.Stats `json:"analyses"`
	Patterns patterns.Stats `json:"patterns"`
}

// handleStats reports analysis and pattern-library statistics.
func (s *Server) handleStats(c echo.Context) error {
	return c.JSON(http.StatusOK, StatsResponse{
		Analyses: s.deps.Analyzer.Stats(),
		Patterns: s.deps.Patterns.Stats(c.Request().Context()),
	})
}

// handleCreatePR starts the pull-request round-trip for a completed
// analysis, or reports the PR that already exists.
func (s *Server) handleCreatePR(c echo.Context) error {
	ack, err := s.deps.Analyzer.CreatePR(c.Request().Context(), c.Param("id"))
	if err != nil {
		var lowConfidence *analysis.LowConfidenceError
		if errors.As(err, &lowConfidence) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return resultError(err)
	}
	return c.JSON(http.StatusOK, ack)
}

// PRStatusResponse merges the local PR sub-protocol state with a live
// code-host snapshot when one is available.
type PRStatusResponse struct {
	analysis.PRInfo
	Live *codehost.PRStatus `json:"live,omitempty"`
}

// handlePRStatus reports PR creation state and, once the PR exists,
// its live review and CI status.
func (s *Server) handlePRStatus(c echo.Context) error {
	info, err := s.deps.Analyzer.PRInfo(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "analysis not found")
	}

	resp := PRStatusResponse{PRInfo: *info}
	if info.State == analysis.PRStateCreated && info.Number != 0 && s.deps.CodeHost != nil {
		live, err := s.deps.CodeHost.GetPullRequestStatus(c.Request().Context(), info.Number)
		if err != nil {
			s.logger.Warn("pull request status check failed",
				zap.Int("pr_number", info.Number),
				zap.Error(err))
			return echo.NewHTTPError(http.StatusBadGateway, "pull request status check failed")
		}
		resp.Live = live
	}
	return c.JSON(http.StatusOK, resp)
}
