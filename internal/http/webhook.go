package http

import (
	"fmt"
	"net/http"
	"strings"
	"sync"

	"github.com/google/go-github/v57/github"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/fyrsmithlabs/rcad/internal/discovery"
	"github.com/fyrsmithlabs/rcad/internal/logging"
)

// fixApproachLen bounds the fix-approach excerpt taken from a PR body.
const fixApproachLen = 100

// rejectedReason is recorded on anti-patterns learned from closed PRs.
// The close itself is the only signal the webhook carries.
const rejectedReason = "PR closed without merge"

// ipRateLimiter tracks one token bucket per client IP. Webhook endpoints
// are internet-facing; everything else on this server is not.
type ipRateLimiter struct {
	limiters sync.Map
	rate     rate.Limit
	burst    int
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	return &ipRateLimiter{rate: rate.Limit(rps), burst: burst}
}

func (l *ipRateLimiter) allow(ip string) bool {
	v, _ := l.limiters.LoadOrStore(ip, rate.NewLimiter(l.rate, l.burst))
	return v.(*rate.Limiter).Allow()
}

// WebhookResponse is the response body for POST /api/webhooks/github.
type WebhookResponse struct {
	Status   string `json:"status"`
	Reason   string `json:"reason,omitempty"`
	Type     string `json:"type,omitempty"`
	PRNumber int    `json:"pr_number,omitempty"`
	Message  string `json:"message,omitempty"`
}

// handleGitHubWebhook feeds pull-request outcomes back into the pattern
// library: a merged PR boosts the confidence of its fix pattern, a PR
// closed without merging becomes an anti-pattern. Only closed
// pull_request events carrying the PR marker are routed; everything else
// is acknowledged and ignored so GitHub does not retry.
func (s *Server) handleGitHubWebhook(c echo.Context) error {
	if !s.webhookLimiter.allow(c.RealIP()) {
		return echo.NewHTTPError(http.StatusTooManyRequests, "rate limit exceeded")
	}

	// An empty secret skips signature verification entirely, so local
	// setups work before a secret is provisioned.
	payload, err := github.ValidatePayload(c.Request(), []byte(s.config.WebhookSecret))
	if err != nil {
		s.logger.Warn("webhook signature verification failed",
			zap.String("remote_ip", c.RealIP()),
			logging.RedactedString("signature", c.Request().Header.Get("X-Hub-Signature-256")),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusUnauthorized, "signature verification failed")
	}

	eventType := github.WebHookType(c.Request())
	event, err := github.ParseWebHook(eventType, payload)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid webhook payload")
	}

	prEvent, ok := event.(*github.PullRequestEvent)
	if !ok {
		return c.JSON(http.StatusOK, WebhookResponse{
			Status: "ignored",
			Reason: fmt.Sprintf("Event type %s not handled", eventType),
		})
	}

	if action := prEvent.GetAction(); action != "closed" {
		return c.JSON(http.StatusOK, WebhookResponse{
			Status: "ignored",
			Reason: fmt.Sprintf("Action %s not handled", action),
		})
	}

	pr := prEvent.GetPullRequest()
	title, body := pr.GetTitle(), pr.GetBody()
	if !s.markedPR(title, body) {
		return c.JSON(http.StatusOK, WebhookResponse{
			Status: "ignored",
			Reason: "pull request does not carry the marker",
		})
	}

	errorType := errorTypeFromPR(title, body)
	fixApproach := fixApproachFromBody(body)
	number := pr.GetNumber()
	ctx := c.Request().Context()

	if pr.GetMerged() {
		s.deps.Patterns.UpdateOnPRMerged(ctx, errorType, fixApproach, number)
		s.logger.Info("learned from merged pull request",
			zap.Int("pr_number", number),
			zap.String("error_type", errorType))
		return c.JSON(http.StatusOK, WebhookResponse{
			Status:   "learned",
			Type:     "success",
			PRNumber: number,
			Message:  fmt.Sprintf("Boosted confidence for %s", errorType),
		})
	}

	s.deps.Patterns.UpdateOnPRRejected(ctx, errorType, fixApproach, rejectedReason, number)
	s.logger.Info("learned from rejected pull request",
		zap.Int("pr_number", number),
		zap.String("error_type", errorType))
	return c.JSON(http.StatusOK, WebhookResponse{
		Status:   "learned",
		Type:     "antipattern",
		PRNumber: number,
		Message:  fmt.Sprintf("Created anti-pattern for %s", errorType),
	})
}

// markedPR reports whether a pull request carries the configured marker
// in its title or body.
func (s *Server) markedPR(title, body string) bool {
	marker := strings.ToLower(s.config.PRMarker)
	return strings.Contains(strings.ToLower(title), marker) ||
		strings.Contains(strings.ToLower(body), marker)
}

// errorTypeFromPR classifies the PR with the same buckets discovery uses
// so the learning update hits the patterns the analysis stored. Titles
// follow "Fix: KeyError in get_user", so the title is checked first.
func errorTypeFromPR(title, body string) string {
	if et := discovery.ExtractErrorType(title); et != discovery.BucketOther {
		return et
	}
	return discovery.ExtractErrorType(body)
}

// fixApproachFromBody pulls a short fix description out of a PR body.
// A "**Fix:" heading wins, contributing the first non-empty line below
// it; a body without one contributes its prefix instead.
func fixApproachFromBody(body string) string {
	lines := strings.Split(body, "\n")
	for i, line := range lines {
		if !strings.HasPrefix(strings.TrimSpace(line), "**Fix:") {
			continue
		}
		for _, next := range lines[i+1:] {
			if t := strings.TrimSpace(next); t != "" {
				return clip(t, fixApproachLen)
			}
		}
	}
	return clip(strings.TrimSpace(body), fixApproachLen)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
