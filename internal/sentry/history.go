package sentry

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/patterns"
)

// HistoryOptions configures the resolved-issue pattern loader.
type HistoryOptions struct {
	// Projects are the Sentry project slugs to harvest.
	Projects []string
	// MaxIssuesPerProject caps issues fetched per project. Defaults to 50.
	MaxIssuesPerProject int
	// MinOccurrences filters out low-volume issues; a fix for an error seen
	// twice is weak evidence. Defaults to 20.
	MinOccurrences int
	// MonthsBack bounds the search window in 30-day months. Defaults to 6.
	MonthsBack int
}

func (o *HistoryOptions) applyDefaults() {
	if o.MaxIssuesPerProject <= 0 {
		o.MaxIssuesPerProject = 50
	}
	if o.MinOccurrences <= 0 {
		o.MinOccurrences = 20
	}
	if o.MonthsBack <= 0 {
		o.MonthsBack = 6
	}
}

// historicalErrorTypes are the exception names recognized in resolved-issue
// titles. Deliberately narrower than the discovery grouper and
// case-sensitive: bootstrapped patterns flow into oracle prompts, so only
// exact exception names qualify.
var historicalErrorTypes = []string{
	"KeyError", "AttributeError", "TypeError", "ValueError",
	"IndexError", "NameError", "ImportError", "RuntimeError",
}

// ResolvedPatterns builds bootstrap candidates from issues that were
// resolved by a commit. For each project it searches resolved issues, pulls
// the activity log of each high-volume one, and keeps those with a
// set_resolved_in_commit entry, turning the commit message into a fix
// approach.
//
// Failures below the whole-run level are tolerated: a project whose search
// fails contributes what it got, an issue whose details fail is skipped.
// Only a missing token fails the run, because silently bootstrapping zero
// patterns from an unauthenticated API would mark bootstrap complete for
// six months.
func (c *Client) ResolvedPatterns(ctx context.Context, opts HistoryOptions) ([]patterns.HistoricalPattern, error) {
	if !c.Configured() {
		return nil, ErrNotConfigured
	}
	opts.applyDefaults()

	end := time.Now().UTC()
	start := end.Add(-time.Duration(opts.MonthsBack) * 30 * 24 * time.Hour)

	var all []patterns.HistoricalPattern
	for _, project := range opts.Projects {
		if err := ctx.Err(); err != nil {
			return all, err
		}
		found := c.resolvedForProject(ctx, project, start, end, opts)
		c.logger.Info("historical patterns loaded",
			zap.String("project", project),
			zap.Int("patterns", len(found)))
		all = append(all, found...)
	}
	return all, nil
}

func (c *Client) resolvedForProject(ctx context.Context, project string, start, end time.Time, opts HistoryOptions) []patterns.HistoricalPattern {
	issues, err := c.SearchIssues(ctx, SearchOptions{
		Query:     "is:resolved project:" + project,
		Start:     start,
		End:       end,
		Sort:      "freq",
		PageSize:  opts.MaxIssuesPerProject,
		MaxIssues: opts.MaxIssuesPerProject,
	})
	if err != nil {
		c.logger.Warn("resolved issue search incomplete",
			zap.String("project", project),
			zap.Error(err))
	}

	var found []patterns.HistoricalPattern
	for _, issue := range issues {
		if ctx.Err() != nil {
			return found
		}
		if int(issue.Count) < opts.MinOccurrences {
			continue
		}

		details, err := c.IssueDetails(ctx, issue.ID)
		if err != nil {
			c.logger.Debug("issue details unavailable",
				zap.String("issue_id", issue.ID),
				zap.Error(err))
			continue
		}

		commit := resolutionCommit(details.Activity)
		if commit == nil {
			continue
		}

		found = append(found, buildHistoricalPattern(issue, commit, project))
	}
	return found
}

// resolutionCommit finds the commit that resolved the issue, if any.
func resolutionCommit(activity []Activity) *Commit {
	for _, act := range activity {
		if act.Type == "set_resolved_in_commit" && act.Data.Commit != nil {
			return act.Data.Commit
		}
	}
	return nil
}

func buildHistoricalPattern(issue Issue, commit *Commit, project string) patterns.HistoricalPattern {
	filePath := issue.Culprit
	if filePath == "" {
		filePath = issue.Metadata.Filename
	}

	functionName := ""
	if idx := strings.LastIndex(issue.Culprit, " in "); idx >= 0 {
		functionName = issue.Culprit[idx+len(" in "):]
	}

	commitURL := ""
	if commit.Repository != nil && commit.Repository.URL != "" && commit.ID != "" {
		commitURL = commit.Repository.URL + "/commit/" + commit.ID
	}

	return patterns.HistoricalPattern{
		ErrorType:     historicalErrorType(issue.Title),
		ErrorMessage:  truncate(issue.Title, 200),
		FilePath:      filePath,
		FunctionName:  functionName,
		FixApproach:   truncate(fixFromCommitMessage(commit.Message), 500),
		CommitURL:     commitURL,
		SentryIssueID: issue.ShortID,
		Occurrences:   int(issue.Count),
		Confidence:    patterns.HistoricalConfidence,
		ResolvedAt:    parseSentryTime(commit.DateCreated),
		Project:       project,
	}
}

func historicalErrorType(title string) string {
	for _, et := range historicalErrorTypes {
		if strings.Contains(title, et) {
			return et
		}
	}
	return "Unknown"
}

// fixFromCommitMessage condenses a commit message into a fix approach: the
// summary line, plus up to three lines of detail when the body carries a
// "root cause:", "changes:", or "fix:" section.
func fixFromCommitMessage(message string) string {
	lines := strings.Split(strings.TrimSpace(message), "\n")
	fix := lines[0]

	for i, line := range lines {
		lower := strings.ToLower(line)
		if strings.HasPrefix(lower, "root cause:") ||
			strings.HasPrefix(lower, "changes:") ||
			strings.HasPrefix(lower, "fix:") {
			end := i + 3
			if end > len(lines) {
				end = len(lines)
			}
			fix += "\n" + strings.Join(lines[i:end], "\n")
			break
		}
	}
	return strings.TrimSpace(fix)
}

// parseSentryTime parses the timestamp shapes Sentry emits. Returns the
// zero time when nothing matches; downstream storage records it as unknown.
func parseSentryTime(value string) time.Time {
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05"} {
		if t, err := time.Parse(layout, value); err == nil {
			return t
		}
	}
	return time.Time{}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
