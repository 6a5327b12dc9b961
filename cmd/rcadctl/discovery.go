package main

import (
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/spf13/cobra"
)

var (
	scanTimeframe      string
	scanOrganization   string
	scanMinOccurrences int
	scanAutoAnalyze    bool
)

// scanCmd scans the issue source and fills the discovery queue
var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Scan for unresolved issues and queue them by priority",
	Long: `Scan the configured Sentry organization for unresolved issues, score them,
and queue the ones above the occurrence floor.

Examples:
  # Scan the last 24 hours
  rcadctl scan

  # Scan a week and start analyses for the hottest groups
  rcadctl scan --timeframe 7d --auto-analyze`,
	RunE: runScan,
}

// queueCmd groups the queue subcommands
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect and edit the discovery queue",
}

var (
	queueStatus string
	queueLimit  int
)

// queueListCmd lists queue entries by priority
var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List queue entries, highest priority first",
	Long: `List discovery queue entries, highest priority first.

Examples:
  # Show the queue
  rcadctl queue list

  # Only entries still waiting for analysis
  rcadctl queue list --status queued`,
	RunE: runQueueList,
}

// queueRmCmd removes an issue from the queue
var queueRmCmd = &cobra.Command{
	Use:   "rm <issue-id>",
	Short: "Remove an issue from the queue",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueRm,
}

var (
	bootstrapProjects   []string
	bootstrapMonthsBack int
	bootstrapMaxIssues  int
	bootstrapMinOccur   int
	bootstrapForce      bool
)

// bootstrapCmd seeds the pattern library from resolved issue history
var bootstrapCmd = &cobra.Command{
	Use:   "bootstrap",
	Short: "Seed the pattern library from resolved issue history",
	Long: `Load fix patterns from historically resolved Sentry issues. Blocks until
the load finishes; a run newer than the tracker max age is skipped unless
--force is set.

Examples:
  # Bootstrap from one project
  rcadctl bootstrap --project backend

  # Re-run even if a recent bootstrap exists
  rcadctl bootstrap --project backend --project web --force`,
	RunE: runBootstrap,
}

func init() {
	scanCmd.Flags().StringVar(&scanTimeframe, "timeframe", "24h", "scan window (24h, 7d, 30d)")
	scanCmd.Flags().StringVar(&scanOrganization, "org", "", "Sentry organization slug (default from server config)")
	scanCmd.Flags().IntVar(&scanMinOccurrences, "min-occurrences", 0, "minimum event count to queue an issue")
	scanCmd.Flags().BoolVar(&scanAutoAnalyze, "auto-analyze", false, "start batch analyses for high-priority groups")

	queueListCmd.Flags().StringVar(&queueStatus, "status", "", "filter by status (queued, analyzing, completed, failed)")
	queueListCmd.Flags().IntVar(&queueLimit, "limit", 50, "maximum entries to list")
	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueRmCmd)

	bootstrapCmd.Flags().StringSliceVar(&bootstrapProjects, "project", nil, "Sentry project slug (repeatable)")
	bootstrapCmd.Flags().IntVar(&bootstrapMonthsBack, "months", 0, "months of resolved history to read")
	bootstrapCmd.Flags().IntVar(&bootstrapMaxIssues, "max-issues", 0, "resolved issues per project cap")
	bootstrapCmd.Flags().IntVar(&bootstrapMinOccur, "min-occurrences", 0, "minimum occurrences for a resolved issue to count")
	bootstrapCmd.Flags().BoolVar(&bootstrapForce, "force", false, "run even if a recent bootstrap exists")
}

// ScanRequest matches internal/http/discovery.go ScanRequest
type ScanRequest struct {
	Timeframe      string `json:"timeframe"`
	Organization   string `json:"organization,omitempty"`
	MinOccurrences int    `json:"min_occurrences,omitempty"`
	AutoAnalyze    bool   `json:"auto_analyze,omitempty"`
}

// ScanIssue matches internal/discovery Issue
type ScanIssue struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	ErrorCount int    `json:"error_count"`
	UserCount  int    `json:"user_count"`
	Priority   int    `json:"priority"`
}

// BatchSummary matches internal/http/discovery.go BatchSummary
type BatchSummary struct {
	ErrorType string `json:"error_type"`
	Issues    int    `json:"issues"`
}

// ScanResponse matches internal/http/discovery.go ScanResponse
type ScanResponse struct {
	Queued       int            `json:"queued"`
	TotalFound   int            `json:"total_found"`
	Timeframe    string         `json:"timeframe"`
	Organization string         `json:"organization"`
	Groups       map[string]int `json:"groups"`
	Issues       []ScanIssue    `json:"issues"`
	AutoBatches  []BatchSummary `json:"auto_batches"`
}

// runScan handles the scan command
func runScan(cmd *cobra.Command, args []string) error {
	req := ScanRequest{
		Timeframe:      scanTimeframe,
		Organization:   scanOrganization,
		MinOccurrences: scanMinOccurrences,
		AutoAnalyze:    scanAutoAnalyze,
	}

	var resp ScanResponse
	if err := postJSON("/api/discovery/scan", req, &resp, 2*time.Minute); err != nil {
		return err
	}

	fmt.Printf("Scanned %s: %d issues found, %d queued\n", resp.Timeframe, resp.TotalFound, resp.Queued)

	if len(resp.Groups) > 0 {
		fmt.Println("\nGroups:")
		groups := make([]string, 0, len(resp.Groups))
		for group := range resp.Groups {
			groups = append(groups, group)
		}
		sort.Strings(groups)
		for _, group := range groups {
			fmt.Printf("  %-20s %d\n", group, resp.Groups[group])
		}
	}

	if len(resp.Issues) > 0 {
		fmt.Println("\nTop issues:")
		for _, issue := range resp.Issues {
			fmt.Printf("  [%3d] %-10s %s (%d events, %d users)\n",
				issue.Priority, issue.ID, issue.Title, issue.ErrorCount, issue.UserCount)
		}
	}

	for _, batch := range resp.AutoBatches {
		fmt.Printf("\nStarted auto-analysis batch: %s (%d issues)\n", batch.ErrorType, batch.Issues)
	}

	return nil
}

// QueueEntry matches internal/discovery QueuedIssue
type QueueEntry struct {
	IssueID    string    `json:"issue_id"`
	Priority   int       `json:"priority"`
	ErrorCount int       `json:"error_count"`
	Title      string    `json:"title"`
	Status     string    `json:"status"`
	AnalysisID string    `json:"analysis_id"`
	QueuedAt   time.Time `json:"queued_at"`
}

// runQueueList handles the queue list command
func runQueueList(cmd *cobra.Command, args []string) error {
	path := fmt.Sprintf("/api/discovery/queue?limit=%d", queueLimit)
	if queueStatus != "" {
		path += "&status=" + url.QueryEscape(queueStatus)
	}

	var entries []QueueEntry
	if err := getJSON(path, &entries); err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("Queue is empty")
		return nil
	}

	fmt.Printf("%-12s %5s %7s %-10s %s\n", "ISSUE", "PRIO", "EVENTS", "STATUS", "TITLE")
	for _, entry := range entries {
		fmt.Printf("%-12s %5d %7d %-10s %s\n",
			entry.IssueID, entry.Priority, entry.ErrorCount, entry.Status, entry.Title)
	}
	return nil
}

// runQueueRm handles the queue rm command
func runQueueRm(cmd *cobra.Command, args []string) error {
	var resp struct {
		Removed bool `json:"removed"`
	}
	path := "/api/discovery/queue/" + url.PathEscape(args[0])
	if err := request(http.MethodDelete, path, nil, &resp, 30*time.Second); err != nil {
		return err
	}

	fmt.Printf("Removed issue %s from queue\n", args[0])
	return nil
}

// BootstrapRequest matches internal/http/discovery.go BootstrapRequest
type BootstrapRequest struct {
	Projects            []string `json:"projects"`
	MaxIssuesPerProject int      `json:"max_issues_per_project,omitempty"`
	MinOccurrences      int      `json:"min_occurrences,omitempty"`
	MonthsBack          int      `json:"months_back,omitempty"`
	Force               bool     `json:"force,omitempty"`
}

// BootstrapResponse matches internal/http/discovery.go BootstrapResponse
type BootstrapResponse struct {
	Status         string `json:"status"`
	Message        string `json:"message"`
	PatternsLoaded int    `json:"patterns_loaded"`
	ElapsedSeconds int    `json:"elapsed_seconds"`
}

// runBootstrap handles the bootstrap command
func runBootstrap(cmd *cobra.Command, args []string) error {
	req := BootstrapRequest{
		Projects:            bootstrapProjects,
		MaxIssuesPerProject: bootstrapMaxIssues,
		MinOccurrences:      bootstrapMinOccur,
		MonthsBack:          bootstrapMonthsBack,
		Force:               bootstrapForce,
	}

	fmt.Println("Bootstrapping pattern library (this can take a while)...")

	var resp BootstrapResponse
	if err := postJSON("/api/discovery/bootstrap", req, &resp, 10*time.Minute); err != nil {
		return err
	}

	fmt.Printf("Status: %s\n", resp.Status)
	fmt.Println(resp.Message)
	switch resp.Status {
	case "completed":
		fmt.Printf("Elapsed: %ds\n", resp.ElapsedSeconds)
	case "skipped":
		fmt.Printf("Patterns already loaded: %d\n", resp.PatternsLoaded)
	}
	return nil
}
