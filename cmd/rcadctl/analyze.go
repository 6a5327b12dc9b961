package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var analyzeOrganization string

// analyzeCmd starts an analysis for one Sentry issue
var analyzeCmd = &cobra.Command{
	Use:   "analyze <issue-id>",
	Short: "Start a root cause analysis for a Sentry issue",
	Long: `Start a root cause analysis for one Sentry issue and print the analysis ID.
The analysis runs server-side; follow it on the stream URL or fetch the result
once it completes.

Examples:
  # Analyze an issue
  rcadctl analyze 123456

  # Analyze an issue from a specific organization
  rcadctl analyze 123456 --org acme`,
	Args: cobra.ExactArgs(1),
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVar(&analyzeOrganization, "org", "", "Sentry organization slug (default from server config)")
}

// AnalyzeRequest matches internal/http/rca.go AnalyzeRequest
type AnalyzeRequest struct {
	IssueID      string `json:"issue_id"`
	Organization string `json:"organization,omitempty"`
}

// StartInfo matches internal/analysis StartInfo
type StartInfo struct {
	AnalysisID string `json:"analysis_id"`
	Status     string `json:"status"`
}

// runAnalyze handles the analyze command
func runAnalyze(cmd *cobra.Command, args []string) error {
	req := AnalyzeRequest{IssueID: args[0], Organization: analyzeOrganization}

	var info StartInfo
	if err := postJSON("/api/rca/analyze", req, &info, 30*time.Second); err != nil {
		return err
	}

	fmt.Printf("Analysis started: %s\n", info.AnalysisID)
	fmt.Printf("Stream: %s/api/rca/stream/%s\n", serverURL, info.AnalysisID)
	fmt.Printf("Result: %s/api/rca/result/%s\n", serverURL, info.AnalysisID)
	return nil
}
