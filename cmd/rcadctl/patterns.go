package main

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rcad/internal/monitor"
)

var (
	patternsErrorType string
	patternsStats     bool
)

// patternsCmd prints the learned pattern library
var patternsCmd = &cobra.Command{
	Use:   "patterns",
	Short: "Print the learned pattern library",
	Long: `Print the formatted pattern library, the same text the analysis oracle
receives as learned context.

Examples:
  # Full library
  rcadctl patterns

  # One error type
  rcadctl patterns --error-type KeyError

  # Counts only
  rcadctl patterns --stats`,
	RunE: runPatterns,
}

func init() {
	patternsCmd.Flags().StringVar(&patternsErrorType, "error-type", "", "narrow to one error type bucket")
	patternsCmd.Flags().BoolVar(&patternsStats, "stats", false, "print library counts instead of pattern text")
}

// runPatterns handles the patterns command
func runPatterns(cmd *cobra.Command, args []string) error {
	if patternsStats {
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()

		stats, err := monitor.NewClient(serverURL).PatternStats(ctx)
		if err != nil {
			return err
		}

		fmt.Printf("Patterns:        %d\n", stats.TotalPatterns)
		fmt.Printf("Anti-patterns:   %d\n", stats.TotalAntiPatterns)
		fmt.Printf("High confidence: %d\n", stats.HighConfidencePatterns)
		fmt.Printf("Memories:        %d\n", stats.TotalMemories)
		fmt.Printf("Mode:            %s\n", stats.Mode)
		return nil
	}

	path := "/api/patterns"
	if patternsErrorType != "" {
		path += "?error_type=" + url.QueryEscape(patternsErrorType)
	}

	text, err := getText(path)
	if err != nil {
		return err
	}
	fmt.Print(text)
	return nil
}
