package main

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rcad/internal/monitor"
)

var monitorInterval time.Duration

// monitorCmd runs the live terminal dashboard
var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Watch a live dashboard of analyses, queue, and patterns",
	Long: `Run a terminal dashboard that polls the rcad server and renders analysis
counts, the discovery queue, and pattern library totals.

Examples:
  # Watch with the default refresh
  rcadctl monitor

  # Slow the polling down
  rcadctl monitor --interval 30s`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", 5*time.Second, "refresh interval")
}

// runMonitor handles the monitor command
func runMonitor(cmd *cobra.Command, args []string) error {
	program := tea.NewProgram(monitor.NewModel(serverURL, monitorInterval), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("failed to run monitor: %w", err)
	}
	return nil
}
