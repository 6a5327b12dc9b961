//go:build cgo

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/fyrsmithlabs/rcad/internal/embeddings"
)

var forceDownload bool

func init() {
	// Registered here rather than in main.go: the command only exists in
	// cgo builds, where local embeddings are available.
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVarP(&forceDownload, "force", "f", false, "Force re-download even if ONNX runtime exists")
}

// initCmd downloads the ONNX runtime needed for local embeddings.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Install the ONNX runtime for local embeddings",
	Long: `Download the ONNX runtime library required for local embeddings
with FastEmbed. The library is installed to:
  ~/.config/rcad/lib/

If the ONNX_PATH environment variable is set, that path takes precedence
and nothing is downloaded.

Examples:
  # Install the ONNX runtime
  rcadctl init

  # Force re-download even if already installed
  rcadctl init --force`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	if !forceDownload {
		if path := embeddings.GetONNXLibraryPath(); path != "" {
			cmd.Printf("ONNX runtime already installed at: %s\n", path)
			cmd.Println("Use --force to re-download.")
			return nil
		}
	}

	cmd.Printf("Downloading ONNX runtime v%s...\n", embeddings.DefaultONNXRuntimeVersion)

	if err := embeddings.DownloadONNXRuntime(context.Background(), ""); err != nil {
		return fmt.Errorf("failed to download ONNX runtime: %w", err)
	}

	path := embeddings.GetONNXLibraryPath()
	if path == "" {
		return fmt.Errorf("download completed but library not found")
	}

	cmd.Printf("Successfully installed ONNX runtime to: %s\n", path)
	return nil
}
