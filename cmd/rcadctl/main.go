// Package main implements the rcadctl CLI for manual operations against the rcad HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the rcad HTTP server
	serverURL string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rcadctl",
	Short: "CLI for rcad HTTP server operations",
	Long: `rcadctl is a command-line interface for interacting with the rcad HTTP server.
It provides commands for scanning issues, managing the discovery queue, starting
analyses, bootstrapping the pattern library, and watching a live dashboard.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8090", "rcad server URL")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(scanCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(bootstrapCmd)
	rootCmd.AddCommand(patternsCmd)
	rootCmd.AddCommand(monitorCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check rcad server health",
	Long: `Check the health status of the rcad HTTP server.

Examples:
  # Check health
  rcadctl health

  # Check health on a different server
  rcadctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// HealthResponse matches internal/http/server.go HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// runHealth handles the health command
func runHealth(cmd *cobra.Command, args []string) error {
	var healthResp HealthResponse
	if err := getJSON("/health", &healthResp); err != nil {
		return err
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)

	return nil
}

// getJSON issues a GET against the server and decodes the JSON response.
func getJSON(path string, out interface{}) error {
	return request(http.MethodGet, path, nil, out, 30*time.Second)
}

// postJSON issues a POST with a JSON body. Timeout is per call because
// scan and bootstrap block on upstream pagination.
func postJSON(path string, body, out interface{}, timeout time.Duration) error {
	return request(http.MethodPost, path, body, out, timeout)
}

func request(method, path string, body, out interface{}, timeout time.Duration) error {
	url := serverURL + path

	var reader io.Reader
	if body != nil {
		reqJSON, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to marshal request: %w", err)
		}
		reader = bytes.NewReader(reqJSON)
	}

	httpReq, err := http.NewRequest(method, url, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{
		Timeout: timeout,
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, readErr := io.ReadAll(resp.Body)
		if readErr != nil {
			return fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// getText issues a GET and returns the body verbatim, for the
// plain-text pattern listing.
func getText(path string) (string, error) {
	url := serverURL + path

	client := &http.Client{
		Timeout: 30 * time.Second,
	}

	resp, err := client.Get(url)
	if err != nil {
		return "", fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return string(respBody), nil
}
