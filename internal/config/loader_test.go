package config

import (
	"bytes"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

// setupTestHome points HOME at a temporary directory so tests never touch
// the real ~/.config/rcad.
func setupTestHome(t *testing.T) string {
	t.Helper()
	tmpHome := t.TempDir()
	t.Setenv("HOME", tmpHome)
	return tmpHome
}

func writeTestConfig(t *testing.T, home, content string) string {
	t.Helper()
	configDir := filepath.Join(home, ".config", "rcad")
	if err := os.MkdirAll(configDir, 0o700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	configPath := filepath.Join(configDir, "config.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o600); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return configPath
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	home := setupTestHome(t)

	configPath := writeTestConfig(t, home, `server:
  port: 9090
  host: 127.0.0.1

sentry:
  organization: acme
  token: sn_test_token

discovery:
  max_pages: 3
`)

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Server.Host = %q, want 127.0.0.1", cfg.Server.Host)
	}
	if cfg.Sentry.Organization != "acme" {
		t.Errorf("Sentry.Organization = %q, want acme", cfg.Sentry.Organization)
	}
	if cfg.Sentry.Token.Value() != "sn_test_token" {
		t.Error("Sentry.Token did not round-trip through the loader")
	}
	if cfg.Discovery.MaxPages != 3 {
		t.Errorf("Discovery.MaxPages = %d, want 3", cfg.Discovery.MaxPages)
	}
}

func TestLoadWithFile_EnvironmentOverride(t *testing.T) {
	home := setupTestHome(t)

	configPath := writeTestConfig(t, home, `server:
  port: 9090

sentry:
  organization: yaml-org
`)

	t.Setenv("RCAD_SERVER_PORT", "7777")
	t.Setenv("RCAD_SENTRY_ORGANIZATION", "env-org")
	t.Setenv("RCAD_GITHUB_PR_MARKER", "[bot-fix]")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("Server.Port = %d, want 7777 (from env override)", cfg.Server.Port)
	}
	if cfg.Sentry.Organization != "env-org" {
		t.Errorf("Sentry.Organization = %q, want env-org (from env override)", cfg.Sentry.Organization)
	}
	if cfg.GitHub.PRMarker != "[bot-fix]" {
		t.Errorf("GitHub.PRMarker = %q, want [bot-fix] (multi-word env key)", cfg.GitHub.PRMarker)
	}
}

func TestLoadWithFile_MissingFile(t *testing.T) {
	home := setupTestHome(t)

	configPath := filepath.Join(home, ".config", "rcad", "config.yaml")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() should not error on missing file, got: %v", err)
	}
	if cfg == nil {
		t.Fatal("LoadWithFile() returned nil config for missing file")
	}

	// Defaults apply.
	if cfg.Server.Port != 8090 {
		t.Errorf("default Server.Port = %d, want 8090", cfg.Server.Port)
	}
	if cfg.Oracle.MaxAnalysisTurns != 20 {
		t.Errorf("default Oracle.MaxAnalysisTurns = %d, want 20", cfg.Oracle.MaxAnalysisTurns)
	}
	if cfg.Patterns.CacheTTL.Duration().Seconds() != 300 {
		t.Errorf("default Patterns.CacheTTL = %s, want 5m0s", cfg.Patterns.CacheTTL)
	}
}

func TestLoadWithFile_InvalidYAML(t *testing.T) {
	home := setupTestHome(t)

	configPath := writeTestConfig(t, home, `server:
  port: not-a-number
  invalid syntax here
`)

	if _, err := LoadWithFile(configPath); err == nil {
		t.Error("LoadWithFile() should error on invalid YAML, got nil")
	}
}

func TestLoadWithFile_Validation(t *testing.T) {
	home := setupTestHome(t)

	configPath := writeTestConfig(t, home, `server:
  port: 99999
`)

	if _, err := LoadWithFile(configPath); err == nil {
		t.Error("LoadWithFile() should error on invalid port, got nil")
	}
}

func TestLoadWithFile_PathTraversal(t *testing.T) {
	setupTestHome(t)

	_, err := LoadWithFile("../../../../etc/passwd")
	if err == nil {
		t.Fatal("Expected error for path traversal, got nil")
	}
	if !strings.Contains(err.Error(), "must be in ~/.config/rcad/ or /etc/rcad/") {
		t.Errorf("Expected path validation error, got: %v", err)
	}
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}

	home := setupTestHome(t)
	configPath := writeTestConfig(t, home, "server:\n  port: 9090\n")

	// Loosen to world-readable after the helper's 0600 write.
	if err := os.Chmod(configPath, 0o644); err != nil {
		t.Fatalf("Failed to chmod test config: %v", err)
	}

	_, err := LoadWithFile(configPath)
	if err == nil {
		t.Fatal("Expected error for insecure permissions, got nil")
	}
	if !strings.Contains(err.Error(), "insecure permissions") {
		t.Errorf("Expected 'insecure permissions' error, got: %v", err)
	}
}

func TestLoadWithFile_SecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("Skipping permission test on Windows")
	}

	home := setupTestHome(t)
	configPath := writeTestConfig(t, home, "server:\n  port: 9090\n")

	cfg, err := LoadWithFile(configPath)
	if err != nil {
		t.Fatalf("LoadWithFile() should succeed with 0600 permissions, got error: %v", err)
	}
	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
}

func TestLoadWithFile_FileTooLarge(t *testing.T) {
	home := setupTestHome(t)

	largeContent := string(bytes.Repeat([]byte("# comment line\n"), 150000))
	configPath := writeTestConfig(t, home, largeContent)

	_, err := LoadWithFile(configPath)
	if err == nil {
		t.Fatal("Expected error for large file, got nil")
	}
	if !strings.Contains(err.Error(), "too large") {
		t.Errorf("Expected 'too large' error, got: %v", err)
	}
}

func TestEnsureConfigDir(t *testing.T) {
	home := setupTestHome(t)

	dir, err := EnsureConfigDir()
	if err != nil {
		t.Fatalf("EnsureConfigDir() error = %v", err)
	}
	want := filepath.Join(home, ".config", "rcad")
	if dir != want {
		t.Errorf("EnsureConfigDir() = %q, want %q", dir, want)
	}

	info, err := os.Stat(dir)
	if err != nil {
		t.Fatalf("Stat config dir: %v", err)
	}
	if perm := info.Mode().Perm(); perm != 0o700 {
		t.Errorf("config dir permissions = %04o, want 0700", perm)
	}
}

func TestExpandHome(t *testing.T) {
	home := setupTestHome(t)

	if got := ExpandHome("~/patterns"); got != filepath.Join(home, "patterns") {
		t.Errorf("ExpandHome(~/patterns) = %q", got)
	}
	if got := ExpandHome("/var/lib/rcad"); got != "/var/lib/rcad" {
		t.Errorf("ExpandHome(absolute) = %q, want unchanged", got)
	}
	if got := ExpandHome("relative/path"); got != "relative/path" {
		t.Errorf("ExpandHome(relative) = %q, want unchanged", got)
	}
}
