package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// maxConfigSize caps config files at 1MB to prevent memory exhaustion.
	maxConfigSize = 1 << 20

	// envPrefix namespaces environment overrides: RCAD_SENTRY_TOKEN,
	// RCAD_SERVER_PORT, and so on.
	envPrefix = "RCAD_"
)

// Load loads configuration from the default path with environment overrides.
func Load() (*Config, error) {
	return LoadWithFile("")
}

// LoadWithFile loads configuration from the given file path. An empty path
// falls back to ~/.config/rcad/config.yaml; a missing file is not an error
// and leaves defaults plus environment overrides in effect.
func LoadWithFile(path string) (*Config, error) {
	k := koanf.New(".")

	if path == "" {
		home, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(home, ".config", "rcad", "config.yaml")
		}
	}

	if path != "" {
		data, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		if data != nil {
			if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("parsing config file: %w", err)
			}
		}
	}

	// Environment variables override file values. RCAD_SECTION_FIELD_NAME
	// maps to section.field_name; only the first underscore splits, so
	// multi-word fields keep their underscores.
	err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		s = strings.ToLower(strings.TrimPrefix(s, envPrefix))
		parts := strings.SplitN(s, "_", 2)
		if len(parts) == 2 {
			return parts[0] + "." + parts[1]
		}
		return s
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("loading environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	applyDefaults(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// readConfigFile opens and reads a config file with permission and size
// validation. Returns (nil, nil) when the file does not exist.
//
// The file is opened once and all checks run against the open handle, so a
// swap between check and read cannot bypass validation.
func readConfigFile(path string) ([]byte, error) {
	cleaned, err := validateConfigPath(path)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(cleaned)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("opening config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("config path is a directory: %s", cleaned)
	}
	if info.Size() > maxConfigSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigSize)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		return nil, fmt.Errorf("config file %s has insecure permissions %04o (must be 0600 or 0400)", cleaned, perm)
	}

	data, err := io.ReadAll(io.LimitReader(f, maxConfigSize+1))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if len(data) > maxConfigSize {
		return nil, fmt.Errorf("config file too large (max %d bytes)", maxConfigSize)
	}
	return data, nil
}

// validateConfigPath resolves the path and restricts it to the allowed
// configuration directories.
func validateConfigPath(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving config path: %w", err)
	}

	// Resolve symlinks so a link inside an allowed dir cannot point out of
	// it. A missing file resolves against its parent directory.
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		if !os.IsNotExist(err) {
			return "", fmt.Errorf("resolving config path: %w", err)
		}
		parent, evalErr := filepath.EvalSymlinks(filepath.Dir(abs))
		if evalErr != nil {
			if os.IsNotExist(evalErr) {
				return abs, nil
			}
			return "", fmt.Errorf("resolving config directory: %w", evalErr)
		}
		resolved = filepath.Join(parent, filepath.Base(abs))
	}

	allowed := []string{"/etc/rcad"}
	if home, err := os.UserHomeDir(); err == nil {
		allowed = append(allowed, filepath.Join(home, ".config", "rcad"))
	}

	for _, dir := range allowed {
		resolvedDir, err := filepath.EvalSymlinks(dir)
		if err != nil {
			resolvedDir = dir
		}
		if resolved == resolvedDir || strings.HasPrefix(resolved, resolvedDir+string(filepath.Separator)) {
			return resolved, nil
		}
	}
	return "", fmt.Errorf("config path must be in ~/.config/rcad/ or /etc/rcad/, got: %s", abs)
}

// EnsureConfigDir creates the rcad config directory with owner-only
// permissions and returns its path.
func EnsureConfigDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	dir := filepath.Join(home, ".config", "rcad")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("creating config directory: %w", err)
	}
	return dir, nil
}

// ExpandHome replaces a leading ~ with the user's home directory. Paths in
// config files routinely use ~ for per-user data locations.
func ExpandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}
