package secrets

import (
	"errors"
	"fmt"
	"os"
	"regexp"

	"github.com/BurntSushi/toml"
	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
)

var (
	// ErrInvalidTOML marks an allowlist file that failed to parse.
	ErrInvalidTOML = errors.New("invalid allowlist TOML")
	// ErrInvalidRegex marks an allowlist pattern that failed to compile.
	ErrInvalidRegex = errors.New("invalid allowlist regex")
)

// Allowlist holds content patterns excluded from detection. Test fixtures
// and documented example tokens go here so they stop tripping the scrubber.
type Allowlist struct {
	Regexes   []string
	StopWords []string
}

// LoadAllowlist reads a TOML allowlist. A missing file returns (nil, nil);
// an unparseable file or uncompilable pattern is an error.
//
// Expected shape:
//
//	[allowlist]
//	regexes = ["example-token-[a-z]+"]
//	stopwords = ["EXAMPLE_KEY"]
func LoadAllowlist(path string) (*Allowlist, error) {
	var raw struct {
		Allowlist struct {
			Regexes   []string `toml:"regexes"`
			StopWords []string `toml:"stopwords"`
		} `toml:"allowlist"`
	}

	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("stat allowlist: %w", err)
	}

	if _, err := toml.DecodeFile(path, &raw); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrInvalidTOML, path, err)
	}

	for _, pattern := range raw.Allowlist.Regexes {
		if _, err := regexp.Compile(pattern); err != nil {
			return nil, fmt.Errorf("%w: %q in %s: %v", ErrInvalidRegex, pattern, path, err)
		}
	}

	return &Allowlist{
		Regexes:   raw.Allowlist.Regexes,
		StopWords: raw.Allowlist.StopWords,
	}, nil
}

// applyAllowlist merges allowlist patterns into the Gitleaks config.
// Patterns are pre-validated by LoadAllowlist; a compile failure here is a
// bug, not an input error.
func applyAllowlist(cfg *gitleaksConfig.Config, allowlist *Allowlist) {
	global := &gitleaksConfig.Allowlist{
		Description: "rcad operator allowlist",
	}
	for _, pattern := range allowlist.Regexes {
		re, err := regexp.Compile(pattern)
		if err != nil {
			panic("BUG: pre-validated regex pattern failed to compile: " + pattern + ": " + err.Error())
		}
		global.Regexes = append(global.Regexes, (*gitleaksRegexp.Regexp)(re))
	}
	global.StopWords = append(global.StopWords, allowlist.StopWords...)
	cfg.Allowlists = append(cfg.Allowlists, global)
}
