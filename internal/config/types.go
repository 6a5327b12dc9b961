package config

import (
	"encoding/json"
	"fmt"
	"time"
)

// Duration wraps time.Duration for human-readable config values ("30s",
// "5m"). Negative durations are rejected at parse time.
type Duration time.Duration

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// String returns the duration formatted as time.Duration does.
func (d Duration) String() string {
	return time.Duration(d).String()
}

// UnmarshalText parses a duration string.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", string(text), err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", parsed)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText formats the duration as a string.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// MarshalJSON formats the duration as a JSON string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// UnmarshalJSON parses a duration from a JSON string or a number of
// nanoseconds.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch val := v.(type) {
	case string:
		return d.UnmarshalText([]byte(val))
	case float64:
		if val < 0 {
			return fmt.Errorf("duration cannot be negative: %v", val)
		}
		*d = Duration(time.Duration(val))
		return nil
	default:
		return fmt.Errorf("invalid duration value: %v", v)
	}
}

// Secret wraps sensitive string values. Its String and GoString methods
// return a redaction marker, so tokens cannot leak through %v, %s, %+v, or
// %#v formatting, and marshaling redacts as well. Only Value() exposes the
// underlying string.
type Secret struct {
	value string
}

// NewSecret creates a Secret holding the given value.
func NewSecret(value string) Secret {
	return Secret{value: value}
}

const redacted = "[REDACTED]"

// String implements fmt.Stringer and always redacts.
func (s Secret) String() string {
	return redacted
}

// GoString implements fmt.GoStringer and always redacts.
func (s Secret) GoString() string {
	return "config.Secret{value: \"" + redacted + "\"}"
}

// Value returns the underlying secret value.
func (s Secret) Value() string {
	return s.value
}

// IsSet reports whether a non-empty value is present.
func (s Secret) IsSet() bool {
	return s.value != ""
}

// MarshalText redacts the secret.
func (s Secret) MarshalText() ([]byte, error) {
	return []byte(redacted), nil
}

// MarshalJSON redacts the secret.
func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(redacted)
}

// UnmarshalText accepts the raw secret value.
func (s *Secret) UnmarshalText(text []byte) error {
	s.value = string(text)
	return nil
}

// UnmarshalJSON accepts the raw secret value from a JSON string.
func (s *Secret) UnmarshalJSON(data []byte) error {
	var v string
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("secret must be a string: %w", err)
	}
	s.value = v
	return nil
}
