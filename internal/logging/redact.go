package logging

import (
	"strconv"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/rcad/internal/config"
)

// Secret creates a field for a config.Secret that logs only presence and
// length, never the value.
func Secret(key string, val config.Secret) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val.Value()))+"]")
}

// RedactedString creates a field with the value replaced by its length.
// Used for tokens that arrive as plain strings (webhook signatures,
// API keys pulled from headers).
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}
