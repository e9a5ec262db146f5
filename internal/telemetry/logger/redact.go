package logger

import (
	"fmt"
	"log/slog"
	"strings"
)

// Sensitive key patterns that should be redacted.
var sensitiveKeyPatterns = []string{
	"password",
	"secret",
	"token",
	"seal_key",
	"encryption_key",
	"credential",
	"auth",
	"bearer",
}

// Keys that carry canister memory. Their contents are summarized by size.
var blobKeyPatterns = []string{
	"heap",
	"stable",
	"wasm_binary",
	"payload",
	"chunk",
}

// redactedValue is the placeholder for redacted sensitive data.
const redactedValue = "***REDACTED***"

// redactSensitive checks if an attribute contains sensitive data
// and redacts it if necessary.
func redactSensitive(a slog.Attr) slog.Attr {
	switch a.Value.Kind() {
	case slog.KindString:
		if a.Value.String() != "" && IsSensitiveKey(a.Key) {
			return slog.String(a.Key, redactedValue)
		}
	case slog.KindAny:
		if b, ok := a.Value.Any().([]byte); ok {
			if IsSensitiveKey(a.Key) {
				return slog.String(a.Key, redactedValue)
			}
			if isBlobKey(a.Key) || len(b) > maxLoggedBytes {
				return slog.String(a.Key, summarizeBytes(b))
			}
		}
	case slog.KindGroup:
		attrs := a.Value.Group()
		newAttrs := make([]slog.Attr, len(attrs))
		for i, attr := range attrs {
			newAttrs[i] = redactSensitive(attr)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(newAttrs...)}
	}
	return a
}

// maxLoggedBytes is the largest byte slice written out verbatim.
const maxLoggedBytes = 64

func summarizeBytes(b []byte) string {
	return fmt.Sprintf("<%d bytes>", len(b))
}

// redactArgs applies the slog redaction rules to alternating key/value
// arguments. Used by backends that do not run slog's ReplaceAttr.
func redactArgs(args []any) []any {
	out := make([]any, 0, len(args))
	for i := 0; i < len(args); i++ {
		switch v := args[i].(type) {
		case slog.Attr:
			a := redactSensitive(v)
			out = append(out, a.Key, a.Value.Any())
		case string:
			if i+1 >= len(args) {
				out = append(out, v)
				continue
			}
			a := redactSensitive(slog.Any(v, args[i+1]))
			out = append(out, a.Key, a.Value.Any())
			i++
		default:
			out = append(out, v)
		}
	}
	return out
}

// maskValue partially masks a value, keeping the first and last 3 chars.
func maskValue(value string) string {
	if len(value) <= 12 {
		return "***"
	}
	return value[:3] + "..." + value[len(value)-3:]
}

// RedactString manually redacts a string value.
// Use this when you need to log a hint of a secret, like a key fingerprint.
func RedactString(value string) string {
	if value == "" {
		return ""
	}
	return maskValue(value)
}

// IsSensitiveKey checks if a key name suggests sensitive content.
func IsSensitiveKey(key string) bool {
	return containsAny(key, sensitiveKeyPatterns)
}

func isBlobKey(key string) bool {
	return containsAny(key, blobKeyPatterns)
}

func containsAny(key string, patterns []string) bool {
	keyLower := strings.ToLower(key)
	for _, pattern := range patterns {
		if strings.Contains(keyLower, pattern) {
			return true
		}
	}
	return false
}
