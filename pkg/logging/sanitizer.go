package logging

import (
	"regexp"
	"strings"
)

const (
	// MaxQueryLogLength caps how much of a SQL statement ends up in a log line.
	MaxQueryLogLength = 100
	// RedactedText replaces credential material in logged strings.
	RedactedText = "[REDACTED]"
)

// redaction pairs a credential pattern with its replacement. Everything the
// engine logs about a target connection passes through one or more of these
// before it reaches a sink.
type redaction struct {
	pattern *regexp.Regexp
	replace string
}

func (r redaction) apply(s string) string {
	return r.pattern.ReplaceAllString(s, r.replace)
}

var (
	// password=..., pwd=..., pass=..., up to the next delimiter.
	passwordRedaction = redaction{
		pattern: regexp.MustCompile(`(?i)(password|pwd|pass)=[^;&\s]+`),
		replace: "${1}=" + RedactedText,
	}

	// api_key=..., apikey=..., key=... with token-length values. The length
	// floor keeps ordinary key=value pairs out of the redaction.
	apiKeyRedaction = redaction{
		pattern: regexp.MustCompile(`(?i)(api[_-]?key|apikey|key)=[A-Za-z0-9-_]{20,}`),
		replace: "${1}=" + RedactedText,
	}

	// user:secret@host inside connection URLs.
	urlCredentialRedaction = redaction{
		pattern: regexp.MustCompile(`://[^:]+:[^@]+@[^/\s]+`),
		replace: "://" + RedactedText + "@" + RedactedText,
	}
)

func redactAll(s string, redactions ...redaction) string {
	for _, r := range redactions {
		s = r.apply(s)
	}
	return s
}

// SanitizeConnectionString strips credentials from a connection string so
// it can be logged. Both key=value and URL userinfo forms are covered.
func SanitizeConnectionString(connStr string) string {
	if connStr == "" {
		return ""
	}
	return redactAll(connStr, passwordRedaction, urlCredentialRedaction)
}

// SanitizeError renders an error for logging. Driver errors often echo the
// connection string that failed, so the full redaction set runs over the
// message.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return redactAll(err.Error(), passwordRedaction, apiKeyRedaction, urlCredentialRedaction)
}

// SanitizeQuery truncates a SQL statement to MaxQueryLogLength and redacts
// credential-shaped literals from what remains.
func SanitizeQuery(query string) string {
	if query == "" {
		return ""
	}
	return redactAll(TruncateString(query, MaxQueryLogLength), passwordRedaction, apiKeyRedaction)
}

// TruncateString shortens s to maxLen and marks the cut with an ellipsis.
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// MaskValue masks a sampled value so evidence can be logged or persisted
// without exposing the underlying data. The first and last runes are kept,
// everything in between becomes '*'. Values of one or two runes are fully
// masked.
func MaskValue(s string) string {
	runes := []rune(s)
	switch {
	case len(runes) == 0:
		return ""
	case len(runes) <= 2:
		return strings.Repeat("*", len(runes))
	default:
		return string(runes[0]) + strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-1])
	}
}
