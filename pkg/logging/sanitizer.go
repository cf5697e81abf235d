package logging

import (
	"regexp"
	"strings"
)

const (
	// RedactedText is the replacement text for sensitive data
	RedactedText = "[REDACTED]"

	maskKeepStart = 6
	maskKeepEnd   = 4
)

var (
	// Pattern to match bearer tokens in auth headers
	bearerPattern = regexp.MustCompile(`Bearer\s+[A-Za-z0-9._-]+`)

	// Pattern to match token query parameters in JDBC-style URLs
	tokenParamPattern = regexp.MustCompile(`(?i)(token)=[^;&\s]+`)
)

// MaskToken masks a service token for logging, keeping the first 6 and last 4
// characters visible. Tokens too short to mask safely are fully starred.
func MaskToken(token string) string {
	if token == "" {
		return ""
	}
	if len(token) <= maskKeepStart+maskKeepEnd {
		return strings.Repeat("*", len(token))
	}
	return token[:maskKeepStart] + "***" + token[len(token)-maskKeepEnd:]
}

// SanitizeURL removes token values from connection URLs before logging.
func SanitizeURL(url string) string {
	if url == "" {
		return ""
	}
	return tokenParamPattern.ReplaceAllString(url, "${1}="+RedactedText)
}

// SanitizeAuthHeader replaces bearer token contents in a header value.
func SanitizeAuthHeader(header string) string {
	return bearerPattern.ReplaceAllString(header, "Bearer "+RedactedText)
}

// TruncateString truncates a string to maxLen and adds ellipsis if needed
func TruncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
