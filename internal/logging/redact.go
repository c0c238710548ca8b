package logging

import (
	"net/http"
	"net/url"
	"regexp"
	"strings"
)

// Sensitive field names that should be redacted.
var sensitiveFields = []string{
	"password",
	"secret",
	"token",
	"api_key",
	"apikey",
	"api-key",
	"authorization",
	"auth",
	"credential",
	"session",
	"cookie",
}

var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9._~+/=-]+`),
	// JWTs
	regexp.MustCompile(`eyJ[a-zA-Z0-9_-]{8,}\.[a-zA-Z0-9_-]{8,}\.[a-zA-Z0-9_-]+`),
	regexp.MustCompile(`(?i)(sk-[a-zA-Z0-9]{20,})`),
	regexp.MustCompile(`(?i)(key|token|secret|password|auth)[=:]["']?([a-zA-Z0-9+/=_-]{32,})["']?`),
}

// RedactedValue is the replacement for sensitive values.
const RedactedValue = "[REDACTED]"

// Redact replaces secrets found in free text.
func Redact(s string) string {
	for _, pattern := range secretPatterns {
		s = pattern.ReplaceAllString(s, RedactedValue)
	}
	return s
}

// RedactURL strips userinfo and sensitive query parameters from a URL.
// Unparseable input falls back to Redact.
func RedactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return Redact(raw)
	}
	if u.User != nil {
		u.User = url.User(RedactedValue)
	}
	if u.RawQuery != "" {
		query := u.Query()
		for key := range query {
			if IsSensitiveField(key) {
				query.Set(key, RedactedValue)
			}
		}
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// RedactHeader returns a copy of h with sensitive values replaced.
func RedactHeader(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for key, values := range h {
		if IsSensitiveField(key) {
			out[key] = []string{RedactedValue}
			continue
		}
		out[key] = append([]string(nil), values...)
	}
	return out
}

// RedactMap redacts sensitive fields in a nested map.
func RedactMap(m map[string]any) map[string]any {
	result := make(map[string]any, len(m))
	for k, v := range m {
		switch value := v.(type) {
		case map[string]any:
			if IsSensitiveField(k) {
				result[k] = RedactedValue
			} else {
				result[k] = RedactMap(value)
			}
		case string:
			if IsSensitiveField(k) && value != "" {
				result[k] = RedactedValue
			} else {
				result[k] = Redact(value)
			}
		default:
			if IsSensitiveField(k) {
				result[k] = RedactedValue
			} else {
				result[k] = v
			}
		}
	}
	return result
}

// IsSensitiveField checks if a field name is considered sensitive.
func IsSensitiveField(name string) bool {
	lowerName := strings.ToLower(name)
	for _, field := range sensitiveFields {
		if strings.Contains(lowerName, field) {
			return true
		}
	}
	return false
}
