package connect

import (
	"regexp"
	"strings"
)

// Connection keys are the human-shareable form of a fingerprint: the first
// 8 hex characters, uppercased, hyphenated as XXXX-YYYY.

var keyPattern = regexp.MustCompile(`^[A-Z0-9]{4}-[A-Z0-9]{4}$`)
var nonAlnum = regexp.MustCompile(`[^a-zA-Z0-9]`)

// Key derives the connection key for a fingerprint.
func Key(fingerprint string) string {
	if len(fingerprint) < 8 {
		return ""
	}
	hash := strings.ToUpper(fingerprint[:8])
	return hash[:4] + "-" + hash[4:8]
}

// ValidKey reports whether the key has the XXXX-YYYY form.
func ValidKey(key string) bool {
	return keyPattern.MatchString(key)
}

// NormalizeKey strips non-alphanumerics, uppercases and re-inserts the
// hyphen, so user input like "a7f3 9b2e" matches "A7F3-9B2E".
func NormalizeKey(input string) string {
	cleaned := strings.ToUpper(nonAlnum.ReplaceAllString(input, ""))
	if len(cleaned) >= 8 {
		return cleaned[:4] + "-" + cleaned[4:8]
	}
	return cleaned
}
