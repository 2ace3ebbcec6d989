package oauthprovider

import (
	"regexp"
	"strings"
)

const maxSanitizedNameLen = 100

var unsafeNameChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)
var repeatedUnderscore = regexp.MustCompile(`_{2,}`)

// sanitizeName turns an arbitrary outbound server name into a string safe
// to use as a file name component: non-alphanumeric runs collapse to a
// single underscore, the result is trimmed and length-capped, and an empty
// result falls back to "default" so a pathological name never produces an
// empty file name.
func sanitizeName(name string) string {
	s := unsafeNameChars.ReplaceAllString(name, "_")
	s = repeatedUnderscore.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_-")
	if len(s) > maxSanitizedNameLen {
		s = s[:maxSanitizedNameLen]
	}
	if s == "" {
		return "default"
	}
	return s
}
