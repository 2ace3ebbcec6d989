// Package secret expands ${VAR} placeholders in descriptor string fields
// (stdio env values, HTTP headers, OAuth client secrets) against the
// process environment, and offers heuristics for masking/flagging secret
// values in logs.
package secret

import (
	"fmt"
	"os"
	"regexp"
	"strings"
)

// refRegex matches ${VAR} placeholders. Unlike the teacher's provider-keyed
// ${type:name} syntax, 1mcp's descriptors only ever reference the process
// environment, so the grammar has no colon-separated type prefix.
var refRegex = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// IsRef returns true if the string contains a ${VAR} placeholder.
func IsRef(input string) bool {
	return refRegex.MatchString(input)
}

// Refs returns the variable names referenced by ${VAR} placeholders in input.
func Refs(input string) []string {
	matches := refRegex.FindAllStringSubmatch(input, -1)
	names := make([]string, 0, len(matches))
	for _, m := range matches {
		names = append(names, m[1])
	}
	return names
}

// Expand replaces every ${VAR} placeholder in input with the value of the
// matching environment variable. A reference to an unset variable is an
// error rather than a silent empty substitution, so a typo in mcp.json
// fails loudly at load time instead of producing a blank header or token.
func Expand(input string) (string, error) {
	if !IsRef(input) {
		return input, nil
	}

	var missing []string
	result := refRegex.ReplaceAllStringFunc(input, func(match string) string {
		name := refRegex.FindStringSubmatch(match)[1]
		value, ok := os.LookupEnv(name)
		if !ok {
			missing = append(missing, name)
			return match
		}
		return value
	})

	if len(missing) > 0 {
		return "", fmt.Errorf("unresolved environment reference(s): %s", strings.Join(missing, ", "))
	}

	return result, nil
}

// ExpandMap expands every value in a string map in place, returning the
// first expansion error encountered together with the offending key.
func ExpandMap(m map[string]string) error {
	for k, v := range m {
		expanded, err := Expand(v)
		if err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		m[k] = expanded
	}
	return nil
}

// Mask masks a secret value for safe display in logs and error messages.
func Mask(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	if len(value) <= 8 {
		return value[:2] + "****"
	}
	return value[:3] + "****" + value[len(value)-2:]
}

// LooksSensitive analyzes a field name and value to decide whether it should
// be masked before it reaches a log line, matching the heuristics the
// sanitizing zapcore.Core in internal/logs applies to free-form messages.
func LooksSensitive(fieldName, value string) bool {
	if value == "" {
		return false
	}

	confidence := 0.0

	fieldLower := strings.ToLower(fieldName)
	for _, keyword := range []string{
		"password", "passwd", "pass", "secret", "key", "token",
		"auth", "credential", "cred", "api_key", "apikey",
		"client_secret", "private", "priv",
	} {
		if strings.Contains(fieldLower, keyword) {
			confidence += 0.4
			break
		}
	}

	if len(value) >= 16 {
		confidence += 0.2
	}
	if len(value) >= 32 {
		confidence += 0.1
	}
	if hasHighEntropy(value) {
		confidence += 0.2
	}
	if isCommonNonSecret(value) {
		confidence *= 0.1
	}

	return confidence >= 0.5
}

func hasHighEntropy(s string) bool {
	if len(s) < 8 {
		return false
	}
	charCount := make(map[rune]int)
	for _, char := range s {
		charCount[char]++
	}
	return float64(len(charCount))/float64(len(s)) > 0.6
}

func isCommonNonSecret(value string) bool {
	valueLower := strings.ToLower(value)
	for _, common := range []string{
		"localhost", "127.0.0.1", "example.com", "test", "admin",
		"user", "guest", "demo", "true", "false", "enabled", "disabled",
		"http://", "https://", "file://", "/tmp/", "/var/", "/usr/",
	} {
		if strings.Contains(valueLower, common) {
			return true
		}
	}
	return false
}
