package logs

import (
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap/zapcore"
)

// secretPattern recognizes one secret shape in free-form log text and masks
// it in place.
type secretPattern struct {
	name string
	re   *regexp.Regexp
	mask func(match string) string
}

// knownSecretPatterns covers the credential shapes most likely to end up in
// an outbound server's stdio output or HTTP headers: provider API keys,
// bearer tokens, JWTs, and a generic high-entropy fallback for anything
// else that looks like a secret without matching a known prefix.
var knownSecretPatterns = []secretPattern{
	{
		name: "github_token",
		re:   regexp.MustCompile(`\bgh[poushr]_[A-Za-z0-9]{36,255}\b`),
		mask: func(s string) string { return maskAffixed(s, 7, 2) },
	},
	{
		name: "openai_key",
		re:   regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),
		mask: func(s string) string { return maskAffixed(s, 5, 2) },
	},
	{
		name: "anthropic_key",
		re:   regexp.MustCompile(`\bsk-ant-[A-Za-z0-9\-]{30,}\b`),
		mask: func(s string) string { return maskAffixed(s, 10, 2) },
	},
	{
		name: "aws_key",
		re:   regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		mask: func(s string) string { return maskAffixed(s, 8, 2) },
	},
	{
		name: "jwt",
		re:   regexp.MustCompile(`\beyJ[A-Za-z0-9\-_]+\.eyJ[A-Za-z0-9\-_]+\.[A-Za-z0-9\-_]+\b`),
		mask: maskJWT,
	},
	{
		name: "bearer_token",
		re:   regexp.MustCompile(`\bBearer\s+[A-Za-z0-9\-._~+/]+=*\b`),
		mask: maskBearer,
	},
	{
		name: "high_entropy_assignment",
		re:   highEntropyAssignmentRe,
		mask: maskHighEntropyAssignment,
	},
}

// highEntropyAssignmentRe captures the quote/operator around a bare
// assigned value (`key="..."`, `key: ...`) so a config flag isn't mangled;
// maskHighEntropyAssignment only replaces the captured value, and only
// when it looks random rather than, say, a low-entropy constant that
// happens to be 32+ base64 characters long.
var highEntropyAssignmentRe = regexp.MustCompile(`(["']|[=:]\s*)(["']?)([A-Za-z0-9+/]{32,}={0,2})(["']?)`)

func maskAffixed(s string, prefixLen, suffixLen int) string {
	if len(s) <= prefixLen+suffixLen {
		return "****"
	}
	return s[:prefixLen] + "***" + s[len(s)-suffixLen:]
}

func maskBearer(s string) string {
	prefix, token, ok := strings.Cut(s, " ")
	if !ok || len(token) <= 4 {
		return "Bearer ****"
	}
	return prefix + " " + token[:4] + "***" + token[len(token)-2:]
}

func maskJWT(s string) string {
	parts := strings.Split(s, ".")
	if len(parts) != 3 || len(parts[2]) < 4 {
		return "****"
	}
	return parts[0] + ".***." + parts[2][len(parts[2])-4:]
}

func maskHighEntropyAssignment(match string) string {
	groups := highEntropyAssignmentRe.FindStringSubmatch(match)
	if len(groups) < 5 {
		return match
	}
	prefix, openQuote, value, closeQuote := groups[1], groups[2], groups[3], groups[4]
	if !looksRandom(value) {
		return match
	}
	return prefix + openQuote + maskAffixed(value, 3, 2) + closeQuote
}

// looksRandom is a cheap entropy heuristic: a string is treated as a secret
// candidate when most of its characters are distinct and it mixes at least
// three character classes (upper/lower/digit/symbol) — config values and
// hashes of fixed vocabulary rarely clear both bars together.
func looksRandom(s string) bool {
	if len(s) < 16 {
		return false
	}

	unique := make(map[rune]struct{}, len(s))
	var hasUpper, hasLower, hasDigit, hasSymbol bool
	for _, r := range s {
		unique[r] = struct{}{}
		switch {
		case r >= 'A' && r <= 'Z':
			hasUpper = true
		case r >= 'a' && r <= 'z':
			hasLower = true
		case r >= '0' && r <= '9':
			hasDigit = true
		default:
			hasSymbol = true
		}
	}

	classes := 0
	for _, present := range []bool{hasUpper, hasLower, hasDigit, hasSymbol} {
		if present {
			classes++
		}
	}

	uniqueRatio := float64(len(unique)) / float64(len(s))
	return uniqueRatio > 0.6 && classes >= 3
}

// SecretSanitizer wraps a zapcore.Core and rewrites every log message and
// field through knownSecretPatterns plus an explicit allow-list of values a
// caller has registered as sensitive (e.g. a token just minted via OAuth,
// before it has a chance to match any pattern above).
type SecretSanitizer struct {
	zapcore.Core
	resolved *sync.Map
}

// NewSecretSanitizer wraps core with secret masking.
func NewSecretSanitizer(core zapcore.Core) *SecretSanitizer {
	return &SecretSanitizer{Core: core, resolved: &sync.Map{}}
}

// RegisterResolvedSecret marks value for masking in every subsequent log
// line, regardless of whether it matches a known pattern.
func (s *SecretSanitizer) RegisterResolvedSecret(value string) {
	if len(value) >= 4 {
		s.resolved.Store(value, struct{}{})
	}
}

// UnregisterResolvedSecret stops masking value (used once a token has been
// revoked and can no longer appear in traffic worth hiding).
func (s *SecretSanitizer) UnregisterResolvedSecret(value string) {
	s.resolved.Delete(value)
}

func (s *SecretSanitizer) sanitize(str string) string {
	s.resolved.Range(func(key, _ any) bool {
		secret, _ := key.(string)
		if len(secret) >= 8 {
			str = strings.ReplaceAll(str, secret, maskAffixed(secret, 3, 2))
		}
		return true
	})

	for _, p := range knownSecretPatterns {
		str = p.re.ReplaceAllStringFunc(str, p.mask)
	}
	return str
}

func (s *SecretSanitizer) sanitizeField(f zapcore.Field) zapcore.Field {
	switch f.Type {
	case zapcore.StringType:
		f.String = s.sanitize(f.String)
	case zapcore.ByteStringType:
		if raw, ok := f.Interface.([]byte); ok {
			f.Interface = []byte(s.sanitize(string(raw)))
		}
	case zapcore.ReflectType:
		if stringer, ok := f.Interface.(interface{ String() string }); ok {
			if sanitized := s.sanitize(stringer.String()); sanitized != stringer.String() {
				f = zapcore.Field{Key: f.Key, Type: zapcore.StringType, String: sanitized}
			}
		}
	}
	return f
}

// Write implements zapcore.Core.
func (s *SecretSanitizer) Write(entry zapcore.Entry, fields []zapcore.Field) error {
	entry.Message = s.sanitize(entry.Message)

	sanitized := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		sanitized[i] = s.sanitizeField(f)
	}
	return s.Core.Write(entry, sanitized)
}

// With implements zapcore.Core, carrying the sanitizer into the child core.
func (s *SecretSanitizer) With(fields []zapcore.Field) zapcore.Core {
	sanitized := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		sanitized[i] = s.sanitizeField(f)
	}
	return &SecretSanitizer{Core: s.Core.With(sanitized), resolved: s.resolved}
}

// Check implements zapcore.Core.
func (s *SecretSanitizer) Check(entry zapcore.Entry, checked *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if s.Enabled(entry.Level) {
		return checked.AddCore(entry, s)
	}
	return checked
}
