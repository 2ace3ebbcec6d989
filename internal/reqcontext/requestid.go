package reqcontext

import (
	"regexp"

	"github.com/google/uuid"
)

// RequestIDHeader is the HTTP header a caller can set to propagate its own
// request ID, and that the inbound HTTP surface echoes back on the response.
const RequestIDHeader = "X-Request-Id"

// MaxRequestIDLength bounds a caller-supplied request ID so an oversized
// header value can't be carried into every downstream log line.
const MaxRequestIDLength = 256

var requestIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,256}$`)

// IsValidRequestID reports whether id is non-empty, no longer than
// MaxRequestIDLength, and contains only alphanumerics, dashes, and
// underscores.
func IsValidRequestID(id string) bool {
	return id != "" && len(id) <= MaxRequestIDLength && requestIDPattern.MatchString(id)
}

// GenerateRequestID returns a new random UUID v4 string.
func GenerateRequestID() string {
	return uuid.New().String()
}

// GetOrGenerateRequestID returns providedID if it passes IsValidRequestID,
// otherwise mints a fresh one. This is what request-correlation middleware
// calls with the incoming X-Request-Id header value.
func GetOrGenerateRequestID(providedID string) string {
	if IsValidRequestID(providedID) {
		return providedID
	}
	return GenerateRequestID()
}
