package httpapi

import (
	"net/http"

	"github.com/1mcp-ai/1mcp/internal/reqcontext"
)

// correlate stamps every request's context with a correlation ID and
// request source before any handler runs, and echoes the ID back on the
// response so a caller can match its own logs to this request. A
// caller-supplied X-Request-Id is honored verbatim when it matches
// reqcontext's format; otherwise one is generated.
func correlate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := reqcontext.GetOrGenerateRequestID(r.Header.Get(reqcontext.RequestIDHeader))
		ctx := reqcontext.WithCorrelationID(r.Context(), id)
		ctx = reqcontext.WithRequestSource(ctx, reqcontext.SourceRESTAPI)
		w.Header().Set(reqcontext.RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
