// Package errs defines the error kinds shared across 1mcp's components.
// Each kind is a sentinel error wrapped with fmt.Errorf("...: %w", err),
// matching the teacher's errors.Is/errors.As-compatible idiom throughout
// internal/upstream, rather than a per-callsite exported type.
package errs

import "errors"

// Sentinel error kinds. Construct a concrete error with fmt.Errorf("%s: %w",
// detail, KindX) and recover the kind anywhere downstream with errors.Is.
var (
	// ErrValidation marks a malformed or out-of-range descriptor/request field.
	ErrValidation = errors.New("validation error")

	// ErrTransportDial marks a failed attempt to establish an outbound
	// transport (process spawn failed, connection refused, TLS handshake
	// failed).
	ErrTransportDial = errors.New("transport dial error")

	// ErrTransportExhausted marks a restartable transport that has used up
	// its configured restart budget.
	ErrTransportExhausted = errors.New("transport restart budget exhausted")

	// ErrAwaitingOAuth marks an outbound connection blocked on an
	// authorization-code flow the user has not yet completed.
	ErrAwaitingOAuth = errors.New("awaiting oauth authorization")

	// ErrCallTimeout marks a routed request that exceeded its per-outbound
	// timeout.
	ErrCallTimeout = errors.New("call timeout")

	// ErrServerUnavailable marks a routed request whose owning outbound is
	// not in the Ready state.
	ErrServerUnavailable = errors.New("server unavailable")

	// ErrNotAllowed marks a routed request whose target is not in the
	// inbound session's admitted filter.
	ErrNotAllowed = errors.New("not allowed")

	// ErrNotFound marks a lookup (preset, tool, resource, prompt) that
	// found nothing.
	ErrNotFound = errors.New("not found")

	// ErrStorage marks a failure reading or writing a persisted artifact
	// (preset file, OAuth token file, config file).
	ErrStorage = errors.New("storage error")

	// ErrInternal marks a condition that should be unreachable given the
	// component's own invariants.
	ErrInternal = errors.New("internal error")
)

// Is reports whether err ultimately wraps kind, the thin wrapper existing
// only so callers can write errs.Is(err, errs.ErrNotFound) next to the
// errs.* constants instead of reaching for the stdlib package by name.
func Is(err, kind error) bool {
	return errors.Is(err, kind)
}
