package fetchgateway

import "fmt"

// Kind identifies a position in the gateway's error taxonomy. User-surfacing
// kinds propagate to the caller as-is; the remaining kinds (CacheUnavailable,
// ConfigError) are logged through the observability sink and absorbed —
// they never reach the caller, since a cache or config problem must degrade
// to "go to origin", not fail the request.
type Kind string

const (
	InvalidInput      Kind = "invalid_input"
	OriginNetwork     Kind = "origin_network"
	OriginProtocol    Kind = "origin_protocol"
	Timeout           Kind = "timeout"
	Canceled          Kind = "canceled"
	ResponseTooLarge  Kind = "response_too_large"
	CacheUnavailable  Kind = "cache_unavailable"
	ConfigError       Kind = "config_error"
)

// surfacing reports whether errors of this kind are meant to propagate to
// the caller (true) or be absorbed internally (false).
func (k Kind) surfacing() bool {
	switch k {
	case CacheUnavailable, ConfigError:
		return false
	default:
		return true
	}
}

// Error is the gateway's wrapped error type. It always carries a Kind so
// callers can branch on the taxonomy without string matching.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: err}
}

// KindOf extracts the Kind from err, if it is a *Error.
func KindOf(err error) (Kind, bool) {
	if err == nil {
		return "", false
	}
	if e, ok := err.(*Error); ok {
		return e.Kind, true
	}
	return "", false
}

// IsSurfacing reports whether err should propagate to the caller per the
// gateway's error propagation policy. Non-gateway errors always surface.
func IsSurfacing(err error) bool {
	if err == nil {
		return false
	}
	if e, ok := err.(*Error); ok {
		return e.Kind.surfacing()
	}
	return true
}
