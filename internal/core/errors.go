// Package core defines sentinel errors shared by every netweaver package.
package core

import "errors"

// Sentinel errors. Operations wrap them with fmt.Errorf("%w: ...") so that
// callers can branch with errors.Is.
var (
	// ErrInvalidParam marks a caller bug: nil/zero-length/out-of-range input
	// or an operation on a closed handle. Never retried.
	ErrInvalidParam = errors.New("netweaver: invalid parameter")

	// ErrSocket is an OS-level transport failure. May be transient.
	ErrSocket = errors.New("netweaver: socket error")

	// ErrPermissionDenied means raw-socket privilege is missing.
	ErrPermissionDenied = errors.New("netweaver: permission denied")

	// ErrTimeout means no data arrived within the configured window.
	ErrTimeout = errors.New("netweaver: timeout")

	// ErrPoolExhausted is the buffer pool backpressure signal.
	ErrPoolExhausted = errors.New("netweaver: buffer pool exhausted")

	// ErrNotFound reports a caller-visible absence, e.g. no default route.
	ErrNotFound = errors.New("netweaver: not found")

	// ErrUnsupported is returned on platforms without raw-socket support.
	ErrUnsupported = errors.New("netweaver: unsupported platform")

	// ErrConfigInvalid wraps configuration validation failures.
	ErrConfigInvalid = errors.New("netweaver: invalid configuration")
)

// Error kind labels, used as metric label values and in CLI output.
const (
	KindNone        = "none"
	KindInvalid     = "invalid_param"
	KindSocket      = "socket"
	KindPermission  = "permission"
	KindTimeout     = "timeout"
	KindExhausted   = "pool_exhausted"
	KindNotFound    = "not_found"
	KindUnsupported = "unsupported"
	KindConfig      = "config"
	KindUnknown     = "unknown"
)

// Kind maps err to one of the Kind* labels.
func Kind(err error) string {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, ErrInvalidParam):
		return KindInvalid
	case errors.Is(err, ErrPermissionDenied):
		return KindPermission
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrSocket):
		return KindSocket
	case errors.Is(err, ErrPoolExhausted):
		return KindExhausted
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrConfigInvalid):
		return KindConfig
	default:
		return KindUnknown
	}
}

// Retryable reports whether the caller may retry the failed operation
// without changing its input or privileges.
func Retryable(err error) bool {
	switch Kind(err) {
	case KindSocket, KindTimeout, KindExhausted:
		return true
	default:
		return false
	}
}
