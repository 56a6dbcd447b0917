package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"

	"github.com/sells-group/profile-engine/internal/model"
)

// TransientError marks an error as safe to retry (429, 5xx, network
// timeout), carrying the HTTP status when one applies.
type TransientError struct {
	Err        error
	StatusCode int
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// NewTransientError wraps an error as transient with an optional HTTP
// status code.
func NewTransientError(err error, statusCode int) *TransientError {
	return &TransientError{Err: err, StatusCode: statusCode}
}

// IsConflict reports whether the error chain contains an optimistic
// write conflict.
func IsConflict(err error) bool {
	return errors.Is(err, model.ErrConflict)
}

// IsRetryable accepts both write conflicts and transient failures.
func IsRetryable(err error) bool {
	return IsConflict(err) || IsTransient(err)
}

// transientFragments are matched against error text as a last resort
// for errors HTTP clients wrap without a typed cause.
var transientFragments = []string{
	"connection reset by peer",
	"broken pipe",
	"temporary failure in name resolution",
	"no such host",
	"tls handshake timeout",
	"i/o timeout",
	"server closed idle connection",
}

// IsTransient reports whether the error chain contains a
// TransientError or matches common network failure patterns.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var te *TransientError
	var netErr net.Error
	switch {
	case errors.As(err, &te):
		return true
	case errors.As(err, &netErr) && netErr.Timeout():
		return true
	case errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNABORTED):
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, f := range transientFragments {
		if strings.Contains(msg, f) {
			return true
		}
	}
	return false
}

// IsTransientHTTPStatus reports whether the status code indicates a
// server-side issue that is safe to retry.
func IsTransientHTTPStatus(statusCode int) bool {
	switch statusCode {
	case 408, 429, 500, 502, 503, 504:
		return true
	}
	return false
}
