package apiclient

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Kind classifies an API call outcome so callers branch on a closed set
// instead of catching arbitrary transport errors.
type Kind int

const (
	// KindUnauthorized: the bearer token was rejected even after one
	// refresh-and-retry.
	KindUnauthorized Kind = iota
	// KindRejected: the server understood and refused the request (bad
	// serial, bad command). Never retried.
	KindRejected
	// KindMalformedResponse: a 2xx body did not match the expected shape;
	// indicates a server contract change. Never retried.
	KindMalformedResponse
	// KindTransient: 429 or 5xx; retried with backoff before surfacing.
	KindTransient
	// KindUnreachable: transport-level failure (DNS, connect, timeout);
	// retried like KindTransient.
	KindUnreachable
)

func (k Kind) String() string {
	switch k {
	case KindUnauthorized:
		return "unauthorized"
	case KindRejected:
		return "rejected"
	case KindMalformedResponse:
		return "malformed_response"
	case KindTransient:
		return "transient"
	case KindUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// Error is the classified outcome of a vendor API call.
type Error struct {
	Kind       Kind
	HTTPStatus int
	Message    string
	// RetryAfter is the server-asserted wait from a Retry-After header,
	// zero when absent.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.HTTPStatus > 0 {
		return fmt.Sprintf("api %s (status %d): %s", e.Kind, e.HTTPStatus, e.Message)
	}
	return fmt.Sprintf("api %s: %s", e.Kind, e.Message)
}

// IsKind reports whether err is an API Error of the given kind.
func IsKind(err error, k Kind) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Kind == k
}

// classifyStatus maps a non-2xx response code onto the retry taxonomy.
func classifyStatus(status int) Kind {
	switch {
	case status == http.StatusUnauthorized:
		return KindUnauthorized
	case status == http.StatusTooManyRequests:
		return KindTransient
	case status >= 500:
		return KindTransient
	default:
		return KindRejected
	}
}

// retryAfterMax bounds how long a server-supplied Retry-After can stall a
// single retry; a bogus header must not park the process for hours.
const retryAfterMax = 30 * time.Second

// retryAfter parses a Retry-After header, which carries either
// delta-seconds or an HTTP-date, capped at retryAfterMax.
func retryAfter(h http.Header, now time.Time) time.Duration {
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return capRetryAfter(time.Duration(secs) * time.Second)
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return capRetryAfter(d)
		}
	}
	return 0
}

func capRetryAfter(d time.Duration) time.Duration {
	if d > retryAfterMax {
		return retryAfterMax
	}
	return d
}
