package transport

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrorKind classifies a failed request
type ErrorKind int

const (
	KindTimeout ErrorKind = iota + 1
	KindConnectionFailed
	KindTLS
	KindHTTPStatus
)

func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "timeout"
	case KindConnectionFailed:
		return "connection failed"
	case KindTLS:
		return "tls error"
	case KindHTTPStatus:
		return "http status"
	default:
		return "unknown"
	}
}

// ErrResponseTooLarge is returned when a body exceeds Config.MaxResponseBytes
var ErrResponseTooLarge = errors.New("response body exceeds size limit")

// Error is the final failure of a request after retries were exhausted or
// judged pointless.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Method     string
	URL        string
	Attempts   int
	Err        error
}

func (e *Error) Error() string {
	if e.Kind == KindHTTPStatus {
		return fmt.Sprintf("%s %s: %d %s (after %d attempt(s))",
			e.Method, e.URL, e.StatusCode, http.StatusText(e.StatusCode), e.Attempts)
	}
	return fmt.Sprintf("%s %s: %s (after %d attempt(s)): %v", e.Method, e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// StatusCode extracts the HTTP status of a KindHTTPStatus error.
func StatusCode(err error) (int, bool) {
	var te *Error
	if errors.As(err, &te) && te.Kind == KindHTTPStatus {
		return te.StatusCode, true
	}
	return 0, false
}

// IsUnreachable reports whether err means the service itself cannot be
// reached, as opposed to a single resource failing.
func IsUnreachable(err error) bool {
	var te *Error
	if !errors.As(err, &te) {
		return false
	}
	return te.Kind == KindConnectionFailed || te.Kind == KindTLS
}

// classify maps a client.Do error to an ErrorKind.
func classify(err error) ErrorKind {
	var (
		certErr     *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		unknownCA   x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidErr  x509.CertificateInvalidError
	)
	switch {
	case errors.As(err, &certErr),
		errors.As(err, &recordErr),
		errors.As(err, &unknownCA),
		errors.As(err, &hostnameErr),
		errors.As(err, &invalidErr):
		return KindTLS
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return KindTimeout
	}
	return KindConnectionFailed
}

func retryable(err *Error) bool {
	switch err.Kind {
	case KindTimeout, KindConnectionFailed:
		return true
	case KindHTTPStatus:
		return err.StatusCode >= 500 || err.StatusCode == http.StatusTooManyRequests
	default:
		return false
	}
}
