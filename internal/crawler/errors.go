package crawler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
)

// ErrDiscoveryFatal marks a discovery pass where no root could be reached.
var ErrDiscoveryFatal = errors.New("discovery roots unreachable")

// ErrInvalidInput marks caller input that fails validation.
var ErrInvalidInput = errors.New("invalid input")

// Invalidf wraps ErrInvalidInput with a formatted reason.
func Invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// CrawlError is the typed failure returned by an ArticleWorker.
type CrawlError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

// NewCrawlError wraps err with a failure kind.
func NewCrawlError(kind ErrorKind, statusCode int, err error) *CrawlError {
	return &CrawlError{Kind: kind, StatusCode: statusCode, Err: err}
}

func (e *CrawlError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s failure (status %d): %v", e.Kind, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s failure: %v", e.Kind, e.Err)
}

func (e *CrawlError) Unwrap() error {
	return e.Err
}

// ClassifyError maps an arbitrary error to an ErrorKind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}
	var crawlErr *CrawlError
	if errors.As(err, &crawlErr) {
		return crawlErr.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ErrorKindNetwork
	}
	return ErrorKindUnknown
}

// ParseErrorKind maps free-form input to a known kind, defaulting to unknown.
func ParseErrorKind(input string) ErrorKind {
	kind := ErrorKind(input)
	switch kind {
	case ErrorKindNetwork, ErrorKindParsing, ErrorKindValidation, ErrorKindRateLimit:
		return kind
	default:
		return ErrorKindUnknown
	}
}

// KindForStatus maps an HTTP status to an ErrorKind.
func KindForStatus(code int) ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return ErrorKindRateLimit
	case code == http.StatusUnprocessableEntity:
		return ErrorKindParsing
	case code == http.StatusRequestTimeout || code >= 500:
		return ErrorKindNetwork
	case code >= 400:
		return ErrorKindValidation
	default:
		return ErrorKindUnknown
	}
}

// IsCanceled reports whether err stems from cooperative cancellation.
func IsCanceled(err error) bool {
	return errors.Is(err, context.Canceled)
}
