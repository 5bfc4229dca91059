// Package downloader moves entry content onto disk: single resources,
// stylesheets with their sub-resources, resolved platform media, whole
// parts and whole entries.
package downloader

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidURL marks references that cannot be parsed into a
	// fetchable URL.
	ErrInvalidURL = errors.New("invalid download url")
	// ErrEmptyResponse marks transports that produced neither a body
	// nor an error.
	ErrEmptyResponse = errors.New("empty response")
	// ErrUnsupported marks entries no resolver in the configured chain
	// recognizes. Always critical.
	ErrUnsupported = errors.New("entry type unsupported")
)

// HTTPError is a non-success status from the origin.
type HTTPError struct {
	URL        string
	StatusCode int
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}

// CriticalError aborts the remaining downloads of an entry. It carries
// every error the entry accumulated up to the point of escalation.
type CriticalError struct {
	Err error
}

func (e *CriticalError) Error() string {
	return fmt.Sprintf("critical download failure: %v", e.Err)
}

func (e *CriticalError) Unwrap() error { return e.Err }

// IsCriticalFailure reports whether err carries an escalated entry
// failure.
func IsCriticalFailure(err error) bool {
	var ce *CriticalError
	return errors.As(err, &ce)
}
