package fetch

import (
	"errors"
	"fmt"
)

// ErrNoUpdate means the source answered but has nothing to announce.
var ErrNoUpdate = errors.New("no update available")

// Kind classifies a fetch failure.
type Kind int

// Fetch failure kinds.
const (
	KindNetwork  Kind = iota + 1 // Transport failure or bad HTTP status
	KindParse                    // Response could not be decoded
	KindSemantic                 // Response decoded but no usable identifier was found
)

func (k Kind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindParse:
		return "parse"
	case KindSemantic:
		return "semantic"
	default:
		return "unknown"
	}
}

// Error is returned by adapters when a source could not be fetched.
type Error struct {
	Err  error
	URL  string
	Kind Kind
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s error fetching %s: %v", e.Kind, e.URL, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a fetch error of the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	return errors.As(err, &fe) && fe.Kind == kind
}

// HTTPStatusError indicates a non-2xx response.
type HTTPStatusError struct {
	URL        string
	StatusCode int
}

func (e *HTTPStatusError) Error() string {
	return fmt.Sprintf("HTTP %d: %s", e.StatusCode, e.URL)
}

func networkError(url string, err error) *Error {
	return &Error{Kind: KindNetwork, URL: url, Err: err}
}

func parseError(url string, err error) *Error {
	return &Error{Kind: KindParse, URL: url, Err: err}
}

func semanticError(url, format string, args ...any) *Error {
	return &Error{Kind: KindSemantic, URL: url, Err: fmt.Errorf(format, args...)}
}
