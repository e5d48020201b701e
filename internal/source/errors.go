package source

import (
	"errors"
	"fmt"
)

// ErrNotFound reports that the host answered 404 for the requested file.
var ErrNotFound = errors.New("source file not found")

// FetchError describes a failed download.
type FetchError struct {
	URL        string
	StatusCode int // 0 when no response was received
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: status %d: %v", e.URL, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetch %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// IsNotFound reports whether err is or wraps a 404 from the source host.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsFetchError reports whether err is or wraps a *FetchError.
func IsFetchError(err error) bool {
	var fe *FetchError
	return errors.As(err, &fe)
}
