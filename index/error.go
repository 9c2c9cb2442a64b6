package index

import (
	"errors"
	"fmt"
	"strings"
)

const (
	// ErrorCodeInvalidRequest is returned when the request cannot be built.
	ErrorCodeInvalidRequest = "INVALID_REQUEST"
	// ErrorCodeTransportFailure is returned when the request fails in transit.
	ErrorCodeTransportFailure = "TRANSPORT_FAILURE"
	// ErrorCodeTimeout is returned when the request exceeds its deadline.
	ErrorCodeTimeout = "TIMEOUT"
	// ErrorCodeUpstreamStatus is returned for any status other than 200.
	ErrorCodeUpstreamStatus = "UPSTREAM_STATUS"
	// ErrorCodeDecodeFailure is returned when the response body cannot be parsed.
	ErrorCodeDecodeFailure = "DECODE_FAILURE"
	// ErrorCodeVersionNotFound is returned when the body has no version.
	ErrorCodeVersionNotFound = "VERSION_NOT_FOUND"
)

// ErrVersionNotFound reports a well-formed response without a version value.
var ErrVersionNotFound = errors.New("index: version not found")

// FetchError is the failure of one version lookup. It never aborts an update
// run; the tool keeps its previous version.
type FetchError struct {
	Tool       string
	Code       string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e == nil {
		return ""
	}
	switch {
	case e.Code == ErrorCodeUpstreamStatus:
		return fmt.Sprintf("index: %s: unexpected status %d", e.Tool, e.StatusCode)
	case e.Code == ErrorCodeVersionNotFound:
		return fmt.Sprintf("index: %s: version not found", e.Tool)
	case e.Err == nil:
		return fmt.Sprintf("index: %s: %s", e.Tool, strings.ToLower(e.Code))
	default:
		return fmt.Sprintf("index: %s: %v", e.Tool, e.Err)
	}
}

// Unwrap exposes the wrapped cause for errors.Is/errors.As.
func (e *FetchError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// ErrorCode returns the FetchError code carried by err, or "" when err is not
// a fetch failure.
func ErrorCode(err error) string {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr != nil {
		return fetchErr.Code
	}
	return ""
}

func newFetchError(tool, code string, cause error) *FetchError {
	return &FetchError{Tool: tool, Code: code, Err: cause}
}
