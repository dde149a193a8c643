package extract

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Selection errors. They are wrapped in a *ValidationError.
var (
	ErrNoFile          = errors.New("no file selected")
	ErrUnsupportedFile = errors.New("unsupported file type")
	ErrFileTooLarge    = errors.New("file too large")
)

// ErrResponseTooLarge is wrapped in an *UploadError when the service answers
// with more than the client is willing to buffer.
var ErrResponseTooLarge = errors.New("response too large")

// ValidationError is raised before any network activity when the upload
// request is incomplete.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// UploadError reports a transport failure, a non-2xx response or an
// undecodable body. StatusCode is 0 when no response was received.
type UploadError struct {
	StatusCode int
	Err        error
}

func (e *UploadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("upload failed (status %d): %v", e.StatusCode, e.Err)
	}
	return fmt.Sprintf("upload failed: %v", e.Err)
}

func (e *UploadError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the request hit its deadline.
func (e *UploadError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}
