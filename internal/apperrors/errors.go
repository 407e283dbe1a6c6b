// Package apperrors provides the structured error taxonomy for the
// segment supervisor: a small set of classified error kinds, sentinel
// errors, and helpers for consistent error handling and HTTP status
// translation across the module.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies an error for route-layer status translation.
type Kind string

const (
	// DisabledFeature: JIT transcoding is turned off.
	DisabledFeature Kind = "disabled_feature"
	// NotFound: variant label or audio-track index absent from the grid.
	NotFound Kind = "not_found"
	// BadRequest: unparseable segment index or query parameters.
	BadRequest Kind = "bad_request"
	// ProbeError: media probing failed before any session was created.
	ProbeError Kind = "probe_error"
	// SpawnError: the child transcoder could not be launched.
	SpawnError Kind = "spawn_error"
	// TranscodeFailed: the child exited nonzero during a wait.
	TranscodeFailed Kind = "transcode_failed"
	// Timeout: the segment did not stabilize within the bounded wait.
	Timeout Kind = "timeout"
	// IOError: playlist or segment file write/read failure.
	IOError Kind = "io_error"
)

// Sentinel errors for common scenarios, for use with errors.Is.
var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrVariantNotFound   = errors.New("variant not found in grid")
	ErrFeatureDisabled   = errors.New("JIT transcoding is disabled")
	ErrSegmentOutOfRange = errors.New("segment index out of range")
)

// Error is a structured, classified error with operation context.
type Error struct {
	Kind      Kind
	Op        string
	VideoID   string
	Label     string
	Err       error
	Details   map[string]interface{}
}

// New creates a classified Error wrapping err.
func New(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err, Details: make(map[string]interface{})}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.VideoID != "" {
		return fmt.Sprintf("%s error in %s for %s/%s: %v", e.Kind, e.Op, e.VideoID, e.Label, e.Err)
	}
	return fmt.Sprintf("%s error in %s: %v", e.Kind, e.Op, e.Err)
}

// Unwrap returns the underlying error for errors.Is/As support.
func (e *Error) Unwrap() error { return e.Err }

// Is implements error comparison for sentinel errors.
func (e *Error) Is(target error) bool { return errors.Is(e.Err, target) }

// WithKey adds the (videoID, label) key to the error for logging.
func (e *Error) WithKey(videoID, label string) *Error {
	e.VideoID = videoID
	e.Label = label
	return e
}

// WithDetail attaches a diagnostic key/value pair.
func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// Wrap classifies err as kind unless it is already a classified *Error.
func Wrap(err error, kind Kind, op string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return New(kind, op, err)
}

// GetKind extracts the Kind of err, defaulting to IOError when err is
// not a classified *Error (an unclassified failure is almost always an
// I/O problem in this module's call paths).
func GetKind(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return IOError
}

// constructors mirroring each Kind, matching the teacher's per-kind
// helper-function idiom.

func NewDisabledFeature(op string) *Error { return New(DisabledFeature, op, ErrFeatureDisabled) }
func NewNotFound(op string, err error) *Error { return New(NotFound, op, err) }
func NewBadRequest(op string, err error) *Error { return New(BadRequest, op, err) }
func NewProbeError(op string, err error) *Error { return New(ProbeError, op, err) }
func NewSpawnError(op string, err error) *Error { return New(SpawnError, op, err) }
func NewTranscodeFailed(op string, err error) *Error { return New(TranscodeFailed, op, err) }
func NewTimeout(op string) *Error { return New(Timeout, op, errors.New("operation timed out")) }
func NewIOError(op string, err error) *Error { return New(IOError, op, err) }
