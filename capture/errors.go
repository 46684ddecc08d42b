package capture

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorKind is what a capture adapter reports when a session ends without a result.
type ErrorKind int

const (
	Other ErrorKind = iota
	AccessDenied
	Canceled
	CaptureFailure
	TransportError
)

var kindNames = map[ErrorKind]string{
	Other:          "other",
	AccessDenied:   "access_denied",
	Canceled:       "canceled",
	CaptureFailure: "capture_failure",
	TransportError: "transport_error",
}

func (k ErrorKind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("ErrorKind(%d)", int(k))
}

// ParseErrorKind accepts the names used on the wire. Unknown names map to Other.
func ParseErrorKind(s string) ErrorKind {
	normalized := strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == normalized {
			return k
		}
	}
	return Other
}

var (
	ErrNoPendingCapture = errors.New("no capture is waiting for a result")
	ErrAlreadyDelivered = errors.New("capture result already delivered")
	ErrCaptureTimeout   = errors.New("capture timed out")
	ErrQualityTooLow    = errors.New("best shot quality below threshold")
	ErrLivenessMissing  = errors.New("best shot has no liveness transaction")
	ErrLivenessRejected = errors.New("liveness not confirmed")
)

type Error struct {
	Kind     ErrorKind
	VideoRef string
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "capture " + e.Kind.String()
	}
	return fmt.Sprintf("capture %s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func NewError(kind ErrorKind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf classifies any error returned by a capturer.
func KindOf(err error) ErrorKind {
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.Canceled) {
		return Canceled
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return CaptureFailure
	}
	return Other
}
