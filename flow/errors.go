package flow

import (
	"context"
	"errors"
	"fmt"

	"go-identity-flow/capture"
	"go-identity-flow/crosscheck"
	"go-identity-flow/identity"
)

var (
	ErrAlreadyStarted        = errors.New("flow already started")
	ErrNotActive             = errors.New("flow is not active")
	ErrDocumentStageDisabled = errors.New("document capture is disabled")
	ErrStageNotReached       = errors.New("stage has not been reached yet")
	ErrBestShotRequired      = errors.New("a new best shot is needed before the document can be retried")
	ErrUnknownStage          = errors.New("unknown stage")
)

// Kind is the user facing classification of a failed flow.
type Kind int

const (
	Unknown Kind = iota
	PermissionDenied
	UserCanceled
	CaptureQualityFailure
	DocumentNotRecognized
	FaceNotFoundInDocument
	CrossValidationMismatch
	TransportFailure
	IdentityAlreadyExists
	NoMatchFound
)

var kindNames = [...]string{
	Unknown:                 "unknown",
	PermissionDenied:        "permission_denied",
	UserCanceled:            "user_canceled",
	CaptureQualityFailure:   "capture_quality_failure",
	DocumentNotRecognized:   "document_not_recognized",
	FaceNotFoundInDocument:  "face_not_found_in_document",
	CrossValidationMismatch: "cross_validation_mismatch",
	TransportFailure:        "transport_failure",
	IdentityAlreadyExists:   "identity_already_exists",
	NoMatchFound:            "no_match_found",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return fmt.Sprintf("Kind(%d)", int(k))
	}
	return kindNames[k]
}

// Kinds lists every kind, in declaration order.
func Kinds() []Kind {
	out := make([]Kind, len(kindNames))
	for i := range kindNames {
		out[i] = Kind(i)
	}
	return out
}

type Error struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s during %s", e.Kind, e.Stage)
	}
	return fmt.Sprintf("%s during %s: %v", e.Kind, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of a flow error, Unknown for anything else.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Unknown
}

func captureError(stage Stage, err error) *Error {
	kind := Unknown
	switch capture.KindOf(err) {
	case capture.AccessDenied:
		kind = PermissionDenied
	case capture.Canceled:
		kind = UserCanceled
	case capture.CaptureFailure:
		if stage == StageDocument {
			kind = DocumentNotRecognized
		} else {
			kind = CaptureQualityFailure
		}
	case capture.TransportError:
		kind = TransportFailure
	}
	return &Error{Kind: kind, Stage: stage, Err: err}
}

func crossCheckError(err error) *Error {
	var mismatch *crosscheck.MismatchError
	kind := TransportFailure
	switch {
	case errors.Is(err, crosscheck.ErrNoFaceInDocument):
		kind = FaceNotFoundInDocument
	case errors.As(err, &mismatch):
		kind = CrossValidationMismatch
	}
	return &Error{Kind: kind, Stage: StageCrossValidation, Err: err}
}

func identityError(err error) *Error {
	var transport *identity.TransportError
	kind := Unknown
	switch {
	case errors.Is(err, identity.ErrAlreadyExists):
		kind = IdentityAlreadyExists
	case errors.Is(err, identity.ErrNoMatch):
		kind = NoMatchFound
	case errors.As(err, &transport), errors.Is(err, context.DeadlineExceeded):
		kind = TransportFailure
	}
	return &Error{Kind: kind, Stage: StageRemote, Err: err}
}
