package flow

import (
	"fmt"

	"go-identity-flow/identity"
)

type State int

const (
	Idle State = iota
	CapturingBiometric
	CapturingDocument
	CrossValidating
	ContactingRemoteService
	Terminal
)

var stateNames = [...]string{
	Idle:                    "idle",
	CapturingBiometric:      "capturing_biometric",
	CapturingDocument:       "capturing_document",
	CrossValidating:         "cross_validating",
	ContactingRemoteService: "contacting_remote_service",
	Terminal:                "terminal",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// Active is true between Start and the terminal transition.
func (s State) Active() bool {
	return s != Idle && s != Terminal
}

// Stage names the step an error came from, and the capture steps a user
// can retry.
type Stage string

const (
	StageBiometric       Stage = "biometric"
	StageDocument        Stage = "document"
	StageCrossValidation Stage = "cross_validation"
	StageRemote          Stage = "remote"
)

type OutcomeKind int

const (
	Success OutcomeKind = iota
	Failure
	Canceled
)

func (k OutcomeKind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Canceled:
		return "canceled"
	}
	return fmt.Sprintf("OutcomeKind(%d)", int(k))
}

// Outcome is the terminal value of a flow.
type Outcome struct {
	Kind OutcomeKind
	// Set on Success
	Identity *identity.Face
	// Text fields of the document, when one was captured
	Fields map[string]string
	// Set on Failure
	Err *Error
}

type Request struct {
	ID                string
	Mode              identity.Mode
	ClaimedExternalID string
}
