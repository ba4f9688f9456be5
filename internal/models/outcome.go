package models

import "fmt"

// FailureKind tags why a service boundary fell back to its safe default.
type FailureKind string

const (
	FailureNone          FailureKind = ""
	FailureNotConfigured FailureKind = "not_configured"
	FailureTransport     FailureKind = "transport"
	FailureAuth          FailureKind = "auth"
	FailureParse         FailureKind = "parse"
	FailureEmpty         FailureKind = "empty"
	FailureInternal      FailureKind = "internal"
)

// Outcome travels next to a component's return value.
type Outcome struct {
	Kind FailureKind
	Err  error
}

func (o Outcome) OK() bool { return o.Kind == FailureNone }

func (o Outcome) String() string {
	if o.OK() {
		return "ok"
	}
	if o.Err == nil {
		return string(o.Kind)
	}
	return fmt.Sprintf("%s: %v", o.Kind, o.Err)
}

func Succeeded() Outcome { return Outcome{} }

func Failed(kind FailureKind, err error) Outcome {
	if kind == FailureNone {
		kind = FailureInternal
	}
	return Outcome{Kind: kind, Err: err}
}

// ConnectionResult reports a credential check against an external service.
type ConnectionResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}
