// Package errs defines the error taxonomy shared by the signal engine and the
// risk layer. Each kind maps to a distinct handling rule:
//
//   - Validation: malformed input, dropped and logged, loop continues
//   - RiskRejection: explicit rejection with a reason, never retried
//   - ExternalService: collaborator unavailable, retried then skipped
//   - Computation: guarded numeric failure, replaced by a documented fallback
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies an error.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindRiskRejection   Kind = "risk_rejection"
	KindExternalService Kind = "external_service"
	KindComputation     Kind = "computation"
)

// Sentinels usable with errors.Is.
var (
	ErrValidation      = errors.New("validation error")
	ErrRiskRejection   = errors.New("risk rejection")
	ErrExternalService = errors.New("external service failure")
	ErrComputation     = errors.New("internal computation error")
)

// Error is a classified error with an operation name.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	s := string(e.Kind)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrValidation:
		return e.Kind == KindValidation
	case ErrRiskRejection:
		return e.Kind == KindRiskRejection
	case ErrExternalService:
		return e.Kind == KindExternalService
	case ErrComputation:
		return e.Kind == KindComputation
	}
	return false
}

func Validation(op, format string, args ...any) error {
	return &Error{Kind: KindValidation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

func Rejection(op, reason string) error {
	return &Error{Kind: KindRiskRejection, Op: op, Msg: reason}
}

func External(op string, err error) error {
	return &Error{Kind: KindExternalService, Op: op, Err: err}
}

func Computation(op, format string, args ...any) error {
	return &Error{Kind: KindComputation, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// KindOf returns the kind of err, or "" if it is unclassified.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Retryable reports whether a collaborator call that failed with err should be
// retried. Validation and risk rejections never are.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	switch KindOf(err) {
	case KindValidation, KindRiskRejection:
		return false
	}
	return true
}
