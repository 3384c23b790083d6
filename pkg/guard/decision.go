package guard

import "errors"

type Decision uint8

const (
	DecisionAllow Decision = iota
	DecisionDeny
	DecisionError
)

func (d Decision) String() string {
	switch d {
	case DecisionAllow:
		return "allow"
	case DecisionDeny:
		return "deny"
	default:
		return "error"
	}
}

// Result is the outcome of a guard. Cause is set for errors and for denials
// that carry a specific error, such as an invalid credential.
type Result struct {
	Decision Decision
	Reason   string
	Cause    error
}

// Allow lets the request through.
func Allow() Result {
	return Result{Decision: DecisionAllow}
}

// Deny rejects the request with reason.
func Deny(reason string) Result {
	return Result{Decision: DecisionDeny, Reason: reason}
}

// DenyWith is Deny recording the error that caused it.
func DenyWith(reason string, cause error) Result {
	return Result{Decision: DecisionDeny, Reason: reason, Cause: cause}
}

// Unauthenticated denies with a cause wrapping ErrUnauthenticated.
func Unauthenticated(cause error) Result {
	if cause == nil {
		cause = ErrUnauthenticated
	} else if !errors.Is(cause, ErrUnauthenticated) {
		cause = errors.Join(ErrUnauthenticated, cause)
	}
	return DenyWith("unauthenticated", cause)
}

// Fail rejects the request because the check itself could not complete.
func Fail(cause error) Result {
	return Result{Decision: DecisionError, Reason: "error", Cause: cause}
}

func (r Result) Allowed() bool { return r.Decision == DecisionAllow }
