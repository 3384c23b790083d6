package guard

import "errors"

var (
	ErrUnauthenticated = errors.New("guard: unauthenticated")
	ErrNoCredential    = errors.New("guard: no credential in context")
)
