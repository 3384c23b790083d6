package credential

import "errors"

var (
	ErrInvalidCredential  = errors.New("credential: invalid credential")
	ErrExpiredCredential  = errors.New("credential: credential expired")
	ErrStorageUnavailable = errors.New("credential: storage unavailable")

	ErrKeyNotFound  = errors.New("credential: api key not found")
	ErrKeyExists    = errors.New("credential: api key already exists")
	ErrInvalidScope = errors.New("credential: invalid scope")
	ErrInvalidKey   = errors.New("credential: invalid api key format")

	ErrInvalidSecret       = errors.New("credential: application secret too short")
	ErrKeyDerivationFailed = errors.New("credential: key derivation failed")
	ErrNoIdentity          = errors.New("credential: no identity in context")
)
