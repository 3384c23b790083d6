package permission

import "errors"

var (
	ErrInvalidKey = errors.New("permission: invalid key")
	ErrUnknownKey = errors.New("permission: key not in catalog")
)
