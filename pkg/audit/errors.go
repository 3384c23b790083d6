package audit

import "errors"

var (
	ErrInvalidEvent        = errors.New("audit: invalid event")
	ErrStorageNotAvailable = errors.New("audit: storage not available")
	ErrBufferFull          = errors.New("audit: buffer full")
	ErrChainBroken         = errors.New("audit: hash chain broken")
)
