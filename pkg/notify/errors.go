package notify

import "errors"

var (
	ErrQueueFull     = errors.New("notify: queue full")
	ErrClosed        = errors.New("notify: notifier closed")
	ErrInvalidEvent  = errors.New("notify: invalid event")
	ErrPublishFailed = errors.New("notify: publish failed")
)
