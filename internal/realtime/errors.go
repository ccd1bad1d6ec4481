package realtime

import "errors"

var (
	ErrSessionClosed = errors.New("session closed")
	ErrSlowConsumer  = errors.New("session write buffer full")
	ErrInvalidJSON   = errors.New("payload could not be encoded")
)
