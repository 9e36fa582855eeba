package websocket

import "errors"

var (
	ErrConnectionClosed = errors.New("connection is closed")
	ErrWriteTimeout     = errors.New("write timed out")
	ErrInvalidJSON      = errors.New("payload is not valid JSON")
	ErrIdentifyRequired = errors.New("first frame must be identify")
)
