package hub

import "errors"

var (
	ErrHubNotRunning     = errors.New("hub is not running")
	ErrHubAlreadyRunning = errors.New("hub is already running")
	ErrEventChannelFull  = errors.New("event channel is full")
)
