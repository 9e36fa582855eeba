package registry

import "errors"

var (
	ErrConnectionNotFound = errors.New("connection not registered")
	ErrStatusNotAllowed   = errors.New("status not allowed for connection role")
)
