package types

import "errors"

var (
	ErrInvalidUserID   = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidName     = errors.New("display name must be 1-100 characters")
	ErrInvalidRole     = errors.New("invalid role: must be 'requester', 'responder' or 'admin'")
	ErrInvalidSeverity = errors.New("invalid severity: must be low, medium, high or critical")
)
