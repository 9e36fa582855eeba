package queue

import "errors"

var (
	ErrAlreadyQueued = errors.New("connection already in waiting queue")
)
