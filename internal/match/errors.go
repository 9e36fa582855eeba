package match

import "errors"

var (
	ErrNoResponderAvailable = errors.New("no match available")
	ErrRequesterGone        = errors.New("match failed: requester no longer available")
	ErrResponderUnavailable = errors.New("match failed: responder no longer available")
)
