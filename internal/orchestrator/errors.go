package orchestrator

import "errors"

var (
	ErrRoomUnavailable = errors.New("room provisioning unavailable")
	ErrResponderLost   = errors.New("responder disconnected during orchestration")
	ErrRequesterLost   = errors.New("requester disconnected before session start")
)
