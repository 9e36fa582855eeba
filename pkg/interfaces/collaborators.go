package interfaces

import (
	"context"

	"peerline/pkg/types"
)

// RoomProvisioner obtains a call endpoint and per-participant credentials for
// a new session. Provisioning failure is terminal for the orchestration: no
// synthetic substitute for a live voice room exists.
type RoomProvisioner interface {
	CreateRoom(ctx context.Context, sessionID, nameA, nameB string) (*types.RoomInfo, error)
}

// ContentGenerator produces role-specific opening content for the two
// participants. Implementations must supply a deterministic non-AI fallback
// keyed by the two user ids so this step never hard-fails the orchestration.
type ContentGenerator interface {
	GenerateOpening(ctx context.Context, userA, userB string) (*types.Opening, error)
}

// SafetyScorer evaluates a message for crisis signals. Implementations must
// fail closed: if the underlying service errors, the message is treated as
// unsafe with high severity.
type SafetyScorer interface {
	CheckSafety(ctx context.Context, message string) (*types.SafetyResult, error)
}

// Sink delivers outbound events to a single client connection.
type Sink interface {
	WriteJSON(v any) error
	Close() error
}
