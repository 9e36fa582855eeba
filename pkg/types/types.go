package types

import (
	"time"
)

// Role identifies what a connection is for. Fixed at registration and never
// changes for the lifetime of the connection.
type Role string

const (
	RoleRequester Role = "requester"
	RoleResponder Role = "responder"
	RoleAdmin     Role = "admin"
)

// ConnStatus tracks where a connection is in the matching lifecycle.
// Requesters move waiting -> matched -> in_session and back to waiting when a
// session ends. Responders move available <-> in_session.
type ConnStatus string

const (
	StatusWaiting   ConnStatus = "waiting"
	StatusMatched   ConnStatus = "matched"
	StatusAvailable ConnStatus = "available"
	StatusInSession ConnStatus = "in_session"
)

// SessionStatus is a one-way state machine. ended, expired and abandoned are
// terminal. disconnected awaits either an explicit end_session from the
// remaining participant or reclassification by the expire sweep.
type SessionStatus string

const (
	SessionActive       SessionStatus = "active"
	SessionDisconnected SessionStatus = "disconnected"
	SessionEnded        SessionStatus = "ended"
	SessionExpired      SessionStatus = "expired"
	SessionAbandoned    SessionStatus = "abandoned"
)

// IsTerminal reports whether a session status can no longer change.
func (s SessionStatus) IsTerminal() bool {
	return s == SessionEnded || s == SessionExpired || s == SessionAbandoned
}

// Severity levels reported by the safety-scoring collaborator. Only high and
// critical reach the escalation relay.
const (
	SeverityLow      = "low"
	SeverityMedium   = "medium"
	SeverityHigh     = "high"
	SeverityCritical = "critical"
)

// Session is the durable record created by a successful orchestration
// transaction. Owned jointly by the live registry (in memory) and the session
// store (durable).
type Session struct {
	ID              string        `json:"id" db:"id"`
	RequesterConnID string        `json:"requesterConnId" db:"requester_conn_id"`
	ResponderConnID string        `json:"responderConnId" db:"responder_conn_id"`
	RequesterID     string        `json:"requesterId" db:"requester_id"`
	ResponderID     string        `json:"responderId" db:"responder_id"`
	RequesterName   string        `json:"requesterName" db:"requester_name"`
	ResponderName   string        `json:"responderName" db:"responder_name"`
	RoomURL         string        `json:"roomUrl" db:"room_url"`
	RoomName        string        `json:"roomName" db:"room_name"`
	Status          SessionStatus `json:"status" db:"status"`
	EndReason       string        `json:"endReason,omitempty" db:"end_reason"`
	SafetyFlagged   bool          `json:"safetyFlagged" db:"safety_flagged"`
	CreatedAt       time.Time     `json:"createdAt" db:"created_at"`
	EndedAt         *time.Time    `json:"endedAt,omitempty" db:"ended_at"`
}

// QueueEntry wraps a waiting requester. A given connection id appears in the
// queue at most once and is removed exactly once, either by a successful
// match or by disconnect/cancel.
type QueueEntry struct {
	ConnID      string         `json:"connId"`
	UserID      string         `json:"userId"`
	Name        string         `json:"name"`
	StressLevel int            `json:"stressLevel,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
	EnqueuedAt  time.Time      `json:"enqueuedAt"`
}

// RoomInfo is the result of the room-provisioning collaborator. TokenA is the
// requester credential, TokenB the responder credential.
type RoomInfo struct {
	RoomURL   string    `json:"roomUrl"`
	RoomName  string    `json:"roomName"`
	TokenA    string    `json:"tokenA"`
	TokenB    string    `json:"tokenB"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Opening holds role-specific opening content from the content-generation
// collaborator. TextA is for the requester, TextB for the responder.
type Opening struct {
	TextA string `json:"textA"`
	TextB string `json:"textB"`
}

// SafetyResult is the output of the safety-scoring collaborator.
type SafetyResult struct {
	IsSafe            bool     `json:"isSafe"`
	Severity          string   `json:"severity"`
	Flags             []string `json:"flags"`
	RecommendedAction string   `json:"recommendedAction"`
}
