package types

import "time"

// Inbound event names. Every client frame is JSON with a "type" field; the
// first frame on a new socket must be identify.
const (
	EventIdentify     = "identify"
	EventJoinQueue    = "join_queue"
	EventAvailable    = "available"
	EventAccept       = "accept"
	EventDecline      = "decline"
	EventSessionStart = "session_start"
	EventEndSession   = "end_session"
	EventSafetyAlert  = "safety_alert"
)

// Outbound event names.
const (
	EventQueueJoined         = "queue_joined"
	EventStudentWaiting      = "student_waiting"
	EventMatched             = "matched"
	EventMatchFailed         = "match_failed"
	EventSessionActive       = "session_active"
	EventSessionEnded        = "session_ended"
	EventSessionExpired      = "session_expired"
	EventPartnerDisconnected = "partner_disconnected"
	EventCrisisAlert         = "crisis_alert"
	EventLiveStats           = "live_stats"
	EventError               = "error"
)

// Inbound payloads.

type Identify struct {
	Role   Role   `json:"role"`
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type JoinQueue struct {
	UserID      string         `json:"userId"`
	Name        string         `json:"name"`
	StressLevel int            `json:"stressLevel,omitempty"`
	Preferences map[string]any `json:"preferences,omitempty"`
}

type Available struct {
	UserID string `json:"userId"`
	Name   string `json:"name"`
}

type Accept struct {
	RequesterID string `json:"requesterId"`
	ResponderID string `json:"responderId"`
}

type Decline struct {
	RequesterID string `json:"requesterId"`
}

type SessionStart struct {
	SessionID string `json:"sessionId"`
}

type EndSession struct {
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason,omitempty"`
}

// SafetyAlertReport originates from the safety-scoring collaborator, not
// necessarily from a client socket.
type SafetyAlertReport struct {
	SessionID  string   `json:"sessionId"`
	Severity   string   `json:"severity"`
	Flags      []string `json:"flags,omitempty"`
	Transcript string   `json:"transcript,omitempty"`
	Guidance   string   `json:"guidance,omitempty"`
}

// Outbound payloads. Type carries the event name on the wire.

type QueueJoined struct {
	Type                 string `json:"type"`
	Position             int    `json:"position"`
	EstimatedWaitSeconds int    `json:"estimatedWaitSeconds"`
}

type StudentWaiting struct {
	Type        string `json:"type"`
	StudentID   string `json:"studentId"`
	StudentName string `json:"studentName"`
	WaitTime    int    `json:"waitTime"`
	Position    int    `json:"position"`
}

type Matched struct {
	Type           string `json:"type"`
	PartnerID      string `json:"partnerId"`
	PartnerName    string `json:"partnerName"`
	SessionID      string `json:"sessionId"`
	RoomURL        string `json:"roomUrl"`
	Token          string `json:"token"`
	OpeningContent string `json:"openingContent"`
}

type MatchFailed struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}

type SessionActiveEvent struct {
	Type      string    `json:"type"`
	SessionID string    `json:"sessionId"`
	StartedAt time.Time `json:"startedAt"`
}

type SessionEndedEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	EndedBy   string `json:"endedBy"`
	Message   string `json:"message"`
}

type SessionExpiredEvent struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

type PartnerDisconnected struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
}

type SafetyAlertEvent struct {
	Type              string `json:"type"`
	Severity          string `json:"severity"`
	Reason            string `json:"reason"`
	SuggestedResponse string `json:"suggestedResponse"`
}

type CrisisAlertEvent struct {
	Type       string `json:"type"`
	SessionID  string `json:"sessionId"`
	Severity   string `json:"severity"`
	Reason     string `json:"reason"`
	Transcript string `json:"transcript"`
}

type LiveStats struct {
	Type                    string `json:"type"`
	ActiveRequesters        int    `json:"activeRequesters"`
	ActiveResponders        int    `json:"activeResponders"`
	ActiveSessions          int    `json:"activeSessions"`
	WaitingCount            int    `json:"waitingCount"`
	AvailableResponderCount int    `json:"availableResponderCount"`
}

type ErrorEvent struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
