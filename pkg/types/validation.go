package types

import "regexp"

// Compiled once at package initialization.
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// IsValidUserID checks if an external user ID meets format requirements.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidName checks display name length bounds.
func IsValidName(name string) bool {
	return len(name) >= 1 && len(name) <= 100
}

// IsValidRole checks the role is one of the three registered roles.
func IsValidRole(role Role) bool {
	switch role {
	case RoleRequester, RoleResponder, RoleAdmin:
		return true
	default:
		return false
	}
}

// IsValidSeverity checks a safety severity label.
func IsValidSeverity(severity string) bool {
	switch severity {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	default:
		return false
	}
}

// IsEscalatable reports whether a severity must reach the escalation relay.
func IsEscalatable(severity string) bool {
	return severity == SeverityHigh || severity == SeverityCritical
}
