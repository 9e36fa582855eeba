package safety

import (
	"context"
	"strings"

	"peerline/internal/events"
	"peerline/internal/live"
	"peerline/internal/obs"
	"peerline/internal/registry"
	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

// Relay forwards crisis signals from the safety-scoring collaborator to the
// responder and the admin broadcast group. It never blocks or retries: a
// missing session means the alert is dropped and logged. This is a
// best-effort notification path, not an audit of record.
type Relay struct {
	live      *live.Registry
	conns     *registry.Registry
	store     interfaces.SessionStore
	scorer    interfaces.SafetyScorer
	publisher events.Publisher
}

// NewRelay creates the escalation relay. scorer may be nil; when set it is
// used to score reports that arrive without a severity and is expected to
// fail closed.
func NewRelay(liveReg *live.Registry, conns *registry.Registry, store interfaces.SessionStore, scorer interfaces.SafetyScorer, publisher events.Publisher) *Relay {
	return &Relay{
		live:      liveReg,
		conns:     conns,
		store:     store,
		scorer:    scorer,
		publisher: publisher,
	}
}

// Alert processes one safety report for an active session.
func (r *Relay) Alert(ctx context.Context, report types.SafetyAlertReport) error {
	if report.Severity == "" && r.scorer != nil && report.Transcript != "" {
		result, err := r.scorer.CheckSafety(ctx, report.Transcript)
		if err == nil && result != nil {
			report.Severity = result.Severity
			if len(report.Flags) == 0 {
				report.Flags = result.Flags
			}
			if report.Guidance == "" {
				report.Guidance = result.RecommendedAction
			}
		}
	}

	if !types.IsEscalatable(report.Severity) {
		obs.Log.WithField("session_id", report.SessionID).WithField("severity", report.Severity).Debug("safety report below escalation threshold")
		return nil
	}

	session, ok := r.live.Get(report.SessionID)
	if !ok {
		obs.Log.WithField("session_id", report.SessionID).Info("safety alert dropped: session not active")
		return nil
	}

	obs.SafetyAlertsTotal.WithLabelValues(report.Severity).Inc()
	reason := strings.Join(report.Flags, ", ")
	if reason == "" {
		reason = "crisis signal detected"
	}

	if err := r.conns.Send(session.ResponderConnID, types.SafetyAlertEvent{
		Type:              types.EventSafetyAlert,
		Severity:          report.Severity,
		Reason:            reason,
		SuggestedResponse: report.Guidance,
	}); err != nil {
		obs.Log.WithError(err).WithField("session_id", report.SessionID).Warn("failed to alert responder")
	}

	crisis := types.CrisisAlertEvent{
		Type:       types.EventCrisisAlert,
		SessionID:  report.SessionID,
		Severity:   report.Severity,
		Reason:     reason,
		Transcript: report.Transcript,
	}
	for _, adminID := range r.conns.Admins() {
		if err := r.conns.Send(adminID, crisis); err != nil {
			obs.Log.WithError(err).WithField("conn_id", adminID).Debug("admin alert skipped connection")
		}
	}

	// Flagged sessions are exempt from purge; flagging failure must not
	// block the notification path.
	if err := r.store.FlagSafety(ctx, report.SessionID); err != nil {
		obs.Log.WithError(err).WithField("session_id", report.SessionID).Warn("failed to flag session")
	} else {
		r.publisher.Publish(events.SessionFlagged, map[string]any{
			"sessionId": report.SessionID,
			"severity":  report.Severity,
		})
	}

	r.publisher.Publish(events.CrisisAlert, map[string]any{
		"sessionId": report.SessionID,
		"severity":  report.Severity,
		"reason":    reason,
	})

	return nil
}
