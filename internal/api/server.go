package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"peerline/internal/live"
	"peerline/internal/match"
	"peerline/internal/obs"
	"peerline/internal/orchestrator"
	"peerline/internal/queue"
	"peerline/internal/registry"
	"peerline/internal/safety"
	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

// Server exposes the REST surface: health, session lookup, queue inspection
// and the HTTP variants of match creation and safety alerting.
type Server struct {
	store        interfaces.SessionStore
	conns        *registry.Registry
	live         *live.Registry
	queue        *queue.Queue
	engine       *match.Engine
	orchestrator *orchestrator.Orchestrator
	relay        *safety.Relay
}

// NewServer creates the REST handler set.
func NewServer(store interfaces.SessionStore, conns *registry.Registry, liveReg *live.Registry, q *queue.Queue, engine *match.Engine, orch *orchestrator.Orchestrator, relay *safety.Relay) *Server {
	return &Server{
		store:        store,
		conns:        conns,
		live:         liveReg,
		queue:        q,
		engine:       engine,
		orchestrator: orch,
		relay:        relay,
	}
}

// Routes registers all endpoints on mux.
func (s *Server) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health", s.withMiddleware(s.handleHealth))
	mux.HandleFunc("GET /api/stats", s.withMiddleware(s.handleStats))
	mux.HandleFunc("GET /api/queue", s.withMiddleware(s.handleQueue))
	mux.HandleFunc("GET /api/sessions/{id}", s.withMiddleware(s.handleGetSession))
	mux.HandleFunc("POST /api/sessions", s.withMiddleware(s.handleCreateSession))
	mux.HandleFunc("POST /api/safety/alert", s.withMiddleware(s.handleSafetyAlert))
	mux.HandleFunc("OPTIONS /", s.withMiddleware(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
}

// withMiddleware applies the CORS and content-type headers every response
// carries.
func (s *Server) withMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		w.Header().Set("Content-Type", "application/json")
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.store.HealthCheck(r.Context()); err != nil {
		s.writeError(w, http.StatusServiceUnavailable, "storage unavailable")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts := s.conns.Counts()
	s.writeJSON(w, http.StatusOK, types.LiveStats{
		Type:                    types.EventLiveStats,
		ActiveRequesters:        counts.Requesters,
		ActiveResponders:        counts.Responders,
		ActiveSessions:          s.live.Count(),
		WaitingCount:            s.queue.Len(),
		AvailableResponderCount: counts.AvailableResponders,
	})
}

func (s *Server) handleQueue(w http.ResponseWriter, r *http.Request) {
	entries := s.queue.Snapshot()
	out := make([]*types.QueueEntry, 0, len(entries))
	out = append(out, entries...)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"waiting":              out,
		"estimatedWaitSeconds": s.engine.EstimateWaitSeconds(),
	})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	session, err := s.store.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, interfaces.ErrSessionNotFound) {
			s.writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "failed to load session")
		return
	}
	s.writeJSON(w, http.StatusOK, session)
}

type createSessionRequest struct {
	RequesterID string `json:"requesterId"`
	ResponderID string `json:"responderId"`
}

// handleCreateSession is the HTTP variant of the accept flow, used by
// operational tooling. It runs the same claim and orchestration path as the
// socket event, synchronously.
func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.RequesterID == "" || req.ResponderID == "" {
		s.writeError(w, http.StatusBadRequest, "requesterId and responderId are required")
		return
	}

	m, err := s.engine.AcceptMatch(req.RequesterID, req.ResponderID)
	if err != nil {
		s.writeError(w, http.StatusConflict, err.Error())
		return
	}

	session, err := s.orchestrator.CreateSession(r.Context(), m)
	if err != nil {
		s.writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	s.writeJSON(w, http.StatusCreated, session)
}

// handleSafetyAlert accepts escalations from the scoring collaborator, which
// reports over HTTP rather than a client socket.
func (s *Server) handleSafetyAlert(w http.ResponseWriter, r *http.Request) {
	var report types.SafetyAlertReport
	if err := json.NewDecoder(r.Body).Decode(&report); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if report.SessionID == "" {
		s.writeError(w, http.StatusBadRequest, "sessionId is required")
		return
	}

	// Best-effort contract: a dropped alert (unknown or ended session) is
	// still a 202, the relay logs the drop.
	if err := s.relay.Alert(context.WithoutCancel(r.Context()), report); err != nil {
		s.writeError(w, http.StatusInternalServerError, "failed to process alert")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted"})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		obs.Log.WithError(err).Warn("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
