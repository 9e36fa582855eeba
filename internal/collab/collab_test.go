package collab

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"peerline/pkg/types"
)

func TestFallbackOpeningDeterministic(t *testing.T) {
	first := FallbackOpening("student1", "senior1")
	second := FallbackOpening("student1", "senior1")

	if first.TextA != second.TextA || first.TextB != second.TextB {
		t.Error("fallback opening not stable for the same pairing")
	}
	if first.TextA == "" || first.TextB == "" {
		t.Error("fallback opening has empty text")
	}
	if first.TextA == first.TextB {
		t.Error("requester and responder got the same line")
	}
}

func TestHTTPRoomProvisioner(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rooms" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		_ = r.Body.Close()
		w.Write([]byte(`{"roomUrl":"https://rooms.example/abc","roomName":"abc","tokenA":"ta","tokenB":"tb"}`))
	}))
	defer srv.Close()

	p := NewHTTPRoomProvisioner(srv.URL, time.Second)
	room, err := p.CreateRoom(context.Background(), "sess-1", "Student", "Senior")
	if err != nil {
		t.Fatalf("create room: %v", err)
	}
	if room.RoomURL != "https://rooms.example/abc" || room.TokenA != "ta" || room.TokenB != "tb" {
		t.Errorf("room = %+v", room)
	}
}

func TestHTTPRoomProvisionerFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	p := NewHTTPRoomProvisioner(srv.URL, time.Second)
	if _, err := p.CreateRoom(context.Background(), "sess-1", "a", "b"); err == nil {
		t.Error("expected error on 500")
	}
}

func TestHTTPRoomProvisionerEmptyURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"roomName":"abc"}`))
	}))
	defer srv.Close()

	p := NewHTTPRoomProvisioner(srv.URL, time.Second)
	if _, err := p.CreateRoom(context.Background(), "sess-1", "a", "b"); err == nil {
		t.Error("expected error on empty room URL")
	}
}

func TestHTTPContentGeneratorFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	g := NewHTTPContentGenerator(srv.URL, time.Second)
	opening, err := g.GenerateOpening(context.Background(), "student1", "senior1")
	if err != nil {
		t.Fatalf("generate must not fail: %v", err)
	}

	want := FallbackOpening("student1", "senior1")
	if opening.TextA != want.TextA || opening.TextB != want.TextB {
		t.Error("degraded generator did not serve fallback content")
	}
}

func TestHTTPContentGeneratorSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"textA":"hello requester","textB":"hello responder"}`))
	}))
	defer srv.Close()

	g := NewHTTPContentGenerator(srv.URL, time.Second)
	opening, err := g.GenerateOpening(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if opening.TextA != "hello requester" || opening.TextB != "hello responder" {
		t.Errorf("opening = %+v", opening)
	}
}

func TestHTTPSafetyScorer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"isSafe":false,"severity":"high","flags":["self_harm_language"],"recommendedAction":"escalate"}`))
	}))
	defer srv.Close()

	s := NewHTTPSafetyScorer(srv.URL, time.Second)
	result, err := s.CheckSafety(context.Background(), "a message")
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if result.IsSafe || result.Severity != types.SeverityHigh {
		t.Errorf("result = %+v", result)
	}
}

func TestHTTPSafetyScorerRejectsBadSeverity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"isSafe":true,"severity":"purple"}`))
	}))
	defer srv.Close()

	s := NewHTTPSafetyScorer(srv.URL, time.Second)
	if _, err := s.CheckSafety(context.Background(), "x"); err == nil {
		t.Error("expected error on invalid severity")
	}
}

type erroringScorer struct{}

func (erroringScorer) CheckSafety(context.Context, string) (*types.SafetyResult, error) {
	return nil, errors.New("service down")
}

func TestFailClosedScorer(t *testing.T) {
	s := FailClosed(erroringScorer{})

	result, err := s.CheckSafety(context.Background(), "a message")
	if err != nil {
		t.Fatalf("fail-closed scorer returned error: %v", err)
	}
	if result.IsSafe {
		t.Error("scoring failure reported safe")
	}
	if result.Severity != types.SeverityHigh {
		t.Errorf("severity = %s, want high", result.Severity)
	}
	if len(result.Flags) == 0 || result.Flags[0] != "scoring_unavailable" {
		t.Errorf("flags = %v", result.Flags)
	}
}
