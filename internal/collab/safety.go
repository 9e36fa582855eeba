package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"peerline/internal/obs"
	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

// HTTPSafetyScorer calls the external safety-scoring service.
type HTTPSafetyScorer struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSafetyScorer creates a safety scorer against baseURL.
func NewHTTPSafetyScorer(baseURL string, timeout time.Duration) *HTTPSafetyScorer {
	return &HTTPSafetyScorer{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

var _ interfaces.SafetyScorer = (*HTTPSafetyScorer)(nil)

type safetyRequest struct {
	Message string `json:"message"`
}

// CheckSafety scores one message for crisis signals.
func (s *HTTPSafetyScorer) CheckSafety(ctx context.Context, message string) (*types.SafetyResult, error) {
	body, err := json.Marshal(safetyRequest{Message: message})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/check", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("safety service returned status %d", resp.StatusCode)
	}

	var result types.SafetyResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}
	if !types.IsValidSeverity(result.Severity) {
		return nil, fmt.Errorf("safety service returned invalid severity %q", result.Severity)
	}
	return &result, nil
}

// FailClosedScorer wraps a SafetyScorer so scoring errors surface as an
// unsafe, high-severity result rather than silently degrading to safe.
type FailClosedScorer struct {
	inner interfaces.SafetyScorer
}

// FailClosed wraps a scorer with the fail-closed policy.
func FailClosed(inner interfaces.SafetyScorer) *FailClosedScorer {
	return &FailClosedScorer{inner: inner}
}

var _ interfaces.SafetyScorer = (*FailClosedScorer)(nil)

// CheckSafety never returns an error: on failure the message is treated as
// unsafe with high severity.
func (f *FailClosedScorer) CheckSafety(ctx context.Context, message string) (*types.SafetyResult, error) {
	result, err := f.inner.CheckSafety(ctx, message)
	if err != nil {
		obs.Log.WithError(err).Warn("safety scoring failed, failing closed")
		return &types.SafetyResult{
			IsSafe:            false,
			Severity:          types.SeverityHigh,
			Flags:             []string{"scoring_unavailable"},
			RecommendedAction: "Safety scoring is unavailable. Treat the message as high risk and check in with the student directly.",
		}, nil
	}
	return result, nil
}
