package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"net/http"
	"time"

	"peerline/internal/obs"
	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

// Canned opening lines used by the deterministic fallback. Selection is
// keyed by the two user ids so repeated pairings get stable content.
var (
	fallbackRequesterLines = []string{
		"You're connected. Take a breath — your peer is here to listen, not to judge.",
		"You've been paired with someone who has been where you are. Start wherever feels right.",
		"Your peer is on the line. There's no agenda here; share as much or as little as you like.",
		"You're through. It can help to start with what's weighing on you most right now.",
	}
	fallbackResponderLines = []string{
		"A student is joining you. Open with a welcome and let them set the pace.",
		"You're connected to a student who asked for support. Listen first; advice can wait.",
		"A student is on the line. A simple check-in question is a good way to begin.",
		"You've been matched. Remember the basics: acknowledge, ask, and give them room.",
	}
)

// FallbackOpening returns deterministic non-AI opening content keyed by the
// two user ids.
func FallbackOpening(userA, userB string) *types.Opening {
	h := fnv.New32a()
	h.Write([]byte(userA))
	h.Write([]byte(userB))
	i := int(h.Sum32())
	return &types.Opening{
		TextA: fallbackRequesterLines[i%len(fallbackRequesterLines)],
		TextB: fallbackResponderLines[i%len(fallbackResponderLines)],
	}
}

// FallbackContentGenerator serves fallback content only, for deployments
// without a content service.
type FallbackContentGenerator struct{}

func (FallbackContentGenerator) GenerateOpening(_ context.Context, userA, userB string) (*types.Opening, error) {
	return FallbackOpening(userA, userB), nil
}

// HTTPContentGenerator calls the external content-generation service and
// degrades to the deterministic fallback on any failure, honoring the
// contract that this collaborator never hard-fails the orchestration.
type HTTPContentGenerator struct {
	baseURL string
	client  *http.Client
}

// NewHTTPContentGenerator creates a content generator against baseURL.
func NewHTTPContentGenerator(baseURL string, timeout time.Duration) *HTTPContentGenerator {
	return &HTTPContentGenerator{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

var (
	_ interfaces.ContentGenerator = (*HTTPContentGenerator)(nil)
	_ interfaces.ContentGenerator = FallbackContentGenerator{}
)

type openingRequest struct {
	UserA string `json:"userA"`
	UserB string `json:"userB"`
}

// GenerateOpening returns role-specific opening content, never an error.
func (g *HTTPContentGenerator) GenerateOpening(ctx context.Context, userA, userB string) (*types.Opening, error) {
	opening, err := g.generate(ctx, userA, userB)
	if err != nil {
		obs.Log.WithError(err).Warn("content generation failed, using fallback opening")
		return FallbackOpening(userA, userB), nil
	}
	return opening, nil
}

func (g *HTTPContentGenerator) generate(ctx context.Context, userA, userB string) (*types.Opening, error) {
	body, err := json.Marshal(openingRequest{UserA: userA, UserB: userB})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/openings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("content service returned status %d", resp.StatusCode)
	}

	var opening types.Opening
	if err := json.NewDecoder(resp.Body).Decode(&opening); err != nil {
		return nil, err
	}
	if opening.TextA == "" || opening.TextB == "" {
		return nil, fmt.Errorf("content service returned empty opening")
	}
	return &opening, nil
}
