package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"peerline/pkg/interfaces"
	"peerline/pkg/types"
)

// HTTPRoomProvisioner calls the external room-provisioning service. There is
// no fallback: a failure here is terminal for the orchestration transaction.
type HTTPRoomProvisioner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPRoomProvisioner creates a room provisioner against baseURL.
func NewHTTPRoomProvisioner(baseURL string, timeout time.Duration) *HTTPRoomProvisioner {
	return &HTTPRoomProvisioner{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

var _ interfaces.RoomProvisioner = (*HTTPRoomProvisioner)(nil)

type createRoomRequest struct {
	SessionID string `json:"sessionId"`
	NameA     string `json:"nameA"`
	NameB     string `json:"nameB"`
}

// CreateRoom provisions a call room with per-participant credentials.
func (p *HTTPRoomProvisioner) CreateRoom(ctx context.Context, sessionID, nameA, nameB string) (*types.RoomInfo, error) {
	body, err := json.Marshal(createRoomRequest{SessionID: sessionID, NameA: nameA, NameB: nameB})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal room request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/rooms", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build room request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("room provisioning unavailable: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("room provisioning failed: status %d", resp.StatusCode)
	}

	var room types.RoomInfo
	if err := json.NewDecoder(resp.Body).Decode(&room); err != nil {
		return nil, fmt.Errorf("failed to decode room response: %w", err)
	}
	if room.RoomURL == "" {
		return nil, fmt.Errorf("room provisioning returned empty room URL")
	}
	return &room, nil
}
