package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"gitlab.com/paintwithbuddy/services/backend/pkg/models"
)

var httpClient = &http.Client{Timeout: 10 * time.Second}

// RoomExists asks the server whether roomCode is live
func RoomExists(ctx context.Context, serverURL, roomCode string) (bool, error) {
	var resp models.RoomExistsResponse
	if err := getJSON(ctx, serverURL, "/api/room-exists/"+url.PathEscape(roomCode), &resp); err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// FetchICEServers returns the STUN/TURN servers the server hands out
func FetchICEServers(ctx context.Context, serverURL string) ([]models.ICEServer, error) {
	var resp models.ICEServersResponse
	if err := getJSON(ctx, serverURL, "/api/ice-servers", &resp); err != nil {
		return nil, err
	}
	return resp.ICEServers, nil
}

func getJSON(ctx context.Context, serverURL, path string, v interface{}) error {
	base := strings.TrimSuffix(serverURL, "/")
	base = strings.Replace(base, "ws://", "http://", 1)
	base = strings.Replace(base, "wss://", "https://", 1)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("request %s: unexpected status %d", path, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}
