package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPRefresher fetches fresh session tokens from the application backend.
type HTTPRefresher struct {
	// URL is the token endpoint.
	URL string
	// Client defaults to a client with a 10 second timeout.
	Client *http.Client
}

type tokenResponse struct {
	Data struct {
		Token string `json:"token"`
	} `json:"data"`
}

// Refresh requests a new token. The endpoint authenticates the device by its
// session cookie or API key, outside this package's concern.
func (r *HTTPRefresher) Refresh(ctx context.Context) (string, error) {
	client := r.Client
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL, nil)
	if err != nil {
		return "", fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("token endpoint returned %d", resp.StatusCode)
	}

	var out tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode token response: %w", err)
	}
	if out.Data.Token == "" {
		return "", fmt.Errorf("token endpoint returned empty token")
	}
	return out.Data.Token, nil
}
