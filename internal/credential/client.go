package credential

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"
)

// ErrNoCredential is returned when the signal server answered but its
// response carried no usable ephemeral key.
var ErrNoCredential = errors.New("credential: response missing client secret")

// Client fetches short-lived realtime credentials from the signal server's
// GET /session route.
type Client struct {
	HTTPClient *http.Client
	BaseURL    string
}

type sessionResponse struct {
	ClientSecret struct {
		Value string `json:"value"`
	} `json:"client_secret"`
}

func NewClient(baseURL string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 10 * time.Second},
		BaseURL:    baseURL,
	}
}

// Fetch mints an ephemeral credential. A missing secret in an otherwise
// valid response is fatal: nothing downstream can connect without it.
func (c *Client) Fetch(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/session", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("credential: fetch session: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("credential: status=%d body=%s", resp.StatusCode, string(body))
	}
	var sr sessionResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return "", fmt.Errorf("credential: decode session: %w", err)
	}
	if sr.ClientSecret.Value == "" {
		return "", ErrNoCredential
	}
	return sr.ClientSecret.Value, nil
}
