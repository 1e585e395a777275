package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultBaseURL is the hosted chat completions API root.
const DefaultBaseURL = "https://api.openai.com/v1"

// Client talks to the chat completions API on the server side, backing the
// /api/responses proxy route so the console never holds the long-lived key.
type Client struct {
	HTTPClient *http.Client
	APIKey     string
	BaseURL    string
}

func NewClient(apiKey string) *Client {
	return &Client{
		HTTPClient: &http.Client{Timeout: 15 * time.Second},
		APIKey:     apiKey,
		BaseURL:    DefaultBaseURL,
	}
}

// Complete forwards a caller-supplied completions request body verbatim and
// returns the raw response body.
func (c *Client) Complete(ctx context.Context, body json.RawMessage) (json.RawMessage, error) {
	if c.APIKey == "" {
		return nil, fmt.Errorf("llm: api key missing")
	}
	endpoint := c.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("llm: status=%d body=%s", resp.StatusCode, string(raw))
	}
	return raw, nil
}
