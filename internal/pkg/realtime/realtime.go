// Package realtime wraps the voice-interview call service. Transport is an
// external collaborator; this client only provisions sessions.
package realtime

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/CareerForgeApp/CareerForge/internal/pkg/env"
)

// Session carries what the web client needs to join a live interview call.
type Session struct {
	ID    string `json:"id"`
	Token string `json:"token"`
	URL   string `json:"url"`
}

// Client provisions realtime interview sessions.
type Client interface {
	CreateSession(ctx context.Context, userID uint) (*Session, error)
}

type httpClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClientFromEnv() Client {
	return &httpClient{
		baseURL: strings.TrimRight(env.GetEnv("REALTIME_API_URL", ""), "/"),
		apiKey:  strings.TrimSpace(env.GetEnv("REALTIME_API_KEY", "")),
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

func (c *httpClient) CreateSession(ctx context.Context, userID uint) (*Session, error) {
	if c.baseURL == "" {
		return nil, errors.New("REALTIME_API_URL is not configured")
	}

	body, err := json.Marshal(map[string]any{"user_id": userID})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/sessions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("realtime session request failed: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var out Session
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	if strings.TrimSpace(out.ID) == "" {
		return nil, errors.New("realtime session response missing id")
	}
	return &out, nil
}
