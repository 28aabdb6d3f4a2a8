// Package enhancer wraps the AI text-generation service behind a small
// client interface. The service itself is an external collaborator; callers
// only reach it after the points gate has passed.
package enhancer

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

// Client generates enhanced text for a gated action kind.
type Client interface {
	Enhance(ctx context.Context, kind, input string) (string, error)
}

type httpClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

func NewClientFromEnv() Client {
	return &httpClient{
		baseURL: strings.TrimRight(env.GetEnv("ENHANCER_API_URL", ""), "/"),
		apiKey:  strings.TrimSpace(env.GetEnv("ENHANCER_API_KEY", "")),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

func (c *httpClient) Enhance(ctx context.Context, kind, input string) (string, error) {
	if c.baseURL == "" {
		return "", errors.New("ENHANCER_API_URL is not configured")
	}

	body, err := json.Marshal(map[string]string{"kind": kind, "input": input})
	if err != nil {
		return "", err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/enhance", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2<<20))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("enhancer request failed: status=%d body=%s", resp.StatusCode, string(raw))
	}

	var out struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", err
	}
	if strings.TrimSpace(out.Output) == "" {
		return "", errors.New("enhancer response missing output")
	}
	return out.Output, nil
}
