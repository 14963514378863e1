// Package generation implements the client for the external comic
// generation service.
package generation

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

	"github.com/trendfeed/pipeline/internal/trend"
)

// ErrMissingEndpoint is returned when the client is constructed without
// a service endpoint. This is a configuration-fatal condition.
var ErrMissingEndpoint = errors.New("generation endpoint is not set")

// ErrNoJobHandle is returned when the service accepts a job but omits
// the handle that later correlates the produced comic.
var ErrNoJobHandle = errors.New("generation service returned no job handle")

// Config captures the parameters for the generation service client.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Client submits generation jobs over HTTP.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient validates the config and constructs a Client.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.Endpoint) == "" {
		return nil, ErrMissingEndpoint
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		endpoint: cfg.Endpoint,
		http:     &http.Client{Timeout: timeout},
	}, nil
}

type submitResponse struct {
	JobHandle string `json:"jobHandle"`
}

// SubmitJob posts one generation request and returns the opaque job
// handle assigned by the service.
func (c *Client) SubmitJob(ctx context.Context, req trend.GenerationRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("marshal generation request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build generation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("submit generation job for %s: %w", req.RepoName, err)
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return "", fmt.Errorf("generation service returned status %d: %s",
			resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var body submitResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("decode generation response: %w", err)
	}
	if body.JobHandle == "" {
		return "", ErrNoJobHandle
	}
	return body.JobHandle, nil
}
