package midjourney

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arash/imagina/internal/domain"
	"github.com/go-resty/resty/v2"
)

// Client talks to the external Midjourney-compatible generation API. It is a
// thin adapter: one network call per operation, no local retry. Retry policy
// belongs to the lifecycle engine.
type Client struct {
	http    *resty.Client
	baseURL string
}

// Config holds configuration for the generation API client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// NewClient creates a new generation API client.
// Parameters:
//   - cfg: client configuration including base URL and API key.
// Returns:
//   - *Client: initialized client wrapper.
func NewClient(cfg *Config) *Client {
	client := resty.New()
	client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	client.SetHeader("Content-Type", "application/json")

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	return &Client{
		http:    client,
		baseURL: cfg.BaseURL,
	}
}

type imagineRequest struct {
	Prompt   string `json:"prompt"`
	Callback string `json:"callback,omitempty"`
}

type imagineResponse struct {
	UUID    string `json:"uuid"`
	Message string `json:"message,omitempty"`
}

type resultResponse struct {
	Status     string            `json:"status"`
	Percentage domain.Percentage `json:"percentage"`
	URI        string            `json:"uri,omitempty"`
	Error      string            `json:"error,omitempty"`
}

// Imagine submits a generation request with a webhook callback target and
// returns the engine-assigned task id.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - prompt: generation prompt.
//   - callbackURL: URL the engine pushes status updates to.
// Returns:
//   - string: provider task id.
//   - error: non-nil if the request fails or no task id is returned.
func (c *Client) Imagine(ctx context.Context, prompt, callbackURL string) (string, error) {
	var out imagineResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(imagineRequest{Prompt: prompt, Callback: callbackURL}).
		SetResult(&out).
		Post(c.baseURL + "/imagine")
	if err != nil {
		return "", fmt.Errorf("imagine request failed: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("imagine request failed: status %d: %s", resp.StatusCode(), resp.String())
	}
	if out.UUID == "" {
		return "", errors.New("imagine response missing task id")
	}
	return out.UUID, nil
}

// Result fetches the current status of a generation task.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - taskID: provider task id returned by Imagine.
// Returns:
//   - *domain.TaskUpdate: status observation in the provider's vocabulary.
//   - error: non-nil if the request fails.
func (c *Client) Result(ctx context.Context, taskID string) (*domain.TaskUpdate, error) {
	var out resultResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get(c.baseURL + "/result/" + taskID)
	if err != nil {
		return nil, fmt.Errorf("result request failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("result request failed: status %d: %s", resp.StatusCode(), resp.String())
	}

	return &domain.TaskUpdate{
		Status:     out.Status,
		Percentage: out.Percentage.Int(),
		ResultURI:  out.URI,
		Error:      out.Error,
	}, nil
}
