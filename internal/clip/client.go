// Package clip talks to the local CLIP sidecar process that turns text
// and images into vectors in a shared embedding space.
package clip

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Config holds configuration for the sidecar client.
type Config struct {
	BaseURL    string
	Model      string
	Dimensions int
	Timeout    time.Duration
}

// Client is an HTTP client for the CLIP sidecar.
type Client struct {
	client     *resty.Client
	model      string
	dimensions int
}

// NewClient creates a sidecar client.
func NewClient(cfg *Config) *Client {
	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetHeader("Content-Type", "application/json")
	if cfg.Timeout > 0 {
		client.SetTimeout(cfg.Timeout)
	}

	dims := cfg.Dimensions
	if dims <= 0 {
		dims = 512
	}

	return &Client{
		client:     client,
		model:      cfg.Model,
		dimensions: dims,
	}
}

// Model returns the model name being used.
func (c *Client) Model() string {
	return c.model
}

// Dimensions returns the embedding vector size.
func (c *Client) Dimensions() int {
	return c.dimensions
}

type embedTextRequest struct {
	Model string `json:"model,omitempty"`
	Text  string `json:"text"`
}

type embedTextResponse struct {
	Embedding []float32 `json:"embedding"`
	Error     string    `json:"error,omitempty"`
}

// EmbedText generates an embedding for a search query.
func (c *Client) EmbedText(ctx context.Context, text string) ([]float32, error) {
	req := embedTextRequest{Model: c.model, Text: text}

	var resp embedTextResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post("/embed/text")
	if err != nil {
		return nil, fmt.Errorf("failed to call clip sidecar: %w", err)
	}
	if httpResp.StatusCode() != 200 {
		if resp.Error != "" {
			return nil, fmt.Errorf("clip sidecar error: %s", resp.Error)
		}
		return nil, fmt.Errorf("clip sidecar error: status %d", httpResp.StatusCode())
	}
	if len(resp.Embedding) != c.dimensions {
		return nil, fmt.Errorf("unexpected embedding size: got %d, expected %d", len(resp.Embedding), c.dimensions)
	}
	return resp.Embedding, nil
}

type embedImagesRequest struct {
	Model string   `json:"model,omitempty"`
	Paths []string `json:"paths"`
}

type embedImagesResponse struct {
	// Embeddings align with the request paths; a null slot means the
	// sidecar could not embed that image.
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// EmbedImages generates embeddings for a batch of image files. The
// result aligns with paths; a nil slot marks a per-image failure and
// does not fail the batch.
func (c *Client) EmbedImages(ctx context.Context, paths []string) ([][]float32, error) {
	if len(paths) == 0 {
		return [][]float32{}, nil
	}

	req := embedImagesRequest{Model: c.model, Paths: paths}

	var resp embedImagesResponse
	httpResp, err := c.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		Post("/embed/images")
	if err != nil {
		return nil, fmt.Errorf("failed to call clip sidecar: %w", err)
	}
	if httpResp.StatusCode() != 200 {
		if resp.Error != "" {
			return nil, fmt.Errorf("clip sidecar error: %s", resp.Error)
		}
		return nil, fmt.Errorf("clip sidecar error: status %d", httpResp.StatusCode())
	}
	if len(resp.Embeddings) != len(paths) {
		return nil, fmt.Errorf("unexpected number of embeddings: got %d, expected %d", len(resp.Embeddings), len(paths))
	}
	return resp.Embeddings, nil
}
