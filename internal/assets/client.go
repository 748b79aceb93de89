package assets

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"github.com/treygoff24/scenestream/internal/config"
	"github.com/treygoff24/scenestream/internal/fault"
	"github.com/treygoff24/scenestream/internal/scenemap"
)

// Client fetches chunk manifests from the asset service. The manifest is
// what the core needs to account for a chunk (payload size, version); the
// payload itself streams directly to the viewer and never passes through
// this server.
type Client struct {
	baseURL     string
	maxAttempts int
	baseDelay   time.Duration
	client      *http.Client
}

// ChunkManifest describes one room's downloadable chunk.
type ChunkManifest struct {
	ChunkID      string  `json:"chunk_id"`
	Room         string  `json:"room"`
	Version      int     `json:"version"`
	PayloadBytes int64   `json:"payload_bytes"`
	VertexCount  int     `json:"vertex_count"`
	TextureMB    float64 `json:"texture_mb"`
}

// manifestResponse is the asset service's reply envelope.
type manifestResponse struct {
	Success  bool          `json:"success"`
	Manifest ChunkManifest `json:"manifest"`
	Message  *string       `json:"message,omitempty"`
}

// NewClient creates an asset service client from configuration.
func NewClient(cfg *config.Config) *Client {
	return &Client{
		baseURL:     cfg.Assets.BaseURL,
		maxAttempts: cfg.Assets.MaxAttempts,
		baseDelay:   cfg.Assets.RetryBaseDelay,
		client: &http.Client{
			Timeout: cfg.Assets.Timeout,
		},
	}
}

// HealthResponse represents an asset service health check reply.
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// HealthCheck checks if the asset service is reachable and healthy.
func (c *Client) HealthCheck(ctx context.Context) error {
	url := fmt.Sprintf("%s/health", c.baseURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("health check request failed: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			log.Printf("Warning: failed to close asset health response body: %v", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check failed with status %d", resp.StatusCode)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if health.Status != "ok" {
		return fmt.Errorf("service reported unhealthy status: %s", health.Status)
	}
	return nil
}

// FetchManifest retrieves the chunk manifest for a room, retrying with
// exponential backoff. Exhausted retries surface as a ChunkLoadError so the
// fault engine classifies the failure correctly.
func (c *Client) FetchManifest(ctx context.Context, room scenemap.RoomID) (*ChunkManifest, error) {
	url := fmt.Sprintf("%s/api/v1/chunks/%s/manifest", c.baseURL, room)

	var manifest *ChunkManifest
	err := fault.RetryWithBackoff(ctx, c.maxAttempts, c.baseDelay, func(ctx context.Context) error {
		fetched, err := c.fetchOnce(ctx, url)
		if err != nil {
			return err
		}
		manifest = fetched
		return nil
	})
	if err != nil {
		return nil, &fault.ChunkLoadError{Chunk: room, Err: err}
	}
	return manifest, nil
}

func (c *Client) fetchOnce(ctx context.Context, url string) (*ChunkManifest, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}

	respBody, err := io.ReadAll(resp.Body)
	if closeErr := resp.Body.Close(); closeErr != nil {
		log.Printf("Warning: failed to close asset response body: %v", closeErr)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("manifest fetch failed with status %d: %s", resp.StatusCode, string(respBody))
	}

	var response manifestResponse
	if err := json.Unmarshal(respBody, &response); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if !response.Success {
		return nil, fmt.Errorf("manifest fetch failed: %v", response.Message)
	}
	return &response.Manifest, nil
}
