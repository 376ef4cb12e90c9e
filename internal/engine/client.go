// Package engine talks to the node-graph execution engine over HTTP.
package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/reelforge/internal/config"
	"github.com/kiranshivaraju/reelforge/pkg/models"
	"github.com/kiranshivaraju/reelforge/pkg/workflow"
)

// Sentinel errors for engine failures. Callers treat any error from Submit
// as a definitive submission failure and any error from QueueSnapshot as
// "state unknown".
var (
	ErrUnreachable = errors.New("engine unreachable")
	ErrRejected    = errors.New("engine rejected request")
	ErrNotFound    = errors.New("engine artifact not found")
	ErrTooLarge    = errors.New("engine artifact exceeds size limit")
)

// Capability metadata locations inside /object_info.
const (
	checkpointLoader = "CheckpointLoaderSimple"
	checkpointField  = "ckpt_name"
	overlayLoader    = "LoraLoader"
	overlayField     = "lora_name"
)

// maxErrorBody bounds how much of a rejection body is kept for the record.
const maxErrorBody = 512

const defaultMaxArtifactBytes = 256 << 20

// Client is the interface for the execution engine.
type Client interface {
	ListCheckpoints(ctx context.Context) []string
	ListOverlays(ctx context.Context) []string
	Submit(ctx context.Context, graph workflow.Graph) (string, error)
	QueueSnapshot(ctx context.Context) (*models.QueueSnapshot, error)
	FetchArtifact(ctx context.Context, name, subfolder, kind string) ([]byte, error)
	SystemStats(ctx context.Context) (map[string]any, error)
}

// HTTPClient implements Client using the engine's HTTP API. Each call is a
// single attempt bounded by its own timeout; nothing is retried.
type HTTPClient struct {
	cfg    config.EngineConfig
	client *http.Client
}

// NewHTTPClient creates a new engine HTTP client.
func NewHTTPClient(cfg config.EngineConfig) *HTTPClient {
	if cfg.MaxArtifactBytes <= 0 {
		cfg.MaxArtifactBytes = defaultMaxArtifactBytes
	}
	return &HTTPClient{
		cfg:    cfg,
		client: &http.Client{},
	}
}

// BaseURL returns the engine endpoint this client was built for.
func (c *HTTPClient) BaseURL() string { return c.cfg.BaseURL }

func (c *HTTPClient) ListCheckpoints(ctx context.Context) []string {
	return c.listCapability(ctx, checkpointLoader, checkpointField)
}

func (c *HTTPClient) ListOverlays(ctx context.Context) []string {
	return c.listCapability(ctx, overlayLoader, overlayField)
}

// listCapability reads the option list of a loader input from /object_info.
// Every failure degrades to an empty list.
func (c *HTTPClient) listCapability(ctx context.Context, nodeClass, field string) []string {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.MetadataTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/object_info", nil, nil)
	if err != nil {
		slog.Warn("engine object_info unavailable", "node_class", nodeClass, "error", err)
		return []string{}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		slog.Warn("engine object_info returned non-200", "node_class", nodeClass, "status", resp.StatusCode)
		return []string{}
	}

	var info map[string]objectInfoNode
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		slog.Warn("decoding engine object_info", "node_class", nodeClass, "error", err)
		return []string{}
	}

	return info[nodeClass].options(field)
}

// Submit posts graph to the engine queue and returns the engine's prompt id.
func (c *HTTPClient) Submit(ctx context.Context, graph workflow.Graph) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.SubmitTimeout)
	defer cancel()

	body, err := json.Marshal(promptRequest{Prompt: graph, ClientID: uuid.NewString()})
	if err != nil {
		return "", fmt.Errorf("encoding prompt: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, "/prompt", nil, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return "", fmt.Errorf("%w: status %d: %s", ErrRejected, resp.StatusCode, bytes.TrimSpace(snippet))
	}

	var pr promptResponse
	if err := json.NewDecoder(resp.Body).Decode(&pr); err != nil {
		return "", fmt.Errorf("%w: decoding prompt response: %v", ErrRejected, err)
	}
	if pr.PromptID == "" {
		return "", fmt.Errorf("%w: response carried no prompt_id", ErrRejected)
	}

	return pr.PromptID, nil
}

// QueueSnapshot returns the correlation ids currently running or pending.
func (c *HTTPClient) QueueSnapshot(ctx context.Context) (*models.QueueSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.QueueTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/queue", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: queue status %d", ErrUnreachable, resp.StatusCode)
	}

	var qr queueResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("%w: decoding queue response: %v", ErrUnreachable, err)
	}
	if qr.Running == nil || qr.Pending == nil {
		return nil, fmt.Errorf("%w: queue response missing queue_running or queue_pending", ErrUnreachable)
	}

	running, err := promptIDs(*qr.Running)
	if err != nil {
		return nil, fmt.Errorf("%w: running: %v", ErrUnreachable, err)
	}
	pending, err := promptIDs(*qr.Pending)
	if err != nil {
		return nil, fmt.Errorf("%w: pending: %v", ErrUnreachable, err)
	}

	return &models.QueueSnapshot{Running: running, Pending: pending}, nil
}

// FetchArtifact downloads an output file produced by the engine.
func (c *HTTPClient) FetchArtifact(ctx context.Context, name, subfolder, kind string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.ArtifactTimeout)
	defer cancel()

	if kind == "" {
		kind = "output"
	}
	params := url.Values{
		"filename":  {name},
		"subfolder": {subfolder},
		"type":      {kind},
	}

	resp, err := c.do(ctx, http.MethodGet, "/view", params, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("%w: view status %d", ErrRejected, resp.StatusCode)
	}

	limit := c.cfg.MaxArtifactBytes
	if resp.ContentLength > limit {
		return nil, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, name, resp.ContentLength)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, limit+1))
	if err != nil {
		return nil, classifyError(err)
	}
	if int64(len(data)) > limit {
		return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, name, limit)
	}
	return data, nil
}

// SystemStats returns the engine's /system_stats document.
func (c *HTTPClient) SystemStats(ctx context.Context) (map[string]any, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.StatsTimeout)
	defer cancel()

	resp, err := c.do(ctx, http.MethodGet, "/system_stats", nil, nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: system_stats status %d", ErrUnreachable, resp.StatusCode)
	}

	var stats map[string]any
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return nil, fmt.Errorf("%w: decoding system_stats: %v", ErrUnreachable, err)
	}
	return stats, nil
}

func (c *HTTPClient) do(ctx context.Context, method, path string, params url.Values, body io.Reader) (*http.Response, error) {
	u := c.cfg.BaseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, classifyError(err)
	}
	return resp, nil
}

// classifyError maps transport-level errors, including timeouts, to ErrUnreachable.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout: %v", ErrUnreachable, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", ErrUnreachable, err)
	}

	return fmt.Errorf("%w: %v", ErrUnreachable, err)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)
