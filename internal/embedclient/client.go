// Package embedclient talks to the external embedding model service: a
// single HTTP endpoint that turns a batch of texts into dense float32
// vectors. The model itself, and how it's hosted, are out of scope for this
// module (see spec §1) — this package only owns the wire contract, batching,
// health probing, and the query instruction prefix.
package embedclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/time/rate"

	"github.com/localdex/localdex/internal/ingesterr"
)

// EmbedBatch is the maximum number of texts sent to the model endpoint in a
// single HTTP request. Larger inputs are split into sub-batches of this
// size and concatenated in input order.
const EmbedBatch = 15

// QueryInstructionPrefix is prepended to every query text before embedding,
// per the model's retrieval-tuned instruction format. Preserved verbatim.
const QueryInstructionPrefix = "Generate a representation of this sentence for retrieval of related passages:"

// Config holds the settings needed to construct a Client.
type Config struct {
	// BaseURL is the model endpoint base, e.g. "http://localhost:8080".
	BaseURL string
	// APIKey is sent as a Bearer token. Empty is valid for local endpoints.
	APIKey string
	// Model is the model name sent in the request body, when non-empty.
	Model string
	// RequestTimeout bounds each HTTP call. Defaults to 60s.
	RequestTimeout time.Duration
	// RateLimit caps outbound sub-batch requests per second. Zero disables
	// throttling (the default); set this when talking to a shared or
	// resource-constrained local model server.
	RateLimit float64
}

// Client embeds batches of text through the model's /embeddings endpoint.
// A Client is safe for concurrent use. Calls share one http.Client, whose
// pooled connections may be reused from call to call, and the optional
// rate limiter; both are safe for concurrent use.
type Client struct {
	baseURL string
	apiKey  string
	model   string
	http    *http.Client
	limiter *rate.Limiter
	onBatch func(time.Duration)
}

// SetBatchHook installs fn to be called with the wall-clock duration of
// every sub-batch HTTP call this Client makes from this point forward.
// It exists so internal/core can wire a latency histogram without this
// package depending on internal/metrics. A nil fn is a no-op.
func (c *Client) SetBatchHook(fn func(time.Duration)) {
	c.onBatch = fn
}

// New constructs a Client from cfg.
func New(cfg Config) *Client {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	var limiter *rate.Limiter
	if cfg.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit), 1)
	}

	return &Client{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		model:   cfg.Model,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

type embedRequest struct {
	Input []string `json:"input"`
	Model string   `json:"model,omitempty"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// EmbedDocuments embeds texts in sub-batches of EmbedBatch, concatenating
// the returned vectors in input order. Partial failure of any sub-batch
// fails the whole call — callers must not assume a prefix of the result is
// usable on error.
func (c *Client) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := c.HealthCheck(ctx); err != nil {
		return nil, err
	}

	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += EmbedBatch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		end := start + EmbedBatch
		if end > len(texts) {
			end = len(texts)
		}
		sub := texts[start:end]

		vecs, err := c.embed(ctx, sub)
		if err != nil {
			return nil, err
		}
		if len(vecs) != len(sub) {
			return nil, fmt.Errorf("%w: sub-batch of %d texts returned %d vectors", ingesterr.ErrModelBatchMismatch, len(sub), len(vecs))
		}

		out = append(out, vecs...)
	}

	return out, nil
}

// EmbedQuery embeds a single query string, prepending the retrieval
// instruction prefix expected by the model.
func (c *Client) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if err := c.HealthCheck(ctx); err != nil {
		return nil, err
	}

	vecs, err := c.embed(ctx, []string{QueryInstructionPrefix + query})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("%w: expected 1 vector, got %d", ingesterr.ErrModelProtocolError, len(vecs))
	}
	return vecs[0], nil
}

// embed issues one HTTP POST for the given sub-batch.
func (c *Client) embed(ctx context.Context, texts []string) ([][]float32, error) {
	if c.onBatch != nil {
		start := time.Now()
		defer func() { c.onBatch(time.Since(start)) }()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(embedRequest{Input: texts, Model: c.model})
	if err != nil {
		return nil, fmt.Errorf("embedclient: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedclient: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ingesterr.ErrModelUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: HTTP %d", ingesterr.ErrModelProtocolError, resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ingesterr.ErrModelProtocolError, err)
	}

	vecs := make([][]float32, len(result.Data))
	for i, d := range result.Data {
		vecs[i] = d.Embedding
	}
	return vecs, nil
}

// HealthCheck probes that the model endpoint is reachable. It substitutes a
// plain TCP-connect probe for the host application's model-launcher
// ensureRunning() check, per spec §6.
func (c *Client) HealthCheck(ctx context.Context) error {
	hostport, err := hostPort(c.baseURL)
	if err != nil {
		return fmt.Errorf("%w: %v", ingesterr.ErrModelUnavailable, err)
	}

	d := net.Dialer{Timeout: 3 * time.Second}
	conn, err := d.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return fmt.Errorf("%w: %v", ingesterr.ErrModelUnavailable, err)
	}
	_ = conn.Close()
	return nil
}

// hostPort extracts a dialable host:port from a base URL, defaulting the
// port to 80/443 by scheme when absent.
func hostPort(base string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if u.Port() != "" {
		return u.Host, nil
	}
	port := "80"
	if u.Scheme == "https" {
		port = "443"
	}
	return net.JoinHostPort(u.Hostname(), port), nil
}
