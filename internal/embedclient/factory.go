package embedclient

import (
	"fmt"
	"os"
)

// NewFromEnv constructs a Client from these env vars:
//
//  1. EMBED_ENDPOINT — the model service base URL (required)
//  2. EMBED_API_KEY — optional bearer token
//  3. EMBED_MODEL — optional model name sent in the request body
//  4. EMBED_RATE_LIMIT — optional requests/second cap on sub-batches
func NewFromEnv() (*Client, error) {
	endpoint := os.Getenv("EMBED_ENDPOINT")
	if endpoint == "" {
		return nil, fmt.Errorf("embedclient: EMBED_ENDPOINT must be set")
	}

	cfg := Config{
		BaseURL: endpoint,
		APIKey:  os.Getenv("EMBED_API_KEY"),
		Model:   os.Getenv("EMBED_MODEL"),
	}

	if v := os.Getenv("EMBED_RATE_LIMIT"); v != "" {
		var rps float64
		if _, err := fmt.Sscanf(v, "%f", &rps); err == nil {
			cfg.RateLimit = rps
		}
	}

	return New(cfg), nil
}
