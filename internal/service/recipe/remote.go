package recipe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/time/rate"
)

const maxRemoteResponseBytes = 1 << 20

// RemoteGenerator asks an external HTTP service for recipe content. The
// service receives Params as JSON and answers with a Draft.
type RemoteGenerator struct {
	client  *http.Client
	url     string
	apiKey  string
	limiter *rate.Limiter
}

// NewRemoteGenerator constructs a RemoteGenerator. Outbound calls are
// throttled to rps requests per second; rps <= 0 disables throttling.
func NewRemoteGenerator(client *http.Client, url, apiKey string, rps int) *RemoteGenerator {
	if client == nil {
		client = http.DefaultClient
	}
	limit := rate.Inf
	burst := 1
	if rps > 0 {
		limit = rate.Limit(rps)
		burst = rps
	}
	return &RemoteGenerator{
		client:  client,
		url:     strings.TrimSpace(url),
		apiKey:  apiKey,
		limiter: rate.NewLimiter(limit, burst),
	}
}

// Generate implements Generator.
func (g *RemoteGenerator) Generate(ctx context.Context, params Params) (Draft, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return Draft{}, fmt.Errorf("generator throttle: %w", err)
	}
	body, err := json.Marshal(params)
	if err != nil {
		return Draft{}, fmt.Errorf("encode generator request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.url, bytes.NewReader(body))
	if err != nil {
		return Draft{}, fmt.Errorf("build generator request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if g.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.apiKey)
	}
	resp, err := g.client.Do(req)
	if err != nil {
		return Draft{}, fmt.Errorf("call generator: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Draft{}, fmt.Errorf("generator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	var draft Draft
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxRemoteResponseBytes)).Decode(&draft); err != nil {
		return Draft{}, fmt.Errorf("decode generator response: %w", err)
	}
	return draft, nil
}
