// Package frontier posts outlink batches to a frontier's queue-update endpoint
// as a JSON array of {url, score} objects.
package frontier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// ContentType is the media type the link-intake endpoint expects.
const ContentType = "text/json"

// Config controls the HTTP link sink.
type Config struct {
	Endpoint string
	Timeout  time.Duration
}

// Publisher implements crawler.LinkSink.
type Publisher struct {
	endpoint string
	client   *http.Client
}

// New builds a Publisher. A nil client uses one with cfg.Timeout.
func New(cfg Config, client *http.Client) *Publisher {
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Publisher{endpoint: cfg.Endpoint, client: client}
}

// SendLinks posts one batch. Any non-2xx reply fails the whole batch.
func (p *Publisher) SendLinks(ctx context.Context, links []crawler.Outlink) error {
	body, err := json.Marshal(links)
	if err != nil {
		return fmt.Errorf("marshal outlinks: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build link intake request: %w", err)
	}
	req.Header.Set("Content-Type", ContentType)
	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("post outlinks: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return fmt.Errorf("post outlinks: unexpected status %d", resp.StatusCode)
	}
	return nil
}
