// Package memory contains an in-memory link sink for development and tests.
package memory

import (
	"context"
	"sync"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// Publisher counts outlink batches. With Retain set it also keeps them, which
// is only meant for tests.
type Publisher struct {
	Retain bool

	mu      sync.RWMutex
	sent    int
	links   int
	batches [][]crawler.Outlink
}

// New returns a Publisher that discards what it receives.
func New() *Publisher {
	return &Publisher{}
}

// NewRecording returns a Publisher that keeps every batch.
func NewRecording() *Publisher {
	return &Publisher{Retain: true}
}

// SendLinks counts the batch and records it when retaining.
func (p *Publisher) SendLinks(_ context.Context, links []crawler.Outlink) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sent++
	p.links += len(links)
	if p.Retain {
		p.batches = append(p.batches, append([]crawler.Outlink(nil), links...))
	}
	return nil
}

// Counts returns the number of batches and outlinks received.
func (p *Publisher) Counts() (batches, links int) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.sent, p.links
}

// Batches returns the recorded batches.
func (p *Publisher) Batches() [][]crawler.Outlink {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([][]crawler.Outlink, len(p.batches))
	copy(out, p.batches)
	return out
}

// Links returns every recorded outlink URL in arrival order.
func (p *Publisher) Links() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, b := range p.batches {
		for _, l := range b {
			out = append(out, l.URL)
		}
	}
	return out
}
