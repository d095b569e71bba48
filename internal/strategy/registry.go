// Package strategy holds the per-platform pagination strategies and the
// registry that maps (platform, strategy) pairs to them.
package strategy

import (
	"fmt"
	"sort"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

// Factory builds a strategy bound to a job's parameters.
type Factory func(params []string) (crawler.Strategy, error)

// Key identifies a strategy.
type Key struct {
	Platform string
	Strategy string
}

// Registry resolves (platform, strategy) pairs. It is populated at startup and
// read-only afterwards.
type Registry struct {
	factories map[Key]Factory
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[Key]Factory)}
}

// Default returns a registry holding every built-in strategy.
func Default() *Registry {
	r := NewRegistry()
	r.Register("facebook", "search", NewFacebookSearch)
	r.Register("facebook", "users", NewFacebookUsers)
	r.Register("flickr", "search", NewFlickrSearch)
	r.Register("google_plus", "search", NewGooglePlusSearch)
	r.Register("twitter", "search", NewTwitterSearch)
	r.Register("youtube", "search", NewYoutubeSearch)
	return r
}

// Register adds or replaces a factory.
func (r *Registry) Register(platform, strategy string, f Factory) {
	r.factories[Key{Platform: platform, Strategy: strategy}] = f
}

// New builds the strategy for a pair, failing with ErrInvalidRequest when the
// pair is unknown or the parameters are rejected.
func (r *Registry) New(platform, strategy string, params []string) (crawler.Strategy, error) {
	f, ok := r.factories[Key{Platform: platform, Strategy: strategy}]
	if !ok {
		return nil, fmt.Errorf("%w: unknown strategy %s/%s", crawler.ErrInvalidRequest, platform, strategy)
	}
	s, err := f(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %s/%s: %v", crawler.ErrInvalidRequest, platform, strategy, err)
	}
	return s, nil
}

// Keys lists registered pairs in a stable order.
func (r *Registry) Keys() []Key {
	keys := make([]Key, 0, len(r.factories))
	for k := range r.factories {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].Platform != keys[j].Platform {
			return keys[i].Platform < keys[j].Platform
		}
		return keys[i].Strategy < keys[j].Strategy
	})
	return keys
}
