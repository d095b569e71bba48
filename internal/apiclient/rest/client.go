// Package rest implements crawler.APIClient on top of a gocolly collector.
// Each configured server has a base URL, static query parameters and a set of
// named interactions mapping to a path plus more static parameters.
//
// A Client keeps the selected server, interaction and parameters between
// calls, so one Client belongs to one platform worker.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/trace"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

var (
	// ErrUnknownServer is returned by SetServer for an unconfigured name.
	ErrUnknownServer = errors.New("unknown api server")
	// ErrUnknownInteraction is returned by SetInteraction for an interaction
	// the current server does not declare.
	ErrUnknownInteraction = errors.New("unknown api interaction")
)

// Interaction is one templated endpoint of a server.
type Interaction struct {
	Path   string            `mapstructure:"path"`
	Params map[string]string `mapstructure:"params"`
}

// Server describes one remote API.
type Server struct {
	BaseURL      string                 `mapstructure:"base_url"`
	Params       map[string]string      `mapstructure:"params"`
	Interactions map[string]Interaction `mapstructure:"interactions"`
}

// Config controls collector behavior.
type Config struct {
	UserAgent   string
	Timeout     time.Duration
	MaxBodySize int
	Servers     map[string]Server
	// TracerProvider, when set, wraps the transport so each API call is a
	// client span.
	TracerProvider trace.TracerProvider
}

// Waiter throttles calls per server.
type Waiter interface {
	Wait(ctx context.Context, server string) error
}

// Client implements crawler.APIClient.
type Client struct {
	cfg           Config
	baseCollector *colly.Collector
	limiter       Waiter
	now           func() time.Time

	server      string
	interaction string
	params      map[string]string
}

type collectorHooks interface {
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Client. limiter may be nil.
func New(cfg Config, limiter Waiter) *Client {
	c := colly.NewCollector(colly.Async(false))
	var transport http.RoundTripper = newHTTPTransport()
	if cfg.TracerProvider != nil {
		transport = otelhttp.NewTransport(transport, otelhttp.WithTracerProvider(cfg.TracerProvider))
	}
	c.WithTransport(transport)
	return &Client{
		cfg:           cfg,
		baseCollector: c,
		limiter:       limiter,
		now:           time.Now,
	}
}

// SetServer selects the API server for the next Execute and clears the
// selected interaction.
func (c *Client) SetServer(name string) error {
	if _, ok := c.cfg.Servers[name]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownServer, name)
	}
	c.server = name
	c.interaction = ""
	return nil
}

// SetInteraction selects an endpoint of the current server.
func (c *Client) SetInteraction(name string) error {
	srv, ok := c.cfg.Servers[c.server]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownServer, c.server)
	}
	if _, ok := srv.Interactions[name]; !ok {
		return fmt.Errorf("%w: %s/%s", ErrUnknownInteraction, c.server, name)
	}
	c.interaction = name
	return nil
}

// SetParams replaces the dynamic query parameters.
func (c *Client) SetParams(params map[string]string) {
	c.params = make(map[string]string, len(params))
	for k, v := range params {
		c.params[k] = v
	}
}

// Execute performs one GET against the selected interaction. Transport
// failures return an error; HTTP and decoding failures return an envelope
// with Success false.
func (c *Client) Execute(ctx context.Context) (*crawler.ResponseEnvelope, error) {
	target, err := c.buildURL()
	if err != nil {
		return nil, err
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx, c.server); err != nil {
			return nil, fmt.Errorf("wait for %s: %w", c.server, err)
		}
	}

	env := &crawler.ResponseEnvelope{
		Meta: crawler.RequestMeta{
			Server:      c.server,
			Interaction: c.interaction,
			RequestURL:  target,
		},
	}
	var fetchErr error
	collector := c.buildCollector()
	c.configureCollectorHooks(collector, env, &fetchErr)
	if err := c.runCollector(ctx, collector, target, &fetchErr); err != nil {
		return nil, err
	}
	env.FetchedAt = c.now()
	return env, nil
}

func (c *Client) buildURL() (string, error) {
	srv, ok := c.cfg.Servers[c.server]
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownServer, c.server)
	}
	it, ok := srv.Interactions[c.interaction]
	if !ok {
		return "", fmt.Errorf("%w: %s/%q", ErrUnknownInteraction, c.server, c.interaction)
	}
	u, err := url.Parse(strings.TrimRight(srv.BaseURL, "/") + "/" + strings.TrimLeft(it.Path, "/"))
	if err != nil {
		return "", fmt.Errorf("parse url for %s/%s: %w", c.server, c.interaction, err)
	}
	q := u.Query()
	for _, layer := range []map[string]string{srv.Params, it.Params, c.params} {
		for k, v := range layer {
			q.Set(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (c *Client) buildCollector() *colly.Collector {
	collector := c.baseCollector.Clone()
	if c.cfg.UserAgent != "" {
		collector.UserAgent = c.cfg.UserAgent
	}
	collector.AllowURLRevisit = true
	collector.IgnoreRobotsTxt = true
	collector.ParseHTTPErrorResponse = true
	collector.MaxBodySize = c.cfg.MaxBodySize
	timeout := c.cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	collector.SetRequestTimeout(timeout)
	return collector
}

func (c *Client) configureCollectorHooks(
	hooks collectorHooks,
	env *crawler.ResponseEnvelope,
	fetchErr *error,
) {
	hooks.OnResponse(func(r *colly.Response) {
		env.StatusCode = r.StatusCode
		env.Raw = append([]byte(nil), r.Body...)
		if r.Headers != nil {
			env.Headers = r.Headers.Clone()
		}
		if r.Request != nil && r.Request.URL != nil {
			env.Meta.RequestURL = r.Request.URL.String()
		}
		ok := r.StatusCode >= http.StatusOK && r.StatusCode < http.StatusMultipleChoices
		var content any
		if err := json.Unmarshal(env.Raw, &content); err != nil {
			ok = false
		} else {
			env.Content = content
		}
		env.Success = ok
	})

	hooks.OnError(func(_ *colly.Response, err error) {
		*fetchErr = err
	})
}

func (c *Client) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("api call canceled: %w", ctx.Err())
	case err := <-done:
		if err != nil {
			return fmt.Errorf("api visit failed: %w", err)
		}
		if *fetchErr != nil {
			return fmt.Errorf("api response failed: %w", *fetchErr)
		}
		return nil
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
