// Package app builds the long-lived services from configuration and owns
// their shutdown order.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"

	"cloud.google.com/go/pubsub"
	gcs "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/apicrawler/internal/api"
	"github.com/JakeFAU/apicrawler/internal/apiclient/rest"
	"github.com/JakeFAU/apicrawler/internal/clock/system"
	"github.com/JakeFAU/apicrawler/internal/config"
	"github.com/JakeFAU/apicrawler/internal/crawler"
	"github.com/JakeFAU/apicrawler/internal/dispatcher"
	"github.com/JakeFAU/apicrawler/internal/hash/sha256"
	"github.com/JakeFAU/apicrawler/internal/id/uuid"
	"github.com/JakeFAU/apicrawler/internal/manager"
	"github.com/JakeFAU/apicrawler/internal/metrics"
	"github.com/JakeFAU/apicrawler/internal/pipeline"
	"github.com/JakeFAU/apicrawler/internal/policy/ratelimit"
	"github.com/JakeFAU/apicrawler/internal/publisher/frontier"
	"github.com/JakeFAU/apicrawler/internal/publisher/kafka"
	memorypublisher "github.com/JakeFAU/apicrawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/apicrawler/internal/publisher/pubsub"
	queuememory "github.com/JakeFAU/apicrawler/internal/queue/memory"
	gcsstore "github.com/JakeFAU/apicrawler/internal/storage/gcs"
	"github.com/JakeFAU/apicrawler/internal/storage/local"
	memorystore "github.com/JakeFAU/apicrawler/internal/storage/memory"
	"github.com/JakeFAU/apicrawler/internal/storage/neo4j"
	"github.com/JakeFAU/apicrawler/internal/storage/postgres"
	"github.com/JakeFAU/apicrawler/internal/storage/redis"
	"github.com/JakeFAU/apicrawler/internal/strategy"
	"github.com/JakeFAU/apicrawler/internal/telemetry"
	"github.com/JakeFAU/apicrawler/internal/warc"
	"github.com/JakeFAU/apicrawler/internal/worker"
)

// App holds the wired services.
type App struct {
	logger     *zap.Logger
	metrics    *metrics.Metrics
	manager    *manager.Manager
	dispatcher *dispatcher.Dispatcher
	pipeline   *pipeline.Pipeline
	server     *api.Server
	queues     []*queuememory.Queue
	closers    []closer
}

type closer struct {
	name string
	fn   func(context.Context) error
}

// Deps lets callers and tests replace the external sinks. Nil fields are
// built from configuration.
type Deps struct {
	Links    crawler.LinkSink
	Facts    crawler.FactStore
	Blobs    crawler.BlobStore
	Registry *prometheus.Registry
	Clock    crawler.Clock
	// TraceOptions are appended to the tracer provider options.
	TraceOptions []trace.TracerProviderOption
}

// managerObserver forwards worker notifications to the manager, which is
// built after the workers.
type managerObserver struct {
	m *manager.Manager
}

func (o *managerObserver) JobChanged(ctx context.Context, s crawler.JobSnapshot) {
	if o.m != nil {
		o.m.JobChanged(ctx, s)
	}
}

// New builds every service described by cfg. On error, anything already
// opened is closed.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, deps Deps) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	a = &App{logger: logger}
	defer func() {
		if err != nil {
			_ = a.closeAll(context.Background())
		}
	}()

	reg := deps.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	a.metrics = metrics.New(reg)
	clock := deps.Clock
	if clock == nil {
		clock = system.New()
	}
	ids := uuid.New()

	tp, err := telemetry.InitTracerProvider(ctx, cfg.Tracing, deps.TraceOptions...)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}
	a.addCloser("tracer provider", tp.Shutdown)

	links := deps.Links
	if links == nil {
		if links, err = a.buildLinkSink(ctx, cfg.LinkIntake); err != nil {
			return nil, err
		}
	}
	facts := deps.Facts
	if facts == nil {
		if facts, err = a.buildFactStore(ctx, cfg.FactStore); err != nil {
			return nil, err
		}
	}
	blobs := deps.Blobs
	if blobs == nil {
		if blobs, err = a.buildBlobStore(ctx, cfg.Shipping); err != nil {
			return nil, err
		}
	}
	var shipper *pipeline.Shipper
	if blobs != nil {
		shipper = pipeline.NewShipper(pipeline.ShipperConfig{
			Prefix:      cfg.Shipping.Prefix,
			DeleteLocal: cfg.Shipping.DeleteLocal,
			Logger:      logger,
		}, blobs)
	}

	hostname := cfg.Pipeline.Hostname
	if hostname == "" {
		hostname, _ = os.Hostname()
	}
	contentPaths := pipeline.DefaultContentPaths()
	for k, v := range cfg.Pipeline.ContentPaths {
		contentPaths[k] = v
	}
	a.pipeline, err = pipeline.New(pipeline.Config{
		OutputDir:       cfg.Pipeline.OutputDir,
		MaxFileBytes:    cfg.Pipeline.MaxFileBytes,
		BufferSize:      cfg.Pipeline.QueueSize,
		OutlinksChunk:   cfg.Pipeline.OutlinksChunk,
		TriplesChunk:    cfg.Pipeline.TriplesChunk,
		FlushInterval:   cfg.Pipeline.FlushInterval,
		SinkTimeout:     cfg.Pipeline.SinkTimeout,
		RateLogInterval: cfg.Pipeline.RateLogInterval,
		Hostname:        hostname,
		ContentPaths:    contentPaths,
	}, pipeline.Deps{
		Archive: newArchiveWriter(clock),
		Links:   links,
		Facts:   facts,
		Shipper: shipper,
		Logger:  logger,
		Metrics: a.metrics,
		Now:     clock.Now,
	})
	if err != nil {
		if shipper != nil {
			_ = shipper.Close(ctx)
		}
		return nil, fmt.Errorf("build pipeline: %w", err)
	}

	limiter := ratelimit.New(ratelimit.Config{
		DefaultRPS:   cfg.APIClient.RequestsPerSecond,
		DefaultBurst: cfg.APIClient.Burst,
		PerServerRPS: cfg.APIClient.PerServerRPS,
	}, a.metrics.ObserveRateLimitDelay)
	clientCfg := rest.Config{
		UserAgent:   cfg.APIClient.UserAgent,
		Timeout:     cfg.APIClient.Timeout,
		MaxBodySize: cfg.APIClient.MaxBodySize,
		Servers:     cfg.APIClient.Servers,

		TracerProvider: tp,
	}

	observer := &managerObserver{}
	lanes := make(map[string]dispatcher.Lane, len(cfg.Platforms))
	for _, platform := range cfg.Platforms {
		q := queuememory.NewQueue()
		a.queues = append(a.queues, q)
		w := worker.New(worker.Config{
			Platform:      platform,
			MinRunWarning: cfg.Worker.MinRunWarning,
			RequeuePause:  cfg.Worker.RequeuePause,
			Tracer:        tp.Tracer("github.com/JakeFAU/apicrawler/internal/worker"),
		}, q, rest.New(clientCfg, limiter), a.pipeline, clock, a.metrics, logger, observer)
		lanes[platform] = dispatcher.Lane{Queue: q, Worker: w}
	}
	a.dispatcher = dispatcher.New(lanes, a.metrics)

	var mirror crawler.StatusMirror
	if cfg.StatusMirror.Addr != "" {
		rm := redis.NewStatusMirror(cfg.StatusMirror.Addr, cfg.StatusMirror.Prefix, cfg.StatusMirror.TTL)
		a.addCloser("status mirror", func(context.Context) error { return rm.Close() })
		mirror = rm
	}

	a.manager = manager.New(manager.Config{
		StopTimeout:      cfg.Manager.StopTimeout,
		StopPollInterval: cfg.Manager.StopPollInterval,
		DateLayout:       cfg.Manager.DateLayout,
	}, strategy.Default(), a.dispatcher, clock, ids, mirror, logger)
	observer.m = a.manager

	a.server = api.NewServer(a.manager, api.Config{
		RequestTimeout: cfg.Server.RequestTimeout,
		AuthEnabled:    cfg.Auth.Enabled,
		APIKey:         cfg.Auth.APIKey,
	}, a.metrics, logger)

	logger.Info("application services initialized",
		zap.Strings("platforms", a.dispatcher.Platforms()),
		zap.String("link_driver", cfg.LinkIntake.Driver),
		zap.String("fact_driver", cfg.FactStore.Driver),
		zap.String("shipping_driver", cfg.Shipping.Driver))
	return a, nil
}

// Manager returns the crawl manager.
func (a *App) Manager() *manager.Manager { return a.manager }

// Handler returns the HTTP API.
func (a *App) Handler() http.Handler { return a.server.Handler() }

// Run blocks running every platform worker until ctx ends.
func (a *App) Run(ctx context.Context) {
	a.dispatcher.Run(ctx)
}

// Close drains the pipeline, then closes the sinks it wrote to. Workers must
// have stopped first.
func (a *App) Close(ctx context.Context) error {
	a.logger.Info("shutting down application services")
	var errs []error
	for _, q := range a.queues {
		q.Close()
	}
	if a.pipeline != nil {
		if err := a.pipeline.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.closeAll(ctx); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *App) addCloser(name string, fn func(context.Context) error) {
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

func (a *App) closeAll(ctx context.Context) error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		c := a.closers[i]
		if err := c.fn(ctx); err != nil {
			a.logger.Warn("close failed", zap.String("service", c.name), zap.Error(err))
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}

func (a *App) buildLinkSink(ctx context.Context, cfg config.LinkIntakeConfig) (crawler.LinkSink, error) {
	switch cfg.Driver {
	case config.DriverHTTP:
		return frontier.New(frontier.Config{Endpoint: cfg.Endpoint, Timeout: cfg.Timeout}, nil), nil
	case config.DriverKafka:
		p := kafka.New(cfg.Brokers, cfg.Topic)
		a.addCloser("kafka link sink", func(context.Context) error { return p.Close() })
		return p, nil
	case config.DriverPubSub:
		client, err := pubsub.NewClient(ctx, cfg.Project)
		if err != nil {
			return nil, fmt.Errorf("create pubsub client: %w", err)
		}
		a.addCloser("pubsub client", func(context.Context) error { return client.Close() })
		p := pubsubpublisher.New(client.Topic(cfg.Topic))
		a.addCloser("pubsub link sink", func(context.Context) error { return p.Close() })
		return p, nil
	case config.DriverMemory, "":
		return memorypublisher.New(), nil
	default:
		return nil, fmt.Errorf("unknown link intake driver %q", cfg.Driver)
	}
}

func (a *App) buildFactStore(ctx context.Context, cfg config.FactStoreConfig) (crawler.FactStore, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		store, err := postgres.NewFactStore(ctx, postgres.FactStoreConfig{
			DSN:      cfg.DSN,
			Table:    cfg.Table,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("connect postgres fact store: %w", err)
		}
		a.addCloser("postgres fact store", func(context.Context) error {
			store.Close()
			return nil
		})
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("prepare fact table: %w", err)
		}
		return store, nil
	case config.DriverNeo4j:
		store, err := neo4j.New(ctx, neo4j.Config{
			URI:      cfg.URI,
			User:     cfg.User,
			Password: cfg.Password,
			Database: cfg.Database,
		})
		if err != nil {
			return nil, fmt.Errorf("connect neo4j fact store: %w", err)
		}
		a.addCloser("neo4j fact store", store.Close)
		return store, nil
	case config.DriverNoop, "":
		return memorystore.NewFactStore(), nil
	default:
		return nil, fmt.Errorf("unknown fact store driver %q", cfg.Driver)
	}
}

// buildBlobStore returns nil when shipping is disabled.
func (a *App) buildBlobStore(ctx context.Context, cfg config.ShippingConfig) (crawler.BlobStore, error) {
	switch cfg.Driver {
	case config.DriverLocal:
		store, err := local.New(local.Config{BaseDir: cfg.BaseDir})
		if err != nil {
			return nil, fmt.Errorf("create local blob store: %w", err)
		}
		return store, nil
	case config.DriverGCS:
		client, err := gcs.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		a.addCloser("gcs client", func(context.Context) error { return client.Close() })
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: cfg.Bucket})
		if err != nil {
			return nil, fmt.Errorf("create gcs blob store: %w", err)
		}
		return store, nil
	case config.DriverNone, "":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown shipping driver %q", cfg.Driver)
	}
}

func newArchiveWriter(clock crawler.Clock) crawler.ArchiveWriter {
	return warc.New(sha256.New(), uuid.New(), clock.Now)
}
