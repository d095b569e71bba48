// Package pipeline fans every fetched response out to three independent
// stages: the archive, the outlink dispatcher and the triple generator. Each
// stage has its own intake queue and drain goroutine; the two network-bound
// stages batch their items and spill refused batches to rolling backup files.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/apicrawler/internal/crawler"
	"github.com/JakeFAU/apicrawler/internal/metrics"
)

// Stage names, used as sink labels and backup file prefixes.
const (
	StageOutlinks = "outlinks"
	StageTriples  = "triples"
)

// Config controls the whole pipeline.
type Config struct {
	OutputDir       string
	MaxFileBytes    int64
	BufferSize      int
	OutlinksChunk   int
	TriplesChunk    int
	FlushInterval   time.Duration
	SinkTimeout     time.Duration
	RateLogInterval time.Duration
	Hostname        string
	ContentPaths    map[string]string
}

// Deps are the collaborators the pipeline writes to.
type Deps struct {
	Archive crawler.ArchiveWriter
	Links   crawler.LinkSink
	Facts   crawler.FactStore
	// Shipper receives rotated archive and backup files; optional.
	Shipper *Shipper
	Mappers map[string]Mapper
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	Now     func() time.Time
}

// Pipeline implements crawler.ResponseHandler.
type Pipeline struct {
	cfg      Config
	mappers  map[string]Mapper
	archiver *Archiver
	outlinks *Batcher[crawler.Outlink]
	triples  *Batcher[crawler.Triple]
	shipper  *Shipper
	logger   *zap.Logger
	metrics  *metrics.Metrics
}

// New opens the first archive file and starts all stage loops.
func New(cfg Config, deps Deps) (*Pipeline, error) {
	if deps.Archive == nil || deps.Links == nil || deps.Facts == nil {
		return nil, errors.New("pipeline requires an archive writer, link sink and fact store")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.Named("pipeline")
	if cfg.ContentPaths == nil {
		cfg.ContentPaths = DefaultContentPaths()
	}
	mappers := deps.Mappers
	if mappers == nil {
		mappers = DefaultMappers()
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	var onRotate func(string)
	if deps.Shipper != nil {
		onRotate = deps.Shipper.Enqueue
	}

	archiver, err := NewArchiver(ArchiveConfig{
		Dir:             cfg.OutputDir,
		MaxBytes:        cfg.MaxFileBytes,
		BufferSize:      cfg.BufferSize,
		Hostname:        cfg.Hostname,
		RateLogInterval: cfg.RateLogInterval,
		Logger:          logger,
		Metrics:         deps.Metrics,
		Now:             now,
		OnRotate:        onRotate,
	}, deps.Archive)
	if err != nil {
		return nil, fmt.Errorf("start archiver: %w", err)
	}

	batcherCfg := func(name string, size int) BatcherConfig {
		return BatcherConfig{
			Name:            name,
			BufferSize:      cfg.BufferSize,
			BatchSize:       size,
			FlushInterval:   cfg.FlushInterval,
			SinkTimeout:     cfg.SinkTimeout,
			RateLogInterval: cfg.RateLogInterval,
			Logger:          logger,
			Metrics:         deps.Metrics,
			Now:             now,
		}
	}
	backup := func(name string) *RollingFile {
		return NewRollingFile(cfg.OutputDir, name+".backup", cfg.MaxFileBytes, now, func(path string) {
			deps.Metrics.FileRotated(name + "_backup")
			if onRotate != nil {
				onRotate(path)
			}
		})
	}

	return &Pipeline{
		cfg:      cfg,
		mappers:  mappers,
		archiver: archiver,
		outlinks: NewBatcher[crawler.Outlink](batcherCfg(StageOutlinks, cfg.OutlinksChunk), deps.Links.SendLinks, backup(StageOutlinks)),
		triples:  NewBatcher[crawler.Triple](batcherCfg(StageTriples, cfg.TriplesChunk), deps.Facts.PutTriples, backup(StageTriples)),
		shipper:  deps.Shipper,
		logger:   logger,
		metrics:  deps.Metrics,
	}, nil
}

// Handle archives env and, for a successful fetch, pushes the outlinks and
// triples of each content item to their stages. Blocks while a stage's intake
// queue is full.
func (p *Pipeline) Handle(ctx context.Context, env *crawler.ResponseEnvelope) (crawler.ItemStats, error) {
	var stats crawler.ItemStats
	if env == nil {
		return stats, nil
	}
	if err := p.archiver.Add(ctx, env); err != nil {
		return stats, fmt.Errorf("archive response: %w", err)
	}
	if !env.Success {
		return stats, nil
	}
	route := routeKey(env.Meta.Server, env.Meta.Interaction)
	mapper := p.mappers[route]
	for _, item := range ContentItems(env, p.cfg.ContentPaths) {
		stats.Items++
		var m Mapping
		var err error
		if mapper != nil {
			m, err = mapper(item)
		} else if _, ok := crawler.Lookup(item, PredID); !ok {
			err = fmt.Errorf("%w: item has no id", crawler.ErrItemRejected)
		}
		if err != nil {
			stats.Rejected++
			p.metrics.ItemRejected(env.Meta.Server, env.Meta.Interaction)
			p.logger.Warn("content item rejected",
				zap.String("route", route),
				zap.String("url", env.Meta.RequestURL),
				zap.Error(err))
			continue
		}
		links := ExtractOutlinks(item)
		var triples []crawler.Triple
		if mapper != nil {
			triples = m.Triples
			for _, t := range m.Triples {
				if t.Predicate == PredURL {
					links = mergeLinks(links, t.Object)
				}
			}
			for _, l := range links {
				triples = append(triples, crawler.Triple{Subject: m.Subject, Predicate: PredOutlink, Object: l})
			}
		}
		if len(links) > 0 {
			out := make([]crawler.Outlink, len(links))
			for i, l := range links {
				out[i] = crawler.Outlink{URL: l, Score: 1.0}
			}
			if err := p.outlinks.Add(ctx, out...); err != nil {
				return stats, fmt.Errorf("queue outlinks: %w", err)
			}
			stats.Outlinks += len(out)
		}
		if len(triples) > 0 {
			if err := p.triples.Add(ctx, triples...); err != nil {
				return stats, fmt.Errorf("queue triples: %w", err)
			}
			stats.Triples += len(triples)
		}
	}
	return stats, nil
}

// ArchivePath returns the archive file currently being written.
func (p *Pipeline) ArchivePath() string {
	return p.archiver.Path()
}

// Close drains every stage, flushes partial batches through the normal
// delivery path and closes all files. Rotated files still queued for
// shipping are uploaded before Close returns.
func (p *Pipeline) Close(ctx context.Context) error {
	var errs []error
	if err := p.archiver.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.outlinks.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if err := p.triples.Close(ctx); err != nil {
		errs = append(errs, err)
	}
	if p.shipper != nil {
		if err := p.shipper.Close(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("close pipeline: %w", err)
	}
	return nil
}
