package pipeline

import (
	"context"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/apicrawler/internal/crawler"
)

const defaultShipQueueSize = 100

// ShipperConfig controls the uploader for rotated files.
type ShipperConfig struct {
	Prefix      string
	QueueSize   int
	DeleteLocal bool
	Logger      *zap.Logger
}

// Shipper uploads closed output files to a BlobStore from one background
// goroutine. Failed uploads leave the local file in place.
type Shipper struct {
	cfg    ShipperConfig
	store  crawler.BlobStore
	logger *zap.Logger

	files chan string
	done  chan struct{}

	mu     sync.Mutex
	closed bool
}

// NewShipper starts the upload worker.
func NewShipper(cfg ShipperConfig, store crawler.BlobStore) *Shipper {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = defaultShipQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Shipper{
		cfg:    cfg,
		store:  store,
		logger: logger.Named("shipper"),
		files:  make(chan string, cfg.QueueSize),
		done:   make(chan struct{}),
	}
	go s.run()
	return s
}

// Enqueue schedules a closed file for upload. It never blocks; when the queue
// is full the file stays on disk and a warning is logged.
func (s *Shipper) Enqueue(localPath string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.logger.Warn("shipper closed, file kept locally", zap.String("path", localPath))
		return
	}
	select {
	case s.files <- localPath:
	default:
		s.logger.Warn("upload queue full, file kept locally", zap.String("path", localPath))
	}
}

// Close uploads what is queued and stops the worker.
func (s *Shipper) Close(ctx context.Context) error {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.files)
	}
	s.mu.Unlock()
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("shipper close wait: %w", ctx.Err())
	}
}

func (s *Shipper) run() {
	defer close(s.done)
	for p := range s.files {
		if err := s.ship(context.Background(), p); err != nil {
			s.logger.Warn("upload failed, file kept locally", zap.String("path", p), zap.Error(err))
		}
	}
}

func (s *Shipper) ship(ctx context.Context, localPath string) error {
	//nolint:gosec // paths come from our own rotation
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open %s: %w", localPath, err)
	}
	defer func() { _ = f.Close() }()

	key := path.Join(strings.Trim(s.cfg.Prefix, "/"), filepath.Base(localPath))
	uri, err := s.store.PutObject(ctx, key, contentTypeFor(localPath), f)
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	s.logger.Info("file shipped", zap.String("path", localPath), zap.String("uri", uri))
	if s.cfg.DeleteLocal {
		if err := os.Remove(localPath); err != nil {
			return fmt.Errorf("remove shipped file: %w", err)
		}
	}
	return nil
}

func contentTypeFor(name string) string {
	switch {
	case strings.HasSuffix(name, ".warc.gz"):
		return "application/warc"
	case strings.HasSuffix(name, ".jsonl"):
		return "application/x-ndjson"
	default:
		return "application/octet-stream"
	}
}
