package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/apicrawler/internal/crawler"
	"github.com/JakeFAU/apicrawler/internal/metrics"
)

const archiveKind = "archive"

// ArchiveConfig controls the archive stage.
type ArchiveConfig struct {
	Dir             string
	Prefix          string
	MaxBytes        int64
	BufferSize      int
	Hostname        string
	Software        string
	RateLogInterval time.Duration
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	Now             func() time.Time
	// OnRotate receives each archive file after it is closed.
	OnRotate func(path string)
}

// Archiver appends every response it receives to a rolling WARC file. One
// goroutine owns the writer, so records land in arrival order.
type Archiver struct {
	cfg    ArchiveConfig
	writer crawler.ArchiveWriter
	logger *zap.Logger

	envs   chan *crawler.ResponseEnvelope
	stopCh chan struct{}
	doneCh chan struct{}

	sendMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once

	pathMu     sync.RWMutex
	path       string
	warcinfoID string

	written int
}

// NewArchiver opens the first archive file and starts the writer loop.
func NewArchiver(cfg ArchiveConfig, writer crawler.ArchiveWriter) (*Archiver, error) {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "apicrawler"
	}
	if cfg.Software == "" {
		cfg.Software = "apicrawler"
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Archiver{
		cfg:    cfg,
		writer: writer,
		logger: logger.Named(archiveKind),
		envs:   make(chan *crawler.ResponseEnvelope, cfg.BufferSize),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	if err := a.openFile(); err != nil {
		return nil, err
	}
	go a.run()
	return a, nil
}

// Add queues one response, blocking while the intake channel is full.
func (a *Archiver) Add(ctx context.Context, env *crawler.ResponseEnvelope) error {
	a.sendMu.RLock()
	defer a.sendMu.RUnlock()
	if a.closed {
		return ErrClosed
	}
	select {
	case a.envs <- env:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("archive intake canceled: %w", ctx.Err())
	}
}

// Path returns the archive file currently being written.
func (a *Archiver) Path() string {
	a.pathMu.RLock()
	defer a.pathMu.RUnlock()
	return a.path
}

// Close writes what is queued and closes the current file.
func (a *Archiver) Close(ctx context.Context) error {
	a.closeOnce.Do(func() {
		a.sendMu.Lock()
		a.closed = true
		a.sendMu.Unlock()
		close(a.stopCh)
	})
	select {
	case <-a.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("archive close wait: %w", ctx.Err())
	}
}

func (a *Archiver) run() {
	defer close(a.doneCh)
	var rateC <-chan time.Time
	if a.cfg.RateLogInterval > 0 {
		ticker := time.NewTicker(a.cfg.RateLogInterval)
		defer ticker.Stop()
		rateC = ticker.C
	}
	for {
		select {
		case env := <-a.envs:
			a.write(env)
		case <-rateC:
			a.logRate()
		case <-a.stopCh:
			for {
				select {
				case env := <-a.envs:
					a.write(env)
				default:
					a.logRate()
					a.closeFile()
					return
				}
			}
		}
	}
}

func (a *Archiver) write(env *crawler.ResponseEnvelope) {
	if env == nil {
		return
	}
	if a.cfg.MaxBytes > 0 && a.writer.Tell() > a.cfg.MaxBytes {
		a.closeFile()
		a.cfg.Metrics.FileRotated(archiveKind)
		if err := a.openFile(); err != nil {
			a.logger.Error("open archive file failed", zap.Error(err))
			return
		}
	}
	if a.Path() == "" {
		if err := a.openFile(); err != nil {
			a.logger.Error("open archive file failed", zap.Error(err))
			return
		}
	}
	headers := map[string]string{
		"WARC-Warcinfo-ID":             a.warcinfoID,
		"WARC-Target-URI":              env.Meta.RequestURL,
		"Content-Type":                 "application/json",
		"WARC-Identified-Payload-Type": "application/json",
	}
	if _, err := a.writer.WriteRecord("response", headers, responseBlock(env)); err != nil {
		a.logger.Error("write archive record failed",
			zap.String("url", env.Meta.RequestURL),
			zap.Error(err))
		return
	}
	a.written++
}

// responseBlock is the record payload: a minimal status line and length
// header ahead of the raw body.
func responseBlock(env *crawler.ResponseEnvelope) []byte {
	code := env.StatusCode
	if code == 0 {
		code = http.StatusOK
	}
	head := fmt.Sprintf(" %d %s\r\nContent-length: %d\r\n\r\n", code, http.StatusText(code), len(env.Raw))
	block := make([]byte, 0, len(head)+len(env.Raw))
	block = append(block, head...)
	return append(block, env.Raw...)
}

func (a *Archiver) openFile() error {
	path, err := nextFileName(a.cfg.Dir, a.cfg.Prefix, ".warc.gz", a.cfg.Now())
	if err != nil {
		return err
	}
	if err := a.writer.Open(path); err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	payload := fmt.Sprintf("software: %s\r\nhostname: %s\r\n", a.cfg.Software, a.cfg.Hostname)
	id, err := a.writer.WriteRecord("warcinfo", map[string]string{
		"WARC-Filename": filepath.Base(path),
		"Content-Type":  "application/warc-fields",
	}, []byte(payload))
	if err != nil {
		_ = a.writer.Close()
		return fmt.Errorf("write warcinfo: %w", err)
	}
	a.pathMu.Lock()
	a.path = path
	a.warcinfoID = id
	a.pathMu.Unlock()
	a.logger.Info("archive file opened", zap.String("path", path))
	return nil
}

func (a *Archiver) closeFile() {
	closed := a.Path()
	if closed == "" {
		return
	}
	if err := a.writer.Close(); err != nil {
		a.logger.Warn("close archive file failed", zap.String("path", closed), zap.Error(err))
	}
	a.pathMu.Lock()
	a.path = ""
	a.pathMu.Unlock()
	a.logger.Info("archive file closed", zap.String("path", closed))
	if a.cfg.OnRotate != nil {
		a.cfg.OnRotate(closed)
	}
}

func (a *Archiver) logRate() {
	if a.written == 0 {
		return
	}
	a.logger.Info("responses archived", zap.Int("responses", a.written))
	a.written = 0
}
