package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/apicrawler/internal/crawler"
	"github.com/JakeFAU/apicrawler/internal/metrics"
)

// ErrClosed is returned when adding to a closed pipeline stage.
var ErrClosed = errors.New("pipeline stage closed")

// BatcherConfig controls buffering and batching for a Batcher.
//   - Name: sink label used in logs, metrics and backup file names.
//   - BufferSize: capacity of the intake channel (default 4096).
//   - BatchSize: deliver once this many items are queued (default 1000).
//   - FlushInterval: deliver a partial batch after this long; zero disables it.
//   - SinkTimeout: timeout for one delivery attempt (default 30s).
//   - RateLogInterval: period of the throughput log line; zero disables it.
type BatcherConfig struct {
	Name            string
	BufferSize      int
	BatchSize       int
	FlushInterval   time.Duration
	SinkTimeout     time.Duration
	RateLogInterval time.Duration
	Logger          *zap.Logger
	Metrics         *metrics.Metrics
	Now             func() time.Time
}

const (
	defaultBufferSize  = 4096
	defaultBatchSize   = 1000
	defaultSinkTimeout = 30 * time.Second
)

// DeliverFunc sends one batch downstream.
type DeliverFunc[T any] func(ctx context.Context, batch []T) error

// BackupStore receives batches the downstream refused.
type BackupStore interface {
	Append(record []byte) error
	Close() error
}

// backupRecord is one line of a backup file.
type backupRecord[T any] struct {
	WrittenAt string `json:"written_at"`
	Count     int    `json:"count"`
	Items     []T    `json:"items"`
}

// Batcher owns one sink's intake queue and drain loop. Items are grouped into
// count-bounded batches and delivered in intake order; a failed delivery sends
// the whole batch to the backup store instead.
type Batcher[T any] struct {
	cfg     BatcherConfig
	deliver DeliverFunc[T]
	backup  BackupStore
	logger  *zap.Logger

	items  chan T
	stopCh chan struct{}
	doneCh chan struct{}

	sendMu    sync.RWMutex
	closed    bool
	closeOnce sync.Once

	batches   int
	backedUp  int
	delivered int
}

// NewBatcher starts the drain loop.
func NewBatcher[T any](cfg BatcherConfig, deliver DeliverFunc[T], backup BackupStore) *Batcher[T] {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = defaultBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	if cfg.SinkTimeout <= 0 {
		cfg.SinkTimeout = defaultSinkTimeout
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Batcher[T]{
		cfg:     cfg,
		deliver: deliver,
		backup:  backup,
		logger:  logger.Named(cfg.Name).With(zap.String("sink", cfg.Name)),
		items:   make(chan T, cfg.BufferSize),
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
	go b.run()
	return b
}

// Add queues items, blocking while the intake channel is full.
func (b *Batcher[T]) Add(ctx context.Context, items ...T) error {
	b.sendMu.RLock()
	defer b.sendMu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, item := range items {
		select {
		case b.items <- item:
		case <-ctx.Done():
			return fmt.Errorf("%s intake canceled: %w", b.cfg.Name, ctx.Err())
		}
	}
	b.cfg.Metrics.AddItems(b.cfg.Name, len(items))
	return nil
}

// Close stops intake, flushes what is queued through the normal delivery path
// and closes the backup store.
func (b *Batcher[T]) Close(ctx context.Context) error {
	b.closeOnce.Do(func() {
		b.sendMu.Lock()
		b.closed = true
		b.sendMu.Unlock()
		close(b.stopCh)
	})
	select {
	case <-b.doneCh:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%s close wait: %w", b.cfg.Name, ctx.Err())
	}
}

func (b *Batcher[T]) run() {
	defer close(b.doneCh)
	batch := make([]T, 0, min(b.cfg.BatchSize, defaultBufferSize))
	timer := time.NewTimer(time.Hour)
	stopTimer(timer)
	timerActive := false

	var rateC <-chan time.Time
	if b.cfg.RateLogInterval > 0 {
		ticker := time.NewTicker(b.cfg.RateLogInterval)
		defer ticker.Stop()
		rateC = ticker.C
	}

	for {
		select {
		case item := <-b.items:
			batch = append(batch, item)
			if len(batch) >= b.cfg.BatchSize {
				b.flush(batch)
				batch = batch[:0]
				if timerActive {
					stopTimer(timer)
					timerActive = false
				}
			} else if !timerActive && b.cfg.FlushInterval > 0 {
				timer.Reset(b.cfg.FlushInterval)
				timerActive = true
			}
		case <-timer.C:
			timerActive = false
			if len(batch) > 0 {
				b.flush(batch)
				batch = batch[:0]
			}
		case <-rateC:
			b.logRate()
		case <-b.stopCh:
			if timerActive {
				stopTimer(timer)
			}
			b.handleStop(batch)
			return
		}
	}
}

func (b *Batcher[T]) handleStop(batch []T) {
	for {
		select {
		case item := <-b.items:
			batch = append(batch, item)
			if len(batch) >= b.cfg.BatchSize {
				b.flush(batch)
				batch = batch[:0]
			}
		default:
			if len(batch) > 0 {
				b.flush(batch)
			}
			b.logRate()
			if b.backup != nil {
				if err := b.backup.Close(); err != nil {
					b.logger.Warn("close backup file failed", zap.Error(err))
				}
			}
			return
		}
	}
}

func (b *Batcher[T]) flush(batch []T) {
	if len(batch) == 0 {
		return
	}
	copyBatch := append([]T(nil), batch...)
	b.batches++
	ctx, cancel := context.WithTimeout(context.Background(), b.cfg.SinkTimeout)
	err := b.deliver(ctx, copyBatch)
	cancel()
	if err == nil {
		b.delivered++
		b.cfg.Metrics.ObserveBatch(b.cfg.Name, "delivered")
		return
	}
	b.logger.Warn("batch delivery failed, writing backup",
		zap.Int("items", len(copyBatch)),
		zap.Error(fmt.Errorf("%w: %w", crawler.ErrSinkUnavailable, err)))
	if berr := b.writeBackup(copyBatch); berr != nil {
		b.cfg.Metrics.ObserveBatch(b.cfg.Name, "lost")
		b.logger.Error("batch lost", zap.Int("items", len(copyBatch)), zap.Error(berr))
		return
	}
	b.backedUp++
	b.cfg.Metrics.ObserveBatch(b.cfg.Name, "backed_up")
}

func (b *Batcher[T]) writeBackup(batch []T) error {
	if b.backup == nil {
		return errors.New("no backup store configured")
	}
	record, err := json.Marshal(backupRecord[T]{
		WrittenAt: b.cfg.Now().UTC().Format(time.RFC3339),
		Count:     len(batch),
		Items:     batch,
	})
	if err != nil {
		return fmt.Errorf("encode backup record: %w", err)
	}
	if err := b.backup.Append(record); err != nil {
		return fmt.Errorf("write backup record: %w", err)
	}
	return nil
}

func (b *Batcher[T]) logRate() {
	if b.batches == 0 {
		return
	}
	b.logger.Info("batches processed",
		zap.Int("batches", b.batches),
		zap.Int("delivered", b.delivered),
		zap.Int("backed_up", b.backedUp))
	b.batches, b.delivered, b.backedUp = 0, 0, 0
}

func stopTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
}
