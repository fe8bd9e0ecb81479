package history

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/snsanalyzer/snsqa/internal/observability"
	"github.com/snsanalyzer/snsqa/internal/storage"
)

type ArchiverConfig struct {
	Store         storage.ObjectStore
	BatchSize     int
	FlushInterval time.Duration

	// MaxPending bounds the entries kept while the store is failing. The
	// oldest entries are dropped first.
	MaxPending int
	Logger     *slog.Logger
}

type Archiver struct {
	store         storage.ObjectStore
	batchSize     int
	flushInterval time.Duration
	maxPending    int
	logger        *slog.Logger
	now           func() time.Time

	mu       sync.Mutex
	pending  []Entry
	sequence int
	wake     chan struct{}
}

var _ Sink = (*Archiver)(nil)

func NewArchiver(cfg ArchiverConfig) (*Archiver, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("object store is required")
	}
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	interval := cfg.FlushInterval
	if interval <= 0 {
		interval = time.Minute
	}
	maxPending := cfg.MaxPending
	if maxPending <= 0 {
		maxPending = batchSize * 10
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Archiver{
		store:         cfg.Store,
		batchSize:     batchSize,
		flushInterval: interval,
		maxPending:    maxPending,
		logger:        logger,
		now:           func() time.Time { return time.Now().UTC() },
		wake:          make(chan struct{}, 1),
	}, nil
}

func (a *Archiver) Enqueue(entry Entry) {
	a.mu.Lock()
	a.pending = append(a.pending, entry)
	if overflow := len(a.pending) - a.maxPending; overflow > 0 {
		a.pending = a.pending[overflow:]
	}
	ready := len(a.pending) >= a.batchSize
	a.mu.Unlock()

	if ready {
		select {
		case a.wake <- struct{}{}:
		default:
		}
	}
}

// Run flushes on every interval tick and whenever a full batch is pending.
// Pending entries are flushed once more when ctx is done.
func (a *Archiver) Run(ctx context.Context) error {
	ticker := time.NewTicker(a.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if _, err := a.Flush(flushCtx); err != nil {
				a.logger.Warn("final history flush failed", "error", err)
			}
			return nil
		case <-ticker.C:
		case <-a.wake:
		}
		if _, err := a.Flush(ctx); err != nil {
			a.logger.Warn("history flush failed", "error", err)
		}
	}
}

// Flush writes the pending entries as parquet parts, one per UTC day of
// CreatedAt, and returns the keys written. Entries whose part could not be
// written are kept pending.
func (a *Archiver) Flush(ctx context.Context) ([]string, error) {
	a.mu.Lock()
	batch := a.pending
	a.pending = nil
	sequence := a.sequence
	a.sequence++
	a.mu.Unlock()

	if len(batch) == 0 {
		return nil, nil
	}
	flushedAt := a.now()
	var (
		keys   []string
		failed []Entry
		errs   []error
	)
	for _, day := range splitByDay(batch, flushedAt) {
		key, err := a.write(ctx, day.date, flushedAt, day.entries, sequence)
		if err != nil {
			failed = append(failed, day.entries...)
			errs = append(errs, err)
			continue
		}
		keys = append(keys, key)
		a.logger.Debug("history part archived", "key", key, "entries", len(day.entries))
	}
	err := errors.Join(errs...)
	observability.ObserveHistoryFlush(len(batch)-len(failed), err)
	if len(failed) > 0 {
		a.mu.Lock()
		a.pending = append(failed, a.pending...)
		if overflow := len(a.pending) - a.maxPending; overflow > 0 {
			a.pending = a.pending[overflow:]
		}
		a.mu.Unlock()
	}
	return keys, err
}

type dayBatch struct {
	date    time.Time
	entries []Entry
}

// splitByDay groups entries by the UTC day they were recorded, oldest day
// first. An entry without CreatedAt belongs to the flush day.
func splitByDay(batch []Entry, flushedAt time.Time) []dayBatch {
	var days []dayBatch
	index := map[string]int{}
	for _, entry := range batch {
		recorded := entry.CreatedAt
		if recorded.IsZero() {
			recorded = flushedAt
		}
		recorded = recorded.UTC()
		date := time.Date(recorded.Year(), recorded.Month(), recorded.Day(), 0, 0, 0, 0, time.UTC)
		key := date.Format(time.DateOnly)
		i, ok := index[key]
		if !ok {
			i = len(days)
			index[key] = i
			days = append(days, dayBatch{date: date})
		}
		days[i].entries = append(days[i].entries, entry)
	}
	slices.SortFunc(days, func(a, b dayBatch) int { return a.date.Compare(b.date) })
	return days
}

func (a *Archiver) write(ctx context.Context, day, flushedAt time.Time, batch []Entry, sequence int) (string, error) {
	data, err := EncodeEntries(batch)
	if err != nil {
		return "", err
	}
	key, err := storage.BuildHistoryPartPath(day, flushedAt, sequence)
	if err != nil {
		return "", err
	}
	if _, err := a.store.Put(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: "application/octet-stream"}); err != nil {
		return "", fmt.Errorf("put history part: %w", err)
	}
	return key, nil
}

func (a *Archiver) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}
