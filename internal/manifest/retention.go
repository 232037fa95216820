package manifest

import (
	"context"
	"time"

	"github.com/cuemby/logship/internal/catalog"
	"github.com/cuemby/logship/pkg/log"
	"github.com/cuemby/logship/pkg/metrics"
)

// RetentionSweeper periodically scans every stream's manifests for
// expired artifacts, deletes their object-store keys, and republishes
// a manifest version that omits them.
type RetentionSweeper struct {
	catalog   *catalog.Catalog
	publisher *Publisher
	deleter   func(ctx context.Context, key string) error

	interval time.Duration
	stopCh   chan struct{}
}

// NewRetentionSweeper constructs a sweeper. deleteFn is injected
// rather than taking an objstore.Backend directly so tests can assert
// on exactly which keys were deleted without a real backend.
func NewRetentionSweeper(cat *catalog.Catalog, pub *Publisher, interval time.Duration, deleteFn func(ctx context.Context, key string) error) *RetentionSweeper {
	return &RetentionSweeper{
		catalog:   cat,
		publisher: pub,
		deleter:   deleteFn,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// Start launches the periodic retention sweep.
func (r *RetentionSweeper) Start() {
	go r.run()
}

// Stop halts the sweep loop.
func (r *RetentionSweeper) Stop() {
	close(r.stopCh)
}

func (r *RetentionSweeper) run() {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.sweepOnce(context.Background())
		}
	}
}

func (r *RetentionSweeper) sweepOnce(ctx context.Context) {
	logger := log.WithComponent("retention")
	for _, cfg := range r.catalog.List() {
		if cfg.Retention.Days <= 0 {
			continue
		}
		cutoff := time.Now().Add(-time.Duration(cfg.Retention.Days) * 24 * time.Hour)
		if err := r.sweepStream(ctx, cfg.Name, cutoff); err != nil {
			logger.Error().Err(err).Str("stream", cfg.Name).Msg("retention sweep failed")
		}
	}
}

// sweepStream removes expired entries across every date partition the
// stream's manifest currently spans by delegating to ExpireDate, which
// discovers the dates through the publisher's ListDates.
func (r *RetentionSweeper) sweepStream(ctx context.Context, stream string, cutoff time.Time) error {
	return r.ExpireDate(ctx, stream, cutoff)
}

// ExpireDate removes every entry in stream's manifest whose MaxTS
// precedes cutoff for every date partition reachable from the
// publisher's current listing, deleting their artifact and index
// keys, then republishing manifests that omit them.
func (r *RetentionSweeper) ExpireDate(ctx context.Context, stream string, cutoff time.Time) error {
	dates, err := r.publisher.ListDates(ctx, stream)
	if err != nil {
		return err
	}

	for _, date := range dates {
		_, m, found, err := r.publisher.latestVersion(ctx, stream, date)
		if err != nil || !found {
			continue
		}
		kept, removed := m.WithoutExpired(cutoff)
		if len(removed) == 0 {
			continue
		}

		for _, e := range removed {
			if err := r.deleter(ctx, e.Key); err != nil {
				log.WithStream(stream).Warn().Err(err).Str("key", e.Key).Msg("failed to delete expired artifact")
				continue
			}
			if err := r.deleter(ctx, e.IndexKey); err != nil {
				log.WithStream(stream).Warn().Err(err).Str("key", e.IndexKey).Msg("failed to delete expired index")
			}
		}

		if err := r.publisher.publishReplacement(ctx, stream, date, kept); err != nil {
			return err
		}
		metrics.RetentionDeletedArtifactsTotal.WithLabelValues(stream).Add(float64(len(removed)))
	}
	return nil
}
