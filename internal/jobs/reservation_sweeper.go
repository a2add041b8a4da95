package jobs

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/internal/audit"
	"github.com/Checker-Finance/compute-market/internal/metrics"
	"github.com/Checker-Finance/compute-market/pkg/model"
)

const sweepBatch = 100

// ReservationStore is the subset of *store.HybridStore the sweeper needs.
type ReservationStore interface {
	ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error)
	ReleaseReservation(ctx context.Context, quoteID string) (bool, error)
}

// ReservationSweeper periodically releases reservations past their expiry
// and emits a reservation.expired event for each one.
type ReservationSweeper struct {
	logger   *zap.Logger
	store    ReservationStore
	sink     audit.Sink
	interval time.Duration
	now      func() time.Time
	stopCh   chan struct{}
}

func NewReservationSweeper(logger *zap.Logger, st ReservationStore, sink audit.Sink, interval time.Duration) *ReservationSweeper {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &ReservationSweeper{
		logger:   logger,
		store:    st,
		sink:     sink,
		interval: interval,
		now:      func() time.Time { return time.Now().UTC() },
		stopCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is done or Stop is called.
func (r *ReservationSweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("reservation_sweeper.started", zap.Duration("interval", r.interval))

	for {
		select {
		case <-ticker.C:
			r.RunOnce(ctx)
		case <-r.stopCh:
			r.logger.Info("reservation_sweeper.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.logger.Info("reservation_sweeper.stopped (context canceled)")
			return
		}
	}
}

func (r *ReservationSweeper) Stop() {
	close(r.stopCh)
}

// RunOnce releases every reservation expired at the current time and
// returns how many were released.
func (r *ReservationSweeper) RunOnce(ctx context.Context) int {
	start := time.Now()
	now := r.now()
	released := 0

	for {
		batch, err := r.store.ExpiredReservations(ctx, now, sweepBatch)
		if err != nil {
			metrics.IncError("reservation_sweeper", "list_failed")
			r.logger.Error("reservation_sweeper.list_failed", zap.Error(err))
			return released
		}
		if len(batch) == 0 {
			break
		}

		progressed := false
		for _, res := range batch {
			ok, err := r.store.ReleaseReservation(ctx, res.QuoteID)
			if err != nil {
				metrics.IncError("reservation_sweeper", "release_failed")
				r.logger.Warn("reservation_sweeper.release_failed",
					zap.String("quote_id", res.QuoteID),
					zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			progressed = true
			released++
			metrics.ReservationsExpired.Inc()

			audit.Emit(ctx, r.sink, r.logger, model.Event{
				Type:      model.EventReservationExpired,
				QuoteID:   res.QuoteID,
				Timestamp: now,
				Data: map[string]any{
					"resource_type": res.ResourceType,
					"units":         res.Units,
					"expired_at":    res.ExpiresAt,
				},
			})
		}
		if !progressed || len(batch) < sweepBatch {
			break
		}
	}

	metrics.SetLastJobRun("reservation_sweeper", time.Now())
	r.logger.Info("reservation_sweeper.success",
		zap.Int("released", released),
		zap.Duration("duration", time.Since(start)))
	return released
}
