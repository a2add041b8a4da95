package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/pkg/model"
)

const reservationExpiryKey = "reservations:expiry"

func reservationKey(quoteID string) string { return "reservation:" + quoteID }

func reservedUnitsKey(resourceType string) string {
	return "inventory:reserved:" + strings.ToUpper(resourceType)
}

// Reserve records an active reservation and bumps the resource's reserved-unit counter.
func (s *HybridStore) Reserve(ctx context.Context, r model.Reservation) error {
	if r.Units <= 0 {
		return fmt.Errorf("reserve %s: units must be positive", r.QuoteID)
	}
	r.Status = model.ReservationActive

	added, err := s.redis.ZAddNX(ctx, reservationExpiryKey, redis.Z{
		Score:  float64(r.ExpiresAt.Unix()),
		Member: r.QuoteID,
	}).Result()
	if err != nil {
		return fmt.Errorf("reserve %s: %w", r.QuoteID, err)
	}
	if added == 0 {
		// already reserved; keep the counter consistent
		return nil
	}

	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.IncrBy(ctx, reservedUnitsKey(r.ResourceType), int64(r.Units))
		if err := setJSONPipe(ctx, p, reservationKey(r.QuoteID), r); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		s.logger.Error("store.redis.reserve_failed", zap.String("quote_id", r.QuoteID), zap.Error(err))
		return fmt.Errorf("reserve %s: %w", r.QuoteID, err)
	}

	if s.PG != nil {
		_, err = s.PG.Exec(ctx, `
			INSERT INTO market.reservation (quote_id, resource_type, units, expires_at, status)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (quote_id) DO NOTHING
		`, r.QuoteID, r.ResourceType, r.Units, r.ExpiresAt, string(r.Status))
		if err != nil {
			s.logger.Error("store.pg.insert_reservation_failed", zap.String("quote_id", r.QuoteID), zap.Error(err))
			return fmt.Errorf("insert reservation %s: %w", r.QuoteID, err)
		}
	}
	return nil
}

// ReservedUnits returns the number of units currently held for resourceType.
func (s *HybridStore) ReservedUnits(ctx context.Context, resourceType string) (int, error) {
	n, err := s.redis.Get(ctx, reservedUnitsKey(resourceType)).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("reserved units %s: %w", resourceType, err)
	}
	if n < 0 {
		return 0, nil
	}
	return n, nil
}

// ExpiredReservations returns up to limit reservations whose expiry is at or before now.
func (s *HybridStore) ExpiredReservations(ctx context.Context, now time.Time, limit int) ([]model.Reservation, error) {
	if limit <= 0 {
		limit = 100
	}
	ids, err := s.redis.ZRangeByScore(ctx, reservationExpiryKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%d", now.Unix()),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("expired reservations: %w", err)
	}

	out := make([]model.Reservation, 0, len(ids))
	for _, id := range ids {
		var r model.Reservation
		if err := s.GetJSON(ctx, reservationKey(id), &r); err != nil {
			if errors.Is(err, ErrNotFound) {
				s.redis.ZRem(ctx, reservationExpiryKey, id)
				continue
			}
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

// ReleaseReservation marks a reservation expired and returns its units to the pool.
// It reports false when the reservation was already released.
func (s *HybridStore) ReleaseReservation(ctx context.Context, quoteID string) (bool, error) {
	removed, err := s.redis.ZRem(ctx, reservationExpiryKey, quoteID).Result()
	if err != nil {
		return false, fmt.Errorf("release %s: %w", quoteID, err)
	}
	if removed == 0 {
		return false, nil
	}

	var r model.Reservation
	if err := s.GetJSON(ctx, reservationKey(quoteID), &r); err != nil {
		return false, fmt.Errorf("release %s: %w", quoteID, err)
	}
	r.Status = model.ReservationExpired

	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.DecrBy(ctx, reservedUnitsKey(r.ResourceType), int64(r.Units))
		return setJSONPipe(ctx, p, reservationKey(quoteID), r)
	})
	if err != nil {
		s.logger.Error("store.redis.release_failed", zap.String("quote_id", quoteID), zap.Error(err))
		return false, fmt.Errorf("release %s: %w", quoteID, err)
	}

	if s.PG != nil {
		if _, err := s.PG.Exec(ctx, `
			UPDATE market.reservation SET status = $2 WHERE quote_id = $1
		`, quoteID, string(model.ReservationExpired)); err != nil {
			s.logger.Warn("store.pg.release_reservation_failed", zap.String("quote_id", quoteID), zap.Error(err))
		}
	}
	return true, nil
}

// GetReservation returns the reservation for a quote, active or expired.
func (s *HybridStore) GetReservation(ctx context.Context, quoteID string) (*model.Reservation, error) {
	var r model.Reservation
	if err := s.GetJSON(ctx, reservationKey(quoteID), &r); err != nil {
		return nil, err
	}
	return &r, nil
}
