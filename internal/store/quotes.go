package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/pkg/model"
)

const recentQuotesKey = "quotes:recent"

func quoteKey(id string) string { return "quote:" + id }

// SaveQuote upserts the quote into market.quote when Postgres is configured,
// then writes it to Redis. A Postgres failure leaves the cached copy untouched,
// so Redis never holds a version the durable store rejected.
func (s *HybridStore) SaveQuote(ctx context.Context, q *model.Quote) error {
	if q == nil || q.ID == "" {
		return fmt.Errorf("save quote: missing id")
	}
	data, err := json.Marshal(q)
	if err != nil {
		return fmt.Errorf("marshal quote %s: %w", q.ID, err)
	}

	if s.PG != nil {
		if err := s.upsertQuotePG(ctx, q); err != nil {
			return err
		}
	}

	_, err = s.redis.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, quoteKey(q.ID), data, s.QuoteTTL)
		p.ZAdd(ctx, recentQuotesKey, redis.Z{Score: float64(q.CreatedAt.UnixMilli()), Member: q.ID})
		return nil
	})
	if err != nil {
		s.logger.Error("store.redis.save_quote_failed", zap.String("quote_id", q.ID), zap.Error(err))
		// the cached copy may now be older than Postgres; drop it so reads fall through
		if s.PG != nil {
			s.redis.Del(ctx, quoteKey(q.ID))
		}
		return fmt.Errorf("save quote %s: %w", q.ID, err)
	}
	return nil
}

func (s *HybridStore) upsertQuotePG(ctx context.Context, q *model.Quote) error {
	logJSON, err := json.Marshal(q.NegotiationLog)
	if err != nil {
		return fmt.Errorf("marshal negotiation log %s: %w", q.ID, err)
	}
	_, err = s.PG.Exec(ctx, `
		INSERT INTO market.quote (
			id, buyer_id, resource_type, duration_hours,
			price, buyer_max_price, status, negotiation_log,
			created_at, updated_at, finalized_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id)
		DO UPDATE SET
			price = EXCLUDED.price,
			status = EXCLUDED.status,
			negotiation_log = EXCLUDED.negotiation_log,
			updated_at = EXCLUDED.updated_at,
			finalized_at = EXCLUDED.finalized_at;
	`, q.ID, q.BuyerID, q.ResourceType, q.DurationHours,
		decimal.NullDecimal{Decimal: derefDecimal(q.Price), Valid: q.Price != nil},
		q.BuyerMaxPrice, string(q.Status), logJSON,
		q.CreatedAt, q.UpdatedAt, q.FinalizedAt)
	if err != nil {
		s.logger.Error("store.pg.upsert_quote_failed", zap.String("quote_id", q.ID), zap.Error(err))
		return fmt.Errorf("upsert quote %s: %w", q.ID, err)
	}
	return nil
}

// GetQuote reads Redis first, then Postgres, re-caching Postgres hits.
func (s *HybridStore) GetQuote(ctx context.Context, id string) (*model.Quote, error) {
	var q model.Quote
	err := s.GetJSON(ctx, quoteKey(id), &q)
	if err == nil {
		return &q, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("get quote %s: %w", id, err)
	}
	if s.PG == nil {
		return nil, ErrNotFound
	}

	pq, err := s.getQuotePG(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.SetJSON(ctx, quoteKey(id), pq, s.QuoteTTL); err != nil {
		s.logger.Warn("store.redis.recache_quote_failed", zap.String("quote_id", id), zap.Error(err))
	}
	return pq, nil
}

func (s *HybridStore) getQuotePG(ctx context.Context, id string) (*model.Quote, error) {
	row := s.PG.QueryRow(ctx, `
		SELECT id, buyer_id, resource_type, duration_hours,
			price, buyer_max_price, status, negotiation_log,
			created_at, updated_at, finalized_at
		FROM market.quote
		WHERE id = $1
	`, id)

	q, err := scanQuote(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get quote %s scan failed: %w", id, err)
	}
	return q, nil
}

// RecentQuotes returns up to limit quotes, newest first.
func (s *HybridStore) RecentQuotes(ctx context.Context, limit int) ([]model.Quote, error) {
	if limit <= 0 {
		limit = 20
	}
	if s.PG != nil {
		return s.recentQuotesPG(ctx, limit)
	}

	ids, err := s.redis.ZRevRange(ctx, recentQuotesKey, 0, int64(limit-1)).Result()
	if err != nil {
		return nil, fmt.Errorf("recent quotes: %w", err)
	}
	out := make([]model.Quote, 0, len(ids))
	for _, id := range ids {
		var q model.Quote
		if err := s.GetJSON(ctx, quoteKey(id), &q); err != nil {
			if errors.Is(err, ErrNotFound) {
				// expired from cache; drop the stale index entry
				s.redis.ZRem(ctx, recentQuotesKey, id)
				continue
			}
			return nil, err
		}
		out = append(out, q)
	}
	return out, nil
}

func (s *HybridStore) recentQuotesPG(ctx context.Context, limit int) ([]model.Quote, error) {
	rows, err := s.PG.Query(ctx, `
		SELECT id, buyer_id, resource_type, duration_hours,
			price, buyer_max_price, status, negotiation_log,
			created_at, updated_at, finalized_at
		FROM market.quote
		ORDER BY created_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Quote
	for rows.Next() {
		q, err := scanQuote(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

func scanQuote(row pgx.Row) (*model.Quote, error) {
	var (
		q      model.Quote
		price  decimal.NullDecimal
		status string
		logRaw []byte
	)
	if err := row.Scan(&q.ID, &q.BuyerID, &q.ResourceType, &q.DurationHours,
		&price, &q.BuyerMaxPrice, &status, &logRaw,
		&q.CreatedAt, &q.UpdatedAt, &q.FinalizedAt); err != nil {
		return nil, err
	}
	if price.Valid {
		q.Price = model.DecimalPtr(price.Decimal)
	}
	q.Status = model.QuoteStatus(status)
	if len(logRaw) > 0 {
		if err := json.Unmarshal(logRaw, &q.NegotiationLog); err != nil {
			return nil, fmt.Errorf("decode negotiation log: %w", err)
		}
	}
	return &q, nil
}

func derefDecimal(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}
