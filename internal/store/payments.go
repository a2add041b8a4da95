package store

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/Checker-Finance/compute-market/pkg/model"
)

func transactionsKey(quoteID string) string { return "quote:" + quoteID + ":txns" }

// SaveTransaction appends a payment transaction to the quote's ledger.
func (s *HybridStore) SaveTransaction(ctx context.Context, tx model.Transaction) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("marshal transaction %s: %w", tx.ID, err)
	}
	if err := s.redis.RPush(ctx, transactionsKey(tx.QuoteID), data).Err(); err != nil {
		s.logger.Error("store.redis.save_transaction_failed", zap.String("quote_id", tx.QuoteID), zap.Error(err))
		return fmt.Errorf("save transaction %s: %w", tx.ID, err)
	}

	if s.PG == nil {
		return nil
	}
	_, err = s.PG.Exec(ctx, `
		INSERT INTO market.transaction (
			id, quote_id, provider, provider_id, amount, status, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, tx.ID, tx.QuoteID, tx.Provider, tx.ProviderID, tx.Amount, string(tx.Status), tx.CreatedAt)
	if err != nil {
		s.logger.Error("store.pg.insert_transaction_failed", zap.String("quote_id", tx.QuoteID), zap.Error(err))
		return fmt.Errorf("insert transaction %s: %w", tx.ID, err)
	}
	return nil
}

// ListTransactions returns the quote's transactions in insertion order.
func (s *HybridStore) ListTransactions(ctx context.Context, quoteID string) ([]model.Transaction, error) {
	raw, err := s.redis.LRange(ctx, transactionsKey(quoteID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list transactions %s: %w", quoteID, err)
	}
	if len(raw) == 0 && s.PG != nil {
		return s.listTransactionsPG(ctx, quoteID)
	}

	out := make([]model.Transaction, 0, len(raw))
	for _, r := range raw {
		var tx model.Transaction
		if err := json.Unmarshal([]byte(r), &tx); err != nil {
			return nil, fmt.Errorf("decode transaction for %s: %w", quoteID, err)
		}
		out = append(out, tx)
	}
	return out, nil
}

func (s *HybridStore) listTransactionsPG(ctx context.Context, quoteID string) ([]model.Transaction, error) {
	rows, err := s.PG.Query(ctx, `
		SELECT id, quote_id, provider, provider_id, amount, status, created_at
		FROM market.transaction
		WHERE quote_id = $1
		ORDER BY created_at
	`, quoteID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Transaction
	for rows.Next() {
		var (
			tx     model.Transaction
			status string
		)
		if err := rows.Scan(&tx.ID, &tx.QuoteID, &tx.Provider, &tx.ProviderID, &tx.Amount, &status, &tx.CreatedAt); err != nil {
			return nil, err
		}
		tx.Status = model.TransactionStatus(status)
		out = append(out, tx)
	}
	return out, rows.Err()
}
