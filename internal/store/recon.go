package store

import (
	"context"
	"time"

	"swapramp/internal/models"

	"github.com/shopspring/decimal"
)

func (s *Store) InsertReconciliationRecord(ctx context.Context, rec *models.ReconciliationRecord) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO reconciliation_records (
			record_id, period_start, period_end,
			expected_fiat, observed_fiat, fiat_difference,
			expected_crypto, observed_crypto, crypto_difference,
			status, notes, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`,
		rec.RecordID, rec.PeriodStart, rec.PeriodEnd,
		rec.ExpectedFiat, rec.ObservedFiat, rec.FiatDifference,
		rec.ExpectedCrypto, rec.ObservedCrypto, rec.CryptoDifference,
		rec.Status, rec.Notes, rec.CreatedAt,
	)
	return err
}

// SumFiatCaptured totals fiat confirmed within the period.
func (s *Store) SumFiatCaptured(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	return s.sumDecimal(ctx, `
		SELECT COALESCE(SUM(fiat_amount), 0)
		FROM orders
		WHERE fiat_confirmed_at >= $1 AND fiat_confirmed_at < $2
	`, from, to)
}

// SumFiatRefunded totals fiat refunded within the period.
func (s *Store) SumFiatRefunded(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	return s.sumDecimal(ctx, `
		SELECT COALESCE(SUM(fiat_amount), 0)
		FROM orders
		WHERE refunded_at >= $1 AND refunded_at < $2
	`, from, to)
}

// SumConfirmedOpAmount totals confirmed wallet-operation amounts (token
// base units) of one type within the period.
func (s *Store) SumConfirmedOpAmount(ctx context.Context, opType models.WalletOpType, from, to time.Time) (decimal.Decimal, error) {
	return s.sumDecimal(ctx, `
		SELECT COALESCE(SUM(amount::numeric), 0)
		FROM wallet_operations
		WHERE op_type=$3 AND status='confirmed'
		AND confirmed_at >= $1 AND confirmed_at < $2
	`, from, to, opType)
}

func (s *Store) sumDecimal(ctx context.Context, query string, args ...any) (decimal.Decimal, error) {
	var sum decimal.Decimal
	if err := s.Pool.QueryRow(ctx, query, args...).Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}
