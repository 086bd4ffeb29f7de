package store

import (
	"context"
	"errors"
	"time"

	"swapramp/internal/models"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// ErrOrderBusy means another orchestration attempt holds the order lock.
var ErrOrderBusy = errors.New("order is locked by another attempt")

const orderLockClass = 7741

type Store struct {
	Pool *pgxpool.Pool
}

func New(pool *pgxpool.Pool) *Store {
	return &Store{Pool: pool}
}

const orderColumns = `
	order_id, payment_reference, client_order_id, user_id,
	fiat_currency, fiat_amount, token_symbol, destination_address,
	locked_rate, rate_source, rate_snapshot_id,
	fee_percent, fee_amount, network_fee, target_token_amount,
	executed_price, slippage_percent,
	quote_id, quote_payload, acquisition_tx_hash, payout_tx_hash,
	status, error_code, error_message, retry_count, next_attempt_at,
	created_at, fiat_confirmed_at, rate_locked_at, swap_started_at,
	swap_completed_at, payout_started_at, completed_at, failed_at,
	refunded_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*models.Order, error) {
	var o models.Order
	err := row.Scan(
		&o.OrderID, &o.PaymentReference, &o.ClientOrderID, &o.UserID,
		&o.FiatCurrency, &o.FiatAmount, &o.TokenSymbol, &o.DestinationAddress,
		&o.LockedRate, &o.RateSource, &o.RateSnapshotID,
		&o.FeePercent, &o.FeeAmount, &o.NetworkFee, &o.TargetTokenAmount,
		&o.ExecutedPrice, &o.SlippagePercent,
		&o.QuoteID, &o.QuotePayload, &o.AcquisitionTxHash, &o.PayoutTxHash,
		&o.Status, &o.ErrorCode, &o.ErrorMessage, &o.RetryCount, &o.NextAttemptAt,
		&o.CreatedAt, &o.FiatConfirmedAt, &o.RateLockedAt, &o.SwapStartedAt,
		&o.SwapCompletedAt, &o.PayoutStartedAt, &o.CompletedAt, &o.FailedAt,
		&o.RefundedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CreateOrder inserts the order. Returns false without error when an order
// with the same payment reference already exists.
func (s *Store) CreateOrder(ctx context.Context, o *models.Order) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		INSERT INTO orders (
			order_id, payment_reference, client_order_id, user_id,
			fiat_currency, fiat_amount, token_symbol, destination_address,
			fee_percent, status, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$11)
		ON CONFLICT (payment_reference) DO NOTHING
	`,
		o.OrderID, o.PaymentReference, o.ClientOrderID, o.UserID,
		o.FiatCurrency, o.FiatAmount, o.TokenSymbol, o.DestinationAddress,
		o.FeePercent, o.Status, o.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

func (s *Store) GetOrder(ctx context.Context, orderID string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE order_id=$1`, orderID)
	return scanOrder(row)
}

func (s *Store) GetOrderByPaymentRef(ctx context.Context, ref string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE payment_reference=$1`, ref)
	return scanOrder(row)
}

func (s *Store) GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*models.Order, error) {
	row := s.Pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE client_order_id=$1`, clientOrderID)
	return scanOrder(row)
}

// UpdateOrder writes every mutable column. Safe because the orchestrator is
// the only writer and holds the per-order lock.
func (s *Store) UpdateOrder(ctx context.Context, o *models.Order) error {
	o.UpdatedAt = time.Now().UTC()
	_, err := s.Pool.Exec(ctx, `
		UPDATE orders SET
			locked_rate=$2, rate_source=$3, rate_snapshot_id=$4,
			fee_amount=$5, network_fee=$6, target_token_amount=$7,
			executed_price=$8, slippage_percent=$9,
			quote_id=$10, quote_payload=$11,
			acquisition_tx_hash=$12, payout_tx_hash=$13,
			status=$14, error_code=$15, error_message=$16,
			retry_count=$17, next_attempt_at=$18,
			fiat_confirmed_at=$19, rate_locked_at=$20, swap_started_at=$21,
			swap_completed_at=$22, payout_started_at=$23, completed_at=$24,
			failed_at=$25, refunded_at=$26, updated_at=$27
		WHERE order_id=$1
	`,
		o.OrderID,
		o.LockedRate, o.RateSource, o.RateSnapshotID,
		o.FeeAmount, o.NetworkFee, o.TargetTokenAmount,
		o.ExecutedPrice, o.SlippagePercent,
		o.QuoteID, o.QuotePayload,
		o.AcquisitionTxHash, o.PayoutTxHash,
		o.Status, o.ErrorCode, o.ErrorMessage,
		o.RetryCount, o.NextAttemptAt,
		o.FiatConfirmedAt, o.RateLockedAt, o.SwapStartedAt,
		o.SwapCompletedAt, o.PayoutStartedAt, o.CompletedAt,
		o.FailedAt, o.RefundedAt, o.UpdatedAt,
	)
	return err
}

// ConfirmFiat moves a pending order to stripe_confirmed. A duplicate
// confirmation updates zero rows and is not an error.
func (s *Store) ConfirmFiat(ctx context.Context, orderID string, at time.Time) (bool, error) {
	res, err := s.Pool.Exec(ctx, `
		UPDATE orders
		SET status=$2, fiat_confirmed_at=$3, updated_at=now()
		WHERE order_id=$1 AND status='pending'
	`, orderID, models.OrderStripeConfirmed, at)
	if err != nil {
		return false, err
	}
	return res.RowsAffected() > 0, nil
}

// ListRunnable returns orders with settlement work due: non-terminal,
// not waiting on a backoff window.
func (s *Store) ListRunnable(ctx context.Context, now time.Time, limit int) ([]*models.Order, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.Pool.Query(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status IN (
			'stripe_confirmed','fx_rate_locked','swap_executing',
			'swap_completed','transfer_executing',
			'swap_failed','transfer_failed','refund_pending'
		)
		AND (next_attempt_at IS NULL OR next_attempt_at <= $1)
		ORDER BY created_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []*models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, o)
	}
	return orders, rows.Err()
}

// SumUserFiatSince totals a user's non-failed order volume for the daily
// limit check.
func (s *Store) SumUserFiatSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT COALESCE(SUM(fiat_amount), 0)
		FROM orders
		WHERE user_id=$1 AND created_at >= $2
		AND status NOT IN ('stripe_failed','refunded')
	`, userID, since)
	var sum decimal.Decimal
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, err
	}
	return sum, nil
}

func (s *Store) InsertRateSnapshot(ctx context.Context, snap *models.RateSnapshot) error {
	_, err := s.Pool.Exec(ctx, `
		INSERT INTO rate_snapshots (
			snapshot_id, base_currency, quote_asset, rate, source,
			confidence, spread, captured_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	`,
		snap.SnapshotID, snap.BaseCurrency, snap.QuoteAsset, snap.Rate,
		snap.Source, snap.Confidence, snap.Spread, snap.CapturedAt,
	)
	return err
}

func (s *Store) GetRateSnapshot(ctx context.Context, snapshotID string) (*models.RateSnapshot, error) {
	row := s.Pool.QueryRow(ctx, `
		SELECT snapshot_id, base_currency, quote_asset, rate, source,
			confidence, spread, captured_at
		FROM rate_snapshots WHERE snapshot_id=$1
	`, snapshotID)
	var snap models.RateSnapshot
	err := row.Scan(
		&snap.SnapshotID, &snap.BaseCurrency, &snap.QuoteAsset, &snap.Rate,
		&snap.Source, &snap.Confidence, &snap.Spread, &snap.CapturedAt,
	)
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// TryLockOrder takes a session advisory lock on the order id, serializing
// orchestration attempts per order. The release func must be called.
func (s *Store) TryLockOrder(ctx context.Context, orderID string) (func(), bool, error) {
	conn, err := s.Pool.Acquire(ctx)
	if err != nil {
		return nil, false, err
	}
	var locked bool
	err = conn.QueryRow(ctx,
		`SELECT pg_try_advisory_lock($1, hashtext($2))`,
		orderLockClass, orderID,
	).Scan(&locked)
	if err != nil {
		conn.Release()
		return nil, false, err
	}
	if !locked {
		conn.Release()
		return nil, false, nil
	}
	release := func() {
		_, _ = conn.Exec(context.Background(),
			`SELECT pg_advisory_unlock($1, hashtext($2))`, orderLockClass, orderID)
		conn.Release()
	}
	return release, true, nil
}

// IsNotFound reports the store's no-rows condition.
func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
