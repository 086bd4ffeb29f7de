package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderPending           OrderStatus = "pending"
	OrderStripeConfirmed   OrderStatus = "stripe_confirmed"
	OrderRateLocked        OrderStatus = "fx_rate_locked"
	OrderSwapExecuting     OrderStatus = "swap_executing"
	OrderSwapCompleted     OrderStatus = "swap_completed"
	OrderTransferExecuting OrderStatus = "transfer_executing"
	OrderCompleted         OrderStatus = "completed"
	OrderStripeFailed      OrderStatus = "stripe_failed"
	OrderSwapFailed        OrderStatus = "swap_failed"
	OrderTransferFailed    OrderStatus = "transfer_failed"
	OrderRefundPending     OrderStatus = "refund_pending"
	OrderRefunded          OrderStatus = "refunded"
)

// Error codes recorded on failed orders.
const (
	ErrCodeValidation        = "validation_error"
	ErrCodeRateUnavailable   = "rate_unavailable"
	ErrCodeSlippageExceeded  = "slippage_exceeded"
	ErrCodeAcquisitionFailed = "acquisition_failed"
	ErrCodeTransferFailed    = "transfer_failed"
	ErrCodeTimeout           = "timeout"
	ErrCodeRefundFailed      = "refund_failed"
)

var transitions = map[OrderStatus][]OrderStatus{
	OrderPending:           {OrderStripeConfirmed, OrderStripeFailed},
	OrderStripeConfirmed:   {OrderRateLocked, OrderSwapFailed},
	OrderRateLocked:        {OrderSwapExecuting, OrderSwapFailed},
	OrderSwapExecuting:     {OrderSwapCompleted, OrderSwapFailed},
	OrderSwapCompleted:     {OrderTransferExecuting, OrderTransferFailed},
	OrderTransferExecuting: {OrderCompleted, OrderTransferFailed},
	OrderSwapFailed:        {OrderRefundPending},
	OrderTransferFailed:    {OrderRefundPending},
	OrderRefundPending:     {OrderRefunded},
}

// CanTransition reports whether moving from s to next is a legal
// state-machine edge.
func (s OrderStatus) CanTransition(next OrderStatus) bool {
	for _, t := range transitions[s] {
		if t == next {
			return true
		}
	}
	return false
}

// Terminal reports whether no further settlement or refund work remains.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderCompleted, OrderStripeFailed, OrderRefunded:
		return true
	}
	return false
}

// Failed reports a settlement failure state that still owes the user a
// refund, since fiat was already captured by then.
func (s OrderStatus) Failed() bool {
	return s == OrderSwapFailed || s == OrderTransferFailed
}

// Step is the human-readable stage name exposed to polling clients.
func (s OrderStatus) Step() string {
	switch s {
	case OrderPending:
		return "awaiting payment"
	case OrderStripeConfirmed:
		return "payment confirmed"
	case OrderRateLocked:
		return "rate locked"
	case OrderSwapExecuting:
		return "acquiring asset"
	case OrderSwapCompleted:
		return "asset acquired"
	case OrderTransferExecuting:
		return "transferring to wallet"
	case OrderCompleted:
		return "done"
	case OrderRefundPending:
		return "refund in progress"
	case OrderRefunded:
		return "refunded"
	default:
		return "failed"
	}
}

// Order is one fiat->crypto settlement request. Mutated only by the
// orchestrator under the per-order lock; never deleted.
type Order struct {
	OrderID          string
	PaymentReference string
	ClientOrderID    string
	UserID           string

	FiatCurrency       string
	FiatAmount         decimal.Decimal
	TokenSymbol        string
	DestinationAddress string

	LockedRate     decimal.NullDecimal
	RateSource     *string
	RateSnapshotID *string

	FeePercent        decimal.Decimal
	FeeAmount         decimal.NullDecimal
	NetworkFee        decimal.NullDecimal
	TargetTokenAmount decimal.NullDecimal
	ExecutedPrice     decimal.NullDecimal
	SlippagePercent   decimal.NullDecimal

	QuoteID           *string
	QuotePayload      []byte
	AcquisitionTxHash *string
	PayoutTxHash      *string

	Status       OrderStatus
	ErrorCode    *string
	ErrorMessage *string

	RetryCount    int
	NextAttemptAt *time.Time

	CreatedAt       time.Time
	FiatConfirmedAt *time.Time
	RateLockedAt    *time.Time
	SwapStartedAt   *time.Time
	SwapCompletedAt *time.Time
	PayoutStartedAt *time.Time
	CompletedAt     *time.Time
	FailedAt        *time.Time
	RefundedAt      *time.Time
	UpdatedAt       time.Time
}

// RateSnapshot is an append-only historical exchange-rate observation.
type RateSnapshot struct {
	SnapshotID   string
	BaseCurrency string
	QuoteAsset   string
	Rate         decimal.Decimal
	Source       string
	Confidence   decimal.Decimal
	Spread       decimal.NullDecimal
	CapturedAt   time.Time
}

// Expired reports whether the snapshot is too old to execute against.
func (r *RateSnapshot) Expired(now time.Time, validity time.Duration) bool {
	return now.After(r.CapturedAt.Add(validity))
}

type WalletOpType string

const (
	OpAcquisition WalletOpType = "acquisition"
	OpPayout      WalletOpType = "payout"
)

type WalletOpStatus string

const (
	OpPending    WalletOpStatus = "pending"
	OpBroadcast  WalletOpStatus = "broadcast"
	OpConfirming WalletOpStatus = "confirming"
	OpConfirmed  WalletOpStatus = "confirmed"
	OpFailed     WalletOpStatus = "failed"
)

// Terminal reports whether the operation will never change state again.
func (s WalletOpStatus) Terminal() bool {
	return s == OpConfirmed || s == OpFailed
}

// WalletOperation is one on-chain transfer tied to an order. Amounts are
// token base units as decimal strings.
type WalletOperation struct {
	OpID    string
	OrderID string
	OpType  WalletOpType

	Token       string
	Amount      string
	FromAddress string
	ToAddress   string
	ChainID     int64

	TxHash        *string
	BlockNumber   *int64
	Confirmations int64
	RequiredConfs int64

	GasPrice *string
	GasUsed  *string
	GasFee   *string

	Status       WalletOpStatus
	ErrorMessage *string

	CreatedAt   time.Time
	BroadcastAt *time.Time
	ConfirmedAt *time.Time
	UpdatedAt   time.Time
}

type ReconStatus string

const (
	ReconPending     ReconStatus = "pending"
	ReconReconciled  ReconStatus = "reconciled"
	ReconDiscrepancy ReconStatus = "discrepancy_found"
	ReconResolved    ReconStatus = "resolved"
)

// ReconciliationRecord compares expected vs observed balances for one
// period. Immutable once computed, except for manual resolution.
type ReconciliationRecord struct {
	RecordID    string
	PeriodStart time.Time
	PeriodEnd   time.Time

	ExpectedFiat   decimal.Decimal
	ObservedFiat   decimal.Decimal
	FiatDifference decimal.Decimal

	ExpectedCrypto   decimal.Decimal
	ObservedCrypto   decimal.Decimal
	CryptoDifference decimal.Decimal

	Status    ReconStatus
	Notes     *string
	CreatedAt time.Time
}
