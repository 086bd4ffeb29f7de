package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swapramp/internal/config"
	"swapramp/internal/models"
	"swapramp/internal/processor"
	"swapramp/internal/quote"
	"swapramp/internal/store"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	ErrOrderNotFound    = errors.New("order not found")
	ErrMaintenance      = errors.New("settlement is in maintenance mode")
	ErrValidation       = errors.New("validation failed")
	ErrSlippageExceeded = errors.New("quote slippage exceeds configured maximum")
)

// Store is the durable-state surface the orchestrator drives.
type Store interface {
	CreateOrder(ctx context.Context, o *models.Order) (bool, error)
	GetOrder(ctx context.Context, orderID string) (*models.Order, error)
	GetOrderByPaymentRef(ctx context.Context, ref string) (*models.Order, error)
	GetOrderByClientOrderID(ctx context.Context, clientOrderID string) (*models.Order, error)
	UpdateOrder(ctx context.Context, o *models.Order) error
	ConfirmFiat(ctx context.Context, orderID string, at time.Time) (bool, error)
	ListRunnable(ctx context.Context, now time.Time, limit int) ([]*models.Order, error)
	SumUserFiatSince(ctx context.Context, userID string, since time.Time) (decimal.Decimal, error)
	GetRateSnapshot(ctx context.Context, snapshotID string) (*models.RateSnapshot, error)
	GetOrderOperation(ctx context.Context, orderID string, opType models.WalletOpType) (*models.WalletOperation, error)
	TryLockOrder(ctx context.Context, orderID string) (func(), bool, error)
}

type RateOracle interface {
	LockRate(ctx context.Context, fiatCurrency, cryptoAsset string) (*models.RateSnapshot, error)
}

type QuoteClient interface {
	GetQuote(ctx context.Context, sellAsset, buyAsset string, sellAmount decimal.Decimal) (*quote.Quote, error)
}

type Wallet interface {
	SubmitAcquisition(ctx context.Context, order *models.Order, expected decimal.Decimal) (*models.WalletOperation, error)
	SubmitPayout(ctx context.Context, order *models.Order, amount decimal.Decimal) (*models.WalletOperation, error)
}

type Processor interface {
	GetPayment(ctx context.Context, reference string) (*processor.Payment, error)
	Refund(ctx context.Context, reference string) (string, error)
}

// Orchestrator is the only writer of orders. It advances each order
// through the settlement state machine, one attempt per order at a time.
type Orchestrator struct {
	store  Store
	oracle RateOracle
	quotes QuoteClient
	wallet Wallet
	proc   Processor
	cfg    *config.Store
	log    *zap.Logger
	now    func() time.Time
}

func New(st Store, oracle RateOracle, quotes QuoteClient, wallet Wallet, proc Processor, cfg *config.Store, log *zap.Logger) *Orchestrator {
	return &Orchestrator{
		store:  st,
		oracle: oracle,
		quotes: quotes,
		wallet: wallet,
		proc:   proc,
		cfg:    cfg,
		log:    log,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// HandlePaymentEvent applies a verified processor webhook. Confirmation is
// idempotent: a duplicate event for an already-confirmed order is a no-op.
func (o *Orchestrator) HandlePaymentEvent(ctx context.Context, evt *processor.Event) (*models.Order, error) {
	if o.cfg.Current().Swap.Maintenance {
		return nil, ErrMaintenance
	}

	switch evt.Type {
	case processor.EventPaymentConfirmed:
		order, err := o.ensureOrder(ctx, &evt.Payment)
		if err != nil {
			return nil, err
		}
		if _, err := o.store.ConfirmFiat(ctx, order.OrderID, o.now()); err != nil {
			return nil, err
		}
		return o.store.GetOrder(ctx, order.OrderID)

	case processor.EventPaymentFailed:
		order, err := o.store.GetOrderByPaymentRef(ctx, evt.Payment.Reference)
		if err != nil {
			if store.IsNotFound(err) {
				// Nothing was created for this payment; nothing to fail.
				return nil, nil
			}
			return nil, err
		}
		if order.Status != models.OrderPending {
			return order, nil
		}
		now := o.now()
		order.Status = models.OrderStripeFailed
		order.FailedAt = &now
		if err := o.store.UpdateOrder(ctx, order); err != nil {
			return nil, err
		}
		return order, nil

	default:
		return nil, fmt.Errorf("unhandled event type %q", evt.Type)
	}
}

// RecoveryRequest re-derives an order when the original creation was lost.
type RecoveryRequest struct {
	PaymentReference   string
	ClientOrderID      string
	UserID             string
	FiatCurrency       string
	FiatAmount         decimal.Decimal
	TokenSymbol        string
	DestinationAddress string
}

// RecreateOrder is the manual recovery entry point. Idempotent on both the
// payment reference and the client order id: re-invocation returns the
// existing order instead of creating a second one.
func (o *Orchestrator) RecreateOrder(ctx context.Context, req RecoveryRequest) (*models.Order, error) {
	if o.cfg.Current().Swap.Maintenance {
		return nil, ErrMaintenance
	}

	if existing, err := o.store.GetOrderByPaymentRef(ctx, req.PaymentReference); err == nil {
		return existing, nil
	} else if !store.IsNotFound(err) {
		return nil, err
	}
	if req.ClientOrderID != "" {
		if existing, err := o.store.GetOrderByClientOrderID(ctx, req.ClientOrderID); err == nil {
			return existing, nil
		} else if !store.IsNotFound(err) {
			return nil, err
		}
	}

	payment := &processor.Payment{
		Reference: req.PaymentReference,
		Amount:    req.FiatAmount,
		Currency:  req.FiatCurrency,
		Metadata: processor.Metadata{
			UserID:             req.UserID,
			ClientOrderID:      req.ClientOrderID,
			DestinationAddress: req.DestinationAddress,
			TokenSymbol:        req.TokenSymbol,
		},
	}
	order, err := o.ensureOrder(ctx, payment)
	if err != nil {
		return nil, err
	}

	// Only trust the processor, not the caller, on whether fiat moved.
	remote, err := o.proc.GetPayment(ctx, req.PaymentReference)
	if err != nil {
		return nil, fmt.Errorf("verify payment with processor: %w", err)
	}
	if remote.Status == "succeeded" || remote.Status == "confirmed" {
		if _, err := o.store.ConfirmFiat(ctx, order.OrderID, o.now()); err != nil {
			return nil, err
		}
	}
	return o.store.GetOrder(ctx, order.OrderID)
}

func (o *Orchestrator) ensureOrder(ctx context.Context, p *processor.Payment) (*models.Order, error) {
	if err := o.validatePayment(p); err != nil {
		return nil, err
	}
	now := o.now()
	order := &models.Order{
		OrderID:            uuid.NewString(),
		PaymentReference:   p.Reference,
		ClientOrderID:      p.Metadata.ClientOrderID,
		UserID:             p.Metadata.UserID,
		FiatCurrency:       p.Currency,
		FiatAmount:         p.Amount,
		TokenSymbol:        p.Metadata.TokenSymbol,
		DestinationAddress: p.Metadata.DestinationAddress,
		FeePercent:         decimal.NewFromFloat(o.cfg.Current().Swap.FeePercent),
		Status:             models.OrderPending,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if order.ClientOrderID == "" {
		order.ClientOrderID = order.OrderID
	}
	inserted, err := o.store.CreateOrder(ctx, order)
	if err != nil {
		return nil, err
	}
	if !inserted {
		return o.store.GetOrderByPaymentRef(ctx, p.Reference)
	}
	o.log.Info("order created",
		zap.String("order", order.OrderID),
		zap.String("payment", order.PaymentReference),
		zap.String("amount", order.FiatAmount.String()+" "+order.FiatCurrency))
	return order, nil
}

// validatePayment rejects malformed requests before any external call.
func (o *Orchestrator) validatePayment(p *processor.Payment) error {
	if p.Reference == "" {
		return fmt.Errorf("%w: missing payment reference", ErrValidation)
	}
	if !p.Amount.IsPositive() {
		return fmt.Errorf("%w: fiat amount must be positive", ErrValidation)
	}
	if p.Currency == "" || p.Metadata.TokenSymbol == "" {
		return fmt.Errorf("%w: missing currency or token", ErrValidation)
	}
	if !common.IsHexAddress(p.Metadata.DestinationAddress) {
		return fmt.Errorf("%w: malformed destination wallet address", ErrValidation)
	}
	return nil
}

// StatusView is what polling clients see.
type StatusView struct {
	Status        models.OrderStatus `json:"status"`
	TxHash        string             `json:"txHash,omitempty"`
	Confirmations int64              `json:"confirmations,omitempty"`
	CurrentStep   string             `json:"currentStep"`
	Error         string             `json:"error,omitempty"`
}

// Status resolves the poll response for a payment reference.
func (o *Orchestrator) Status(ctx context.Context, paymentRef string) (*StatusView, error) {
	order, err := o.store.GetOrderByPaymentRef(ctx, paymentRef)
	if err != nil {
		if store.IsNotFound(err) {
			return nil, ErrOrderNotFound
		}
		return nil, err
	}

	view := &StatusView{
		Status:      order.Status,
		CurrentStep: order.Status.Step(),
	}
	if order.ErrorMessage != nil {
		view.Error = *order.ErrorMessage
	}

	// Prefer the payout transfer: it is the transaction the user receives.
	opType := models.OpPayout
	if order.PayoutTxHash == nil {
		opType = models.OpAcquisition
	}
	if op, err := o.store.GetOrderOperation(ctx, order.OrderID, opType); err == nil {
		if op.TxHash != nil {
			view.TxHash = *op.TxHash
		}
		view.Confirmations = op.Confirmations
	} else if !store.IsNotFound(err) {
		return nil, err
	}
	return view, nil
}

// Advance drives one order as far as it can go right now. Only one attempt
// per order runs at a time; a second concurrent call returns ErrOrderBusy.
func (o *Orchestrator) Advance(ctx context.Context, orderID string) error {
	release, locked, err := o.store.TryLockOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if !locked {
		return store.ErrOrderBusy
	}
	defer release()

	// Bounded pass count; a waiting stage reports no progress and ends it.
	for i := 0; i < 8; i++ {
		order, err := o.store.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if order.Status.Terminal() {
			return nil
		}
		if order.NextAttemptAt != nil && order.NextAttemptAt.After(o.now()) {
			return nil
		}

		progressed, err := o.step(ctx, order)
		if err != nil {
			return o.failStage(ctx, order, err)
		}
		if !progressed {
			return nil
		}
	}
	return nil
}

// Run is the worker loop: pick up runnable orders and advance them.
func (o *Orchestrator) Run(ctx context.Context) {
	interval := time.Duration(o.cfg.Current().Worker.IntervalSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		o.runOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (o *Orchestrator) runOnce(ctx context.Context) {
	orders, err := o.store.ListRunnable(ctx, o.now(), 0)
	if err != nil {
		o.log.Error("list runnable orders failed", zap.Error(err))
		return
	}
	for _, order := range orders {
		if err := o.Advance(ctx, order.OrderID); err != nil && !errors.Is(err, store.ErrOrderBusy) {
			o.log.Error("advance failed",
				zap.String("order", order.OrderID), zap.Error(err))
		}
	}
}
