package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"swapramp/internal/models"
	"swapramp/internal/quote"
	"swapramp/internal/rates"
	"swapramp/internal/store"
	"swapramp/internal/wallet"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// terminalError forces a stage failure with no further retries.
type terminalError struct {
	code string
	err  error
}

func (e *terminalError) Error() string { return e.err.Error() }
func (e *terminalError) Unwrap() error { return e.err }

func terminal(code string, err error) error {
	return &terminalError{code: code, err: err}
}

// step performs the work for the order's current state. It returns true
// when the order moved forward and should be stepped again.
func (o *Orchestrator) step(ctx context.Context, order *models.Order) (bool, error) {
	if err := o.checkOrderTimeout(order); err != nil {
		return false, err
	}

	switch order.Status {
	case models.OrderPending:
		// Waiting on the processor; nothing to do.
		return false, nil
	case models.OrderStripeConfirmed:
		return o.stepLockRate(ctx, order)
	case models.OrderRateLocked:
		return o.stepExecuteSwap(ctx, order)
	case models.OrderSwapExecuting:
		return o.stepAwaitAcquisition(ctx, order)
	case models.OrderSwapCompleted:
		return o.stepSubmitPayout(ctx, order)
	case models.OrderTransferExecuting:
		return o.stepAwaitPayout(ctx, order)
	case models.OrderSwapFailed, models.OrderTransferFailed:
		return o.stepRouteRefund(ctx, order)
	case models.OrderRefundPending:
		return o.stepRefund(ctx, order)
	default:
		return false, nil
	}
}

// checkOrderTimeout force-fails orders stuck mid-settlement past the
// configured overall budget.
func (o *Orchestrator) checkOrderTimeout(order *models.Order) error {
	switch order.Status {
	case models.OrderStripeConfirmed, models.OrderRateLocked, models.OrderSwapExecuting:
	default:
		return nil
	}
	if order.FiatConfirmedAt == nil {
		return nil
	}
	deadline := order.FiatConfirmedAt.Add(o.cfg.Current().OrderTimeout())
	if o.now().After(deadline) {
		return terminal(models.ErrCodeTimeout,
			fmt.Errorf("order exceeded settlement budget of %s", o.cfg.Current().OrderTimeout()))
	}
	return nil
}

// stepLockRate validates the order economics and locks the exchange rate.
func (o *Orchestrator) stepLockRate(ctx context.Context, order *models.Order) (bool, error) {
	cfg := o.cfg.Current()
	now := o.now()

	minFiat := decimal.NewFromFloat(cfg.Swap.MinOrderFiat)
	maxFiat := decimal.NewFromFloat(cfg.Swap.MaxOrderFiat)
	if order.FiatAmount.LessThan(minFiat) {
		return false, terminal(models.ErrCodeValidation,
			fmt.Errorf("%w: amount %s below minimum %s", ErrValidation, order.FiatAmount, minFiat))
	}
	if order.FiatAmount.GreaterThan(maxFiat) {
		return false, terminal(models.ErrCodeValidation,
			fmt.Errorf("%w: amount %s above maximum %s", ErrValidation, order.FiatAmount, maxFiat))
	}
	if cfg.Swap.DailyUserLimitFiat > 0 {
		dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
		sum, err := o.store.SumUserFiatSince(ctx, order.UserID, dayStart)
		if err != nil {
			return false, err
		}
		if sum.GreaterThan(decimal.NewFromFloat(cfg.Swap.DailyUserLimitFiat)) {
			return false, terminal(models.ErrCodeValidation,
				fmt.Errorf("%w: daily limit exceeded for user %s", ErrValidation, order.UserID))
		}
	}

	// Idempotent re-entry: reuse a still-valid snapshot from a previous
	// attempt instead of locking twice.
	var snap *models.RateSnapshot
	if order.RateSnapshotID != nil {
		if prev, err := o.store.GetRateSnapshot(ctx, *order.RateSnapshotID); err == nil &&
			!prev.Expired(now, cfg.RateValidity()) {
			snap = prev
		}
	}
	if snap == nil {
		var err error
		snap, err = o.oracle.LockRate(ctx, order.FiatCurrency, order.TokenSymbol)
		if err != nil {
			return false, err
		}
	}

	o.applyRateLock(order, snap)
	if !order.TargetTokenAmount.Decimal.IsPositive() {
		return false, terminal(models.ErrCodeValidation,
			fmt.Errorf("%w: target amount is not positive after fees", ErrValidation))
	}

	now = o.now()
	order.RateLockedAt = &now
	order.RetryCount = 0
	return true, o.transition(ctx, order, models.OrderRateLocked)
}

// applyRateLock derives the fee and target token amount from the snapshot.
// The target is never recomputed after this except to record execution
// variance.
func (o *Orchestrator) applyRateLock(order *models.Order, snap *models.RateSnapshot) {
	gross := order.FiatAmount.Mul(snap.Rate)
	fee := gross.Mul(order.FeePercent).Div(decimal.NewFromInt(100))
	order.LockedRate = decimal.NullDecimal{Decimal: snap.Rate, Valid: true}
	order.RateSource = &snap.Source
	order.RateSnapshotID = &snap.SnapshotID
	order.FeeAmount = decimal.NullDecimal{Decimal: fee, Valid: true}
	order.TargetTokenAmount = decimal.NullDecimal{Decimal: gross.Sub(fee), Valid: true}
}

// stepExecuteSwap quotes the acquisition and broadcasts it.
func (o *Orchestrator) stepExecuteSwap(ctx context.Context, order *models.Order) (bool, error) {
	cfg := o.cfg.Current()
	now := o.now()

	// A live acquisition already exists if a previous attempt crashed
	// between broadcast and status update; never submit a second one.
	if op, err := o.store.GetOrderOperation(ctx, order.OrderID, models.OpAcquisition); err == nil {
		if op.Status != models.OpFailed {
			if op.TxHash != nil {
				order.AcquisitionTxHash = op.TxHash
			}
			order.SwapStartedAt = &now
			return true, o.transition(ctx, order, models.OrderSwapExecuting)
		}
	} else if !store.IsNotFound(err) {
		return false, err
	}

	// A stale rate must be re-locked, not used.
	snap, err := o.store.GetRateSnapshot(ctx, *order.RateSnapshotID)
	if err != nil {
		return false, err
	}
	if snap.Expired(now, cfg.RateValidity()) {
		o.log.Info("rate lock expired, re-locking",
			zap.String("order", order.OrderID), zap.String("snapshot", snap.SnapshotID))
		fresh, err := o.oracle.LockRate(ctx, order.FiatCurrency, order.TokenSymbol)
		if err != nil {
			return false, err
		}
		o.applyRateLock(order, fresh)
		order.RateLockedAt = &now
		if err := o.store.UpdateOrder(ctx, order); err != nil {
			return false, err
		}
	}

	netFiat := order.FiatAmount.Sub(order.FiatAmount.Mul(order.FeePercent).Div(decimal.NewFromInt(100)))
	q, err := o.quotes.GetQuote(ctx, order.FiatCurrency, order.TokenSymbol, netFiat)
	if err != nil {
		return false, err
	}
	if q.Expired(o.now()) {
		return false, fmt.Errorf("%w: quote %s", quote.ErrQuoteExpired, q.QuoteID)
	}

	target := order.TargetTokenAmount.Decimal
	slippage := target.Sub(q.BuyAmount).Div(target).Mul(decimal.NewFromInt(100))
	if slippage.GreaterThan(decimal.NewFromFloat(cfg.Swap.MaxSlippagePercent)) {
		return false, terminal(models.ErrCodeSlippageExceeded,
			fmt.Errorf("%w: %s%% > %.2f%%", ErrSlippageExceeded, slippage.StringFixed(4), cfg.Swap.MaxSlippagePercent))
	}

	order.QuoteID = &q.QuoteID
	order.QuotePayload = q.Tx
	order.ExecutedPrice = decimal.NullDecimal{Decimal: q.Price, Valid: true}
	order.SlippagePercent = decimal.NullDecimal{Decimal: slippage, Valid: true}
	if err := o.store.UpdateOrder(ctx, order); err != nil {
		return false, err
	}

	op, err := o.wallet.SubmitAcquisition(ctx, order, q.BuyAmount)
	if err != nil {
		return false, err
	}
	order.AcquisitionTxHash = op.TxHash
	order.SwapStartedAt = &now
	return true, o.transition(ctx, order, models.OrderSwapExecuting)
}

// stepAwaitAcquisition waits for the acquisition transfer to confirm.
func (o *Orchestrator) stepAwaitAcquisition(ctx context.Context, order *models.Order) (bool, error) {
	op, err := o.store.GetOrderOperation(ctx, order.OrderID, models.OpAcquisition)
	if err != nil {
		if store.IsNotFound(err) {
			// Inconsistent: executing without an operation. Re-run the
			// execution stage.
			return true, o.revertForRetry(ctx, order, models.OrderRateLocked)
		}
		return false, err
	}

	switch op.Status {
	case models.OpConfirmed:
		now := o.now()
		order.AcquisitionTxHash = op.TxHash
		order.SwapCompletedAt = &now
		order.RetryCount = 0
		return true, o.transition(ctx, order, models.OrderSwapCompleted)
	case models.OpFailed:
		if order.RetryCount < o.cfg.Current().Swap.MaxStageRetries {
			o.scheduleRetry(order)
			order.QuoteID = nil
			order.QuotePayload = nil
			order.AcquisitionTxHash = nil
			return false, o.revertForRetry(ctx, order, models.OrderRateLocked)
		}
		return false, terminal(models.ErrCodeAcquisitionFailed,
			fmt.Errorf("acquisition transfer failed: %s", opError(op)))
	default:
		return false, nil
	}
}

// stepSubmitPayout broadcasts the transfer to the user's wallet. The
// payout amount is exactly what the confirmed acquisition bought.
func (o *Orchestrator) stepSubmitPayout(ctx context.Context, order *models.Order) (bool, error) {
	now := o.now()

	if op, err := o.store.GetOrderOperation(ctx, order.OrderID, models.OpPayout); err == nil {
		if op.Status != models.OpFailed {
			order.PayoutTxHash = op.TxHash
			order.PayoutStartedAt = &now
			return true, o.transition(ctx, order, models.OrderTransferExecuting)
		}
	} else if !store.IsNotFound(err) {
		return false, err
	}

	acq, err := o.store.GetOrderOperation(ctx, order.OrderID, models.OpAcquisition)
	if err != nil {
		return false, err
	}
	amount, err := wallet.FromBaseUnits(acq.Amount, o.cfg.Current().Chain.TokenDecimals)
	if err != nil {
		return false, err
	}

	op, err := o.wallet.SubmitPayout(ctx, order, amount)
	if err != nil {
		return false, err
	}
	order.PayoutTxHash = op.TxHash
	order.PayoutStartedAt = &now
	return true, o.transition(ctx, order, models.OrderTransferExecuting)
}

// stepAwaitPayout waits for the payout transfer to confirm.
func (o *Orchestrator) stepAwaitPayout(ctx context.Context, order *models.Order) (bool, error) {
	op, err := o.store.GetOrderOperation(ctx, order.OrderID, models.OpPayout)
	if err != nil {
		if store.IsNotFound(err) {
			return true, o.revertForRetry(ctx, order, models.OrderSwapCompleted)
		}
		return false, err
	}

	switch op.Status {
	case models.OpConfirmed:
		now := o.now()
		order.PayoutTxHash = op.TxHash
		order.CompletedAt = &now
		if op.GasFee != nil {
			if fee, err := wallet.FromBaseUnits(*op.GasFee, 18); err == nil {
				order.NetworkFee = decimal.NullDecimal{Decimal: fee, Valid: true}
			}
		}
		order.RetryCount = 0
		o.log.Info("order completed",
			zap.String("order", order.OrderID), zap.Stringp("tx", op.TxHash))
		return true, o.transition(ctx, order, models.OrderCompleted)
	case models.OpFailed:
		if order.RetryCount < o.cfg.Current().Swap.MaxStageRetries {
			o.scheduleRetry(order)
			order.PayoutTxHash = nil
			return false, o.revertForRetry(ctx, order, models.OrderSwapCompleted)
		}
		return false, terminal(models.ErrCodeTransferFailed,
			fmt.Errorf("payout transfer failed: %s", opError(op)))
	default:
		return false, nil
	}
}

// stepRouteRefund moves a failed-after-capture order into the refund queue.
// The refund loop counts its own attempts.
func (o *Orchestrator) stepRouteRefund(ctx context.Context, order *models.Order) (bool, error) {
	order.RetryCount = 0
	return true, o.transition(ctx, order, models.OrderRefundPending)
}

// stepRefund drains the refund queue through the processor. Refund errors
// never force a terminal state; money already moved, so keep trying with
// capped backoff until it succeeds or an operator intervenes.
func (o *Orchestrator) stepRefund(ctx context.Context, order *models.Order) (bool, error) {
	refundID, err := o.proc.Refund(ctx, order.PaymentReference)
	if err != nil {
		code := models.ErrCodeRefundFailed
		msg := err.Error()
		order.ErrorCode = &code
		order.ErrorMessage = &msg
		order.RetryCount++
		backoff := o.backoff(order.RetryCount)
		if backoff > 10*time.Minute {
			backoff = 10 * time.Minute
		}
		next := o.now().Add(backoff)
		order.NextAttemptAt = &next
		if uerr := o.store.UpdateOrder(ctx, order); uerr != nil {
			return false, uerr
		}
		o.log.Warn("refund attempt failed",
			zap.String("order", order.OrderID), zap.Error(err))
		return false, nil
	}

	now := o.now()
	order.RefundedAt = &now
	o.log.Info("order refunded",
		zap.String("order", order.OrderID), zap.String("refund", refundID))
	return true, o.transition(ctx, order, models.OrderRefunded)
}

// transition validates the edge and persists. It deliberately leaves
// RetryCount alone: a revert-and-resubmit cycle passes back through here,
// and resetting would let a flapping stage retry forever. The count is
// cleared only where a stage genuinely completes.
func (o *Orchestrator) transition(ctx context.Context, order *models.Order, next models.OrderStatus) error {
	if !order.Status.CanTransition(next) {
		return fmt.Errorf("illegal transition %s -> %s for order %s", order.Status, next, order.OrderID)
	}
	order.Status = next
	order.NextAttemptAt = nil
	return o.store.UpdateOrder(ctx, order)
}

// revertForRetry is the compensation path: a stage is re-run from its
// prerequisite state. Not a forward edge, so it bypasses the edge check.
func (o *Orchestrator) revertForRetry(ctx context.Context, order *models.Order, back models.OrderStatus) error {
	order.Status = back
	return o.store.UpdateOrder(ctx, order)
}

func (o *Orchestrator) scheduleRetry(order *models.Order) {
	order.RetryCount++
	next := o.now().Add(o.backoff(order.RetryCount))
	order.NextAttemptAt = &next
}

func (o *Orchestrator) backoff(attempt int) time.Duration {
	base := o.cfg.Current().RetryBackoff()
	if attempt < 1 {
		attempt = 1
	}
	return base << (attempt - 1)
}

// failStage records a stage failure: schedule a bounded retry when the
// error allows it, otherwise force the stage's failure state.
func (o *Orchestrator) failStage(ctx context.Context, order *models.Order, err error) error {
	code, retryable := classify(err, order.Status)
	cfg := o.cfg.Current()
	now := o.now()
	msg := err.Error()
	order.ErrorCode = &code
	order.ErrorMessage = &msg

	if retryable && order.RetryCount < cfg.Swap.MaxStageRetries {
		o.scheduleRetry(order)
		if uerr := o.store.UpdateOrder(ctx, order); uerr != nil {
			return uerr
		}
		o.log.Warn("stage failed, retry scheduled",
			zap.String("order", order.OrderID),
			zap.String("status", string(order.Status)),
			zap.Int("attempt", order.RetryCount),
			zap.Error(err))
		return nil
	}

	target := failureTarget(order.Status)
	if target == "" || !order.Status.CanTransition(target) {
		return err
	}
	order.Status = target
	order.FailedAt = &now
	order.NextAttemptAt = nil
	if uerr := o.store.UpdateOrder(ctx, order); uerr != nil {
		return uerr
	}
	o.log.Error("stage failed terminally",
		zap.String("order", order.OrderID),
		zap.String("status", string(target)),
		zap.String("code", code),
		zap.Error(err))
	return nil
}

func failureTarget(s models.OrderStatus) models.OrderStatus {
	switch s {
	case models.OrderStripeConfirmed, models.OrderRateLocked, models.OrderSwapExecuting:
		return models.OrderSwapFailed
	case models.OrderSwapCompleted, models.OrderTransferExecuting:
		return models.OrderTransferFailed
	}
	return ""
}

func classify(err error, status models.OrderStatus) (code string, retryable bool) {
	var term *terminalError
	switch {
	case errors.As(err, &term):
		return term.code, false
	case errors.Is(err, ErrValidation):
		return models.ErrCodeValidation, false
	case errors.Is(err, ErrSlippageExceeded):
		return models.ErrCodeSlippageExceeded, false
	case errors.Is(err, rates.ErrRateUnavailable):
		return models.ErrCodeRateUnavailable, true
	}
	if failureTarget(status) == models.OrderTransferFailed {
		return models.ErrCodeTransferFailed, true
	}
	return models.ErrCodeAcquisitionFailed, true
}

func opError(op *models.WalletOperation) string {
	if op.ErrorMessage != nil {
		return *op.ErrorMessage
	}
	return "unknown"
}
