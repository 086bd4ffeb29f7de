package recon

import (
	"context"
	"math/big"
	"time"

	"swapramp/internal/config"
	"swapramp/internal/models"
	"swapramp/internal/wallet"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type Store interface {
	SumFiatCaptured(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	SumFiatRefunded(ctx context.Context, from, to time.Time) (decimal.Decimal, error)
	SumConfirmedOpAmount(ctx context.Context, opType models.WalletOpType, from, to time.Time) (decimal.Decimal, error)
	InsertReconciliationRecord(ctx context.Context, rec *models.ReconciliationRecord) error
}

type FiatBalance interface {
	Balance(ctx context.Context, currency string) (decimal.Decimal, error)
}

type ChainReader interface {
	TokenBalance(ctx context.Context, token, addr string) (*big.Int, error)
}

// Job compares what settlement should have left in each account against
// what the processor and the chain actually report. Discrepancies are
// recorded, never auto-corrected.
type Job struct {
	store Store
	proc  FiatBalance
	chain ChainReader
	cfg   *config.Store
	log   *zap.Logger
	now   func() time.Time
}

func NewJob(store Store, proc FiatBalance, chain ChainReader, cfg *config.Store, log *zap.Logger) *Job {
	return &Job{
		store: store,
		proc:  proc,
		chain: chain,
		cfg:   cfg,
		log:   log,
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// RunOnce reconciles one period ending now. Balances are point-in-time,
// so the expectations are cumulative sums up to the period end; the period
// start only scopes the report.
func (j *Job) RunOnce(ctx context.Context, periodStart, periodEnd time.Time) (*models.ReconciliationRecord, error) {
	cfg := j.cfg.Current()
	epoch := time.Unix(0, 0).UTC()

	captured, err := j.store.SumFiatCaptured(ctx, epoch, periodEnd)
	if err != nil {
		return nil, err
	}
	refunded, err := j.store.SumFiatRefunded(ctx, epoch, periodEnd)
	if err != nil {
		return nil, err
	}
	expectedFiat := captured.Sub(refunded)

	observedFiat, err := j.proc.Balance(ctx, cfg.Worker.ReconFiatCurrency)
	if err != nil {
		return nil, err
	}

	acquired, err := j.store.SumConfirmedOpAmount(ctx, models.OpAcquisition, epoch, periodEnd)
	if err != nil {
		return nil, err
	}
	paidOut, err := j.store.SumConfirmedOpAmount(ctx, models.OpPayout, epoch, periodEnd)
	if err != nil {
		return nil, err
	}
	expectedCrypto := acquired.Sub(paidOut).Shift(int32(-cfg.Chain.TokenDecimals))

	raw, err := j.chain.TokenBalance(ctx, cfg.Chain.TokenAddress, cfg.Wallet.HotAddress)
	if err != nil {
		return nil, err
	}
	observedCrypto, err := wallet.FromBaseUnits(raw.String(), cfg.Chain.TokenDecimals)
	if err != nil {
		return nil, err
	}

	rec := &models.ReconciliationRecord{
		RecordID:         uuid.NewString(),
		PeriodStart:      periodStart,
		PeriodEnd:        periodEnd,
		ExpectedFiat:     expectedFiat,
		ObservedFiat:     observedFiat,
		FiatDifference:   observedFiat.Sub(expectedFiat),
		ExpectedCrypto:   expectedCrypto,
		ObservedCrypto:   observedCrypto,
		CryptoDifference: observedCrypto.Sub(expectedCrypto),
		Status:           models.ReconReconciled,
		CreatedAt:        j.now(),
	}

	fiatTol := decimal.NewFromFloat(cfg.Worker.ReconFiatTolerance)
	cryptoTol := decimal.NewFromFloat(cfg.Worker.ReconCryptoTolerance)
	if rec.FiatDifference.Abs().GreaterThan(fiatTol) || rec.CryptoDifference.Abs().GreaterThan(cryptoTol) {
		rec.Status = models.ReconDiscrepancy
	}

	if err := j.store.InsertReconciliationRecord(ctx, rec); err != nil {
		return nil, err
	}

	if rec.Status == models.ReconDiscrepancy {
		j.log.Warn("reconciliation discrepancy",
			zap.String("record", rec.RecordID),
			zap.String("fiat_diff", rec.FiatDifference.String()),
			zap.String("crypto_diff", rec.CryptoDifference.String()))
	} else {
		j.log.Info("reconciliation clean",
			zap.String("record", rec.RecordID),
			zap.Time("period_end", periodEnd))
	}
	return rec, nil
}

// Run reconciles on the configured interval until the context ends.
func (j *Job) Run(ctx context.Context) {
	interval := time.Duration(j.cfg.Current().Worker.ReconcileIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	last := j.now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		now := j.now()
		if _, err := j.RunOnce(ctx, last, now); err != nil {
			j.log.Error("reconciliation run failed", zap.Error(err))
			continue
		}
		last = now
	}
}
