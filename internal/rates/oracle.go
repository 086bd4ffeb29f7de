package rates

import (
	"context"
	"errors"
	"time"

	"swapramp/internal/config"
	"swapramp/internal/models"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// ErrRateUnavailable means every configured source failed or returned a
// zero/negative rate. Not retried here; the orchestrator retries the stage.
var ErrRateUnavailable = errors.New("no rate source returned a usable rate")

// Source produces a fiat->crypto rate: target token units per one unit of
// fiat currency.
type Source interface {
	Name() string
	Fetch(ctx context.Context, fiatCurrency, cryptoAsset string) (decimal.Decimal, error)
}

type SnapshotStore interface {
	InsertRateSnapshot(ctx context.Context, snap *models.RateSnapshot) error
}

// Oracle queries sources in priority order and persists the winning quote
// as an append-only snapshot.
type Oracle struct {
	sources []Source
	store   SnapshotStore
	timeout time.Duration
	log     *zap.Logger
	now     func() time.Time
}

func NewOracle(sources []Source, store SnapshotStore, timeout time.Duration, log *zap.Logger) *Oracle {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Oracle{
		sources: sources,
		store:   store,
		timeout: timeout,
		log:     log,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// NewOracleFromConfig builds the oracle from the configured source list.
func NewOracleFromConfig(cfg *config.Config, store SnapshotStore, log *zap.Logger) *Oracle {
	sources := make([]Source, 0, len(cfg.Rates.Sources))
	for _, sc := range cfg.Rates.Sources {
		sources = append(sources, NewHTTPSource(sc))
	}
	return NewOracle(sources, store, time.Duration(cfg.Rates.TimeoutSeconds)*time.Second, log)
}

// LockRate returns the first usable quote from the fallback chain. Each
// source gets one attempt within its own timeout.
func (o *Oracle) LockRate(ctx context.Context, fiatCurrency, cryptoAsset string) (*models.RateSnapshot, error) {
	for i, src := range o.sources {
		srcCtx, cancel := context.WithTimeout(ctx, o.timeout)
		rate, err := src.Fetch(srcCtx, fiatCurrency, cryptoAsset)
		cancel()
		if err != nil {
			o.log.Warn("rate source failed",
				zap.String("source", src.Name()), zap.Error(err))
			continue
		}
		if !rate.IsPositive() {
			o.log.Warn("rate source returned non-positive rate",
				zap.String("source", src.Name()), zap.String("rate", rate.String()))
			continue
		}

		snap := &models.RateSnapshot{
			SnapshotID:   uuid.NewString(),
			BaseCurrency: fiatCurrency,
			QuoteAsset:   cryptoAsset,
			Rate:         rate,
			Source:       src.Name(),
			Confidence:   confidenceForRank(i),
			CapturedAt:   o.now(),
		}
		if err := o.store.InsertRateSnapshot(ctx, snap); err != nil {
			return nil, err
		}
		o.log.Info("rate locked",
			zap.String("pair", fiatCurrency+"/"+cryptoAsset),
			zap.String("rate", rate.String()),
			zap.String("source", src.Name()))
		return snap, nil
	}
	return nil, ErrRateUnavailable
}

// Fallback sources score lower so reconciliation reviews can weight them.
func confidenceForRank(rank int) decimal.Decimal {
	if rank == 0 {
		return decimal.NewFromInt(1)
	}
	return decimal.RequireFromString("0.8")
}
