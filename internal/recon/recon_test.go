package recon

import (
	"context"
	"math/big"
	"testing"
	"time"

	"swapramp/internal/config"
	"swapramp/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeReconStore struct {
	captured decimal.Decimal
	refunded decimal.Decimal
	acquired decimal.Decimal
	paidOut  decimal.Decimal
	records  []*models.ReconciliationRecord
}

func (f *fakeReconStore) SumFiatCaptured(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	return f.captured, nil
}

func (f *fakeReconStore) SumFiatRefunded(ctx context.Context, from, to time.Time) (decimal.Decimal, error) {
	return f.refunded, nil
}

func (f *fakeReconStore) SumConfirmedOpAmount(ctx context.Context, opType models.WalletOpType, from, to time.Time) (decimal.Decimal, error) {
	if opType == models.OpAcquisition {
		return f.acquired, nil
	}
	return f.paidOut, nil
}

func (f *fakeReconStore) InsertReconciliationRecord(ctx context.Context, rec *models.ReconciliationRecord) error {
	f.records = append(f.records, rec)
	return nil
}

type fakeBalance struct {
	available decimal.Decimal
}

func (f *fakeBalance) Balance(ctx context.Context, currency string) (decimal.Decimal, error) {
	return f.available, nil
}

type fakeChainReader struct {
	tokenBalance *big.Int
}

func (f *fakeChainReader) TokenBalance(ctx context.Context, token, addr string) (*big.Int, error) {
	return f.tokenBalance, nil
}

func reconConfig() *config.Store {
	cfg := &config.Config{}
	cfg.Chain.TokenAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	cfg.Chain.TokenDecimals = 6
	cfg.Wallet.HotAddress = "0x1111111111111111111111111111111111111111"
	cfg.Worker.ReconFiatCurrency = "USD"
	cfg.Worker.ReconFiatTolerance = 1.0
	cfg.Worker.ReconCryptoTolerance = 0.5
	return config.NewStore(cfg)
}

func TestRunOnceReconciled(t *testing.T) {
	st := &fakeReconStore{
		captured: decimal.RequireFromString("1000.00"),
		refunded: decimal.RequireFromString("50.00"),
		acquired: decimal.RequireFromString("2000000000"), // 2000 USDC in base units
		paidOut:  decimal.RequireFromString("1500000000"),
	}
	proc := &fakeBalance{available: decimal.RequireFromString("950.40")}
	ch := &fakeChainReader{tokenBalance: big.NewInt(500_200_000)} // 500.2 USDC

	job := NewJob(st, proc, ch, reconConfig(), zap.NewNop())
	rec, err := job.RunOnce(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	assert.Equal(t, models.ReconReconciled, rec.Status)
	assert.Equal(t, "950", rec.ExpectedFiat.String())
	assert.Equal(t, "0.4", rec.FiatDifference.String())
	assert.Equal(t, "500", rec.ExpectedCrypto.String())
	assert.Equal(t, "0.2", rec.CryptoDifference.String())
	require.Len(t, st.records, 1)
}

func TestRunOnceDetectsFiatDiscrepancy(t *testing.T) {
	st := &fakeReconStore{
		captured: decimal.RequireFromString("1000.00"),
		refunded: decimal.Zero,
		acquired: decimal.Zero,
		paidOut:  decimal.Zero,
	}
	proc := &fakeBalance{available: decimal.RequireFromString("900.00")}
	ch := &fakeChainReader{tokenBalance: big.NewInt(0)}

	job := NewJob(st, proc, ch, reconConfig(), zap.NewNop())
	rec, err := job.RunOnce(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	assert.Equal(t, models.ReconDiscrepancy, rec.Status)
	assert.Equal(t, "-100", rec.FiatDifference.String())
}

func TestRunOnceDetectsCryptoDiscrepancy(t *testing.T) {
	st := &fakeReconStore{
		captured: decimal.Zero,
		refunded: decimal.Zero,
		acquired: decimal.RequireFromString("100000000"), // 100 USDC expected on hand
		paidOut:  decimal.Zero,
	}
	proc := &fakeBalance{available: decimal.Zero}
	ch := &fakeChainReader{tokenBalance: big.NewInt(10_000_000)} // only 10 USDC

	job := NewJob(st, proc, ch, reconConfig(), zap.NewNop())
	rec, err := job.RunOnce(context.Background(), time.Now().Add(-time.Hour), time.Now())
	require.NoError(t, err)

	assert.Equal(t, models.ReconDiscrepancy, rec.Status)
	assert.Equal(t, "-90", rec.CryptoDifference.String())
}
