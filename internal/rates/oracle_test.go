package rates

import (
	"context"
	"errors"
	"testing"
	"time"

	"swapramp/internal/models"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeSource struct {
	name string
	rate decimal.Decimal
	err  error
}

func (f fakeSource) Name() string { return f.name }

func (f fakeSource) Fetch(ctx context.Context, fiat, crypto string) (decimal.Decimal, error) {
	return f.rate, f.err
}

type memSnapshots struct {
	saved []*models.RateSnapshot
}

func (m *memSnapshots) InsertRateSnapshot(ctx context.Context, snap *models.RateSnapshot) error {
	m.saved = append(m.saved, snap)
	return nil
}

func TestLockRatePrimarySource(t *testing.T) {
	store := &memSnapshots{}
	oracle := NewOracle([]Source{
		fakeSource{name: "primary", rate: decimal.RequireFromString("1.34")},
		fakeSource{name: "backup", rate: decimal.RequireFromString("1.30")},
	}, store, time.Second, zap.NewNop())

	snap, err := oracle.LockRate(context.Background(), "GBP", "USDC")
	require.NoError(t, err)

	assert.Equal(t, "primary", snap.Source)
	assert.Equal(t, "1.34", snap.Rate.String())
	assert.Equal(t, "GBP", snap.BaseCurrency)
	assert.Equal(t, "USDC", snap.QuoteAsset)
	assert.True(t, snap.Confidence.Equal(decimal.NewFromInt(1)))
	require.Len(t, store.saved, 1)
}

func TestLockRateFallsBack(t *testing.T) {
	store := &memSnapshots{}
	oracle := NewOracle([]Source{
		fakeSource{name: "primary", err: errors.New("timeout")},
		fakeSource{name: "zero", rate: decimal.Zero},
		fakeSource{name: "backup", rate: decimal.RequireFromString("1.30")},
	}, store, time.Second, zap.NewNop())

	snap, err := oracle.LockRate(context.Background(), "GBP", "USDC")
	require.NoError(t, err)

	assert.Equal(t, "backup", snap.Source)
	assert.True(t, snap.Confidence.LessThan(decimal.NewFromInt(1)))
}

func TestLockRateAllSourcesFail(t *testing.T) {
	oracle := NewOracle([]Source{
		fakeSource{name: "a", err: errors.New("down")},
		fakeSource{name: "b", rate: decimal.RequireFromString("-1")},
	}, &memSnapshots{}, time.Second, zap.NewNop())

	_, err := oracle.LockRate(context.Background(), "GBP", "USDC")
	require.ErrorIs(t, err, ErrRateUnavailable)
}
