package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrderStatusTransitions(t *testing.T) {
	assert.True(t, OrderPending.CanTransition(OrderStripeConfirmed))
	assert.True(t, OrderPending.CanTransition(OrderStripeFailed))
	assert.True(t, OrderStripeConfirmed.CanTransition(OrderRateLocked))
	assert.True(t, OrderRateLocked.CanTransition(OrderSwapExecuting))
	assert.True(t, OrderSwapExecuting.CanTransition(OrderSwapCompleted))
	assert.True(t, OrderSwapCompleted.CanTransition(OrderTransferExecuting))
	assert.True(t, OrderTransferExecuting.CanTransition(OrderCompleted))
	assert.True(t, OrderSwapFailed.CanTransition(OrderRefundPending))
	assert.True(t, OrderTransferFailed.CanTransition(OrderRefundPending))
	assert.True(t, OrderRefundPending.CanTransition(OrderRefunded))

	assert.False(t, OrderPending.CanTransition(OrderSwapExecuting))
	assert.False(t, OrderCompleted.CanTransition(OrderRefundPending))
	assert.False(t, OrderRefunded.CanTransition(OrderPending))
	assert.False(t, OrderTransferExecuting.CanTransition(OrderSwapFailed))
}

func TestOrderStatusTerminal(t *testing.T) {
	for _, s := range []OrderStatus{OrderCompleted, OrderStripeFailed, OrderRefunded} {
		assert.True(t, s.Terminal(), string(s))
	}
	for _, s := range []OrderStatus{OrderPending, OrderSwapExecuting, OrderSwapFailed, OrderRefundPending} {
		assert.False(t, s.Terminal(), string(s))
	}
}

func TestOrderStatusFailed(t *testing.T) {
	assert.True(t, OrderSwapFailed.Failed())
	assert.True(t, OrderTransferFailed.Failed())
	assert.False(t, OrderStripeFailed.Failed())
	assert.False(t, OrderCompleted.Failed())
}

func TestRateSnapshotExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	snap := RateSnapshot{CapturedAt: now}

	require.False(t, snap.Expired(now.Add(30*time.Second), time.Minute))
	require.True(t, snap.Expired(now.Add(61*time.Second), time.Minute))
}

func TestWalletOpStatusTerminal(t *testing.T) {
	assert.True(t, OpConfirmed.Terminal())
	assert.True(t, OpFailed.Terminal())
	assert.False(t, OpPending.Terminal())
	assert.False(t, OpBroadcast.Terminal())
	assert.False(t, OpConfirming.Terminal())
}
