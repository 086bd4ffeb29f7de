package quote

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetQuote(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/quote", r.URL.Path)
		assert.Equal(t, "GBP", r.URL.Query().Get("sellAsset"))
		assert.Equal(t, "USDC", r.URL.Query().Get("buyAsset"))
		assert.Equal(t, "9.95", r.URL.Query().Get("sellAmount"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"quoteId": "q-123",
			"sellAsset": "GBP",
			"buyAsset": "USDC",
			"sellAmount": "9.95",
			"buyAmount": "13.30",
			"price": "1.3367",
			"tx": {"to": "0x2222222222222222222222222222222222222222", "data": "0xdeadbeef", "value": "0"}
		}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "test-key", time.Second)
	q, err := c.GetQuote(context.Background(), "GBP", "USDC", decimal.RequireFromString("9.95"))
	require.NoError(t, err)

	assert.Equal(t, "q-123", q.QuoteID)
	assert.Equal(t, "13.3", q.BuyAmount.String())

	tx, err := DecodeExecutionTx(q.Tx)
	require.NoError(t, err)
	assert.Equal(t, "0x2222222222222222222222222222222222222222", tx.To)
	assert.Equal(t, "0xdeadbeef", tx.Data)
}

func TestGetQuoteRejectsUnusable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"quoteId": "", "buyAmount": "0"}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.GetQuote(context.Background(), "GBP", "USDC", decimal.NewFromInt(10))
	require.Error(t, err)
}

func TestGetQuoteVenueError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "insufficient liquidity", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "", time.Second)
	_, err := c.GetQuote(context.Background(), "GBP", "USDC", decimal.NewFromInt(10))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient liquidity")
}

func TestQuoteExpired(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	q := Quote{ExpiresAt: now.Add(30 * time.Second)}

	assert.False(t, q.Expired(now))
	assert.True(t, q.Expired(now.Add(time.Minute)))
	assert.False(t, (&Quote{}).Expired(now))
}

func TestDecodeExecutionTxRejectsEmpty(t *testing.T) {
	_, err := DecodeExecutionTx([]byte(`{"to": "", "data": ""}`))
	require.Error(t, err)
}
