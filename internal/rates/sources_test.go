package rates

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"swapramp/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCoinGeckoInvertsPrice(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/simple/price", r.URL.Path)
		assert.Equal(t, "usd-coin", r.URL.Query().Get("ids"))
		assert.Equal(t, "gbp", r.URL.Query().Get("vs_currencies"))
		_, _ = w.Write([]byte(`{"usd-coin": {"gbp": 0.8}}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(config.RateSourceConfig{
		Name: "coingecko", Kind: "coingecko", BaseURL: srv.URL, AssetID: "usd-coin",
	})
	rate, err := src.Fetch(context.Background(), "GBP", "USDC")
	require.NoError(t, err)
	// 0.80 GBP per USDC means 1.25 USDC per GBP.
	assert.Equal(t, "1.25", rate.String())
}

func TestCryptoCompareDirectRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/data/price", r.URL.Path)
		assert.Equal(t, "GBP", r.URL.Query().Get("fsym"))
		assert.Equal(t, "USDC", r.URL.Query().Get("tsyms"))
		_, _ = w.Write([]byte(`{"USDC": 1.34}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(config.RateSourceConfig{
		Name: "cryptocompare", Kind: "cryptocompare", BaseURL: srv.URL, AssetID: "USDC",
	})
	rate, err := src.Fetch(context.Background(), "GBP", "USDC")
	require.NoError(t, err)
	assert.Equal(t, "1.34", rate.String())
}

func TestFetchRejectsMissingPair(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	src := NewHTTPSource(config.RateSourceConfig{
		Name: "coingecko", Kind: "coingecko", BaseURL: srv.URL, AssetID: "usd-coin",
	})
	_, err := src.Fetch(context.Background(), "GBP", "USDC")
	require.Error(t, err)
}

func TestFetchUnknownKind(t *testing.T) {
	src := NewHTTPSource(config.RateSourceConfig{Name: "x", Kind: "mystery"})
	_, err := src.Fetch(context.Background(), "GBP", "USDC")
	require.Error(t, err)
}
