package rates

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"swapramp/internal/config"

	"github.com/shopspring/decimal"
)

// HTTPSource fetches a quote from one of the supported provider shapes.
// Both shapes reduce to "token units per one fiat unit".
type HTTPSource struct {
	name    string
	kind    string
	baseURL string
	assetID string
	client  *http.Client
}

func NewHTTPSource(cfg config.RateSourceConfig) *HTTPSource {
	return &HTTPSource{
		name:    cfg.Name,
		kind:    cfg.Kind,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		assetID: cfg.AssetID,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSource) Name() string { return s.name }

func (s *HTTPSource) Fetch(ctx context.Context, fiatCurrency, cryptoAsset string) (decimal.Decimal, error) {
	switch s.kind {
	case "coingecko":
		return s.fetchCoinGecko(ctx, fiatCurrency)
	case "cryptocompare":
		return s.fetchCryptoCompare(ctx, fiatCurrency, cryptoAsset)
	default:
		return decimal.Zero, fmt.Errorf("unknown rate source kind %q", s.kind)
	}
}

// CoinGecko reports the token price in fiat; invert to get token-per-fiat.
func (s *HTTPSource) fetchCoinGecko(ctx context.Context, fiatCurrency string) (decimal.Decimal, error) {
	vs := strings.ToLower(fiatCurrency)
	endpoint := fmt.Sprintf("%s/simple/price?ids=%s&vs_currencies=%s",
		s.baseURL, url.QueryEscape(s.assetID), url.QueryEscape(vs))

	var body map[string]map[string]decimal.Decimal
	if err := s.getJSON(ctx, endpoint, &body); err != nil {
		return decimal.Zero, err
	}
	price, ok := body[s.assetID][vs]
	if !ok {
		return decimal.Zero, fmt.Errorf("pair %s/%s missing from response", s.assetID, vs)
	}
	if !price.IsPositive() {
		return decimal.Zero, fmt.Errorf("non-positive price %s", price)
	}
	return decimal.NewFromInt(1).Div(price), nil
}

// CryptoCompare reports token units per fiat unit directly.
func (s *HTTPSource) fetchCryptoCompare(ctx context.Context, fiatCurrency, cryptoAsset string) (decimal.Decimal, error) {
	endpoint := fmt.Sprintf("%s/data/price?fsym=%s&tsyms=%s",
		s.baseURL, url.QueryEscape(fiatCurrency), url.QueryEscape(cryptoAsset))

	var body map[string]decimal.Decimal
	if err := s.getJSON(ctx, endpoint, &body); err != nil {
		return decimal.Zero, err
	}
	rate, ok := body[cryptoAsset]
	if !ok {
		return decimal.Zero, fmt.Errorf("asset %s missing from response", cryptoAsset)
	}
	return rate, nil
}

func (s *HTTPSource) getJSON(ctx context.Context, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("rate source http status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
