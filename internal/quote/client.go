package quote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var ErrQuoteExpired = errors.New("acquisition quote expired")

// Quote is one executable swap quote from the acquisition venue.
type Quote struct {
	QuoteID    string          `json:"quoteId"`
	SellAsset  string          `json:"sellAsset"`
	BuyAsset   string          `json:"buyAsset"`
	SellAmount decimal.Decimal `json:"sellAmount"`
	BuyAmount  decimal.Decimal `json:"buyAmount"`
	Price      decimal.Decimal `json:"price"`
	ExpiresAt  time.Time       `json:"expiresAt"`
	Tx         json.RawMessage `json:"tx"`
}

func (q *Quote) Expired(now time.Time) bool {
	return !q.ExpiresAt.IsZero() && now.After(q.ExpiresAt)
}

// ExecutionTx is the venue-built transaction inside the opaque payload.
type ExecutionTx struct {
	To    string `json:"to"`
	Data  string `json:"data"`
	Value string `json:"value"`
}

// DecodeExecutionTx parses a stored quote payload back into the venue
// transaction.
func DecodeExecutionTx(payload []byte) (*ExecutionTx, error) {
	var tx ExecutionTx
	if err := json.Unmarshal(payload, &tx); err != nil {
		return nil, err
	}
	if tx.To == "" || tx.Data == "" {
		return nil, errors.New("quote payload has no executable transaction")
	}
	return &tx, nil
}

// Client wraps the venue's swap-quote API.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

// GetQuote converts a sell amount into a purchasable buy amount plus the
// execution payload. One shot, no venue-side retry.
func (c *Client) GetQuote(ctx context.Context, sellAsset, buyAsset string, sellAmount decimal.Decimal) (*Quote, error) {
	values := url.Values{}
	values.Set("sellAsset", sellAsset)
	values.Set("buyAsset", buyAsset)
	values.Set("sellAmount", sellAmount.String())
	endpoint := c.baseURL + "/v1/quote?" + values.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(body))
		if msg != "" {
			return nil, fmt.Errorf("venue http status %d: %s", resp.StatusCode, msg)
		}
		return nil, fmt.Errorf("venue http status %d", resp.StatusCode)
	}

	var q Quote
	if err := json.NewDecoder(resp.Body).Decode(&q); err != nil {
		return nil, err
	}
	if q.QuoteID == "" || !q.BuyAmount.IsPositive() {
		return nil, errors.New("venue returned an unusable quote")
	}
	return &q, nil
}
