package processor

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrBadSignature = errors.New("webhook signature mismatch")
	ErrStaleEvent   = errors.New("webhook event timestamp too old")
)

// signatureTolerance bounds webhook replay.
const signatureTolerance = 5 * time.Minute

const (
	EventPaymentConfirmed = "payment.confirmed"
	EventPaymentFailed    = "payment.failed"
)

// Metadata is the swap detail the client attached when creating the
// payment.
type Metadata struct {
	UserID             string `json:"user_id"`
	ClientOrderID      string `json:"client_order_id"`
	DestinationAddress string `json:"destination_address"`
	TokenSymbol        string `json:"token_symbol"`
}

// Payment mirrors the processor's payment object at our boundary.
type Payment struct {
	Reference string          `json:"reference"`
	Status    string          `json:"status"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
	Metadata  Metadata        `json:"metadata"`
}

// Event is one webhook delivery.
type Event struct {
	Type    string  `json:"type"`
	Payment Payment `json:"payment"`
}

// Client wraps the card-payment processor API.
type Client struct {
	baseURL       string
	apiKey        string
	webhookSecret string
	client        *http.Client
	now           func() time.Time
}

func NewClient(baseURL, apiKey, webhookSecret string) *Client {
	return &Client{
		baseURL:       strings.TrimRight(baseURL, "/"),
		apiKey:        apiKey,
		webhookSecret: webhookSecret,
		client:        &http.Client{Timeout: 15 * time.Second},
		now:           time.Now,
	}
}

// GetPayment fetches the processor's view of a payment by reference.
func (c *Client) GetPayment(ctx context.Context, reference string) (*Payment, error) {
	var p Payment
	if err := c.doJSON(ctx, http.MethodGet, "/v1/payments/"+reference, nil, &p); err != nil {
		return nil, err
	}
	return &p, nil
}

// Refund asks the processor to refund a captured payment in full. Returns
// the processor's refund id.
func (c *Client) Refund(ctx context.Context, reference string) (string, error) {
	body := map[string]string{"payment_reference": reference}
	var out struct {
		RefundID string `json:"refund_id"`
		Status   string `json:"status"`
	}
	if err := c.doJSON(ctx, http.MethodPost, "/v1/refunds", body, &out); err != nil {
		return "", err
	}
	if out.Status != "succeeded" && out.Status != "pending" {
		return "", fmt.Errorf("refund for %s returned status %q", reference, out.Status)
	}
	return out.RefundID, nil
}

// Balance returns the processor-reported available balance in a currency.
func (c *Client) Balance(ctx context.Context, currency string) (decimal.Decimal, error) {
	var out struct {
		Available decimal.Decimal `json:"available"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/v1/balance?currency="+currency, nil, &out); err != nil {
		return decimal.Zero, err
	}
	return out.Available, nil
}

// VerifySignature checks the "t=<unix>,v1=<hex hmac>" webhook header
// against the shared secret.
func (c *Client) VerifySignature(payload []byte, sigHeader string) error {
	var ts string
	var sig string
	for _, part := range strings.Split(sigHeader, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts = v
		case "v1":
			sig = v
		}
	}
	if ts == "" || sig == "" {
		return ErrBadSignature
	}

	sec, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return ErrBadSignature
	}
	age := c.now().Sub(time.Unix(sec, 0))
	if age > signatureTolerance || age < -signatureTolerance {
		return ErrStaleEvent
	}

	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

// SignPayload produces the webhook header for a payload, used by tests and
// local tooling.
func (c *Client) SignPayload(payload []byte, at time.Time) string {
	ts := strconv.FormatInt(at.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(c.webhookSecret))
	mac.Write([]byte(ts))
	mac.Write([]byte("."))
	mac.Write(payload)
	return "t=" + ts + ",v1=" + hex.EncodeToString(mac.Sum(nil))
}

func ParseEvent(payload []byte) (*Event, error) {
	var evt Event
	if err := json.Unmarshal(payload, &evt); err != nil {
		return nil, err
	}
	if evt.Type == "" || evt.Payment.Reference == "" {
		return nil, errors.New("webhook event missing type or payment reference")
	}
	return &evt, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		data, _ := io.ReadAll(resp.Body)
		msg := strings.TrimSpace(string(data))
		if msg != "" {
			return fmt.Errorf("processor http status %d: %s", resp.StatusCode, msg)
		}
		return fmt.Errorf("processor http status %d", resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
