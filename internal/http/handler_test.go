package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"swapramp/internal/config"
	"swapramp/internal/models"
	"swapramp/internal/orchestrator"
	"swapramp/internal/processor"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeOrch struct {
	order    *models.Order
	view     *orchestrator.StatusView
	err      error
	advanced chan string
}

func (f *fakeOrch) HandlePaymentEvent(ctx context.Context, evt *processor.Event) (*models.Order, error) {
	return f.order, f.err
}

func (f *fakeOrch) RecreateOrder(ctx context.Context, req orchestrator.RecoveryRequest) (*models.Order, error) {
	return f.order, f.err
}

func (f *fakeOrch) Status(ctx context.Context, paymentRef string) (*orchestrator.StatusView, error) {
	if f.view == nil {
		return nil, orchestrator.ErrOrderNotFound
	}
	return f.view, nil
}

func (f *fakeOrch) Advance(ctx context.Context, orderID string) error {
	select {
	case f.advanced <- orderID:
	default:
	}
	return nil
}

type fakeBalances struct {
	eth   *big.Int
	token *big.Int
}

func (f *fakeBalances) EthBalance(ctx context.Context, addr string) (*big.Int, error) {
	return f.eth, nil
}

func (f *fakeBalances) TokenBalance(ctx context.Context, token, addr string) (*big.Int, error) {
	return f.token, nil
}

type fakeRecon struct {
	rec *models.ReconciliationRecord
}

func (f *fakeRecon) RunOnce(ctx context.Context, start, end time.Time) (*models.ReconciliationRecord, error) {
	return f.rec, nil
}

func serverConfig() *config.Store {
	cfg := &config.Config{}
	cfg.Chain.TokenSymbol = "USDC"
	cfg.Chain.TokenAddress = "0x2791Bca1f2de4661ED88A30C99A7a9449Aa84174"
	cfg.Chain.TokenDecimals = 6
	cfg.Wallet.HotAddress = "0x1111111111111111111111111111111111111111"
	cfg.Wallet.MinEthBalance = 0.5
	cfg.Wallet.MinTokenBalance = 1000
	cfg.Worker.ReconcileIntervalMinutes = 60
	return config.NewStore(cfg)
}

type fixture struct {
	orch     *fakeOrch
	verifier *processor.Client
	srv      *httptest.Server
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orch := &fakeOrch{advanced: make(chan string, 1)}
	verifier := processor.NewClient("https://example.com", "key", "whsec_test")
	recon := &fakeRecon{rec: &models.ReconciliationRecord{
		RecordID:         "rec-1",
		Status:           models.ReconReconciled,
		FiatDifference:   decimal.Zero,
		CryptoDifference: decimal.Zero,
	}}
	balances := &fakeBalances{
		eth:   big.NewInt(2_000_000_000_000_000_000), // 2 ETH
		token: big.NewInt(500_000_000),               // 500 USDC, below minimum
	}

	h := NewHandler(orch, verifier, balances, recon, serverConfig(), zap.NewNop())
	srv := httptest.NewServer(NewServer(h).Router)
	t.Cleanup(srv.Close)
	return &fixture{orch: orch, verifier: verifier, srv: srv}
}

func eventBody() []byte {
	return []byte(`{
		"type": "payment.confirmed",
		"payment": {
			"reference": "pi_123",
			"status": "succeeded",
			"amount": "10.00",
			"currency": "GBP",
			"metadata": {
				"user_id": "u-1",
				"destination_address": "0x3333333333333333333333333333333333333333",
				"token_symbol": "USDC"
			}
		}
	}`)
}

func postWebhook(t *testing.T, f *fixture, body []byte, sig string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.srv.URL+"/webhooks/payments", bytes.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Processor-Signature", sig)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestWebhookAcceptsSignedEvent(t *testing.T) {
	f := newFixture(t)
	f.orch.order = &models.Order{OrderID: "ord-1", Status: models.OrderStripeConfirmed}

	body := eventBody()
	resp := postWebhook(t, f, body, f.verifier.SignPayload(body, time.Now()))
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, true, out["received"])
	assert.Equal(t, "ord-1", out["orderId"])

	select {
	case id := <-f.orch.advanced:
		assert.Equal(t, "ord-1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("expected settlement to be kicked off")
	}
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture(t)
	resp := postWebhook(t, f, eventBody(), "t=1,v1=deadbeef")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWebhookRejectsMalformedEvent(t *testing.T) {
	f := newFixture(t)
	body := []byte(`{"type": "", "payment": {}}`)
	resp := postWebhook(t, f, body, f.verifier.SignPayload(body, time.Now()))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestWebhookMaintenanceMode(t *testing.T) {
	f := newFixture(t)
	f.orch.err = orchestrator.ErrMaintenance

	body := eventBody()
	resp := postWebhook(t, f, body, f.verifier.SignPayload(body, time.Now()))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestSwapStatus(t *testing.T) {
	f := newFixture(t)
	f.orch.view = &orchestrator.StatusView{
		Status:        models.OrderSwapExecuting,
		TxHash:        "0xabc",
		Confirmations: 2,
		CurrentStep:   "acquiring asset",
	}

	resp, err := http.Get(f.srv.URL + "/swaps/pi_123/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var view orchestrator.StatusView
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&view))
	assert.Equal(t, models.OrderSwapExecuting, view.Status)
	assert.Equal(t, "0xabc", view.TxHash)
}

func TestSwapStatusNotFound(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/swaps/pi_missing/status")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRecoverSwap(t *testing.T) {
	f := newFixture(t)
	f.orch.order = &models.Order{OrderID: "ord-9", Status: models.OrderStripeConfirmed}

	body := []byte(`{
		"paymentReference": "pi_999",
		"userId": "u-1",
		"fiatCurrency": "GBP",
		"fiatAmount": "10.00",
		"tokenSymbol": "USDC",
		"destinationAddress": "0x3333333333333333333333333333333333333333"
	}`)
	resp, err := http.Post(f.srv.URL+"/swaps/recover", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "ord-9", out["orderId"])
}

func TestWalletBalances(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Get(f.srv.URL + "/admin/wallet/balances")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out struct {
		Address string       `json:"address"`
		Eth     balanceView  `json:"eth"`
		USDC    *balanceView `json:"USDC"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "0x1111111111111111111111111111111111111111", out.Address)
	assert.Equal(t, "2", out.Eth.Balance)
	assert.False(t, out.Eth.NeedsFunding)
	require.NotNil(t, out.USDC)
	assert.Equal(t, "500", out.USDC.Balance)
	assert.True(t, out.USDC.NeedsFunding)
}

func TestTriggerReconcile(t *testing.T) {
	f := newFixture(t)

	resp, err := http.Post(f.srv.URL+"/admin/reconcile", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "rec-1")
	assert.Contains(t, string(body), string(models.ReconReconciled))
}

func TestHealth(t *testing.T) {
	f := newFixture(t)
	resp, err := http.Get(f.srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
