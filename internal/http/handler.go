package http

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"math/big"
	"net/http"
	"time"

	"swapramp/internal/config"
	"swapramp/internal/models"
	"swapramp/internal/orchestrator"
	"swapramp/internal/processor"
	"swapramp/internal/wallet"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const maxWebhookBody = 1 << 20

// Orchestrator is the settlement surface the handlers drive.
type Orchestrator interface {
	HandlePaymentEvent(ctx context.Context, evt *processor.Event) (*models.Order, error)
	RecreateOrder(ctx context.Context, req orchestrator.RecoveryRequest) (*models.Order, error)
	Status(ctx context.Context, paymentRef string) (*orchestrator.StatusView, error)
	Advance(ctx context.Context, orderID string) error
}

type Verifier interface {
	VerifySignature(payload []byte, sigHeader string) error
}

type ChainReader interface {
	EthBalance(ctx context.Context, addr string) (*big.Int, error)
	TokenBalance(ctx context.Context, token, addr string) (*big.Int, error)
}

type Reconciler interface {
	RunOnce(ctx context.Context, periodStart, periodEnd time.Time) (*models.ReconciliationRecord, error)
}

type Handler struct {
	Orch     Orchestrator
	Verifier Verifier
	Chain    ChainReader
	Recon    Reconciler
	Cfg      *config.Store
	Log      *zap.Logger
}

func NewHandler(orch Orchestrator, verifier Verifier, chainReader ChainReader, recon Reconciler, cfg *config.Store, log *zap.Logger) *Handler {
	return &Handler{Orch: orch, Verifier: verifier, Chain: chainReader, Recon: recon, Cfg: cfg, Log: log}
}

// PaymentWebhook ingests processor events. The signature is verified over
// the raw body before anything is parsed.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	if err := h.Verifier.VerifySignature(payload, r.Header.Get("Processor-Signature")); err != nil {
		if errors.Is(err, processor.ErrStaleEvent) {
			writeError(w, http.StatusBadRequest, "event timestamp too old")
			return
		}
		writeError(w, http.StatusUnauthorized, "signature verification failed")
		return
	}

	evt, err := processor.ParseEvent(payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, "malformed event")
		return
	}

	order, err := h.Orch.HandlePaymentEvent(r.Context(), evt)
	if err != nil {
		h.respondOrchError(w, err, "webhook handling failed")
		return
	}

	resp := map[string]any{"received": true}
	if order != nil {
		resp["orderId"] = order.OrderID
		resp["status"] = order.Status
		if order.Status == models.OrderStripeConfirmed {
			h.advanceAsync(order.OrderID)
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// advanceAsync kicks settlement without holding the webhook response open.
func (h *Handler) advanceAsync(orderID string) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		if err := h.Orch.Advance(ctx, orderID); err != nil {
			h.Log.Error("inline advance failed",
				zap.String("order", orderID), zap.Error(err))
		}
	}()
}

func (h *Handler) SwapStatus(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "paymentRef")
	if ref == "" {
		writeError(w, http.StatusBadRequest, "missing payment reference")
		return
	}

	view, err := h.Orch.Status(r.Context(), ref)
	if err != nil {
		h.respondOrchError(w, err, "status lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type recoverRequest struct {
	PaymentReference   string          `json:"paymentReference"`
	ClientOrderID      string          `json:"clientOrderId"`
	UserID             string          `json:"userId"`
	FiatCurrency       string          `json:"fiatCurrency"`
	FiatAmount         decimal.Decimal `json:"fiatAmount"`
	TokenSymbol        string          `json:"tokenSymbol"`
	DestinationAddress string          `json:"destinationAddress"`
}

// RecoverSwap recreates an order whose creation event was lost.
func (h *Handler) RecoverSwap(w http.ResponseWriter, r *http.Request) {
	var req recoverRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	order, err := h.Orch.RecreateOrder(r.Context(), orchestrator.RecoveryRequest{
		PaymentReference:   req.PaymentReference,
		ClientOrderID:      req.ClientOrderID,
		UserID:             req.UserID,
		FiatCurrency:       req.FiatCurrency,
		FiatAmount:         req.FiatAmount,
		TokenSymbol:        req.TokenSymbol,
		DestinationAddress: req.DestinationAddress,
	})
	if err != nil {
		h.respondOrchError(w, err, "recovery failed")
		return
	}

	if order.Status == models.OrderStripeConfirmed {
		h.advanceAsync(order.OrderID)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"orderId": order.OrderID,
		"status":  order.Status,
	})
}

type balanceView struct {
	Balance      string `json:"balance"`
	Minimum      string `json:"minimum"`
	NeedsFunding bool   `json:"needsFunding"`
}

// WalletBalances reports hot-wallet funding levels for operators.
func (h *Handler) WalletBalances(w http.ResponseWriter, r *http.Request) {
	cfg := h.Cfg.Current()
	addr := cfg.Wallet.HotAddress

	ethRaw, err := h.Chain.EthBalance(r.Context(), addr)
	if err != nil {
		writeError(w, http.StatusBadGateway, "eth balance lookup failed")
		return
	}
	tokenRaw, err := h.Chain.TokenBalance(r.Context(), cfg.Chain.TokenAddress, addr)
	if err != nil {
		writeError(w, http.StatusBadGateway, "token balance lookup failed")
		return
	}

	eth, err := wallet.FromBaseUnits(ethRaw.String(), 18)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "balance conversion failed")
		return
	}
	token, err := wallet.FromBaseUnits(tokenRaw.String(), cfg.Chain.TokenDecimals)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "balance conversion failed")
		return
	}

	minEth := decimal.NewFromFloat(cfg.Wallet.MinEthBalance)
	minToken := decimal.NewFromFloat(cfg.Wallet.MinTokenBalance)
	writeJSON(w, http.StatusOK, map[string]any{
		"address": addr,
		"eth": balanceView{
			Balance:      eth.String(),
			Minimum:      minEth.String(),
			NeedsFunding: eth.LessThan(minEth),
		},
		cfg.Chain.TokenSymbol: balanceView{
			Balance:      token.String(),
			Minimum:      minToken.String(),
			NeedsFunding: token.LessThan(minToken),
		},
	})
}

type reconcileRequest struct {
	PeriodStart *time.Time `json:"periodStart"`
	PeriodEnd   *time.Time `json:"periodEnd"`
}

// TriggerReconcile runs one reconciliation pass on demand.
func (h *Handler) TriggerReconcile(w http.ResponseWriter, r *http.Request) {
	var req reconcileRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid json body")
			return
		}
	}

	end := time.Now().UTC()
	if req.PeriodEnd != nil {
		end = req.PeriodEnd.UTC()
	}
	interval := time.Duration(h.Cfg.Current().Worker.ReconcileIntervalMinutes) * time.Minute
	start := end.Add(-interval)
	if req.PeriodStart != nil {
		start = req.PeriodStart.UTC()
	}

	rec, err := h.Recon.RunOnce(r.Context(), start, end)
	if err != nil {
		writeError(w, http.StatusBadGateway, "reconciliation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"recordId":         rec.RecordID,
		"status":           rec.Status,
		"fiatDifference":   rec.FiatDifference.String(),
		"cryptoDifference": rec.CryptoDifference.String(),
	})
}

func (h *Handler) respondOrchError(w http.ResponseWriter, err error, fallback string) {
	switch {
	case errors.Is(err, orchestrator.ErrValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, orchestrator.ErrOrderNotFound):
		writeError(w, http.StatusNotFound, "order not found")
	case errors.Is(err, orchestrator.ErrMaintenance):
		writeError(w, http.StatusServiceUnavailable, "maintenance mode")
	default:
		h.Log.Error(fallback, zap.Error(err))
		writeError(w, http.StatusInternalServerError, fallback)
	}
}
