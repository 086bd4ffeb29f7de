package wallet

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"swapramp/internal/chain"
	"swapramp/internal/config"
	"swapramp/internal/models"
	"swapramp/internal/quote"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var ErrBroadcastFailed = errors.New("transaction broadcast failed")

// ChainClient is the on-chain surface the tracker needs.
type ChainClient interface {
	LatestBlock(ctx context.Context) (uint64, error)
	SendTokenTransfer(ctx context.Context, token, to string, amount *big.Int) (*chain.Sent, error)
	SendCall(ctx context.Context, to string, data []byte, value *big.Int) (*chain.Sent, error)
	Receipt(ctx context.Context, txHash string) (*chain.Receipt, error)
}

type OpStore interface {
	CreateWalletOperation(ctx context.Context, op *models.WalletOperation) error
	GetWalletOperation(ctx context.Context, opID string) (*models.WalletOperation, error)
	UpdateWalletOperation(ctx context.Context, op *models.WalletOperation) error
	ListOpenWalletOperations(ctx context.Context) ([]*models.WalletOperation, error)
}

// Tracker owns WalletOperation records: it broadcasts transfers from the
// hot wallet and advances confirmation state. Submission is serialized per
// wallet because the nonce is a shared resource; polling is parallel.
type Tracker struct {
	store OpStore
	chain ChainClient
	cfg   *config.Store
	log   *zap.Logger

	submitMu sync.Mutex
	nudge    chan struct{}
	now      func() time.Time
}

func NewTracker(store OpStore, chainClient ChainClient, cfg *config.Store, log *zap.Logger) *Tracker {
	return &Tracker{
		store: store,
		chain: chainClient,
		cfg:   cfg,
		log:   log,
		nudge: make(chan struct{}, 1),
		now:   func() time.Time { return time.Now().UTC() },
	}
}

// SubmitAcquisition broadcasts the venue execution payload stored on the
// order's quote.
func (t *Tracker) SubmitAcquisition(ctx context.Context, order *models.Order, expected decimal.Decimal) (*models.WalletOperation, error) {
	cfg := t.cfg.Current()
	execTx, err := quote.DecodeExecutionTx(order.QuotePayload)
	if err != nil {
		return nil, err
	}
	value := big.NewInt(0)
	if execTx.Value != "" {
		if _, ok := value.SetString(execTx.Value, 10); !ok {
			return nil, fmt.Errorf("quote payload has bad value %q", execTx.Value)
		}
	}
	data, err := hexutil.Decode(execTx.Data)
	if err != nil {
		return nil, fmt.Errorf("quote payload has bad calldata: %w", err)
	}

	op := t.newOperation(order, models.OpAcquisition, execTx.To, expected, cfg)
	return t.submit(ctx, op, func(sctx context.Context) (*chain.Sent, error) {
		return t.chain.SendCall(sctx, execTx.To, data, value)
	})
}

// SubmitPayout broadcasts the ERC-20 transfer from the hot wallet to the
// user's destination address.
func (t *Tracker) SubmitPayout(ctx context.Context, order *models.Order, amount decimal.Decimal) (*models.WalletOperation, error) {
	cfg := t.cfg.Current()
	op := t.newOperation(order, models.OpPayout, order.DestinationAddress, amount, cfg)
	baseUnits := ToBaseUnits(amount, cfg.Chain.TokenDecimals)
	return t.submit(ctx, op, func(sctx context.Context) (*chain.Sent, error) {
		return t.chain.SendTokenTransfer(sctx, cfg.Chain.TokenAddress, order.DestinationAddress, baseUnits)
	})
}

func (t *Tracker) newOperation(order *models.Order, opType models.WalletOpType, to string, amount decimal.Decimal, cfg *config.Config) *models.WalletOperation {
	now := t.now()
	return &models.WalletOperation{
		OpID:          uuid.NewString(),
		OrderID:       order.OrderID,
		OpType:        opType,
		Token:         order.TokenSymbol,
		Amount:        ToBaseUnits(amount, cfg.Chain.TokenDecimals).String(),
		FromAddress:   cfg.Wallet.HotAddress,
		ToAddress:     to,
		ChainID:       cfg.Chain.ChainID,
		RequiredConfs: cfg.Swap.RequiredConfirmations,
		Status:        models.OpPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

func (t *Tracker) submit(ctx context.Context, op *models.WalletOperation, send func(context.Context) (*chain.Sent, error)) (*models.WalletOperation, error) {
	if err := t.store.CreateWalletOperation(ctx, op); err != nil {
		return nil, err
	}

	// One in-flight submission per hot wallet, or concurrent broadcasts
	// race on the nonce.
	t.submitMu.Lock()
	sent, err := send(ctx)
	t.submitMu.Unlock()

	if err != nil {
		msg := err.Error()
		op.Status = models.OpFailed
		op.ErrorMessage = &msg
		if uerr := t.store.UpdateWalletOperation(ctx, op); uerr != nil {
			return nil, uerr
		}
		t.log.Error("broadcast failed",
			zap.String("op", op.OpID), zap.String("type", string(op.OpType)), zap.Error(err))
		return op, fmt.Errorf("%w: %v", ErrBroadcastFailed, err)
	}

	now := t.now()
	gasPrice := sent.GasPrice.String()
	op.TxHash = &sent.TxHash
	op.GasPrice = &gasPrice
	op.Status = models.OpBroadcast
	op.BroadcastAt = &now
	if err := t.store.UpdateWalletOperation(ctx, op); err != nil {
		return nil, err
	}
	t.log.Info("operation broadcast",
		zap.String("op", op.OpID), zap.String("type", string(op.OpType)),
		zap.String("tx", sent.TxHash), zap.Uint64("nonce", sent.Nonce))
	return op, nil
}

// Poll advances one operation's confirmation state. Cheap and idempotent;
// transient RPC errors leave the record untouched for the next cycle.
func (t *Tracker) Poll(ctx context.Context, op *models.WalletOperation) (*models.WalletOperation, error) {
	if op.Status.Terminal() {
		return op, nil
	}
	maxWait := t.cfg.Current().WalletMaxWait()
	now := t.now()

	if op.TxHash == nil {
		// Stuck before broadcast, likely a crash mid-submit.
		if now.Sub(op.CreatedAt) > maxWait {
			return t.fail(ctx, op, "never broadcast within wait window")
		}
		return op, nil
	}

	receipt, err := t.chain.Receipt(ctx, *op.TxHash)
	if err != nil {
		t.log.Warn("receipt check failed, will retry",
			zap.String("op", op.OpID), zap.Error(err))
		return op, nil
	}

	if !receipt.Found {
		since := op.CreatedAt
		if op.BroadcastAt != nil {
			since = *op.BroadcastAt
		}
		if now.Sub(since) > maxWait {
			return t.fail(ctx, op, "not included within wait window")
		}
		return op, nil
	}

	if receipt.Status == 0 {
		t.recordGas(op, receipt)
		return t.fail(ctx, op, "transaction reverted")
	}

	latest, err := t.chain.LatestBlock(ctx)
	if err != nil {
		t.log.Warn("latest block check failed, will retry",
			zap.String("op", op.OpID), zap.Error(err))
		return op, nil
	}

	blockNumber := int64(receipt.BlockNumber)
	op.BlockNumber = &blockNumber
	confs := int64(latest) - blockNumber + 1
	if confs > op.Confirmations {
		op.Confirmations = confs
	}
	t.recordGas(op, receipt)

	if op.Confirmations >= op.RequiredConfs {
		op.Status = models.OpConfirmed
		op.ConfirmedAt = &now
	} else {
		op.Status = models.OpConfirming
	}
	if err := t.store.UpdateWalletOperation(ctx, op); err != nil {
		return nil, err
	}
	if op.Status == models.OpConfirmed {
		t.log.Info("operation confirmed",
			zap.String("op", op.OpID), zap.String("tx", *op.TxHash),
			zap.Int64("confirmations", op.Confirmations))
	}
	return op, nil
}

func (t *Tracker) fail(ctx context.Context, op *models.WalletOperation, reason string) (*models.WalletOperation, error) {
	op.Status = models.OpFailed
	op.ErrorMessage = &reason
	if err := t.store.UpdateWalletOperation(ctx, op); err != nil {
		return nil, err
	}
	t.log.Error("operation failed",
		zap.String("op", op.OpID), zap.String("reason", reason))
	return op, nil
}

func (t *Tracker) recordGas(op *models.WalletOperation, receipt *chain.Receipt) {
	gasUsed := new(big.Int).SetUint64(receipt.GasUsed)
	used := gasUsed.String()
	op.GasUsed = &used
	if receipt.EffectiveGasPrice != nil {
		price := receipt.EffectiveGasPrice.String()
		op.GasPrice = &price
		fee := new(big.Int).Mul(gasUsed, receipt.EffectiveGasPrice).String()
		op.GasFee = &fee
	}
}

// PollAll polls every open operation, in parallel.
func (t *Tracker) PollAll(ctx context.Context) error {
	ops, err := t.store.ListOpenWalletOperations(ctx)
	if err != nil {
		return err
	}
	var wg sync.WaitGroup
	for _, op := range ops {
		wg.Add(1)
		go func(op *models.WalletOperation) {
			defer wg.Done()
			if _, err := t.Poll(ctx, op); err != nil {
				t.log.Error("poll failed", zap.String("op", op.OpID), zap.Error(err))
			}
		}(op)
	}
	wg.Wait()
	return nil
}

// Nudge requests an immediate poll cycle (from the newHeads listener).
func (t *Tracker) Nudge() {
	select {
	case t.nudge <- struct{}{}:
	default:
	}
}

// Run polls on a ticker and on nudges until the context ends.
func (t *Tracker) Run(ctx context.Context) {
	interval := time.Duration(t.cfg.Current().Worker.WalletPollSeconds) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := t.PollAll(ctx); err != nil {
			t.log.Error("poll cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-t.nudge:
		}
	}
}

// RunHeadListener keeps a newHeads subscription open and nudges the poll
// loop on each block.
func (t *Tracker) RunHeadListener(ctx context.Context, endpoint string) {
	if endpoint == "" {
		t.log.Info("head listener disabled: ws endpoint is empty")
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		client := chain.NewWSClient(endpoint)
		if err := client.Connect(ctx); err != nil {
			t.log.Warn("ws connect failed", zap.Error(err))
			time.Sleep(3 * time.Second)
			continue
		}
		if err := client.SubscribeNewHeads(ctx); err != nil {
			t.log.Warn("ws subscribe failed", zap.Error(err))
			client.Close()
			time.Sleep(3 * time.Second)
			continue
		}
		t.log.Info("head listener connected", zap.String("endpoint", endpoint))

		for {
			msg, err := client.Read(ctx)
			if err != nil {
				t.log.Warn("ws read failed", zap.Error(err))
				client.Close()
				break
			}
			if _, ok, err := chain.ParseNewHead(msg); err != nil {
				t.log.Warn("ws parse failed", zap.Error(err))
			} else if ok {
				t.Nudge()
			}
		}

		time.Sleep(2 * time.Second)
	}
}

// ToBaseUnits converts a token amount to integer base units.
func ToBaseUnits(amount decimal.Decimal, decimals int) *big.Int {
	return amount.Shift(int32(decimals)).BigInt()
}

// FromBaseUnits converts integer base units back to a token amount.
func FromBaseUnits(baseUnits string, decimals int) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(baseUnits)
	if err != nil {
		return decimal.Zero, err
	}
	return d.Shift(int32(-decimals)), nil
}
