package chain

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
)

const fallbackGasLimit = 120000

// Sent describes a broadcast transaction.
type Sent struct {
	TxHash   string
	Nonce    uint64
	GasPrice *big.Int
}

// Receipt is the inclusion state of a transaction. Found is false while the
// transaction is still in the mempool (or dropped).
type Receipt struct {
	Found             bool
	Status            uint64
	BlockNumber       uint64
	GasUsed           uint64
	EffectiveGasPrice *big.Int
}

// Client signs and submits transactions from the operator hot wallet and
// reads chain state over one RPC endpoint.
type Client struct {
	eth     *ethclient.Client
	chainID *big.Int
	key     *ecdsa.PrivateKey
	from    common.Address
}

func NewClient(rpcURL string, chainID int64, privKeyHex string) (*Client, error) {
	eth, err := ethclient.Dial(rpcURL)
	if err != nil {
		return nil, err
	}
	c := &Client{eth: eth, chainID: big.NewInt(chainID)}
	if privKeyHex != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(privKeyHex, "0x"))
		if err != nil {
			return nil, fmt.Errorf("parse hot wallet key: %w", err)
		}
		c.key = key
		c.from = crypto.PubkeyToAddress(key.PublicKey)
	}
	return c, nil
}

func (c *Client) From() string { return c.from.Hex() }

func (c *Client) LatestBlock(ctx context.Context) (uint64, error) {
	return c.eth.BlockNumber(ctx)
}

// SendTokenTransfer broadcasts an ERC-20 transfer from the hot wallet.
func (c *Client) SendTokenTransfer(ctx context.Context, token, to string, amount *big.Int) (*Sent, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("invalid recipient address %q", to)
	}
	data := ERC20TransferData(common.HexToAddress(to), amount)
	return c.send(ctx, common.HexToAddress(token), big.NewInt(0), data)
}

// SendCall broadcasts an arbitrary call, used for venue execution payloads.
func (c *Client) SendCall(ctx context.Context, to string, data []byte, value *big.Int) (*Sent, error) {
	if !common.IsHexAddress(to) {
		return nil, fmt.Errorf("invalid call target %q", to)
	}
	if value == nil {
		value = big.NewInt(0)
	}
	return c.send(ctx, common.HexToAddress(to), value, data)
}

func (c *Client) send(ctx context.Context, to common.Address, value *big.Int, data []byte) (*Sent, error) {
	if c.key == nil {
		return nil, errors.New("hot wallet key is not configured")
	}
	nonce, err := c.eth.PendingNonceAt(ctx, c.from)
	if err != nil {
		return nil, err
	}
	gasPrice, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, err
	}
	gasLimit, err := c.eth.EstimateGas(ctx, ethereum.CallMsg{
		From:  c.from,
		To:    &to,
		Value: value,
		Data:  data,
	})
	if err != nil {
		gasLimit = fallbackGasLimit
	}

	tx := types.NewTransaction(nonce, to, value, gasLimit, gasPrice, data)
	signed, err := types.SignTx(tx, types.NewEIP155Signer(c.chainID), c.key)
	if err != nil {
		return nil, err
	}
	if err := c.eth.SendTransaction(ctx, signed); err != nil {
		return nil, err
	}
	return &Sent{
		TxHash:   signed.Hash().Hex(),
		Nonce:    nonce,
		GasPrice: gasPrice,
	}, nil
}

func (c *Client) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	r, err := c.eth.TransactionReceipt(ctx, common.HexToHash(txHash))
	if err != nil {
		if errors.Is(err, ethereum.NotFound) {
			return &Receipt{Found: false}, nil
		}
		return nil, err
	}
	out := &Receipt{
		Found:             true,
		Status:            r.Status,
		GasUsed:           r.GasUsed,
		EffectiveGasPrice: r.EffectiveGasPrice,
	}
	if r.BlockNumber != nil {
		out.BlockNumber = r.BlockNumber.Uint64()
	}
	return out, nil
}

func (c *Client) EthBalance(ctx context.Context, addr string) (*big.Int, error) {
	return c.eth.BalanceAt(ctx, common.HexToAddress(addr), nil)
}

func (c *Client) TokenBalance(ctx context.Context, token, addr string) (*big.Int, error) {
	contract := common.HexToAddress(token)
	out, err := c.eth.CallContract(ctx, ethereum.CallMsg{
		To:   &contract,
		Data: balanceOfData(common.HexToAddress(addr)),
	}, nil)
	if err != nil {
		return nil, err
	}
	return new(big.Int).SetBytes(out), nil
}

// ERC20TransferData builds transfer(address,uint256) calldata.
func ERC20TransferData(to common.Address, amount *big.Int) []byte {
	data := make([]byte, 0, 4+32+32)
	data = append(data, 0xa9, 0x05, 0x9c, 0xbb) // transfer selector
	data = append(data, common.LeftPadBytes(to.Bytes(), 32)...)
	data = append(data, common.LeftPadBytes(amount.Bytes(), 32)...)
	return data
}

func balanceOfData(addr common.Address) []byte {
	data := make([]byte, 0, 4+32)
	data = append(data, 0x70, 0xa0, 0x82, 0x31) // balanceOf selector
	data = append(data, common.LeftPadBytes(addr.Bytes(), 32)...)
	return data
}
