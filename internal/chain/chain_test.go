package chain

import (
	"encoding/hex"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestERC20TransferData(t *testing.T) {
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	data := ERC20TransferData(to, big.NewInt(13330000))

	require.Len(t, data, 68)
	assert.Equal(t, "a9059cbb", hex.EncodeToString(data[:4]))
	assert.Equal(t, to.Bytes(), data[4+12:4+32])
	assert.Equal(t, big.NewInt(13330000), new(big.Int).SetBytes(data[36:]))
}

func TestBalanceOfData(t *testing.T) {
	addr := common.HexToAddress("0x1111111111111111111111111111111111111111")
	data := balanceOfData(addr)

	require.Len(t, data, 36)
	assert.Equal(t, "70a08231", hex.EncodeToString(data[:4]))
	assert.Equal(t, addr.Bytes(), data[4+12:])
}

func TestParseNewHead(t *testing.T) {
	n, ok, err := ParseNewHead([]byte(`{
		"jsonrpc": "2.0",
		"method": "eth_subscription",
		"params": {"subscription": "0x1", "result": {"number": "0x10d4f"}}
	}`))
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint64(0x10d4f), n)
}

func TestParseNewHeadIgnoresAck(t *testing.T) {
	_, ok, err := ParseNewHead([]byte(`{"jsonrpc": "2.0", "id": 1, "result": "0xsub"}`))
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestParseNewHeadSurfacesErrors(t *testing.T) {
	_, _, err := ParseNewHead([]byte(`{"error": {"code": -32000, "message": "too many subscriptions"}}`))
	require.Error(t, err)
}

func TestDefaultWSEndpoint(t *testing.T) {
	assert.Equal(t, "wss://rpc.example.com", DefaultWSEndpoint("https://rpc.example.com/"))
	assert.Equal(t, "ws://localhost:8545", DefaultWSEndpoint("http://localhost:8545"))
	assert.Equal(t, "wss://already.example.com", DefaultWSEndpoint("wss://already.example.com"))
	assert.Equal(t, "", DefaultWSEndpoint("ipc:///tmp/geth.ipc"))
}

func TestSanitizeEndpoints(t *testing.T) {
	out := sanitizeEndpoints([]string{
		" https://a.example.com/ ",
		"https://a.example.com",
		"",
		"https://b.example.com",
	})
	assert.Equal(t, []string{"https://a.example.com", "https://b.example.com"}, out)
}
