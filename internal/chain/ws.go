package chain

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/gorilla/websocket"
)

// WSClient subscribes to newHeads so the wallet tracker can poll right
// after a block instead of waiting for its ticker.
type WSClient struct {
	Endpoint string
	Conn     *websocket.Conn
}

func NewWSClient(endpoint string) *WSClient {
	return &WSClient{Endpoint: endpoint}
}

func (c *WSClient) Connect(ctx context.Context) error {
	dialer := websocket.Dialer{}
	conn, _, err := dialer.DialContext(ctx, c.Endpoint, nil)
	if err != nil {
		return err
	}
	c.Conn = conn
	return nil
}

func (c *WSClient) Close() {
	if c.Conn != nil {
		_ = c.Conn.Close()
	}
}

func (c *WSClient) SubscribeNewHeads(ctx context.Context) error {
	payload := map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "eth_subscribe",
		"params":  []any{"newHeads"},
	}
	return c.Conn.WriteJSON(payload)
}

func (c *WSClient) Read(ctx context.Context) ([]byte, error) {
	_, msg, err := c.Conn.ReadMessage()
	return msg, err
}

// ParseNewHead extracts the block number from a newHeads notification.
// Returns ok=false for non-head frames (like the subscription ack).
func ParseNewHead(msg []byte) (uint64, bool, error) {
	var env struct {
		Method string `json:"method"`
		Params struct {
			Result struct {
				Number string `json:"number"`
			} `json:"result"`
		} `json:"params"`
		Error *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(msg, &env); err != nil {
		return 0, false, err
	}
	if env.Error != nil {
		return 0, false, errors.New(env.Error.Message)
	}
	if env.Method != "eth_subscription" || env.Params.Result.Number == "" {
		return 0, false, nil
	}
	n, err := strconv.ParseUint(strings.TrimPrefix(env.Params.Result.Number, "0x"), 16, 64)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// DefaultWSEndpoint guesses the websocket endpoint from an RPC URL.
func DefaultWSEndpoint(rpc string) string {
	rpc = strings.TrimRight(rpc, "/")
	switch {
	case strings.HasPrefix(rpc, "ws://"), strings.HasPrefix(rpc, "wss://"):
		return rpc
	case strings.HasPrefix(rpc, "https://"):
		return "wss://" + strings.TrimPrefix(rpc, "https://")
	case strings.HasPrefix(rpc, "http://"):
		return "ws://" + strings.TrimPrefix(rpc, "http://")
	}
	return ""
}
