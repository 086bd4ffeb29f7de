package chain

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
)

// MultiClient rotates across RPC endpoints after repeated failures, so one
// flaky provider does not stall settlement.
type MultiClient struct {
	clients       []*Client
	index         int
	failCount     int
	failThreshold int
	mu            sync.Mutex
}

func NewMultiClient(endpoints []string, chainID int64, privKeyHex string, failThreshold int) (*MultiClient, error) {
	list := sanitizeEndpoints(endpoints)
	if len(list) == 0 {
		return nil, errors.New("rpc endpoints is empty")
	}
	if failThreshold <= 0 {
		failThreshold = 3
	}
	clients := make([]*Client, 0, len(list))
	for _, ep := range list {
		c, err := NewClient(ep, chainID, privKeyHex)
		if err != nil {
			return nil, err
		}
		clients = append(clients, c)
	}
	return &MultiClient{clients: clients, failThreshold: failThreshold}, nil
}

func (m *MultiClient) From() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index].From()
}

func failover[T any](m *MultiClient, call func(c *Client) (T, error)) (T, error) {
	var zero T
	var lastErr error
	for attempt := 0; attempt < len(m.clients); attempt++ {
		client, idx := m.current()
		out, err := call(client)
		if err == nil {
			m.noteSuccess(idx)
			return out, nil
		}
		lastErr = err
		if m.noteFailure(idx) {
			m.rotate()
		} else if len(m.clients) > 1 {
			m.rotate()
		}
	}
	return zero, lastErr
}

func (m *MultiClient) LatestBlock(ctx context.Context) (uint64, error) {
	return failover(m, func(c *Client) (uint64, error) { return c.LatestBlock(ctx) })
}

func (m *MultiClient) SendTokenTransfer(ctx context.Context, token, to string, amount *big.Int) (*Sent, error) {
	// Submission is not failed over: a timed-out broadcast may still land,
	// and resubmitting through another endpoint risks a double spend.
	client, _ := m.current()
	return client.SendTokenTransfer(ctx, token, to, amount)
}

func (m *MultiClient) SendCall(ctx context.Context, to string, data []byte, value *big.Int) (*Sent, error) {
	client, _ := m.current()
	return client.SendCall(ctx, to, data, value)
}

func (m *MultiClient) Receipt(ctx context.Context, txHash string) (*Receipt, error) {
	return failover(m, func(c *Client) (*Receipt, error) { return c.Receipt(ctx, txHash) })
}

func (m *MultiClient) EthBalance(ctx context.Context, addr string) (*big.Int, error) {
	return failover(m, func(c *Client) (*big.Int, error) { return c.EthBalance(ctx, addr) })
}

func (m *MultiClient) TokenBalance(ctx context.Context, token, addr string) (*big.Int, error) {
	return failover(m, func(c *Client) (*big.Int, error) { return c.TokenBalance(ctx, token, addr) })
}

func (m *MultiClient) current() (*Client, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clients[m.index], m.index
}

func (m *MultiClient) noteSuccess(idx int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount = 0
	}
}

func (m *MultiClient) noteFailure(idx int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.index == idx {
		m.failCount++
	}
	return m.failCount >= m.failThreshold
}

func (m *MultiClient) rotate() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.index = (m.index + 1) % len(m.clients)
	m.failCount = 0
}

func sanitizeEndpoints(endpoints []string) []string {
	seen := map[string]struct{}{}
	out := make([]string, 0, len(endpoints))
	for _, ep := range endpoints {
		ep = strings.TrimRight(strings.TrimSpace(ep), "/")
		if ep == "" {
			continue
		}
		if _, ok := seen[ep]; ok {
			continue
		}
		seen[ep] = struct{}{}
		out = append(out, ep)
	}
	return out
}
