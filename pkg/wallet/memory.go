package wallet

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Memory is an in-process wallet. Addresses are well-formed P2WPKH
// addresses on the configured network; nothing touches a chain.
type Memory struct {
	params *chaincfg.Params

	mu        sync.Mutex
	addresses map[string]bool
	balances  map[string]Balance
	history   map[string][]Transaction
	sent      []PaymentResult

	// Fail, when set, is consulted before every operation; a non-nil
	// result is returned as the operation's error.
	Fail func(op string) error
}

// NewMemory returns an empty in-process wallet on params (testnet when nil).
func NewMemory(params *chaincfg.Params) *Memory {
	if params == nil {
		params = &chaincfg.TestNet3Params
	}
	return &Memory{
		params:    params,
		addresses: make(map[string]bool),
		balances:  make(map[string]Balance),
		history:   make(map[string][]Transaction),
	}
}

func (m *Memory) fail(op string) error {
	if m.Fail == nil {
		return nil
	}
	return m.Fail(op)
}

func (m *Memory) NewAddress(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := m.fail("new_address"); err != nil {
		return "", err
	}
	var program [20]byte
	if _, err := rand.Read(program[:]); err != nil {
		return "", fmt.Errorf("generate address: %w", err)
	}
	addr, err := btcutil.NewAddressWitnessPubKeyHash(program[:], m.params)
	if err != nil {
		return "", fmt.Errorf("generate address: %w", err)
	}
	s := addr.EncodeAddress()

	m.mu.Lock()
	m.addresses[s] = true
	m.mu.Unlock()
	return s, nil
}

// Receive credits address with a confirmed incoming payment.
func (m *Memory) Receive(address string, sats int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b := m.balances[address]
	b.Confirmed += sats
	m.balances[address] = b
	m.history[address] = append(m.history[address], Transaction{
		TxID:          randomTxID(),
		Category:      "receive",
		Amount:        sats,
		Confirmations: 1,
		Time:          time.Now().UTC(),
	})
}

func (m *Memory) known(address string) error {
	if !m.addresses[address] {
		if _, ok := m.balances[address]; !ok {
			return fmt.Errorf("address %q is not in this wallet", address)
		}
	}
	return nil
}

func (m *Memory) Balance(ctx context.Context, address string) (Balance, error) {
	if err := ctx.Err(); err != nil {
		return Balance{}, err
	}
	if err := m.fail("balance"); err != nil {
		return Balance{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.known(address); err != nil {
		return Balance{}, err
	}
	return m.balances[address], nil
}

func (m *Memory) Transactions(ctx context.Context, address string) ([]Transaction, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := m.fail("transactions"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.known(address); err != nil {
		return nil, err
	}
	out := make([]Transaction, len(m.history[address]))
	copy(out, m.history[address])
	return out, nil
}

func (m *Memory) Send(ctx context.Context, p PaymentParams) (PaymentResult, error) {
	if err := ctx.Err(); err != nil {
		return PaymentResult{}, err
	}
	if err := m.fail("send"); err != nil {
		return PaymentResult{}, err
	}
	if err := p.Validate(); err != nil {
		return PaymentResult{}, err
	}
	amt, _ := p.Satoshis()
	res := PaymentResult{TxID: randomTxID(), To: p.To, Amount: int64(amt)}

	m.mu.Lock()
	m.sent = append(m.sent, res)
	m.mu.Unlock()
	return res, nil
}

// Sent returns the payments submitted so far.
func (m *Memory) Sent() []PaymentResult {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]PaymentResult, len(m.sent))
	copy(out, m.sent)
	return out
}

func randomTxID() string {
	var b [32]byte
	rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
