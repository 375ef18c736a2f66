// Package wallet adapts bitcoin wallet services to the small capability
// set the dispatcher needs: receive addresses, balances, history and
// payments.
package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

// Backend is a wallet service. Implementations must be safe for
// concurrent use.
type Backend interface {
	NewAddress(ctx context.Context) (string, error)
	Balance(ctx context.Context, address string) (Balance, error)
	Transactions(ctx context.Context, address string) ([]Transaction, error)
	Send(ctx context.Context, p PaymentParams) (PaymentResult, error)
}

// Balance of one address in satoshis.
type Balance struct {
	Confirmed   int64 `json:"confirmed"`
	Unconfirmed int64 `json:"unconfirmed"`
}

// Transaction is one wallet history entry touching an address.
type Transaction struct {
	TxID          string    `json:"txid"`
	Category      string    `json:"category"` // send, receive
	Amount        int64     `json:"amount"`   // satoshis, negative for sends
	Fee           int64     `json:"fee,omitempty"`
	Confirmations int64     `json:"confirmations"`
	Time          time.Time `json:"time"`
}

// PaymentResult describes a submitted payment.
type PaymentResult struct {
	TxID   string `json:"txid"`
	To     string `json:"to"`
	Amount int64  `json:"amount"` // satoshis
}

// Amount units.
const (
	UnitMain = "main" // whole bitcoin
	UnitBase = "base" // satoshi
)

// PaymentParams describe an outgoing payment. They come from
// configuration, not from the request.
type PaymentParams struct {
	To      string  `json:"to" yaml:"to"`
	Amount  float64 `json:"amount" yaml:"amount"`
	Unit    string  `json:"unit" yaml:"unit"`         // main or base
	FeeRate int64   `json:"fee" yaml:"fee"`           // sat/vB
}

// Satoshis converts the configured amount to satoshis.
func (p PaymentParams) Satoshis() (btcutil.Amount, error) {
	if p.Amount <= 0 {
		return 0, fmt.Errorf("payment amount must be positive")
	}
	switch strings.ToLower(p.Unit) {
	case UnitMain, "":
		amt, err := btcutil.NewAmount(p.Amount)
		if err != nil {
			return 0, fmt.Errorf("payment amount: %w", err)
		}
		return amt, nil
	case UnitBase:
		return btcutil.Amount(int64(p.Amount)), nil
	default:
		return 0, fmt.Errorf("unknown amount unit %q", p.Unit)
	}
}

// Validate checks the parameters without contacting a backend.
func (p PaymentParams) Validate() error {
	if p.To == "" {
		return fmt.Errorf("payment destination is empty")
	}
	if p.FeeRate < 0 {
		return fmt.Errorf("fee rate must not be negative")
	}
	_, err := p.Satoshis()
	return err
}

// NetParams returns chain parameters by name. Empty selects testnet.
func NetParams(name string) (*chaincfg.Params, error) {
	switch strings.ToLower(name) {
	case "", "testnet", "testnet3":
		return &chaincfg.TestNet3Params, nil
	case "mainnet", "main", "bitcoin":
		return &chaincfg.MainNetParams, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "signet":
		return &chaincfg.SigNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, fmt.Errorf("unknown network %q", name)
	}
}
