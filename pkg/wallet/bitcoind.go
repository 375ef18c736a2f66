package wallet

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/rpcclient"
)

// BitcoindConfig locates a bitcoind (or compatible) wallet RPC endpoint.
type BitcoindConfig struct {
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	User     string `json:"user" yaml:"user"`
	Password string `json:"password" yaml:"password"`
	Network  string `json:"network" yaml:"network"`
	TLS      bool   `json:"tls" yaml:"tls"`
	// HistoryDepth bounds how many recent wallet transactions are scanned
	// per listing.
	HistoryDepth int `json:"history_depth" yaml:"history_depth"`
}

// Bitcoind talks to a bitcoind wallet over JSON-RPC.
type Bitcoind struct {
	client *rpcclient.Client
	params *chaincfg.Params
	depth  int
}

// NewBitcoind creates the RPC client. No request is made until the first
// call.
func NewBitcoind(cfg BitcoindConfig) (*Bitcoind, error) {
	params, err := NetParams(cfg.Network)
	if err != nil {
		return nil, err
	}
	if cfg.Host == "" || cfg.Port <= 0 {
		return nil, fmt.Errorf("bitcoind host and port are required")
	}
	client, err := rpcclient.New(&rpcclient.ConnConfig{
		Host:         net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)),
		User:         cfg.User,
		Pass:         cfg.Password,
		Params:       params.Name,
		HTTPPostMode: true,
		DisableTLS:   !cfg.TLS,
	}, nil)
	if err != nil {
		return nil, fmt.Errorf("create bitcoind client: %w", err)
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 100
	}
	return &Bitcoind{client: client, params: params, depth: depth}, nil
}

// Close shuts the RPC client down.
func (b *Bitcoind) Close() {
	b.client.Shutdown()
}

// call runs fn, giving up when ctx ends. rpcclient has no context
// support; an abandoned call finishes in the background.
func call[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	ch := make(chan result, 1)
	go func() {
		v, err := fn()
		ch <- result{v, err}
	}()
	select {
	case r := <-ch:
		return r.v, r.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

func (b *Bitcoind) NewAddress(ctx context.Context) (string, error) {
	addr, err := call(ctx, func() (btcutil.Address, error) {
		return b.client.GetNewAddress("")
	})
	if err != nil {
		return "", fmt.Errorf("getnewaddress: %w", err)
	}
	return addr.EncodeAddress(), nil
}

func (b *Bitcoind) decode(address string) (btcutil.Address, error) {
	addr, err := btcutil.DecodeAddress(address, b.params)
	if err != nil {
		return nil, fmt.Errorf("decode address %q: %w", address, err)
	}
	if !addr.IsForNet(b.params) {
		return nil, fmt.Errorf("address %q is not for %s", address, b.params.Name)
	}
	return addr, nil
}

func (b *Bitcoind) Balance(ctx context.Context, address string) (Balance, error) {
	addr, err := b.decode(address)
	if err != nil {
		return Balance{}, err
	}
	return call(ctx, func() (Balance, error) {
		all, err := b.client.GetReceivedByAddressMinConf(addr, 0)
		if err != nil {
			return Balance{}, fmt.Errorf("getreceivedbyaddress: %w", err)
		}
		confirmed, err := b.client.GetReceivedByAddressMinConf(addr, 1)
		if err != nil {
			return Balance{}, fmt.Errorf("getreceivedbyaddress: %w", err)
		}
		return Balance{
			Confirmed:   int64(confirmed),
			Unconfirmed: int64(all - confirmed),
		}, nil
	})
}

func (b *Bitcoind) Transactions(ctx context.Context, address string) ([]Transaction, error) {
	if _, err := b.decode(address); err != nil {
		return nil, err
	}
	return call(ctx, func() ([]Transaction, error) {
		res, err := b.client.ListTransactionsCount("*", b.depth)
		if err != nil {
			return nil, fmt.Errorf("listtransactions: %w", err)
		}
		txs := []Transaction{}
		for _, r := range res {
			if r.Address != address {
				continue
			}
			amt, err := btcutil.NewAmount(r.Amount)
			if err != nil {
				return nil, fmt.Errorf("transaction %s amount: %w", r.TxID, err)
			}
			tx := Transaction{
				TxID:          r.TxID,
				Category:      r.Category,
				Amount:        int64(amt),
				Confirmations: r.Confirmations,
				Time:          time.Unix(r.Time, 0).UTC(),
			}
			if r.Fee != nil {
				fee, err := btcutil.NewAmount(*r.Fee)
				if err == nil {
					tx.Fee = int64(fee)
				}
			}
			txs = append(txs, tx)
		}
		return txs, nil
	})
}

func (b *Bitcoind) Send(ctx context.Context, p PaymentParams) (PaymentResult, error) {
	if err := p.Validate(); err != nil {
		return PaymentResult{}, err
	}
	to, err := b.decode(p.To)
	if err != nil {
		return PaymentResult{}, err
	}
	amt, _ := p.Satoshis()

	return call(ctx, func() (PaymentResult, error) {
		if p.FeeRate > 0 {
			// settxfee takes BTC per kvB.
			if err := b.client.SetTxFee(btcutil.Amount(p.FeeRate * 1000)); err != nil {
				return PaymentResult{}, fmt.Errorf("settxfee: %w", err)
			}
		}
		hash, err := b.client.SendToAddress(to, amt)
		if err != nil {
			return PaymentResult{}, fmt.Errorf("sendtoaddress: %w", err)
		}
		return PaymentResult{TxID: hash.String(), To: p.To, Amount: int64(amt)}, nil
	})
}
