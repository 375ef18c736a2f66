package wallet

import (
	"context"
	"errors"
	"os"
	"strconv"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

func TestPaymentParamsSatoshis(t *testing.T) {
	cases := []struct {
		p    PaymentParams
		want btcutil.Amount
		ok   bool
	}{
		{PaymentParams{To: "x", Amount: 0.0001, Unit: UnitMain}, 10000, true},
		{PaymentParams{To: "x", Amount: 0.0001}, 10000, true},
		{PaymentParams{To: "x", Amount: 2500, Unit: UnitBase}, 2500, true},
		{PaymentParams{To: "x", Amount: 0, Unit: UnitMain}, 0, false},
		{PaymentParams{To: "x", Amount: 1, Unit: "doge"}, 0, false},
	}
	for _, c := range cases {
		got, err := c.p.Satoshis()
		if (err == nil) != c.ok {
			t.Errorf("%+v: err = %v", c.p, err)
			continue
		}
		if c.ok && got != c.want {
			t.Errorf("%+v: got %d, want %d", c.p, got, c.want)
		}
	}

	if err := (PaymentParams{Amount: 1}).Validate(); err == nil {
		t.Error("empty destination accepted")
	}
}

func TestNetParams(t *testing.T) {
	p, err := NetParams("")
	if err != nil || p.Name != chaincfg.TestNet3Params.Name {
		t.Fatalf("default network = %v, %v", p, err)
	}
	if _, err := NetParams("moonnet"); err == nil {
		t.Fatal("unknown network accepted")
	}
}

func TestMemoryWallet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(nil)

	addr, err := m.NewAddress(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(addr, "tb1q") {
		t.Fatalf("address %q is not a testnet segwit address", addr)
	}
	decoded, err := btcutil.DecodeAddress(addr, &chaincfg.TestNet3Params)
	if err != nil || !decoded.IsForNet(&chaincfg.TestNet3Params) {
		t.Fatalf("address does not decode: %v", err)
	}

	bal, err := m.Balance(ctx, addr)
	if err != nil || bal.Confirmed != 0 {
		t.Fatalf("fresh balance = %+v, %v", bal, err)
	}

	m.Receive(addr, 5000)
	bal, _ = m.Balance(ctx, addr)
	if bal.Confirmed != 5000 {
		t.Fatalf("balance = %+v", bal)
	}
	txs, err := m.Transactions(ctx, addr)
	if err != nil || len(txs) != 1 || txs[0].Category != "receive" {
		t.Fatalf("transactions = %+v, %v", txs, err)
	}

	if _, err := m.Balance(ctx, "tb1qnotmine"); err == nil {
		t.Fatal("foreign address accepted")
	}

	res, err := m.Send(ctx, PaymentParams{To: "tb1qaddress", Amount: 0.0001, Unit: UnitMain, FeeRate: 10})
	if err != nil {
		t.Fatal(err)
	}
	if res.Amount != 10000 || len(res.TxID) != 64 {
		t.Fatalf("payment = %+v", res)
	}
	if len(m.Sent()) != 1 {
		t.Fatal("payment not recorded")
	}
}

func TestMemoryFailureInjection(t *testing.T) {
	m := NewMemory(nil)
	boom := errors.New("electrum unreachable")
	m.Fail = func(op string) error {
		if op == "new_address" {
			return boom
		}
		return nil
	}
	if _, err := m.NewAddress(context.Background()); !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
}

func TestBitcoindConfig(t *testing.T) {
	if _, err := NewBitcoind(BitcoindConfig{}); err == nil {
		t.Fatal("missing host accepted")
	}
	if _, err := NewBitcoind(BitcoindConfig{Host: "127.0.0.1", Port: 18332, Network: "moonnet"}); err == nil {
		t.Fatal("unknown network accepted")
	}
}

func TestBitcoindLive(t *testing.T) {
	host := os.Getenv("WALLETD_TEST_BITCOIND_HOST")
	if host == "" {
		t.Skip("WALLETD_TEST_BITCOIND_HOST not set")
	}
	port, _ := strconv.Atoi(os.Getenv("WALLETD_TEST_BITCOIND_PORT"))
	b, err := NewBitcoind(BitcoindConfig{
		Host:     host,
		Port:     port,
		User:     os.Getenv("BITCOIND_USER"),
		Password: os.Getenv("BITCOIND_PASSWORD"),
		Network:  os.Getenv("WALLETD_TEST_BITCOIND_NETWORK"),
	})
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	ctx := context.Background()
	addr, err := b.NewAddress(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := b.Balance(ctx, addr); err != nil {
		t.Fatal(err)
	}
	if _, err := b.Transactions(ctx, addr); err != nil {
		t.Fatal(err)
	}
}
