package daemon

import (
	"os"
	"path/filepath"
	"testing"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{
		"COHERE_API_KEY", "WALLETD_TEI_URL", "WALLETD_PG_URL", "DHT_HOST", "DHT_PORT",
		"DHT_BOOTSTRAP_KEY", "WALLETD_PRIVATE_CONFIG", "WALLETD_STORE_PATH", "WALLETD_DHT_PORT",
		"ELECTRUM_HOST", "ELECTRUM_PORT", "WALLETD_WALLET_BACKEND", "MATRIX_HOMESERVER",
	} {
		t.Setenv(k, "")
	}
}

func TestDefaultConfigFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("DHT_HOST", "10.1.2.3")
	t.Setenv("DHT_PORT", "30001")
	t.Setenv("DHT_BOOTSTRAP_KEY", "ab")
	t.Setenv("ELECTRUM_HOST", "electrum.local")
	t.Setenv("ELECTRUM_PORT", "18332")

	cfg := defaultConfig()
	if cfg.Transport.ListenPort != 40001 {
		t.Errorf("listen port = %d", cfg.Transport.ListenPort)
	}
	if len(cfg.Transport.Bootstrap) != 1 || cfg.Transport.Bootstrap[0].Port != 30001 || cfg.Transport.Bootstrap[0].Host != "10.1.2.3" {
		t.Errorf("bootstrap = %+v", cfg.Transport.Bootstrap)
	}
	if cfg.Wallet.Bitcoind.Host != "electrum.local" || cfg.Wallet.Bitcoind.Port != 18332 {
		t.Errorf("bitcoind = %+v", cfg.Wallet.Bitcoind)
	}
	if cfg.Intent.Embedder != "hashing" {
		t.Errorf("embedder = %q", cfg.Intent.Embedder)
	}
	p := cfg.Wallet.Payment
	if p.To != "tb1qaddress" || p.Amount != 0.0001 || p.Unit != "main" || p.FeeRate != 10 {
		t.Errorf("payment = %+v", p)
	}

	t.Setenv("COHERE_API_KEY", "k")
	if got := defaultConfig().Intent.Embedder; got != "cohere" {
		t.Errorf("embedder with cohere key = %q", got)
	}
}

func TestLoadConfigMergesJSONCAndOverlay(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	t.Setenv("TEST_PASS", "s3cret")

	main := filepath.Join(dir, "walletd.json")
	os.WriteFile(main, []byte(`{
		// comments are fine
		"store_path": "/var/lib/walletd/seeds.db",
		"wallet": {"backend": "memory", "payment": {"fee": 25}},
		"transport": {"bootstrap": [{"host": "boot", "port": 30001, "public_key": "aa"}]},
	}`), 0o644)

	private := filepath.Join(dir, "private.yaml")
	os.WriteFile(private, []byte("seed_passphrase: $TEST_PASS\nwallet:\n  bitcoind:\n    user: rpcuser\n"), 0o644)
	t.Setenv("WALLETD_PRIVATE_CONFIG", private)

	cfg, err := LoadConfig(main)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.StorePath != "/var/lib/walletd/seeds.db" {
		t.Errorf("store path = %q", cfg.StorePath)
	}
	if cfg.Wallet.Backend != "memory" {
		t.Errorf("backend = %q", cfg.Wallet.Backend)
	}
	// Deep merge keeps defaults next to overridden siblings.
	if cfg.Wallet.Payment.FeeRate != 25 || cfg.Wallet.Payment.To != "tb1qaddress" {
		t.Errorf("payment = %+v", cfg.Wallet.Payment)
	}
	if cfg.Wallet.Bitcoind.User != "rpcuser" || cfg.Wallet.Bitcoind.Network != "testnet" {
		t.Errorf("bitcoind = %+v", cfg.Wallet.Bitcoind)
	}
	if cfg.SeedPassphrase != "s3cret" {
		t.Errorf("passphrase not resolved from env: %q", cfg.SeedPassphrase)
	}
	if len(cfg.Transport.Bootstrap) != 1 || cfg.Transport.Bootstrap[0].Host != "boot" {
		t.Errorf("bootstrap = %+v", cfg.Transport.Bootstrap)
	}
}

func TestValidate(t *testing.T) {
	clearEnv(t)
	base := func() *Config {
		c := defaultConfig()
		c.Wallet.Backend = "memory"
		return c
	}
	if err := base().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}

	cases := map[string]func(*Config){
		"no store":         func(c *Config) { c.StorePath = "" },
		"unknown embedder": func(c *Config) { c.Intent.Embedder = "word2vec" },
		"tei without url":  func(c *Config) { c.Intent.Embedder = "tei" },
		"llm without key":  func(c *Config) { c.Intent.Embedder = "llm"; c.Intent.LLM.APIKey = "" },
		"unknown backend":  func(c *Config) { c.Wallet.Backend = "paypal" },
		"bad payment":      func(c *Config) { c.Wallet.Payment.Amount = 0 },
		"bad timeout":      func(c *Config) { c.Transport.JoinTimeout = "soon" },
	}
	for name, mutate := range cases {
		c := base()
		mutate(c)
		if err := c.Validate(); err == nil {
			t.Errorf("%s: accepted", name)
		}
	}
}

func TestDeepMergeJSON(t *testing.T) {
	out, err := deepMergeJSON([]byte(`{"a":{"b":1,"c":2},"d":[1]}`), []byte(`{"a":{"c":3},"d":[2]}`))
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"a":{"b":1,"c":3},"d":[2]}` {
		t.Fatalf("merged = %s", out)
	}
}
