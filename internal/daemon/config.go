package daemon

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/nous-labs/walletd/pkg/transport"
	"github.com/nous-labs/walletd/pkg/wallet"
)

// Config holds the walletd configuration.
type Config struct {
	Name     string `json:"name"`
	LogLevel string `json:"log_level,omitempty"` // debug, info, warn, error

	// Identity store
	StorePath      string `json:"store_path"`
	SeedPassphrase string `json:"seed_passphrase,omitempty"` // can use "$WALLETD_SEED_PASSPHRASE"

	HTTPAddr string `json:"http_addr,omitempty"` // ":8090" or "unix:/run/walletd.sock"; empty disables

	Transport TransportConfig `json:"transport"`
	RPC       RPCConfig       `json:"rpc"`
	Intent    IntentConfig    `json:"intent"`
	Wallet    WalletConfig    `json:"wallet"`
	Matrix    MatrixConfig    `json:"matrix"`
}

// TransportConfig selects the discovery fabric.
type TransportConfig struct {
	ListenPort  int                       `json:"listen_port"`
	ListenHost  string                    `json:"listen_host,omitempty"`
	Bootstrap   []transport.BootstrapPeer `json:"bootstrap"`
	JoinTimeout string                    `json:"join_timeout,omitempty"` // e.g. "30s"
}

// RPCConfig tunes the RPC server.
type RPCConfig struct {
	HandlerTimeout string `json:"handler_timeout,omitempty"`
	MaxMessageSize int    `json:"max_message_size,omitempty"`
}

// IntentConfig selects how requests are classified.
type IntentConfig struct {
	Catalog  string `json:"catalog,omitempty"`  // path to a catalog JSON file; empty uses the built-in one
	Embedder string `json:"embedder"`           // cohere, tei, hashing or llm
	TEIURL   string `json:"tei_url,omitempty"`  // http://tei:80
	Cohere   struct {
		APIKey  string `json:"api_key,omitempty"` // "$COHERE_API_KEY"
		Model   string `json:"model,omitempty"`
		BaseURL string `json:"base_url,omitempty"`
	} `json:"cohere"`
	PostgresURL string    `json:"postgres_url,omitempty"` // enables the pgvector index
	LLM         LLMConfig `json:"llm"`
}

// LLMConfig configures the language-model resolver.
type LLMConfig struct {
	Model   string `json:"model,omitempty"`
	APIKey  string `json:"api_key,omitempty"` // "$ANTHROPIC_API_KEY"
	BaseURL string `json:"base_url,omitempty"`
}

// WalletConfig selects the wallet backend and the fixed payment.
type WalletConfig struct {
	Backend  string                `json:"backend"` // bitcoind or memory
	Bitcoind wallet.BitcoindConfig `json:"bitcoind"`
	Payment  wallet.PaymentParams  `json:"payment"`
}

// MatrixConfig holds Matrix connection settings.
type MatrixConfig struct {
	Enabled      bool     `json:"enabled"`
	Homeserver   string   `json:"homeserver"`
	UserID       string   `json:"user_id"`
	Password     string   `json:"password"`
	ServerName   string   `json:"server_name"`
	AllowedUsers []string `json:"allowed_users"`
	DataDir      string   `json:"data_dir"`
}

// LoadConfig builds the configuration from environment defaults, the
// file at path (JSON with comments or YAML), and the private overlay
// named by WALLETD_PRIVATE_CONFIG, in that order.
func LoadConfig(path string) (*Config, error) {
	base := defaultConfig()
	baseJSON, err := json.Marshal(base)
	if err != nil {
		return nil, fmt.Errorf("marshal default config: %w", err)
	}

	merged := baseJSON
	if path != "" {
		fileData, err := readConfigFile(path)
		if err != nil {
			return nil, err
		}
		merged, err = deepMergeJSON(merged, fileData)
		if err != nil {
			return nil, fmt.Errorf("merge config %s: %w", path, err)
		}
	}

	if overlay := os.Getenv("WALLETD_PRIVATE_CONFIG"); overlay != "" {
		overlayData, err := readConfigFile(overlay)
		if err != nil {
			return nil, fmt.Errorf("private config: %w", err)
		}
		merged, err = deepMergeJSON(merged, overlayData)
		if err != nil {
			return nil, fmt.Errorf("merge private config %s: %w", overlay, err)
		}
	}

	var cfg Config
	if err := json.Unmarshal(merged, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.StorePath = resolveEnv(cfg.StorePath)
	cfg.SeedPassphrase = resolveEnv(cfg.SeedPassphrase)
	cfg.HTTPAddr = resolveEnv(cfg.HTTPAddr)
	cfg.Intent.TEIURL = resolveEnv(cfg.Intent.TEIURL)
	cfg.Intent.Cohere.APIKey = resolveEnv(cfg.Intent.Cohere.APIKey)
	cfg.Intent.PostgresURL = resolveEnv(cfg.Intent.PostgresURL)
	cfg.Intent.LLM.APIKey = resolveEnv(cfg.Intent.LLM.APIKey)
	cfg.Wallet.Bitcoind.Host = resolveEnv(cfg.Wallet.Bitcoind.Host)
	cfg.Wallet.Bitcoind.User = resolveEnv(cfg.Wallet.Bitcoind.User)
	cfg.Wallet.Bitcoind.Password = resolveEnv(cfg.Wallet.Bitcoind.Password)
	cfg.Matrix.Homeserver = resolveEnv(cfg.Matrix.Homeserver)
	cfg.Matrix.Password = resolveEnv(cfg.Matrix.Password)
	for i := range cfg.Transport.Bootstrap {
		cfg.Transport.Bootstrap[i].Host = resolveEnv(cfg.Transport.Bootstrap[i].Host)
		cfg.Transport.Bootstrap[i].PublicKey = resolveEnv(cfg.Transport.Bootstrap[i].PublicKey)
	}

	if cfg.Name == "" {
		cfg.Name = "walletd"
	}
	return &cfg, cfg.Validate()
}

// Validate rejects configurations that cannot start.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("store_path is required")
	}
	switch c.Intent.Embedder {
	case "cohere":
		if c.Intent.Cohere.APIKey == "" {
			return fmt.Errorf("intent.cohere.api_key is required for the cohere embedder")
		}
	case "tei":
		if c.Intent.TEIURL == "" {
			return fmt.Errorf("intent.tei_url is required for the tei embedder")
		}
	case "llm":
		if c.Intent.LLM.APIKey == "" {
			return fmt.Errorf("intent.llm.api_key is required for the llm resolver")
		}
	case "hashing":
	default:
		return fmt.Errorf("unknown intent.embedder %q", c.Intent.Embedder)
	}
	switch c.Wallet.Backend {
	case "bitcoind", "memory":
	default:
		return fmt.Errorf("unknown wallet.backend %q", c.Wallet.Backend)
	}
	if err := c.Wallet.Payment.Validate(); err != nil {
		return fmt.Errorf("wallet.payment: %w", err)
	}
	if _, err := parseDuration(c.Transport.JoinTimeout, transport.DefaultJoinTimeout); err != nil {
		return fmt.Errorf("transport.join_timeout: %w", err)
	}
	if _, err := parseDuration(c.RPC.HandlerTimeout, time.Minute); err != nil {
		return fmt.Errorf("rpc.handler_timeout: %w", err)
	}
	return nil
}

// SlogLevel maps LogLevel onto slog.
func (c *Config) SlogLevel() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// readConfigFile returns the file as plain JSON. YAML files are
// converted; JSON may carry comments and trailing commas.
func readConfigFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		var v map[string]any
		if err := yaml.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
		out, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("convert config %s: %w", path, err)
		}
		return out, nil
	default:
		return jsonc.ToJSON(data), nil
	}
}

func deepMergeJSON(base, overlay []byte) ([]byte, error) {
	var baseMap map[string]interface{}
	if len(base) > 0 {
		if err := json.Unmarshal(base, &baseMap); err != nil {
			return nil, err
		}
	}
	if baseMap == nil {
		baseMap = map[string]interface{}{}
	}

	var overlayMap map[string]interface{}
	if len(overlay) > 0 {
		if err := json.Unmarshal(overlay, &overlayMap); err != nil {
			return nil, err
		}
	}
	mergeMap(baseMap, overlayMap)
	return json.Marshal(baseMap)
}

func mergeMap(dst, src map[string]interface{}) {
	for k, v := range src {
		dstObj, dstIsObj := dst[k].(map[string]interface{})
		srcObj, srcIsObj := v.(map[string]interface{})
		if dstIsObj && srcIsObj {
			mergeMap(dstObj, srcObj)
			dst[k] = dstObj
			continue
		}
		dst[k] = v
	}
}

// resolveEnv replaces $ENV_VAR references with actual values.
func resolveEnv(s string) string {
	if len(s) > 1 && s[0] == '$' {
		if v := os.Getenv(s[1:]); v != "" {
			return v
		}
	}
	return s
}

func parseDuration(s string, fallback time.Duration) (time.Duration, error) {
	if s == "" {
		return fallback, nil
	}
	return time.ParseDuration(s)
}

// defaultConfig returns a config derived from the environment.
func defaultConfig() *Config {
	cfg := &Config{
		Name:           "walletd",
		LogLevel:       envOr("WALLETD_LOG_LEVEL", "info"),
		StorePath:      envOr("WALLETD_STORE_PATH", "walletd-store/seeds.db"),
		SeedPassphrase: os.Getenv("WALLETD_SEED_PASSPHRASE"),
		HTTPAddr:       os.Getenv("WALLETD_HTTP_ADDR"),
		Transport: TransportConfig{
			ListenPort:  envInt("WALLETD_DHT_PORT", 40001),
			JoinTimeout: "30s",
		},
		Intent: IntentConfig{
			TEIURL:      os.Getenv("WALLETD_TEI_URL"),
			PostgresURL: os.Getenv("WALLETD_PG_URL"),
			LLM: LLMConfig{
				APIKey: os.Getenv("ANTHROPIC_API_KEY"),
			},
		},
		Wallet: WalletConfig{
			Backend: envOr("WALLETD_WALLET_BACKEND", "bitcoind"),
			Bitcoind: wallet.BitcoindConfig{
				Host:     os.Getenv("ELECTRUM_HOST"),
				Port:     envInt("ELECTRUM_PORT", 0),
				User:     os.Getenv("BITCOIND_USER"),
				Password: os.Getenv("BITCOIND_PASSWORD"),
				Network:  "testnet",
			},
			Payment: wallet.PaymentParams{
				To:      "tb1qaddress",
				Amount:  0.0001,
				Unit:    wallet.UnitMain,
				FeeRate: 10,
			},
		},
		Matrix: MatrixConfig{
			Enabled:      os.Getenv("MATRIX_HOMESERVER") != "",
			Homeserver:   os.Getenv("MATRIX_HOMESERVER"),
			UserID:       envOr("MATRIX_BOT_USER", "walletd"),
			Password:     os.Getenv("MATRIX_BOT_PASSWORD"),
			ServerName:   os.Getenv("MATRIX_SERVER_NAME"),
			AllowedUsers: splitList(os.Getenv("ALLOWED_USERS")),
			DataDir:      envOr("WALLETD_DATA_DIR", "walletd-store"),
		},
	}
	cfg.Intent.Cohere.APIKey = os.Getenv("COHERE_API_KEY")

	switch {
	case cfg.Intent.Cohere.APIKey != "":
		cfg.Intent.Embedder = "cohere"
	case cfg.Intent.TEIURL != "":
		cfg.Intent.Embedder = "tei"
	default:
		cfg.Intent.Embedder = "hashing"
	}

	if host := os.Getenv("DHT_HOST"); host != "" {
		cfg.Transport.Bootstrap = []transport.BootstrapPeer{{
			Host:      host,
			Port:      envInt("DHT_PORT", 30001),
			PublicKey: os.Getenv("DHT_BOOTSTRAP_KEY"),
		}}
	}
	return cfg
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
