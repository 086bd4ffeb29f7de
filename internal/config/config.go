package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type RateSourceConfig struct {
	Name    string `yaml:"name"`
	Kind    string `yaml:"kind"` // coingecko | cryptocompare
	BaseURL string `yaml:"base_url"`
	AssetID string `yaml:"asset_id"`
}

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
	} `yaml:"server"`
	DB struct {
		DSN string `yaml:"dsn"`
	} `yaml:"db"`
	Chain struct {
		RPCEndpoints  []string `yaml:"rpc_endpoints"`
		WSEndpoint    string   `yaml:"ws_endpoint"`
		ChainID       int64    `yaml:"chain_id"`
		TokenSymbol   string   `yaml:"token_symbol"`
		TokenAddress  string   `yaml:"token_address"`
		TokenDecimals int      `yaml:"token_decimals"`
	} `yaml:"chain"`
	Wallet struct {
		HotAddress      string  `yaml:"hot_address"`
		PrivateKey      string  `yaml:"private_key"`
		MinEthBalance   float64 `yaml:"min_eth_balance"`
		MinTokenBalance float64 `yaml:"min_token_balance"`
	} `yaml:"wallet"`
	Swap struct {
		FeePercent            float64 `yaml:"fee_percent"`
		MinOrderFiat          float64 `yaml:"min_order_fiat"`
		MaxOrderFiat          float64 `yaml:"max_order_fiat"`
		DailyUserLimitFiat    float64 `yaml:"daily_user_limit_fiat"`
		MaxSlippagePercent    float64 `yaml:"max_slippage_percent"`
		FxRateValiditySeconds int     `yaml:"fx_rate_validity_seconds"`
		RequiredConfirmations int64   `yaml:"required_confirmations"`
		OrderTimeoutMinutes   int     `yaml:"order_timeout_minutes"`
		MaxStageRetries       int     `yaml:"max_stage_retries"`
		RetryBackoffSeconds   int     `yaml:"retry_backoff_seconds"`
		Maintenance           bool    `yaml:"maintenance"`
	} `yaml:"swap"`
	Rates struct {
		Sources        []RateSourceConfig `yaml:"sources"`
		TimeoutSeconds int                `yaml:"timeout_seconds"`
	} `yaml:"rates"`
	Venue struct {
		BaseURL        string `yaml:"base_url"`
		APIKey         string `yaml:"api_key"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"venue"`
	Processor struct {
		BaseURL       string `yaml:"base_url"`
		APIKey        string `yaml:"api_key"`
		WebhookSecret string `yaml:"webhook_secret"`
	} `yaml:"processor"`
	Worker struct {
		IntervalSeconds          int     `yaml:"interval_seconds"`
		WalletPollSeconds        int     `yaml:"wallet_poll_seconds"`
		WalletMaxWaitMinutes     int     `yaml:"wallet_max_wait_minutes"`
		ReconcileIntervalMinutes int     `yaml:"reconcile_interval_minutes"`
		ReconFiatCurrency        string  `yaml:"recon_fiat_currency"`
		ReconFiatTolerance       float64 `yaml:"recon_fiat_tolerance"`
		ReconCryptoTolerance     float64 `yaml:"recon_crypto_tolerance"`
	} `yaml:"worker"`
}

func (c *Config) RateValidity() time.Duration {
	return time.Duration(c.Swap.FxRateValiditySeconds) * time.Second
}

func (c *Config) OrderTimeout() time.Duration {
	return time.Duration(c.Swap.OrderTimeoutMinutes) * time.Minute
}

func (c *Config) RetryBackoff() time.Duration {
	return time.Duration(c.Swap.RetryBackoffSeconds) * time.Second
}

func (c *Config) WalletMaxWait() time.Duration {
	return time.Duration(c.Worker.WalletMaxWaitMinutes) * time.Minute
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	applyDefaults(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func validate(cfg *Config) error {
	if cfg.Server.Addr == "" {
		return errors.New("server.addr is required")
	}
	if cfg.DB.DSN == "" {
		return errors.New("db.dsn is required")
	}
	if len(cfg.Chain.RPCEndpoints) == 0 || cfg.Chain.ChainID == 0 || cfg.Chain.TokenAddress == "" {
		return errors.New("chain config is incomplete")
	}
	if cfg.Wallet.HotAddress == "" {
		return errors.New("wallet.hot_address is required")
	}
	if cfg.Swap.FeePercent < 0 || cfg.Swap.FeePercent >= 100 {
		return errors.New("swap.fee_percent out of range")
	}
	if cfg.Swap.MinOrderFiat <= 0 || cfg.Swap.MaxOrderFiat < cfg.Swap.MinOrderFiat {
		return errors.New("swap order bounds are invalid")
	}
	if len(cfg.Rates.Sources) == 0 {
		return errors.New("rates.sources is empty")
	}
	return nil
}

func applyDefaults(cfg *Config) {
	if cfg.Swap.FxRateValiditySeconds <= 0 {
		cfg.Swap.FxRateValiditySeconds = 60
	}
	if cfg.Swap.RequiredConfirmations <= 0 {
		cfg.Swap.RequiredConfirmations = 3
	}
	if cfg.Swap.OrderTimeoutMinutes <= 0 {
		cfg.Swap.OrderTimeoutMinutes = 60
	}
	if cfg.Swap.MaxStageRetries <= 0 {
		cfg.Swap.MaxStageRetries = 3
	}
	if cfg.Swap.RetryBackoffSeconds <= 0 {
		cfg.Swap.RetryBackoffSeconds = 5
	}
	if cfg.Rates.TimeoutSeconds <= 0 {
		cfg.Rates.TimeoutSeconds = 5
	}
	if cfg.Venue.TimeoutSeconds <= 0 {
		cfg.Venue.TimeoutSeconds = 10
	}
	if cfg.Worker.IntervalSeconds <= 0 {
		cfg.Worker.IntervalSeconds = 10
	}
	if cfg.Worker.WalletPollSeconds <= 0 {
		cfg.Worker.WalletPollSeconds = 15
	}
	if cfg.Worker.WalletMaxWaitMinutes <= 0 {
		cfg.Worker.WalletMaxWaitMinutes = 30
	}
	if cfg.Worker.ReconcileIntervalMinutes <= 0 {
		cfg.Worker.ReconcileIntervalMinutes = 60
	}
	if cfg.Worker.ReconFiatCurrency == "" {
		cfg.Worker.ReconFiatCurrency = "USD"
	}
	if cfg.Chain.TokenDecimals <= 0 {
		cfg.Chain.TokenDecimals = 6
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_ADDR"); v != "" {
		cfg.Server.Addr = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.DB.DSN = v
	}
	if v := os.Getenv("RPC_ENDPOINTS"); v != "" {
		cfg.Chain.RPCEndpoints = splitCommaList(v)
	}
	if v := os.Getenv("WS_ENDPOINT"); v != "" {
		cfg.Chain.WSEndpoint = v
	}
	if v := os.Getenv("CHAIN_ID"); v != "" {
		cfg.Chain.ChainID = atoi64Or(cfg.Chain.ChainID, v)
	}
	if v := os.Getenv("TOKEN_ADDRESS"); v != "" {
		cfg.Chain.TokenAddress = v
	}
	if v := os.Getenv("HOT_WALLET_ADDRESS"); v != "" {
		cfg.Wallet.HotAddress = v
	}
	if v := os.Getenv("HOT_WALLET_PRIVATE_KEY"); v != "" {
		cfg.Wallet.PrivateKey = v
	}
	if v := os.Getenv("VENUE_API_KEY"); v != "" {
		cfg.Venue.APIKey = v
	}
	if v := os.Getenv("PROCESSOR_API_KEY"); v != "" {
		cfg.Processor.APIKey = v
	}
	if v := os.Getenv("PROCESSOR_WEBHOOK_SECRET"); v != "" {
		cfg.Processor.WebhookSecret = v
	}
	if v := os.Getenv("MAINTENANCE"); v != "" {
		cfg.Swap.Maintenance = v == "1" || strings.EqualFold(v, "true")
	}
}

func splitCommaList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func atoi64Or(fallback int64, v string) int64 {
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
