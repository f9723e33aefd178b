package configloader

import (
	"fmt"
	"os"
	"time"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            string        `yaml:"port" default:":8080"`
	ReadTimeout     time.Duration `yaml:"readTimeout" default:"15s"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" default:"30s"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" default:"5s"`
	AllowedOrigins  []string      `yaml:"allowedOrigins"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level" default:"info" validate:"oneof=debug info warn error"`
}

// NetworkConfig selects the ledger cluster.
type NetworkConfig struct {
	Identifier string `yaml:"identifier" default:"mainnet-beta" validate:"required"`
	// RPCURL overrides the cluster's primary endpoint.
	RPCURL string `yaml:"rpcURL" validate:"omitempty,url"`
}

// LedgerConfig holds ledger client settings.
type LedgerConfig struct {
	RequestTimeout     time.Duration `yaml:"requestTimeout" default:"10s" validate:"gt=0"`
	RetryCount         int           `yaml:"retryCount" default:"3" validate:"gte=1"`
	RetryDelay         time.Duration `yaml:"retryDelay" default:"1s" validate:"gte=0"`
	RateLimitPerSecond float64       `yaml:"rateLimitPerSecond" default:"10" validate:"gt=0"`
	Burst              int           `yaml:"burst" default:"5" validate:"gte=1"`
	Commitment         string        `yaml:"commitment" default:"confirmed" validate:"oneof=processed confirmed finalized"`
	TokenPrograms      []string      `yaml:"tokenPrograms" default:"[\"TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA\"]" validate:"min=1"`
}

// PriceSourceConfig holds price API settings.
type PriceSourceConfig struct {
	BaseURL            string        `yaml:"baseURL" default:"https://api.coingecko.com/api/v3" validate:"url"`
	APIKey             string        `yaml:"apiKey"`
	RequestTimeout     time.Duration `yaml:"requestTimeout" default:"10s" validate:"gt=0"`
	MaxIDsPerRequest   int           `yaml:"maxIdsPerRequest" default:"30" validate:"gte=1"`
	RateLimitPerSecond float64       `yaml:"rateLimitPerSecond" default:"0.5" validate:"gt=0"`
}

// QuoteCacheConfig holds quote cache policy.
type QuoteCacheConfig struct {
	CacheTTL       time.Duration `yaml:"cacheTtl" default:"1h" validate:"gt=0"`
	DedupWindow    time.Duration `yaml:"dedupWindow" default:"5s" validate:"gte=0"`
	BatchWindow    time.Duration `yaml:"batchWindow" default:"50ms" validate:"gte=0"`
	RetryCount     int           `yaml:"retryCount" default:"3" validate:"gte=1"`
	RetryDelay     time.Duration `yaml:"retryDelay" default:"1s" validate:"gte=0"`
	StaleRetention time.Duration `yaml:"staleRetention" default:"24h" validate:"gtefield=CacheTTL"`
	FetchTimeout   time.Duration `yaml:"fetchTimeout" default:"15s" validate:"gt=0"`
}

// PollingConfig holds refresh intervals. Intervals are delays after completion.
type PollingConfig struct {
	BalanceRefreshInterval time.Duration `yaml:"balanceRefreshInterval" default:"10s" validate:"gt=0"`
	PriceRefreshInterval   time.Duration `yaml:"priceRefreshInterval" default:"60s" validate:"gt=0"`
	FetchTimeout           time.Duration `yaml:"fetchTimeout" default:"20s" validate:"gt=0"`
}

// HistoryConfig holds pagination settings.
type HistoryConfig struct {
	PageSize             int           `yaml:"pageSize" default:"15" validate:"gte=1,lte=1000"`
	MaxConcurrentFetches int           `yaml:"maxConcurrentFetches" default:"5" validate:"gte=1"`
	LoadTimeout          time.Duration `yaml:"loadTimeout" default:"30s" validate:"gt=0"`
}

// PortfolioConfig holds aggregation settings.
type PortfolioConfig struct {
	DefaultCurrency     string `yaml:"defaultCurrency" default:"usd" validate:"required"`
	MaxConcurrentQuotes int    `yaml:"maxConcurrentQuotes" default:"8" validate:"gte=1"`
}

// TokensConfig points to the token registry file.
type TokensConfig struct {
	RegistryFile string `yaml:"registryFile" default:"data/tokens/solana.json"`
}

// WalletsConfig points to the watch list of owners tracked from startup.
type WalletsConfig struct {
	WatchFile string `yaml:"watchFile" default:"data/wallets.txt"`
}

// Config is the top-level configuration structure.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Logging     LoggingConfig     `yaml:"logging"`
	Network     NetworkConfig     `yaml:"network"`
	Ledger      LedgerConfig      `yaml:"ledger"`
	PriceSource PriceSourceConfig `yaml:"priceSource"`
	QuoteCache  QuoteCacheConfig  `yaml:"quoteCache"`
	Polling     PollingConfig     `yaml:"polling"`
	History     HistoryConfig     `yaml:"history"`
	Portfolio   PortfolioConfig   `yaml:"portfolio"`
	Tokens      TokensConfig      `yaml:"tokens"`
	Wallets     WalletsConfig     `yaml:"wallets"`
}

// Default returns a Config with every default applied.
func Default() (*Config, error) {
	var cfg Config
	if err := defaults.Set(&cfg); err != nil {
		return nil, fmt.Errorf("failed to apply config defaults: %w", err)
	}
	return &cfg, nil
}

// Load reads the YAML configuration file at path, applies defaults and validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes YAML config data on top of the defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config data: %w", err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}
