// Package config loads the bot configuration from a YAML file and the environment.
package config

import (
	"flag"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/vadiminshakov/dcabot/internal/domain"
)

const (
	PlatformBinance  = "binance"
	PlatformBybit    = "bybit"
	PlatformSimulate = "simulate"
)

const (
	defaultDatabasePath       = "./data/dcabot.db"
	defaultJournalDir         = "./wal/orders"
	defaultPollInterval       = 10 * time.Second
	defaultOrderNotFoundGrace = 2 * time.Minute
	defaultMarkupPercent      = 5
	defaultMetricsAddr        = ":9100"
	defaultCaretakerSchedule  = "*/30 * * * * *"
)

// Config is the immutable process configuration.
type Config struct {
	Platform           string
	Testnet            bool
	DatabasePath       string
	JournalDir         string
	PollInterval       time.Duration
	OrderNotFoundGrace time.Duration

	// TestingMode prices buy limits above the ask so they fill at once.
	TestingMode          bool
	TestingMarkupPercent decimal.Decimal

	MetricsAddr       string
	CaretakerSchedule string
	// SimulateBalance is the starting quote balance of the paper exchange.
	SimulateBalance decimal.Decimal

	Log         LogConfig
	Credentials Credentials
	Assets      []domain.AssetConfig
}

type LogConfig struct {
	Level    string `yaml:"level"`
	Encoding string `yaml:"encoding"`
}

// Credentials are read from the environment only.
type Credentials struct {
	BinanceAPIKey       string
	BinanceAPISecret    string
	BybitAPIKey         string
	BybitAPISecret      string
	DiscordWebhookID    string
	DiscordWebhookToken string
}

type fileConfig struct {
	Platform             string        `yaml:"platform"`
	Testnet              bool          `yaml:"testnet"`
	DatabasePath         string        `yaml:"database_path"`
	JournalDir           string        `yaml:"journal_dir"`
	PollInterval         time.Duration `yaml:"poll_interval"`
	OrderNotFoundGrace   time.Duration `yaml:"order_not_found_grace"`
	TestingMode          bool          `yaml:"testing_mode"`
	TestingMarkupPercent string        `yaml:"testing_markup_percent,omitempty"`
	MetricsAddr          string        `yaml:"metrics_addr"`
	CaretakerSchedule    string        `yaml:"caretaker_schedule"`
	SimulateBalance      string        `yaml:"simulate_balance,omitempty"`
	Log                  LogConfig     `yaml:"log"`
	Assets               []fileAsset   `yaml:"assets"`
}

type fileAsset struct {
	Symbol               string        `yaml:"symbol"`
	Enabled              *bool         `yaml:"enabled"`
	BaseOrderAmount      string        `yaml:"base_order_amount"`
	SafetyOrderAmount    string        `yaml:"safety_order_amount"`
	MaxSafetyOrders      int           `yaml:"max_safety_orders"`
	SafetyOrderDeviation string        `yaml:"safety_order_deviation"`
	TakeProfitPercent    string        `yaml:"take_profit_percent"`
	TTPEnabled           bool          `yaml:"ttp_enabled"`
	TTPDeviationPercent  string        `yaml:"ttp_deviation_percent"`
	CooldownPeriod       time.Duration `yaml:"cooldown_period"`
	MinOrderQuantity     string        `yaml:"min_order_quantity"`
	QuantityStep         string        `yaml:"quantity_step"`
	PriceStep            string        `yaml:"price_step"`
}

// Get loads the configuration file named by the --config flag.
func Get() (Config, error) {
	path := flag.String("config", "config.yaml", "path to yaml config")
	flag.Parse()

	return Load(*path)
}

// Load reads .env (if present), then the YAML file at path.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, errors.Wrap(err, "failed to load .env")
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "failed to read config %s", path)
	}

	return Parse(raw)
}

// Parse builds a Config from YAML bytes and the current environment.
func Parse(raw []byte) (Config, error) {
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return Config{}, errors.Wrap(err, "failed to parse yaml config")
	}

	cfg := Config{
		Platform:           strings.ToLower(strings.TrimSpace(fc.Platform)),
		Testnet:            fc.Testnet,
		DatabasePath:       orDefault(fc.DatabasePath, defaultDatabasePath),
		JournalDir:         orDefault(fc.JournalDir, defaultJournalDir),
		PollInterval:       fc.PollInterval,
		OrderNotFoundGrace: fc.OrderNotFoundGrace,
		TestingMode:        fc.TestingMode,
		MetricsAddr:        orDefault(fc.MetricsAddr, defaultMetricsAddr),
		CaretakerSchedule:  orDefault(fc.CaretakerSchedule, defaultCaretakerSchedule),
		Log:                fc.Log,
		Credentials:        credentialsFromEnv(),
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.OrderNotFoundGrace == 0 {
		cfg.OrderNotFoundGrace = defaultOrderNotFoundGrace
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Encoding == "" {
		cfg.Log.Encoding = "json"
	}

	var err error
	if cfg.TestingMarkupPercent, err = parseDecimal("testing_markup_percent", fc.TestingMarkupPercent, decimal.NewFromInt(defaultMarkupPercent)); err != nil {
		return Config{}, err
	}
	if cfg.SimulateBalance, err = parseDecimal("simulate_balance", fc.SimulateBalance, decimal.Zero); err != nil {
		return Config{}, err
	}

	for i, fa := range fc.Assets {
		asset, err := fa.toDomain()
		if err != nil {
			return Config{}, errors.Wrapf(err, "assets[%d]", i)
		}
		cfg.Assets = append(cfg.Assets, asset)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	switch c.Platform {
	case PlatformBinance, PlatformBybit, PlatformSimulate:
	default:
		return errors.Errorf("unsupported platform %q", c.Platform)
	}
	if c.PollInterval < 0 || c.OrderNotFoundGrace < 0 {
		return errors.New("poll_interval and order_not_found_grace must not be negative")
	}
	if c.TestingMode && !c.TestingMarkupPercent.IsPositive() {
		return errors.New("testing_markup_percent must be positive")
	}
	if c.SimulateBalance.IsNegative() {
		return errors.New("simulate_balance must not be negative")
	}
	if len(c.Assets) == 0 {
		return errors.New("no assets configured")
	}

	seen := make(map[string]struct{}, len(c.Assets))
	for _, a := range c.Assets {
		if err := a.Validate(); err != nil {
			return errors.Wrap(err, "invalid asset")
		}
		if _, dup := seen[a.Symbol]; dup {
			return errors.Errorf("asset %s configured twice", a.Symbol)
		}
		seen[a.Symbol] = struct{}{}
	}

	return nil
}

func (fa fileAsset) toDomain() (domain.AssetConfig, error) {
	pair, err := domain.ParsePair(fa.Symbol)
	if err != nil {
		return domain.AssetConfig{}, err
	}

	asset := domain.AssetConfig{
		Symbol:          pair.String(),
		IsEnabled:       fa.Enabled == nil || *fa.Enabled,
		MaxSafetyOrders: fa.MaxSafetyOrders,
		TTPEnabled:      fa.TTPEnabled,
		CooldownPeriod:  fa.CooldownPeriod,
	}

	fields := []struct {
		name string
		raw  string
		dst  *decimal.Decimal
	}{
		{"base_order_amount", fa.BaseOrderAmount, &asset.BaseOrderAmount},
		{"safety_order_amount", fa.SafetyOrderAmount, &asset.SafetyOrderAmount},
		{"safety_order_deviation", fa.SafetyOrderDeviation, &asset.SafetyOrderDeviation},
		{"take_profit_percent", fa.TakeProfitPercent, &asset.TakeProfitPercent},
		{"ttp_deviation_percent", fa.TTPDeviationPercent, &asset.TTPDeviationPercent},
		{"min_order_quantity", fa.MinOrderQuantity, &asset.MinOrderQuantity},
		{"quantity_step", fa.QuantityStep, &asset.QuantityStep},
		{"price_step", fa.PriceStep, &asset.PriceStep},
	}
	for _, f := range fields {
		v, err := parseDecimal(f.name, f.raw, decimal.Zero)
		if err != nil {
			return domain.AssetConfig{}, errors.Wrap(err, pair.String())
		}
		*f.dst = v
	}

	return asset, nil
}

func parseDecimal(name, raw string, def decimal.Decimal) (decimal.Decimal, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def, nil
	}
	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "incorrect '%s' param in yaml config (must be a decimal)", name)
	}
	return v, nil
}

func credentialsFromEnv() Credentials {
	return Credentials{
		BinanceAPIKey:       os.Getenv("BINANCE_API_KEY"),
		BinanceAPISecret:    os.Getenv("BINANCE_API_SECRET"),
		BybitAPIKey:         os.Getenv("BYBIT_API_KEY"),
		BybitAPISecret:      os.Getenv("BYBIT_API_SECRET"),
		DiscordWebhookID:    os.Getenv("DISCORD_WEBHOOK_ID"),
		DiscordWebhookToken: os.Getenv("DISCORD_WEBHOOK_TOKEN"),
	}
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) == "" {
		return def
	}
	return v
}
