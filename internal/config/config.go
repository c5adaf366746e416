package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"

	"spot-cycle-trader/internal/model"
)

type Credentials struct {
	APIKey     string
	SecretKey  string
	Passphrase string
}

func (c Credentials) Present() bool {
	return c.APIKey != "" && c.SecretKey != ""
}

type Config struct {
	Symbols    []string
	QuoteAsset string

	// Sizing and pricing
	MinTradeUSDT   decimal.Decimal
	RiskPercent    decimal.Decimal
	MaxRiskPercent decimal.Decimal
	ProfitTarget   decimal.Decimal
	MinProfitUSDT  decimal.Decimal
	ProfitFloor    decimal.Decimal
	FeeLegs        int
	BuyOffsetPct   decimal.Decimal
	SpreadMultiple decimal.Decimal

	// Loop timing
	CheckInterval   time.Duration
	NoExchangeWait  time.Duration
	SkipWait        time.Duration
	ErrorBackoff    time.Duration
	ShutdownTimeout time.Duration
	TradeCooldown   time.Duration

	// Order lifecycle
	PollInterval  time.Duration
	PollAttempts  int
	RetryAttempts int
	RetryDelay    time.Duration
	PlaceAttempts int

	// Circuit breaker
	BreakerThreshold int
	BreakerWindow    time.Duration
	BreakerCooldown  time.Duration

	// Market filters
	KlineInterval       string
	KlineLimit          int
	MinAvgQuoteVolume   float64
	MaxCloseMove        float64
	ADXPeriod           int
	ADXThreshold        float64
	RSIPeriod           int
	RSILow              float64
	RSIHigh             float64
	ForceFallbackSymbol bool

	DryRun       bool
	PaperBalance decimal.Decimal

	StatusAddr        string
	DataDir           string
	LogLevel          string
	SummaryInterval   time.Duration
	BinanceUserStream bool

	Binance Credentials
	MEXC    Credentials
	GateIO  Credentials
	KuCoin  Credentials
	CoinEx  Credentials

	TelegramToken  string
	TelegramChatID string
}

var defaults = map[string]any{
	"TRADE_SYMBOLS":         "BTC/USDT,ETH/USDT,SOL/USDT,XRP/USDT,DOGE/USDT",
	"QUOTE_ASSET":           "USDT",
	"MIN_TRADE_USDT":        "5",
	"RISK_PERCENT":          "0.10",
	"MAX_RISK_PERCENT":      "0.20",
	"PROFIT_TARGET":         "0.003",
	"MIN_PROFIT_USDT":       "0.01",
	"PROFIT_FLOOR":          "0.0015",
	"FEE_LEGS":              2,
	"BUY_OFFSET_PCT":        "0.002",
	"SPREAD_MULTIPLE":       "2",
	"CHECK_INTERVAL":        "300s",
	"NO_EXCHANGE_WAIT":      "600s",
	"SKIP_WAIT":             "300s",
	"ERROR_BACKOFF":         "300s",
	"POLL_INTERVAL":         "30s",
	"POLL_ATTEMPTS":         40,
	"RETRY_ATTEMPTS":        3,
	"RETRY_DELAY":           "2s",
	"PLACE_ATTEMPTS":        2,
	"TRADE_COOLDOWN":        "1h",
	"BREAKER_THRESHOLD":     3,
	"BREAKER_WINDOW":        "600s",
	"BREAKER_COOLDOWN":      "3600s",
	"KLINE_INTERVAL":        "1h",
	"KLINE_LIMIT":           100,
	"MIN_AVG_QUOTE_VOLUME":  5000.0,
	"MAX_CLOSE_MOVE":        0.05,
	"ADX_PERIOD":            14,
	"ADX_THRESHOLD":         20.0,
	"RSI_PERIOD":            14,
	"RSI_LOW":               35.0,
	"RSI_HIGH":              65.0,
	"FORCE_FALLBACK_SYMBOL": false,
	"DRY_RUN":               false,
	"PAPER_BALANCE":         "100",
	"SHUTDOWN_TIMEOUT":      "30s",
	"STATUS_ADDR":           ":8080",
	"DATA_DIR":              "logs",
	"LOG_LEVEL":             "info",
	"SUMMARY_INTERVAL":      "24h",
	"BINANCE_USER_STREAM":   true,
}

// Load reads .env (optional), the file named by CONFIG_FILE (optional) and the environment,
// in increasing priority.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}
	return load(viper.New())
}

func load(v *viper.Viper) (*Config, error) {
	for k, val := range defaults {
		v.SetDefault(k, val)
	}
	v.AutomaticEnv()

	if file := os.Getenv("CONFIG_FILE"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", file, err)
		}
	}

	p := parser{v: v}
	cfg := &Config{
		Symbols:    splitList(v.GetString("TRADE_SYMBOLS")),
		QuoteAsset: strings.ToUpper(v.GetString("QUOTE_ASSET")),

		MinTradeUSDT:   p.decimal("MIN_TRADE_USDT"),
		RiskPercent:    p.decimal("RISK_PERCENT"),
		MaxRiskPercent: p.decimal("MAX_RISK_PERCENT"),
		ProfitTarget:   p.decimal("PROFIT_TARGET"),
		MinProfitUSDT:  p.decimal("MIN_PROFIT_USDT"),
		ProfitFloor:    p.decimal("PROFIT_FLOOR"),
		FeeLegs:        p.int("FEE_LEGS"),
		BuyOffsetPct:   p.decimal("BUY_OFFSET_PCT"),
		SpreadMultiple: p.decimal("SPREAD_MULTIPLE"),

		CheckInterval:   p.duration("CHECK_INTERVAL"),
		NoExchangeWait:  p.duration("NO_EXCHANGE_WAIT"),
		SkipWait:        p.duration("SKIP_WAIT"),
		ErrorBackoff:    p.duration("ERROR_BACKOFF"),
		ShutdownTimeout: p.duration("SHUTDOWN_TIMEOUT"),
		TradeCooldown:   p.duration("TRADE_COOLDOWN"),

		PollInterval:  p.duration("POLL_INTERVAL"),
		PollAttempts:  p.int("POLL_ATTEMPTS"),
		RetryAttempts: p.int("RETRY_ATTEMPTS"),
		RetryDelay:    p.duration("RETRY_DELAY"),
		PlaceAttempts: p.int("PLACE_ATTEMPTS"),

		BreakerThreshold: p.int("BREAKER_THRESHOLD"),
		BreakerWindow:    p.duration("BREAKER_WINDOW"),
		BreakerCooldown:  p.duration("BREAKER_COOLDOWN"),

		KlineInterval:       v.GetString("KLINE_INTERVAL"),
		KlineLimit:          p.int("KLINE_LIMIT"),
		MinAvgQuoteVolume:   p.float("MIN_AVG_QUOTE_VOLUME"),
		MaxCloseMove:        p.float("MAX_CLOSE_MOVE"),
		ADXPeriod:           p.int("ADX_PERIOD"),
		ADXThreshold:        p.float("ADX_THRESHOLD"),
		RSIPeriod:           p.int("RSI_PERIOD"),
		RSILow:              p.float("RSI_LOW"),
		RSIHigh:             p.float("RSI_HIGH"),
		ForceFallbackSymbol: p.bool("FORCE_FALLBACK_SYMBOL"),

		DryRun:       p.bool("DRY_RUN"),
		PaperBalance: p.decimal("PAPER_BALANCE"),

		StatusAddr:        v.GetString("STATUS_ADDR"),
		DataDir:           v.GetString("DATA_DIR"),
		LogLevel:          v.GetString("LOG_LEVEL"),
		SummaryInterval:   p.duration("SUMMARY_INTERVAL"),
		BinanceUserStream: p.bool("BINANCE_USER_STREAM"),

		Binance: Credentials{APIKey: v.GetString("BINANCE_API_KEY"), SecretKey: v.GetString("BINANCE_SECRET_KEY")},
		MEXC:    Credentials{APIKey: v.GetString("MEXC_API_KEY"), SecretKey: v.GetString("MEXC_SECRET_KEY")},
		GateIO:  Credentials{APIKey: v.GetString("GATEIO_API_KEY"), SecretKey: v.GetString("GATEIO_SECRET_KEY")},
		KuCoin: Credentials{
			APIKey:     v.GetString("KUCOIN_API_KEY"),
			SecretKey:  v.GetString("KUCOIN_SECRET_KEY"),
			Passphrase: v.GetString("KUCOIN_PASSPHRASE"),
		},
		CoinEx: Credentials{APIKey: v.GetString("COINEX_ACCESS_ID"), SecretKey: v.GetString("COINEX_SECRET_KEY")},

		TelegramToken:  v.GetString("TELEGRAM_TOKEN"),
		TelegramChatID: v.GetString("TELEGRAM_CHAT_ID"),
	}
	if p.err != nil {
		return nil, p.err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the bot cannot run with.
func (c *Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf(format, args...))
		}
	}

	check(len(c.Symbols) > 0, "TRADE_SYMBOLS is empty")
	check(c.QuoteAsset != "", "QUOTE_ASSET is required")
	for _, s := range c.Symbols {
		base, quote, ok := strings.Cut(s, "/")
		check(ok && base != "" && quote != "", "symbol %q must be BASE/QUOTE", s)
	}

	check(c.MinTradeUSDT.IsPositive(), "MIN_TRADE_USDT must be positive")
	check(c.RiskPercent.IsPositive(), "RISK_PERCENT must be positive")
	check(c.MaxRiskPercent.GreaterThanOrEqual(c.RiskPercent), "RISK_PERCENT (%s) exceeds MAX_RISK_PERCENT (%s)", c.RiskPercent, c.MaxRiskPercent)
	check(c.ProfitTarget.IsPositive(), "PROFIT_TARGET must be positive")
	check(!c.ProfitFloor.IsNegative(), "PROFIT_FLOOR must not be negative")
	check(c.FeeLegs >= 0, "FEE_LEGS must not be negative")
	check(!c.BuyOffsetPct.IsNegative(), "BUY_OFFSET_PCT must not be negative")

	for name, d := range map[string]time.Duration{
		"CHECK_INTERVAL":   c.CheckInterval,
		"NO_EXCHANGE_WAIT": c.NoExchangeWait,
		"SKIP_WAIT":        c.SkipWait,
		"ERROR_BACKOFF":    c.ErrorBackoff,
		"POLL_INTERVAL":    c.PollInterval,
		"BREAKER_WINDOW":   c.BreakerWindow,
		"BREAKER_COOLDOWN": c.BreakerCooldown,
	} {
		check(d > 0, "%s must be positive", name)
	}
	check(c.PollAttempts > 0, "POLL_ATTEMPTS must be positive")
	check(c.RetryAttempts > 0, "RETRY_ATTEMPTS must be positive")
	check(c.PlaceAttempts > 0, "PLACE_ATTEMPTS must be positive")
	check(c.BreakerThreshold > 0, "BREAKER_THRESHOLD must be positive")
	check(c.KlineLimit > 0, "KLINE_LIMIT must be positive")
	check(c.RSILow < c.RSIHigh, "RSI_LOW (%v) must be below RSI_HIGH (%v)", c.RSILow, c.RSIHigh)
	check(c.ADXPeriod > 0 && c.RSIPeriod > 0, "ADX_PERIOD and RSI_PERIOD must be positive")
	if c.DryRun {
		check(c.PaperBalance.IsPositive(), "PAPER_BALANCE must be positive")
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", model.ErrConfiguration, errors.Join(errs...))
}

// parser keeps the first conversion error so Load reports it by key.
type parser struct {
	v   *viper.Viper
	err error
}

func (p *parser) fail(err error) {
	if p.err == nil {
		p.err = fmt.Errorf("%w: %w", model.ErrConfiguration, err)
	}
}

func (p *parser) decimal(name string) decimal.Decimal {
	d, err := parseDecimal(p.v.GetString(name), name)
	if err != nil {
		p.fail(err)
	}
	return d
}

func (p *parser) int(name string) int {
	i, err := strconv.Atoi(strings.TrimSpace(p.v.GetString(name)))
	if err != nil {
		p.fail(fmt.Errorf("invalid value for %s: %w", name, err))
	}
	return i
}

func (p *parser) float(name string) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(p.v.GetString(name)), 64)
	if err != nil {
		p.fail(fmt.Errorf("invalid value for %s: %w", name, err))
	}
	return f
}

func (p *parser) bool(name string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(p.v.GetString(name)))
	if err != nil {
		p.fail(fmt.Errorf("invalid value for %s: %w", name, err))
	}
	return b
}

// duration accepts Go durations ("30s", "1h") and bare integers as seconds.
func (p *parser) duration(name string) time.Duration {
	raw := strings.TrimSpace(p.v.GetString(name))
	if secs, err := strconv.Atoi(raw); err == nil {
		return time.Duration(secs) * time.Second
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		p.fail(fmt.Errorf("invalid value for %s: %w", name, err))
	}
	return d
}

func parseDecimal(value, name string) (decimal.Decimal, error) {
	if value == "" {
		return decimal.Zero, fmt.Errorf("%s is required", name)
	}
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid value for %s: %w", name, err)
	}
	return d, nil
}

func splitList(raw string) []string {
	var out []string
	for _, s := range strings.Split(raw, ",") {
		if s = strings.ToUpper(strings.TrimSpace(s)); s != "" {
			out = append(out, s)
		}
	}
	return out
}
