package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/dnldd/trail/fetch"
	"github.com/dnldd/trail/shared"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
)

// quoteSuffixes are the settlement assets a symbol may already carry.
var quoteSuffixes = []string{"USDT", "USDC", "PERP"}

// Config is the configuration struct for the service.
type Config struct {
	// Symbol is the traded derivatives pair.
	Symbol string
	// Capital is the quote currency notional committed per trade.
	Capital float64
	// StopLoss is the initial stop loss percent.
	StopLoss float64
	// TakeProfit is the take profit percent.
	TakeProfit float64
	// TrailingStep is the trailing stop step percent.
	TrailingStep float64
	// RSILong is the rsi level below which a long is opened.
	RSILong float64
	// RSIShort is the rsi level above which a short is opened.
	RSIShort float64
	// Interval is the candle interval in the exchange vocabulary.
	Interval string
	// RSIPeriod is the rsi smoothing period.
	RSIPeriod int
	// CandleLimit is the number of candles fetched per rsi computation.
	CandleLimit int
	// QuantityStep is the order quantity increment.
	QuantityStep float64
	// Testnet selects the exchange testnet when no base url is provided.
	Testnet bool
	// BaseURL is the exchange api base url.
	BaseURL string
	// DBEndpoint is the trade journal endpoint.
	DBEndpoint string
	// DBUser is the trade journal user.
	DBUser string
	// DBPass is the trade journal user pass.
	DBPass string
	// RedisAddr is the redis address.
	RedisAddr string
	// RedisPass is the redis password.
	RedisPass string
	// RedisChannel is the channel position events are published to.
	RedisChannel string
	// MetricsAddr is the metrics server address.
	MetricsAddr string
	// Heartbeat is the interval the engine state is logged at.
	Heartbeat time.Duration
	// LogLevel is the log level.
	LogLevel string

	registeredFlags map[string]bool
}

// normalizeSymbol upper-cases the provided symbol and quotes bare base assets in USDT.
func normalizeSymbol(symbol string) string {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return symbol
	}

	for _, suffix := range quoteSuffixes {
		if strings.HasSuffix(symbol, suffix) && len(symbol) > len(suffix) {
			return symbol
		}
	}

	return symbol + "USDT"
}

// StrategyConfig returns the strategy parameters described by the config.
func (cfg *Config) StrategyConfig() (shared.StrategyConfig, error) {
	interval, err := shared.ParseInterval(cfg.Interval)
	if err != nil {
		return shared.StrategyConfig{}, fmt.Errorf("%w: %w", shared.ErrInvalidConfiguration, err)
	}

	strategy := shared.StrategyConfig{
		Symbol:              cfg.Symbol,
		Capital:             cfg.Capital,
		StopLossPercent:     cfg.StopLoss,
		TakeProfitPercent:   cfg.TakeProfit,
		TrailingStepPercent: cfg.TrailingStep,
		LongThreshold:       cfg.RSILong,
		ShortThreshold:      cfg.RSIShort,
		Interval:            interval,
		RSIPeriod:           cfg.RSIPeriod,
		CandleLimit:         cfg.CandleLimit,
		QuantityStep:        cfg.QuantityStep,
	}

	return strategy, strategy.Validate()
}

// ExchangeURL returns the exchange api base url to use.
func (cfg *Config) ExchangeURL() string {
	switch {
	case cfg.BaseURL != "":
		return cfg.BaseURL
	case cfg.Testnet:
		return fetch.TestnetURL
	default:
		return fetch.MainnetURL
	}
}

// Validate asserts the config sane inputs.
func (cfg *Config) Validate() error {
	var errs error

	_, err := cfg.StrategyConfig()
	if err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.DBUser != "" && cfg.DBPass == "" {
		errs = errors.Join(errs, fmt.Errorf("database pass cannot be empty when a user is set"))
	}
	if cfg.RedisAddr != "" && cfg.RedisChannel == "" {
		errs = errors.Join(errs, fmt.Errorf("redis channel cannot be an empty string"))
	}
	if cfg.Heartbeat < time.Second {
		errs = errors.Join(errs, fmt.Errorf("heartbeat interval must be at least 1s"))
	}
	if _, err := zerolog.ParseLevel(cfg.LogLevel); err != nil {
		errs = errors.Join(errs, fmt.Errorf("unknown log level provided: %q", cfg.LogLevel))
	}

	return errs
}

// registerFlag registers command line arguments of any type and tracks them to avoid reregistration.
//
// The environment variable of the same name takes precedence over the provided fallback
// as the flag default.
func (cfg *Config) registerFlag(name string, value interface{}, fallback string, usage string) error {
	if cfg.registeredFlags == nil {
		cfg.registeredFlags = make(map[string]bool)
	}

	if cfg.registeredFlags[name] {
		return nil
	}

	cfg.registeredFlags[name] = true

	defValue := os.Getenv(name)
	if defValue == "" {
		defValue = fallback
	}

	val := reflect.ValueOf(value)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("%s: value must be a non-nil pointer", name)
	}

	switch val.Elem().Kind() {
	case reflect.String:
		flag.StringVar(value.(*string), name, defValue, usage)
	case reflect.Bool:
		var def bool
		if defValue != "" {
			parsed, err := strconv.ParseBool(defValue)
			if err != nil {
				return fmt.Errorf("%s: parsing default %q: %w", name, defValue, err)
			}
			def = parsed
		}
		flag.BoolVar(value.(*bool), name, def, usage)
	case reflect.Int:
		var def int
		if defValue != "" {
			parsed, err := strconv.Atoi(defValue)
			if err != nil {
				return fmt.Errorf("%s: parsing default %q: %w", name, defValue, err)
			}
			def = parsed
		}
		flag.IntVar(value.(*int), name, def, usage)
	case reflect.Float64:
		var def float64
		if defValue != "" {
			parsed, err := strconv.ParseFloat(defValue, 64)
			if err != nil {
				return fmt.Errorf("%s: parsing default %q: %w", name, defValue, err)
			}
			def = parsed
		}
		flag.Float64Var(value.(*float64), name, def, usage)
	case reflect.Int64:
		// Only handle time.Duration
		d, ok := value.(*time.Duration)
		if !ok {
			return fmt.Errorf("%s: unsupported int64 type", name)
		}
		var def time.Duration
		if defValue != "" {
			parsed, err := time.ParseDuration(defValue)
			if err != nil {
				return fmt.Errorf("%s: parsing default %q: %w", name, defValue, err)
			}
			def = parsed
		}
		flag.DurationVar(d, name, def, usage)
	default:
		return fmt.Errorf("%s: unsupported type", name)
	}

	return nil
}

// loadConfig loads the configuration from environment variables and command line flags.
func loadConfig(cfg *Config, path string) error {
	if path == "" {
		path = ".env"
	}

	// Check if the expected .env file exists before loading it.
	_, err := os.Stat(path)
	if err == nil {
		err := godotenv.Load(path)
		if err != nil {
			return fmt.Errorf("loading .env file: %w", err)
		}
	}

	// Register command line arguments using loaded environment variables as defaults.
	flags := []struct {
		name     string
		value    interface{}
		fallback string
		usage    string
	}{
		{"symbol", &cfg.Symbol, "", "the traded symbol, a bare base asset is quoted in USDT"},
		{"capital", &cfg.Capital, "", "the quote notional committed per trade"},
		{"stoploss", &cfg.StopLoss, "", "the initial stop loss percent"},
		{"takeprofit", &cfg.TakeProfit, "", "the take profit percent"},
		{"trailingstep", &cfg.TrailingStep, "", "the trailing stop step percent"},
		{"rsilong", &cfg.RSILong, "30", "the rsi level below which a long is opened"},
		{"rsishort", &cfg.RSIShort, "70", "the rsi level above which a short is opened"},
		{"interval", &cfg.Interval, string(shared.OneMinute), "the candle interval, 1 minute by default (1,3,5,15,30,60,120,240,360,720,D,W,M)"},
		{"rsiperiod", &cfg.RSIPeriod, strconv.Itoa(shared.DefaultRSIPeriod), "the rsi smoothing period"},
		{"candlelimit", &cfg.CandleLimit, strconv.Itoa(shared.DefaultCandleLimit), "the number of candles fetched per rsi computation"},
		{"quantitystep", &cfg.QuantityStep, "0", "the order quantity increment, zero leaves quantities unrounded"},
		{"testnet", &cfg.Testnet, "false", "use the exchange testnet"},
		{"baseurl", &cfg.BaseURL, "", "the exchange api base url, overrides testnet"},
		{"dbendpoint", &cfg.DBEndpoint, "", "the trade journal endpoint"},
		{"dbuser", &cfg.DBUser, "", "the trade journal user"},
		{"dbpass", &cfg.DBPass, "", "the trade journal user pass"},
		{"redisaddr", &cfg.RedisAddr, "", "the redis address for position events"},
		{"redispass", &cfg.RedisPass, "", "the redis password"},
		{"redischannel", &cfg.RedisChannel, "trail:events", "the redis channel for position events"},
		{"metricsaddr", &cfg.MetricsAddr, "", "the metrics server address"},
		{"heartbeat", &cfg.Heartbeat, "5m", "the engine state logging interval"},
		{"loglevel", &cfg.LogLevel, "info", "the log level"},
	}

	for _, f := range flags {
		err = cfg.registerFlag(f.name, f.value, f.fallback, f.usage)
		if err != nil {
			return err
		}
	}

	// Parse command-line flags.
	flag.Parse()

	cfg.Symbol = normalizeSymbol(cfg.Symbol)
	cfg.BaseURL = cfg.ExchangeURL()

	return cfg.Validate()
}
