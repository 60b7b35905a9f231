package shared

import (
	"errors"
	"fmt"
	"math"
)

const (
	// DefaultRSIPeriod is the default RSI smoothing period.
	DefaultRSIPeriod = 14
	// DefaultCandleLimit is the default number of candles fetched for RSI computation.
	DefaultCandleLimit = 500
	// MaxCandleLimit is the maximum number of candles the exchange returns per request.
	MaxCandleLimit = 1000
)

// StrategyConfig represents the immutable parameters of a trading run.
type StrategyConfig struct {
	// Symbol is the traded derivatives pair.
	Symbol string
	// Capital is the quote currency notional committed per trade.
	Capital float64
	// StopLossPercent is the initial stop distance from entry, in percent.
	StopLossPercent float64
	// TakeProfitPercent is the take profit distance from entry, in percent.
	TakeProfitPercent float64
	// TrailingStepPercent is the profit step the trailing stop ratchets by, in percent.
	TrailingStepPercent float64
	// LongThreshold is the RSI level below which a long is opened.
	LongThreshold float64
	// ShortThreshold is the RSI level above which a short is opened.
	ShortThreshold float64
	// Interval is the candle interval the RSI is computed on.
	Interval Interval
	// RSIPeriod is the RSI smoothing period.
	RSIPeriod int
	// CandleLimit is the number of candles fetched per RSI computation.
	CandleLimit int
	// QuantityStep is the order quantity increment, zero leaves quantities unrounded.
	QuantityStep float64
}

// isPositiveFinite returns whether the provided value is a finite number above zero.
func isPositiveFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// Validate asserts the config sane inputs.
func (cfg *StrategyConfig) Validate() error {
	var errs error

	if cfg.Symbol == "" {
		errs = errors.Join(errs, fmt.Errorf("symbol cannot be an empty string"))
	}
	if !isPositiveFinite(cfg.Capital) {
		errs = errors.Join(errs, fmt.Errorf("capital must be a positive number, got %v", cfg.Capital))
	}
	if !isPositiveFinite(cfg.StopLossPercent) || cfg.StopLossPercent >= 100 {
		errs = errors.Join(errs, fmt.Errorf("stop loss percent must be in (0, 100), got %v", cfg.StopLossPercent))
	}
	if !isPositiveFinite(cfg.TakeProfitPercent) {
		errs = errors.Join(errs, fmt.Errorf("take profit percent must be a positive number, got %v", cfg.TakeProfitPercent))
	}
	if !isPositiveFinite(cfg.TrailingStepPercent) {
		errs = errors.Join(errs, fmt.Errorf("trailing step percent must be a positive number, got %v", cfg.TrailingStepPercent))
	}
	if math.IsNaN(cfg.LongThreshold) || cfg.LongThreshold < 0 || cfg.LongThreshold > 100 {
		errs = errors.Join(errs, fmt.Errorf("long rsi threshold must be in [0, 100], got %v", cfg.LongThreshold))
	}
	if math.IsNaN(cfg.ShortThreshold) || cfg.ShortThreshold < 0 || cfg.ShortThreshold > 100 {
		errs = errors.Join(errs, fmt.Errorf("short rsi threshold must be in [0, 100], got %v", cfg.ShortThreshold))
	}
	if _, err := ParseInterval(string(cfg.Interval)); err != nil {
		errs = errors.Join(errs, err)
	}
	if cfg.RSIPeriod < 1 {
		errs = errors.Join(errs, fmt.Errorf("rsi period must be at least 1, got %d", cfg.RSIPeriod))
	}
	if cfg.CandleLimit < cfg.RSIPeriod+1 || cfg.CandleLimit > MaxCandleLimit {
		errs = errors.Join(errs, fmt.Errorf("candle limit must be in [%d, %d], got %d",
			cfg.RSIPeriod+1, MaxCandleLimit, cfg.CandleLimit))
	}
	if math.IsNaN(cfg.QuantityStep) || math.IsInf(cfg.QuantityStep, 0) || cfg.QuantityStep < 0 {
		errs = errors.Join(errs, fmt.Errorf("quantity step cannot be negative, got %v", cfg.QuantityStep))
	}

	if errs != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfiguration, errs)
	}

	return nil
}
