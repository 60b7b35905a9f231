package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/dnldd/trail/shared"
	"github.com/rs/zerolog"
	"github.com/tidwall/gjson"
)

const (
	// MainnetURL is the bybit production api.
	MainnetURL = "https://api.bybit.com"
	// TestnetURL is the bybit testnet api.
	TestnetURL = "https://api-testnet.bybit.com"

	// linearCategory is the product category of usdt and usdc perpetuals.
	linearCategory = "linear"
	// defaultTimeout is the http request timeout.
	defaultTimeout = time.Second * 10
	// klinePath is the market kline endpoint.
	klinePath = "/v5/market/kline"
	// tickersPath is the market tickers endpoint.
	tickersPath = "/v5/market/tickers"
)

// BybitConfig represents the configuration for the bybit client.
type BybitConfig struct {
	// BaseURL is the api base url.
	BaseURL string
	// Timeout is the http request timeout.
	Timeout time.Duration
	// Logger represents the application logger.
	Logger *zerolog.Logger
}

// Validate asserts the config sane inputs.
func (cfg *BybitConfig) Validate() error {
	var errs error

	if cfg.BaseURL == "" {
		errs = errors.Join(errs, fmt.Errorf("base url cannot be an empty string"))
	}
	if cfg.Timeout < 0 {
		errs = errors.Join(errs, fmt.Errorf("timeout cannot be negative"))
	}
	if cfg.Logger == nil {
		errs = errors.Join(errs, fmt.Errorf("logger cannot be nil"))
	}

	return errs
}

// BybitClient represents the bybit v5 public market data client.
type BybitClient struct {
	cfg   *BybitConfig
	httpc http.Client
	buf   *bytes.Buffer
	mtx   sync.Mutex
}

// Ensure the BybitClient implements the MarketFetcher interface.
var _ shared.MarketFetcher = (*BybitClient)(nil)

// NewBybitClient instantiates a new bybit client.
func NewBybitClient(cfg *BybitConfig) (*BybitClient, error) {
	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validating bybit config: %w", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}

	return &BybitClient{
		cfg:   cfg,
		httpc: http.Client{Timeout: timeout},
		buf:   bytes.NewBuffer(make([]byte, 0, 256)),
	}, nil
}

// formURL creates full urls including parameters for the api.
func (c *BybitClient) formURL(path string, params string) string {
	c.mtx.Lock()
	defer c.mtx.Unlock()

	c.buf.WriteString(c.cfg.BaseURL)
	c.buf.WriteString(path)
	c.buf.WriteString("?")
	c.buf.WriteString(params)
	url := c.buf.String()
	c.buf.Reset()

	return url
}

// get requests the provided endpoint and returns the result object of the response.
func (c *BybitClient) get(ctx context.Context, path string, params url.Values) (gjson.Result, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.formURL(path, params.Encode()), nil)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("creating request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: requesting %s: %v", shared.ErrDataUnavailable, path, err)
	}

	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("%w: reading response body: %v", shared.ErrDataUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return gjson.Result{}, fmt.Errorf("%w: unexpected status code %d from %s",
			shared.ErrDataUnavailable, resp.StatusCode, path)
	}

	if !gjson.ValidBytes(body) {
		return gjson.Result{}, fmt.Errorf("%w: malformed response from %s", shared.ErrDataUnavailable, path)
	}

	data := gjson.ParseBytes(body)
	code := data.Get("retCode")
	if !code.Exists() || code.Int() != 0 {
		return gjson.Result{}, fmt.Errorf("%w: %s returned code %d (%s)",
			shared.ErrDataUnavailable, path, code.Int(), data.Get("retMsg").String())
	}

	return data.Get("result"), nil
}

// parsePrice parses the provided decimal string as a price.
func parsePrice(data gjson.Result) (float64, error) {
	if data.Type != gjson.String && data.Type != gjson.Number {
		return 0, fmt.Errorf("price must be a number or numeric string, got %s", data.Type.String())
	}

	price, err := strconv.ParseFloat(data.String(), 64)
	if err != nil {
		return 0, fmt.Errorf("parsing price %q: %w", data.String(), err)
	}

	return price, nil
}

// ParseKlines parses price points from the provided kline rows.
//
// Each row is [startTime, open, high, low, close, volume, turnover] as
// returned by the exchange, newest first. The parsed points are returned
// oldest first.
func ParseKlines(data []gjson.Result) ([]shared.PricePoint, error) {
	points := make([]shared.PricePoint, 0, len(data))

	for idx := range data {
		row := data[idx].Array()
		if len(row) < 5 {
			return nil, fmt.Errorf("kline row %d has %d fields, expected at least 5", idx, len(row))
		}

		ts, err := strconv.ParseInt(row[0].String(), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parsing kline row %d start time: %w", idx, err)
		}

		closePrice, err := parsePrice(row[4])
		if err != nil {
			return nil, fmt.Errorf("parsing kline row %d close: %w", idx, err)
		}

		points = append(points, shared.PricePoint{Timestamp: ts, Close: closePrice})
	}

	return shared.SortPricePoints(points), nil
}

// FetchRecentCloses fetches the most recent candle closes for the provided symbol.
func (c *BybitClient) FetchRecentCloses(ctx context.Context, symbol string, interval shared.Interval, count int) ([]shared.PricePoint, error) {
	if interval.Duration() == 0 {
		return nil, fmt.Errorf("unknown interval provided: %s", string(interval))
	}
	if count < 1 || count > shared.MaxCandleLimit {
		return nil, fmt.Errorf("candle count must be in [1, %d], got %d", shared.MaxCandleLimit, count)
	}

	params := url.Values{}
	params.Add("category", linearCategory)
	params.Add("symbol", symbol)
	params.Add("interval", string(interval))
	params.Add("limit", strconv.Itoa(count))

	result, err := c.get(ctx, klinePath, params)
	if err != nil {
		return nil, fmt.Errorf("fetching %s klines for %s: %w", interval.String(), symbol, err)
	}

	points, err := ParseKlines(result.Get("list").Array())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", shared.ErrDataUnavailable, err)
	}

	c.cfg.Logger.Debug().Msgf("fetched %d %s closes for %s", len(points), interval.String(), symbol)

	return points, nil
}

// FetchCurrentPrice fetches the last traded price of the provided symbol.
func (c *BybitClient) FetchCurrentPrice(ctx context.Context, symbol string) (float64, error) {
	params := url.Values{}
	params.Add("category", linearCategory)
	params.Add("symbol", symbol)

	result, err := c.get(ctx, tickersPath, params)
	if err != nil {
		return 0, fmt.Errorf("fetching ticker for %s: %w", symbol, err)
	}

	ticker := result.Get("list.0")
	if !ticker.Exists() {
		return 0, fmt.Errorf("%w: no ticker returned for %s", shared.ErrDataUnavailable, symbol)
	}

	price, err := parsePrice(ticker.Get("lastPrice"))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", shared.ErrDataUnavailable, err)
	}

	return price, nil
}
