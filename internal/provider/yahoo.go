package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"time"

	"clusterscan/internal/ratelimit"
	"clusterscan/pkg/model"
)

const yahooBaseURL = "https://query1.finance.yahoo.com/v8/finance/chart"

var ist = time.FixedZone("IST", 5*3600+1800)

// YahooProvider fetches daily bars for one Indian exchange from the Yahoo
// Finance chart API (unofficial). NSE symbols get the .NS suffix, BSE .BO.
type YahooProvider struct {
	client   *http.Client
	limiter  *ratelimit.Limiter
	exchange model.Exchange
	baseURL  string
}

// YahooOption configures a YahooProvider
type YahooOption func(*YahooProvider)

// WithBaseURL points the provider at another chart endpoint
func WithBaseURL(u string) YahooOption {
	return func(p *YahooProvider) { p.baseURL = u }
}

// WithHTTPClient replaces the default client
func WithHTTPClient(c *http.Client) YahooOption {
	return func(p *YahooProvider) { p.client = c }
}

// NewYahooProvider creates a provider for exchange sharing limiter with any
// other provider that talks to the same host
func NewYahooProvider(exchange model.Exchange, limiter *ratelimit.Limiter, opts ...YahooOption) *YahooProvider {
	p := &YahooProvider{
		client:   &http.Client{Timeout: 30 * time.Second},
		limiter:  limiter,
		exchange: exchange,
		baseURL:  yahooBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Name returns the provider name
func (p *YahooProvider) Name() string {
	return "yahoo-" + string(p.exchange)
}

// Ticker returns the Yahoo ticker for an exchange symbol
func (p *YahooProvider) Ticker(symbol string) string {
	if p.exchange == model.ExchangeBSE {
		return symbol + ".BO"
	}
	return symbol + ".NS"
}

// yahooResponse represents the Yahoo Finance API response. Missing values
// arrive as JSON null and decode to zero.
type yahooResponse struct {
	Chart struct {
		Result []struct {
			Meta struct {
				Symbol string `json:"symbol"`
			} `json:"meta"`
			Timestamp  []int64 `json:"timestamp"`
			Indicators struct {
				Quote []struct {
					Open   []float64 `json:"open"`
					High   []float64 `json:"high"`
					Low    []float64 `json:"low"`
					Close  []float64 `json:"close"`
					Volume []int64   `json:"volume"`
				} `json:"quote"`
			} `json:"indicators"`
		} `json:"result"`
		Error *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

// GetDailyCandles fetches the last days trading days, oldest first
func (p *YahooProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// Trading days to calendar days, with slack for holidays.
	end := time.Now()
	start := end.AddDate(0, 0, -(days*7/5 + 10))

	q := url.Values{}
	q.Set("period1", fmt.Sprint(start.Unix()))
	q.Set("period2", fmt.Sprint(end.Unix()))
	q.Set("interval", "1d")
	q.Set("includePrePost", "false")
	reqURL := fmt.Sprintf("%s/%s?%s", p.baseURL, url.PathEscape(p.Ticker(symbol)), q.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: err, Retryable: true}
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		p.limiter.SignalRateLimited()
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("rate limited"), Retryable: true}
	}
	if resp.StatusCode >= 500 {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: true}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("status %d", resp.StatusCode), Retryable: false}
	}

	p.limiter.ResetBackoff()

	var data yahooResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("decoding response: %w", err), Retryable: false}
	}

	if data.Chart.Error != nil {
		return nil, &ProviderError{Provider: p.Name(), Err: fmt.Errorf("%s", data.Chart.Error.Description), Retryable: false}
	}
	if len(data.Chart.Result) == 0 || len(data.Chart.Result[0].Timestamp) == 0 || len(data.Chart.Result[0].Indicators.Quote) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrNoData, Retryable: false}
	}

	result := data.Chart.Result[0]
	quotes := result.Indicators.Quote[0]

	byDay := make(map[time.Time]model.Candle, len(result.Timestamp))
	for i, ts := range result.Timestamp {
		if i >= len(quotes.Open) || i >= len(quotes.High) || i >= len(quotes.Low) || i >= len(quotes.Close) {
			continue
		}
		// Halted or holiday rows come back as nulls.
		if quotes.Close[i] <= 0 {
			continue
		}

		var volume int64
		if i < len(quotes.Volume) {
			volume = quotes.Volume[i]
		}

		// Bars are keyed by their IST trading date at midnight UTC.
		d := time.Unix(ts, 0).In(ist)
		day := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
		byDay[day] = model.Candle{
			Time:   day,
			Open:   quotes.Open[i],
			High:   quotes.High[i],
			Low:    quotes.Low[i],
			Close:  quotes.Close[i],
			Volume: volume,
		}
	}

	if len(byDay) == 0 {
		return nil, &ProviderError{Provider: p.Name(), Err: ErrNoData, Retryable: false}
	}

	candles := make([]model.Candle, 0, len(byDay))
	for _, c := range byDay {
		candles = append(candles, c)
	}
	sort.Slice(candles, func(i, j int) bool {
		return candles[i].Time.Before(candles[j].Time)
	})

	return tail(candles, days), nil
}

// NewIndiaProvider is the default chain: NSE first, BSE when NSE has nothing
func NewIndiaProvider(primary model.Exchange, limiter *ratelimit.Limiter, opts ...YahooOption) *FallbackProvider {
	secondary := model.ExchangeBSE
	if primary == model.ExchangeBSE {
		secondary = model.ExchangeNSE
	}
	return NewFallbackProvider(
		NewYahooProvider(primary, limiter, opts...),
		NewYahooProvider(secondary, limiter, opts...),
	)
}
