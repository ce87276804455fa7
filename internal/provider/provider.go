package provider

import (
	"context"
	"errors"

	"clusterscan/pkg/model"
)

// Provider supplies daily bars for a symbol
type Provider interface {
	// Name returns the provider name
	Name() string

	// GetDailyCandles fetches up to days of daily OHLCV, oldest first
	GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error)
}

// ErrNoData means the upstream answered but had no bars for the symbol
var ErrNoData = errors.New("no data available")

// ProviderError represents a provider-specific error
type ProviderError struct {
	Provider  string
	Err       error
	Retryable bool
}

func (e *ProviderError) Error() string {
	return e.Provider + ": " + e.Err.Error()
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether err is a provider error worth retrying later
func IsRetryable(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Retryable
}

// FallbackProvider tries multiple providers in order
type FallbackProvider struct {
	providers []Provider
}

// NewFallbackProvider creates a new fallback provider
func NewFallbackProvider(providers ...Provider) *FallbackProvider {
	return &FallbackProvider{providers: providers}
}

// Name returns the combined provider name
func (f *FallbackProvider) Name() string {
	return "fallback"
}

// GetDailyCandles tries each provider in order. A cancelled context stops
// the chain; every other failure moves on to the next provider.
func (f *FallbackProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	lastErr := error(&ProviderError{Provider: f.Name(), Err: errors.New("no providers configured")})
	for _, p := range f.providers {
		data, err := p.GetDailyCandles(ctx, symbol, days)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, lastErr
}
