package provider

import (
	"context"
	"sync"
	"time"

	"clusterscan/pkg/model"
)

type cacheEntry struct {
	candles []model.Candle
	fetched time.Time
}

// CachingProvider wraps a Provider with an in-memory cache for GetDailyCandles.
// Serve mode reuses it so repeated API requests do not refetch within ttl.
type CachingProvider struct {
	inner   Provider
	ttl     time.Duration
	maxDays int

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewCachingProvider creates a caching wrapper. maxDays is always fetched so
// a later request for fewer days is served from the same entry.
func NewCachingProvider(inner Provider, maxDays int, ttl time.Duration) *CachingProvider {
	return &CachingProvider{
		inner:   inner,
		ttl:     ttl,
		maxDays: maxDays,
		cache:   make(map[string]cacheEntry),
		now:     time.Now,
	}
}

func (p *CachingProvider) Name() string { return p.inner.Name() }

func (p *CachingProvider) GetDailyCandles(ctx context.Context, symbol string, days int) ([]model.Candle, error) {
	p.mu.Lock()
	entry, ok := p.cache[symbol]
	p.mu.Unlock()

	if ok && p.now().Sub(entry.fetched) < p.ttl && (len(entry.candles) >= days || len(entry.candles) < p.maxDays) {
		return tail(entry.candles, days), nil
	}

	fetchDays := p.maxDays
	if days > fetchDays {
		fetchDays = days
	}

	candles, err := p.inner.GetDailyCandles(ctx, symbol, fetchDays)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	p.cache[symbol] = cacheEntry{candles: candles, fetched: p.now()}
	p.mu.Unlock()

	return tail(candles, days), nil
}

// Invalidate drops every cached entry
func (p *CachingProvider) Invalidate() {
	p.mu.Lock()
	p.cache = make(map[string]cacheEntry)
	p.mu.Unlock()
}

func tail(candles []model.Candle, days int) []model.Candle {
	if days > 0 && len(candles) > days {
		return candles[len(candles)-days:]
	}
	return candles
}
