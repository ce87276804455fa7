package model

import "time"

// Candle represents a single daily bar (OHLCV data)
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume int64     `json:"volume"`
}

// Exchange identifies the Indian exchange a symbol trades on
type Exchange string

const (
	ExchangeNSE Exchange = "NSE"
	ExchangeBSE Exchange = "BSE"
)

// Quote is a single live tick received from the broker feed
type Quote struct {
	Symbol    string    `json:"symbol"`
	Price     float64   `json:"price"`
	Volume    int64     `json:"volume"`     // traded quantity in this tick
	CumVolume int64     `json:"cum_volume"` // day volume so far, when the feed reports it
	Time      time.Time `json:"time"`
}

// DayKey returns the calendar date of t in loc, normalised to midnight
func DayKey(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}
