package storage

import (
	"time"

	"clusterscan/internal/events"
	"clusterscan/internal/volume"
	"clusterscan/pkg/model"
)

// BarRecord is one daily OHLCV row. Written only by ingest.
type BarRecord struct {
	Symbol string    `gorm:"primaryKey;size:32"`
	Date   time.Time `gorm:"primaryKey"`
	Open   float64   `gorm:"not null"`
	High   float64   `gorm:"not null"`
	Low    float64   `gorm:"not null"`
	Close  float64   `gorm:"not null"`
	Volume int64     `gorm:"not null"`
}

func (BarRecord) TableName() string { return "daily_bars" }

// EventRecord is a volume_cluster_events row. Forward columns stay NULL
// until the horizon resolves.
type EventRecord struct {
	ID             uint64    `gorm:"primaryKey;autoIncrement"`
	Symbol         string    `gorm:"size:32;not null;uniqueIndex:idx_event_symbol_date"`
	Date           time.Time `gorm:"not null;uniqueIndex:idx_event_symbol_date;index"`
	Volume         int64     `gorm:"not null"`
	AvgVolume      float64   `gorm:"not null"`
	RelativeVolume float64   `gorm:"not null"`
	Quintile       string    `gorm:"size:16;not null;index"`
	Close          float64   `gorm:"not null"`
	PrevClose      float64   `gorm:"not null"`
	DayReturnPct   float64   `gorm:"not null"`
	High52w        *float64  `gorm:"column:high_52w"`
	Low52w         *float64  `gorm:"column:low_52w"`

	Price1D  *float64 `gorm:"column:price_1d"`
	Return1D *float64 `gorm:"column:return_1d"`
	Price1W  *float64 `gorm:"column:price_1w"`
	Return1W *float64 `gorm:"column:return_1w"`
	Price2W  *float64 `gorm:"column:price_2w"`
	Return2W *float64 `gorm:"column:return_2w"`
	Price3W  *float64 `gorm:"column:price_3w"`
	Return3W *float64 `gorm:"column:return_3w"`
	Price1M  *float64 `gorm:"column:price_1m"`
	Return1M *float64 `gorm:"column:return_1m;index"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (EventRecord) TableName() string { return "volume_cluster_events" }

// TickRecord is one buffered feed tick
type TickRecord struct {
	ID        uint64    `gorm:"primaryKey;autoIncrement"`
	BatchID   string    `gorm:"size:36;index"`
	Symbol    string    `gorm:"size:32;not null;index:idx_tick_symbol_ts"`
	TS        time.Time `gorm:"column:ts;not null;index:idx_tick_symbol_ts"`
	Price     float64   `gorm:"not null"`
	Volume    int64     `gorm:"not null"`
	CumVolume int64     `gorm:"not null"`
}

func (TickRecord) TableName() string { return "feed_ticks" }

func priceColumn(h events.Horizon) string  { return "price_" + h.String() }
func returnColumn(h events.Horizon) string { return "return_" + h.String() }

// forward returns pointers to the price and return fields of h
func (r *EventRecord) forward(h events.Horizon) (price, ret **float64) {
	switch h {
	case events.Horizon1D:
		return &r.Price1D, &r.Return1D
	case events.Horizon1W:
		return &r.Price1W, &r.Return1W
	case events.Horizon2W:
		return &r.Price2W, &r.Return2W
	case events.Horizon3W:
		return &r.Price3W, &r.Return3W
	default:
		return &r.Price1M, &r.Return1M
	}
}

// dateKey normalises a bar or event date to midnight UTC so that rows from
// different sources compare equal.
func dateKey(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func barFromCandle(symbol string, c model.Candle) BarRecord {
	return BarRecord{
		Symbol: symbol,
		Date:   dateKey(c.Time),
		Open:   c.Open,
		High:   c.High,
		Low:    c.Low,
		Close:  c.Close,
		Volume: c.Volume,
	}
}

func (b BarRecord) candle() model.Candle {
	return model.Candle{
		Time:   b.Date.UTC(),
		Open:   b.Open,
		High:   b.High,
		Low:    b.Low,
		Close:  b.Close,
		Volume: b.Volume,
	}
}

func eventRecord(ev events.VolumeEvent) EventRecord {
	rec := EventRecord{
		Symbol:         ev.Symbol,
		Date:           dateKey(ev.Date),
		Volume:         ev.Volume,
		AvgVolume:      ev.AvgVolume,
		RelativeVolume: ev.RelativeVolume,
		Quintile:       ev.Quintile.String(),
		Close:          ev.Close,
		PrevClose:      ev.PrevClose,
		DayReturnPct:   ev.DayReturnPct,
		High52w:        ev.High52w,
		Low52w:         ev.Low52w,
	}
	for _, h := range events.Horizons() {
		fr, ok := ev.ForwardAt(h)
		if !ok {
			continue
		}
		price, ret := rec.forward(h)
		p, r := fr.PriceAtHorizon, fr.ReturnPct
		*price, *ret = &p, &r
	}
	return rec
}

func (r *EventRecord) event() (events.VolumeEvent, error) {
	q, err := volume.ParseQuintile(r.Quintile)
	if err != nil {
		return events.VolumeEvent{}, err
	}
	ev := events.VolumeEvent{
		Symbol:         r.Symbol,
		Date:           r.Date.UTC(),
		Volume:         r.Volume,
		AvgVolume:      r.AvgVolume,
		RelativeVolume: r.RelativeVolume,
		Quintile:       q,
		Close:          r.Close,
		PrevClose:      r.PrevClose,
		DayReturnPct:   r.DayReturnPct,
		High52w:        r.High52w,
		Low52w:         r.Low52w,
	}
	for _, h := range events.Horizons() {
		price, ret := r.forward(h)
		if *ret == nil {
			continue
		}
		fr := events.ForwardReturn{Horizon: h, ReturnPct: **ret}
		if *price != nil {
			fr.PriceAtHorizon = **price
		}
		ev.Forward[h] = &fr
	}
	return ev, nil
}
