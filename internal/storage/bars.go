package storage

import (
	"context"
	"time"

	"gorm.io/gorm/clause"

	"clusterscan/internal/events"
	"clusterscan/pkg/model"
)

const upsertBatchSize = 500

// UpsertBars inserts bars, overwriting OHLCV of existing (symbol, date) rows
func (s *Store) UpsertBars(ctx context.Context, symbol string, bars []model.Candle) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	recs := make([]BarRecord, len(bars))
	for i, c := range bars {
		recs[i] = barFromCandle(symbol, c)
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "date"}},
			DoUpdates: clause.AssignmentColumns([]string{"open", "high", "low", "close", "volume"}),
		}).
		CreateInBatches(&recs, upsertBatchSize)
	if res.Error != nil {
		return 0, WrapDBError("upsert bars", res.Error)
	}
	return res.RowsAffected, nil
}

// Bars returns the bars of symbol on or after from, oldest first
func (s *Store) Bars(ctx context.Context, symbol string, from time.Time) ([]model.Candle, error) {
	var recs []BarRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND date >= ?", symbol, dateKey(from)).
		Order("date ASC").
		Find(&recs).Error
	if err != nil {
		return nil, WrapDBError("bars", err)
	}
	return candles(recs), nil
}

// BarsAfter returns up to limit bars strictly after date, oldest first
func (s *Store) BarsAfter(ctx context.Context, symbol string, date time.Time, limit int) ([]model.Candle, error) {
	var recs []BarRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND date > ?", symbol, dateKey(date)).
		Order("date ASC").
		Limit(limit).
		Find(&recs).Error
	if err != nil {
		return nil, WrapDBError("bars after", err)
	}
	return candles(recs), nil
}

// LatestBarDate returns the newest stored date for symbol or ErrNotFound
func (s *Store) LatestBarDate(ctx context.Context, symbol string) (time.Time, error) {
	var rec BarRecord
	res := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("date DESC").
		Limit(1).
		Find(&rec)
	if res.Error != nil {
		return time.Time{}, WrapDBError("latest bar", res.Error)
	}
	if res.RowsAffected == 0 {
		return time.Time{}, ErrNotFound
	}
	return rec.Date.UTC(), nil
}

// TrailingAvgVolume averages the volume of the last window bars of symbol
// strictly before day
func (s *Store) TrailingAvgVolume(ctx context.Context, symbol string, day time.Time, window int) (float64, error) {
	var recs []BarRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND date < ?", symbol, dateKey(day)).
		Order("date DESC").
		Limit(window).
		Find(&recs).Error
	if err != nil {
		return 0, WrapDBError("trailing volume", err)
	}
	if len(recs) == 0 {
		return 0, ErrNotFound
	}
	return events.TrailingAvgVolume(candles(recs)), nil
}

// Symbols lists every symbol with stored bars
func (s *Store) Symbols(ctx context.Context) ([]string, error) {
	var out []string
	err := s.db.WithContext(ctx).
		Model(&BarRecord{}).
		Distinct().
		Order("symbol").
		Pluck("symbol", &out).Error
	if err != nil {
		return nil, WrapDBError("symbols", err)
	}
	return out, nil
}

func candles(recs []BarRecord) []model.Candle {
	out := make([]model.Candle, len(recs))
	for i, r := range recs {
		out[i] = r.candle()
	}
	return out
}
