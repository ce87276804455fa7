package storage

import (
	"context"

	"clusterscan/pkg/model"
)

// InsertTicks writes one flushed batch of feed quotes
func (s *Store) InsertTicks(ctx context.Context, batchID string, quotes []model.Quote) error {
	if len(quotes) == 0 {
		return nil
	}

	recs := make([]TickRecord, len(quotes))
	for i, q := range quotes {
		recs[i] = TickRecord{
			BatchID:   batchID,
			Symbol:    q.Symbol,
			TS:        q.Time.UTC(),
			Price:     q.Price,
			Volume:    q.Volume,
			CumVolume: q.CumVolume,
		}
	}

	err := s.db.WithContext(ctx).CreateInBatches(&recs, upsertBatchSize).Error
	return WrapDBError("insert ticks", err)
}

// CountTicks returns the number of stored ticks for symbol
func (s *Store) CountTicks(ctx context.Context, symbol string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&TickRecord{}).Where("symbol = ?", symbol).Count(&n).Error
	return n, WrapDBError("count ticks", err)
}
