package storage

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"clusterscan/internal/events"
	"clusterscan/internal/volume"
)

// SaveEvents inserts events that do not exist yet. Existing (symbol, date)
// rows are left untouched. Returns the number of rows inserted.
func (s *Store) SaveEvents(ctx context.Context, evs []events.VolumeEvent) (int64, error) {
	if len(evs) == 0 {
		return 0, nil
	}

	recs := make([]EventRecord, len(evs))
	for i, ev := range evs {
		recs[i] = eventRecord(ev)
	}

	res := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "symbol"}, {Name: "date"}},
			DoNothing: true,
		}).
		CreateInBatches(&recs, upsertBatchSize)
	if res.Error != nil {
		return 0, WrapDBError("save events", res.Error)
	}
	return res.RowsAffected, nil
}

// PendingEvents returns events whose longest horizon is unresolved, oldest
// first. A limit of zero means no limit.
func (s *Store) PendingEvents(ctx context.Context, limit int) ([]events.VolumeEvent, error) {
	q := s.db.WithContext(ctx).
		Where(returnColumn(events.Horizon1M) + " IS NULL").
		Order("date ASC, symbol ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []EventRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, WrapDBError("pending events", err)
	}
	return toEvents(recs)
}

// UpdateForwardReturns writes the resolved horizons of ev into columns that
// are still NULL. Returns the number of horizons written.
func (s *Store) UpdateForwardReturns(ctx context.Context, ev events.VolumeEvent) (int, error) {
	written := 0
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, h := range events.Horizons() {
			fr, ok := ev.ForwardAt(h)
			if !ok {
				continue
			}
			res := tx.Model(&EventRecord{}).
				Where("symbol = ? AND date = ? AND "+returnColumn(h)+" IS NULL", ev.Symbol, dateKey(ev.Date)).
				Updates(map[string]interface{}{
					priceColumn(h):  fr.PriceAtHorizon,
					returnColumn(h): fr.ReturnPct,
				})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected > 0 {
				written++
			}
		}
		return nil
	})
	if err != nil {
		return 0, WrapDBError("update forward returns", err)
	}
	return written, nil
}

// RecentEvents returns events on or after since whose quintile is at least
// minQuintile, newest first
func (s *Store) RecentEvents(ctx context.Context, since time.Time, minQuintile volume.Quintile) ([]events.VolumeEvent, error) {
	var recs []EventRecord
	err := s.db.WithContext(ctx).
		Where("date >= ? AND quintile IN ?", dateKey(since), quintilesFrom(minQuintile)).
		Order("date DESC, symbol ASC").
		Find(&recs).Error
	if err != nil {
		return nil, WrapDBError("recent events", err)
	}
	return toEvents(recs)
}

// ResolvedEvents returns every event whose horizon h has resolved, oldest first
func (s *Store) ResolvedEvents(ctx context.Context, h events.Horizon) ([]events.VolumeEvent, error) {
	var recs []EventRecord
	err := s.db.WithContext(ctx).
		Where(returnColumn(h) + " IS NOT NULL").
		Order("date ASC, symbol ASC").
		Find(&recs).Error
	if err != nil {
		return nil, WrapDBError("resolved events", err)
	}
	return toEvents(recs)
}

// SymbolEvents returns the events of one symbol, newest first
func (s *Store) SymbolEvents(ctx context.Context, symbol string, limit int) ([]events.VolumeEvent, error) {
	q := s.db.WithContext(ctx).
		Where("symbol = ?", symbol).
		Order("date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}

	var recs []EventRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, WrapDBError("symbol events", err)
	}
	if len(recs) == 0 {
		return nil, ErrNotFound
	}
	return toEvents(recs)
}

// Event loads a single event
func (s *Store) Event(ctx context.Context, symbol string, date time.Time) (events.VolumeEvent, error) {
	var rec EventRecord
	err := s.db.WithContext(ctx).
		Where("symbol = ? AND date = ?", symbol, dateKey(date)).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return events.VolumeEvent{}, ErrNotFound
	}
	if err != nil {
		return events.VolumeEvent{}, WrapDBError("event", err)
	}
	ev, err := rec.event()
	return ev, WrapDBError("event", err)
}

func quintilesFrom(min volume.Quintile) []string {
	var out []string
	for q := min; q <= volume.UltraHigh; q++ {
		out = append(out, q.String())
	}
	return out
}

func toEvents(recs []EventRecord) ([]events.VolumeEvent, error) {
	out := make([]events.VolumeEvent, 0, len(recs))
	for i := range recs {
		ev, err := recs[i].event()
		if err != nil {
			return nil, WrapDBError("decode event", err)
		}
		out = append(out, ev)
	}
	return out, nil
}
