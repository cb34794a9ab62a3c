package gormstore

import (
	"context"
	"time"

	"github.com/google/uuid"

	"candlesight/internal/store"
	"candlesight/internal/store/model"
	"candlesight/internal/types"
)

var _ store.ObservationStore = (*Store)(nil)

func (s *Store) InsertObservation(ctx context.Context, obs types.CandleObservation) error {
	if err := obs.Validate(); err != nil {
		return err
	}
	if obs.ID == "" {
		obs.ID = uuid.NewString()
	}
	m := model.ObservationFromDomain(obs)
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Store) HasNear(ctx context.Context, pair, sessionID string, ts time.Time, window time.Duration) (bool, error) {
	lo := ts.Add(-window).UnixMilli()
	hi := ts.Add(window).UnixMilli()
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.ObservationModel{}).
		Where("trading_pair = ? AND session_id = ? AND timestamp >= ? AND timestamp <= ?", pair, sessionID, lo, hi).
		Count(&count).Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Store) RecentObservations(ctx context.Context, pair string, limit int) ([]types.CandleObservation, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []model.ObservationModel
	err := s.db.WithContext(ctx).
		Where("trading_pair = ?", pair).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	// query is newest-first for the limit; callers get oldest-first
	out := make([]types.CandleObservation, len(rows))
	for i, row := range rows {
		out[len(rows)-1-i] = row.ToDomain()
	}
	return out, nil
}

func (s *Store) RangeObservations(ctx context.Context, pair string, from, to time.Time) ([]types.CandleObservation, error) {
	var rows []model.ObservationModel
	err := s.db.WithContext(ctx).
		Where("trading_pair = ? AND timestamp >= ? AND timestamp <= ?", pair, from.UnixMilli(), to.UnixMilli()).
		Order("timestamp ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.CandleObservation, len(rows))
	for i, row := range rows {
		out[i] = row.ToDomain()
	}
	return out, nil
}

func (s *Store) CountForSession(ctx context.Context, sessionID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&model.ObservationModel{}).
		Where("session_id = ?", sessionID).
		Count(&count).Error
	return count, err
}
