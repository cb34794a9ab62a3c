package gormstore

import (
	"context"
	"encoding/json"
	"errors"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"candlesight/internal/store"
	"candlesight/internal/store/model"
	"candlesight/internal/types"
)

var _ store.PredictionStore = (*Store)(nil)

func (s *Store) InsertPrediction(ctx context.Context, rec types.PredictionRecord) error {
	m, err := model.PredictionFromDomain(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).Create(&m).Error
}

func (s *Store) LatestPrediction(ctx context.Context, pair, sessionID string) (types.PredictionRecord, error) {
	return s.latestPrediction(ctx, pair, sessionID, false)
}

func (s *Store) LatestUnverified(ctx context.Context, pair, sessionID string) (types.PredictionRecord, error) {
	return s.latestPrediction(ctx, pair, sessionID, true)
}

func (s *Store) latestPrediction(ctx context.Context, pair, sessionID string, unverifiedOnly bool) (types.PredictionRecord, error) {
	q := s.db.WithContext(ctx).
		Where("trading_pair = ? AND session_id = ?", pair, sessionID).
		Order("timestamp DESC")
	if unverifiedOnly {
		q = q.Where("verified = ?", false)
	}
	var m model.PredictionModel
	if err := q.First(&m).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.PredictionRecord{}, store.ErrNotFound
		}
		return types.PredictionRecord{}, err
	}
	return m.ToDomain()
}

func (s *Store) SetActualResult(ctx context.Context, id string, res types.ActualResult) error {
	raw, err := json.Marshal(res)
	if err != nil {
		return err
	}
	// verified=false in the WHERE makes grading first-writer-wins; a second
	// grade of the same record matches zero rows.
	tx := s.db.WithContext(ctx).
		Model(&model.PredictionModel{}).
		Where("id = ? AND verified = ?", id, false).
		Updates(map[string]any{
			"actual_result": datatypes.JSON(raw),
			"verified":      true,
		})
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		var count int64
		if err := s.db.WithContext(ctx).Model(&model.PredictionModel{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return store.ErrNotFound
		}
		return store.ErrAlreadyVerified
	}
	return nil
}

func (s *Store) RecentVerified(ctx context.Context, pair string, limit int) ([]types.PredictionRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	var rows []model.PredictionModel
	err := s.db.WithContext(ctx).
		Where("trading_pair = ? AND verified = ?", pair, true).
		Order("timestamp DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	out := make([]types.PredictionRecord, 0, len(rows))
	for _, row := range rows {
		rec, err := row.ToDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}
