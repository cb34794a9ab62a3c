package gormstore

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"candlesight/internal/store"
	"candlesight/internal/store/model"
	"candlesight/internal/types"
)

var _ store.SessionStore = (*Store)(nil)

func (s *Store) Get(ctx context.Context, sessionID string) (types.SessionRecord, error) {
	var m model.SessionModel
	err := s.db.WithContext(ctx).Where("session_id = ?", sessionID).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return types.SessionRecord{}, store.ErrNotFound
		}
		return types.SessionRecord{}, err
	}
	return m.ToDomain()
}

func (s *Store) Upsert(ctx context.Context, rec types.SessionRecord) error {
	m, err := model.SessionFromDomain(rec)
	if err != nil {
		return err
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).
		Create(&m).Error
}

// AppendValidation reads, mutates and rewrites the record inside one
// transaction, so two concurrent validation attempts for the same session
// serialize and neither history event is lost.
func (s *Store) AppendValidation(ctx context.Context, sessionID string, ev types.ValidationEvent, mutate func(*types.SessionRecord)) (types.SessionRecord, error) {
	var out types.SessionRecord
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m model.SessionModel
		err := tx.Where("session_id = ?", sessionID).First(&m).Error
		var rec types.SessionRecord
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec = types.SessionRecord{SessionID: sessionID, Status: types.SessionPending}
		case err != nil:
			return err
		default:
			rec, err = m.ToDomain()
			if err != nil {
				return err
			}
		}
		rec.ValidationHistory = append(rec.ValidationHistory, ev)
		rec.ValidationAttempts++
		if mutate != nil {
			mutate(&rec)
		}
		next, err := model.SessionFromDomain(rec)
		if err != nil {
			return err
		}
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "session_id"}},
			UpdateAll: true,
		}).Create(&next).Error; err != nil {
			return err
		}
		out = rec
		return nil
	})
	return out, err
}

func (s *Store) DeleteExpired(ctx context.Context, now time.Time, idleBound time.Duration) (int64, error) {
	nowMS := now.UnixMilli()
	idleCutoff := now.Add(-idleBound).UnixMilli()
	tx := s.db.WithContext(ctx).
		Where("(expires_at > 0 AND expires_at < ?) OR (status <> ? AND last_activity > 0 AND last_activity < ?)",
			nowMS, string(types.SessionActive), idleCutoff).
		Delete(&model.SessionModel{})
	return tx.RowsAffected, tx.Error
}
