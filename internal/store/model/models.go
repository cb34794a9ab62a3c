package model

import (
	"encoding/json"
	"time"

	"gorm.io/datatypes"

	"candlesight/internal/types"
)

// ObservationModel is the candle_observations row.
type ObservationModel struct {
	ID               string    `gorm:"column:id;primaryKey"`
	TradingPair      string    `gorm:"column:trading_pair;index:idx_obs_pair_ts,priority:1"`
	TimeframeSeconds int       `gorm:"column:timeframe_seconds"`
	Timestamp        int64     `gorm:"column:timestamp;index:idx_obs_pair_ts,priority:2"`
	Open             float64   `gorm:"column:open"`
	High             float64   `gorm:"column:high"`
	Low              float64   `gorm:"column:low"`
	Close            float64   `gorm:"column:close"`
	Direction        string    `gorm:"column:direction"`
	Confidence       int       `gorm:"column:confidence"`
	SessionID        string    `gorm:"column:session_id;index"`
	ExtractionMethod string    `gorm:"column:extraction_method"`
	CreatedAt        time.Time `gorm:"column:created_at"`
}

func (ObservationModel) TableName() string { return "candle_observations" }

func ObservationFromDomain(obs types.CandleObservation) ObservationModel {
	return ObservationModel{
		ID:               obs.ID,
		TradingPair:      obs.TradingPair,
		TimeframeSeconds: obs.TimeframeSeconds,
		Timestamp:        obs.Timestamp.UnixMilli(),
		Open:             obs.Open,
		High:             obs.High,
		Low:              obs.Low,
		Close:            obs.Close,
		Direction:        string(obs.Direction),
		Confidence:       obs.Confidence,
		SessionID:        obs.SessionID,
		ExtractionMethod: obs.ExtractionMethod,
	}
}

func (m ObservationModel) ToDomain() types.CandleObservation {
	return types.CandleObservation{
		ID:               m.ID,
		TradingPair:      m.TradingPair,
		TimeframeSeconds: m.TimeframeSeconds,
		Timestamp:        time.UnixMilli(m.Timestamp).UTC(),
		Open:             m.Open,
		High:             m.High,
		Low:              m.Low,
		Close:            m.Close,
		Direction:        types.Direction(m.Direction),
		Confidence:       m.Confidence,
		SessionID:        m.SessionID,
		ExtractionMethod: m.ExtractionMethod,
	}
}

// PredictionModel is the prediction_records row. Matched outcomes, features
// and the actual result are stored as JSON blobs.
type PredictionModel struct {
	ID               string         `gorm:"column:id;primaryKey"`
	Timestamp        int64          `gorm:"column:timestamp;index:idx_pred_pair_ts,priority:2"`
	TradingPair      string         `gorm:"column:trading_pair;index:idx_pred_pair_ts,priority:1"`
	Direction        string         `gorm:"column:direction"`
	Confidence       int            `gorm:"column:confidence"`
	AlgorithmUsed    string         `gorm:"column:algorithm_used"`
	PatternSignature string         `gorm:"column:pattern_signature"`
	MatchedOutcomes  datatypes.JSON `gorm:"column:matched_outcomes;type:TEXT"`
	Features         datatypes.JSON `gorm:"column:features;type:TEXT"`
	ActualResult     datatypes.JSON `gorm:"column:actual_result;type:TEXT"`
	Verified         bool           `gorm:"column:verified;index"`
	SessionID        string         `gorm:"column:session_id;index"`
	CreatedAt        time.Time      `gorm:"column:created_at"`
}

func (PredictionModel) TableName() string { return "prediction_records" }

func PredictionFromDomain(rec types.PredictionRecord) (PredictionModel, error) {
	outcomes, err := json.Marshal(rec.MatchedOutcomes)
	if err != nil {
		return PredictionModel{}, err
	}
	features, err := json.Marshal(rec.Features)
	if err != nil {
		return PredictionModel{}, err
	}
	m := PredictionModel{
		ID:               rec.ID,
		Timestamp:        rec.Timestamp.UnixMilli(),
		TradingPair:      rec.TradingPair,
		Direction:        string(rec.Direction),
		Confidence:       rec.Confidence,
		AlgorithmUsed:    rec.AlgorithmUsed,
		PatternSignature: rec.PatternSignature,
		MatchedOutcomes:  datatypes.JSON(outcomes),
		Features:         datatypes.JSON(features),
		SessionID:        rec.SessionID,
	}
	if rec.ActualResult != nil {
		actual, err := json.Marshal(rec.ActualResult)
		if err != nil {
			return PredictionModel{}, err
		}
		m.ActualResult = datatypes.JSON(actual)
		m.Verified = true
	}
	return m, nil
}

func (m PredictionModel) ToDomain() (types.PredictionRecord, error) {
	rec := types.PredictionRecord{
		ID:               m.ID,
		Timestamp:        time.UnixMilli(m.Timestamp).UTC(),
		TradingPair:      m.TradingPair,
		Direction:        types.Direction(m.Direction),
		Confidence:       m.Confidence,
		AlgorithmUsed:    m.AlgorithmUsed,
		PatternSignature: m.PatternSignature,
		SessionID:        m.SessionID,
	}
	if len(m.MatchedOutcomes) > 0 {
		if err := json.Unmarshal(m.MatchedOutcomes, &rec.MatchedOutcomes); err != nil {
			return rec, err
		}
	}
	if len(m.Features) > 0 {
		if err := json.Unmarshal(m.Features, &rec.Features); err != nil {
			return rec, err
		}
	}
	if len(m.ActualResult) > 0 {
		var actual types.ActualResult
		if err := json.Unmarshal(m.ActualResult, &actual); err != nil {
			return rec, err
		}
		rec.ActualResult = &actual
	}
	return rec, nil
}

// SessionModel is the session_records row; validation history is a JSON blob.
type SessionModel struct {
	SessionID           string         `gorm:"column:session_id;primaryKey"`
	Status              string         `gorm:"column:status;index"`
	IsValidated         bool           `gorm:"column:is_validated"`
	LastValidationCheck int64          `gorm:"column:last_validation_check"`
	LastActivity        int64          `gorm:"column:last_activity"`
	ExpiresAt           int64          `gorm:"column:expires_at;index"`
	ValidationAttempts  int            `gorm:"column:validation_attempts"`
	ValidationHistory   datatypes.JSON `gorm:"column:validation_history;type:TEXT"`
	UpdatedAt           time.Time      `gorm:"column:updated_at"`
}

func (SessionModel) TableName() string { return "session_records" }

func SessionFromDomain(rec types.SessionRecord) (SessionModel, error) {
	history, err := json.Marshal(rec.ValidationHistory)
	if err != nil {
		return SessionModel{}, err
	}
	return SessionModel{
		SessionID:           rec.SessionID,
		Status:              string(rec.Status),
		IsValidated:         rec.IsValidated,
		LastValidationCheck: unixMilliOrZero(rec.LastValidationCheck),
		LastActivity:        unixMilliOrZero(rec.LastActivity),
		ExpiresAt:           unixMilliOrZero(rec.ExpiresAt),
		ValidationAttempts:  rec.ValidationAttempts,
		ValidationHistory:   datatypes.JSON(history),
	}, nil
}

func (m SessionModel) ToDomain() (types.SessionRecord, error) {
	rec := types.SessionRecord{
		SessionID:           m.SessionID,
		Status:              types.SessionStatus(m.Status),
		IsValidated:         m.IsValidated,
		LastValidationCheck: timeOrZero(m.LastValidationCheck),
		LastActivity:        timeOrZero(m.LastActivity),
		ExpiresAt:           timeOrZero(m.ExpiresAt),
		ValidationAttempts:  m.ValidationAttempts,
	}
	if len(m.ValidationHistory) > 0 {
		if err := json.Unmarshal(m.ValidationHistory, &rec.ValidationHistory); err != nil {
			return rec, err
		}
	}
	return rec, nil
}

func unixMilliOrZero(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func timeOrZero(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}
