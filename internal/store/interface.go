package store

import (
	"context"
	"errors"
	"time"

	"candlesight/internal/types"
)

// ErrNotFound is returned by lookups that matched no record.
var ErrNotFound = errors.New("store: record not found")

// ErrAlreadyVerified is returned when grading a prediction whose actual
// result has already been set; grading happens at most once.
var ErrAlreadyVerified = errors.New("store: prediction already verified")

// ObservationStore is the append-only candle collection, keyed by
// (trading pair, timestamp), queryable by sliding windows.
type ObservationStore interface {
	// InsertObservation appends one observation. Timestamps within a pair
	// are expected to be monotonically non-decreasing; the store does not
	// reorder.
	InsertObservation(ctx context.Context, obs types.CandleObservation) error
	// HasNear reports whether an observation for the same pair and session
	// already exists within +-window of ts (double-capture protection).
	HasNear(ctx context.Context, pair, sessionID string, ts time.Time, window time.Duration) (bool, error)
	// RecentObservations returns up to limit most recent observations for
	// the pair, ordered chronologically (oldest first).
	RecentObservations(ctx context.Context, pair string, limit int) ([]types.CandleObservation, error)
	// RangeObservations returns observations for the pair inside [from, to],
	// oldest first.
	RangeObservations(ctx context.Context, pair string, from, to time.Time) ([]types.CandleObservation, error)
	// CountForSession counts observations captured under one session.
	CountForSession(ctx context.Context, sessionID string) (int64, error)
}

// PredictionStore persists emitted calls and their grading.
type PredictionStore interface {
	InsertPrediction(ctx context.Context, rec types.PredictionRecord) error
	// LatestPrediction returns the most recent prediction for the pair/session.
	LatestPrediction(ctx context.Context, pair, sessionID string) (types.PredictionRecord, error)
	// LatestUnverified returns the most recent ungraded prediction, if any.
	LatestUnverified(ctx context.Context, pair, sessionID string) (types.PredictionRecord, error)
	// SetActualResult grades a prediction exactly once; a second call for
	// the same record returns ErrAlreadyVerified.
	SetActualResult(ctx context.Context, id string, res types.ActualResult) error
	// RecentVerified returns up to limit most recently verified predictions
	// for the pair, newest first.
	RecentVerified(ctx context.Context, pair string, limit int) ([]types.PredictionRecord, error)
}

// SessionStore is the single durable source of truth for session records.
// The session cache layers a pure in-memory map on top of it.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (types.SessionRecord, error)
	// Upsert writes the full record keyed by session id.
	Upsert(ctx context.Context, rec types.SessionRecord) error
	// AppendValidation atomically appends one history event and applies the
	// field mutations in mutate to the stored record, creating it first if
	// missing. Concurrent appends for the same session serialize; events
	// are never lost to a last-writer-wins overwrite.
	AppendValidation(ctx context.Context, sessionID string, ev types.ValidationEvent, mutate func(*types.SessionRecord)) (types.SessionRecord, error)
	// DeleteExpired removes records past their TTL, plus non-active records
	// idle for longer than idleBound. Returns the number removed.
	DeleteExpired(ctx context.Context, now time.Time, idleBound time.Duration) (int64, error)
}
