// Package vision is the boundary to the browser-side chart extraction. The
// core only depends on the Collector interface; the chromedp implementation
// lives alongside it because nothing else in the repo drives a browser.
package vision

import (
	"context"
	"fmt"

	"candlesight/internal/types"
)

// Collector produces one raw observation per capture cycle.
type Collector interface {
	// CaptureObservation reads the platform chart for the session and
	// returns whatever it could extract. Extraction-quality problems come
	// back as a RawObservation with ExtractionMethod "failed", not as an
	// error; errors are reserved for browser/transport failures.
	CaptureObservation(ctx context.Context, sessionID string) (types.RawObservation, error)
	// Release tears down the scoped browser resources. Idempotent.
	Release() error
}

// CollectionError wraps a single-cycle collector failure. It is isolated by
// the capture loop: logged, counted, and retried on the next tick.
type CollectionError struct {
	SessionID string
	Err       error
}

func (e *CollectionError) Error() string {
	return fmt.Sprintf("collection failed for session %s: %v", e.SessionID, e.Err)
}

func (e *CollectionError) Unwrap() error { return e.Err }
