// Package session answers "is this session authenticated?" cheaply, only
// invoking the expensive browser-side verification when the cached answer
// is stale. The durable source of truth is the session store; the map in
// here is a pure in-memory optimization layer.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"candlesight/internal/logger"
	"candlesight/internal/store"
	"candlesight/internal/types"
)

// ErrAuthRequired marks a request that must be rejected because the session
// is not authenticated. Data access is blocked entirely in that case.
var ErrAuthRequired = errors.New("authentication required")

// VerifyResult is the answer from the platform-side login probe.
type VerifyResult struct {
	LoggedIn bool
	Details  string
}

// Verifier is the slow path: an expensive check against the live platform.
type Verifier interface {
	Verify(ctx context.Context, sessionID string) (VerifyResult, error)
}

// Options carries the cache timing knobs.
type Options struct {
	RevalidationWindow time.Duration
	TTL                time.Duration
	IdleBound          time.Duration
	ReapInterval       time.Duration
}

// Result is the answer to one usability lookup.
type Result struct {
	Usable bool
	Reason string
	Record types.SessionRecord
}

// Cache validates and caches session authentication state.
type Cache struct {
	store    store.SessionStore
	verifier Verifier
	opts     Options
	now      func() time.Time

	sf singleflight.Group

	mu    sync.Mutex
	locks map[string]*sync.Mutex
	hot   map[string]types.SessionRecord
}

func NewCache(st store.SessionStore, verifier Verifier, opts Options) *Cache {
	if opts.RevalidationWindow <= 0 {
		opts.RevalidationWindow = 2 * time.Hour
	}
	if opts.TTL <= 0 {
		opts.TTL = 24 * time.Hour
	}
	if opts.IdleBound <= 0 {
		opts.IdleBound = 7 * 24 * time.Hour
	}
	if opts.ReapInterval <= 0 {
		opts.ReapInterval = time.Hour
	}
	return &Cache{
		store:    st,
		verifier: verifier,
		opts:     opts,
		now:      time.Now,
		locks:    make(map[string]*sync.Mutex),
		hot:      make(map[string]types.SessionRecord),
	}
}

// SetClock is used by tests.
func (c *Cache) SetClock(now func() time.Time) { c.now = now }

// sessionLock returns the mutex for one session id. Updates to different
// sessions never block each other; two updates for the same id serialize.
func (c *Cache) sessionLock(sessionID string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.locks[sessionID]
	if !ok {
		l = &sync.Mutex{}
		c.locks[sessionID] = l
	}
	return l
}

func (c *Cache) hotGet(sessionID string) (types.SessionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	rec, ok := c.hot[sessionID]
	return rec, ok
}

func (c *Cache) hotPut(rec types.SessionRecord) {
	c.mu.Lock()
	c.hot[rec.SessionID] = rec
	c.mu.Unlock()
}

func (c *Cache) hotDrop(sessionID string) {
	c.mu.Lock()
	delete(c.hot, sessionID)
	c.mu.Unlock()
}

// IsUsable answers whether the session is currently authenticated. A fresh
// active record answers from cache and extends the rolling TTL; anything
// else falls through to the slow path. A lookup miss is never assumed
// valid.
func (c *Cache) IsUsable(ctx context.Context, sessionID string) (Result, error) {
	if sessionID == "" {
		return Result{Usable: false, Reason: "empty session id"}, nil
	}
	lock := c.sessionLock(sessionID)
	lock.Lock()
	rec, ok := c.lookup(ctx, sessionID)
	now := c.now()
	if ok && rec.FreshAt(now, c.opts.RevalidationWindow) {
		rec.ExpiresAt = now.Add(c.opts.TTL)
		rec.LastActivity = now
		if err := c.store.Upsert(ctx, rec); err != nil {
			lock.Unlock()
			return Result{}, fmt.Errorf("session cache: extending ttl: %w", err)
		}
		c.hotPut(rec)
		lock.Unlock()
		return Result{Usable: true, Record: rec}, nil
	}
	lock.Unlock()
	return c.slowPath(ctx, sessionID)
}

func (c *Cache) lookup(ctx context.Context, sessionID string) (types.SessionRecord, bool) {
	if rec, ok := c.hotGet(sessionID); ok {
		return rec, true
	}
	rec, err := c.store.Get(ctx, sessionID)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			logger.Warnf("session cache: lookup %s: %v", sessionID, err)
		}
		return types.SessionRecord{}, false
	}
	return rec, true
}

// slowPath runs the external verification. Concurrent callers for the same
// session share one in-flight verification via singleflight.
func (c *Cache) slowPath(ctx context.Context, sessionID string) (Result, error) {
	v, err, _ := c.sf.Do(sessionID, func() (any, error) {
		return c.verifyAndRecord(ctx, sessionID)
	})
	if err != nil {
		return Result{}, err
	}
	return v.(Result), nil
}

func (c *Cache) verifyAndRecord(ctx context.Context, sessionID string) (Result, error) {
	res, err := c.verifier.Verify(ctx, sessionID)
	now := c.now()
	if err != nil {
		// verification transport failure: reported, not retried here; the
		// caller decides whether to prompt re-authentication
		ev := types.ValidationEvent{Timestamp: now, Success: false, Message: err.Error(), Method: types.ValidationMethodFresh}
		if rec, serr := c.appendLocked(ctx, sessionID, ev, nil); serr == nil {
			c.hotPut(rec)
		}
		return Result{}, fmt.Errorf("session cache: verification failed: %w", err)
	}
	if !res.LoggedIn {
		ev := types.ValidationEvent{Timestamp: now, Success: false, Message: res.Details, Method: types.ValidationMethodFresh}
		rec, serr := c.appendLocked(ctx, sessionID, ev, func(r *types.SessionRecord) {
			r.Status = types.SessionInvalid
			r.IsValidated = false
			r.LastValidationCheck = now
			r.LastActivity = now
		})
		if serr != nil {
			return Result{}, serr
		}
		c.hotPut(rec)
		reason := res.Details
		if reason == "" {
			reason = "platform reports session not logged in"
		}
		return Result{Usable: false, Reason: reason, Record: rec}, nil
	}
	ev := types.ValidationEvent{Timestamp: now, Success: true, Message: res.Details, Method: types.ValidationMethodFresh}
	rec, serr := c.appendLocked(ctx, sessionID, ev, func(r *types.SessionRecord) {
		r.Status = types.SessionActive
		r.IsValidated = true
		r.LastValidationCheck = now
		r.LastActivity = now
		r.ExpiresAt = now.Add(c.opts.TTL)
	})
	if serr != nil {
		return Result{}, serr
	}
	c.hotPut(rec)
	logger.Infof("session %s validated (attempt %d)", sessionID, rec.ValidationAttempts)
	return Result{Usable: true, Record: rec}, nil
}

func (c *Cache) appendLocked(ctx context.Context, sessionID string, ev types.ValidationEvent, mutate func(*types.SessionRecord)) (types.SessionRecord, error) {
	lock := c.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()
	return c.store.AppendValidation(ctx, sessionID, ev, mutate)
}

// Peek returns the cached record without triggering the slow path. Callers
// must never treat a peeked record as an authentication decision; that is
// what IsUsable is for.
func (c *Cache) Peek(ctx context.Context, sessionID string) (types.SessionRecord, error) {
	if rec, ok := c.hotGet(sessionID); ok {
		return rec, nil
	}
	return c.store.Get(ctx, sessionID)
}

// Invalidate forces the session out of the usable state; the next IsUsable
// call takes the slow path.
func (c *Cache) Invalidate(ctx context.Context, sessionID, reason string) error {
	now := c.now()
	ev := types.ValidationEvent{Timestamp: now, Success: false, Message: reason, Method: types.ValidationMethodManual}
	rec, err := c.appendLocked(ctx, sessionID, ev, func(r *types.SessionRecord) {
		r.Status = types.SessionInvalid
		r.IsValidated = false
		r.LastActivity = now
	})
	if err != nil {
		return err
	}
	c.hotPut(rec)
	logger.Infof("session %s invalidated: %s", sessionID, reason)
	return nil
}

// ReapExpired removes records past their TTL or idle beyond the idle bound
// while not active. Safe to run concurrently with lookups and upserts.
func (c *Cache) ReapExpired(ctx context.Context) (int64, error) {
	now := c.now()
	n, err := c.store.DeleteExpired(ctx, now, c.opts.IdleBound)
	if err != nil {
		return 0, err
	}
	c.mu.Lock()
	for id, rec := range c.hot {
		if !rec.ExpiresAt.IsZero() && rec.ExpiresAt.Before(now) {
			delete(c.hot, id)
		}
	}
	c.mu.Unlock()
	if n > 0 {
		logger.Infof("session reaper removed %d record(s)", n)
	}
	return n, nil
}

// StartReaper runs ReapExpired on a fixed period until ctx is done.
func (c *Cache) StartReaper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(c.opts.ReapInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.ReapExpired(ctx); err != nil {
					logger.Warnf("session reaper: %v", err)
				}
			}
		}
	}()
}
