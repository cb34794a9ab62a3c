package apihttp

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"candlesight/internal/capture"
	"candlesight/internal/predict"
	"candlesight/internal/render"
	"candlesight/internal/session"
	"candlesight/internal/store"
	"candlesight/internal/store/cyclejournal"
)

// Router holds the API handlers and their collaborators.
type Router struct {
	Sessions    *session.Cache
	Capture     *capture.Service
	Obs         store.ObservationStore
	Predictions store.PredictionStore
	Engine      *predict.Engine
	Journal     *cyclejournal.Journal
	Hub         *Hub
}

// Register mounts the API routes under the given group.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.POST("/capture/start", r.handleStart)
	group.POST("/capture/stop", r.handleStop)
	group.GET("/capture/status", r.handleStatus)
	group.GET("/capture/cycles", r.handleCycles)
	group.POST("/sessions/invalidate", r.handleInvalidate)
	group.GET("/observations", r.requireAuth, r.handleObservations)
	group.GET("/predictions/latest", r.requireAuth, r.handleLatestPrediction)
	group.GET("/predictions/accuracy", r.requireAuth, r.handleAccuracy)
	group.GET("/chart.png", r.requireAuth, r.handleChart)
	if r.Hub != nil {
		group.GET("/stream", r.Hub.Handle)
	}
}

// requireAuth blocks data access for sessions that are not authenticated.
// No partial or mock data is ever returned in place of the real thing.
func (r *Router) requireAuth(c *gin.Context) {
	sessionID := c.Query("session_id")
	res, err := r.Sessions.IsUsable(c.Request.Context(), sessionID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	if !res.Usable {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
			"error":  session.ErrAuthRequired.Error(),
			"reason": res.Reason,
		})
		return
	}
	c.Next()
}

type startRequest struct {
	SessionID  string `json:"session_id" binding:"required"`
	Pair       string `json:"pair" binding:"required"`
	IntervalMS int    `json:"interval_ms"`
}

func (r *Router) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	err := r.Capture.Start(req.SessionID, req.Pair, time.Duration(req.IntervalMS)*time.Millisecond)
	switch {
	case errors.Is(err, capture.ErrAlreadyRunning):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, capture.ErrUnknownInstrument):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
	default:
		c.JSON(http.StatusOK, gin.H{"status": "started", "session_id": req.SessionID})
	}
}

type stopRequest struct {
	SessionID string `json:"session_id" binding:"required"`
}

func (r *Router) handleStop(c *gin.Context) {
	var req stopRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	r.Capture.Stop(req.SessionID)
	c.JSON(http.StatusOK, gin.H{"status": "stopped", "session_id": req.SessionID})
}

func (r *Router) handleStatus(c *gin.Context) {
	sessionID := c.Query("session_id")
	st, ok := r.Capture.StatusFor(sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no capture loop for session"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (r *Router) handleCycles(c *gin.Context) {
	if r.Journal == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "cycle journal not enabled"})
		return
	}
	sessionID := c.Query("session_id")
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	entries, err := r.Journal.Recent(c.Request.Context(), sessionID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"cycles": entries})
}

type invalidateRequest struct {
	SessionID string `json:"session_id" binding:"required"`
	Reason    string `json:"reason"`
}

func (r *Router) handleInvalidate(c *gin.Context) {
	var req invalidateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Reason == "" {
		req.Reason = "invalidated via api"
	}
	if err := r.Sessions.Invalidate(c.Request.Context(), req.SessionID, req.Reason); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "invalidated", "session_id": req.SessionID})
}

// pairFor resolves the trading pair for a session: the running loop's pair,
// or an explicit ?pair= override.
func (r *Router) pairFor(c *gin.Context, sessionID string) (string, bool) {
	if pair := c.Query("pair"); pair != "" {
		return pair, true
	}
	return r.Capture.PairFor(sessionID)
}

func (r *Router) handleObservations(c *gin.Context) {
	sessionID := c.Query("session_id")
	pair, ok := r.pairFor(c, sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no trading pair known for session; pass ?pair="})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	observations, err := r.Obs.RecentObservations(c.Request.Context(), pair, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"pair": pair, "observations": observations})
}

func (r *Router) handleLatestPrediction(c *gin.Context) {
	sessionID := c.Query("session_id")
	pair, ok := r.pairFor(c, sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no trading pair known for session; pass ?pair="})
		return
	}
	rec, err := r.Predictions.LatestPrediction(c.Request.Context(), pair, sessionID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no prediction yet"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

func (r *Router) handleAccuracy(c *gin.Context) {
	sessionID := c.Query("session_id")
	pair, ok := r.pairFor(c, sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no trading pair known for session; pass ?pair="})
		return
	}
	report, err := r.Engine.Accuracy(c.Request.Context(), pair)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, report)
}

func (r *Router) handleChart(c *gin.Context) {
	sessionID := c.Query("session_id")
	pair, ok := r.pairFor(c, sessionID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "no trading pair known for session; pass ?pair="})
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "60"))
	observations, err := r.Obs.RecentObservations(c.Request.Context(), pair, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	img, err := render.RecentChart(c.Request.Context(), pair, observations)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "image/png", img.Bytes)
}
