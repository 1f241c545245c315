package handlers

import (
	"context"
	"errors"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/phonginreallife/autoanswer/internal/marketplace"
	"github.com/phonginreallife/autoanswer/services"
	"github.com/phonginreallife/autoanswer/workers"
)

type TokenManager interface {
	Snapshot() services.TokenSnapshot
	SetToken(ctx context.Context, accessToken string, ttlSeconds int64, refreshToken string) error
	Refresh(ctx context.Context) error
}

type WorkerStatsProvider interface {
	Stats() workers.AnswerWorkerStats
}

type TokenHandler struct {
	Monitor TokenManager
	Worker  WorkerStatsProvider
}

func NewTokenHandler(monitor TokenManager, worker WorkerStatsProvider) *TokenHandler {
	return &TokenHandler{Monitor: monitor, Worker: worker}
}

type SetTokenRequest struct {
	AccessToken  string `json:"access_token" binding:"required"`
	ExpiresIn    *int64 `json:"expires_in" binding:"required,min=0"`
	RefreshToken string `json:"refresh_token"`
}

// GetTokenStatus reports the credential lifecycle state without exposing
// the token itself.
// GET /api/token/status
func (h *TokenHandler) GetTokenStatus(c *gin.Context) {
	c.JSON(http.StatusOK, h.Monitor.Snapshot())
}

// SetToken installs a manually obtained access token.
// PUT /api/token
func (h *TokenHandler) SetToken(c *gin.Context) {
	var req SetTokenRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.Monitor.SetToken(c.Request.Context(), req.AccessToken, *req.ExpiresIn, req.RefreshToken)
	if err != nil {
		if errors.Is(err, services.ErrTokenNotPersisted) {
			log.Printf("TokenHandler: %v", err)
			c.JSON(http.StatusOK, gin.H{
				"token":   h.Monitor.Snapshot(),
				"warning": "token is active but could not be persisted",
			})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"token": h.Monitor.Snapshot()})
}

// RefreshToken exchanges the stored refresh token for a new access token.
// POST /api/token/refresh
func (h *TokenHandler) RefreshToken(c *gin.Context) {
	err := h.Monitor.Refresh(c.Request.Context())
	switch {
	case err == nil, errors.Is(err, services.ErrTokenNotPersisted):
		c.JSON(http.StatusOK, gin.H{"token": h.Monitor.Snapshot()})
	case errors.Is(err, services.ErrNoRefreshToken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, marketplace.ErrTransport):
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": err.Error()})
	default:
		log.Printf("TokenHandler: refresh failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
	}
}

// GetWorkerStats returns the polling worker's counters.
// GET /api/worker/stats
func (h *TokenHandler) GetWorkerStats(c *gin.Context) {
	if h.Worker == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "answer worker is not running in this process"})
		return
	}
	c.JSON(http.StatusOK, h.Worker.Stats())
}
