package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/calebmoran/longbox-backend/internal/cache"
	"github.com/calebmoran/longbox-backend/internal/services"
)

type QueueHandler struct {
	queueService services.QueueService
	readCache    *cache.ReadCache
}

func NewQueueHandler(queueService services.QueueService, readCache *cache.ReadCache) *QueueHandler {
	return &QueueHandler{queueService: queueService, readCache: readCache}
}

func (qh *QueueHandler) GetRollPool(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if pool, hit := qh.readCache.GetRollPool(ctx, userID); hit {
		RespondOK(c, gin.H{"pool": pool})
		return
	}

	pool, err := qh.queueService.GetRollPool(ctx, userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	qh.readCache.SetRollPool(ctx, userID, pool)
	RespondOK(c, gin.H{"pool": pool})
}

func (qh *QueueHandler) GetStale(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	days := 30
	if raw := c.Query("days"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("days must be an integer"))
			return
		}
		days = parsed
	}
	stale, err := qh.queueService.GetStale(c.Request.Context(), userID, days)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"stale": stale, "days": days})
}

func (qh *QueueHandler) Move(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	threadID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid thread id"))
		return
	}
	var body struct {
		To       string `json:"to"`
		Position int    `json:"position"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	ctx := c.Request.Context()
	switch body.To {
	case "front":
		err = qh.queueService.MoveToFront(ctx, threadID, userID)
	case "back":
		err = qh.queueService.MoveToBack(ctx, threadID, userID)
	case "position":
		err = qh.queueService.MoveToPosition(ctx, threadID, userID, body.Position)
	default:
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("to must be front, back, or position"))
		return
	}
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"moved": true})
}
