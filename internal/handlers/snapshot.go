package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/calebmoran/longbox-backend/internal/services"
)

type SnapshotHandler struct {
	sessionService  services.SessionService
	snapshotService services.SnapshotService
}

func NewSnapshotHandler(sessionService services.SessionService, snapshotService services.SnapshotService) *SnapshotHandler {
	return &SnapshotHandler{sessionService: sessionService, snapshotService: snapshotService}
}

func (sh *SnapshotHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	session, err := sh.sessionService.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	snapshots, err := sh.snapshotService.List(c.Request.Context(), session.ID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"snapshots": snapshots})
}

func (sh *SnapshotHandler) Restore(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	snapshotID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid snapshot id"))
		return
	}
	session, err := sh.snapshotService.Restore(c.Request.Context(), snapshotID, userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": session})
}
