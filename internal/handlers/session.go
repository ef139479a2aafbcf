package handlers

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/calebmoran/longbox-backend/internal/cache"
	"github.com/calebmoran/longbox-backend/internal/requestdata"
	"github.com/calebmoran/longbox-backend/internal/services"
)

type SessionHandler struct {
	sessionService services.SessionService
	readCache      *cache.ReadCache
}

func NewSessionHandler(sessionService services.SessionService, readCache *cache.ReadCache) *SessionHandler {
	return &SessionHandler{sessionService: sessionService, readCache: readCache}
}

func requireUserID(c *gin.Context) (uuid.UUID, bool) {
	rd := requestdata.GetRequestData(c.Request.Context())
	if rd == nil || rd.UserID == uuid.Nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "no user on request"})
		return uuid.Nil, false
	}
	return rd.UserID, true
}

func (sh *SessionHandler) GetOrCreate(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	if cached, hit := sh.readCache.GetSession(ctx, userID); hit && sh.sessionService.IsActive(cached) {
		RespondOK(c, gin.H{"session": cached})
		return
	}

	session, err := sh.sessionService.GetOrCreate(ctx, userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	sh.readCache.SetSession(ctx, userID, session)
	RespondOK(c, gin.H{"session": session})
}

func (sh *SessionHandler) GetDie(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	session, err := sh.sessionService.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	die, err := sh.sessionService.CurrentDie(c.Request.Context(), session)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"die": die, "manual": session.ManualDie != nil})
}

// DieValue accepts either a ladder die or the string "auto".
type DieValue struct {
	Auto  bool
	Value *int
}

func (d *DieValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		if strings.EqualFold(strings.TrimSpace(s), "auto") {
			d.Auto = true
			return nil
		}
		return fmt.Errorf("die must be a number or %q", "auto")
	}
	var v int
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	d.Value = &v
	return nil
}

func (sh *SessionHandler) SetDie(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var body struct {
		Die DieValue `json:"die"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if !body.Die.Auto && body.Die.Value == nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("die is required"))
		return
	}

	session, err := sh.sessionService.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	updated, err := sh.sessionService.SetManualDie(c.Request.Context(), session.ID, body.Die.Value)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": updated})
}

// End closes the current open session. With nothing open there is nothing to
// end; starting one just to end it would also write a pointless snapshot.
func (sh *SessionHandler) End(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	session, err := sh.sessionService.GetOpen(c.Request.Context(), userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	if session == nil {
		RespondError(c, http.StatusNotFound, "not_found", fmt.Errorf("no open session"))
		return
	}
	ended, err := sh.sessionService.End(c.Request.Context(), session.ID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": ended})
}
