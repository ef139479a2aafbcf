package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/calebmoran/longbox-backend/internal/services"
	"github.com/calebmoran/longbox-backend/internal/types"
)

type RollHandler struct {
	sessionService  services.SessionService
	selectorService services.SelectorService
	ratingService   services.RatingService
}

func NewRollHandler(sessionService services.SessionService, selectorService services.SelectorService, ratingService services.RatingService) *RollHandler {
	return &RollHandler{
		sessionService:  sessionService,
		selectorService: selectorService,
		ratingService:   ratingService,
	}
}

func (rh *RollHandler) Roll(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var body struct {
		Method string `json:"method"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	if body.Method == "" {
		body.Method = types.SelectionMethodRandom
	}

	session, err := rh.sessionService.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	result, err := rh.selectorService.Roll(c.Request.Context(), session.ID, body.Method)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, result)
}

func (rh *RollHandler) Override(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var body struct {
		ThreadID string `json:"thread_id"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	threadID, err := uuid.Parse(body.ThreadID)
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid thread id"))
		return
	}

	session, err := rh.sessionService.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	result, err := rh.selectorService.Override(c.Request.Context(), session.ID, threadID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, result)
}

func (rh *RollHandler) Snooze(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	session, err := rh.sessionService.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	updated, event, err := rh.sessionService.Snooze(c.Request.Context(), session.ID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"session": updated, "event": event})
}

// rateRequest leaves issues_read as a pointer so an omitted field defaults
// to one issue while an explicit zero still reaches validation.
type rateRequest struct {
	Rating        float64 `json:"rating"`
	IssuesRead    *int    `json:"issues_read"`
	FinishSession bool    `json:"finish_session"`
}

func (r rateRequest) issuesRead() int {
	if r.IssuesRead == nil {
		return 1
	}
	return *r.IssuesRead
}

func (rh *RollHandler) Rate(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var body rateRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}

	session, err := rh.sessionService.GetOrCreate(c.Request.Context(), userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	result, err := rh.ratingService.Rate(c.Request.Context(), session.ID, body.Rating, body.issuesRead(), body.FinishSession)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, result)
}
