package handlers

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/calebmoran/longbox-backend/internal/services"
)

type ThreadHandler struct {
	threadService services.ThreadService
}

func NewThreadHandler(threadService services.ThreadService) *ThreadHandler {
	return &ThreadHandler{threadService: threadService}
}

func parseThreadID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", fmt.Errorf("invalid thread id"))
		return uuid.Nil, false
	}
	return id, true
}

func (th *ThreadHandler) Create(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	var input services.ThreadInput
	if err := c.ShouldBindJSON(&input); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	thread, err := th.threadService.Create(c.Request.Context(), userID, input)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"thread": thread})
}

func (th *ThreadHandler) List(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	threads, err := th.threadService.List(c.Request.Context(), userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"threads": threads})
}

func (th *ThreadHandler) Get(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	threadID, ok := parseThreadID(c)
	if !ok {
		return
	}
	thread, err := th.threadService.Get(c.Request.Context(), threadID, userID)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"thread": thread})
}

func (th *ThreadHandler) Update(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	threadID, ok := parseThreadID(c)
	if !ok {
		return
	}
	var update services.ThreadUpdate
	if err := c.ShouldBindJSON(&update); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	thread, err := th.threadService.Update(c.Request.Context(), threadID, userID, update)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"thread": thread})
}

func (th *ThreadHandler) Delete(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	threadID, ok := parseThreadID(c)
	if !ok {
		return
	}
	if err := th.threadService.Delete(c.Request.Context(), threadID, userID); err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"deleted": true})
}

func (th *ThreadHandler) Reactivate(c *gin.Context) {
	userID, ok := requireUserID(c)
	if !ok {
		return
	}
	threadID, ok := parseThreadID(c)
	if !ok {
		return
	}
	var body struct {
		IssuesRemaining int `json:"issues_remaining"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		RespondError(c, http.StatusBadRequest, "bad_request", err)
		return
	}
	thread, err := th.threadService.Reactivate(c.Request.Context(), threadID, userID, body.IssuesRemaining)
	if err != nil {
		RespondAppError(c, err)
		return
	}
	RespondOK(c, gin.H{"thread": thread})
}
