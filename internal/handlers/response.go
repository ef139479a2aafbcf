package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/calebmoran/longbox-backend/internal/apperr"
)

type APIError struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

// RespondAppError maps domain error kinds onto HTTP statuses. Anything that
// is not an apperr surfaces as a 500.
func RespondAppError(c *gin.Context, err error) {
	RespondError(c, apperr.StatusOf(err), apperr.CodeOf(err), err)
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
