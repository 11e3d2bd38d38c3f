package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

type SuccessEnvelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data"`
	Message string `json:"message,omitempty"`
}

type ErrorEnvelope struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func RespondOK(c *gin.Context, data any, message string) {
	c.JSON(http.StatusOK, SuccessEnvelope{
		Success: true,
		Data:    data,
		Message: message,
	})
}

func RespondError(c *gin.Context, status int, message string, err error) {
	env := ErrorEnvelope{Error: message}
	if err != nil {
		env.Details = err.Error()
	}
	c.JSON(status, env)
}
