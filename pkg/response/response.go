// Package response standardizes the JSON envelope of HTTP handlers.
package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the uniform response envelope.
type Body struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

// Success writes a 200 with the payload.
func Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, Body{Code: 0, Message: "ok", Data: data})
}

// Error writes a 500 with the message.
func Error(c *gin.Context, message string) {
	ErrorWithStatus(c, http.StatusInternalServerError, message, nil)
}

// ErrorWithStatus writes an arbitrary status with the message and optional
// detail payload.
func ErrorWithStatus(c *gin.Context, status int, message string, data any) {
	c.JSON(status, Body{Code: status, Message: message, Data: data})
}
