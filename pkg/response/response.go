package response

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Body is the standard API response envelope. GET /history is the one
// endpoint that answers with a bare array instead.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Accepted sends 202 with data, for work handed to a background worker.
func Accepted(c *gin.Context, data interface{}) {
	c.JSON(http.StatusAccepted, Body{Success: true, Data: data})
}

// Error sends status with an error message.
func Error(c *gin.Context, status int, err string) {
	c.JSON(status, Body{Success: false, Error: err})
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	Error(c, http.StatusBadRequest, err)
}

// Conflict sends 409.
func Conflict(c *gin.Context, err string) {
	Error(c, http.StatusConflict, err)
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	Error(c, http.StatusServiceUnavailable, err)
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	Error(c, http.StatusInternalServerError, err)
}
