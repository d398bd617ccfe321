package handlers

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"messaging-service/internal/apperr"
)

const requestIDContextKey = "request_id"

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(requestIDContextKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(requestIDContextKey, requestID)
	return requestID
}

func callerID(c *gin.Context) int64 {
	return c.GetInt64("userID")
}

func callerIDPtr(c *gin.Context) *int64 {
	if id := c.GetInt64("userID"); id != 0 {
		return &id
	}
	return nil
}

func paramInt64(c *gin.Context, name string) (int64, bool) {
	val, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil {
		c.JSON(400, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return val, true
}

func queryInt(c *gin.Context, name string, fallback int) int {
	if raw := c.Query(name); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			return parsed
		}
	}
	return fallback
}

// respondError maps a kinded error onto its HTTP status. Unknown errors get
// the fallback message so internals never leak to clients.
func respondError(c *gin.Context, err error, fallback string) {
	status := apperr.HTTPStatus(err)
	msg := fallback
	if apperr.KindOf(err) != apperr.KindUnknown {
		msg = err.Error()
	}
	c.JSON(status, gin.H{"error": msg})
}
