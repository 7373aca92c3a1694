package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Handles circuit breaker endpoints
type SystemHandler struct {
	breaker BreakerControl
}

func NewSystemHandler(breaker BreakerControl) *SystemHandler {
	return &SystemHandler{breaker: breaker}
}

// Handles GET /api/limiter-status
func (h *SystemHandler) LimiterStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"circuit_breaker": h.breaker.BreakerStatus(),
	})
}

// Handles POST /admin/circuit-breaker/reset
func (h *SystemHandler) ResetCircuitBreaker(c *gin.Context) {
	h.breaker.ResetBreaker()

	c.JSON(http.StatusOK, gin.H{
		"message":         "Circuit breaker reset successfully",
		"circuit_breaker": h.breaker.BreakerStatus(),
	})
}
