package handler

import (
	"errors"
	"net/http"

	"zemi/internal/domain"

	"github.com/gin-gonic/gin"
)

// Every response carries a machine-readable shape: {"success": true, "data":
// ...} or {"success": false, "error": {"kind": ..., "message": ...}}.

func respondData(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func respondError(c *gin.Context, err error) {
	kind := domain.KindOf(err)
	var de *domain.Error
	msg := err.Error()
	if errors.As(err, &de) {
		msg = de.Message
	} else {
		// Plain errors are infrastructure failures; the detail goes to logs,
		// not to callers.
		msg = "internal error"
	}
	c.JSON(statusFor(kind), gin.H{
		"success": false,
		"error":   gin.H{"kind": kind, "message": msg},
	})
}

func statusFor(kind string) int {
	switch kind {
	case domain.KindValidation:
		return http.StatusBadRequest
	case domain.KindNotFound:
		return http.StatusNotFound
	case domain.KindRateLimited:
		return http.StatusTooManyRequests
	case domain.KindInvalidTransition, domain.KindDuplicateTransaction, domain.KindAmountMismatch:
		return http.StatusConflict
	case domain.KindInvalidDeliveryCode:
		return http.StatusForbidden
	case domain.KindOrderLocked:
		return http.StatusLocked
	case domain.KindProviderUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
