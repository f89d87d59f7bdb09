package server

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/mark77234/Tomo/internal/apperr"
	"go.uber.org/zap"
)

type envelope struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Code    string      `json:"code,omitempty"`
}

func success(message string, data interface{}) envelope {
	return envelope{Success: true, Message: message, Data: data}
}

func failure(kind, message string) envelope {
	return envelope{Success: false, Message: message, Code: kind}
}

func statusFor(kind apperr.Kind) int {
	switch kind {
	case apperr.KindNotFound:
		return http.StatusNotFound
	case apperr.KindDuplicate, apperr.KindAlreadyFriends, apperr.KindSelfRequest, apperr.KindAmbiguousQuery:
		return http.StatusConflict
	case apperr.KindConstraintViolation:
		return http.StatusUnprocessableEntity
	case apperr.KindNotLeader:
		return http.StatusForbidden
	case apperr.KindUnauthorized:
		return http.StatusUnauthorized
	case apperr.KindTimeout:
		return http.StatusGatewayTimeout
	case apperr.KindInvalidInput:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// respondError maps a domain error to its status; unclassified errors are logged and hidden.
func (h *httpHandler) respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)
	if status == http.StatusInternalServerError || status == http.StatusGatewayTimeout {
		h.logger.Error("request failed",
			zap.String("route", c.FullPath()),
			zap.String("code", apperr.CodeOf(err)),
			zap.Error(err))
	}
	message := apperr.CodeOf(err)
	if kind == apperr.KindInternal {
		message = "internal error"
	}
	c.JSON(status, failure(string(kind), message))
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, failure(string(apperr.KindInvalidInput), message))
}
