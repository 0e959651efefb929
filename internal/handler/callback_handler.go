package handler

import (
	"errors"
	"net/http"

	"roombroker/internal/services"
	"roombroker/internal/transport/httpdto"
	broker_errors "roombroker/pkg/errors"

	"github.com/gin-gonic/gin"
)

// CallbackHandler receives the conferencing server's end-of-meeting
// notification: GET /callback/:meeting?salt={hmac}.
type CallbackHandler struct {
	service *services.MeetingService
}

func NewCallbackHandler(service *services.MeetingService) *CallbackHandler {
	return &CallbackHandler{service: service}
}

func (h *CallbackHandler) MeetingEnded(c *gin.Context) {
	meetingID := c.Param("meeting")
	salt := c.Query("salt")

	err := h.service.HandleEndCallback(c.Request.Context(), meetingID, salt)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, httpdto.NewSuccessResponse("ok"))
	case errors.Is(err, broker_errors.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, httpdto.NewErrorResponse("invalid salt", "UNAUTHORIZED"))
	case errors.Is(err, broker_errors.ErrNotFound):
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("unknown meeting", "NOT_FOUND"))
	default:
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal error", "INTERNAL_ERROR"))
	}
}
