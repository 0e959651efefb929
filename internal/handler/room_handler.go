package handler

import (
	"errors"
	"net/http"

	"roombroker/internal/services"
	"roombroker/internal/transport/httpdto"
	broker_errors "roombroker/pkg/errors"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type RoomHandler struct {
	service *services.MeetingService
}

func NewRoomHandler(service *services.MeetingService) *RoomHandler {
	return &RoomHandler{service: service}
}

func (h *RoomHandler) Start(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid room id", "INVALID_REQUEST"))
		return
	}
	var req httpdto.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	joinURL, err := h.service.Start(c.Request.Context(), roomID, toJoinRequest(req))
	if err != nil {
		writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.JoinResponse{JoinURL: joinURL}))
}

func (h *RoomHandler) Join(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid room id", "INVALID_REQUEST"))
		return
	}
	var req httpdto.JoinRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid request", "INVALID_REQUEST"))
		return
	}
	joinURL, err := h.service.Join(c.Request.Context(), roomID, toJoinRequest(req))
	if err != nil {
		writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.JoinResponse{JoinURL: joinURL}))
}

func (h *RoomHandler) Status(c *gin.Context) {
	roomID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid room id", "INVALID_REQUEST"))
		return
	}
	status, err := h.service.Status(c.Request.Context(), roomID)
	if err != nil {
		writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.RoomStatusResponse{
		Running:          status.Running,
		Detached:         status.Detached,
		MeetingID:        status.MeetingID,
		ParticipantCount: status.ParticipantCount,
	}))
}

func toJoinRequest(req httpdto.JoinRequest) services.JoinRequest {
	return services.JoinRequest{
		UserID:                  req.UserID,
		Name:                    req.Name,
		Email:                   req.Email,
		Role:                    services.RoomRole(req.Role),
		ConsentRecord:           req.ConsentRecord,
		ConsentRecordAttendance: req.ConsentRecordAttendance,
		ConsentStreaming:        req.ConsentStreaming,
	}
}

// writeLifecycleError maps the user-visible lifecycle error taxonomy to
// HTTP responses. Internal reconciliation states never leak here.
func writeLifecycleError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, broker_errors.ErrNoServerAvailable):
		c.JSON(http.StatusServiceUnavailable, httpdto.NewErrorResponse("no server available, try again later", "NO_SERVER_AVAILABLE"))
	case errors.Is(err, broker_errors.ErrConcurrentStart):
		c.JSON(http.StatusConflict, httpdto.NewErrorResponse("room is starting, please wait", "START_IN_PROGRESS"))
	case errors.Is(err, broker_errors.ErrRoomNotRunning):
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("room is not running", "ROOM_NOT_RUNNING"))
	case errors.Is(err, broker_errors.ErrConsentRequired):
		c.JSON(http.StatusUnprocessableEntity, httpdto.NewErrorResponse(err.Error(), "CONSENT_REQUIRED"))
	case errors.Is(err, broker_errors.ErrStartFailed):
		c.JSON(http.StatusBadGateway, httpdto.NewErrorResponse("meeting could not be started", "START_FAILED"))
	case errors.Is(err, broker_errors.ErrJoinFailed):
		c.JSON(http.StatusBadGateway, httpdto.NewErrorResponse("join failed, please retry", "JOIN_FAILED"))
	case errors.Is(err, broker_errors.ErrNotFound):
		c.JSON(http.StatusNotFound, httpdto.NewErrorResponse("not found", "NOT_FOUND"))
	default:
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal error", "INTERNAL_ERROR"))
	}
}
