package handler

import (
	"net/http"

	"roombroker/internal/domain/server"
	"roombroker/internal/repository"
	"roombroker/internal/services"
	"roombroker/internal/transport/httpdto"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// AdminHandler exposes the fleet administration surface: server listing,
// panic, attendance reports. All routes sit behind the admin token.
type AdminHandler struct {
	servers    repository.ServerRepository
	meetings   *services.MeetingService
	attendance *services.AttendanceService
}

func NewAdminHandler(servers repository.ServerRepository, meetings *services.MeetingService, attendance *services.AttendanceService) *AdminHandler {
	return &AdminHandler{servers: servers, meetings: meetings, attendance: attendance}
}

type serverView struct {
	ID           string  `json:"id"`
	BaseURL      string  `json:"base_url"`
	Strength     int     `json:"strength"`
	Status       string  `json:"status"`
	Health       string  `json:"health"`
	ErrorCount   int     `json:"error_count"`
	RecoverCount int     `json:"recover_count"`
	Load         *int64  `json:"load,omitempty"`
	MeetingCount *int32  `json:"meeting_count,omitempty"`
	Version      *string `json:"version,omitempty"`
}

func (h *AdminHandler) ListServers(c *gin.Context) {
	servers, err := h.servers.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, httpdto.NewErrorResponse("internal error", "INTERNAL_ERROR"))
		return
	}
	views := make([]serverView, 0, len(servers))
	for _, srv := range servers {
		views = append(views, toServerView(srv))
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"servers": views}))
}

// PanicServer ends every meeting on a server, continuing past individual
// failures. The response reports how many ends succeeded.
func (h *AdminHandler) PanicServer(c *gin.Context) {
	serverID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, httpdto.NewErrorResponse("invalid server id", "INVALID_REQUEST"))
		return
	}
	ended, failed := h.meetings.PanicServer(c.Request.Context(), serverID)
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(httpdto.PanicResponse{Ended: ended, Failed: failed}))
}

func (h *AdminHandler) Attendance(c *gin.Context) {
	meetingID := c.Param("id")
	report, err := h.attendance.SessionReport(c.Request.Context(), meetingID)
	if err != nil {
		writeLifecycleError(c, err)
		return
	}
	c.JSON(http.StatusOK, httpdto.NewSuccessResponse(gin.H{"attendance": report}))
}

func toServerView(srv server.Server) serverView {
	view := serverView{
		ID:           srv.ID.String(),
		BaseURL:      srv.BaseURL,
		Strength:     srv.Strength,
		Status:       string(srv.Status),
		Health:       string(srv.Health),
		ErrorCount:   srv.ErrorCount,
		RecoverCount: srv.RecoverCount,
	}
	if srv.Load.Valid {
		load := srv.Load.Int64
		view.Load = &load
	}
	if srv.MeetingCount.Valid {
		count := srv.MeetingCount.Int32
		view.MeetingCount = &count
	}
	if srv.Version.Valid {
		version := srv.Version.String
		view.Version = &version
	}
	return view
}
