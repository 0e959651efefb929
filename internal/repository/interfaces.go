package repository

import (
	"context"
	"database/sql"
	"time"

	"roombroker/internal/domain/meeting"
	"roombroker/internal/domain/room"
	"roombroker/internal/domain/server"

	"github.com/google/uuid"
)

type ServerRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (server.Server, error)
	List(ctx context.Context) ([]server.Server, error)
	// ListCandidates returns the pool's servers that are enabled and not
	// offline, ordered by id for deterministic tie-breaking.
	ListCandidates(ctx context.Context, poolID uuid.UUID) ([]server.Server, error)
	Update(ctx context.Context, srv server.Server) error
}

type RoomRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (room.Room, error)
	UpdateLiveUsage(ctx context.Context, roomID uuid.UUID, participants sql.NullInt32) error
	// ClearLiveUsageByServer nulls the live counters of every room whose
	// current meeting sits on the given server.
	ClearLiveUsageByServer(ctx context.Context, serverID uuid.UUID) error
}

type MeetingRepository interface {
	Create(ctx context.Context, m *meeting.Meeting) error
	GetByID(ctx context.Context, id string) (meeting.Meeting, error)
	// GetCurrentByRoom returns the room's meeting with null end, running
	// or still starting. ErrNotFound when the room is idle.
	GetCurrentByRoom(ctx context.Context, roomID uuid.UUID) (meeting.Meeting, error)
	// ListRunningByServer returns meetings the database believes are
	// running on the server: null end, non-null start.
	ListRunningByServer(ctx context.Context, serverID uuid.UUID) ([]meeting.Meeting, error)
	ListDetachedByServer(ctx context.Context, serverID uuid.UUID) ([]meeting.Meeting, error)
	// DetachRunningByServer stamps detached_at on every not-yet-detached
	// running meeting of the server, returning the number touched.
	DetachRunningByServer(ctx context.Context, serverID uuid.UUID, at time.Time) (int64, error)
	CountRunningByServer(ctx context.Context, serverID uuid.UUID) (int64, error)
	NextSequence(ctx context.Context, roomID uuid.UUID) (int, error)
	Update(ctx context.Context, m meeting.Meeting) error
}

type AttendeeRepository interface {
	Create(ctx context.Context, a *meeting.Attendee) error
	Update(ctx context.Context, a meeting.Attendee) error
	ListByMeeting(ctx context.Context, meetingID string) ([]meeting.Attendee, error)
	ListOpenByMeeting(ctx context.Context, meetingID string) ([]meeting.Attendee, error)
	CloseOpenByMeeting(ctx context.Context, meetingID string, at time.Time) error
}

type StatRepository interface {
	CreateServerStat(ctx context.Context, stat *server.ServerStat) error
	CreateMeetingStat(ctx context.Context, stat *meeting.MeetingStat) error
}
