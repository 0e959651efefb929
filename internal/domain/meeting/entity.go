package meeting

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
	broker_errors "roombroker/pkg/errors"
)

// Meeting represents meetings. The primary key is the provider-assigned
// meeting id. A row with null End is the room's currently running (or
// still starting) meeting; null Start means creation has not been
// confirmed yet; non-null Detached with null End marks a meeting whose
// server became unreachable while it was presumed running.
type Meeting struct {
	ID       string        `gorm:"primaryKey"`
	RoomID   uuid.UUID     `gorm:"type:uuid;not null;index"`
	ServerID uuid.NullUUID `gorm:"type:uuid;index"`

	Start    sql.NullTime `gorm:"column:started_at"`
	End      sql.NullTime `gorm:"column:ended_at"`
	Detached sql.NullTime `gorm:"column:detached_at"`

	// Flags frozen at creation time, immune to later room-setting edits.
	Record           bool `gorm:"default:false"`
	RecordAttendance bool `gorm:"default:false"`
	Streaming        bool `gorm:"default:false"`

	AttendeePW  string
	ModeratorPW string
	Sequence    int `gorm:"not null;default:1"`

	CreatedAt time.Time `gorm:"default:now()"`
	UpdatedAt time.Time
}

// Attendee represents meeting_attendees. Exactly one of UserID/SessionID
// identifies the person: UserID for authenticated users, SessionID for
// guests. A row with null Leave is an open session ("currently present").
type Attendee struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	MeetingID string    `gorm:"not null;index"`
	UserID    sql.NullString
	SessionID sql.NullString
	Name      string `gorm:"not null"`
	Email     sql.NullString

	Join  time.Time    `gorm:"column:joined_at;not null"`
	Leave sql.NullTime `gorm:"column:left_at"`
}

// MeetingStat represents meeting_stats; append-only usage history.
type MeetingStat struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	MeetingID             string    `gorm:"not null;index"`
	ParticipantCount      int
	ListenerCount         int
	VoiceParticipantCount int
	VideoCount            int
	CreatedAt             time.Time `gorm:"default:now()"`
}

// Ended reports whether the meeting has reached its terminal state.
func (m *Meeting) Ended() bool {
	return m.End.Valid
}

// Running reports whether creation has been confirmed and the meeting has
// not ended. A detached meeting still counts as running; it is presumed
// alive, just unreachable.
func (m *Meeting) Running() bool {
	return m.Start.Valid && !m.End.Valid
}

// PersonKey identifies the attendee across sessions: the user id for
// authenticated users, the session id for guests.
func (a *Attendee) PersonKey() (string, error) {
	if a.UserID.Valid {
		return "u:" + a.UserID.String, nil
	}
	if a.SessionID.Valid {
		return "s:" + a.SessionID.String, nil
	}
	return "", broker_errors.ErrInvalidInput
}

func (Meeting) TableName() string {
	return "meetings"
}

func (Attendee) TableName() string {
	return "meeting_attendees"
}

func (MeetingStat) TableName() string {
	return "meeting_stats"
}
