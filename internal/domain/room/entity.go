package room

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// GuestRole overrides the join role handed to guests.
type GuestRole string

const (
	GuestRoleViewer    GuestRole = "VIEWER"
	GuestRoleModerator GuestRole = "MODERATOR"
)

// Room represents rooms. Only the settings the broker needs to build
// provider create/join parameters live here; user-facing room CRUD is
// owned by the web layer.
type Room struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	LinkID     string    `gorm:"not null;uniqueIndex"`
	Name       string    `gorm:"not null"`
	OwnerName  string    `gorm:"not null"`
	OwnerEmail string
	PoolID     uuid.UUID `gorm:"type:uuid;not null;index"`

	// Settings captured into provider create parameters. The Record*,
	// RecordAttendance and Streaming flags are frozen onto the meeting at
	// start time; later edits never affect a running meeting.
	Record           bool      `gorm:"default:false"`
	RecordAttendance bool      `gorm:"default:false"`
	Streaming        bool      `gorm:"default:false"`
	MuteOnStart      bool      `gorm:"default:false"`
	Lobby            bool      `gorm:"default:false"`
	AllowGuests      bool      `gorm:"default:false"`
	EveryoneCanStart bool      `gorm:"default:false"`
	GuestRole        GuestRole `gorm:"type:varchar(16);default:'VIEWER'"`

	LockDisableCam        bool `gorm:"default:false"`
	LockDisableMic        bool `gorm:"default:false"`
	LockDisablePrivChat   bool `gorm:"default:false"`
	LockDisablePublicChat bool `gorm:"default:false"`
	LockDisableNotes      bool `gorm:"default:false"`
	LockHideUserList      bool `gorm:"default:false"`

	WelcomeMessage  string
	MaxParticipants sql.NullInt32
	MaxDuration     sql.NullInt32
	AccessCode      sql.NullString

	// Operator-supplied key=value overrides, one per line, validated and
	// patched onto the create/join parameters with warnings on bad input.
	CreateParameters string
	JoinParameters   string

	// Live usage mirror of the room's current meeting for listings; null
	// whenever nothing is known to be running.
	LiveParticipantCount sql.NullInt32

	CreatedAt time.Time `gorm:"default:now()"`
	UpdatedAt time.Time
}

func (Room) TableName() string {
	return "rooms"
}
