package server

import (
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Status is operator-controlled and independent of health.
type Status string

const (
	StatusEnabled  Status = "ENABLED"
	StatusDisabled Status = "DISABLED"
	StatusDraining Status = "DRAINING"
)

// Health is derived from the consecutive error/recover counters.
type Health string

const (
	HealthOnline    Health = "ONLINE"
	HealthUnhealthy Health = "UNHEALTHY"
	HealthOffline   Health = "OFFLINE"
)

// Server represents servers
type Server struct {
	ID           uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	BaseURL      string    `gorm:"not null;uniqueIndex"`
	Secret       string    `gorm:"not null"`
	Strength     int       `gorm:"not null;default:1"`
	Status       Status    `gorm:"type:varchar(16);not null;default:'ENABLED'"`
	Health       Health    `gorm:"type:varchar(16);not null;default:'ONLINE'"`
	ErrorCount   int       `gorm:"not null;default:0"`
	RecoverCount int       `gorm:"not null;default:0"`

	// Live usage snapshot, null while the server has not reported usage
	// since its last failure.
	ParticipantCount      sql.NullInt32
	ListenerCount         sql.NullInt32
	VoiceParticipantCount sql.NullInt32
	VideoCount            sql.NullInt32
	MeetingCount          sql.NullInt32
	Load                  sql.NullInt64

	Version   sql.NullString
	CreatedAt time.Time `gorm:"default:now()"`
	UpdatedAt time.Time
}

// ServerPool represents server_pools; rooms are scoped to a pool.
type ServerPool struct {
	ID      uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	Name    string    `gorm:"not null;uniqueIndex"`
	Servers []Server  `gorm:"many2many:server_pool_members"`

	CreatedAt time.Time `gorm:"default:now()"`
}

// ServerStat represents server_stats; append-only usage history, never mutated.
type ServerStat struct {
	ID                    uuid.UUID `gorm:"type:uuid;primaryKey;default:uuid_generate_v4()"`
	ServerID              uuid.UUID `gorm:"type:uuid;not null;index"`
	ParticipantCount      int
	ListenerCount         int
	VoiceParticipantCount int
	VideoCount            int
	MeetingCount          int
	CreatedAt             time.Time `gorm:"default:now()"`
}

// LoadRatio is the server's load normalized by its strength weight, for
// comparison across heterogeneous servers. A server with unknown load has
// not reported usage yet and sorts before every loaded server.
func (s *Server) LoadRatio() (float64, bool) {
	if !s.Load.Valid {
		return 0, false
	}
	strength := s.Strength
	if strength < 1 {
		strength = 1
	}
	return float64(s.Load.Int64) / float64(strength), true
}

// ClearUsage nulls the live usage snapshot. Stale numbers from before a
// failure must not be trusted.
func (s *Server) ClearUsage() {
	s.ParticipantCount = sql.NullInt32{}
	s.ListenerCount = sql.NullInt32{}
	s.VoiceParticipantCount = sql.NullInt32{}
	s.VideoCount = sql.NullInt32{}
	s.MeetingCount = sql.NullInt32{}
	s.Load = sql.NullInt64{}
}

func (Server) TableName() string {
	return "servers"
}

func (ServerPool) TableName() string {
	return "server_pools"
}

func (ServerStat) TableName() string {
	return "server_stats"
}
