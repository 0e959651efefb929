package repository

import (
	"context"

	"roombroker/internal/domain/meeting"
	"roombroker/internal/domain/server"

	"gorm.io/gorm"
)

type PostgresStatRepository struct {
	db *gorm.DB
}

func NewStatRepository(db *gorm.DB) StatRepository {
	return &PostgresStatRepository{db: db}
}

func (r *PostgresStatRepository) CreateServerStat(ctx context.Context, stat *server.ServerStat) error {
	return r.db.WithContext(ctx).Create(stat).Error
}

func (r *PostgresStatRepository) CreateMeetingStat(ctx context.Context, stat *meeting.MeetingStat) error {
	return r.db.WithContext(ctx).Create(stat).Error
}
