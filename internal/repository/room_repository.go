package repository

import (
	"context"
	"database/sql"
	"errors"

	"roombroker/internal/domain/room"
	broker_errors "roombroker/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresRoomRepository struct {
	db *gorm.DB
}

func NewRoomRepository(db *gorm.DB) RoomRepository {
	return &PostgresRoomRepository{db: db}
}

func (r *PostgresRoomRepository) GetByID(ctx context.Context, id uuid.UUID) (room.Room, error) {
	var rm room.Room
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&rm).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return room.Room{}, broker_errors.ErrNotFound
		}
		return room.Room{}, err
	}
	return rm, nil
}

func (r *PostgresRoomRepository) UpdateLiveUsage(ctx context.Context, roomID uuid.UUID, participants sql.NullInt32) error {
	return r.db.WithContext(ctx).
		Model(&room.Room{}).
		Where("id = ?", roomID).
		Update("live_participant_count", participants).Error
}

func (r *PostgresRoomRepository) ClearLiveUsageByServer(ctx context.Context, serverID uuid.UUID) error {
	subQuery := r.db.
		Table("meetings").
		Select("room_id").
		Where("server_id = ? AND ended_at IS NULL", serverID)

	return r.db.WithContext(ctx).
		Model(&room.Room{}).
		Where("id IN (?)", subQuery).
		Update("live_participant_count", nil).Error
}
