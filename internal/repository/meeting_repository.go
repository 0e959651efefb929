package repository

import (
	"context"
	"errors"
	"time"

	"roombroker/internal/domain/meeting"
	broker_errors "roombroker/pkg/errors"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type PostgresMeetingRepository struct {
	db *gorm.DB
}

func NewMeetingRepository(db *gorm.DB) MeetingRepository {
	return &PostgresMeetingRepository{db: db}
}

func (r *PostgresMeetingRepository) Create(ctx context.Context, m *meeting.Meeting) error {
	res := r.db.WithContext(ctx).Create(m)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return broker_errors.ErrAlreadyExists
		}
		return res.Error
	}
	return nil
}

func (r *PostgresMeetingRepository) GetByID(ctx context.Context, id string) (meeting.Meeting, error) {
	var m meeting.Meeting
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return meeting.Meeting{}, broker_errors.ErrNotFound
		}
		return meeting.Meeting{}, err
	}
	return m, nil
}

func (r *PostgresMeetingRepository) GetCurrentByRoom(ctx context.Context, roomID uuid.UUID) (meeting.Meeting, error) {
	var m meeting.Meeting
	err := r.db.WithContext(ctx).
		Where("room_id = ? AND ended_at IS NULL", roomID).
		Order("created_at DESC").
		First(&m).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return meeting.Meeting{}, broker_errors.ErrNotFound
		}
		return meeting.Meeting{}, err
	}
	return m, nil
}

func (r *PostgresMeetingRepository) ListRunningByServer(ctx context.Context, serverID uuid.UUID) ([]meeting.Meeting, error) {
	var meetings []meeting.Meeting
	err := r.db.WithContext(ctx).
		Where("server_id = ? AND ended_at IS NULL AND started_at IS NOT NULL", serverID).
		Find(&meetings).Error
	if err != nil {
		return nil, err
	}
	return meetings, nil
}

func (r *PostgresMeetingRepository) ListDetachedByServer(ctx context.Context, serverID uuid.UUID) ([]meeting.Meeting, error) {
	var meetings []meeting.Meeting
	err := r.db.WithContext(ctx).
		Where("server_id = ? AND ended_at IS NULL AND detached_at IS NOT NULL", serverID).
		Find(&meetings).Error
	if err != nil {
		return nil, err
	}
	return meetings, nil
}

func (r *PostgresMeetingRepository) DetachRunningByServer(ctx context.Context, serverID uuid.UUID, at time.Time) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&meeting.Meeting{}).
		Where("server_id = ? AND ended_at IS NULL AND detached_at IS NULL", serverID).
		Update("detached_at", at)
	return res.RowsAffected, res.Error
}

func (r *PostgresMeetingRepository) CountRunningByServer(ctx context.Context, serverID uuid.UUID) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&meeting.Meeting{}).
		Where("server_id = ? AND ended_at IS NULL", serverID).
		Count(&count).Error
	return count, err
}

func (r *PostgresMeetingRepository) NextSequence(ctx context.Context, roomID uuid.UUID) (int, error) {
	var max int
	err := r.db.WithContext(ctx).
		Model(&meeting.Meeting{}).
		Where("room_id = ?", roomID).
		Select("COALESCE(MAX(sequence), 0)").
		Scan(&max).Error
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

func (r *PostgresMeetingRepository) Update(ctx context.Context, m meeting.Meeting) error {
	res := r.db.WithContext(ctx).Save(&m)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return broker_errors.ErrNotFound
	}
	return nil
}
