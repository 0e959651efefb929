package repository

import (
	"context"
	"time"

	"roombroker/internal/domain/meeting"
	broker_errors "roombroker/pkg/errors"

	"gorm.io/gorm"
)

type PostgresAttendeeRepository struct {
	db *gorm.DB
}

func NewAttendeeRepository(db *gorm.DB) AttendeeRepository {
	return &PostgresAttendeeRepository{db: db}
}

func (r *PostgresAttendeeRepository) Create(ctx context.Context, a *meeting.Attendee) error {
	return r.db.WithContext(ctx).Create(a).Error
}

func (r *PostgresAttendeeRepository) Update(ctx context.Context, a meeting.Attendee) error {
	res := r.db.WithContext(ctx).Save(&a)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return broker_errors.ErrNotFound
	}
	return nil
}

func (r *PostgresAttendeeRepository) ListByMeeting(ctx context.Context, meetingID string) ([]meeting.Attendee, error) {
	var attendees []meeting.Attendee
	err := r.db.WithContext(ctx).
		Where("meeting_id = ?", meetingID).
		Order("joined_at").
		Find(&attendees).Error
	if err != nil {
		return nil, err
	}
	return attendees, nil
}

func (r *PostgresAttendeeRepository) ListOpenByMeeting(ctx context.Context, meetingID string) ([]meeting.Attendee, error) {
	var attendees []meeting.Attendee
	err := r.db.WithContext(ctx).
		Where("meeting_id = ? AND left_at IS NULL", meetingID).
		Find(&attendees).Error
	if err != nil {
		return nil, err
	}
	return attendees, nil
}

func (r *PostgresAttendeeRepository) CloseOpenByMeeting(ctx context.Context, meetingID string, at time.Time) error {
	return r.db.WithContext(ctx).
		Model(&meeting.Attendee{}).
		Where("meeting_id = ? AND left_at IS NULL", meetingID).
		Update("left_at", at).Error
}
