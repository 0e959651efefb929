package services

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"time"

	"roombroker/internal/bbb"
	"roombroker/internal/domain/meeting"
	"roombroker/internal/repository"
	"roombroker/pkg/logger"

	"github.com/samber/lo"
)

// AttendanceService turns the provider's per-poll attendee roster into
// continuous per-person session intervals.
type AttendanceService struct {
	attendees repository.AttendeeRepository
	log       *logger.Logger
}

func NewAttendanceService(attendees repository.AttendeeRepository, log *logger.Logger) *AttendanceService {
	return &AttendanceService{attendees: attendees, log: log}
}

// Reconcile is a full reconciliation of the meeting's open sessions
// against one provider roster, not an incremental diff: reported people
// without an open session get one, open sessions for people no longer
// reported are closed. Running it twice on the same roster writes
// nothing the second time. Callers serialize per meeting; the sweep is
// the only caller and polls each server sequentially per meeting.
func (s *AttendanceService) Reconcile(ctx context.Context, m *meeting.Meeting, reported []bbb.Attendee) error {
	// A reconnect can list the same person twice within one poll.
	roster := lo.UniqBy(reported, func(a bbb.Attendee) string { return a.UserID })

	open, err := s.attendees.ListOpenByMeeting(ctx, m.ID)
	if err != nil {
		return err
	}
	openByKey := make(map[string]meeting.Attendee, len(open))
	for _, row := range open {
		key, err := row.PersonKey()
		if err != nil {
			continue
		}
		openByKey[key] = row
	}

	now := time.Now()
	touched := make(map[string]struct{}, len(roster))

	for _, attendee := range roster {
		var row meeting.Attendee
		switch {
		case strings.HasPrefix(attendee.UserID, UserIDPrefix):
			userID := strings.TrimPrefix(attendee.UserID, UserIDPrefix)
			key := "u:" + userID
			touched[key] = struct{}{}
			if _, present := openByKey[key]; present {
				continue
			}
			row = meeting.Attendee{
				MeetingID: m.ID,
				UserID:    sql.NullString{String: userID, Valid: true},
				Name:      attendee.FullName,
				Join:      now,
			}
		case strings.HasPrefix(attendee.UserID, SessionIDPrefix):
			sessionID := strings.TrimPrefix(attendee.UserID, SessionIDPrefix)
			key := "s:" + sessionID
			touched[key] = struct{}{}
			if _, present := openByKey[key]; present {
				continue
			}
			// Guests have no directory entry; the display name is
			// captured once at session creation.
			row = meeting.Attendee{
				MeetingID: m.ID,
				SessionID: sql.NullString{String: sessionID, Valid: true},
				Name:      attendee.FullName,
				Join:      now,
			}
		default:
			s.log.Warnf("meeting %s: unrecognized attendee identifier %q, skipping", m.ID, attendee.UserID)
			continue
		}

		if err := s.attendees.Create(ctx, &row); err != nil {
			s.log.Errorf("creating attendance session for meeting %s: %v", m.ID, err)
		}
	}

	// Open sessions not in this roster ended between polls.
	for key, row := range openByKey {
		if _, present := touched[key]; present {
			continue
		}
		row.Leave = sql.NullTime{Time: now, Valid: true}
		if err := s.attendees.Update(ctx, row); err != nil {
			s.log.Errorf("closing attendance session %s: %v", row.ID, err)
		}
	}
	return nil
}

// Session is one continuous presence interval.
type Session struct {
	Join    time.Time  `json:"join"`
	Leave   *time.Time `json:"leave,omitempty"`
	Minutes int        `json:"minutes"`
}

// AttendanceEntry aggregates one person's sessions. Guests have no email.
type AttendanceEntry struct {
	Name         string    `json:"name"`
	Email        *string   `json:"email,omitempty"`
	Sessions     []Session `json:"sessions"`
	TotalMinutes int       `json:"total_minutes"`
}

// SessionReport groups the meeting's attendance rows per person, with
// whole-minute durations, sorted by display name.
func (s *AttendanceService) SessionReport(ctx context.Context, meetingID string) ([]AttendanceEntry, error) {
	rows, err := s.attendees.ListByMeeting(ctx, meetingID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	grouped := make(map[string]*AttendanceEntry)
	var order []string
	for _, row := range rows {
		key, err := row.PersonKey()
		if err != nil {
			continue
		}
		entry, present := grouped[key]
		if !present {
			entry = &AttendanceEntry{Name: row.Name}
			if row.Email.Valid {
				email := row.Email.String
				entry.Email = &email
			}
			grouped[key] = entry
			order = append(order, key)
		}

		leave := now
		session := Session{Join: row.Join}
		if row.Leave.Valid {
			leave = row.Leave.Time
			session.Leave = &row.Leave.Time
		}
		session.Minutes = int(leave.Sub(row.Join).Minutes())
		entry.Sessions = append(entry.Sessions, session)
		entry.TotalMinutes += session.Minutes
	}

	report := make([]AttendanceEntry, 0, len(order))
	for _, key := range order {
		report = append(report, *grouped[key])
	}
	sort.Slice(report, func(i, j int) bool { return report[i].Name < report[j].Name })
	return report, nil
}
