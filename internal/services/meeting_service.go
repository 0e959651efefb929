package services

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"roombroker/internal/bbb"
	"roombroker/internal/config"
	"roombroker/internal/domain/meeting"
	"roombroker/internal/domain/room"
	"roombroker/internal/domain/server"
	"roombroker/internal/events"
	brokerredis "roombroker/internal/redis"
	"roombroker/internal/repository"
	broker_errors "roombroker/pkg/errors"
	"roombroker/pkg/logger"

	"github.com/google/uuid"
)

// RoomRole is the caller's effective role in the room, resolved by the
// auth layer before the request reaches the broker.
type RoomRole string

const (
	RoleOwner     RoomRole = "OWNER"
	RoleCoOwner   RoomRole = "CO_OWNER"
	RoleModerator RoomRole = "MODERATOR"
	RoleMember    RoomRole = "MEMBER"
	RoleGuest     RoomRole = "GUEST"
)

// Prefixes distinguishing authenticated users from guests in the
// provider-side attendee identifier. The broker assigns these at join
// time and the attendance tracker parses them back.
const (
	UserIDPrefix    = "u-"
	SessionIDPrefix = "gs-"
)

// JoinRequest carries the acting identity and its consent flags.
type JoinRequest struct {
	UserID string // empty for guests
	Name   string
	Email  string
	Role   RoomRole

	ConsentRecord           bool
	ConsentRecordAttendance bool
	ConsentStreaming        bool
}

// RoomLocker is the room-scoped mutual exclusion primitive guarding
// start(). Only start takes it; join/end/sweep interleave freely on
// committed meeting rows.
type RoomLocker interface {
	Acquire(ctx context.Context, roomID string, wait time.Duration) (func(ctx context.Context) error, error)
}

// PresentationStore lists the documents to attach at creation time.
type PresentationStore interface {
	RoomDocuments(ctx context.Context, roomID uuid.UUID) ([]bbb.Document, error)
}

// MeetingService drives the meeting state machine:
// none -> starting -> running -> {detached -> running | ended}.
type MeetingService struct {
	rooms     repository.RoomRepository
	meetings  repository.MeetingRepository
	attendees repository.AttendeeRepository
	servers   repository.ServerRepository

	selector      *SelectorService
	health        *HealthService
	api           bbb.API
	locker        RoomLocker
	presentations PresentationStore
	publisher     events.Publisher

	providerCfg config.ProviderConfig
	publicURL   string
	log         *logger.Logger
}

func NewMeetingService(
	rooms repository.RoomRepository,
	meetings repository.MeetingRepository,
	attendees repository.AttendeeRepository,
	servers repository.ServerRepository,
	selector *SelectorService,
	health *HealthService,
	api bbb.API,
	locker RoomLocker,
	presentations PresentationStore,
	publisher events.Publisher,
	providerCfg config.ProviderConfig,
	publicURL string,
	log *logger.Logger,
) *MeetingService {
	return &MeetingService{
		rooms:         rooms,
		meetings:      meetings,
		attendees:     attendees,
		servers:       servers,
		selector:      selector,
		health:        health,
		api:           api,
		locker:        locker,
		presentations: presentations,
		publisher:     publisher,
		providerCfg:   providerCfg,
		publicURL:     publicURL,
		log:           log,
	}
}

// Start brings the room's meeting up if nothing is running and returns a
// join URL. Idempotent: a concurrent or previous start short-circuits to
// the join flow. The room lock is held from parameter building through
// meeting-row creation; its wait bound equals the worst-case provider
// call so a blocked second caller fails fast with ErrConcurrentStart.
func (s *MeetingService) Start(ctx context.Context, roomID uuid.UUID, req JoinRequest) (string, error) {
	rm, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return "", err
	}

	unlock, err := s.locker.Acquire(ctx, rm.ID.String(), s.providerCfg.LockWait())
	if err != nil {
		if errors.Is(err, brokerredis.ErrNotAcquired) {
			return "", broker_errors.ErrConcurrentStart
		}
		return "", err
	}
	defer func() {
		if err := unlock(ctx); err != nil {
			s.log.Warnf("releasing room lock %s: %v", rm.ID, err)
		}
	}()

	_, err = s.meetings.GetCurrentByRoom(ctx, rm.ID)
	if err == nil {
		// Already running or starting: no duplicate create.
		return s.Join(ctx, roomID, req)
	}
	if !errors.Is(err, broker_errors.ErrNotFound) {
		return "", err
	}

	srv, err := s.selector.SelectServer(ctx, rm.PoolID)
	if err != nil {
		return "", err
	}

	sequence, err := s.meetings.NextSequence(ctx, rm.ID)
	if err != nil {
		return "", err
	}

	meetingID := uuid.New().String()
	params := s.buildCreateParams(ctx, &rm, srv, meetingID)

	resp, err := s.api.CreateMeeting(ctx, serverRef(srv), params)
	if err != nil {
		// Transport failure: the server, not the room, is suspect.
		if herr := s.health.RecordFailure(ctx, &srv); herr != nil {
			s.log.Errorf("recording failure for server %s: %v", srv.ID, herr)
		}
		return "", fmt.Errorf("%w: %v", broker_errors.ErrStartFailed, err)
	}
	if !resp.OK() {
		if resp.AuthFailure() {
			if herr := s.health.RecordFailure(ctx, &srv); herr != nil {
				s.log.Errorf("recording failure for server %s: %v", srv.ID, herr)
			}
		}
		return "", fmt.Errorf("%w: %s", broker_errors.ErrStartFailed, resp.MessageKey)
	}
	if resp.MeetingID != "" {
		meetingID = resp.MeetingID
	}

	now := time.Now()
	m := meeting.Meeting{
		ID:               meetingID,
		RoomID:           rm.ID,
		ServerID:         uuid.NullUUID{UUID: srv.ID, Valid: true},
		Start:            sql.NullTime{Time: now, Valid: true},
		Record:           rm.Record,
		RecordAttendance: rm.RecordAttendance,
		Streaming:        rm.Streaming,
		AttendeePW:       resp.AttendeePW,
		ModeratorPW:      resp.ModeratorPW,
		Sequence:         sequence,
	}
	if err := s.meetings.Create(ctx, &m); err != nil {
		return "", err
	}

	s.publish(ctx, events.Event{
		Type:      events.MeetingStarted,
		RoomID:    rm.ID.String(),
		MeetingID: m.ID,
		ServerID:  srv.ID.String(),
		At:        now,
	})

	// Fresh creation: the meeting is known alive, no provider re-check.
	return s.joinURL(&rm, &m, srv, req)
}

// Join hands out a join URL for the room's current meeting. The provider
// is re-asked whether the meeting is actually alive; a transport failure
// here is a transient JoinFailed, never proof the meeting is down.
func (s *MeetingService) Join(ctx context.Context, roomID uuid.UUID, req JoinRequest) (string, error) {
	rm, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return "", err
	}
	m, err := s.meetings.GetCurrentByRoom(ctx, rm.ID)
	if err != nil {
		if errors.Is(err, broker_errors.ErrNotFound) {
			return "", broker_errors.ErrRoomNotRunning
		}
		return "", err
	}

	// Detached means unreachable, null start means a creation race still
	// in flight; neither is safe to hand out and neither needs a call.
	if m.Detached.Valid || !m.Start.Valid {
		return "", broker_errors.ErrRoomNotRunning
	}
	if !m.ServerID.Valid {
		return "", broker_errors.ErrRoomNotRunning
	}
	srv, err := s.servers.GetByID(ctx, m.ServerID.UUID)
	if err != nil {
		return "", err
	}

	info, err := s.api.GetMeetingInfo(ctx, serverRef(srv), m.ID)
	if err != nil {
		if herr := s.health.RecordFailure(ctx, &srv); herr != nil {
			s.log.Errorf("recording failure for server %s: %v", srv.ID, herr)
		}
		return "", fmt.Errorf("%w: %v", broker_errors.ErrJoinFailed, err)
	}
	if info.AuthFailure() {
		// A bad checksum says nothing about the meeting; the secret is
		// wrong. Charge the server, never the meeting.
		if herr := s.health.RecordFailure(ctx, &srv); herr != nil {
			s.log.Errorf("recording failure for server %s: %v", srv.ID, herr)
		}
		return "", fmt.Errorf("%w: %s", broker_errors.ErrJoinFailed, info.MessageKey)
	}
	if !info.OK() || !info.Running {
		// The provider does not know the meeting; ghost. Force-end and
		// report the room as not running.
		if err := s.End(ctx, m, true); err != nil {
			s.log.Errorf("force-ending ghost meeting %s: %v", m.ID, err)
		}
		return "", broker_errors.ErrRoomNotRunning
	}

	return s.joinURL(&rm, &m, srv, req)
}

// End transitions a meeting to its terminal state and closes every open
// attendee session with it. Idempotent: ending an ended meeting is a
// no-op. With force set the provider is not contacted — used when the
// provider already does not know the meeting (ghosts, callbacks) or
// cannot be reached.
func (s *MeetingService) End(ctx context.Context, m meeting.Meeting, force bool) error {
	if m.Ended() {
		return nil
	}

	if !force && m.ServerID.Valid {
		srv, err := s.servers.GetByID(ctx, m.ServerID.UUID)
		if err != nil {
			return err
		}
		resp, err := s.api.EndMeeting(ctx, serverRef(srv), m.ID)
		if err != nil {
			if herr := s.health.RecordFailure(ctx, &srv); herr != nil {
				s.log.Errorf("recording failure for server %s: %v", srv.ID, herr)
			}
			// Propagated unchanged; the caller decides whether one stuck
			// meeting is fatal.
			return err
		}
		if !resp.OK() {
			// Provider already forgot the meeting; proceed with the local end.
			s.log.Warnf("provider end for meeting %s: %s", m.ID, resp.MessageKey)
		}
	}

	now := time.Now()
	m.End = sql.NullTime{Time: now, Valid: true}
	if err := s.meetings.Update(ctx, m); err != nil {
		return err
	}
	if err := s.attendees.CloseOpenByMeeting(ctx, m.ID, now); err != nil {
		return err
	}
	if err := s.rooms.UpdateLiveUsage(ctx, m.RoomID, sql.NullInt32{}); err != nil {
		s.log.Warnf("clearing live usage for room %s: %v", m.RoomID, err)
	}

	s.publish(ctx, events.Event{
		Type:      events.MeetingEnded,
		RoomID:    m.RoomID.String(),
		MeetingID: m.ID,
		At:        now,
	})
	return nil
}

// RoomStatus summarizes what the broker currently believes about a room.
type RoomStatus struct {
	Running          bool
	Detached         bool
	MeetingID        string
	ParticipantCount *int
}

// Status answers from local state only; the provider is not contacted.
func (s *MeetingService) Status(ctx context.Context, roomID uuid.UUID) (RoomStatus, error) {
	rm, err := s.rooms.GetByID(ctx, roomID)
	if err != nil {
		return RoomStatus{}, err
	}
	m, err := s.meetings.GetCurrentByRoom(ctx, rm.ID)
	if err != nil {
		if errors.Is(err, broker_errors.ErrNotFound) {
			return RoomStatus{}, nil
		}
		return RoomStatus{}, err
	}

	status := RoomStatus{
		Running:   m.Running(),
		Detached:  m.Detached.Valid,
		MeetingID: m.ID,
	}
	if rm.LiveParticipantCount.Valid {
		count := int(rm.LiveParticipantCount.Int32)
		status.ParticipantCount = &count
	}
	return status, nil
}

// DetachAllOnServer marks every running meeting on an unreachable server
// as detached: presumed alive, but unconfirmable and unterminable until
// the server comes back.
func (s *MeetingService) DetachAllOnServer(ctx context.Context, serverID uuid.UUID) error {
	count, err := s.meetings.DetachRunningByServer(ctx, serverID, time.Now())
	if err != nil {
		return err
	}
	if count > 0 {
		s.log.Warnf("detached %d meetings on server %s", count, serverID)
	}
	return nil
}

// RecoverDetached attempts to end every detached meeting of a recovered
// server. Attempts are independent; a failure leaves that meeting
// detached for the next recovery event and never blocks the others.
func (s *MeetingService) RecoverDetached(ctx context.Context, serverID uuid.UUID) {
	detached, err := s.meetings.ListDetachedByServer(ctx, serverID)
	if err != nil {
		s.log.Errorf("listing detached meetings on server %s: %v", serverID, err)
		return
	}
	for _, m := range detached {
		if err := s.End(ctx, m, false); err != nil {
			s.log.Warnf("ending detached meeting %s: %v", m.ID, err)
		}
	}
}

// PanicServer ends every meeting the database has on the server,
// ignoring individual failures. Operator-facing last resort.
func (s *MeetingService) PanicServer(ctx context.Context, serverID uuid.UUID) (ended int, failed int) {
	running, err := s.meetings.ListRunningByServer(ctx, serverID)
	if err != nil {
		s.log.Errorf("listing meetings on server %s: %v", serverID, err)
		return 0, 0
	}
	for _, m := range running {
		if err := s.End(ctx, m, false); err != nil {
			s.log.Warnf("panic-ending meeting %s: %v", m.ID, err)
			failed++
			continue
		}
		ended++
	}
	return ended, failed
}

func (s *MeetingService) buildCreateParams(ctx context.Context, rm *room.Room, srv server.Server, meetingID string) *bbb.CreateParams {
	params := &bbb.CreateParams{
		MeetingID:   meetingID,
		Name:        rm.Name,
		Record:      rm.Record,
		MuteOnStart: rm.MuteOnStart,
		GuestPolicy: guestPolicy(rm),
		Welcome:     rm.WelcomeMessage,
		CallbackURL: s.callbackURL(srv, meetingID),

		LockSettingsDisableCam:         rm.LockDisableCam,
		LockSettingsDisableMic:         rm.LockDisableMic,
		LockSettingsDisablePrivateChat: rm.LockDisablePrivChat,
		LockSettingsDisablePublicChat:  rm.LockDisablePublicChat,
		LockSettingsDisableNotes:       rm.LockDisableNotes,
		LockSettingsHideUserList:       rm.LockHideUserList,

		Meta: map[string]string{
			"roombroker-room":  rm.ID.String(),
			"roombroker-owner": rm.OwnerName,
		},
	}
	if rm.MaxParticipants.Valid {
		params.MaxParticipants = int(rm.MaxParticipants.Int32)
	}
	if rm.MaxDuration.Valid {
		params.Duration = int(rm.MaxDuration.Int32)
	}

	if s.presentations != nil {
		documents, err := s.presentations.RoomDocuments(ctx, rm.ID)
		if err != nil {
			// Missing slides must not block the meeting.
			s.log.Warnf("loading presentations for room %s: %v", rm.ID, err)
		} else {
			params.Documents = documents
		}
	}

	overrides, warnings := bbb.PatchCreateParams(rm.CreateParameters)
	for _, warning := range warnings {
		s.log.Warnf("room %s create parameter override: %s", rm.ID, warning)
	}
	params.Overrides = overrides
	return params
}

func (s *MeetingService) joinURL(rm *room.Room, m *meeting.Meeting, srv server.Server, req JoinRequest) (string, error) {
	if err := checkConsent(m, req); err != nil {
		return "", err
	}

	params := &bbb.JoinParams{
		FullName: req.Name,
		Role:     joinRole(rm, req.Role),
		Userdata: map[string]string{},
	}
	if req.UserID != "" {
		params.UserID = UserIDPrefix + req.UserID
	} else {
		params.UserID = SessionIDPrefix + newSessionID()
		params.Guest = true
	}

	// Consent flags travel as opaque userdata only for features that were
	// active for this meeting at start time.
	if m.Record {
		params.Userdata["record-consent"] = "true"
	}
	if m.RecordAttendance {
		params.Userdata["attendance-consent"] = "true"
	}
	if m.Streaming {
		params.Userdata["streaming-consent"] = "true"
	}

	overrides, warnings := bbb.PatchJoinParams(rm.JoinParameters)
	for _, warning := range warnings {
		s.log.Warnf("room %s join parameter override: %s", rm.ID, warning)
	}
	params.Overrides = overrides

	return s.api.JoinURL(serverRef(srv), m.ID, params), nil
}

// checkConsent validates the request's consent flags against the
// meeting's frozen flags. The frozen flag governs; the room's current
// settings are irrelevant for an already-running meeting.
func checkConsent(m *meeting.Meeting, req JoinRequest) error {
	if m.Record && !req.ConsentRecord {
		return fmt.Errorf("%w: recording", broker_errors.ErrConsentRequired)
	}
	if m.RecordAttendance && !req.ConsentRecordAttendance {
		return fmt.Errorf("%w: attendance recording", broker_errors.ErrConsentRequired)
	}
	if m.Streaming && !req.ConsentStreaming {
		return fmt.Errorf("%w: streaming", broker_errors.ErrConsentRequired)
	}
	return nil
}

func joinRole(rm *room.Room, role RoomRole) bbb.Role {
	switch role {
	case RoleOwner, RoleCoOwner, RoleModerator:
		return bbb.RoleModerator
	case RoleGuest:
		if rm.GuestRole == room.GuestRoleModerator {
			return bbb.RoleModerator
		}
		return bbb.RoleViewer
	default:
		return bbb.RoleViewer
	}
}

func guestPolicy(rm *room.Room) string {
	switch {
	case rm.Lobby:
		return "ASK_MODERATOR"
	case rm.AllowGuests:
		return "ALWAYS_ACCEPT"
	default:
		return "ALWAYS_DENY"
	}
}

func (s *MeetingService) callbackURL(srv server.Server, meetingID string) string {
	if s.publicURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/callback/%s?salt=%s", s.publicURL, meetingID, CallbackSalt(meetingID, srv.Secret))
}

// HandleEndCallback processes the provider's end-of-meeting webhook. The
// salt must match the HMAC of the meeting id under the assigned server's
// secret. The end transition is idempotent; a callback for an
// already-ended meeting still succeeds.
func (s *MeetingService) HandleEndCallback(ctx context.Context, meetingID, salt string) error {
	m, err := s.meetings.GetByID(ctx, meetingID)
	if err != nil {
		return err
	}
	if !m.ServerID.Valid {
		return broker_errors.ErrUnauthorized
	}
	srv, err := s.servers.GetByID(ctx, m.ServerID.UUID)
	if err != nil {
		return err
	}
	expected := CallbackSalt(m.ID, srv.Secret)
	if !hmac.Equal([]byte(expected), []byte(salt)) {
		return broker_errors.ErrUnauthorized
	}
	// The provider initiated this; it already forgot the meeting.
	return s.End(ctx, m, true)
}

// CallbackSalt authenticates the provider's end-of-meeting callback:
// HMAC-SHA256 over the meeting id, keyed with the server's shared secret.
func CallbackSalt(meetingID, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(meetingID))
	return hex.EncodeToString(mac.Sum(nil))
}

func (s *MeetingService) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warnf("publishing %s event: %v", event.Type, err)
	}
}

func serverRef(srv server.Server) bbb.ServerRef {
	return bbb.ServerRef{BaseURL: srv.BaseURL, Secret: srv.Secret}
}

func newSessionID() string {
	buf := make([]byte, 12)
	if _, err := rand.Read(buf); err != nil {
		return uuid.New().String()
	}
	return hex.EncodeToString(buf)
}
