package services

import (
	"context"
	"database/sql"
	"errors"
	"sync"

	"roombroker/internal/bbb"
	"roombroker/internal/config"
	"roombroker/internal/domain/meeting"
	"roombroker/internal/domain/server"
	"roombroker/internal/repository"
	broker_errors "roombroker/pkg/errors"
	"roombroker/pkg/logger"

	"github.com/google/uuid"
	"github.com/samber/lo"
)

// ReconcilerService reconciles the database's belief about running
// meetings against each server's ground truth, once per server per sweep.
// Sweeps of different servers never contend; a sweep may race a start on
// the same server and both sides tolerate it (a meeting unknown to both
// sets is simply skipped this cycle, a meeting only the provider knows is
// foreign, not a ghost).
type ReconcilerService struct {
	servers    repository.ServerRepository
	meetings   repository.MeetingRepository
	rooms      repository.RoomRepository
	stats      repository.StatRepository
	attendance *AttendanceService
	lifecycle  *MeetingService
	health     *HealthService
	api        bbb.API
	cfg        config.FleetConfig
	log        *logger.Logger
}

func NewReconcilerService(
	servers repository.ServerRepository,
	meetings repository.MeetingRepository,
	rooms repository.RoomRepository,
	stats repository.StatRepository,
	attendance *AttendanceService,
	lifecycle *MeetingService,
	health *HealthService,
	api bbb.API,
	cfg config.FleetConfig,
	log *logger.Logger,
) *ReconcilerService {
	return &ReconcilerService{
		servers:    servers,
		meetings:   meetings,
		rooms:      rooms,
		stats:      stats,
		attendance: attendance,
		lifecycle:  lifecycle,
		health:     health,
		api:        api,
		cfg:        cfg,
		log:        log,
	}
}

// SweepAll reconciles every server, one goroutine per server.
func (s *ReconcilerService) SweepAll(ctx context.Context) {
	servers, err := s.servers.List(ctx)
	if err != nil {
		s.log.Errorf("listing servers for sweep: %v", err)
		return
	}
	var wg sync.WaitGroup
	for _, srv := range servers {
		wg.Add(1)
		go func(id uuid.UUID) {
			defer wg.Done()
			if err := s.Sweep(ctx, id); err != nil {
				s.log.Errorf("sweeping server %s: %v", id, err)
			}
		}(srv.ID)
	}
	wg.Wait()
}

// Sweep reconciles one server. Disabled servers are skipped entirely;
// draining servers keep being swept until their last meeting ends.
func (s *ReconcilerService) Sweep(ctx context.Context, serverID uuid.UUID) error {
	srv, err := s.servers.GetByID(ctx, serverID)
	if err != nil {
		return err
	}
	if srv.Status == server.StatusDisabled {
		return nil
	}

	reported, err := s.api.GetMeetings(ctx, serverRef(srv))
	if err != nil {
		return s.sweepFailed(ctx, &srv, err)
	}
	return s.sweepSucceeded(ctx, &srv, reported)
}

func (s *ReconcilerService) sweepFailed(ctx context.Context, srv *server.Server, cause error) error {
	s.log.Warnf("server %s unreachable during sweep: %v", srv.ID, cause)

	// RecordFailure clears the server's usage snapshot and, on the
	// transition to offline, detaches all of its running meetings.
	if err := s.health.RecordFailure(ctx, srv); err != nil {
		return err
	}
	if srv.Health == server.HealthOffline {
		// Visible "currently live" counters must not show stale numbers
		// for rooms whose meeting just became unreachable.
		if err := s.rooms.ClearLiveUsageByServer(ctx, srv.ID); err != nil {
			s.log.Errorf("clearing room usage for server %s: %v", srv.ID, err)
		}
	}
	if s.cfg.StatsEnabled {
		stat := &server.ServerStat{ServerID: srv.ID}
		if err := s.stats.CreateServerStat(ctx, stat); err != nil {
			s.log.Warnf("archiving server stat for %s: %v", srv.ID, err)
		}
	}
	return nil
}

func (s *ReconcilerService) sweepSucceeded(ctx context.Context, srv *server.Server, reported []bbb.RunningMeeting) error {
	// The provider may report the same id twice mid-transition.
	entries := lo.UniqBy(reported, func(m bbb.RunningMeeting) string { return m.MeetingID })

	var participants, listeners, voice, video int
	for _, entry := range entries {
		// Breakout rooms count as meetings but their participants are
		// already part of the parent meeting's totals.
		if entry.IsBreakout {
			continue
		}
		participants += entry.ParticipantCount
		listeners += entry.ListenerCount
		voice += entry.VoiceCount
		video += entry.VideoCount
	}

	reportedIDs := make(map[string]struct{}, len(entries))
	for _, entry := range entries {
		reportedIDs[entry.MeetingID] = struct{}{}

		local, err := s.meetings.GetByID(ctx, entry.MeetingID)
		if err != nil {
			if errors.Is(err, broker_errors.ErrNotFound) {
				// Started by another system against the same server.
				continue
			}
			s.log.Errorf("loading meeting %s: %v", entry.MeetingID, err)
			continue
		}

		count := sql.NullInt32{Int32: int32(entry.ParticipantCount), Valid: true}
		if err := s.rooms.UpdateLiveUsage(ctx, local.RoomID, count); err != nil {
			s.log.Warnf("updating live usage for room %s: %v", local.RoomID, err)
		}

		if local.RecordAttendance && !local.Ended() {
			if err := s.attendance.Reconcile(ctx, &local, entry.Attendees); err != nil {
				s.log.Errorf("reconciling attendance for meeting %s: %v", local.ID, err)
			}
		}

		if s.cfg.StatsEnabled {
			stat := &meeting.MeetingStat{
				MeetingID:             local.ID,
				ParticipantCount:      entry.ParticipantCount,
				ListenerCount:         entry.ListenerCount,
				VoiceParticipantCount: entry.VoiceCount,
				VideoCount:            entry.VideoCount,
			}
			if err := s.stats.CreateMeetingStat(ctx, stat); err != nil {
				s.log.Warnf("archiving meeting stat for %s: %v", local.ID, err)
			}
		}
	}

	// Ghosts: the database believes these run on this server, the server
	// disagrees. Force-end without contacting the provider again.
	running, err := s.meetings.ListRunningByServer(ctx, srv.ID)
	if err != nil {
		return err
	}
	ghosts := lo.Filter(running, func(m meeting.Meeting, _ int) bool {
		_, present := reportedIDs[m.ID]
		return !present
	})
	for _, ghost := range ghosts {
		s.log.Warnf("meeting %s is a ghost on server %s, force-ending", ghost.ID, srv.ID)
		if err := s.lifecycle.End(ctx, ghost, true); err != nil {
			s.log.Errorf("force-ending ghost meeting %s: %v", ghost.ID, err)
		}
	}

	srv.ParticipantCount = sql.NullInt32{Int32: int32(participants), Valid: true}
	srv.ListenerCount = sql.NullInt32{Int32: int32(listeners), Valid: true}
	srv.VoiceParticipantCount = sql.NullInt32{Int32: int32(voice), Valid: true}
	srv.VideoCount = sql.NullInt32{Int32: int32(video), Valid: true}
	srv.MeetingCount = sql.NullInt32{Int32: int32(len(entries)), Valid: true}
	// Load is the participant total plus a base cost for every open
	// meeting, so an empty-but-open meeting still counts against the
	// server. Breakouts are excluded from the participant total (already
	// part of the parent's numbers) but pay the base cost like any other
	// open room.
	srv.Load = sql.NullInt64{Int64: int64(participants + len(entries)), Valid: true}

	version, err := s.api.GetVersion(ctx, serverRef(*srv))
	if err != nil {
		s.log.Warnf("probing version of server %s: %v", srv.ID, err)
		version = ""
	}

	if err := s.health.RecordSuccess(ctx, srv, version); err != nil {
		return err
	}
	if s.cfg.StatsEnabled {
		stat := &server.ServerStat{
			ServerID:              srv.ID,
			ParticipantCount:      participants,
			ListenerCount:         listeners,
			VoiceParticipantCount: voice,
			VideoCount:            video,
			MeetingCount:          len(entries),
		}
		if err := s.stats.CreateServerStat(ctx, stat); err != nil {
			s.log.Warnf("archiving server stat for %s: %v", srv.ID, err)
		}
	}

	// RecordSuccess already checks, but a force-ended ghost may have been
	// the draining server's last meeting.
	return s.health.CheckDraining(ctx, srv)
}
