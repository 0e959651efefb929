package services

import (
	"context"
	"database/sql"
	"time"

	"roombroker/internal/config"
	"roombroker/internal/domain/server"
	"roombroker/internal/events"
	"roombroker/internal/repository"
	"roombroker/pkg/logger"

	"github.com/google/uuid"
)

// LifecycleHooks are the meeting-side reactions to server health
// transitions. Implemented by MeetingService; injected after construction
// because the meeting service also reports into health tracking.
type LifecycleHooks interface {
	DetachAllOnServer(ctx context.Context, serverID uuid.UUID) error
	RecoverDetached(ctx context.Context, serverID uuid.UUID)
}

// HealthService owns the per-server consecutive error/recovery counters
// and the health state derived from them.
type HealthService struct {
	servers   repository.ServerRepository
	meetings  repository.MeetingRepository
	publisher events.Publisher
	cfg       config.FleetConfig
	log       *logger.Logger

	lifecycle LifecycleHooks
}

func NewHealthService(servers repository.ServerRepository, meetings repository.MeetingRepository, publisher events.Publisher, cfg config.FleetConfig, log *logger.Logger) *HealthService {
	return &HealthService{
		servers:   servers,
		meetings:  meetings,
		publisher: publisher,
		cfg:       cfg,
		log:       log,
	}
}

func (s *HealthService) SetLifecycle(hooks LifecycleHooks) {
	s.lifecycle = hooks
}

// HealthFor derives health from the counters. A server with no recorded
// failures is online; one that crossed the offline threshold stays
// offline until recovery credit starts accruing; everything in between,
// including a partially recovered server, is unhealthy.
func HealthFor(errorCount, recoverCount int, cfg config.FleetConfig) server.Health {
	switch {
	case errorCount == 0 || recoverCount >= cfg.OnlineThreshold:
		return server.HealthOnline
	case errorCount >= cfg.OfflineThreshold && recoverCount == 0:
		return server.HealthOffline
	default:
		return server.HealthUnhealthy
	}
}

// RecordFailure registers one failed provider call. The error counter
// stops growing once the server is offline, recovery credit is wiped, and
// the live usage snapshot is cleared since it can no longer be trusted.
// Crossing into offline detaches every running meeting on the server.
func (s *HealthService) RecordFailure(ctx context.Context, srv *server.Server) error {
	previous := srv.Health
	if previous != server.HealthOffline {
		srv.ErrorCount++
	}
	srv.RecoverCount = 0
	srv.ClearUsage()
	srv.Version = sql.NullString{}
	srv.Health = HealthFor(srv.ErrorCount, srv.RecoverCount, s.cfg)

	if err := s.servers.Update(ctx, *srv); err != nil {
		return err
	}

	if previous != server.HealthOffline && srv.Health == server.HealthOffline {
		s.log.Warnf("server %s went offline after %d consecutive failures", srv.ID, srv.ErrorCount)
		if s.lifecycle != nil {
			if err := s.lifecycle.DetachAllOnServer(ctx, srv.ID); err != nil {
				s.log.Errorf("detaching meetings on server %s: %v", srv.ID, err)
			}
		}
		s.publish(ctx, events.Event{Type: events.ServerOffline, ServerID: srv.ID.String(), At: time.Now()})
	}
	return nil
}

// RecordSuccess registers one successful provider call. Recovery credit
// only accrues while not fully online, and the error counter resets only
// once the server is fully recovered, so a single good probe cannot wipe
// a degraded server's history.
func (s *HealthService) RecordSuccess(ctx context.Context, srv *server.Server, version string) error {
	previous := srv.Health
	if previous != server.HealthOnline {
		srv.RecoverCount++
	}
	srv.Health = HealthFor(srv.ErrorCount, srv.RecoverCount, s.cfg)
	if srv.Health == server.HealthOnline {
		srv.ErrorCount = 0
	}
	if version != "" {
		srv.Version = sql.NullString{String: version, Valid: true}
	}

	if err := s.servers.Update(ctx, *srv); err != nil {
		return err
	}

	if previous != server.HealthOnline && srv.Health == server.HealthOnline {
		s.log.Infof("server %s recovered", srv.ID)
		if s.lifecycle != nil {
			s.lifecycle.RecoverDetached(ctx, srv.ID)
		}
		s.publish(ctx, events.Event{Type: events.ServerRecovered, ServerID: srv.ID.String(), At: time.Now()})
	}

	return s.CheckDraining(ctx, srv)
}

// CheckDraining finishes a drain: once a draining server has no running
// meetings left it flips to disabled. Called from both the success path
// and the end of a sweep.
func (s *HealthService) CheckDraining(ctx context.Context, srv *server.Server) error {
	if srv.Status != server.StatusDraining {
		return nil
	}
	count, err := s.meetings.CountRunningByServer(ctx, srv.ID)
	if err != nil {
		return err
	}
	if count > 0 {
		return nil
	}
	srv.Status = server.StatusDisabled
	s.log.Infof("server %s drained, disabling", srv.ID)
	return s.servers.Update(ctx, *srv)
}

func (s *HealthService) publish(ctx context.Context, event events.Event) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warnf("publishing %s event: %v", event.Type, err)
	}
}
