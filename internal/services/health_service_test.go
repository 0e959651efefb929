package services

import (
	"context"
	"database/sql"
	"testing"

	"roombroker/internal/config"
	"roombroker/internal/domain/meeting"
	"roombroker/internal/domain/server"
	"roombroker/internal/events"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHealthFor(t *testing.T) {
	cfg := config.FleetConfig{OfflineThreshold: 3, OnlineThreshold: 3}

	cases := []struct {
		name     string
		errors   int
		recovers int
		want     server.Health
	}{
		{"fresh server", 0, 0, server.HealthOnline},
		{"one failure", 1, 0, server.HealthUnhealthy},
		{"two failures", 2, 0, server.HealthUnhealthy},
		{"at offline threshold", 3, 0, server.HealthOffline},
		{"beyond offline threshold", 5, 0, server.HealthOffline},
		{"partially recovered", 3, 1, server.HealthUnhealthy},
		{"almost recovered", 3, 2, server.HealthUnhealthy},
		{"fully recovered", 3, 3, server.HealthOnline},
		{"recovery credit without failures", 0, 5, server.HealthOnline},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, HealthFor(tc.errors, tc.recovers, cfg))
		})
	}
}

func TestRecordFailureTransitionsToOffline(t *testing.T) {
	st := newStack()
	ctx := context.Background()
	srv := st.addServer(func(s *server.Server) {
		s.Load = sql.NullInt64{Int64: 10, Valid: true}
		s.MeetingCount = sql.NullInt32{Int32: 2, Valid: true}
	})
	st.meetings.add(meeting.Meeting{
		ID:       "m-1",
		RoomID:   uuid.New(),
		ServerID: uuid.NullUUID{UUID: srv.ID, Valid: true},
		Start:    sql.NullTime{Time: nowMinus(0), Valid: true},
	})

	for i := 0; i < 2; i++ {
		require.NoError(t, st.health.RecordFailure(ctx, &srv))
	}
	assert.Equal(t, server.HealthUnhealthy, srv.Health)
	assert.Equal(t, 2, srv.ErrorCount)
	assert.False(t, srv.Load.Valid, "usage snapshot must be cleared on failure")

	require.NoError(t, st.health.RecordFailure(ctx, &srv))
	assert.Equal(t, server.HealthOffline, srv.Health)

	m, ok := st.meetings.get("m-1")
	require.True(t, ok)
	assert.True(t, m.Detached.Valid, "offline transition must detach running meetings")
	assert.False(t, m.End.Valid)

	require.Len(t, st.publisher.byType(events.ServerOffline), 1)

	// Further failures must not grow the counter without bound.
	require.NoError(t, st.health.RecordFailure(ctx, &srv))
	require.NoError(t, st.health.RecordFailure(ctx, &srv))
	assert.Equal(t, 3, srv.ErrorCount)
	assert.Len(t, st.publisher.byType(events.ServerOffline), 1, "offline event fires once per transition")
}

func TestRecordSuccessRequiresFullRecovery(t *testing.T) {
	st := newStack()
	ctx := context.Background()
	srv := st.addServer(func(s *server.Server) {
		s.Health = server.HealthOffline
		s.ErrorCount = 3
	})
	st.meetings.add(meeting.Meeting{
		ID:       "m-detached",
		RoomID:   st.addRoom(nil).ID,
		ServerID: uuid.NullUUID{UUID: srv.ID, Valid: true},
		Start:    sql.NullTime{Time: nowMinus(0), Valid: true},
		Detached: sql.NullTime{Time: nowMinus(0), Valid: true},
	})

	require.NoError(t, st.health.RecordSuccess(ctx, &srv, "3.0"))
	require.NoError(t, st.health.RecordSuccess(ctx, &srv, "3.0"))
	assert.Equal(t, server.HealthUnhealthy, srv.Health)
	assert.Equal(t, 3, srv.ErrorCount, "error history survives partial recovery")
	assert.Empty(t, st.publisher.byType(events.ServerRecovered))

	require.NoError(t, st.health.RecordSuccess(ctx, &srv, "3.0"))
	assert.Equal(t, server.HealthOnline, srv.Health)
	assert.Equal(t, 0, srv.ErrorCount)
	assert.Equal(t, "3.0", srv.Version.String)
	require.Len(t, st.publisher.byType(events.ServerRecovered), 1)

	// Recovery force-resolves the meetings detached while it was down.
	m, ok := st.meetings.get("m-detached")
	require.True(t, ok)
	assert.True(t, m.End.Valid, "detached meetings are resolved on recovery")
}

func TestRecordFailureWipesRecoveryCredit(t *testing.T) {
	st := newStack()
	ctx := context.Background()
	srv := st.addServer(func(s *server.Server) {
		s.Health = server.HealthUnhealthy
		s.ErrorCount = 3
		s.RecoverCount = 2
	})

	require.NoError(t, st.health.RecordFailure(ctx, &srv))
	assert.Equal(t, 0, srv.RecoverCount)
	assert.Equal(t, server.HealthOffline, srv.Health)
}

func TestCheckDrainingDisablesIdleServer(t *testing.T) {
	st := newStack()
	ctx := context.Background()
	srv := st.addServer(func(s *server.Server) {
		s.Status = server.StatusDraining
	})
	st.meetings.add(meeting.Meeting{
		ID:       "m-last",
		RoomID:   uuid.New(),
		ServerID: uuid.NullUUID{UUID: srv.ID, Valid: true},
		Start:    sql.NullTime{Time: nowMinus(0), Valid: true},
	})

	require.NoError(t, st.health.CheckDraining(ctx, &srv))
	assert.Equal(t, server.StatusDraining, srv.Status, "drain waits for the last meeting")

	m, _ := st.meetings.get("m-last")
	m.End = sql.NullTime{Time: nowMinus(0), Valid: true}
	st.meetings.add(m)

	require.NoError(t, st.health.CheckDraining(ctx, &srv))
	assert.Equal(t, server.StatusDisabled, srv.Status)
	assert.Equal(t, server.StatusDisabled, st.mustServer(srv.ID).Status)
}
