package services

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"roombroker/internal/bbb"
	"roombroker/internal/config"
	"roombroker/internal/domain/meeting"
	"roombroker/internal/domain/room"
	"roombroker/internal/domain/server"
	"roombroker/internal/events"
	brokerredis "roombroker/internal/redis"
	broker_errors "roombroker/pkg/errors"
	"roombroker/pkg/logger"

	"github.com/google/uuid"
)

type fakeServerRepo struct {
	mu      sync.Mutex
	servers map[uuid.UUID]server.Server
	pools   map[uuid.UUID]uuid.UUID // server id -> pool id
}

func newFakeServerRepo() *fakeServerRepo {
	return &fakeServerRepo{
		servers: make(map[uuid.UUID]server.Server),
		pools:   make(map[uuid.UUID]uuid.UUID),
	}
}

func (r *fakeServerRepo) add(srv server.Server, poolID uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.servers[srv.ID] = srv
	r.pools[srv.ID] = poolID
}

func (r *fakeServerRepo) GetByID(_ context.Context, id uuid.UUID) (server.Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	srv, ok := r.servers[id]
	if !ok {
		return server.Server{}, broker_errors.ErrNotFound
	}
	return srv, nil
}

func (r *fakeServerRepo) List(_ context.Context) ([]server.Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []server.Server
	for _, srv := range r.servers {
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *fakeServerRepo) ListCandidates(_ context.Context, poolID uuid.UUID) ([]server.Server, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []server.Server
	for id, srv := range r.servers {
		if r.pools[id] != poolID {
			continue
		}
		if srv.Status != server.StatusEnabled || srv.Health == server.HealthOffline {
			continue
		}
		out = append(out, srv)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.String() < out[j].ID.String() })
	return out, nil
}

func (r *fakeServerRepo) Update(_ context.Context, srv server.Server) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.servers[srv.ID]; !ok {
		return broker_errors.ErrNotFound
	}
	r.servers[srv.ID] = srv
	return nil
}

type fakeRoomRepo struct {
	mu             sync.Mutex
	rooms          map[uuid.UUID]room.Room
	clearedServers []uuid.UUID
}

func newFakeRoomRepo() *fakeRoomRepo {
	return &fakeRoomRepo{rooms: make(map[uuid.UUID]room.Room)}
}

func (r *fakeRoomRepo) add(rm room.Room) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rooms[rm.ID] = rm
}

func (r *fakeRoomRepo) GetByID(_ context.Context, id uuid.UUID) (room.Room, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[id]
	if !ok {
		return room.Room{}, broker_errors.ErrNotFound
	}
	return rm, nil
}

func (r *fakeRoomRepo) UpdateLiveUsage(_ context.Context, roomID uuid.UUID, participants sql.NullInt32) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rm, ok := r.rooms[roomID]
	if !ok {
		return broker_errors.ErrNotFound
	}
	rm.LiveParticipantCount = participants
	r.rooms[roomID] = rm
	return nil
}

func (r *fakeRoomRepo) ClearLiveUsageByServer(_ context.Context, serverID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clearedServers = append(r.clearedServers, serverID)
	for id, rm := range r.rooms {
		rm.LiveParticipantCount = sql.NullInt32{}
		r.rooms[id] = rm
	}
	return nil
}

type fakeMeetingRepo struct {
	mu       sync.Mutex
	meetings map[string]meeting.Meeting
}

func newFakeMeetingRepo() *fakeMeetingRepo {
	return &fakeMeetingRepo{meetings: make(map[string]meeting.Meeting)}
}

func (r *fakeMeetingRepo) add(m meeting.Meeting) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meetings[m.ID] = m
}

func (r *fakeMeetingRepo) get(id string) (meeting.Meeting, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[id]
	return m, ok
}

func (r *fakeMeetingRepo) Create(_ context.Context, m *meeting.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.meetings[m.ID]; ok {
		return broker_errors.ErrAlreadyExists
	}
	m.CreatedAt = time.Now()
	r.meetings[m.ID] = *m
	return nil
}

func (r *fakeMeetingRepo) GetByID(_ context.Context, id string) (meeting.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.meetings[id]
	if !ok {
		return meeting.Meeting{}, broker_errors.ErrNotFound
	}
	return m, nil
}

func (r *fakeMeetingRepo) GetCurrentByRoom(_ context.Context, roomID uuid.UUID) (meeting.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var current *meeting.Meeting
	for _, m := range r.meetings {
		if m.RoomID != roomID || m.End.Valid {
			continue
		}
		m := m
		if current == nil || m.CreatedAt.After(current.CreatedAt) {
			current = &m
		}
	}
	if current == nil {
		return meeting.Meeting{}, broker_errors.ErrNotFound
	}
	return *current, nil
}

func (r *fakeMeetingRepo) ListRunningByServer(_ context.Context, serverID uuid.UUID) ([]meeting.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []meeting.Meeting
	for _, m := range r.meetings {
		if m.ServerID.Valid && m.ServerID.UUID == serverID && !m.End.Valid && m.Start.Valid {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMeetingRepo) ListDetachedByServer(_ context.Context, serverID uuid.UUID) ([]meeting.Meeting, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []meeting.Meeting
	for _, m := range r.meetings {
		if m.ServerID.Valid && m.ServerID.UUID == serverID && !m.End.Valid && m.Detached.Valid {
			out = append(out, m)
		}
	}
	return out, nil
}

func (r *fakeMeetingRepo) DetachRunningByServer(_ context.Context, serverID uuid.UUID, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for id, m := range r.meetings {
		if m.ServerID.Valid && m.ServerID.UUID == serverID && !m.End.Valid && !m.Detached.Valid {
			m.Detached = sql.NullTime{Time: at, Valid: true}
			r.meetings[id] = m
			count++
		}
	}
	return count, nil
}

func (r *fakeMeetingRepo) CountRunningByServer(_ context.Context, serverID uuid.UUID) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var count int64
	for _, m := range r.meetings {
		if m.ServerID.Valid && m.ServerID.UUID == serverID && !m.End.Valid {
			count++
		}
	}
	return count, nil
}

func (r *fakeMeetingRepo) NextSequence(_ context.Context, roomID uuid.UUID) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	max := 0
	for _, m := range r.meetings {
		if m.RoomID == roomID && m.Sequence > max {
			max = m.Sequence
		}
	}
	return max + 1, nil
}

func (r *fakeMeetingRepo) Update(_ context.Context, m meeting.Meeting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.meetings[m.ID]; !ok {
		return broker_errors.ErrNotFound
	}
	r.meetings[m.ID] = m
	return nil
}

type fakeAttendeeRepo struct {
	mu          sync.Mutex
	rows        map[uuid.UUID]meeting.Attendee
	createCalls int
	updateCalls int
}

func newFakeAttendeeRepo() *fakeAttendeeRepo {
	return &fakeAttendeeRepo{rows: make(map[uuid.UUID]meeting.Attendee)}
}

func (r *fakeAttendeeRepo) Create(_ context.Context, a *meeting.Attendee) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	r.rows[a.ID] = *a
	r.createCalls++
	return nil
}

func (r *fakeAttendeeRepo) Update(_ context.Context, a meeting.Attendee) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.rows[a.ID]; !ok {
		return broker_errors.ErrNotFound
	}
	r.rows[a.ID] = a
	r.updateCalls++
	return nil
}

func (r *fakeAttendeeRepo) ListByMeeting(_ context.Context, meetingID string) ([]meeting.Attendee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []meeting.Attendee
	for _, a := range r.rows {
		if a.MeetingID == meetingID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Join.Before(out[j].Join) })
	return out, nil
}

func (r *fakeAttendeeRepo) ListOpenByMeeting(_ context.Context, meetingID string) ([]meeting.Attendee, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []meeting.Attendee
	for _, a := range r.rows {
		if a.MeetingID == meetingID && !a.Leave.Valid {
			out = append(out, a)
		}
	}
	return out, nil
}

func (r *fakeAttendeeRepo) CloseOpenByMeeting(_ context.Context, meetingID string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range r.rows {
		if a.MeetingID == meetingID && !a.Leave.Valid {
			a.Leave = sql.NullTime{Time: at, Valid: true}
			r.rows[id] = a
		}
	}
	return nil
}

type fakeStatRepo struct {
	mu           sync.Mutex
	serverStats  []server.ServerStat
	meetingStats []meeting.MeetingStat
}

func (r *fakeStatRepo) CreateServerStat(_ context.Context, stat *server.ServerStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.serverStats = append(r.serverStats, *stat)
	return nil
}

func (r *fakeStatRepo) CreateMeetingStat(_ context.Context, stat *meeting.MeetingStat) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meetingStats = append(r.meetingStats, *stat)
	return nil
}

// fakeAPI substitutes the provider. Unset functions behave like a healthy
// empty server.
type fakeAPI struct {
	createFn   func(srv bbb.ServerRef, params *bbb.CreateParams) (*bbb.CreateResponse, error)
	endFn      func(srv bbb.ServerRef, meetingID string) (*bbb.EndResponse, error)
	infoFn     func(srv bbb.ServerRef, meetingID string) (*bbb.MeetingInfoResponse, error)
	meetingsFn func(srv bbb.ServerRef) ([]bbb.RunningMeeting, error)

	mu          sync.Mutex
	created     []string
	endedRemote []string
}

func (f *fakeAPI) CreateMeeting(_ context.Context, srv bbb.ServerRef, params *bbb.CreateParams) (*bbb.CreateResponse, error) {
	if f.createFn != nil {
		return f.createFn(srv, params)
	}
	f.mu.Lock()
	f.created = append(f.created, params.MeetingID)
	f.mu.Unlock()
	return &bbb.CreateResponse{
		ReturnCode:  bbb.ReturnCodeSuccess,
		MeetingID:   params.MeetingID,
		AttendeePW:  "ap",
		ModeratorPW: "mp",
	}, nil
}

func (f *fakeAPI) EndMeeting(_ context.Context, srv bbb.ServerRef, meetingID string) (*bbb.EndResponse, error) {
	if f.endFn != nil {
		return f.endFn(srv, meetingID)
	}
	f.mu.Lock()
	f.endedRemote = append(f.endedRemote, meetingID)
	f.mu.Unlock()
	return &bbb.EndResponse{ReturnCode: bbb.ReturnCodeSuccess}, nil
}

func (f *fakeAPI) GetMeetingInfo(_ context.Context, srv bbb.ServerRef, meetingID string) (*bbb.MeetingInfoResponse, error) {
	if f.infoFn != nil {
		return f.infoFn(srv, meetingID)
	}
	return &bbb.MeetingInfoResponse{
		ReturnCode: bbb.ReturnCodeSuccess,
		MeetingID:  meetingID,
		Running:    true,
	}, nil
}

func (f *fakeAPI) GetMeetings(_ context.Context, srv bbb.ServerRef) ([]bbb.RunningMeeting, error) {
	if f.meetingsFn != nil {
		return f.meetingsFn(srv)
	}
	return nil, nil
}

func (f *fakeAPI) GetVersion(_ context.Context, _ bbb.ServerRef) (string, error) {
	return "3.0", nil
}

func (f *fakeAPI) JoinURL(srv bbb.ServerRef, meetingID string, params *bbb.JoinParams) string {
	query := params.Values()
	query.Set("meetingID", meetingID)
	return srv.BaseURL + "/api/join?" + query.Encode()
}

// fakeLocker is an in-process stand-in for the Redis room lock, with the
// same fail-fast-after-wait contract.
type fakeLocker struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newFakeLocker() *fakeLocker {
	return &fakeLocker{locks: make(map[string]chan struct{})}
}

func (l *fakeLocker) sem(key string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	sem, ok := l.locks[key]
	if !ok {
		sem = make(chan struct{}, 1)
		l.locks[key] = sem
	}
	return sem
}

func (l *fakeLocker) Acquire(ctx context.Context, roomID string, wait time.Duration) (func(ctx context.Context) error, error) {
	sem := l.sem(roomID)
	select {
	case sem <- struct{}{}:
		return func(context.Context) error {
			<-sem
			return nil
		}, nil
	case <-time.After(wait):
		return nil, brokerredis.ErrNotAcquired
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

type fakePublisher struct {
	mu     sync.Mutex
	events []events.Event
}

func (p *fakePublisher) Publish(_ context.Context, event events.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

// stack wires every service against the fakes, mirroring the production
// wiring in cmd/api.
type stack struct {
	servers   *fakeServerRepo
	rooms     *fakeRoomRepo
	meetings  *fakeMeetingRepo
	attendees *fakeAttendeeRepo
	stats     *fakeStatRepo
	api       *fakeAPI
	locker    *fakeLocker
	publisher *fakePublisher

	health     *HealthService
	selector   *SelectorService
	meeting    *MeetingService
	attendance *AttendanceService
	reconciler *ReconcilerService

	poolID uuid.UUID
}

func newStack() *stack {
	st := &stack{
		servers:   newFakeServerRepo(),
		rooms:     newFakeRoomRepo(),
		meetings:  newFakeMeetingRepo(),
		attendees: newFakeAttendeeRepo(),
		stats:     &fakeStatRepo{},
		api:       &fakeAPI{},
		locker:    newFakeLocker(),
		publisher: &fakePublisher{},
		poolID:    uuid.New(),
	}

	log := logger.NewNop()
	fleetCfg := config.FleetConfig{
		OfflineThreshold: 3,
		OnlineThreshold:  3,
		SweepInterval:    time.Minute,
		StatsEnabled:     true,
	}
	providerCfg := config.ProviderConfig{
		ConnectTimeout: 25 * time.Millisecond,
		RequestTimeout: 25 * time.Millisecond,
	}

	st.health = NewHealthService(st.servers, st.meetings, st.publisher, fleetCfg, log)
	st.selector = NewSelectorService(st.servers)
	st.attendance = NewAttendanceService(st.attendees, log)
	st.meeting = NewMeetingService(
		st.rooms, st.meetings, st.attendees, st.servers,
		st.selector, st.health, st.api, st.locker, nil, st.publisher,
		providerCfg, "http://broker.test", log,
	)
	st.health.SetLifecycle(st.meeting)
	st.reconciler = NewReconcilerService(
		st.servers, st.meetings, st.rooms, st.stats,
		st.attendance, st.meeting, st.health, st.api, fleetCfg, log,
	)
	return st
}

func (st *stack) addServer(mutate func(*server.Server)) server.Server {
	srv := server.Server{
		ID:       uuid.New(),
		BaseURL:  "https://bbb.example.org/bigbluebutton",
		Secret:   "s3cret",
		Strength: 1,
		Status:   server.StatusEnabled,
		Health:   server.HealthOnline,
	}
	if mutate != nil {
		mutate(&srv)
	}
	st.servers.add(srv, st.poolID)
	return srv
}

func (st *stack) addRoom(mutate func(*room.Room)) room.Room {
	rm := room.Room{
		ID:        uuid.New(),
		LinkID:    "abc-def-ghi",
		Name:      "Weekly Sync",
		OwnerName: "Pat Owner",
		PoolID:    st.poolID,
	}
	if mutate != nil {
		mutate(&rm)
	}
	st.rooms.add(rm)
	return rm
}

func (st *stack) mustServer(id uuid.UUID) server.Server {
	srv, err := st.servers.GetByID(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return srv
}

func nowMinus(d time.Duration) time.Time {
	return time.Now().Add(-d)
}

func memberJoin(userID, name string) JoinRequest {
	return JoinRequest{
		UserID:                  userID,
		Name:                    name,
		Role:                    RoleMember,
		ConsentRecord:           true,
		ConsentRecordAttendance: true,
		ConsentStreaming:        true,
	}
}

func (p *fakePublisher) byType(eventType events.EventType) []events.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []events.Event
	for _, event := range p.events {
		if event.Type == eventType {
			out = append(out, event)
		}
	}
	return out
}
