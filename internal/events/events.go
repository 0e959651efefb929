package events

import "time"

type EventType string

const (
	MeetingStarted  EventType = "meeting.started"
	MeetingEnded    EventType = "meeting.ended"
	ServerOffline   EventType = "server.offline"
	ServerRecovered EventType = "server.recovered"
)

// Event is the envelope published on the lifecycle channel for downstream
// consumers (dashboards, notifiers).
type Event struct {
	Type      EventType `json:"type"`
	RoomID    string    `json:"room_id,omitempty"`
	MeetingID string    `json:"meeting_id,omitempty"`
	ServerID  string    `json:"server_id,omitempty"`
	At        time.Time `json:"at"`
}
