package bbb

import "encoding/xml"

const (
	ReturnCodeSuccess = "SUCCESS"
	ReturnCodeFailed  = "FAILED"

	// Message keys the provider reports for auth-class semantic failures.
	// These penalize server health; every other semantic failure is treated
	// as room-specific.
	MessageKeyChecksumError = "checksumError"
)

// CreateResponse is the provider's answer to a create call.
type CreateResponse struct {
	XMLName     xml.Name `xml:"response"`
	ReturnCode  string   `xml:"returncode"`
	MeetingID   string   `xml:"meetingID"`
	AttendeePW  string   `xml:"attendeePW"`
	ModeratorPW string   `xml:"moderatorPW"`
	MessageKey  string   `xml:"messageKey"`
	Message     string   `xml:"message"`
}

type EndResponse struct {
	XMLName    xml.Name `xml:"response"`
	ReturnCode string   `xml:"returncode"`
	MessageKey string   `xml:"messageKey"`
	Message    string   `xml:"message"`
}

// MeetingInfoResponse answers getMeetingInfo.
type MeetingInfoResponse struct {
	XMLName          xml.Name   `xml:"response"`
	ReturnCode       string     `xml:"returncode"`
	MeetingID        string     `xml:"meetingID"`
	Running          bool       `xml:"running"`
	ParticipantCount int        `xml:"participantCount"`
	ListenerCount    int        `xml:"listenerCount"`
	VoiceCount       int        `xml:"voiceParticipantCount"`
	VideoCount       int        `xml:"videoCount"`
	IsBreakout       bool       `xml:"isBreakout"`
	Attendees        []Attendee `xml:"attendees>attendee"`
	MessageKey       string     `xml:"messageKey"`
	Message          string     `xml:"message"`
}

// RunningMeeting is one entry of getMeetings.
type RunningMeeting struct {
	MeetingID        string     `xml:"meetingID"`
	IsBreakout       bool       `xml:"isBreakout"`
	ParticipantCount int        `xml:"participantCount"`
	ListenerCount    int        `xml:"listenerCount"`
	VoiceCount       int        `xml:"voiceParticipantCount"`
	VideoCount       int        `xml:"videoCount"`
	Attendees        []Attendee `xml:"attendees>attendee"`
}

// Attendee is the provider's view of one participant.
type Attendee struct {
	UserID   string `xml:"userID"`
	FullName string `xml:"fullName"`
	Role     string `xml:"role"`
}

type getMeetingsResponse struct {
	XMLName    xml.Name         `xml:"response"`
	ReturnCode string           `xml:"returncode"`
	Meetings   []RunningMeeting `xml:"meetings>meeting"`
	MessageKey string           `xml:"messageKey"`
	Message    string           `xml:"message"`
}

type versionResponse struct {
	XMLName    xml.Name `xml:"response"`
	ReturnCode string   `xml:"returncode"`
	Version    string   `xml:"version"`
}

// OK reports provider-level success for a create call.
func (r *CreateResponse) OK() bool { return r.ReturnCode == ReturnCodeSuccess }

func (r *EndResponse) OK() bool { return r.ReturnCode == ReturnCodeSuccess }

func (r *MeetingInfoResponse) OK() bool { return r.ReturnCode == ReturnCodeSuccess }

// AuthFailure reports a checksum/auth mismatch, which counts against the
// server's health rather than the room.
func (r *CreateResponse) AuthFailure() bool {
	return r.ReturnCode == ReturnCodeFailed && r.MessageKey == MessageKeyChecksumError
}

func (r *MeetingInfoResponse) AuthFailure() bool {
	return r.ReturnCode == ReturnCodeFailed && r.MessageKey == MessageKeyChecksumError
}
