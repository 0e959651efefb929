package httpdto

// JoinRequest is the body of start/join calls. Identity and role come
// from the upstream auth layer; consent flags come from the user.
type JoinRequest struct {
	UserID string `json:"user_id"`
	Name   string `json:"name" binding:"required"`
	Email  string `json:"email"`
	Role   string `json:"role" binding:"required,oneof=OWNER CO_OWNER MODERATOR MEMBER GUEST"`

	ConsentRecord           bool `json:"consent_record"`
	ConsentRecordAttendance bool `json:"consent_record_attendance"`
	ConsentStreaming        bool `json:"consent_streaming"`
}

type JoinResponse struct {
	JoinURL string `json:"join_url"`
}

type RoomStatusResponse struct {
	Running          bool   `json:"running"`
	Detached         bool   `json:"detached,omitempty"`
	MeetingID        string `json:"meeting_id,omitempty"`
	ParticipantCount *int   `json:"participant_count,omitempty"`
}

type PanicResponse struct {
	Ended  int `json:"ended"`
	Failed int `json:"failed"`
}
