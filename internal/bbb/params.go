package bbb

import (
	"encoding/xml"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Role is the join role handed to the provider.
type Role string

const (
	RoleModerator Role = "MODERATOR"
	RoleViewer    Role = "VIEWER"
)

// Document is a presentation attached at creation time.
type Document struct {
	URL      string `xml:"url,attr"`
	Filename string `xml:"filename,attr"`
}

// CreateParams carries everything a create call needs.
type CreateParams struct {
	MeetingID   string
	Name        string
	AttendeePW  string
	ModeratorPW string

	Record      bool
	MuteOnStart bool
	GuestPolicy string
	Welcome     string
	LogoutURL   string
	CallbackURL string

	MaxParticipants int
	Duration        int

	LockSettingsDisableCam         bool
	LockSettingsDisableMic         bool
	LockSettingsDisablePrivateChat bool
	LockSettingsDisablePublicChat  bool
	LockSettingsDisableNotes       bool
	LockSettingsHideUserList       bool

	Meta      map[string]string
	Documents []Document

	// Overrides holds already-validated operator key/value overrides,
	// applied last over the base parameters.
	Overrides url.Values
}

// Values renders the query parameters for a create call.
func (p *CreateParams) Values() url.Values {
	v := url.Values{}
	v.Set("meetingID", p.MeetingID)
	v.Set("name", p.Name)
	if p.AttendeePW != "" {
		v.Set("attendeePW", p.AttendeePW)
	}
	if p.ModeratorPW != "" {
		v.Set("moderatorPW", p.ModeratorPW)
	}
	v.Set("record", strconv.FormatBool(p.Record))
	v.Set("muteOnStart", strconv.FormatBool(p.MuteOnStart))
	if p.GuestPolicy != "" {
		v.Set("guestPolicy", p.GuestPolicy)
	}
	if p.Welcome != "" {
		v.Set("welcome", p.Welcome)
	}
	if p.LogoutURL != "" {
		v.Set("logoutURL", p.LogoutURL)
	}
	if p.CallbackURL != "" {
		v.Set("meta_endCallbackUrl", p.CallbackURL)
	}
	if p.MaxParticipants > 0 {
		v.Set("maxParticipants", strconv.Itoa(p.MaxParticipants))
	}
	if p.Duration > 0 {
		v.Set("duration", strconv.Itoa(p.Duration))
	}
	v.Set("lockSettingsDisableCam", strconv.FormatBool(p.LockSettingsDisableCam))
	v.Set("lockSettingsDisableMic", strconv.FormatBool(p.LockSettingsDisableMic))
	v.Set("lockSettingsDisablePrivateChat", strconv.FormatBool(p.LockSettingsDisablePrivateChat))
	v.Set("lockSettingsDisablePublicChat", strconv.FormatBool(p.LockSettingsDisablePublicChat))
	v.Set("lockSettingsDisableNotes", strconv.FormatBool(p.LockSettingsDisableNotes))
	v.Set("lockSettingsHideUserList", strconv.FormatBool(p.LockSettingsHideUserList))
	for key, value := range p.Meta {
		v.Set("meta_"+key, value)
	}
	for key, values := range p.Overrides {
		for _, value := range values {
			v.Set(key, value)
		}
	}
	return v
}

type presentationModule struct {
	XMLName   xml.Name   `xml:"module"`
	Name      string     `xml:"name,attr"`
	Documents []Document `xml:"document"`
}

type modulesPayload struct {
	XMLName xml.Name             `xml:"modules"`
	Modules []presentationModule `xml:"module"`
}

func (p *CreateParams) modules() modulesPayload {
	return modulesPayload{
		Modules: []presentationModule{{Name: "presentation", Documents: p.Documents}},
	}
}

// JoinParams carries everything a join link needs. Userdata entries are
// passed through to the client as opaque userdata-* parameters.
type JoinParams struct {
	FullName string
	Role     Role
	UserID   string
	Guest    bool
	Userdata map[string]string

	// Overrides holds validated operator join-parameter overrides.
	Overrides url.Values
}

func (p *JoinParams) Values() url.Values {
	v := url.Values{}
	v.Set("fullName", p.FullName)
	v.Set("role", string(p.Role))
	if p.UserID != "" {
		v.Set("userID", p.UserID)
	}
	if p.Guest {
		v.Set("guest", "true")
	}
	v.Set("redirect", "true")
	for key, value := range p.Userdata {
		v.Set("userdata-"+key, value)
	}
	for key, values := range p.Overrides {
		for _, value := range values {
			v.Set(key, value)
		}
	}
	return v
}

// Operator overrides are patched through a static table of known
// parameters with declared types. Unknown keys and values that fail their
// type check degrade to warnings; they never block a start.

type paramKind int

const (
	kindInteger paramKind = iota
	kindBoolean
	kindArray
	kindEnum
	kindString
)

type paramSpec struct {
	kind paramKind
	enum []string
}

var createParamTable = map[string]paramSpec{
	"duration":                 {kind: kindInteger},
	"maxParticipants":          {kind: kindInteger},
	"meetingCameraCap":         {kind: kindInteger},
	"userCameraCap":            {kind: kindInteger},
	"muteOnStart":              {kind: kindBoolean},
	"webcamsOnlyForModerator":  {kind: kindBoolean},
	"allowModsToUnmuteUsers":   {kind: kindBoolean},
	"allowModsToEjectCameras":  {kind: kindBoolean},
	"preUploadedPresentationOverrideDefault": {kind: kindBoolean},
	"disabledFeatures":         {kind: kindArray},
	"guestPolicy":              {kind: kindEnum, enum: []string{"ALWAYS_ACCEPT", "ALWAYS_DENY", "ASK_MODERATOR"}},
	"meetingLayout":            {kind: kindEnum, enum: []string{"CUSTOM_LAYOUT", "SMART_LAYOUT", "PRESENTATION_FOCUS", "VIDEO_FOCUS"}},
	"welcome":                  {kind: kindString},
	"moderatorOnlyMessage":     {kind: kindString},
	"bannerText":               {kind: kindString},
	"logo":                     {kind: kindString},
}

var joinParamTable = map[string]paramSpec{
	"excludeFromDashboard": {kind: kindBoolean},
	"enforceLayout":        {kind: kindEnum, enum: []string{"CUSTOM_LAYOUT", "SMART_LAYOUT", "PRESENTATION_FOCUS", "VIDEO_FOCUS"}},
	"avatarURL":            {kind: kindString},
	"redirect":             {kind: kindBoolean},
}

// PatchCreateParams validates raw operator overrides (one key=value per
// line) against the create table and returns the applicable values plus a
// warning per rejected line.
func PatchCreateParams(raw string) (url.Values, []string) {
	return patchParams(raw, createParamTable)
}

// PatchJoinParams is the join-side counterpart of PatchCreateParams.
func PatchJoinParams(raw string) (url.Values, []string) {
	return patchParams(raw, joinParamTable)
}

func patchParams(raw string, table map[string]paramSpec) (url.Values, []string) {
	applied := url.Values{}
	var warnings []string

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, found := strings.Cut(line, "=")
		if !found {
			warnings = append(warnings, fmt.Sprintf("malformed parameter line %q", line))
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		// meta_ and userdata- parameters are free-form pass-through.
		if strings.HasPrefix(key, "meta_") || strings.HasPrefix(key, "userdata-") {
			applied.Set(key, value)
			continue
		}

		spec, known := table[key]
		if !known {
			warnings = append(warnings, fmt.Sprintf("unknown parameter %q", key))
			continue
		}
		normalized, err := spec.validate(value)
		if err != nil {
			warnings = append(warnings, fmt.Sprintf("parameter %q: %v", key, err))
			continue
		}
		applied.Set(key, normalized)
	}
	return applied, warnings
}

func (s paramSpec) validate(value string) (string, error) {
	switch s.kind {
	case kindInteger:
		n, err := strconv.Atoi(value)
		if err != nil {
			return "", fmt.Errorf("expected integer, got %q", value)
		}
		return strconv.Itoa(n), nil
	case kindBoolean:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return "", fmt.Errorf("expected boolean, got %q", value)
		}
		return strconv.FormatBool(b), nil
	case kindArray:
		parts := strings.Split(value, ",")
		for i, part := range parts {
			parts[i] = strings.TrimSpace(part)
			if parts[i] == "" {
				return "", fmt.Errorf("empty array element in %q", value)
			}
		}
		return strings.Join(parts, ","), nil
	case kindEnum:
		for _, allowed := range s.enum {
			if value == allowed {
				return value, nil
			}
		}
		return "", fmt.Errorf("%q is not one of %s", value, strings.Join(s.enum, ", "))
	default:
		return value, nil
	}
}
