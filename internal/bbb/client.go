// Package bbb implements the client side of the BigBlueButton-compatible
// conferencing API: checksum-signed query strings with XML envelopes.
// Every broker component talks to the provider through the API interface
// so tests can substitute a fake.
package bbb

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/xml"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// API defines the operations the broker needs from a conferencing server.
type API interface {
	CreateMeeting(ctx context.Context, srv ServerRef, params *CreateParams) (*CreateResponse, error)
	EndMeeting(ctx context.Context, srv ServerRef, meetingID string) (*EndResponse, error)
	GetMeetingInfo(ctx context.Context, srv ServerRef, meetingID string) (*MeetingInfoResponse, error)
	GetMeetings(ctx context.Context, srv ServerRef) ([]RunningMeeting, error)
	GetVersion(ctx context.Context, srv ServerRef) (string, error)
	JoinURL(srv ServerRef, meetingID string, params *JoinParams) string
}

// ServerRef is the per-call server identity: the client itself is
// stateless and shared across the whole fleet.
type ServerRef struct {
	BaseURL string
	Secret  string
}

// Config holds the transport bounds for provider calls.
type Config struct {
	ConnectTimeout time.Duration
	RequestTimeout time.Duration
}

const (
	DefaultConnectTimeout = 20 * time.Second
	DefaultRequestTimeout = 10 * time.Second
)

// Client is the HTTP implementation of API.
type Client struct {
	httpClient *http.Client
}

// Ensure that Client implements API
var _ API = (*Client)(nil)

// NewClient builds a provider client. The HTTP client's total timeout is
// the connect+request sum; the dial timeout bounds the connect phase.
func NewClient(cfg Config) *Client {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.RequestTimeout == 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	dialer := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &Client{
		httpClient: &http.Client{
			Timeout: cfg.ConnectTimeout + cfg.RequestTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: cfg.ConnectTimeout,
			},
		},
	}
}

func (c *Client) CreateMeeting(ctx context.Context, srv ServerRef, params *CreateParams) (*CreateResponse, error) {
	var body io.Reader
	contentType := ""
	if len(params.Documents) > 0 {
		payload, err := xml.Marshal(params.modules())
		if err != nil {
			return nil, fmt.Errorf("marshal presentation modules: %w", err)
		}
		body = bytes.NewReader(payload)
		contentType = "application/xml"
	}
	data, err := c.request(ctx, srv, http.MethodPost, "create", params.Values(), body, contentType)
	if err != nil {
		return nil, err
	}
	var resp CreateResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode create response: %w", err)
	}
	return &resp, nil
}

func (c *Client) EndMeeting(ctx context.Context, srv ServerRef, meetingID string) (*EndResponse, error) {
	query := url.Values{"meetingID": {meetingID}}
	data, err := c.request(ctx, srv, http.MethodGet, "end", query, nil, "")
	if err != nil {
		return nil, err
	}
	var resp EndResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode end response: %w", err)
	}
	return &resp, nil
}

func (c *Client) GetMeetingInfo(ctx context.Context, srv ServerRef, meetingID string) (*MeetingInfoResponse, error) {
	query := url.Values{"meetingID": {meetingID}}
	data, err := c.request(ctx, srv, http.MethodGet, "getMeetingInfo", query, nil, "")
	if err != nil {
		return nil, err
	}
	var resp MeetingInfoResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode getMeetingInfo response: %w", err)
	}
	return &resp, nil
}

func (c *Client) GetMeetings(ctx context.Context, srv ServerRef) ([]RunningMeeting, error) {
	data, err := c.request(ctx, srv, http.MethodGet, "getMeetings", url.Values{}, nil, "")
	if err != nil {
		return nil, err
	}
	var resp getMeetingsResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("decode getMeetings response: %w", err)
	}
	if resp.ReturnCode != ReturnCodeSuccess {
		return nil, fmt.Errorf("getMeetings failed: %s", resp.MessageKey)
	}
	return resp.Meetings, nil
}

func (c *Client) GetVersion(ctx context.Context, srv ServerRef) (string, error) {
	data, err := c.request(ctx, srv, http.MethodGet, "getApiVersion", url.Values{}, nil, "")
	if err != nil {
		return "", err
	}
	var resp versionResponse
	if err := xml.Unmarshal(data, &resp); err != nil {
		return "", fmt.Errorf("decode getApiVersion response: %w", err)
	}
	if resp.ReturnCode != ReturnCodeSuccess {
		return "", fmt.Errorf("getApiVersion failed")
	}
	return resp.Version, nil
}

// JoinURL builds a signed join link. It is pure computation; the provider
// is only contacted when the user's browser follows the link.
func (c *Client) JoinURL(srv ServerRef, meetingID string, params *JoinParams) string {
	query := params.Values()
	query.Set("meetingID", meetingID)
	return apiURL(srv, "join", query)
}

func (c *Client) request(ctx context.Context, srv ServerRef, method, action string, query url.Values, body io.Reader, contentType string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, apiURL(srv, action, query), body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned HTTP %d", resp.StatusCode)
	}
	return data, nil
}

func apiURL(srv ServerRef, action string, query url.Values) string {
	encoded := query.Encode()
	signed := encoded
	if signed != "" {
		signed += "&"
	}
	signed += "checksum=" + Checksum(action, encoded, srv.Secret)
	return strings.TrimSuffix(srv.BaseURL, "/") + "/api/" + action + "?" + signed
}

// Checksum signs a provider request: SHA-256 over action + query + secret.
func Checksum(action, query, secret string) string {
	sum := sha256.Sum256([]byte(action + query + secret))
	return hex.EncodeToString(sum[:])
}
