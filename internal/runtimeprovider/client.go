// Package runtimeprovider is the HTTP client for the hosted agent-runtime
// provider: the external service that actually runs the STT/TTS/LLM
// pipeline and joins calls to rooms. internal/agents projects local Agent
// rows into this provider's secret-set + service resources; internal/calls
// and internal/dialer ask it to start sessions.
package runtimeprovider

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
)

// Client wraps the provider's private (server-to-server) API. A second,
// unauthenticated public surface is reached via the same base URL for
// session starts, per §6.
type Client struct {
	http    *resty.Client
	region  string
}

func NewClient(baseURL, privateAPIKey, region string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	h := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Authorization", "Bearer "+privateAPIKey).
		SetHeader("Content-Type", "application/json")
	return &Client{http: h, region: region}
}

// PutSecretSet replaces the named secret set wholesale.
func (c *Client) PutSecretSet(ctx context.Context, name string, secrets map[string]string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{"secrets": secrets}).
		Put(fmt.Sprintf("/secrets/%s", name))
	return checkResp(resp, err)
}

// UpsertAgentService creates the named agent service if absent, or updates
// it if present — the teacher's "idempotent, both named resources converge"
// projection pattern.
func (c *Client) UpsertAgentService(ctx context.Context, name, image, secretSetName string) error {
	body := map[string]any{
		"name":           name,
		"image":          image,
		"secret_set":     secretSetName,
		"region":         c.region,
	}
	resp, err := c.http.R().SetContext(ctx).SetBody(body).Post("/agents")
	if err == nil && resp.StatusCode() == 409 {
		resp, err = c.http.R().SetContext(ctx).SetBody(body).Post(fmt.Sprintf("/agents/%s", name))
	}
	return checkResp(resp, err)
}

func (c *Client) DeleteAgentService(ctx context.Context, name string) error {
	resp, err := c.http.R().SetContext(ctx).Delete(fmt.Sprintf("/agents/%s", name))
	return checkResp(resp, err)
}

type SessionMode string

const (
	SessionModeDialin       SessionMode = "dialin"
	SessionModeDialout      SessionMode = "dialout"
	SessionModeVideoMeeting SessionMode = "video_meeting"
)

type SessionStartRequest struct {
	AgentName           string
	CreateDailyRoom      bool
	DailyRoomProperties  map[string]any
	Mode                 SessionMode
	DialinSettings       map[string]any
	DialoutSettings      map[string]any
	VideoMeeting         map[string]any
	CallerMemory         map[string]any
	AgentConfig          map[string]any
}

type SessionStartResult struct {
	RoomURL string `json:"room_url"`
	Token   string `json:"token,omitempty"`
}

// StartSession posts to the public `/public/{agentName}/start` endpoint
// that kicks off a room + pipeline for a dial-in, dial-out, or standalone
// video meeting.
func (c *Client) StartSession(ctx context.Context, req SessionStartRequest) (SessionStartResult, error) {
	body := map[string]any{
		"createDailyRoom":     req.CreateDailyRoom,
		"dailyRoomProperties": req.DailyRoomProperties,
		"body": map[string]any{
			"mode":             req.Mode,
			"dialin_settings":  req.DialinSettings,
			"dialout_settings": req.DialoutSettings,
			"video_meeting":    req.VideoMeeting,
			"caller_memory":    req.CallerMemory,
			"agent_config":     req.AgentConfig,
		},
	}
	var out SessionStartResult
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post(fmt.Sprintf("/public/%s/start", req.AgentName))
	if err := checkResp(resp, err); err != nil {
		return SessionStartResult{}, err
	}
	return out, nil
}

func checkResp(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("runtimeprovider: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("runtimeprovider: status %d: %s", resp.StatusCode(), resp.String())
	}
	return nil
}
