package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/joshp123/robofleet/internal/fleet"
	"github.com/joshp123/robofleet/internal/kv"
	"github.com/joshp123/robofleet/internal/notify"
	"github.com/joshp123/robofleet/internal/rate"
)

const defaultTimeout = 15 * time.Second

var (
	ErrUnauthorized = errors.New("backend unauthorized")
	ErrNotFound     = errors.New("backend resource not found")
)

// APIError is a non-2xx response. Detail carries the server's message.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("backend error %d", e.Status)
	}
	return e.Detail
}

func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusNotFound:
		return ErrNotFound
	default:
		return nil
	}
}

type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerMinute int
	Burst             int
	Auth              AuthConfig
	// TokenCache keeps rotated refresh tokens across restarts.
	TokenCache        kv.Store
}

// Client talks to the fleet REST API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	log        *slog.Logger
}

var (
	_ fleet.API  = (*Client)(nil)
	_ notify.API = (*Client)(nil)
)

func NewClient(ctx context.Context, cfg Config, logger *slog.Logger) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("backend base_url is required")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("parse backend base_url: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}

	policy := rate.For("fleet")
	if cfg.RequestsPerMinute > 0 {
		policy = policy.Allow(cfg.RequestsPerMinute, cfg.Burst)
	}
	guarded := rate.WrapHTTP(policy, &http.Client{Timeout: timeout})

	source, err := tokenSource(ctx, cfg.Auth, &http.Client{Timeout: timeout}, cfg.TokenCache, logger.With("component", "auth"))
	if err != nil {
		return nil, err
	}

	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &oauth2.Transport{
				Source: oauth2.ReuseTokenSource(nil, source),
				Base:   guarded.Transport,
			},
		},
		log: logger,
	}, nil
}

// Me returns the identity behind the configured token.
func (c *Client) Me(ctx context.Context) (fleet.Identity, error) {
	var resp struct {
		ID   json.RawMessage `json:"id"`
		Name string          `json:"name"`
	}
	if err := c.getJSON(ctx, "/me", &resp); err != nil {
		return fleet.Identity{}, err
	}
	id := rawID(resp.ID)
	if id == "" {
		return fleet.Identity{}, fmt.Errorf("me response has no id")
	}
	return fleet.Identity{ID: id, Name: resp.Name}, nil
}

// rawID accepts both numeric and string user ids.
func rawID(raw json.RawMessage) string {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text
	}
	var num json.Number
	if err := json.Unmarshal(raw, &num); err == nil {
		return num.String()
	}
	return ""
}

type robotRecord struct {
	RobotID string `json:"robot_id"`
	Name    string `json:"name"`
	Owner   string `json:"owner"`
}

func (r robotRecord) robot() fleet.Robot {
	return fleet.Robot{ID: r.RobotID, Static: fleet.Static{Owner: r.Owner, Name: r.Name}}
}

func (c *Client) Robots(ctx context.Context) ([]fleet.Robot, error) {
	var resp []robotRecord
	if err := c.getJSON(ctx, "/robots", &resp); err != nil {
		return nil, err
	}
	robots := make([]fleet.Robot, 0, len(resp))
	for _, r := range resp {
		robots = append(robots, r.robot())
	}
	return robots, nil
}

func (c *Client) Robot(ctx context.Context, robotID string) (fleet.Robot, error) {
	var resp robotRecord
	if err := c.getJSON(ctx, "/robots/"+url.PathEscape(robotID), &resp); err != nil {
		return fleet.Robot{}, err
	}
	if resp.RobotID == "" {
		resp.RobotID = robotID
	}
	return resp.robot(), nil
}

// RobotUpdate carries the editable robot fields; nil fields are left alone.
type RobotUpdate struct {
	Name *string `json:"name,omitempty"`
}

func (c *Client) UpdateRobot(ctx context.Context, robotID string, update RobotUpdate) (fleet.Robot, error) {
	var resp robotRecord
	if err := c.sendJSON(ctx, http.MethodPatch, "/robots/"+url.PathEscape(robotID), update, &resp); err != nil {
		return fleet.Robot{}, err
	}
	if resp.RobotID == "" {
		resp.RobotID = robotID
	}
	return resp.robot(), nil
}

func (c *Client) DeleteRobot(ctx context.Context, robotID string) error {
	return c.sendJSON(ctx, http.MethodDelete, "/robots/"+url.PathEscape(robotID), nil, nil)
}

func (c *Client) AcquireControl(ctx context.Context, robotID string) error {
	return c.sendJSON(ctx, http.MethodPost, "/robots/"+url.PathEscape(robotID)+"/control/acquire", nil, nil)
}

func (c *Client) ReleaseControl(ctx context.Context, robotID string) error {
	return c.sendJSON(ctx, http.MethodPost, "/robots/"+url.PathEscape(robotID)+"/control/release", nil, nil)
}

func (c *Client) SendCommand(ctx context.Context, robotID string, cmd fleet.Command) error {
	payload := map[string]string{"command": string(cmd)}
	return c.sendJSON(ctx, http.MethodPost, "/robots/"+url.PathEscape(robotID)+"/commands", payload, nil)
}

func (c *Client) Notifications(ctx context.Context) ([]notify.Notification, error) {
	var resp []notify.Notification
	if err := c.getJSON(ctx, "/notifications", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) MarkNotificationRead(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/notifications/%d/read", id), nil, nil)
}

func (c *Client) DeleteNotification(ctx context.Context, id int64) error {
	return c.sendJSON(ctx, http.MethodDelete, fmt.Sprintf("/notifications/%d", id), nil, nil)
}

func (c *Client) AccessRequests(ctx context.Context) ([]notify.AccessRequest, error) {
	var resp []notify.AccessRequest
	if err := c.getJSON(ctx, "/access-requests", &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

func (c *Client) ApproveAccess(ctx context.Context, requestID int64) error {
	return c.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/access-requests/%d/approve", requestID), nil, nil)
}

func (c *Client) DenyAccess(ctx context.Context, requestID int64) error {
	return c.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/access-requests/%d/deny", requestID), nil, nil)
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.sendJSON(ctx, http.MethodGet, path, nil, out)
}

func (c *Client) sendJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		apiErr := &APIError{Status: resp.StatusCode, Detail: errorDetail(resp.StatusCode, data)}
		c.log.Debug("backend request failed", "method", method, "path", path, "status", resp.StatusCode, "detail", apiErr.Detail)
		return apiErr
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		var limitErr *rate.LimitError
		if errors.As(err, &limitErr) {
			return nil, limitErr
		}
		return nil, tokenError(err)
	}
	return resp, nil
}

// errorDetail prefers {"detail": "..."} and falls back to the raw body.
func errorDetail(status int, body []byte) string {
	var parsed struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &parsed); err == nil && len(parsed.Detail) > 0 {
		var text string
		if err := json.Unmarshal(parsed.Detail, &text); err == nil {
			return text
		}
		return string(parsed.Detail)
	}
	if text := strings.TrimSpace(string(body)); text != "" {
		return text
	}
	return http.StatusText(status)
}
