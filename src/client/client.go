// Package client is the Go API client for the notification server,
// used by the pharmacy-cli binary and by integrations.
package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/apimgr/pharmacy/src/server/model"
	"github.com/apimgr/pharmacy/src/server/service"
)

// DefaultTimeout bounds one API request
const DefaultTimeout = 30 * time.Second

// Client talks to the notification API on behalf of one user
type Client struct {
	BaseURL    string
	UserID     int
	HTTPClient *http.Client
}

// New creates a client for the server at baseURL acting as userID
func New(baseURL string, userID int) *Client {
	return &Client{
		BaseURL: baseURL,
		UserID:  userID,
		HTTPClient: &http.Client{
			Timeout: DefaultTimeout,
		},
	}
}

// ListOptions filters Notifications calls
type ListOptions struct {
	Limit      int
	Offset     int
	UnreadOnly bool
	Category   string
}

// Notifications fetches one page of the user's notifications
func (c *Client) Notifications(opts ListOptions) (*models.NotificationPage, error) {
	query := url.Values{}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	if opts.Offset > 0 {
		query.Set("offset", strconv.Itoa(opts.Offset))
	}
	if opts.UnreadOnly {
		query.Set("unread_only", "true")
	}
	if opts.Category != "" {
		query.Set("category", opts.Category)
	}

	page := &models.NotificationPage{}
	if err := c.do("GET", "/api/notifications?"+query.Encode(), nil, page); err != nil {
		return nil, err
	}
	return page, nil
}

// UnreadCount fetches the unread badge count
func (c *Client) UnreadCount() (int, error) {
	var out struct {
		UnreadCount int `json:"unread_count"`
	}
	if err := c.do("GET", "/api/notifications/unread-count", nil, &out); err != nil {
		return 0, err
	}
	return out.UnreadCount, nil
}

// CreateParams describes a notification to create via the API
type CreateParams struct {
	Title         string          `json:"title"`
	Message       string          `json:"message,omitempty"`
	Type          string          `json:"type,omitempty"`
	Priority      int             `json:"priority,omitempty"`
	Category      string          `json:"category,omitempty"`
	Metadata      models.Metadata `json:"metadata,omitempty"`
	CooldownHours int             `json:"cooldown_hours,omitempty"`
	NoDedup       bool            `json:"no_dedup,omitempty"`
}

// Create creates a notification. A nil notification with no error means
// the server suppressed it as a duplicate.
func (c *Client) Create(params CreateParams) (*models.Notification, error) {
	var out struct {
		models.Notification
		Suppressed bool `json:"suppressed"`
	}
	if err := c.do("POST", "/api/notifications", params, &out); err != nil {
		return nil, err
	}
	if out.Suppressed {
		return nil, nil
	}
	return &out.Notification, nil
}

// MarkRead marks one notification read
func (c *Client) MarkRead(id string) (*models.Notification, error) {
	n := &models.Notification{}
	if err := c.do("PUT", "/api/notifications/"+url.PathEscape(id)+"/read", nil, n); err != nil {
		return nil, err
	}
	return n, nil
}

// MarkAllRead marks every notification read and returns the count
func (c *Client) MarkAllRead() (int, error) {
	var out struct {
		Updated int `json:"updated"`
	}
	if err := c.do("PUT", "/api/notifications/read-all", nil, &out); err != nil {
		return 0, err
	}
	return out.Updated, nil
}

// Dismiss soft-deletes one notification
func (c *Client) Dismiss(id string) error {
	return c.do("DELETE", "/api/notifications/"+url.PathEscape(id), nil, nil)
}

// DismissAll soft-deletes every notification and returns the count
func (c *Client) DismissAll() (int, error) {
	var out struct {
		Dismissed int `json:"dismissed"`
	}
	if err := c.do("DELETE", "/api/notifications", nil, &out); err != nil {
		return 0, err
	}
	return out.Dismissed, nil
}

// RunHealthCheck triggers an inventory scan. force bypasses the
// server-side debounce.
func (c *Client) RunHealthCheck(force bool) (*service.HealthCheckResult, error) {
	path := "/api/notifications/health-check"
	if force {
		path += "?force=true"
	}
	result := &service.HealthCheckResult{}
	if err := c.do("POST", path, nil, result); err != nil {
		return nil, err
	}
	return result, nil
}

// HealthCheckStatus fetches the per-check scan ledger
func (c *Client) HealthCheckStatus() (map[string]*models.ScanScheduleEntry, error) {
	out := map[string]*models.ScanScheduleEntry{}
	if err := c.do("GET", "/api/notifications/health-check/status", nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) do(method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.BaseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("X-User-ID", strconv.Itoa(c.UserID))
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return NewConnectionError(err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		var apiErr struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(data, &apiErr) == nil && apiErr.Error != "" {
			return NewAPIError(resp.StatusCode, apiErr.Error)
		}
		return NewAPIError(resp.StatusCode, http.StatusText(resp.StatusCode))
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}
