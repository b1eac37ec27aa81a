package plotctl

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/LeonardoBeccarini/agrosmart/internal/model/entities"
)

var ErrNotFound = errors.New("not found")

// DeclinedError is returned when the collector has no recommendation to give.
type DeclinedError struct {
	Reason  string `json:"reason"`
	Message string `json:"error"`
}

func (e *DeclinedError) Error() string { return fmt.Sprintf("declined (%s): %s", e.Reason, e.Message) }

type apiError struct {
	Message string `json:"error"`
}

// Device mirrors the collector's device view.
type Device struct {
	entities.ModeState
	ConnectionStatus string  `json:"connection_status"`
	AgeSeconds       float64 `json:"age_sec"`
}

type ModeInfo struct {
	DeviceID string        `json:"device_id,omitempty"`
	Scope    string        `json:"scope"`
	Mode     entities.Mode `json:"mode"`
}

type Health struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	MQTT    string `json:"mqtt"`
	Influx  string `json:"influx"`
	Devices int    `json:"devices"`
	UptimeS int64  `json:"uptime_sec"`
}

// Client talks to the collector HTTP API.
type Client struct {
	http *resty.Client
}

func NewClient(baseURL string, timeout time.Duration) *Client {
	c := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetHeader("Accept", "application/json").
		SetHeader("User-Agent", "plotctl")
	return &Client{http: c}
}

func (c *Client) Health(ctx context.Context) (*Health, error) {
	var out Health
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/health")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) Devices(ctx context.Context) ([]Device, error) {
	var out struct {
		Devices []Device `json:"devices"`
	}
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get("/api/devices")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return out.Devices, nil
}

func (c *Client) Device(ctx context.Context, id string) (*Device, error) {
	var out Device
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).
		SetPathParam("id", id).
		Get("/api/devices/{id}")
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

// Mode reads a device mode, or the global default when id is empty.
func (c *Client) Mode(ctx context.Context, id string) (*ModeInfo, error) {
	var out ModeInfo
	resp, err := c.http.R().SetContext(ctx).SetResult(&out).Get(modePath(id))
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) SetMode(ctx context.Context, id string, mode entities.Mode) error {
	resp, err := c.http.R().SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(map[string]string{"mode": string(mode)}).
		Post(modePath(id))
	return check(resp, err)
}

func (c *Client) Recommendation(ctx context.Context, id string) (*entities.Recommendation, error) {
	var (
		out      entities.Recommendation
		declined DeclinedError
	)
	resp, err := c.http.R().SetContext(ctx).
		SetPathParam("id", id).
		SetResult(&out).
		SetError(&declined).
		Get("/api/devices/{id}/recommendation")
	if err == nil && resp.StatusCode() == 409 {
		return nil, &declined
	}
	if err := check(resp, err); err != nil {
		return nil, err
	}
	return &out, nil
}

func modePath(id string) string {
	if id == "" {
		return "/api/mode"
	}
	return "/api/devices/" + url.PathEscape(id) + "/mode"
}

func check(resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("collector request: %w", err)
	}
	if resp.IsSuccess() {
		return nil
	}
	if resp.StatusCode() == 404 {
		return ErrNotFound
	}
	var e apiError
	if resp.Body() != nil {
		_ = json.Unmarshal(resp.Body(), &e)
	}
	if e.Message == "" {
		e.Message = resp.Status()
	}
	return fmt.Errorf("collector: %d %s", resp.StatusCode(), e.Message)
}
