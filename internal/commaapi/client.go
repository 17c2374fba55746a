// Package commaapi is a client for the comma.ai route API: file lists,
// device route segments, and route events. Routes must be public or a
// JWT token must be configured; the error text tells the user which
// remedy applies.
package commaapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"opclip/internal/route"
)

// DefaultBaseURL is the public comma API.
const DefaultBaseURL = "https://api.comma.ai"

var (
	// ErrNotAccessible means the API refused the route (private, or
	// bad credentials).
	ErrNotAccessible = errors.New("route is not accessible")

	// ErrRouteNotFound means no route matched the requested span or
	// name.
	ErrRouteNotFound = errors.New("route not found")
)

// Client talks to the comma API.
type Client struct {
	baseURL  string
	jwtToken string
	retries  uint64
	client   *http.Client
	logger   *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithJWT authenticates requests with a connect JWT token.
func WithJWT(token string) Option {
	return func(c *Client) { c.jwtToken = token }
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.client.Timeout = d }
}

// WithRetries sets the transient-failure retry count.
func WithRetries(n int) Option {
	return func(c *Client) {
		if n >= 0 {
			c.retries = uint64(n)
		}
	}
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// New creates a comma API client.
func New(baseURL string, opts ...Option) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	c := &Client{
		baseURL: baseURL,
		retries: 3,
		client:  &http.Client{Timeout: 30 * time.Second},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FileList is the per-kind segment file URLs of a route.
type FileList struct {
	Cameras  []string `json:"cameras"`  // fcamera.hevc
	DCameras []string `json:"dcameras"` // dcamera.hevc
	ECameras []string `json:"ecameras"` // ecamera.hevc
	Logs     []string `json:"logs"`     // rlog.bz2 / rlog.zst
	QLogs    []string `json:"qlogs"`
	QCameras []string `json:"qcameras"`
}

// RouteInfo is one element of the routes_segments response.
type RouteInfo struct {
	Fullname          string  `json:"fullname"`
	StartTimeUTC      int64   `json:"start_time_utc_millis"`
	EndTimeUTC        int64   `json:"end_time_utc_millis"`
	SegmentNumbers    []int   `json:"segment_numbers"`
	SegmentStartTimes []int64 `json:"segment_start_times"`
	SegmentEndTimes   []int64 `json:"segment_end_times"`
}

// Event is a single route event (user flags, engagement, alerts).
type Event struct {
	Type              string `json:"type"`
	RouteOffsetMillis int64  `json:"route_offset_millis"`
}

// RouteFiles fetches the uploaded file URLs for a route.
func (c *Client) RouteFiles(ctx context.Context, r route.Route) (FileList, error) {
	var files FileList
	path := fmt.Sprintf("/v1/route/%s/files", url.PathEscape(r.Canonical()))
	if err := c.getJSON(ctx, path, &files); err != nil {
		if errors.Is(err, errForbidden) {
			return FileList{}, c.accessError(r)
		}
		return FileList{}, fmt.Errorf("fetching file list for %s: %w", r, err)
	}
	return files, nil
}

// DeviceRouteSegments fetches the routes of a device overlapping the
// [startMillis, endMillis] wall-clock span. The API is known to return
// unrelated routes as well; callers filter.
func (c *Client) DeviceRouteSegments(ctx context.Context, dongleID string, startMillis, endMillis int64) ([]RouteInfo, error) {
	var infos []RouteInfo
	path := fmt.Sprintf("/v1/devices/%s/routes_segments?start=%d&end=%d", url.PathEscape(dongleID), startMillis, endMillis)
	if err := c.getJSON(ctx, path, &infos); err != nil {
		return nil, fmt.Errorf("fetching route segments for device %s: %w", dongleID, err)
	}
	return infos, nil
}

// ResolveAbsolute maps an absolute-time connect URL onto the route
// containing the span, converting wall clock millis into
// route-relative seconds.
func (c *Client) ResolveAbsolute(ctx context.Context, aw route.AbsoluteWindow) (route.Clip, error) {
	infos, err := c.DeviceRouteSegments(ctx, aw.DongleID, aw.StartMillis, aw.EndMillis)
	if err != nil {
		return route.Clip{}, err
	}

	for _, info := range infos {
		if aw.StartMillis < info.StartTimeUTC || aw.StartMillis > info.EndTimeUTC {
			continue
		}
		if aw.EndMillis < info.StartTimeUTC || aw.EndMillis > info.EndTimeUTC {
			continue
		}
		r, err := route.Parse(info.Fullname)
		if err != nil {
			return route.Clip{}, fmt.Errorf("API returned unparseable route %q: %w", info.Fullname, err)
		}
		start := int((aw.StartMillis - info.StartTimeUTC) / 1000)
		length := int((aw.EndMillis - aw.StartMillis) / 1000)
		if length < 1 {
			length = 1
		}
		return route.Clip{
			Route:  r,
			Window: route.Window{StartSeconds: start, EndSeconds: start + length},
		}, nil
	}

	if c.jwtToken != "" {
		return route.Clip{}, fmt.Errorf("%w: no route contains the requested span; make sure the JWT token is the full 181+ character token from https://jwt.comma.ai", ErrRouteNotFound)
	}
	return route.Clip{}, fmt.Errorf("%w: no route contains the requested span; the route may not be public — open it in connect, drop down \"More Info\", and toggle Public", ErrRouteNotFound)
}

// RouteEvents fetches the event list of a route.
func (c *Client) RouteEvents(ctx context.Context, r route.Route) ([]Event, error) {
	var events []Event
	path := fmt.Sprintf("/v1/route/%s/events", url.PathEscape(r.Canonical()))
	if err := c.getJSON(ctx, path, &events); err != nil {
		if errors.Is(err, errForbidden) {
			return nil, c.accessError(r)
		}
		return nil, fmt.Errorf("fetching events for %s: %w", r, err)
	}
	return events, nil
}

// UserFlags returns the seconds-from-start of every user_flag event,
// sorted ascending.
func (c *Client) UserFlags(ctx context.Context, r route.Route) ([]int, error) {
	events, err := c.RouteEvents(ctx, r)
	if err != nil {
		return nil, err
	}
	var flags []int
	for _, ev := range events {
		if ev.Type == "user_flag" {
			flags = append(flags, int((ev.RouteOffsetMillis+500)/1000))
		}
	}
	// Events arrive segment by segment; keep output ordered.
	sort.Ints(flags)
	return flags, nil
}

// errForbidden marks 401/403/404 responses so callers can produce the
// public-vs-JWT guidance.
var errForbidden = errors.New("access refused")

func (c *Client) accessError(r route.Route) error {
	if c.jwtToken != "" {
		return fmt.Errorf("%w: %s refused even with a JWT token; make sure you copied the full 181+ character token from https://jwt.comma.ai", ErrNotAccessible, r)
	}
	return fmt.Errorf("%w: %s; visit %s, drop down \"More Info\", and toggle Public (you can turn it back off afterwards)", ErrNotAccessible, r, r.ConnectURL())
}

// getJSON performs a GET with auth and retry, decoding the body into v.
// Transient failures (network errors, 5xx) retry with exponential
// backoff; 4xx do not.
func (c *Client) getJSON(ctx context.Context, path string, v any) error {
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		if c.jwtToken != "" {
			req.Header.Set("Authorization", "JWT "+c.jwtToken)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			c.logger.Debug("comma API request failed, will retry", zap.String("path", path), zap.Error(err))
			return err
		}
		defer resp.Body.Close()

		switch {
		case resp.StatusCode == http.StatusOK:
			if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
				return backoff.Permanent(fmt.Errorf("decoding response: %w", err))
			}
			return nil
		case resp.StatusCode >= 500:
			c.logger.Debug("comma API server error, will retry", zap.String("path", path), zap.Int("status", resp.StatusCode))
			return fmt.Errorf("comma API returned status %d", resp.StatusCode)
		case resp.StatusCode == http.StatusUnauthorized,
			resp.StatusCode == http.StatusForbidden,
			resp.StatusCode == http.StatusNotFound:
			return backoff.Permanent(errForbidden)
		default:
			body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
			return backoff.Permanent(fmt.Errorf("comma API returned status %d: %s", resp.StatusCode, body))
		}
	}

	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), c.retries), ctx)
	return backoff.Retry(op, policy)
}
