// Package route parses openpilot route identifiers and connect.comma.ai
// URLs, and formats them back for display. A route is canonically
// "dongleID|dateSegment" (e.g. "a2a0ccea32023010|2023-07-27--13-01-19");
// connect URLs carry the same parts separated by slashes, optionally
// followed by clip timing.
package route

import (
	"fmt"
	"strings"
)

// ConnectBaseURL is the public route viewer.
const ConnectBaseURL = "https://connect.comma.ai"

// Route identifies a single drive: a dongle ID plus the date-based
// segment name assigned by the device.
type Route struct {
	DongleID string
	Date     string
}

// Canonical returns the pipe-separated form used by the comma API.
func (r Route) Canonical() string {
	return r.DongleID + "|" + r.Date
}

// Slash returns the slash-separated form used in connect URLs.
func (r Route) Slash() string {
	return r.DongleID + "/" + r.Date
}

// ConnectURL returns the connect.comma.ai page for the route.
func (r Route) ConnectURL() string {
	return fmt.Sprintf("%s/%s", ConnectBaseURL, r.Slash())
}

// OutputFileName returns the mp4 file name used for rendered clips.
func (r Route) OutputFileName() string {
	return r.DongleID + "-" + r.Date + ".mp4"
}

func (r Route) String() string {
	return r.Canonical()
}

// IsZero reports whether the route is unset.
func (r Route) IsZero() bool {
	return r.DongleID == "" && r.Date == ""
}

// Markdown returns the route as a Discord-flavored markdown link.
func (r Route) Markdown() string {
	return fmt.Sprintf("[`%s`](%s)", r.Slash(), r.ConnectURL())
}

// Window is a time span within a route, in whole seconds from the
// start of the drive.
type Window struct {
	StartSeconds int
	EndSeconds   int
}

// Length returns the window length in seconds.
func (w Window) Length() int {
	return w.EndSeconds - w.StartSeconds
}

// Slash returns the "start/end" suffix appended to connect URLs.
func (w Window) Slash() string {
	return fmt.Sprintf("%d/%d", w.StartSeconds, w.EndSeconds)
}

// Clip is a route together with the window to render.
type Clip struct {
	Route  Route
	Window Window
}

// ConnectURL returns the connect.comma.ai page scoped to the window.
func (c Clip) ConnectURL() string {
	return fmt.Sprintf("%s/%s/%s", ConnectBaseURL, c.Route.Slash(), c.Window.Slash())
}

// String returns the slash form with timing, as shown to users.
func (c Clip) String() string {
	return c.Route.Slash() + "/" + c.Window.Slash()
}

// Markdown returns the clip as a Discord-flavored markdown link.
func (c Clip) Markdown() string {
	return fmt.Sprintf("[`%s`](%s)", c.String(), c.ConnectURL())
}

// FormatTimestamp renders seconds-from-start as "mm:ss" for bookmark
// labels.
func FormatTimestamp(seconds int) string {
	return fmt.Sprintf("%02d:%02d", seconds/60, seconds%60)
}

// stripSegmentSuffix removes a trailing "--N" segment index so a segment
// name can stand in for its route ("...-19--5" -> "...-19"). The date
// part itself contains "--" separators, so only a short purely numeric
// final group is stripped.
func stripSegmentSuffix(date string) string {
	idx := strings.LastIndex(date, "--")
	if idx < 0 {
		return date
	}
	tail := date[idx+2:]
	if tail == "" || len(tail) > 4 {
		return date
	}
	for _, ch := range tail {
		if ch < '0' || ch > '9' {
			return date
		}
	}
	return date[:idx]
}
