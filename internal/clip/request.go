// Package clip renders route clips through the external openpilot
// renderer, feeding a bounded queue of requests to a pool of workers.
package clip

import (
	"fmt"

	"github.com/google/uuid"

	"opclip/internal/route"
)

// Reporter receives progress for one request. The bot implements this
// against a Discord interaction; the CLI implements it against stdout.
type Reporter interface {
	// Queued is called once at enqueue with the number of requests
	// already in line.
	Queued(ahead int)

	// Rendering is called when a worker picks the request up.
	Rendering()

	// Succeeded delivers the rendered file. The path is only valid for
	// the duration of the call.
	Succeeded(path string, size int64)

	// Failed delivers the render error.
	Failed(err error)
}

// Request is one clip to render.
type Request struct {
	ID        string
	Requester string
	Clip      route.Clip
	Title     string

	// Bookmark requests come from /bookmarks fan-out; BookmarkSeconds
	// is the flagged instant inside the window.
	Bookmark        bool
	BookmarkSeconds int

	Reporter Reporter
}

// NewRequest builds a request with a fresh ID.
func NewRequest(requester string, c route.Clip, title string, reporter Reporter) Request {
	return Request{
		ID:        uuid.NewString(),
		Requester: requester,
		Clip:      c,
		Title:     title,
		Reporter:  reporter,
	}
}

// BookmarkLabel returns the flagged instant as "mm:ss".
func (r Request) BookmarkLabel() string {
	return route.FormatTimestamp(r.BookmarkSeconds)
}

// Description is the log-friendly one-liner for the request.
func (r Request) Description() string {
	if r.Bookmark {
		return fmt.Sprintf("%s (bookmark at %s)", r.Clip, r.BookmarkLabel())
	}
	return r.Clip.String()
}

// Bookmark windows: lead-in before the flag, tail after it.
const (
	bookmarkBeforeSeconds = 10
	bookmarkAfterSeconds  = 5
)

// BookmarkRequests fans a route's user-flag instants out into one clip
// request per flag, each windowed around its instant.
func BookmarkRequests(requester string, r route.Route, flagSeconds []int, reporter Reporter) []Request {
	reqs := make([]Request, 0, len(flagSeconds))
	for _, flag := range flagSeconds {
		start := flag - bookmarkBeforeSeconds
		if start < 0 {
			start = 0
		}
		reqs = append(reqs, Request{
			ID:        uuid.NewString(),
			Requester: requester,
			Clip: route.Clip{
				Route:  r,
				Window: route.Window{StartSeconds: start, EndSeconds: flag + bookmarkAfterSeconds},
			},
			Bookmark:        true,
			BookmarkSeconds: flag,
			Reporter:        reporter,
		})
	}
	return reqs
}

// discard is the Reporter used when none is provided.
type discard struct{}

func (discard) Queued(int)              {}
func (discard) Rendering()              {}
func (discard) Succeeded(string, int64) {}
func (discard) Failed(error)            {}
