package route

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

// Parse errors callers branch on.
var (
	// ErrInvalid means the input is not a route or connect URL in any
	// recognized shape.
	ErrInvalid = errors.New("not a valid route or connect URL")

	// ErrBadHost means the input is a URL but not a connect.comma.ai one.
	ErrBadHost = errors.New("not a connect.comma.ai URL")

	// ErrNoTiming means the input names a route but carries no
	// start/end window.
	ErrNoTiming = errors.New("route has no start/end timing")

	// ErrBadWindow means the start/end pair is not a forward window.
	ErrBadWindow = errors.New("window end must be after start")
)

var linkRe = regexp.MustCompile(`https?://\S+`)

// AbsoluteWindow is the connect URL form addressing a span by wall
// clock instead of route-relative seconds:
// connect.comma.ai/<dongle>/<startMillis>/<endMillis>. It names no
// route; resolving it requires the routes_segments API.
type AbsoluteWindow struct {
	DongleID    string
	StartMillis int64
	EndMillis   int64
}

// Parse extracts the route named by s, which may be a canonical
// "dongle|name" route, a "dongle/name" route (with or without a
// trailing "--N" segment suffix), or a connect URL. Timing parts, when
// present, are ignored.
func Parse(s string) (Route, error) {
	parts, err := split(s)
	if err != nil {
		return Route{}, err
	}
	r, _, err := interpret(parts)
	return r, err
}

// ParseClip extracts a route plus render window from s. Inputs that
// name a route without timing return ErrNoTiming; absolute-time
// connect URLs do too, since they need API resolution (see
// ParseAbsolute).
func ParseClip(s string) (Clip, error) {
	parts, err := split(s)
	if err != nil {
		return Clip{}, err
	}
	r, w, err := interpret(parts)
	if err != nil {
		return Clip{}, err
	}
	if w == nil {
		return Clip{}, fmt.Errorf("%w: %q", ErrNoTiming, s)
	}
	return Clip{Route: r, Window: *w}, nil
}

// ParseAbsolute reports whether s is an absolute-time connect URL and,
// if so, returns its parts. The second return is false for every other
// shape, valid or not.
func ParseAbsolute(s string) (AbsoluteWindow, bool) {
	parts, err := split(s)
	if err != nil || len(parts) != 3 {
		return AbsoluteWindow{}, false
	}
	return absolute(parts)
}

func absolute(parts []string) (AbsoluteWindow, bool) {
	if !validDongleID(parts[0]) || strings.Contains(parts[1], "-") {
		return AbsoluteWindow{}, false
	}
	start, err1 := strconv.ParseInt(parts[1], 10, 64)
	end, err2 := strconv.ParseInt(parts[2], 10, 64)
	if err1 != nil || err2 != nil || start >= end {
		return AbsoluteWindow{}, false
	}
	return AbsoluteWindow{DongleID: parts[0], StartMillis: start, EndMillis: end}, true
}

// FindConnectLinks returns every connect.comma.ai link embedded in
// free-form text, in order of appearance.
func FindConnectLinks(text string) []string {
	var links []string
	for _, raw := range linkRe.FindAllString(text, -1) {
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		if u.Hostname() == "connect.comma.ai" {
			links = append(links, raw)
		}
	}
	return links
}

// split normalizes s into slash-separated path parts. URLs are checked
// for the connect hostname; pipe-form routes become two parts.
func split(s string) ([]string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrInvalid
	}
	if link := linkRe.FindString(s); link != "" {
		u, err := url.Parse(link)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
		}
		if u.Hostname() != "connect.comma.ai" {
			return nil, fmt.Errorf("%w: host %q", ErrBadHost, u.Hostname())
		}
		s = strings.Trim(u.Path, "/")
	}
	s = strings.ReplaceAll(s, "|", "/")
	parts := strings.Split(s, "/")
	for _, p := range parts {
		if p == "" {
			return nil, ErrInvalid
		}
	}
	return parts, nil
}

// interpret maps path parts onto a route and optional window.
// Two parts is a bare route, four is a route with relative seconds.
// Three parts is the absolute-time form, which carries no route name.
func interpret(parts []string) (Route, *Window, error) {
	switch len(parts) {
	case 2:
		r, err := makeRoute(parts[0], parts[1])
		return r, nil, err
	case 3:
		if _, ok := absolute(parts); ok {
			return Route{}, nil, fmt.Errorf("%w: absolute-time URL needs API resolution", ErrNoTiming)
		}
		return Route{}, nil, ErrInvalid
	case 4:
		r, err := makeRoute(parts[0], parts[1])
		if err != nil {
			return Route{}, nil, err
		}
		start, err1 := strconv.Atoi(parts[2])
		end, err2 := strconv.Atoi(parts[3])
		if err1 != nil || err2 != nil || start < 0 {
			return Route{}, nil, ErrInvalid
		}
		if end <= start {
			return Route{}, nil, fmt.Errorf("%w: %d..%d", ErrBadWindow, start, end)
		}
		return r, &Window{StartSeconds: start, EndSeconds: end}, nil
	default:
		return Route{}, nil, ErrInvalid
	}
}

func makeRoute(dongleID, date string) (Route, error) {
	if !validDongleID(dongleID) {
		return Route{}, fmt.Errorf("%w: bad dongle ID %q", ErrInvalid, dongleID)
	}
	date = stripSegmentSuffix(date)
	if !strings.Contains(date, "--") {
		return Route{}, fmt.Errorf("%w: bad route name %q", ErrInvalid, date)
	}
	return Route{DongleID: dongleID, Date: date}, nil
}

// Dongle IDs are 16 alphanumeric characters.
func validDongleID(s string) bool {
	if len(s) != 16 {
		return false
	}
	for _, ch := range s {
		switch {
		case ch >= '0' && ch <= '9':
		case ch >= 'a' && ch <= 'z':
		case ch >= 'A' && ch <= 'Z':
		default:
			return false
		}
	}
	return true
}
