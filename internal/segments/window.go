// Package segments maps clip windows onto openpilot's 60-second route
// segments, validates that the needed uploads exist, and downloads and
// decompresses segment files.
package segments

import (
	"errors"
	"fmt"
	"strings"

	"opclip/internal/commaapi"
	"opclip/internal/route"
)

// SegmentSeconds is the fixed length of an openpilot route segment.
const SegmentSeconds = 60

// FileKind selects which per-segment files to fetch.
type FileKind string

const (
	KindCameras  FileKind = "cameras"  // forward camera, fcamera.hevc
	KindECameras FileKind = "ecameras" // wide camera, ecamera.hevc
	KindDCameras FileKind = "dcameras" // driver camera, dcamera.hevc
	KindLogs     FileKind = "logs"     // rlog.bz2 / rlog.zst
)

// DefaultKinds is what a UI render needs.
var DefaultKinds = []FileKind{KindCameras, KindECameras, KindLogs}

// ErrMissingUpload means a segment in the window has not been uploaded
// from the device yet.
var ErrMissingUpload = errors.New("segment upload missing")

// ValidateKinds checks a user-supplied kind list.
func ValidateKinds(kinds []FileKind) error {
	for _, k := range kinds {
		switch k {
		case KindCameras, KindECameras, KindDCameras, KindLogs:
		default:
			return fmt.Errorf("invalid file kind %q (valid: cameras, ecameras, dcameras, logs)", k)
		}
	}
	return nil
}

// ParseKinds converts CLI strings into file kinds.
func ParseKinds(names []string) ([]FileKind, error) {
	kinds := make([]FileKind, 0, len(names))
	for _, n := range names {
		kinds = append(kinds, FileKind(n))
	}
	if err := ValidateKinds(kinds); err != nil {
		return nil, err
	}
	return kinds, nil
}

// Plan returns the inclusive segment IDs covering the window, with
// smearSeconds pulled off the start (floored at zero) so the renderer
// has lead-in data. Think of it as a sliding window over 60-second
// chunks: start 10s length 60s covers segments 0 and 1.
func Plan(w route.Window, smearSeconds int) []int {
	start := w.StartSeconds - smearSeconds
	if start < 0 {
		start = 0
	}
	first := start / SegmentSeconds
	last := w.EndSeconds / SegmentSeconds
	ids := make([]int, 0, last-first+1)
	for id := first; id <= last; id++ {
		ids = append(ids, id)
	}
	return ids
}

// segmentFile returns the URL for a kind within one segment, or "".
func segmentFile(files commaapi.FileList, id int, kind FileKind) string {
	match := func(urls []string, name string) string {
		marker := fmt.Sprintf("/%d/%s", id, name)
		for _, u := range urls {
			if strings.Contains(u, marker) {
				return u
			}
		}
		return ""
	}
	switch kind {
	case KindCameras:
		return match(files.Cameras, "fcamera.hevc")
	case KindECameras:
		return match(files.ECameras, "ecamera.hevc")
	case KindDCameras:
		return match(files.DCameras, "dcamera.hevc")
	case KindLogs:
		if u := match(files.Logs, "rlog.bz2"); u != "" {
			return u
		}
		return match(files.Logs, "rlog.zst")
	default:
		return ""
	}
}

// Validate checks that every segment in the plan has an upload for
// every requested kind. The error tells the user how to trigger the
// upload from connect.
func Validate(files commaapi.FileList, r route.Route, ids []int, kinds []FileKind) error {
	callToAction := fmt.Sprintf("visit %s, drop down \"Files\", and select \"Upload All Files\"; try again once uploads finish", r.ConnectURL())

	for _, id := range ids {
		for _, kind := range kinds {
			if segmentFile(files, id, kind) != "" {
				continue
			}
			var what string
			switch kind {
			case KindCameras:
				what = "forward camera"
			case KindECameras:
				what = "wide camera"
			case KindDCameras:
				what = "driver camera"
			case KindLogs:
				what = "log"
			}
			return fmt.Errorf("%w: segment %d has no %s upload; %s", ErrMissingUpload, id, what, callToAction)
		}
	}
	return nil
}
