package segments

import (
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"opclip/internal/commaapi"
	"opclip/internal/route"
)

func TestPlan(t *testing.T) {
	tests := []struct {
		name  string
		w     route.Window
		smear int
		want  []int
	}{
		{"window inside one segment", route.Window{StartSeconds: 5, EndSeconds: 35}, 0, []int{0}},
		{"window straddling a boundary", route.Window{StartSeconds: 10, EndSeconds: 70}, 0, []int{0, 1}},
		{"later segments", route.Window{StartSeconds: 400, EndSeconds: 460}, 0, []int{6, 7}},
		{"smear pulls in previous segment", route.Window{StartSeconds: 62, EndSeconds: 90}, 5, []int{0, 1}},
		{"smear floors at zero", route.Window{StartSeconds: 2, EndSeconds: 20}, 10, []int{0}},
		{"end on exact boundary includes next segment", route.Window{StartSeconds: 0, EndSeconds: 60}, 0, []int{0, 1}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Plan(tt.w, tt.smear)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("Plan(%+v, %d) mismatch (-want +got):\n%s", tt.w, tt.smear, diff)
			}
		})
	}
}

func TestParseKinds(t *testing.T) {
	kinds, err := ParseKinds([]string{"cameras", "logs"})
	if err != nil {
		t.Fatalf("ParseKinds failed: %v", err)
	}
	if len(kinds) != 2 || kinds[0] != KindCameras || kinds[1] != KindLogs {
		t.Errorf("unexpected kinds: %v", kinds)
	}

	if _, err := ParseKinds([]string{"cameras", "selfies"}); err == nil {
		t.Error("expected error for unknown kind")
	}
}

func testFileList() commaapi.FileList {
	return commaapi.FileList{
		Cameras: []string{
			"https://blob/route/0/fcamera.hevc?sig=x",
			"https://blob/route/1/fcamera.hevc?sig=x",
		},
		ECameras: []string{
			"https://blob/route/0/ecamera.hevc?sig=x",
			"https://blob/route/1/ecamera.hevc?sig=x",
		},
		Logs: []string{
			"https://blob/route/0/rlog.bz2?sig=x",
			"https://blob/route/1/rlog.zst?sig=x",
		},
	}
}

func TestValidate(t *testing.T) {
	r := route.Route{DongleID: "a2a0ccea32023010", Date: "2023-07-27--13-01-19"}
	files := testFileList()

	if err := Validate(files, r, []int{0, 1}, DefaultKinds); err != nil {
		t.Errorf("complete file list should validate: %v", err)
	}

	// Segment 2 has nothing uploaded.
	err := Validate(files, r, []int{0, 1, 2}, DefaultKinds)
	if !errors.Is(err, ErrMissingUpload) {
		t.Fatalf("expected ErrMissingUpload, got %v", err)
	}
	if got := err.Error(); !strings.Contains(got, "segment 2") || !strings.Contains(got, r.ConnectURL()) {
		t.Errorf("error should name the segment and the connect URL: %s", got)
	}

	// Driver camera was never requested, so its absence is fine; but
	// asking for it surfaces the hole.
	err = Validate(files, r, []int{0}, []FileKind{KindDCameras})
	if !errors.Is(err, ErrMissingUpload) {
		t.Errorf("expected ErrMissingUpload for driver camera, got %v", err)
	}
}
