package route

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestParse_Shapes(t *testing.T) {
	want := Route{DongleID: "a2a0ccea32023010", Date: "2023-07-27--13-01-19"}

	tests := []struct {
		name  string
		input string
	}{
		{"pipe form", "a2a0ccea32023010|2023-07-27--13-01-19"},
		{"slash form", "a2a0ccea32023010/2023-07-27--13-01-19"},
		{"segment suffix", "a2a0ccea32023010|2023-07-27--13-01-19--5"},
		{"connect URL", "https://connect.comma.ai/a2a0ccea32023010/2023-07-27--13-01-19"},
		{"connect URL with timing", "https://connect.comma.ai/a2a0ccea32023010/2023-07-27--13-01-19/7/124"},
		{"whitespace", "  a2a0ccea32023010/2023-07-27--13-01-19  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.input)
			if err != nil {
				t.Fatalf("Parse(%q) failed: %v", tt.input, err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("Parse(%q) mismatch (-want +got):\n%s", tt.input, diff)
			}
		})
	}
}

func TestParse_ModernRouteNames(t *testing.T) {
	got, err := Parse("dcb4c2e18426be55/00000127--3a27bcdb5f")
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if got.Date != "00000127--3a27bcdb5f" {
		t.Errorf("expected Date=00000127--3a27bcdb5f, got %s", got.Date)
	}
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		wantErr error
	}{
		{"empty", "", ErrInvalid},
		{"wrong host", "https://example.com/a2a0ccea32023010/2023-07-27--13-01-19", ErrBadHost},
		{"short dongle", "abc123/2023-07-27--13-01-19", ErrInvalid},
		{"no double dash", "a2a0ccea32023010/notaroute", ErrInvalid},
		{"too many parts", "a2a0ccea32023010/2023-07-27--13-01-19/1/2/3", ErrInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.input); !errors.Is(err, tt.wantErr) {
				t.Errorf("Parse(%q) = %v, want %v", tt.input, err, tt.wantErr)
			}
		})
	}
}

func TestParseClip(t *testing.T) {
	got, err := ParseClip("https://connect.comma.ai/a2a0ccea32023010/2023-07-27--13-01-19/7/124")
	if err != nil {
		t.Fatalf("ParseClip failed: %v", err)
	}
	if got.Window.StartSeconds != 7 || got.Window.EndSeconds != 124 {
		t.Errorf("window = %+v, want 7..124", got.Window)
	}
	if got.Window.Length() != 117 {
		t.Errorf("Length() = %d, want 117", got.Window.Length())
	}

	if _, err := ParseClip("a2a0ccea32023010|2023-07-27--13-01-19"); !errors.Is(err, ErrNoTiming) {
		t.Errorf("expected ErrNoTiming for bare route, got %v", err)
	}
	if _, err := ParseClip("a2a0ccea32023010/2023-07-27--13-01-19/124/7"); !errors.Is(err, ErrBadWindow) {
		t.Errorf("expected ErrBadWindow for reversed window, got %v", err)
	}
}

func TestParseAbsolute(t *testing.T) {
	aw, ok := ParseAbsolute("https://connect.comma.ai/a2a0ccea32023010/1690488131496/1690488151496")
	if !ok {
		t.Fatal("expected absolute-time URL to be recognized")
	}
	if aw.DongleID != "a2a0ccea32023010" || aw.StartMillis != 1690488131496 || aw.EndMillis != 1690488151496 {
		t.Errorf("unexpected parse: %+v", aw)
	}

	// Route-relative URLs and reversed spans are not absolute windows.
	if _, ok := ParseAbsolute("https://connect.comma.ai/a2a0ccea32023010/2023-07-27--13-01-19/7/124"); ok {
		t.Error("route-relative URL misdetected as absolute")
	}
	if _, ok := ParseAbsolute("https://connect.comma.ai/a2a0ccea32023010/200/100"); ok {
		t.Error("reversed span misdetected as absolute")
	}

	// ParseClip on an absolute URL reports missing timing rather than
	// silently misreading milliseconds as a route.
	if _, err := ParseClip("https://connect.comma.ai/a2a0ccea32023010/1690488131496/1690488151496"); !errors.Is(err, ErrNoTiming) {
		t.Errorf("expected ErrNoTiming for absolute URL, got %v", err)
	}
}

func TestFindConnectLinks(t *testing.T) {
	text := "check out https://connect.comma.ai/a2a0ccea32023010/1690488131496/1690488151496 " +
		"and also https://example.com/other plus https://connect.comma.ai/dcb4c2e18426be55/00000127--3a27bcdb5f"
	links := FindConnectLinks(text)
	if len(links) != 2 {
		t.Fatalf("expected 2 connect links, got %d: %v", len(links), links)
	}
}

func TestFormatting(t *testing.T) {
	c := Clip{
		Route:  Route{DongleID: "a2a0ccea32023010", Date: "2023-07-27--13-01-19"},
		Window: Window{StartSeconds: 7, EndSeconds: 124},
	}
	if got := c.ConnectURL(); got != "https://connect.comma.ai/a2a0ccea32023010/2023-07-27--13-01-19/7/124" {
		t.Errorf("ConnectURL() = %s", got)
	}
	if got := c.Route.OutputFileName(); got != "a2a0ccea32023010-2023-07-27--13-01-19.mp4" {
		t.Errorf("OutputFileName() = %s", got)
	}
	if got := FormatTimestamp(125); got != "02:05" {
		t.Errorf("FormatTimestamp(125) = %s, want 02:05", got)
	}
}
