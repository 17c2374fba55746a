package commaapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"opclip/internal/route"
)

var testRoute = route.Route{DongleID: "a2a0ccea32023010", Date: "2023-07-27--13-01-19"}

func TestClient_RouteFiles(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/route/a2a0ccea32023010%7C2023-07-27--13-01-19/files", r.URL.EscapedPath())
		assert.Equal(t, "JWT secret", r.Header.Get("Authorization"))
		fmt.Fprint(w, `{
			"cameras": ["https://blob/0/fcamera.hevc", "https://blob/1/fcamera.hevc"],
			"ecameras": ["https://blob/0/ecamera.hevc"],
			"logs": ["https://blob/0/rlog.bz2"]
		}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithJWT("secret"))
	files, err := c.RouteFiles(context.Background(), testRoute)
	require.NoError(t, err)
	assert.Len(t, files.Cameras, 2)
	assert.Len(t, files.ECameras, 1)
	assert.Len(t, files.Logs, 1)
	assert.Empty(t, files.DCameras)
}

func TestClient_RouteFiles_NotAccessible(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	t.Run("without JWT the error points at the Public toggle", func(t *testing.T) {
		c := New(srv.URL)
		_, err := c.RouteFiles(context.Background(), testRoute)
		require.ErrorIs(t, err, ErrNotAccessible)
		assert.Contains(t, err.Error(), "toggle Public")
		assert.Contains(t, err.Error(), testRoute.ConnectURL())
	})

	t.Run("with JWT the error points at the token", func(t *testing.T) {
		c := New(srv.URL, WithJWT("short"))
		_, err := c.RouteFiles(context.Background(), testRoute)
		require.ErrorIs(t, err, ErrNotAccessible)
		assert.Contains(t, err.Error(), "jwt.comma.ai")
	})
}

func TestClient_RetriesServerErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		fmt.Fprint(w, `{"cameras": []}`)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetries(5))
	_, err := c.RouteFiles(context.Background(), testRoute)
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestClient_DoesNotRetryClientErrors(t *testing.T) {
	var calls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := New(srv.URL, WithRetries(5))
	_, err := c.RouteFiles(context.Background(), testRoute)
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestClient_ResolveAbsolute(t *testing.T) {
	// Wall-clock span from the connect URL form; the second route
	// contains it, the first is the unrelated noise the API is known
	// to include.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.True(t, strings.HasPrefix(r.URL.Path, "/v1/devices/a2a0ccea32023010/routes_segments"))
		assert.Equal(t, "1690488152777", r.URL.Query().Get("start"))
		assert.Equal(t, "1690488186013", r.URL.Query().Get("end"))
		fmt.Fprint(w, `[
			{
				"fullname": "a2a0ccea32023010|2023-07-01--09-00-00",
				"start_time_utc_millis": 1688202000000,
				"end_time_utc_millis": 1688202600000
			},
			{
				"fullname": "a2a0ccea32023010|2023-07-27--13-01-19",
				"start_time_utc_millis": 1690488081496,
				"end_time_utc_millis": 1690488851596
			}
		]`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	clip, err := c.ResolveAbsolute(context.Background(), route.AbsoluteWindow{
		DongleID:    "a2a0ccea32023010",
		StartMillis: 1690488152777,
		EndMillis:   1690488186013,
	})
	require.NoError(t, err)
	assert.Equal(t, testRoute, clip.Route)
	assert.Equal(t, 71, clip.Window.StartSeconds)
	assert.Equal(t, 33, clip.Window.Length())
}

func TestClient_ResolveAbsolute_NoMatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.ResolveAbsolute(context.Background(), route.AbsoluteWindow{
		DongleID:    "a2a0ccea32023010",
		StartMillis: 100,
		EndMillis:   200,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRouteNotFound))
	assert.Contains(t, err.Error(), "Public")
}

func TestClient_UserFlags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Out of order, mixed types; 1499ms rounds to 1s, 1500 to 2s.
		fmt.Fprint(w, `[
			{"type": "user_flag", "route_offset_millis": 90000},
			{"type": "engage", "route_offset_millis": 1000},
			{"type": "user_flag", "route_offset_millis": 1499},
			{"type": "user_flag", "route_offset_millis": 30500}
		]`)
	}))
	defer srv.Close()

	c := New(srv.URL)
	flags, err := c.UserFlags(context.Background(), testRoute)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 31, 90}, flags)
}
