package transport

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/twitch-drops-go/internal/logger"
)

func testTransport(t *testing.T) *Client {
	t.Helper()
	log, err := logger.Setup(logger.Config{Level: slog.LevelError, Colored: false})
	require.NoError(t, err)
	c, err := NewClient(Options{
		CookieFile: filepath.Join(t.TempDir(), "cookies.json"),
	}, log)
	require.NoError(t, err)
	return c
}

func TestDoRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	c := testTransport(t)
	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.EqualValues(t, 2, hits.Load(), "the 502 is retried once")

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "ok", string(body), "the body survives the rewrap")
}

func TestDoPassesClientErrorsThrough(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	c := testTransport(t)
	resp, err := c.Get(context.Background(), srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.EqualValues(t, 1, hits.Load(), "4xx responses are not retried")
}

func TestDoRejectsCloseDeadlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("a request with an expired deadline must not reach the server")
	}))
	defer srv.Close()

	c := testTransport(t)
	_, err := c.Do(context.Background(), Request{
		Method:   http.MethodGet,
		URL:      srv.URL,
		Deadline: time.Now().Add(-time.Second),
	})
	assert.ErrorIs(t, err, ErrRequestInvalid)
}

func TestDoSetsUserAgentAndHeaders(t *testing.T) {
	var gotUA, gotExtra string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		gotExtra = r.Header.Get("X-Extra")
	}))
	defer srv.Close()

	c := testTransport(t)
	resp, err := c.Do(context.Background(), Request{
		Method:  http.MethodGet,
		URL:     srv.URL,
		Headers: map[string]string{"X-Extra": "value"},
	})
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, c.UserAgent(), gotUA)
	assert.Equal(t, "value", gotExtra)
}

func TestJarSaveLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "cookies.json")

	jar := NewJar(path)
	jar.Set("auth-token", "secret")
	jar.Set("unique_id", "device")
	require.NoError(t, jar.Save())

	reloaded := NewJar(path)
	require.NoError(t, reloaded.Load())
	assert.Equal(t, 2, reloaded.Len())
	assert.Equal(t, "secret", reloaded.Get("auth-token"))
	assert.Equal(t, "device", reloaded.Get("unique_id"))
}

func TestJarLoadMissingFile(t *testing.T) {
	jar := NewJar(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, jar.Load())
	assert.Equal(t, 0, jar.Len())
}

func TestJarSetCookiesExpiry(t *testing.T) {
	jar := NewJar(filepath.Join(t.TempDir(), "cookies.json"))
	u, err := url.Parse("https://www.twitch.tv/")
	require.NoError(t, err)

	jar.SetCookies(u, []*http.Cookie{{Name: "session", Value: "live"}})
	assert.Equal(t, "live", jar.Get("session"))

	// a negative MaxAge deletes the stored cookie
	jar.SetCookies(u, []*http.Cookie{{Name: "session", MaxAge: -1}})
	assert.Empty(t, jar.Get("session"))
}

func TestJarDomainScope(t *testing.T) {
	jar := NewJar(filepath.Join(t.TempDir(), "cookies.json"))
	twitch, err := url.Parse("https://gql.twitch.tv/gql")
	require.NoError(t, err)
	other, err := url.Parse("https://example.com/")
	require.NoError(t, err)

	jar.Set("auth-token", "secret") // scoped to twitch.tv

	assert.Len(t, jar.Cookies(twitch), 1, "subdomains match the stored domain")
	assert.Empty(t, jar.Cookies(other), "unrelated hosts get nothing")

	jar.ClearDomain("twitch.tv")
	assert.Equal(t, 0, jar.Len())
}
