package gql

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Guliveer/twitch-drops-go/internal/constants"
	"github.com/Guliveer/twitch-drops-go/internal/logger"
	"github.com/Guliveer/twitch-drops-go/internal/transport"
)

// fakeProvider is a pre-validated session for client tests.
type fakeProvider struct {
	invalidated atomic.Bool
}

func (p *fakeProvider) Validate(context.Context) error { return nil }
func (p *fakeProvider) AccessToken() string            { return "token" }
func (p *fakeProvider) UserID() int                    { return 123 }
func (p *fakeProvider) Login() string                  { return "user" }
func (p *fakeProvider) Invalidate()                    { p.invalidated.Store(true) }

func (p *fakeProvider) Headers(bool) map[string]string {
	return map[string]string{"Authorization": "OAuth token"}
}

func testGQL(t *testing.T, handler http.HandlerFunc) (*Client, *fakeProvider) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	log, err := logger.Setup(logger.Config{Level: slog.LevelError, Colored: false})
	require.NoError(t, err)
	httpClient, err := transport.NewClient(transport.Options{
		CookieFile: filepath.Join(t.TempDir(), "cookies.json"),
	}, log)
	require.NoError(t, err)

	provider := &fakeProvider{}
	c := NewClient(provider, httpClient, log)
	c.url = srv.URL
	return c, provider
}

func TestDoReturnsData(t *testing.T) {
	c, _ := testGQL(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "OAuth token", r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(`{"data":{"ok":true}}`))
	})

	data, err := c.Do(context.Background(), constants.GQLSlugRedirect)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
}

func TestDoUnauthorizedInvalidatesSession(t *testing.T) {
	c, provider := testGQL(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})

	_, err := c.Do(context.Background(), constants.GQLSlugRedirect)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.True(t, provider.invalidated.Load())
}

func TestDoRetriesServiceTimeout(t *testing.T) {
	var hits atomic.Int32
	c, _ := testGQL(t, func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			_, _ = w.Write([]byte(`{"errors":[{"message":"service timeout"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"ok":true}}`))
	})

	data, err := c.Do(context.Background(), constants.GQLSlugRedirect)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(data))
	assert.EqualValues(t, 2, hits.Load(), "the identical request is resent after a service timeout")
}

func TestDoSurfacesGQLErrors(t *testing.T) {
	c, _ := testGQL(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"errors":[{"message":"persisted query not found"}]}`))
	})

	_, err := c.Do(context.Background(), constants.GQLSlugRedirect)
	var gqlErr *Error
	require.ErrorAs(t, err, &gqlErr)
	assert.Equal(t, "persisted query not found", gqlErr.Message)
}

func TestDoBatchDecodesInOrder(t *testing.T) {
	c, _ := testGQL(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"data":{"n":1}},{"data":{"n":2}}]`))
	})

	out, err := c.DoBatch(context.Background(),
		[]constants.GQLOperation{constants.GQLSlugRedirect, constants.GQLSlugRedirect})
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.JSONEq(t, `{"n":1}`, string(out[0]))
	assert.JSONEq(t, `{"n":2}`, string(out[1]))
}

func TestDoBatchRejectsShortResponses(t *testing.T) {
	c, _ := testGQL(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"data":{"n":1}}]`))
	})

	_, err := c.DoBatch(context.Background(),
		[]constants.GQLOperation{constants.GQLSlugRedirect, constants.GQLSlugRedirect})
	assert.Error(t, err)
}

func TestClaimDropStatusMapping(t *testing.T) {
	tests := []struct {
		status string
		want   bool
	}{
		{"ELIGIBLE_FOR_ALL", true},
		{"DROP_INSTANCE_ALREADY_CLAIMED", true},
		{"NOT_CONNECTED", false},
	}
	for _, tc := range tests {
		t.Run(tc.status, func(t *testing.T) {
			c, _ := testGQL(t, func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(
					`{"data":{"claimDropRewards":{"status":"` + tc.status + `"}}}`))
			})
			ok, err := c.ClaimDrop(context.Background(), "claim-1")
			require.NoError(t, err)
			assert.Equal(t, tc.want, ok)
		})
	}
}
