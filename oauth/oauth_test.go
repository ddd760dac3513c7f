package oauth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatkit-go/chatkit/store"
	"github.com/chatkit-go/chatkit/utils"
)

func TestMemoryStateStore(t *testing.T) {
	ctx := context.Background()

	t.Run("issued states consume exactly once", func(t *testing.T) {
		s := &MemoryStateStore{}
		state, err := s.Issue(ctx)
		require.NoError(t, err)
		require.NotEmpty(t, state)

		require.NoError(t, s.Consume(ctx, state))
		require.Error(t, s.Consume(ctx, state), "a state is single-use")
	})

	t.Run("unknown states are rejected", func(t *testing.T) {
		s := &MemoryStateStore{}
		require.Error(t, s.Consume(ctx, "never-issued"))
	})

	t.Run("expired states are rejected", func(t *testing.T) {
		s := &MemoryStateStore{Expiration: time.Minute}
		s.now = time.Now
		state, err := s.Issue(ctx)
		require.NoError(t, err)

		s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
		require.Error(t, s.Consume(ctx, state))
	})
}

func TestJWTStateStore(t *testing.T) {
	ctx := context.Background()
	secret := []byte("0123456789abcdef")

	t.Run("round trip", func(t *testing.T) {
		s := &JWTStateStore{Secret: secret}
		state, err := s.Issue(ctx)
		require.NoError(t, err)
		require.NoError(t, s.Consume(ctx, state))
	})

	t.Run("another secret does not validate", func(t *testing.T) {
		issuer := &JWTStateStore{Secret: secret}
		state, err := issuer.Issue(ctx)
		require.NoError(t, err)

		verifier := &JWTStateStore{Secret: []byte("different-secret")}
		require.Error(t, verifier.Consume(ctx, state))
	})

	t.Run("expired states are rejected", func(t *testing.T) {
		s := &JWTStateStore{
			Secret:     secret,
			Expiration: time.Minute,
			now:        func() time.Time { return time.Now().Add(-time.Hour) },
		}
		state, err := s.Issue(ctx)
		require.NoError(t, err)
		require.Error(t, (&JWTStateStore{Secret: secret}).Consume(ctx, state))
	})

	t.Run("a secret is required to issue", func(t *testing.T) {
		_, err := (&JWTStateStore{}).Issue(ctx)
		require.Error(t, err)
	})
}

func newTestFlow(installations store.InstallationStore) *Flow {
	return &Flow{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		Scopes:       []string{"chat:write", "commands"},
		RedirectURI:  "https://app.example.com/slack/oauth_redirect",
		Store:        installations,
		Log:          utils.NewTestLogger(),
	}
}

func TestHandleInstall(t *testing.T) {
	flow := newTestFlow(store.NewMemoryStore())

	rec := httptest.NewRecorder()
	flow.HandleInstall(rec, httptest.NewRequest(http.MethodGet, "/slack/install", nil))

	require.Equal(t, http.StatusFound, rec.Code)
	redirect, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)

	assert.Equal(t, "slack.com", redirect.Host)
	q := redirect.Query()
	assert.Equal(t, "client-id", q.Get("client_id"))
	assert.Equal(t, "chat:write,commands", q.Get("scope"))
	assert.Equal(t, flow.RedirectURI, q.Get("redirect_uri"))
	require.NotEmpty(t, q.Get("state"))

	// the redirect carries a state the flow will accept exactly once
	require.NoError(t, flow.stateStore().Consume(context.Background(), q.Get("state")))
}

func TestHandleCallback(t *testing.T) {
	issueState := func(t *testing.T, flow *Flow) string {
		state, err := flow.stateStore().Issue(context.Background())
		require.NoError(t, err)
		return state
	}
	callback := func(flow *Flow, query url.Values) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		req := httptest.NewRequest(http.MethodGet, "/slack/oauth_redirect?"+query.Encode(), nil)
		flow.HandleCallback(rec, req)
		return rec
	}

	grant := &slack.OAuthV2Response{
		AccessToken: "xoxb-granted",
		Scope:       "chat:write,commands",
		BotUserID:   "UBOT",
		AppID:       "A1",
	}
	grant.Team.ID = "T1"
	grant.Team.Name = "acme"
	grant.AuthedUser.ID = "U-installer"

	t.Run("persists the installation", func(t *testing.T) {
		installations := store.NewMemoryStore()
		flow := newTestFlow(installations)
		flow.exchange = func(ctx context.Context, code string) (*slack.OAuthV2Response, error) {
			assert.Equal(t, "code-1", code)
			return grant, nil
		}

		rec := callback(flow, url.Values{"code": {"code-1"}, "state": {issueState(t, flow)}})
		require.Equal(t, http.StatusOK, rec.Code)

		saved, err := installations.FindInstallation(context.Background(), store.InstallationQuery{TeamID: "T1"})
		require.NoError(t, err)
		assert.Equal(t, "xoxb-granted", saved.BotToken)
		assert.Equal(t, []string{"chat:write", "commands"}, saved.BotScopes)
		assert.Equal(t, "U-installer", saved.UserID)
	})

	t.Run("missing code is a bad request", func(t *testing.T) {
		flow := newTestFlow(store.NewMemoryStore())
		rec := callback(flow, url.Values{"state": {issueState(t, flow)}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bad state is a bad request and skips the exchange", func(t *testing.T) {
		flow := newTestFlow(store.NewMemoryStore())
		flow.exchange = func(context.Context, string) (*slack.OAuthV2Response, error) {
			t.Fatal("the exchange must not run with a bad state")
			return nil, nil
		}
		rec := callback(flow, url.Values{"code": {"code-1"}, "state": {"forged"}})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("a state cannot be replayed", func(t *testing.T) {
		flow := newTestFlow(store.NewMemoryStore())
		flow.exchange = func(context.Context, string) (*slack.OAuthV2Response, error) {
			return grant, nil
		}
		state := issueState(t, flow)
		require.Equal(t, http.StatusOK, callback(flow, url.Values{"code": {"c"}, "state": {state}}).Code)
		assert.Equal(t, http.StatusBadRequest, callback(flow, url.Values{"code": {"c"}, "state": {state}}).Code)
	})

	t.Run("installer cancellation renders a page, not an error", func(t *testing.T) {
		flow := newTestFlow(store.NewMemoryStore())
		rec := callback(flow, url.Values{"error": {"access_denied"}})
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "cancelled")
	})

	t.Run("a failing exchange is a server error", func(t *testing.T) {
		flow := newTestFlow(store.NewMemoryStore())
		flow.exchange = func(context.Context, string) (*slack.OAuthV2Response, error) {
			return nil, fmt.Errorf("invalid_grant")
		}
		rec := callback(flow, url.Values{"code": {"bad"}, "state": {issueState(t, flow)}})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
