package chatkit

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatkit-go/chatkit/payload"
)

func TestRunMiddlewareChain(t *testing.T) {
	passthrough := func(name string, order *[]string) Middleware {
		return MiddlewareFunc(name, func(a *Args, next func() error) error {
			*order = append(*order, name)
			return next()
		})
	}

	t.Run("runs in order", func(t *testing.T) {
		var order []string
		a := argsForBody(t, payload.Body{"command": "/x"})
		terminated, err := runMiddlewareChain([]Middleware{
			passthrough("first", &order),
			passthrough("second", &order),
		}, a)
		require.NoError(t, err)
		assert.False(t, terminated)
		assert.Equal(t, []string{"first", "second"}, order)
	})

	t.Run("not calling next terminates", func(t *testing.T) {
		var order []string
		stop := MiddlewareFunc("stop", func(a *Args, next func() error) error {
			return a.Response.Set(http.StatusOK, "stopped here")
		})
		a := argsForBody(t, payload.Body{"command": "/x"})
		terminated, err := runMiddlewareChain([]Middleware{
			passthrough("first", &order),
			stop,
			passthrough("never", &order),
		}, a)
		require.NoError(t, err)
		assert.True(t, terminated)
		assert.Equal(t, []string{"first"}, order)
		assert.Equal(t, "stopped here", a.Response.Body())
	})

	t.Run("an error terminates and propagates", func(t *testing.T) {
		failing := MiddlewareFunc("failing", func(a *Args, next func() error) error {
			return fmt.Errorf("boom")
		})
		a := argsForBody(t, payload.Body{"command": "/x"})
		terminated, err := runMiddlewareChain([]Middleware{failing}, a)
		assert.True(t, terminated)
		require.Error(t, err)
	})
}

func TestURLVerification(t *testing.T) {
	m := URLVerification()

	t.Run("echoes the challenge", func(t *testing.T) {
		a := argsForBody(t, payload.Body{"type": "url_verification", "challenge": "ch-42"})
		terminated, err := runMiddlewareChain([]Middleware{m}, a)
		require.NoError(t, err)
		assert.True(t, terminated)
		assert.Equal(t, http.StatusOK, a.Response.StatusCode)

		var body map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(a.Response.Body()), &body))
		assert.Equal(t, "ch-42", body["challenge"])
	})

	t.Run("passes everything else through", func(t *testing.T) {
		a := argsForBody(t, payload.Body{"command": "/x"})
		terminated, err := runMiddlewareChain([]Middleware{m}, a)
		require.NoError(t, err)
		assert.False(t, terminated)
	})
}

func TestSSLCheck(t *testing.T) {
	t.Run("answers the probe", func(t *testing.T) {
		a := argsForBody(t, payload.Body{"ssl_check": "1", "token": "tok"})
		terminated, err := runMiddlewareChain([]Middleware{SSLCheck("")}, a)
		require.NoError(t, err)
		assert.True(t, terminated)
		assert.Equal(t, http.StatusOK, a.Response.StatusCode)
	})

	t.Run("rejects a mismatched verification token", func(t *testing.T) {
		a := argsForBody(t, payload.Body{"ssl_check": "1", "token": "wrong"})
		terminated, err := runMiddlewareChain([]Middleware{SSLCheck("expected")}, a)
		require.NoError(t, err)
		assert.True(t, terminated)
		assert.Equal(t, http.StatusUnauthorized, a.Response.StatusCode)
	})
}

func signedArgs(t *testing.T, body, secret string, ts time.Time) *Args {
	t.Helper()
	timestamp := strconv.FormatInt(ts.Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	_, err := mac.Write([]byte("v0:" + timestamp + ":" + body))
	require.NoError(t, err)

	req, err := NewRequest(body, nil, map[string]string{
		"content-type":              "application/json",
		"x-slack-signature":         "v0=" + hex.EncodeToString(mac.Sum(nil)),
		"x-slack-request-timestamp": timestamp,
	})
	require.NoError(t, err)
	return buildArgs(req, newUnhandledResponse())
}

func TestRequestVerification(t *testing.T) {
	const secret = "8f742231b10e8888abcd99yyyzzz85a5"
	body := `{"command":"/hello"}`

	t.Run("accepts a valid signature", func(t *testing.T) {
		a := signedArgs(t, body, secret, time.Now())
		terminated, err := runMiddlewareChain([]Middleware{RequestVerification(secret)}, a)
		require.NoError(t, err)
		assert.False(t, terminated)
	})

	t.Run("rejects a wrong signature", func(t *testing.T) {
		a := signedArgs(t, body, "some-other-secret", time.Now())
		terminated, err := runMiddlewareChain([]Middleware{RequestVerification(secret)}, a)
		require.NoError(t, err)
		assert.True(t, terminated)
		assert.Equal(t, http.StatusUnauthorized, a.Response.StatusCode)
	})

	t.Run("rejects a stale timestamp", func(t *testing.T) {
		a := signedArgs(t, body, secret, time.Now().Add(-time.Hour))
		terminated, err := runMiddlewareChain([]Middleware{RequestVerification(secret)}, a)
		require.NoError(t, err)
		assert.True(t, terminated)
		assert.Equal(t, http.StatusUnauthorized, a.Response.StatusCode)
	})

	t.Run("skips socket-transport requests", func(t *testing.T) {
		req, err := NewRequest(body, nil, nil, WithMode(ModeSocket))
		require.NoError(t, err)
		a := buildArgs(req, newUnhandledResponse())
		terminated, err := runMiddlewareChain([]Middleware{RequestVerification(secret)}, a)
		require.NoError(t, err)
		assert.False(t, terminated)
	})
}

func TestIgnoringSelfEvents(t *testing.T) {
	selfEvent := func(botUserID string) *Args {
		a := eventArgs(t, "message", payload.Body{"user": botUserID, "text": "hi"})
		a.Context.AuthorizeResult = &AuthorizeResult{BotUserID: "UBOT", BotID: "B1"}
		return a
	}

	t.Run("acknowledges an own event", func(t *testing.T) {
		a := selfEvent("UBOT")
		terminated, err := runMiddlewareChain([]Middleware{IgnoringSelfEvents()}, a)
		require.NoError(t, err)
		assert.True(t, terminated)
		assert.Equal(t, http.StatusOK, a.Response.StatusCode)
	})

	t.Run("passes other users through", func(t *testing.T) {
		a := selfEvent("USOMEONE")
		terminated, err := runMiddlewareChain([]Middleware{IgnoringSelfEvents()}, a)
		require.NoError(t, err)
		assert.False(t, terminated)
	})

	t.Run("without an authorize result nothing is suppressed", func(t *testing.T) {
		a := eventArgs(t, "message", payload.Body{"user": "UBOT"})
		terminated, err := runMiddlewareChain([]Middleware{IgnoringSelfEvents()}, a)
		require.NoError(t, err)
		assert.False(t, terminated)
	})
}

func TestMessageListenerMatches(t *testing.T) {
	m, err := MessageListenerMatches(regexp.MustCompile(`deploy (\w+) to (\w+)`))
	require.NoError(t, err)

	t.Run("stores capture groups under matches", func(t *testing.T) {
		a := eventArgs(t, "message", payload.Body{"text": "please deploy api to prod now"})
		terminated, err := runMiddlewareChain([]Middleware{m}, a)
		require.NoError(t, err)
		assert.False(t, terminated)
		assert.Equal(t, []string{"api", "prod"}, a.Context.Matches())
	})

	t.Run("a non-matching text terminates without error", func(t *testing.T) {
		a := eventArgs(t, "message", payload.Body{"text": "hello"})
		terminated, err := runMiddlewareChain([]Middleware{m}, a)
		require.NoError(t, err)
		assert.True(t, terminated)
		assert.Nil(t, a.Context.Matches())
	})

	t.Run("rejects a bad keyword at registration", func(t *testing.T) {
		_, err := MessageListenerMatches("([")
		require.Error(t, err)
		_, err = MessageListenerMatches(42)
		require.Error(t, err)
	})
}

func TestAuthorization(t *testing.T) {
	granted := AuthorizeFunc(func(ctx context.Context, args AuthorizeArgs) (*AuthorizeResult, error) {
		return &AuthorizeResult{
			TeamID:    args.TeamID,
			BotID:     "B1",
			BotUserID: "UBOT",
			BotToken:  "xoxb-resolved",
		}, nil
	})
	denied := AuthorizeFunc(func(ctx context.Context, args AuthorizeArgs) (*AuthorizeResult, error) {
		return nil, fmt.Errorf("no installation")
	})

	t.Run("attaches the result to the context", func(t *testing.T) {
		a := argsForBody(t, payload.Body{"command": "/x", "team_id": "T1"})
		terminated, err := runMiddlewareChain([]Middleware{Authorization(granted)}, a)
		require.NoError(t, err)
		assert.False(t, terminated)
		assert.Equal(t, "xoxb-resolved", a.Context.Token)
		assert.Equal(t, "B1", a.Context.BotID)
		assert.Equal(t, "UBOT", a.Context.BotUserID)
		require.NotNil(t, a.Context.AuthorizeResult)
	})

	t.Run("failure yields 401 with the reinstall prompt", func(t *testing.T) {
		a := argsForBody(t, payload.Body{"command": "/x", "team_id": "T1"})
		terminated, err := runMiddlewareChain([]Middleware{Authorization(denied)}, a)
		require.NoError(t, err)
		assert.True(t, terminated)
		assert.Equal(t, http.StatusUnauthorized, a.Response.StatusCode)
		assert.Equal(t, reinstallPrompt, a.Response.Body())
	})

	t.Run("housekeeping payloads pass through unauthorized", func(t *testing.T) {
		a := argsForBody(t, payload.Body{"type": "url_verification", "challenge": "ch"})
		terminated, err := runMiddlewareChain([]Middleware{Authorization(denied)}, a)
		require.NoError(t, err)
		assert.False(t, terminated)
		assert.Empty(t, a.Context.Token)
	})
}

func TestArgsGet(t *testing.T) {
	a := argsForBody(t, payload.Body{"command": "/hello", "text": "hi"})

	v, err := a.Get(ArgCommand)
	require.NoError(t, err)
	assert.Equal(t, a.Command, v)

	v, err = a.Get(ArgAck)
	require.NoError(t, err)
	assert.NotNil(t, v)

	_, err = a.Get("bogus")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownArg)
}

func TestArgsPayloadAlias(t *testing.T) {
	t.Run("command payload", func(t *testing.T) {
		a := argsForBody(t, payload.Body{"command": "/hello"})
		assert.Equal(t, a.Command, a.Payload)
		assert.Nil(t, a.Event)
	})

	t.Run("block action payload resolves to the first action", func(t *testing.T) {
		a := blockActionArgs(t, "approve", "controls")
		require.NotNil(t, a.Action)
		assert.Equal(t, a.Action, a.Payload)
		assert.Equal(t, "approve", payload.String(a.Action, "action_id"))
	})

	t.Run("unknown payload falls back to the body", func(t *testing.T) {
		a := argsForBody(t, payload.Body{"something": "else"})
		assert.Equal(t, a.Body, a.Payload)
	})
}

func TestAckFirstWins(t *testing.T) {
	a := argsForBody(t, payload.Body{"command": "/x"})
	require.NoError(t, a.Ack("first"))
	require.NoError(t, a.Ack("second"))
	assert.Equal(t, http.StatusOK, a.Response.StatusCode)
	assert.Equal(t, "first", a.Response.Body())
}
