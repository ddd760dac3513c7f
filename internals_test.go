package chatkit

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chatkit-go/chatkit/payload"
)

func TestNormalizeQuery(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		q, err := normalizeQuery(nil)
		require.NoError(t, err)
		assert.Equal(t, map[string][]string{}, q)
	})

	t.Run("raw string", func(t *testing.T) {
		q, err := normalizeQuery("a=1&a=2&b=x")
		require.NoError(t, err)
		assert.Equal(t, []string{"1", "2"}, q["a"])
		assert.Equal(t, []string{"x"}, q["b"])
	})

	t.Run("url.Values is copied, not aliased", func(t *testing.T) {
		in := url.Values{"a": {"1"}}
		q, err := normalizeQuery(in)
		require.NoError(t, err)
		in["a"][0] = "mutated"
		assert.Equal(t, []string{"1"}, q["a"])
	})

	t.Run("single-valued map", func(t *testing.T) {
		q, err := normalizeQuery(map[string]string{"a": "1"})
		require.NoError(t, err)
		assert.Equal(t, map[string][]string{"a": {"1"}}, q)
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := normalizeQuery(42)
		require.Error(t, err)
	})
}

func TestNormalizeHeaders(t *testing.T) {
	t.Run("names are lower-cased", func(t *testing.T) {
		h, err := normalizeHeaders(map[string]string{"Content-Type": "application/json"})
		require.NoError(t, err)
		assert.Equal(t, []string{"application/json"}, h["content-type"])
		_, exists := h["Content-Type"]
		assert.False(t, exists)
	})

	t.Run("http.Header", func(t *testing.T) {
		in := http.Header{}
		in.Add("X-Slack-Signature", "v0=abc")
		in.Add("x-slack-signature", "v0=def")
		h, err := normalizeHeaders(in)
		require.NoError(t, err)
		assert.Equal(t, []string{"v0=abc", "v0=def"}, h["x-slack-signature"])
	})

	t.Run("unsupported type", func(t *testing.T) {
		_, err := normalizeHeaders([]string{"nope"})
		require.Error(t, err)
	})
}

func TestExtractContentType(t *testing.T) {
	assert.Equal(t, "application/json",
		extractContentType(map[string][]string{"content-type": {"application/json; charset=utf-8"}}))
	assert.Equal(t, "", extractContentType(map[string][]string{}))
}

func TestParseBody(t *testing.T) {
	t.Run("json", func(t *testing.T) {
		body := parseBody(`{"type":"event_callback","team_id":"T1"}`, "application/json")
		assert.Equal(t, "T1", body["team_id"])
	})

	t.Run("json sniffed without content type", func(t *testing.T) {
		body := parseBody(`{"command":"/hello"}`, "")
		assert.Equal(t, "/hello", body["command"])
	})

	t.Run("form with an embedded payload document", func(t *testing.T) {
		doc := url.QueryEscape(`{"type":"block_actions","actions":[{"action_id":"a"}]}`)
		body := parseBody("payload="+doc, "application/x-www-form-urlencoded")
		assert.Equal(t, "block_actions", body["type"])
	})

	t.Run("flattened form", func(t *testing.T) {
		body := parseBody("command=%2Fhello&text=hi+there", "application/x-www-form-urlencoded")
		assert.Equal(t, "/hello", body["command"])
		assert.Equal(t, "hi there", body["text"])
	})

	t.Run("malformed bodies parse to empty, not error", func(t *testing.T) {
		assert.Equal(t, payload.Body{}, parseBody("{broken", "application/json"))
		assert.Equal(t, payload.Body{}, parseBody("payload=%7Bbroken", "application/x-www-form-urlencoded"))
		assert.Equal(t, payload.Body{}, parseBody("", "application/json"))
	})
}

func TestIdentityExtraction(t *testing.T) {
	t.Run("authorizations entry wins for events", func(t *testing.T) {
		body := payload.Body{
			"type":    "event_callback",
			"team_id": "T-origin",
			"authorizations": []interface{}{
				map[string]interface{}{
					"enterprise_id":         "E-recv",
					"team_id":               "T-recv",
					"is_enterprise_install": true,
				},
			},
			"event": map[string]interface{}{"type": "message", "user": "U1", "channel": "C1"},
		}
		c := buildContext(body)
		assert.Equal(t, "T-recv", c.TeamID)
		assert.Equal(t, "E-recv", c.EnterpriseID)
		assert.True(t, c.IsEnterpriseInstall)
		assert.Equal(t, "U1", c.UserID)
		assert.Equal(t, "C1", c.ChannelID)
	})

	t.Run("interactivity payload with nested objects", func(t *testing.T) {
		body := payload.Body{
			"type":         "block_actions",
			"team":         map[string]interface{}{"id": "T1"},
			"user":         map[string]interface{}{"id": "U1", "team_id": "T1"},
			"channel":      map[string]interface{}{"id": "C1"},
			"response_url": "https://hooks.example.com/r/1",
			"actions":      []interface{}{map[string]interface{}{"action_id": "a"}},
		}
		c := buildContext(body)
		assert.Equal(t, "T1", c.TeamID)
		assert.Equal(t, "U1", c.UserID)
		assert.Equal(t, "C1", c.ChannelID)
		assert.Equal(t, "https://hooks.example.com/r/1", c.ResponseURL)
	})

	t.Run("org-wide install falls back to user team", func(t *testing.T) {
		body := payload.Body{
			"type":       "block_actions",
			"team":       nil,
			"enterprise": map[string]interface{}{"id": "E1"},
			"user":       map[string]interface{}{"id": "U1", "team_id": "T-user"},
			"actions":    []interface{}{map[string]interface{}{"action_id": "a"}},
		}
		c := buildContext(body)
		assert.Equal(t, "T-user", c.TeamID)
		assert.Equal(t, "E1", c.EnterpriseID)
	})

	t.Run("view payload team fallback", func(t *testing.T) {
		body := payload.Body{
			"type": "view_submission",
			"user": map[string]interface{}{"id": "U1"},
			"view": map[string]interface{}{"team_id": "T-view", "callback_id": "cb"},
		}
		assert.Equal(t, "T-view", extractTeamID(body))
	})

	t.Run("reaction event channel under item", func(t *testing.T) {
		body := payload.Body{
			"type": "event_callback",
			"event": map[string]interface{}{
				"type": "reaction_added",
				"user": "U1",
				"item": map[string]interface{}{"type": "message", "channel": "C-item"},
			},
		}
		assert.Equal(t, "C-item", extractChannelID(body))
	})

	t.Run("slash command flat fields", func(t *testing.T) {
		body := payload.Body{
			"command":      "/hello",
			"team_id":      "T1",
			"user_id":      "U1",
			"channel_id":   "C1",
			"response_url": "https://hooks.example.com/r/2",
		}
		c := buildContext(body)
		assert.Equal(t, "T1", c.TeamID)
		assert.Equal(t, "U1", c.UserID)
		assert.Equal(t, "C1", c.ChannelID)
	})

	t.Run("response_urls array fallback", func(t *testing.T) {
		body := payload.Body{
			"response_urls": []interface{}{
				map[string]interface{}{"response_url": "https://hooks.example.com/r/3"},
			},
		}
		assert.Equal(t, "https://hooks.example.com/r/3", extractResponseURL(body))
	})

	t.Run("is_enterprise_install string form", func(t *testing.T) {
		assert.True(t, extractIsEnterpriseInstall(payload.Body{"is_enterprise_install": "true"}))
		assert.False(t, extractIsEnterpriseInstall(payload.Body{"is_enterprise_install": "false"}))
	})
}

func TestNewRequest(t *testing.T) {
	t.Run("defaults", func(t *testing.T) {
		req, err := NewRequest(`{"type":"event_callback","team_id":"T1","event":{"type":"message","text":"hi"}}`,
			nil, map[string]string{"Content-Type": "application/json"})
		require.NoError(t, err)
		assert.Equal(t, ModeHTTP, req.Mode)
		assert.Equal(t, "application/json", req.ContentType)
		assert.Equal(t, "T1", req.Context.TeamID)
		require.NotNil(t, req.Payload)
	})

	t.Run("mode override", func(t *testing.T) {
		req, err := NewRequest("{}", nil, nil, WithMode(ModeSocket))
		require.NoError(t, err)
		assert.Equal(t, ModeSocket, req.Mode)
	})

	t.Run("header lookup is case-insensitive", func(t *testing.T) {
		req, err := NewRequest("{}", nil, map[string]string{"X-Slack-Signature": "v0=abc"})
		require.NoError(t, err)
		assert.Equal(t, "v0=abc", req.Header("X-Slack-Signature"))
		assert.Equal(t, "v0=abc", req.Header("x-slack-signature"))
	})

	t.Run("bad query type surfaces as an error", func(t *testing.T) {
		_, err := NewRequest("{}", 42, nil)
		require.Error(t, err)
	})
}
