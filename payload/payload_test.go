package payload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func eventBody(eventType string, extra Body) Body {
	event := Body{"type": eventType}
	for k, v := range extra {
		event[k] = v
	}
	return Body{
		"type":     "event_callback",
		"team_id":  "T111",
		"event":    event,
		"event_id": "Ev111",
	}
}

func TestKindOf(t *testing.T) {
	for name, tc := range map[string]struct {
		body     Body
		expected Kind
	}{
		"event": {
			body:     eventBody("app_mention", nil),
			expected: KindEvent,
		},
		"command": {
			body:     Body{"command": "/hello", "text": "hi"},
			expected: KindCommand,
		},
		"block actions": {
			body: Body{
				"type":    "block_actions",
				"actions": []interface{}{map[string]interface{}{"action_id": "a", "block_id": "b"}},
			},
			expected: KindBlockActions,
		},
		"attachment action": {
			body:     Body{"type": "interactive_message", "callback_id": "cb"},
			expected: KindAttachmentAction,
		},
		"dialog submission": {
			body:     Body{"type": "dialog_submission", "callback_id": "cb"},
			expected: KindDialogSubmission,
		},
		"dialog cancellation": {
			body:     Body{"type": "dialog_cancellation", "callback_id": "cb"},
			expected: KindDialogCancellation,
		},
		"global shortcut": {
			body:     Body{"type": "shortcut", "callback_id": "cb"},
			expected: KindGlobalShortcut,
		},
		"message shortcut": {
			body:     Body{"type": "message_action", "callback_id": "cb"},
			expected: KindMessageShortcut,
		},
		"view submission": {
			body:     Body{"type": "view_submission", "view": map[string]interface{}{"callback_id": "cb"}},
			expected: KindViewSubmission,
		},
		"view closed": {
			body:     Body{"type": "view_closed", "view": map[string]interface{}{"callback_id": "cb"}},
			expected: KindViewClosed,
		},
		"block suggestion": {
			body:     Body{"type": "block_suggestion", "action_id": "a", "value": "search"},
			expected: KindBlockSuggestion,
		},
		"dialog suggestion": {
			body:     Body{"type": "dialog_suggestion", "callback_id": "cb", "value": "search"},
			expected: KindDialogSuggestion,
		},
		"nil": {
			body:     nil,
			expected: KindUnknown,
		},
		"empty": {
			body:     Body{},
			expected: KindUnknown,
		},
		"url verification is not a dispatchable kind": {
			body:     Body{"type": "url_verification", "challenge": "ch"},
			expected: KindUnknown,
		},
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.expected, KindOf(tc.body))
		})
	}
}

func TestEventClassification(t *testing.T) {
	t.Run("requires a typed inner event", func(t *testing.T) {
		assert.False(t, IsEvent(Body{"type": "event_callback"}))
		assert.False(t, IsEvent(Body{"type": "event_callback", "event": map[string]interface{}{}}))
		assert.True(t, IsEvent(eventBody("reaction_added", nil)))
	})

	t.Run("subtyped messages still classify as messages", func(t *testing.T) {
		body := eventBody("message", Body{"subtype": "message_changed"})
		assert.True(t, IsMessage(body))
		require.NotNil(t, ToMessage(body))
		assert.Equal(t, "message_changed", String(ToMessage(body), "subtype"))
	})

	t.Run("non-message events are not messages", func(t *testing.T) {
		assert.False(t, IsMessage(eventBody("app_mention", nil)))
		assert.Nil(t, ToMessage(eventBody("app_mention", nil)))
	})
}

func TestBlockActionsRequireANonEmptyActionList(t *testing.T) {
	assert.False(t, IsBlockActions(Body{"type": "block_actions"}))
	assert.False(t, IsBlockActions(Body{"type": "block_actions", "actions": []interface{}{}}))
	assert.True(t, IsBlockActions(Body{
		"type":    "block_actions",
		"actions": []interface{}{map[string]interface{}{"action_id": "a"}},
	}))
}

func TestToAction(t *testing.T) {
	t.Run("block actions yield the first action", func(t *testing.T) {
		body := Body{
			"type": "block_actions",
			"actions": []interface{}{
				map[string]interface{}{"action_id": "first"},
				map[string]interface{}{"action_id": "second"},
			},
		}
		action := ToAction(body)
		require.NotNil(t, action)
		assert.Equal(t, "first", String(action, "action_id"))
	})

	t.Run("dialog payloads yield the whole body", func(t *testing.T) {
		body := Body{"type": "dialog_submission", "callback_id": "cb"}
		assert.Equal(t, body, ToAction(body))
	})

	t.Run("non-actions yield nil", func(t *testing.T) {
		assert.Nil(t, ToAction(eventBody("message", nil)))
	})
}

func TestToView(t *testing.T) {
	view := map[string]interface{}{"callback_id": "cb", "id": "V1"}
	body := Body{"type": "view_submission", "view": view}
	require.NotNil(t, ToView(body))
	assert.Equal(t, "cb", String(ToView(body), "callback_id"))

	assert.Nil(t, ToView(Body{"type": "view_submission"}))
}

func TestHousekeepingProbes(t *testing.T) {
	assert.True(t, IsURLVerification(Body{"type": "url_verification", "challenge": "ch"}))
	assert.False(t, IsURLVerification(Body{"type": "event_callback"}))

	assert.True(t, IsSSLCheck(Body{"ssl_check": "1", "token": "tok"}))
	assert.False(t, IsSSLCheck(Body{"ssl_check": "0"}))
	assert.False(t, IsSSLCheck(nil))
}

func TestHelpers(t *testing.T) {
	assert.Nil(t, SubMap(nil, "x"))
	assert.Nil(t, SubMap(Body{"x": "string"}, "x"))
	assert.Equal(t, Body{"y": 1.0}, SubMap(Body{"x": map[string]interface{}{"y": 1.0}}, "x"))

	assert.Equal(t, "", String(nil, "x"))
	assert.Equal(t, "", String(Body{"x": 7}, "x"))
	assert.Equal(t, "v", String(Body{"x": "v"}, "x"))

	assert.Nil(t, FirstAction(Body{}))
	assert.Nil(t, FirstAction(Body{"actions": []interface{}{"not-a-map"}}))
}
