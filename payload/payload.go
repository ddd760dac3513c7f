// Package payload classifies parsed request bodies into interaction kinds.
//
// Every function here is a pure, best-effort filter: malformed or ambiguous
// bodies classify as "not this kind" rather than returning an error. The
// functions encode the platform's routing rules, one rule per function.
package payload

// Body is a parsed request body. Nested objects are map[string]interface{}
// and arrays are []interface{}, as produced by encoding/json.
type Body = map[string]interface{}

// Kind names one of the built-in payload kinds.
type Kind string

const (
	KindUnknown            Kind = ""
	KindEvent              Kind = "event"
	KindCommand            Kind = "command"
	KindBlockActions       Kind = "block_actions"
	KindAttachmentAction   Kind = "interactive_message"
	KindDialogSubmission   Kind = "dialog_submission"
	KindDialogCancellation Kind = "dialog_cancellation"
	KindGlobalShortcut     Kind = "shortcut"
	KindMessageShortcut    Kind = "message_action"
	KindViewSubmission     Kind = "view_submission"
	KindViewClosed         Kind = "view_closed"
	KindBlockSuggestion    Kind = "block_suggestion"
	KindDialogSuggestion   Kind = "dialog_suggestion"
)

// KindOf classifies a body into one of the built-in kinds.
func KindOf(body Body) Kind {
	switch {
	case IsEvent(body):
		return KindEvent
	case IsCommand(body):
		return KindCommand
	case IsBlockActions(body):
		return KindBlockActions
	case IsAttachmentAction(body):
		return KindAttachmentAction
	case IsDialogSubmission(body):
		return KindDialogSubmission
	case IsDialogCancellation(body):
		return KindDialogCancellation
	case IsGlobalShortcut(body):
		return KindGlobalShortcut
	case IsMessageShortcut(body):
		return KindMessageShortcut
	case IsViewSubmission(body):
		return KindViewSubmission
	case IsViewClosed(body):
		return KindViewClosed
	case IsBlockSuggestion(body):
		return KindBlockSuggestion
	case IsDialogSuggestion(body):
		return KindDialogSuggestion
	default:
		return KindUnknown
	}
}

// -------------------
// Events API
// -------------------

// IsEvent reports whether body is an Events API callback with a typed inner
// event.
func IsEvent(body Body) bool {
	if !isExpectedType(body, "event_callback") {
		return false
	}
	event := SubMap(body, "event")
	if event == nil {
		return false
	}
	_, ok := event["type"].(string)
	return ok
}

// ToEvent extracts the inner event object, or nil.
func ToEvent(body Body) Body {
	if !IsEvent(body) {
		return nil
	}
	return SubMap(body, "event")
}

// IsMessage reports whether body is a "message" event callback. Subtyped
// message events (edits, deletions, ...) still classify as messages here;
// matchers constrain the subtype separately.
func IsMessage(body Body) bool {
	event := ToEvent(body)
	return event != nil && event["type"] == "message"
}

// ToMessage extracts the message event, or nil.
func ToMessage(body Body) Body {
	if !IsMessage(body) {
		return nil
	}
	return ToEvent(body)
}

// -------------------
// Slash commands
// -------------------

func IsCommand(body Body) bool {
	_, ok := body["command"]
	return body != nil && ok
}

func ToCommand(body Body) Body {
	if !IsCommand(body) {
		return nil
	}
	return body
}

// -------------------
// Actions
// -------------------

func IsAction(body Body) bool {
	return IsBlockActions(body) ||
		IsAttachmentAction(body) ||
		IsDialogSubmission(body) ||
		IsDialogCancellation(body)
}

// ToAction extracts the action sub-payload. For block_actions and
// interactive_message payloads the matched sub-payload is actions[0];
// dialog payloads carry the action data at the top level.
func ToAction(body Body) Body {
	if !IsAction(body) {
		return nil
	}
	if IsBlockActions(body) || IsAttachmentAction(body) {
		return FirstAction(body)
	}
	return body
}

func IsBlockActions(body Body) bool {
	if !isExpectedType(body, "block_actions") {
		return false
	}
	actions, ok := body["actions"].([]interface{})
	return ok && len(actions) > 0
}

func IsAttachmentAction(body Body) bool {
	return isExpectedType(body, "interactive_message") && hasKey(body, "callback_id")
}

func IsDialogSubmission(body Body) bool {
	return isExpectedType(body, "dialog_submission") && hasKey(body, "callback_id")
}

func IsDialogCancellation(body Body) bool {
	return isExpectedType(body, "dialog_cancellation") && hasKey(body, "callback_id")
}

// FirstAction returns actions[0] as a map, or nil.
func FirstAction(body Body) Body {
	actions, ok := body["actions"].([]interface{})
	if !ok || len(actions) == 0 {
		return nil
	}
	first, ok := actions[0].(map[string]interface{})
	if !ok {
		return nil
	}
	return first
}

// -------------------
// Shortcuts
// -------------------

func IsShortcut(body Body) bool {
	return IsGlobalShortcut(body) || IsMessageShortcut(body)
}

func ToShortcut(body Body) Body {
	if !IsShortcut(body) {
		return nil
	}
	return body
}

func IsGlobalShortcut(body Body) bool {
	return isExpectedType(body, "shortcut") && hasKey(body, "callback_id")
}

func IsMessageShortcut(body Body) bool {
	return isExpectedType(body, "message_action") && hasKey(body, "callback_id")
}

// -------------------
// Views
// -------------------

func IsView(body Body) bool {
	return IsViewSubmission(body) || IsViewClosed(body)
}

func ToView(body Body) Body {
	if !IsView(body) {
		return nil
	}
	return SubMap(body, "view")
}

func IsViewSubmission(body Body) bool {
	return isExpectedType(body, "view_submission") && SubMap(body, "view") != nil
}

func IsViewClosed(body Body) bool {
	return isExpectedType(body, "view_closed") && SubMap(body, "view") != nil
}

// -------------------
// Options (suggestions)
// -------------------

func IsOptions(body Body) bool {
	return IsBlockSuggestion(body) || IsDialogSuggestion(body)
}

func ToOptions(body Body) Body {
	if !IsOptions(body) {
		return nil
	}
	return body
}

func IsBlockSuggestion(body Body) bool {
	return isExpectedType(body, "block_suggestion") && hasKey(body, "action_id")
}

func IsDialogSuggestion(body Body) bool {
	return isExpectedType(body, "dialog_suggestion") && hasKey(body, "callback_id")
}

// -------------------
// Protocol housekeeping
// -------------------

// IsURLVerification reports whether body is the endpoint-ownership handshake.
func IsURLVerification(body Body) bool {
	return isExpectedType(body, "url_verification")
}

// IsSSLCheck reports whether body is the platform's periodic ssl_check probe.
func IsSSLCheck(body Body) bool {
	return body != nil && body["ssl_check"] == "1"
}

// -------------------
// helpers
// -------------------

// SubMap returns body[key] as a map, or nil when absent or differently
// shaped.
func SubMap(body Body, key string) Body {
	if body == nil {
		return nil
	}
	m, ok := body[key].(map[string]interface{})
	if !ok {
		return nil
	}
	return m
}

// String returns body[key] as a string, or "".
func String(body Body, key string) string {
	if body == nil {
		return ""
	}
	s, _ := body[key].(string)
	return s
}

func isExpectedType(body Body, expected string) bool {
	return body != nil && body["type"] == expected
}

func hasKey(body Body, key string) bool {
	if body == nil {
		return false
	}
	_, ok := body[key]
	return ok
}
