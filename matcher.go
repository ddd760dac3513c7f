package chatkit

import (
	"regexp"

	"github.com/chatkit-go/chatkit/payload"
	"github.com/chatkit-go/chatkit/utils"
)

// Matcher decides whether a listener applies to a request. Matchers are pure
// with respect to the request: calling Matches twice with the same arguments
// yields the same result.
type Matcher interface {
	Matches(a *Args) bool
}

// MatcherFunc adapts a custom predicate to Matcher.
type MatcherFunc func(a *Args) bool

func (f MatcherFunc) Matches(a *Args) bool {
	return f(a)
}

// pattern is an exact string or a regular expression. Regular expressions use
// unanchored search semantics.
type pattern struct {
	exact string
	re    *regexp.Regexp
}

// newPattern accepts a string or a *regexp.Regexp. Anything else is a
// registration-time error.
func newPattern(v interface{}) (*pattern, error) {
	switch p := v.(type) {
	case string:
		return &pattern{exact: p}, nil
	case *regexp.Regexp:
		if p == nil {
			return nil, utils.NewInvalidError("pattern must not be a nil *regexp.Regexp")
		}
		return &pattern{re: p}, nil
	default:
		return nil, utils.NewInvalidError("pattern must be a string or a *regexp.Regexp, got %T", v)
	}
}

func (p *pattern) match(input string) bool {
	if input == "" {
		return false
	}
	if p.re != nil {
		return p.re.MatchString(input)
	}
	return input == p.exact
}

// -----------------------------------------------------------------------
// constraints
// -----------------------------------------------------------------------

// EventConstraint constrains event listeners by type, and optionally by
// subtype. NoSubtype requires the event to carry no subtype at all; many
// platform subtypes (edits, deletions) reuse the "message" event type, so
// "no subtype present" is a distinct matchable condition.
type EventConstraint struct {
	// Type is a string or *regexp.Regexp. Required.
	Type interface{}
	// Subtype is a string or *regexp.Regexp. Optional.
	Subtype interface{}
	// NoSubtype requires the absence of a subtype key. Mutually exclusive
	// with Subtype.
	NoSubtype bool
}

// ActionConstraint constrains action listeners. For block actions, BlockID
// is optional: when nil any block is accepted, when set both ActionID and
// BlockID must match.
type ActionConstraint struct {
	// Type selects the action payload kind: "block_actions" (the default),
	// "interactive_message", "dialog_submission", or "dialog_cancellation".
	Type string
	// ActionID is a string or *regexp.Regexp (block actions).
	ActionID interface{}
	// BlockID is a string or *regexp.Regexp (block actions, optional).
	BlockID interface{}
	// CallbackID is a string or *regexp.Regexp (the non-block kinds).
	CallbackID interface{}
}

// ShortcutConstraint constrains shortcut listeners by kind and callback_id.
type ShortcutConstraint struct {
	// Type is "shortcut" (global) or "message_action". Required.
	Type string
	// CallbackID is a string or *regexp.Regexp. Required.
	CallbackID interface{}
}

// ViewConstraint constrains view listeners by kind and callback_id.
type ViewConstraint struct {
	// Type is "view_submission" or "view_closed". Required.
	Type string
	// CallbackID is a string or *regexp.Regexp. Required.
	CallbackID interface{}
}

// OptionsConstraint constrains options (suggestion) listeners. Exactly one
// of ActionID (block suggestions) or CallbackID (dialog suggestions) must be
// set.
type OptionsConstraint struct {
	ActionID   interface{}
	CallbackID interface{}
}

// -----------------------------------------------------------------------
// matcher factories
// -----------------------------------------------------------------------

// matchEvent accepts a string, a *regexp.Regexp, or an EventConstraint.
// The bare string "message" is special-cased to "message events without a
// subtype".
func matchEvent(constraint interface{}) (Matcher, error) {
	if constraint == "message" {
		constraint = EventConstraint{Type: "message", NoSubtype: true}
	}

	if c, ok := constraint.(EventConstraint); ok {
		if c.Type == nil {
			return nil, utils.NewInvalidError("event constraint requires a type")
		}
		typePattern, err := newPattern(c.Type)
		if err != nil {
			return nil, err
		}
		var subtypePattern *pattern
		if c.Subtype != nil {
			if c.NoSubtype {
				return nil, utils.NewInvalidError("event constraint cannot require both a subtype and no subtype")
			}
			subtypePattern, err = newPattern(c.Subtype)
			if err != nil {
				return nil, err
			}
		}
		return MatcherFunc(func(a *Args) bool {
			event := payload.ToEvent(a.Body)
			if event == nil || !typePattern.match(payload.String(event, "type")) {
				return false
			}
			_, hasSubtype := event["subtype"]
			if c.NoSubtype {
				return !hasSubtype
			}
			if subtypePattern != nil {
				return hasSubtype && subtypePattern.match(payload.String(event, "subtype"))
			}
			return true
		}), nil
	}

	typePattern, err := newPattern(constraint)
	if err != nil {
		return nil, err
	}
	return MatcherFunc(func(a *Args) bool {
		event := payload.ToEvent(a.Body)
		return event != nil && typePattern.match(payload.String(event, "type"))
	}), nil
}

func matchCommand(constraint interface{}) (Matcher, error) {
	commandPattern, err := newPattern(constraint)
	if err != nil {
		return nil, err
	}
	return MatcherFunc(func(a *Args) bool {
		return payload.IsCommand(a.Body) && commandPattern.match(payload.String(a.Body, "command"))
	}), nil
}

// matchAction accepts a string or *regexp.Regexp (matched against the block
// action_id), or an ActionConstraint.
func matchAction(constraint interface{}) (Matcher, error) {
	c, ok := constraint.(ActionConstraint)
	if !ok {
		return matchBlockAction(ActionConstraint{ActionID: constraint})
	}
	switch c.Type {
	case "", "block_actions":
		return matchBlockAction(c)
	case "interactive_message":
		return matchCallbackAction(payload.IsAttachmentAction, c.CallbackID)
	case "dialog_submission":
		return matchCallbackAction(payload.IsDialogSubmission, c.CallbackID)
	case "dialog_cancellation":
		return matchCallbackAction(payload.IsDialogCancellation, c.CallbackID)
	default:
		return nil, utils.NewInvalidError("unsupported action type %q", c.Type)
	}
}

func matchBlockAction(c ActionConstraint) (Matcher, error) {
	if c.ActionID == nil {
		return nil, utils.NewInvalidError("block action constraint requires an action_id")
	}
	actionIDPattern, err := newPattern(c.ActionID)
	if err != nil {
		return nil, err
	}
	var blockIDPattern *pattern
	if c.BlockID != nil {
		blockIDPattern, err = newPattern(c.BlockID)
		if err != nil {
			return nil, err
		}
	}
	return MatcherFunc(func(a *Args) bool {
		if !payload.IsBlockActions(a.Body) {
			return false
		}
		action := payload.FirstAction(a.Body)
		if action == nil || !actionIDPattern.match(payload.String(action, "action_id")) {
			return false
		}
		// block_id is optional: without the constraint, any block matches
		if blockIDPattern != nil {
			return blockIDPattern.match(payload.String(action, "block_id"))
		}
		return true
	}), nil
}

func matchCallbackAction(isKind func(payload.Body) bool, callbackID interface{}) (Matcher, error) {
	if callbackID == nil {
		return nil, utils.NewInvalidError("action constraint requires a callback_id")
	}
	callbackIDPattern, err := newPattern(callbackID)
	if err != nil {
		return nil, err
	}
	return MatcherFunc(func(a *Args) bool {
		return isKind(a.Body) && callbackIDPattern.match(payload.String(a.Body, "callback_id"))
	}), nil
}

// matchShortcut accepts a string or *regexp.Regexp (either shortcut kind),
// or a ShortcutConstraint pinning the kind.
func matchShortcut(constraint interface{}) (Matcher, error) {
	if c, ok := constraint.(ShortcutConstraint); ok {
		switch c.Type {
		case "shortcut":
			return matchGlobalShortcut(c.CallbackID)
		case "message_action":
			return matchMessageShortcut(c.CallbackID)
		default:
			return nil, utils.NewInvalidError("unsupported shortcut type %q", c.Type)
		}
	}
	callbackIDPattern, err := newPattern(constraint)
	if err != nil {
		return nil, err
	}
	return MatcherFunc(func(a *Args) bool {
		return payload.IsShortcut(a.Body) && callbackIDPattern.match(payload.String(a.Body, "callback_id"))
	}), nil
}

func matchGlobalShortcut(callbackID interface{}) (Matcher, error) {
	callbackIDPattern, err := newPattern(callbackID)
	if err != nil {
		return nil, err
	}
	return MatcherFunc(func(a *Args) bool {
		return payload.IsGlobalShortcut(a.Body) && callbackIDPattern.match(payload.String(a.Body, "callback_id"))
	}), nil
}

func matchMessageShortcut(callbackID interface{}) (Matcher, error) {
	callbackIDPattern, err := newPattern(callbackID)
	if err != nil {
		return nil, err
	}
	return MatcherFunc(func(a *Args) bool {
		return payload.IsMessageShortcut(a.Body) && callbackIDPattern.match(payload.String(a.Body, "callback_id"))
	}), nil
}

// matchView accepts a string or *regexp.Regexp (view submissions), or a
// ViewConstraint pinning the kind.
func matchView(constraint interface{}) (Matcher, error) {
	if c, ok := constraint.(ViewConstraint); ok {
		switch c.Type {
		case "view_submission":
			return matchViewKind(payload.IsViewSubmission, c.CallbackID)
		case "view_closed":
			return matchViewKind(payload.IsViewClosed, c.CallbackID)
		default:
			return nil, utils.NewInvalidError("unsupported view type %q", c.Type)
		}
	}
	return matchViewKind(payload.IsViewSubmission, constraint)
}

func matchViewKind(isKind func(payload.Body) bool, callbackID interface{}) (Matcher, error) {
	if callbackID == nil {
		return nil, utils.NewInvalidError("view constraint requires a callback_id")
	}
	callbackIDPattern, err := newPattern(callbackID)
	if err != nil {
		return nil, err
	}
	return MatcherFunc(func(a *Args) bool {
		if !isKind(a.Body) {
			return false
		}
		view := payload.SubMap(a.Body, "view")
		return callbackIDPattern.match(payload.String(view, "callback_id"))
	}), nil
}

// matchOptions accepts a string or *regexp.Regexp (block suggestion
// action_id), or an OptionsConstraint.
func matchOptions(constraint interface{}) (Matcher, error) {
	if c, ok := constraint.(OptionsConstraint); ok {
		switch {
		case c.ActionID != nil && c.CallbackID == nil:
			return matchBlockSuggestion(c.ActionID)
		case c.CallbackID != nil && c.ActionID == nil:
			return matchDialogSuggestion(c.CallbackID)
		default:
			return nil, utils.NewInvalidError("options constraint requires exactly one of action_id and callback_id")
		}
	}
	return matchBlockSuggestion(constraint)
}

func matchBlockSuggestion(actionID interface{}) (Matcher, error) {
	actionIDPattern, err := newPattern(actionID)
	if err != nil {
		return nil, err
	}
	return MatcherFunc(func(a *Args) bool {
		return payload.IsBlockSuggestion(a.Body) && actionIDPattern.match(payload.String(a.Body, "action_id"))
	}), nil
}

func matchDialogSuggestion(callbackID interface{}) (Matcher, error) {
	callbackIDPattern, err := newPattern(callbackID)
	if err != nil {
		return nil, err
	}
	return MatcherFunc(func(a *Args) bool {
		return payload.IsDialogSuggestion(a.Body) && callbackIDPattern.match(payload.String(a.Body, "callback_id"))
	}), nil
}
