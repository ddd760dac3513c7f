package chatkit

import (
	"bytes"
	"encoding/json"
	"net/http"

	"github.com/pkg/errors"
	"github.com/slack-go/slack"

	"github.com/chatkit-go/chatkit/payload"
	"github.com/chatkit-go/chatkit/utils"
)

// ErrUnknownArg is returned by Args.Get for a name outside the pool. The
// pool is fixed; asking for anything else is a programming error surfaced
// precisely instead of silently injecting a nil.
var ErrUnknownArg = errors.New("unknown argument name")

// ArgName names one entry of the per-request argument pool.
type ArgName string

const (
	ArgRequest  ArgName = "request"
	ArgResponse ArgName = "response"
	ArgContext  ArgName = "context"
	ArgClient   ArgName = "client"
	ArgLogger   ArgName = "logger"
	ArgAck      ArgName = "ack"
	ArgSay      ArgName = "say"
	ArgRespond  ArgName = "respond"
	ArgBody     ArgName = "body"
	ArgPayload  ArgName = "payload"
	ArgEvent    ArgName = "event"
	ArgMessage  ArgName = "message"
	ArgCommand  ArgName = "command"
	ArgAction   ArgName = "action"
	ArgView     ArgName = "view"
	ArgShortcut ArgName = "shortcut"
	ArgOptions  ArgName = "options"
)

// AckFunc acknowledges the request, setting the response. The body may be a
// string or any JSON-serializable value; nil acknowledges with an empty 200.
// The first acknowledgement wins; later calls are ignored.
type AckFunc func(body interface{}) error

// SayFunc posts a message to the request's channel via the directory client.
type SayFunc func(text string) error

// RespondFunc posts a message to the request's response webhook URL.
type RespondFunc func(body interface{}) error

// Args is the fixed pool of named values computed once per request. Handlers,
// matchers, and middleware receive the whole pool and pick the entries they
// need, in the bundled-object style. Entries that do not apply to the payload
// kind (Event for a slash command, say) are nil.
type Args struct {
	Request  *Request
	Response *Response
	Context  *Context
	Logger   utils.Logger

	Ack     AckFunc
	Say     SayFunc
	Respond RespondFunc

	// Body is the full parsed body.
	Body payload.Body
	// Payload is the kind-specific sub-payload: the first alias below that
	// applies, falling back to the full body.
	Payload payload.Body

	Event    payload.Body
	Message  payload.Body
	Command  payload.Body
	Action   payload.Body
	View     payload.Body
	Shortcut payload.Body
	Options  payload.Body
}

// Client returns the request's directory client. It is resolved through the
// context so that a client created before authorization never leaks a stale
// (empty) token.
func (a *Args) Client() *slack.Client {
	return a.Context.Client()
}

// Get looks up a pool entry by name. Unknown names return ErrUnknownArg.
func (a *Args) Get(name ArgName) (interface{}, error) {
	switch name {
	case ArgRequest:
		return a.Request, nil
	case ArgResponse:
		return a.Response, nil
	case ArgContext:
		return a.Context, nil
	case ArgClient:
		return a.Client(), nil
	case ArgLogger:
		return a.Logger, nil
	case ArgAck:
		return a.Ack, nil
	case ArgSay:
		return a.Say, nil
	case ArgRespond:
		return a.Respond, nil
	case ArgBody:
		return a.Body, nil
	case ArgPayload:
		return a.Payload, nil
	case ArgEvent:
		return a.Event, nil
	case ArgMessage:
		return a.Message, nil
	case ArgCommand:
		return a.Command, nil
	case ArgAction:
		return a.Action, nil
	case ArgView:
		return a.View, nil
	case ArgShortcut:
		return a.Shortcut, nil
	case ArgOptions:
		return a.Options, nil
	default:
		return nil, errors.Wrapf(ErrUnknownArg, "%q", name)
	}
}

// buildArgs computes the pool for one dispatch. The payload aliases are
// resolved here once, not per listener.
func buildArgs(req *Request, resp *Response) *Args {
	body := req.Payload
	a := &Args{
		Request:  req,
		Response: resp,
		Context:  req.Context,
		Logger:   req.Context.Logger,
		Body:     body,
		Event:    payload.ToEvent(body),
		Message:  payload.ToMessage(body),
		Command:  payload.ToCommand(body),
		Action:   payload.ToAction(body),
		View:     payload.ToView(body),
		Shortcut: payload.ToShortcut(body),
		Options:  payload.ToOptions(body),
	}
	a.Payload = firstNonNil(a.Options, a.Shortcut, a.Action, a.View, a.Command, a.Event, a.Message, body)
	a.Ack = newAckFunc(resp, req.Context)
	a.Say = newSayFunc(req.Context)
	a.Respond = newRespondFunc(req.Context)
	return a
}

// forLazy rebinds the pool to a copied context so a deferred function cannot
// race the main dispatch path. The response is not carried over: lazy
// functions never participate in the wire response.
func (a *Args) forLazy() *Args {
	clone := *a
	clone.Context = a.Context.Copy()
	clone.Response = NewResponse(http.StatusOK, "")
	clone.Logger = clone.Context.Logger
	clone.Ack = func(interface{}) error { return nil }
	clone.Say = newSayFunc(clone.Context)
	clone.Respond = newRespondFunc(clone.Context)
	return &clone
}

func firstNonNil(bodies ...payload.Body) payload.Body {
	for _, b := range bodies {
		if b != nil {
			return b
		}
	}
	return nil
}

func newAckFunc(resp *Response, c *Context) AckFunc {
	acked := false
	return func(body interface{}) error {
		if acked {
			c.Logger.Debugf("ack called more than once; keeping the first response")
			return nil
		}
		acked = true
		return resp.Set(http.StatusOK, body)
	}
}

func newSayFunc(c *Context) SayFunc {
	return func(text string) error {
		if c.ChannelID == "" {
			return utils.NewInvalidError("say requires a channel_id in context")
		}
		_, _, err := c.Client().PostMessage(c.ChannelID, slack.MsgOptionText(text, false))
		return errors.Wrap(err, "failed to post message")
	}
}

func newRespondFunc(c *Context) RespondFunc {
	return func(body interface{}) error {
		if c.ResponseURL == "" {
			return utils.NewInvalidError("respond requires a response_url in context")
		}
		var doc interface{}
		if text, ok := body.(string); ok {
			doc = map[string]string{"text": text}
		} else {
			doc = body
		}
		bb, err := json.Marshal(doc)
		if err != nil {
			return errors.Wrap(err, "failed to serialize webhook body")
		}
		resp, err := http.Post(c.ResponseURL, "application/json", bytes.NewReader(bb))
		if err != nil {
			return errors.Wrap(err, "failed to call response_url")
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return errors.Errorf("response_url call returned status %d", resp.StatusCode)
		}
		return nil
	}
}
