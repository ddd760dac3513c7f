// Package socketadapter exposes an App over the socket transport: an
// outbound websocket connection to the platform, so no public callback URL
// is needed. Envelopes are translated into dispatches and the dispatch
// response is sent back as the envelope acknowledgement.
package socketadapter

import (
	"context"
	"encoding/json"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/socketmode"

	"github.com/chatkit-go/chatkit"
	"github.com/chatkit-go/chatkit/utils"
)

// Adapter drives one socket connection for one App.
type Adapter struct {
	app    *chatkit.App
	client *socketmode.Client
	log    utils.Logger
}

// Option customizes the adapter.
type Option func(*Adapter)

// WithLogger overrides the adapter's logger.
func WithLogger(log utils.Logger) Option {
	return func(a *Adapter) {
		a.log = log
	}
}

// New builds an adapter. botToken is the regular bot credential; appToken is
// the app-level token that authorizes the socket connection.
func New(app *chatkit.App, botToken, appToken string, opts ...Option) *Adapter {
	api := slack.New(botToken, slack.OptionAppLevelToken(appToken))
	a := &Adapter{
		app:    app,
		client: socketmode.New(api),
		log:    utils.NilLogger(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run connects and processes envelopes until the context is cancelled or the
// connection fails beyond recovery. It blocks.
func (a *Adapter) Run(ctx context.Context) error {
	go a.handleEnvelopes(ctx)
	return a.client.RunContext(ctx)
}

func (a *Adapter) handleEnvelopes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.client.Events:
			if !ok {
				return
			}
			a.handleEnvelope(ctx, evt)
		}
	}
}

func (a *Adapter) handleEnvelope(ctx context.Context, evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeConnecting:
		a.log.Debugf("connecting to the socket transport")
	case socketmode.EventTypeConnected:
		a.log.Infof("connected to the socket transport")
	case socketmode.EventTypeConnectionError:
		a.log.Warnw("socket transport connection error", "error", evt.Data)
	case socketmode.EventTypeHello:
		a.log.Debugf("received hello")

	case socketmode.EventTypeEventsAPI,
		socketmode.EventTypeInteractive,
		socketmode.EventTypeSlashCommand:
		if evt.Request == nil {
			a.log.Warnw("envelope is missing its request", "envelope_type", string(evt.Type))
			return
		}
		a.dispatchEnvelope(ctx, evt)

	default:
		// acknowledge unknown envelope kinds so the platform stops retrying
		if evt.Request != nil {
			a.client.Ack(*evt.Request)
		}
	}
}

func (a *Adapter) dispatchEnvelope(ctx context.Context, evt socketmode.Event) {
	req, err := chatkit.NewRequest(string(evt.Request.Payload), nil,
		map[string]string{"content-type": "application/json"},
		chatkit.WithMode(chatkit.ModeSocket),
		chatkit.WithStdContext(ctx))
	if err != nil {
		a.log.WithError(err).Errorw("failed to normalize an envelope",
			"envelope_id", evt.Request.EnvelopeID)
		a.client.Ack(*evt.Request)
		return
	}

	resp := a.app.Dispatch(req)
	a.ack(evt, resp)
}

// ack converts the dispatch response into an envelope acknowledgement. A
// JSON body goes back as a structured payload, a plain-text body as a text
// message, and an empty body as a bare acknowledgement.
func (a *Adapter) ack(evt socketmode.Event, resp *chatkit.Response) {
	body := resp.Body()
	if body == "" {
		a.client.Ack(*evt.Request)
		return
	}

	var parsed interface{}
	if err := json.Unmarshal([]byte(body), &parsed); err == nil {
		a.client.Ack(*evt.Request, parsed)
		return
	}
	a.client.Ack(*evt.Request, map[string]interface{}{"text": body})
}
