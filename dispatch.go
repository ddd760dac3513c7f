package chatkit

import (
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/chatkit-go/chatkit/payload"
)

// Dispatch runs one request through the full pipeline: global middleware
// (which includes authorization), then the listener search. The first
// listener, in registration order, whose full matcher set evaluates true
// wins; no later listener is tried. The returned response is always
// wire-ready; listener failures surface as 500-class responses, never as
// panics or errors to the transport.
func (app *App) Dispatch(req *Request) *Response {
	requestID := uuid.NewString()
	req.Context.Logger = app.log.With(
		"request_id", requestID,
		"team_id", req.Context.TeamID,
	)
	req.Context.clientFactory = app.clientFactory
	req.Context.runner = app.runner

	resp := newUnhandledResponse()
	a := buildArgs(req, resp)

	terminated, err := runMiddlewareChain(app.middleware, a)
	if err != nil {
		app.listenerErrorHandler(a, err)
		return a.Response
	}
	if terminated {
		return a.Response
	}

	for _, l := range app.listeners {
		a.Logger.Debugf("checking listener %s", l.name)
		if !l.Matches(a) {
			continue
		}

		terminated, err := l.runMiddleware(a)
		if err != nil {
			app.listenerErrorHandler(a, err)
			return a.Response
		}
		if terminated {
			// the listener's own middleware declined; this listener is not
			// for this request after all
			continue
		}

		a.Logger.Debugf("running listener %s", l.name)
		app.runListener(a, l)
		return a.Response
	}

	a.Logger.Warnw("unhandled request", "payload_kind", string(payload.KindOf(req.Payload)))
	if app.unhandledHandler != nil {
		app.unhandledHandler(a)
	}
	return a.Response
}

// runListener executes the winning listener's acknowledgement function and
// schedules its lazy functions. Lazy functions get a copied context and a
// throwaway response; they are unordered relative to the main response and
// never influence it.
func (app *App) runListener(a *Args, l *Listener) {
	if l.autoAck {
		// the platform expects an immediate empty acknowledgement for this
		// listener category
		if err := a.Ack(nil); err != nil {
			a.Logger.WithError(err).Errorw("failed to auto-acknowledge", "listener", l.name)
		}
	}

	if len(l.lazy) > 0 {
		for i, fn := range l.lazy {
			name := lazyName(l.name, i)
			// each lazy function gets its own context copy, so two of them
			// never share mutable state
			lazyArgs := a.forLazy()
			if app.processBeforeResponse {
				// function-as-a-service transports freeze the process once
				// the response is flushed, so run deferred work inline
				if err := runHandler(fn, lazyArgs); err != nil {
					a.Logger.WithError(err).Errorw("lazy listener failed", "listener", name)
				}
			} else {
				app.runner.Start(name, fn, lazyArgs)
			}
		}
	}

	if err := runHandler(l.ack, a); err != nil {
		app.listenerErrorHandler(a, err)
	}
}

func lazyName(listener string, i int) string {
	return listener + "-lazy-" + strconv.Itoa(i)
}

// defaultListenerErrorHandler logs the failure and produces a 500-class
// response unless the listener already replaced the unhandled sentinel.
func (app *App) defaultListenerErrorHandler(a *Args, err error) {
	a.Logger.WithError(err).Errorw("listener execution failed")
	if a.Response.StatusCode == http.StatusNotFound {
		_ = a.Response.Set(http.StatusInternalServerError, map[string]interface{}{
			"error": "internal error",
		})
	}
}
