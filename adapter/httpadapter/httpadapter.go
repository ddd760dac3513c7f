// Package httpadapter exposes an App over the platform's HTTP callbacks: one
// events endpoint for every payload kind, plus the optional install-flow
// endpoints.
package httpadapter

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/chatkit-go/chatkit"
	"github.com/chatkit-go/chatkit/oauth"
	"github.com/chatkit-go/chatkit/utils"
	"github.com/chatkit-go/chatkit/utils/httputils"
)

const (
	// DefaultEventsPath is where the platform posts every callback payload.
	DefaultEventsPath = "/slack/events"
	// DefaultInstallPath starts the install flow.
	DefaultInstallPath = "/slack/install"
	// DefaultCallbackPath receives the grant-flow redirect.
	DefaultCallbackPath = "/slack/oauth_redirect"
)

// Adapter is an http.Handler that translates HTTP requests into dispatches.
type Adapter struct {
	app    *chatkit.App
	flow   *oauth.Flow
	log    utils.Logger
	router *mux.Router

	eventsPath   string
	installPath  string
	callbackPath string
}

// Option customizes the adapter.
type Option func(*Adapter)

// WithOAuthFlow mounts the install-flow endpoints next to the events
// endpoint.
func WithOAuthFlow(flow *oauth.Flow) Option {
	return func(a *Adapter) {
		a.flow = flow
	}
}

// WithEventsPath overrides the events endpoint path.
func WithEventsPath(path string) Option {
	return func(a *Adapter) {
		a.eventsPath = path
	}
}

// WithInstallPaths overrides the install and callback endpoint paths.
func WithInstallPaths(installPath, callbackPath string) Option {
	return func(a *Adapter) {
		a.installPath = installPath
		a.callbackPath = callbackPath
	}
}

// WithLogger overrides the adapter's logger.
func WithLogger(log utils.Logger) Option {
	return func(a *Adapter) {
		a.log = log
	}
}

// New builds the adapter and its route table.
func New(app *chatkit.App, opts ...Option) *Adapter {
	a := &Adapter{
		app:          app,
		log:          utils.NilLogger(),
		eventsPath:   DefaultEventsPath,
		installPath:  DefaultInstallPath,
		callbackPath: DefaultCallbackPath,
	}
	for _, opt := range opts {
		opt(a)
	}

	router := mux.NewRouter()
	router.Handle(a.eventsPath, http.HandlerFunc(a.handleEvents)).Methods(http.MethodPost)
	if a.flow != nil {
		router.Handle(a.installPath, http.HandlerFunc(a.flow.HandleInstall)).Methods(http.MethodGet)
		router.Handle(a.callbackPath, http.HandlerFunc(a.flow.HandleCallback)).Methods(http.MethodGet)
	}
	router.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		httputils.WriteError(w, utils.NewNotFoundError("not found: %s", r.URL.Path))
	})
	a.router = router
	return a
}

func (a *Adapter) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *Adapter) handleEvents(w http.ResponseWriter, r *http.Request) {
	body, err := httputils.ReadAndClose(r.Body)
	if err != nil {
		a.log.WithError(err).Warnw("failed to read a request body")
		httputils.WriteError(w, utils.NewInvalidError("failed to read the request body"))
		return
	}

	req, err := chatkit.NewRequest(string(body), r.URL.Query(), r.Header,
		chatkit.WithStdContext(r.Context()))
	if err != nil {
		a.log.WithError(err).Warnw("failed to normalize a request")
		httputils.WriteError(w, err)
		return
	}

	writeResponse(w, a.app.Dispatch(req))
}

func writeResponse(w http.ResponseWriter, resp *chatkit.Response) {
	for name, values := range resp.Headers {
		for _, v := range values {
			w.Header().Add(name, v)
		}
	}
	if w.Header().Get("Content-Type") == "" {
		w.Header().Set("Content-Type", resp.ContentType())
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write([]byte(resp.Body()))
}
