package chatkit

import (
	"fmt"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/slack-go/slack"

	"github.com/chatkit-go/chatkit/store"
	"github.com/chatkit-go/chatkit/utils"
)

// Options configures an App. Exactly one authorization strategy must be
// chosen: a static Token (single-workspace mode), an InstallationStore
// (multi-workspace mode), or a custom Authorize.
type Options struct {
	// Name identifies the app in logs.
	Name string

	// Token is the fixed bot credential for single-workspace mode.
	Token string
	// InstallationStore enables multi-workspace mode.
	InstallationStore store.InstallationStore
	// Authorize overrides credential resolution entirely.
	Authorize Authorize

	// SigningSecret enables request-origin verification. Empty disables it,
	// which is only sane behind a verifying proxy or in socket mode.
	SigningSecret string
	// VerificationToken is checked against ssl_check probes when set.
	VerificationToken string

	// TokenRotator enables token rotation in multi-workspace mode.
	TokenRotator TokenRotator
	// TokenRotationExpiration is how close to expiry a token must be before
	// rotation. Zero means two hours.
	TokenRotationExpiration time.Duration
	// AuthorizeResultCache enables the per-token identity-confirmation
	// cache.
	AuthorizeResultCache bool

	// APIBaseURL overrides the directory API endpoint. Mainly for tests.
	APIBaseURL string

	// IgnoreSelfEvents suppresses events from the app's own bot identity.
	// Enabled by default; see New.
	IgnoreSelfEvents *bool

	// ProcessBeforeResponse runs acknowledgement functions before the
	// transport flushes the response. This is the mode for function-as-a-
	// service transports that freeze the process once the response is sent.
	ProcessBeforeResponse bool

	// LazyWorkers bounds the pool executing lazy listener functions.
	// Zero means 10.
	LazyWorkers int

	Logger utils.Logger
}

// App is the dispatch core: it owns global middleware, the registered
// listeners, the authorization strategy, and the lazy-function pool.
type App struct {
	name          string
	log           utils.Logger
	apiBaseURL    string
	clientFactory func(token string) *slack.Client

	middleware []Middleware
	listeners  []*Listener

	runner                *lazyRunner
	processBeforeResponse bool

	listenerErrorHandler ListenerErrorHandler
	unhandledHandler     func(a *Args)
}

// ListenerErrorHandler routes exceptions raised inside middleware or
// acknowledgement functions. The default logs and produces a 500-class
// response unless the listener already acknowledged.
type ListenerErrorHandler func(a *Args, err error)

// New validates options and builds an App, assembling the built-in global
// middleware chain in the fixed order: ssl_check, request verification,
// authorization, self-event suppression, url verification. User middleware
// registered via Use runs after the built-ins.
func New(opts Options) (*App, error) {
	var result *multierror.Error
	strategies := 0
	if opts.Token != "" {
		strategies++
	}
	if opts.InstallationStore != nil {
		strategies++
	}
	if opts.Authorize != nil {
		strategies++
	}
	if strategies == 0 {
		result = multierror.Append(result, utils.NewInvalidError(
			"one of Token, InstallationStore, or Authorize is required"))
	}
	if strategies > 1 {
		result = multierror.Append(result, utils.NewInvalidError(
			"Token, InstallationStore, and Authorize are mutually exclusive"))
	}
	if opts.TokenRotator != nil && opts.InstallationStore == nil {
		result = multierror.Append(result, utils.NewInvalidError(
			"TokenRotator requires an InstallationStore"))
	}
	if err := result.ErrorOrNil(); err != nil {
		return nil, err
	}

	log := opts.Logger
	if log == nil {
		log = utils.NilLogger()
	}
	name := opts.Name
	if name == "" {
		name = "chatkit-app"
	}
	log = log.With("app", name)

	app := &App{
		name:                  name,
		log:                   log,
		apiBaseURL:            opts.APIBaseURL,
		processBeforeResponse: opts.ProcessBeforeResponse,
	}
	app.clientFactory = func(token string) *slack.Client {
		clientOpts := []slack.Option{}
		if app.apiBaseURL != "" {
			clientOpts = append(clientOpts, slack.OptionAPIURL(app.apiBaseURL))
		}
		return slack.New(token, clientOpts...)
	}
	app.runner = newLazyRunner(opts.LazyWorkers, log)
	app.listenerErrorHandler = app.defaultListenerErrorHandler

	authorize := opts.Authorize
	switch {
	case authorize != nil:
		// as supplied
	case opts.Token != "":
		var cache *authorizeResultCache
		if opts.AuthorizeResultCache {
			cache = newAuthorizeResultCache()
		}
		authorize = &singleTeamAuthorize{
			token:         opts.Token,
			clientFactory: app.clientFactory,
			cache:         cache,
			log:           log,
		}
	default:
		authorize = &InstallationStoreAuthorize{
			Store:              opts.InstallationStore,
			Rotator:            opts.TokenRotator,
			RotationExpiration: opts.TokenRotationExpiration,
			CacheEnabled:       opts.AuthorizeResultCache,
			Log:                log,
			clientFactory:      app.clientFactory,
		}
	}

	app.middleware = append(app.middleware, SSLCheck(opts.VerificationToken))
	if opts.SigningSecret != "" {
		app.middleware = append(app.middleware, RequestVerification(opts.SigningSecret))
	}
	app.middleware = append(app.middleware, Authorization(authorize))
	if opts.IgnoreSelfEvents == nil || *opts.IgnoreSelfEvents {
		app.middleware = append(app.middleware, IgnoringSelfEvents())
	}
	app.middleware = append(app.middleware, URLVerification())

	return app, nil
}

func (app *App) Name() string {
	return app.name
}

func (app *App) Logger() utils.Logger {
	return app.log
}

// Shutdown waits for in-flight lazy functions.
func (app *App) Shutdown() {
	app.runner.Wait()
}

// Use appends global middleware, run in registration order after the
// built-ins and before any listener is attempted.
func (app *App) Use(m ...Middleware) {
	app.middleware = append(app.middleware, m...)
}

// Error replaces the listener error handler.
func (app *App) Error(h ListenerErrorHandler) {
	app.listenerErrorHandler = h
}

// UnhandledRequest registers a hook invoked when no listener matched.
func (app *App) UnhandledRequest(h func(a *Args)) {
	app.unhandledHandler = h
}

// -----------------------------------------------------------------------
// listener registration
//
// Registration order is load-bearing: it is the sole tie-break between
// overlapping matchers at dispatch time.
// -----------------------------------------------------------------------

// ListenerOption customizes one listener registration.
type ListenerOption func(*listenerConfig)

type listenerConfig struct {
	name       string
	matchers   []Matcher
	middleware []Middleware
	lazy       []Handler
}

// WithName names the listener in logs (the default is a generated name).
func WithName(name string) ListenerOption {
	return func(c *listenerConfig) {
		c.name = name
	}
}

// WithMatchers appends custom matchers to the listener's matcher set.
func WithMatchers(m ...Matcher) ListenerOption {
	return func(c *listenerConfig) {
		c.matchers = append(c.matchers, m...)
	}
}

// WithMiddleware appends per-listener middleware.
func WithMiddleware(m ...Middleware) ListenerOption {
	return func(c *listenerConfig) {
		c.middleware = append(c.middleware, m...)
	}
}

// WithLazy attaches deferred functions, run out-of-band after the response.
func WithLazy(fns ...Handler) ListenerOption {
	return func(c *listenerConfig) {
		c.lazy = append(c.lazy, fns...)
	}
}

func (app *App) register(kind string, primary Matcher, ack Handler, autoAck bool, opts []ListenerOption) *Listener {
	c := listenerConfig{}
	for _, opt := range opts {
		opt(&c)
	}
	if c.name == "" {
		c.name = fmt.Sprintf("%s-listener-%d", kind, len(app.listeners))
	}
	l := &Listener{
		name:       c.name,
		matchers:   append([]Matcher{primary}, c.matchers...),
		middleware: c.middleware,
		ack:        ack,
		lazy:       c.lazy,
		autoAck:    autoAck,
	}
	app.listeners = append(app.listeners, l)
	app.log.Debugw("registered listener", "name", l.name, "kind", kind)
	return l
}

// Event registers a listener for an Events API event. The constraint is a
// string, a *regexp.Regexp, or an EventConstraint. Event listeners are
// auto-acknowledged.
func (app *App) Event(constraint interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchEvent(constraint)
	if err != nil {
		return err
	}
	app.register("event", m, ack, true, opts)
	return nil
}

// Message registers a listener for message events whose text matches the
// keyword (a string or *regexp.Regexp, searched unanchored). Capture groups
// land in the context under "matches".
func (app *App) Message(keyword interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchEvent("message")
	if err != nil {
		return err
	}
	gate, err := MessageListenerMatches(keyword)
	if err != nil {
		return err
	}
	opts = append([]ListenerOption{WithMiddleware(gate)}, opts...)
	app.register("message", m, ack, true, opts)
	return nil
}

// Command registers a slash-command listener.
func (app *App) Command(pattern interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchCommand(pattern)
	if err != nil {
		return err
	}
	app.register("command", m, ack, false, opts)
	return nil
}

// Action registers an action listener. The constraint is a string or
// *regexp.Regexp (block action_id), or an ActionConstraint.
func (app *App) Action(constraint interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchAction(constraint)
	if err != nil {
		return err
	}
	app.register("action", m, ack, false, opts)
	return nil
}

// BlockAction registers a block-action listener; see ActionConstraint for
// the action_id/block_id combination rule.
func (app *App) BlockAction(constraint ActionConstraint, ack Handler, opts ...ListenerOption) error {
	m, err := matchBlockAction(constraint)
	if err != nil {
		return err
	}
	app.register("block_action", m, ack, false, opts)
	return nil
}

// Shortcut registers a listener for either shortcut kind.
func (app *App) Shortcut(constraint interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchShortcut(constraint)
	if err != nil {
		return err
	}
	app.register("shortcut", m, ack, false, opts)
	return nil
}

// GlobalShortcut registers a listener for global shortcuts by callback_id.
func (app *App) GlobalShortcut(callbackID interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchGlobalShortcut(callbackID)
	if err != nil {
		return err
	}
	app.register("global_shortcut", m, ack, false, opts)
	return nil
}

// MessageShortcut registers a listener for message shortcuts by callback_id.
func (app *App) MessageShortcut(callbackID interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchMessageShortcut(callbackID)
	if err != nil {
		return err
	}
	app.register("message_shortcut", m, ack, false, opts)
	return nil
}

// View registers a view listener. The constraint is a string or
// *regexp.Regexp (view submissions), or a ViewConstraint.
func (app *App) View(constraint interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchView(constraint)
	if err != nil {
		return err
	}
	app.register("view", m, ack, false, opts)
	return nil
}

// ViewSubmission registers a view-submission listener by callback_id.
func (app *App) ViewSubmission(callbackID interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchView(ViewConstraint{Type: "view_submission", CallbackID: callbackID})
	if err != nil {
		return err
	}
	app.register("view_submission", m, ack, false, opts)
	return nil
}

// ViewClosed registers a view-closed listener by callback_id.
func (app *App) ViewClosed(callbackID interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchView(ViewConstraint{Type: "view_closed", CallbackID: callbackID})
	if err != nil {
		return err
	}
	app.register("view_closed", m, ack, false, opts)
	return nil
}

// Options registers an options (suggestion) listener. The constraint is a
// string or *regexp.Regexp (block suggestion action_id), or an
// OptionsConstraint.
func (app *App) Options(constraint interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchOptions(constraint)
	if err != nil {
		return err
	}
	app.register("options", m, ack, false, opts)
	return nil
}

// BlockSuggestion registers a block-suggestion listener by action_id.
func (app *App) BlockSuggestion(actionID interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchBlockSuggestion(actionID)
	if err != nil {
		return err
	}
	app.register("block_suggestion", m, ack, false, opts)
	return nil
}

// DialogSuggestion registers a dialog-suggestion listener by callback_id.
func (app *App) DialogSuggestion(callbackID interface{}, ack Handler, opts ...ListenerOption) error {
	m, err := matchDialogSuggestion(callbackID)
	if err != nil {
		return err
	}
	app.register("dialog_suggestion", m, ack, false, opts)
	return nil
}
