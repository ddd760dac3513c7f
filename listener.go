package chatkit

// Handler is a listener's acknowledgement function, or one of its lazy
// functions. It receives the per-request argument pool.
type Handler func(a *Args) error

// Listener binds a matcher set, per-listener middleware, an acknowledgement
// function, and zero or more lazy functions. Immutable after registration.
type Listener struct {
	name       string
	matchers   []Matcher
	middleware []Middleware
	ack        Handler
	lazy       []Handler

	// autoAck acknowledges with an empty 200 before the handler runs. Used
	// for listener categories (events) the platform expects an immediate
	// acknowledgement for.
	autoAck bool
}

func (l *Listener) Name() string {
	return l.name
}

// Matches is the logical AND over the matcher set, short-circuiting on the
// first false.
func (l *Listener) Matches(a *Args) bool {
	matched := false
	for _, m := range l.matchers {
		matched = m.Matches(a)
		if !matched {
			return matched
		}
	}
	return matched
}

// runMiddleware runs the listener's own chain. terminated=true means the
// listener declined this request and the dispatcher moves on to the next
// one.
func (l *Listener) runMiddleware(a *Args) (terminated bool, err error) {
	return runMiddlewareChain(l.middleware, a)
}
