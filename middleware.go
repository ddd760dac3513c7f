package chatkit

// Middleware is a chainable pre-processing step. Calling next lets
// processing continue; not calling it short-circuits with whatever the
// middleware set on the response.
type Middleware interface {
	Name() string
	Process(a *Args, next func() error) error
}

// MiddlewareFunc adapts a named function to Middleware.
func MiddlewareFunc(name string, f func(a *Args, next func() error) error) Middleware {
	return &middlewareFunc{name: name, f: f}
}

type middlewareFunc struct {
	name string
	f    func(a *Args, next func() error) error
}

func (m *middlewareFunc) Name() string {
	return m.name
}

func (m *middlewareFunc) Process(a *Args, next func() error) error {
	return m.f(a, next)
}

// runMiddlewareChain runs the chain in order. It reports terminated=true as
// soon as one middleware declines to call next; the caller must stop with
// whatever is on the response. An error from a middleware also terminates
// the chain, and is the caller's to route to the error handler.
func runMiddlewareChain(chain []Middleware, a *Args) (terminated bool, err error) {
	for _, m := range chain {
		nextCalled := false
		next := func() error {
			nextCalled = true
			return nil
		}

		a.Logger.Debugf("applying middleware %s", m.Name())
		if err := m.Process(a, next); err != nil {
			return true, err
		}
		if !nextCalled {
			return true, nil
		}
	}
	return false, nil
}
