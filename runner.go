package chatkit

import (
	"runtime/debug"
	"sync"

	"github.com/pkg/errors"

	"github.com/chatkit-go/chatkit/utils"
)

// lazyRunner executes deferred listener functions on a bounded pool of
// goroutines. Lazy functions run after the main response is produced, with a
// copied context; their failures are logged, never propagated back to the
// already-sent response.
type lazyRunner struct {
	sem chan struct{}
	wg  sync.WaitGroup
	log utils.Logger
}

const defaultLazyWorkers = 10

func newLazyRunner(workers int, log utils.Logger) *lazyRunner {
	if workers <= 0 {
		workers = defaultLazyWorkers
	}
	return &lazyRunner{
		sem: make(chan struct{}, workers),
		log: log,
	}
}

// Start schedules one lazy function. It never blocks the dispatch path; the
// pool bound applies to execution, not to scheduling.
func (r *lazyRunner) Start(name string, fn Handler, a *Args) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.sem <- struct{}{}
		defer func() { <-r.sem }()

		defer func() {
			if x := recover(); x != nil {
				r.log.Errorw("recovered from a panic in a lazy listener",
					"listener", name,
					"error", x,
					"stack", string(debug.Stack()),
				)
			}
		}()

		if err := fn(a); err != nil {
			r.log.WithError(err).Errorw("lazy listener failed", "listener", name)
		}
	}()
}

// Wait blocks until all scheduled lazy functions finished. Used on shutdown
// and in tests.
func (r *lazyRunner) Wait() {
	r.wg.Wait()
}

// runHandler invokes a handler, converting panics into errors so a listener
// can never crash the dispatch path.
func runHandler(fn Handler, a *Args) (err error) {
	defer func() {
		if x := recover(); x != nil {
			err = errors.Errorf("panic in listener: %v\n%s", x, debug.Stack())
		}
	}()
	return fn(a)
}
