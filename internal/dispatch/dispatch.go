// Package dispatch provides bounded concurrent callback fan-out with
// per-subscriber failure isolation.
package dispatch

import (
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Result reports the outcome of one subscriber invocation.
type Result struct {
	Index int
	Err   error
}

// Dispatcher fans a notification out to a set of callbacks. Each
// callback runs in its own goroutine with panic recovery, so one
// faulty subscriber can neither block nor fail the others. The wait
// for completion is bounded; stragglers are abandoned and logged.
type Dispatcher struct {
	logger  *zap.Logger
	timeout time.Duration
}

// NewDispatcher creates a dispatcher with the given per-fanout wait bound.
func NewDispatcher(logger *zap.Logger, timeout time.Duration) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Dispatcher{logger: logger.Named("dispatch"), timeout: timeout}
}

// Dispatch invokes every callback concurrently and waits up to the
// configured timeout. It returns one Result per completed callback;
// callbacks still running at the deadline are not represented.
func (d *Dispatcher) Dispatch(fns []func()) []Result {
	if len(fns) == 0 {
		return nil
	}

	// Buffered so abandoned stragglers never block on send.
	ch := make(chan Result, len(fns))
	for i, fn := range fns {
		go func(idx int, fn func()) {
			defer func() {
				if r := recover(); r != nil {
					ch <- Result{Index: idx, Err: fmt.Errorf("subscriber panic: %v", r)}
				}
			}()
			fn()
			ch <- Result{Index: idx}
		}(i, fn)
	}

	results := make([]Result, 0, len(fns))
	deadline := time.NewTimer(d.timeout)
	defer deadline.Stop()

	for len(results) < len(fns) {
		select {
		case r := <-ch:
			if r.Err != nil {
				d.logger.Warn("subscriber failed",
					zap.Int("index", r.Index),
					zap.Error(r.Err))
			}
			results = append(results, r)
		case <-deadline.C:
			d.logger.Warn("dispatch wait exceeded",
				zap.Int("completed", len(results)),
				zap.Int("total", len(fns)),
				zap.Duration("timeout", d.timeout))
			return results
		}
	}
	return results
}
