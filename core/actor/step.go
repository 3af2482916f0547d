package actor

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

type (
	// IOFunc is a blocking operation (ledger call, storage access, request to
	// another actor). It runs outside the worker pool while the actor waits.
	IOFunc func(ctx context.Context) (any, error)

	// Continuation resumes an actor turn with the outcome of an IOFunc.
	Continuation func(v any, err error) Step
)

// Step is the outcome of one slice of an actor turn: a result, an error, or a
// suspension on I/O followed by a continuation.
//
// An actor stays busy while suspended, so no other envelope for it starts,
// but the worker that ran it is handed back to the pool.
type Step struct {
	suspended bool
	result    any
	err       error
	io        IOFunc
	then      Continuation
}

// Done completes the turn successfully with v.
func Done(v any) Step { return Step{result: v} }

// Fail completes the turn with err. Errors that are not already operation
// errors are wrapped so callers can match [ErrOperationFailed].
func Fail(err error) Step {
	if err == nil {
		err = OperationFailed("unknown error")
	}
	return Step{err: AsOperationError(err)}
}

// Failf is Fail with a formatted [OperationError].
func Failf(format string, args ...any) Step {
	return Step{err: OperationFailed(format, args...)}
}

// Await suspends the turn on io. then receives its outcome; a nil then
// completes the turn with the io result.
func Await(io IOFunc, then Continuation) Step {
	if then == nil {
		then = func(v any, err error) Step {
			if err != nil {
				return Fail(err)
			}
			return Done(v)
		}
	}
	return Step{suspended: true, io: io, then: then}
}

// AwaitAll runs all ios concurrently and passes their results, in order, to
// then. The first error cancels the remaining calls.
func AwaitAll(ios []IOFunc, then func(vs []any, err error) Step) Step {
	return Await(func(ctx context.Context) (any, error) {
		out := make([]any, len(ios))
		g, gctx := errgroup.WithContext(ctx)
		for i, io := range ios {
			g.Go(func() error {
				v, err := io(gctx)
				if err != nil {
					return err
				}
				out[i] = v
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		return out, nil
	}, func(v any, err error) Step {
		if err != nil {
			return then(nil, err)
		}
		return then(v.([]any), nil)
	})
}

// Then runs next with the result once s completes successfully. Failures
// short-circuit.
func (s Step) Then(next func(v any) Step) Step {
	if s.suspended {
		io, cont := s.io, s.then
		return Step{suspended: true, io: io, then: func(v any, err error) Step {
			return cont(v, err).Then(next)
		}}
	}
	if s.err != nil {
		return s
	}
	return next(s.result)
}

func (s Step) IsSuspended() bool { return s.suspended }

// Result returns the terminal outcome. It panics on a suspended step.
func (s Step) Result() (any, error) {
	if s.suspended {
		panic("actor: Result called on suspended step")
	}
	return s.result, s.err
}

// IO returns the blocking operation of a suspended step.
func (s Step) IO() IOFunc { return s.io }

// Resume feeds the io outcome into the continuation. Panics raised by the
// continuation become operation failures.
func (s Step) Resume(v any, err error) (next Step) {
	if !s.suspended {
		return s
	}
	defer func() {
		if r := recover(); r != nil {
			next = Failf("panic: %v", r)
		}
	}()
	return s.then(v, err)
}

// RunIO executes the step's io, converting panics into errors.
func (s Step) RunIO(ctx context.Context) (v any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("io panic: %v", r)
		}
	}()
	if s.io == nil {
		return nil, nil
	}
	return s.io(ctx)
}
