// Package deferred provides a future for work submitted to a bounded
// worker pool.
//
//	r := deferred.NewRunner(4)
//	d := deferred.Go(ctx, r, func(ctx context.Context) (*document.Result, error) { ... })
//	res, err := d.Get(ctx)
//
// A Deferred completes exactly once: the first of the work finishing or
// Cancel wins, and later completions are dropped. Cancelling before a worker
// picks the job up means the work never runs.
package deferred

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/kreuzberg/idgen"
	"github.com/hazyhaar/kreuzberg/kerr"
)

// ErrCancelled is the error of a cancelled Deferred.
var ErrCancelled = errors.New("deferred: cancelled")

const (
	statePending int32 = iota
	stateRunning
	stateDone
)

// Deferred is the pending outcome of a job.
type Deferred[T any] struct {
	ID string

	state  atomic.Int32
	done   chan struct{}
	once   sync.Once
	val    T
	err    error
	ctx    context.Context
	cancel context.CancelFunc
}

func newDeferred[T any](parent context.Context, id string) *Deferred[T] {
	ctx, cancel := context.WithCancel(parent)
	return &Deferred[T]{ID: id, done: make(chan struct{}), ctx: ctx, cancel: cancel}
}

// Resolved returns an already completed Deferred.
func Resolved[T any](v T, err error) *Deferred[T] {
	d := newDeferred[T](context.Background(), idgen.New())
	d.complete(v, err)
	return d
}

// complete records the outcome if none was recorded yet.
func (d *Deferred[T]) complete(v T, err error) bool {
	won := false
	d.once.Do(func() {
		d.val, d.err = v, err
		d.state.Store(stateDone)
		close(d.done)
		d.cancel()
		won = true
	})
	return won
}

// IsReady reports whether the outcome is available.
func (d *Deferred[T]) IsReady() bool {
	select {
	case <-d.done:
		return true
	default:
		return false
	}
}

// Done is closed on completion.
func (d *Deferred[T]) Done() <-chan struct{} { return d.done }

// Get blocks until completion or until ctx ends. A ctx error leaves the job
// running.
func (d *Deferred[T]) Get(ctx context.Context) (T, error) {
	select {
	case <-d.done:
		return d.val, d.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// TryGet returns the outcome without blocking; ok is false while pending.
func (d *Deferred[T]) TryGet() (v T, err error, ok bool) {
	if !d.IsReady() {
		return v, nil, false
	}
	return d.val, d.err, true
}

// Wait blocks for at most timeout and reports whether the job completed.
func (d *Deferred[T]) Wait(timeout time.Duration) bool {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-d.done:
		return true
	case <-t.C:
		return false
	}
}

// Cancel completes the Deferred with ErrCancelled and cancels the job's
// context. It returns false when the job had already completed.
func (d *Deferred[T]) Cancel() bool {
	var zero T
	return d.complete(zero, ErrCancelled)
}

// Runner executes jobs with at most n running at once.
type Runner struct {
	sem chan struct{}
	wg  sync.WaitGroup
	ids idgen.Generator
}

// NewRunner creates a Runner. n < 1 means 1.
func NewRunner(n int) *Runner {
	return &Runner{sem: make(chan struct{}, max(n, 1)), ids: idgen.Prefixed("job_", idgen.Default)}
}

// Go submits fn to r and returns immediately. fn receives a context that
// is cancelled by Cancel, by parent, or on completion.
func Go[T any](parent context.Context, r *Runner, fn func(context.Context) (T, error)) *Deferred[T] {
	d := newDeferred[T](parent, r.ids())
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		select {
		case r.sem <- struct{}{}:
		case <-d.done:
			return
		case <-d.ctx.Done():
			var zero T
			d.complete(zero, d.ctx.Err())
			return
		}
		defer func() { <-r.sem }()

		if !d.state.CompareAndSwap(statePending, stateRunning) {
			return
		}
		defer func() {
			if rec := recover(); rec != nil {
				var zero T
				d.complete(zero, kerr.FromPanic("job "+d.ID, rec))
			}
		}()
		v, err := fn(d.ctx)
		d.complete(v, err)
	}()
	return d
}

// Wait blocks until every submitted job has finished or been skipped.
func (r *Runner) Wait() { r.wg.Wait() }
