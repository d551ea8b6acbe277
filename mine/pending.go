package mine

import (
	"context"
	"sync"
)

// Pending is the handle returned by every asynchronous operation on a List or
// User. It settles exactly once, either with a value or with an error.
//
// Handlers attached with OnSuccess, OnFailure and Always before the handle
// settles run in registration order on the settling goroutine, and Done is
// closed only after they return, so a handler must not block on its own
// handle. Handlers attached afterwards run immediately on the caller's
// goroutine.
type Pending[T any] struct {
	mu       sync.Mutex
	done     chan struct{}
	settled  bool
	val      T
	err      error
	handlers []func()
}

func newPending[T any]() *Pending[T] {
	return &Pending[T]{done: make(chan struct{})}
}

// Go runs fn on its own goroutine and returns a handle for its outcome.
func Go[T any](ctx context.Context, fn func(ctx context.Context) (T, error)) *Pending[T] {
	p := newPending[T]()
	go func() {
		v, err := fn(ctx)
		p.settle(v, err)
	}()
	return p
}

// Resolved returns a handle already settled with v.
func Resolved[T any](v T) *Pending[T] {
	p := newPending[T]()
	p.settle(v, nil)
	return p
}

// Rejected returns a handle already settled with err.
func Rejected[T any](err error) *Pending[T] {
	p := newPending[T]()
	var zero T
	p.settle(zero, err)
	return p
}

func (p *Pending[T]) settle(v T, err error) {
	p.mu.Lock()
	if p.settled {
		p.mu.Unlock()
		return
	}
	p.val, p.err = v, err
	p.settled = true
	handlers := p.handlers
	p.handlers = nil
	p.mu.Unlock()

	for _, h := range handlers {
		h()
	}
	close(p.done)
}

func (p *Pending[T]) subscribe(h func()) {
	p.mu.Lock()
	if !p.settled {
		p.handlers = append(p.handlers, h)
		p.mu.Unlock()
		return
	}
	p.mu.Unlock()
	h()
}

// Done returns a channel closed once the handle settles.
func (p *Pending[T]) Done() <-chan struct{} {
	return p.done
}

// Result blocks until the handle settles.
func (p *Pending[T]) Result() (T, error) {
	<-p.done
	return p.val, p.err
}

// Wait blocks until the handle settles or ctx is done. A done ctx does not
// cancel the underlying operation; that is governed by the ctx it was started
// with.
func (p *Pending[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-p.done:
		return p.val, p.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Err blocks until the handle settles and returns only its error.
func (p *Pending[T]) Err() error {
	_, err := p.Result()
	return err
}

// OnSuccess registers fn to receive the value if the handle resolves.
func (p *Pending[T]) OnSuccess(fn func(T)) *Pending[T] {
	p.subscribe(func() {
		if p.err == nil {
			fn(p.val)
		}
	})
	return p
}

// OnFailure registers fn to receive the error if the handle is rejected.
func (p *Pending[T]) OnFailure(fn func(error)) *Pending[T] {
	p.subscribe(func() {
		if p.err != nil {
			fn(p.err)
		}
	})
	return p
}

// Always registers fn to run once the handle settles either way.
func (p *Pending[T]) Always(fn func()) *Pending[T] {
	p.subscribe(fn)
	return p
}

// Then chains fn after p. If p is rejected, fn is skipped and the returned
// handle is rejected with the same error.
func Then[T, U any](ctx context.Context, p *Pending[T], fn func(ctx context.Context, v T) (U, error)) *Pending[U] {
	next := newPending[U]()
	p.subscribe(func() {
		if p.err != nil {
			var zero U
			next.settle(zero, p.err)
			return
		}
		go func() {
			v, err := fn(ctx, p.val)
			next.settle(v, err)
		}()
	})
	return next
}

// All settles once every handle in ps has settled. It resolves with the
// values in input order, or is rejected with the first error observed in
// input order.
func All[T any](ctx context.Context, ps ...*Pending[T]) *Pending[[]T] {
	return Go(ctx, func(ctx context.Context) ([]T, error) {
		vals := make([]T, len(ps))
		var firstErr error
		for i, p := range ps {
			v, err := p.Wait(ctx)
			if err != nil && firstErr == nil {
				firstErr = err
			}
			vals[i] = v
		}
		if firstErr != nil {
			return nil, firstErr
		}
		return vals, nil
	})
}
