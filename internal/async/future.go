// Package async delivers the result of a background operation exactly once.
package async

import (
	"context"
	"fmt"
	"sync"
)

// Result holds either a value or an error, never both.
type Result[T any] struct {
	Value T
	Err   error
}

// Future is the single-result completion of an operation started with Go.
type Future[T any] struct {
	done chan struct{}
	res  Result[T]
}

// Go runs fn on its own goroutine. A panic in fn is recovered and delivered
// as the future's error, so callers observe a single failure path.
func Go[T any](fn func() (T, error)) *Future[T] {
	f := &Future[T]{done: make(chan struct{})}
	go func() {
		defer close(f.done)
		defer func() {
			if r := recover(); r != nil {
				var zero T
				f.res = Result[T]{Value: zero, Err: fmt.Errorf("operation panicked: %v", r)}
			}
		}()
		v, err := fn()
		if err != nil {
			var zero T
			v = zero
		}
		f.res = Result[T]{Value: v, Err: err}
	}()
	return f
}

// Failed returns an already completed future carrying err.
func Failed[T any](err error) *Future[T] {
	f := &Future[T]{done: make(chan struct{}), res: Result[T]{Err: err}}
	close(f.done)
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Result blocks until the operation finishes.
func (f *Future[T]) Result() Result[T] {
	<-f.done
	return f.res
}

// Await waits for the result or for ctx to end. Giving up on the wait does
// not stop the operation.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.res.Value, f.res.Err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// OnComplete invokes cb once with the result, on a separate goroutine.
func (f *Future[T]) OnComplete(cb func(T, error)) {
	go func() {
		<-f.done
		cb(f.res.Value, f.res.Err)
	}()
}

// WaitAll blocks until every future has completed.
func WaitAll[T any](futures ...*Future[T]) []Result[T] {
	results := make([]Result[T], len(futures))
	var wg sync.WaitGroup
	for i, f := range futures {
		wg.Add(1)
		go func(i int, f *Future[T]) {
			defer wg.Done()
			results[i] = f.Result()
		}(i, f)
	}
	wg.Wait()
	return results
}
