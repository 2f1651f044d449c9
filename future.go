package targomo

import "fmt"

// future is a value that becomes available once its factory returns.
type future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newFuture[T any]() *future[T] {
	return &future[T]{done: make(chan struct{})}
}

// resolve must be called exactly once.
func (f *future[T]) resolve(val T, err error) {
	f.val, f.err = val, err
	close(f.done)
}

func (f *future[T]) wait() (T, error) {
	<-f.done
	return f.val, f.err
}

// failed reports whether the future has resolved with an error.
func (f *future[T]) failed() bool {
	select {
	case <-f.done:
		return f.err != nil
	default:
		return false
	}
}

// runFactory calls factory and turns a panic into ErrFactoryPanic so that
// callers sharing the generation are always released.
func runFactory[T any](factory Factory[T]) (val T, err error) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			val, err = zero, fmt.Errorf("%w: %v", ErrFactoryPanic, r)
		}
	}()
	return factory()
}
