package singleflight

import (
	"fmt"
	"sync"
)

// Group manages a set of in-flight calls to prevent duplicate work.
// A key is forgotten as soon as its call returns, so every call after that
// starts a fresh generation.
type Group[T any] struct {
	mu sync.Mutex
	m  map[string]*call[T]
}

// call represents an active function call.
type call[T any] struct {
	wg   sync.WaitGroup
	val  T
	err  error
	dups int
}

// New creates a new singleflight Group.
func New[T any]() *Group[T] {
	return &Group[T]{
		m: make(map[string]*call[T]),
	}
}

// Do executes and returns the results of the given function, making sure that
// only one execution is in-flight for a given key at a time. If a duplicate
// comes in, the duplicate caller waits for the original to complete and
// receives the same results. shared reports whether the result was handed to
// more than one caller.
func (g *Group[T]) Do(key string, fn func() (T, error)) (v T, err error, shared bool) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[string]*call[T])
	}
	if c, ok := g.m[key]; ok {
		c.dups++
		g.mu.Unlock()
		c.wg.Wait()
		return c.val, c.err, true
	}

	c := &call[T]{}
	c.wg.Add(1)
	g.m[key] = c
	g.mu.Unlock()

	g.doCall(c, key, fn)
	return c.val, c.err, c.dups > 0
}

// doCall runs fn, converting a panic into an error so waiters are released.
func (g *Group[T]) doCall(c *call[T], key string, fn func() (T, error)) {
	defer func() {
		if r := recover(); r != nil {
			var zero T
			c.val = zero
			c.err = fmt.Errorf("%w: %v", ErrPanicked, r)
		}

		g.mu.Lock()
		if g.m[key] == c {
			delete(g.m, key)
		}
		g.mu.Unlock()
		c.wg.Done()
	}()

	c.val, c.err = fn()
}

// ForgetKey detaches the call running for key, so the next Do starts a new
// call instead of joining it. Callers already waiting keep their result. It
// reports whether a call was running.
func (g *Group[T]) ForgetKey(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	delete(g.m, key)
	return ok
}
