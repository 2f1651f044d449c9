package singleflight

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func inFlight[T any](g *Group[T], key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.m[key]
	return ok
}

func TestNew(t *testing.T) {
	g := New[string]()
	if g == nil {
		t.Fatal("New() returned nil")
	}
	if g.m == nil {
		t.Error("New() did not initialize map")
	}
}

func TestDo(t *testing.T) {
	g := New[string]()

	val, err, shared := g.Do("key1", func() (string, error) {
		return "hello", nil
	})

	if err != nil {
		t.Errorf("Do() returned error: %v", err)
	}
	if val != "hello" {
		t.Errorf("Do() returned %v, want hello", val)
	}
	if shared {
		t.Error("Do() reported a shared result for a single caller")
	}
}

func TestDoZeroValueGroup(t *testing.T) {
	var g Group[int]

	val, err, _ := g.Do("k", func() (int, error) { return 7, nil })
	if err != nil || val != 7 {
		t.Errorf("Do() on zero Group = (%v, %v), want (7, nil)", val, err)
	}
}

func TestDoError(t *testing.T) {
	g := New[string]()
	expectedErr := errors.New("test error")

	val, err, _ := g.Do("key1", func() (string, error) {
		return "", expectedErr
	})

	if err != expectedErr {
		t.Errorf("Do() returned error %v, want %v", err, expectedErr)
	}
	if val != "" {
		t.Errorf("Do() returned %q, want empty", val)
	}
}

func TestDoDuplicateCalls(t *testing.T) {
	g := New[string]()

	var callCount int32
	release := make(chan struct{})

	fn := func() (string, error) {
		atomic.AddInt32(&callCount, 1)
		<-release
		return "result", nil
	}

	const numCalls = 10
	var wg sync.WaitGroup
	results := make([]string, numCalls)
	errs := make([]error, numCalls)

	for i := 0; i < numCalls; i++ {
		wg.Add(1)
		go func(index int) {
			defer wg.Done()
			results[index], errs[index], _ = g.Do("same-key", fn)
		}(i)
	}

	// Let every goroutine reach Do before the owner finishes.
	for !inFlight(g, "same-key") {
		time.Sleep(time.Millisecond)
	}
	time.Sleep(20 * time.Millisecond)
	close(release)
	wg.Wait()

	if n := atomic.LoadInt32(&callCount); n != 1 {
		t.Errorf("Function called %d times, want 1", n)
	}

	for i, result := range results {
		if errs[i] != nil {
			t.Errorf("Call %d returned error: %v", i, errs[i])
		}
		if result != "result" {
			t.Errorf("Call %d returned %v, want result", i, result)
		}
	}
}

func TestDoForgetsKeyAfterReturn(t *testing.T) {
	g := New[int]()
	calls := 0

	for i := 0; i < 3; i++ {
		_, _, _ = g.Do("k", func() (int, error) {
			calls++
			return calls, nil
		})
	}

	if calls != 3 {
		t.Errorf("sequential Do() calls ran fn %d times, want 3", calls)
	}
	if inFlight(g, "k") {
		t.Error("key still in flight after Do() returned")
	}
}

func TestDoPanic(t *testing.T) {
	g := New[string]()

	_, err, _ := g.Do("boom", func() (string, error) {
		panic("kaboom")
	})

	if !errors.Is(err, ErrPanicked) {
		t.Errorf("Do() error = %v, want ErrPanicked", err)
	}
	if inFlight(g, "boom") {
		t.Error("panicking call left key in flight")
	}
}

func TestForgetKey(t *testing.T) {
	g := New[string]()

	started := make(chan struct{})
	proceed := make(chan struct{})
	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _, _ = g.Do("key1", func() (string, error) {
			close(started)
			<-proceed
			return "value", nil
		})
	}()
	<-started

	if !g.ForgetKey("key1") {
		t.Error("ForgetKey() = false for a running call")
	}
	if g.ForgetKey("key1") {
		t.Error("ForgetKey() = true after the key was forgotten")
	}

	val, err, _ := g.Do("key1", func() (string, error) {
		return "new-value", nil
	})

	if err != nil {
		t.Errorf("Do() after ForgetKey returned error: %v", err)
	}
	if val != "new-value" {
		t.Errorf("Do() after ForgetKey returned %v, want new-value", val)
	}

	close(proceed)
	<-done
}

func BenchmarkDo(b *testing.B) {
	g := New[string]()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_, _, _ = g.Do("bench-key", func() (string, error) {
			return "result", nil
		})
	}
}
