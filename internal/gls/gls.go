// Package gls gives a worker goroutine a way to recognize "who am I"
// from inside a user callable, without threading an extra parameter
// through every task signature. Go has no thread-local storage, so this
// is the idiomatic rework of the teacher's C++ thread_local worker
// pointer: a registry keyed by the calling goroutine's runtime id,
// populated once when a worker's loop starts and cleared when it exits.
//
// The goroutine id is parsed out of runtime.Stack, the same technique
// used by several goroutine-local-storage shims in the wild. It is a
// private, load-bearing-only-for-diagnostics feature: nothing in the
// scheduler's correctness depends on it, only Executor.ThisWorkerID.
package gls

import (
	"bytes"
	"runtime"
	"strconv"
	"sync"
)

// goroutineID parses "goroutine 123 [running]:" off the top of the
// caller's own stack trace.
func goroutineID() int64 {
	buf := make([]byte, 64)
	for {
		n := runtime.Stack(buf, false)
		if n < len(buf) {
			buf = buf[:n]
			break
		}
		buf = make([]byte, 2*len(buf))
	}
	buf = bytes.TrimPrefix(buf, []byte("goroutine "))
	if i := bytes.IndexByte(buf, ' '); i >= 0 {
		buf = buf[:i]
	}
	id, _ := strconv.ParseInt(string(buf), 10, 64)
	return id
}

// Registry binds worker identities to goroutines. Each Executor owns
// its own Registry, so ids from two different executors never collide.
type Registry struct {
	mu sync.RWMutex
	m  map[int64]int
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{m: make(map[int64]int)}
}

// Bind associates the calling goroutine with workerID until Unbind.
func (r *Registry) Bind(workerID int) {
	id := goroutineID()
	r.mu.Lock()
	r.m[id] = workerID
	r.mu.Unlock()
}

// Unbind removes the calling goroutine's association.
func (r *Registry) Unbind() {
	id := goroutineID()
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

// Lookup returns the worker id bound to the calling goroutine, if any.
func (r *Registry) Lookup() (int, bool) {
	id := goroutineID()
	r.mu.RLock()
	defer r.mu.RUnlock()
	wid, ok := r.m[id]
	return wid, ok
}
