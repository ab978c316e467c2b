// Package notifier implements a parkable waiter set so that idle workers
// can sleep without losing wakeups racing against a concurrent push.
//
// The protocol is the prepare/commit/cancel shape from Eigen's/Taskflow's
// non-blocking notifier, generalized from the teacher's single
// sync.Cond-based scheduling gate (eGraph.scheCond in the go-taskflow
// slice): a bare condvar cannot express "recheck, then only block if the
// recheck found nothing", which is exactly what PrepareWait/CommitWait
// gives callers.
package notifier

import "sync"

// Waiter is a single parkable waiter. Callers allocate one per worker and
// reuse it across park cycles.
type Waiter struct {
	mu      sync.Mutex
	cond    *sync.Cond
	waiting bool // true between PrepareWait and CommitWait/CancelWait
	woken   bool // set by Notify while waiting==true
}

// NewWaiter returns a ready-to-use Waiter.
func NewWaiter() *Waiter {
	w := &Waiter{}
	w.cond = sync.NewCond(&w.mu)
	return w
}

// Notifier is a set of waiters associated with one domain's worker pool.
type Notifier struct {
	mu      sync.Mutex
	waiters []*Waiter
}

// New returns a Notifier with no registered waiters.
func New() *Notifier {
	return &Notifier{}
}

// Add registers w with the notifier. Call once per worker at startup.
func (n *Notifier) Add(w *Waiter) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.waiters = append(n.waiters, w)
}

// PrepareWait marks w as tentatively waiting. The caller must re-check
// its wakeup condition (e.g. "is any queue non-empty") after calling
// PrepareWait and before calling CommitWait; if the recheck finds work,
// call CancelWait instead of CommitWait.
func (w *Waiter) PrepareWait() {
	w.mu.Lock()
	w.waiting = true
	w.woken = false
	w.mu.Unlock()
}

// CancelWait undoes a PrepareWait without blocking.
func (w *Waiter) CancelWait() {
	w.mu.Lock()
	w.waiting = false
	w.mu.Unlock()
}

// CommitWait blocks until a Notify wakes this waiter. If a Notify raced
// in between PrepareWait and CommitWait, CommitWait returns immediately
// (the "woken" flag absorbs the race).
func (w *Waiter) CommitWait() {
	w.mu.Lock()
	for w.waiting && !w.woken {
		w.cond.Wait()
	}
	w.waiting = false
	w.woken = false
	w.mu.Unlock()
}

// wake marks w woken and releases anyone blocked in CommitWait. Returns
// true if w was in the prepare/commit window (i.e. this wake was
// "consumed" by w).
func (w *Waiter) wake() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.waiting {
		return false
	}
	w.woken = true
	w.cond.Broadcast()
	return true
}

// Notify wakes one waiter, or all waiters if all is true. Notify(false)
// wakes at most one waiter that is currently prepared/committed; it is a
// no-op if none are waiting (the eventual consumer of the corresponding
// push will simply find it on its next poll).
func (n *Notifier) Notify(all bool) {
	n.mu.Lock()
	ws := append([]*Waiter(nil), n.waiters...)
	n.mu.Unlock()

	for _, w := range ws {
		if w.wake() && !all {
			return
		}
	}
}

// NotifyN wakes up to k waiters.
func (n *Notifier) NotifyN(k int) {
	if k <= 0 {
		return
	}
	n.mu.Lock()
	ws := append([]*Waiter(nil), n.waiters...)
	n.mu.Unlock()

	woken := 0
	for _, w := range ws {
		if woken >= k {
			return
		}
		if w.wake() {
			woken++
		}
	}
}
