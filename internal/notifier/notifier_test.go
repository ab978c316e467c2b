package notifier

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCommitWaitReturnsImmediatelyAfterCancel(t *testing.T) {
	w := NewWaiter()
	w.PrepareWait()
	w.CancelWait()

	done := make(chan struct{})
	go func() {
		w.CommitWait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("CommitWait blocked after CancelWait")
	}
}

func TestNotifyWakesPreparedWaiter(t *testing.T) {
	n := New()
	w := NewWaiter()
	n.Add(w)

	w.PrepareWait()

	done := make(chan struct{})
	go func() {
		w.CommitWait()
		close(done)
	}()

	// give the goroutine a chance to reach the Wait() call
	time.Sleep(20 * time.Millisecond)
	n.Notify(false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify failed to wake prepared waiter")
	}
}

func TestNotifyRaceBetweenPrepareAndCommitIsNotLost(t *testing.T) {
	// The whole point of PrepareWait/CommitWait: a Notify landing in the
	// gap is not lost, unlike a bare sync.Cond.Wait.
	n := New()
	w := NewWaiter()
	n.Add(w)

	w.PrepareWait()
	n.Notify(false) // races in before CommitWait is called

	done := make(chan struct{})
	go func() {
		w.CommitWait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("wakeup prior to CommitWait was lost")
	}
}

func TestNotifyAllWakesEveryWaiter(t *testing.T) {
	n := New()
	const k = 5
	waiters := make([]*Waiter, k)
	for i := range waiters {
		waiters[i] = NewWaiter()
		n.Add(waiters[i])
		waiters[i].PrepareWait()
	}

	var wg sync.WaitGroup
	wg.Add(k)
	for _, w := range waiters {
		w := w
		go func() {
			defer wg.Done()
			w.CommitWait()
		}()
	}

	time.Sleep(20 * time.Millisecond)
	n.Notify(true)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Notify(true) failed to wake all waiters")
	}
}

func TestNotifyNWakesAtMostKWaiters(t *testing.T) {
	n := New()
	const k = 6
	waiters := make([]*Waiter, k)
	for i := range waiters {
		waiters[i] = NewWaiter()
		n.Add(waiters[i])
		waiters[i].PrepareWait()
	}

	n.NotifyN(2)

	woken := 0
	for _, w := range waiters {
		w.mu.Lock()
		if w.woken {
			woken++
		}
		w.mu.Unlock()
	}
	assert.Equal(t, 2, woken)

	for _, w := range waiters {
		w.CancelWait()
	}
}

func TestNotifyWithNoWaitersIsNoOp(t *testing.T) {
	n := New()
	require.NotPanics(t, func() { n.Notify(false) })
	require.NotPanics(t, func() { n.Notify(true) })
	require.NotPanics(t, func() { n.NotifyN(3) })
}
