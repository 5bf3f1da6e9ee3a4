package encsync

import (
	"sync/atomic"

	"github.com/llxisdsh/encsync/internal/opt"
)

// WaitVariable pairs a lock variable with a FIFO queue of parked waiters.
// It is meant to live inside a SpinMutex: every method assumes the caller
// holds that mutex.
//
// Waiters never re-check the lock variable when they resume. Whoever pops a
// waiter from the queue sets the lock variable on its behalf, so resuming
// from Wait means the waiter already owns whatever it was waiting for.
type WaitVariable[T any] struct {
	queue   waitQueue
	lockVar T
}

// NewWaitVariable returns a WaitVariable holding v with an empty queue.
// It does not allocate.
func NewWaitVariable[T any](v T) WaitVariable[T] {
	return WaitVariable[T]{lockVar: v}
}

// LockVar returns the lock variable.
//
//go:nosplit
func (v *WaitVariable[T]) LockVar() *T {
	return &v.lockVar
}

// QueueEmpty reports whether no waiter is parked.
//
//go:nosplit
func (v *WaitVariable[T]) QueueEmpty() bool {
	return v.queue.head == nil
}

// QueueLen returns the number of parked waiters.
//
//go:nosplit
func (v *WaitVariable[T]) QueueLen() int {
	return int(v.queue.n)
}

// Wait parks the caller at the tail of g's queue and releases g.
// It returns once a NotifyOne or NotifyAll has popped the caller and the
// notifier's WaitGuard has been unlocked.
func Wait[T any](g SpinGuard[WaitVariable[T]]) {
	w := &waiter{}
	g.Get().queue.push(w)
	g.Unlock()
	w.sema.Acquire()
	// The notifier publishes granted before releasing the sema; loading it
	// orders the notifier's writes before ours for the race detector too.
	if !w.granted.Load() {
		panic("encsync: waiter resumed without a hand-off")
	}
}

// NotifyOne pops the head waiter of g's queue.
//
// On success the returned WaitGuard still holds the SpinMutex, so the caller
// can update the lock variable on the waiter's behalf before it resumes; the
// waiter is released by WaitGuard.Unlock. If the queue is empty, g is
// returned unchanged inside the WaitGuard together with false.
func NotifyOne[T any](g SpinGuard[WaitVariable[T]]) (WaitGuard[T], bool) {
	w := g.Get().queue.pop()
	if w == nil {
		return WaitGuard[T]{SpinGuard: g}, false
	}
	return WaitGuard[T]{
		SpinGuard: g,
		woken:     w,
		notified:  Notified{Count: 1},
	}, true
}

// NotifyAll pops every waiter of g's queue. It behaves like NotifyOne,
// except that Notified reports All and the number of waiters popped.
func NotifyAll[T any](g SpinGuard[WaitVariable[T]]) (WaitGuard[T], bool) {
	head, n := g.Get().queue.takeAll()
	if head == nil {
		return WaitGuard[T]{SpinGuard: g}, false
	}
	return WaitGuard[T]{
		SpinGuard: g,
		woken:     head,
		notified:  Notified{All: true, Count: int(n)},
	}, true
}

// Notified describes the waiters popped by a notify call.
type Notified struct {
	All   bool
	Count int
}

// WaitGuard holds a SpinMutex over a WaitVariable together with the
// waiters a notify call popped from it. The popped waiters stay parked
// until Unlock.
type WaitGuard[T any] struct {
	SpinGuard[WaitVariable[T]]
	woken    *waiter
	notified Notified
}

// Notified reports which waiters this guard will release.
func (g WaitGuard[T]) Notified() Notified {
	return g.notified
}

// Unlock releases the SpinMutex, then resumes the popped waiters.
func (g WaitGuard[T]) Unlock() {
	g.SpinGuard.Unlock()
	for w := g.woken; w != nil; {
		next := w.next
		w.granted.Store(true)
		w.sema.Release()
		w = next
	}
}

type waiter struct {
	next    *waiter
	granted atomic.Bool
	sema    opt.Sema
}

// waitQueue is an intrusive FIFO of parked waiters.
type waitQueue struct {
	head *waiter
	tail *waiter
	n    uint
}

func (q *waitQueue) push(w *waiter) {
	if q.tail == nil {
		q.head = w
	} else {
		q.tail.next = w
	}
	q.tail = w
	q.n++
}

func (q *waitQueue) pop() *waiter {
	w := q.head
	if w == nil {
		return nil
	}
	q.head = w.next
	if q.head == nil {
		q.tail = nil
	}
	w.next = nil
	q.n--
	return w
}

// takeAll detaches the whole queue; the returned list keeps FIFO order.
func (q *waitQueue) takeAll() (*waiter, uint) {
	head, n := q.head, q.n
	q.head, q.tail, q.n = nil, nil, 0
	return head, n
}
