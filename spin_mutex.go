package encsync

import (
	"sync/atomic"
	"time"
	_ "unsafe" // for linkname
)

// SpinMutex is a busy-wait mutex guarding a value of type T.
//
// It never parks: a contended Lock spins with adaptive backoff until the
// holder releases. Critical sections under a SpinMutex must be a handful of
// memory operations; anything that may block belongs in a WaitVariable.
//
// The zero value is an unlocked SpinMutex holding the zero T.
//
// Size: 4 bytes (plus T and padding).
type SpinMutex[T any] struct {
	_     noCopy
	key   uint32
	value T
}

const (
	spinUnlocked = 0
	spinLocked   = 1
)

// NewSpinMutex returns an unlocked SpinMutex holding v.
// It does not allocate.
func NewSpinMutex[T any](v T) SpinMutex[T] {
	return SpinMutex[T]{value: v}
}

// Lock acquires the mutex, spinning until it is free.
func (m *SpinMutex[T]) Lock() SpinGuard[T] {
	if !atomic.CompareAndSwapUint32(&m.key, spinUnlocked, spinLocked) {
		m.lockSlow()
	}
	return SpinGuard[T]{m: m}
}

func (m *SpinMutex[T]) lockSlow() {
	var spins int
	for {
		// Test before test-and-set keeps the cache line shared while held.
		if atomic.LoadUint32(&m.key) == spinUnlocked &&
			atomic.CompareAndSwapUint32(&m.key, spinUnlocked, spinLocked) {
			return
		}
		delay(&spins)
	}
}

// TryLock makes a single attempt to acquire the mutex.
// On failure the returned guard is the zero SpinGuard and must not be used.
func (m *SpinMutex[T]) TryLock() (SpinGuard[T], bool) {
	if atomic.CompareAndSwapUint32(&m.key, spinUnlocked, spinLocked) {
		return SpinGuard[T]{m: m}, true
	}
	return SpinGuard[T]{}, false
}

// SpinGuard is proof that the holder owns a SpinMutex.
// Exactly one Unlock must be called per guard.
type SpinGuard[T any] struct {
	m *SpinMutex[T]
}

// Get returns the guarded value. The pointer is only valid until Unlock.
//
//go:nosplit
func (g SpinGuard[T]) Get() *T {
	return &g.m.value
}

// Unlock releases the mutex.
//
//go:nosplit
func (g SpinGuard[T]) Unlock() {
	atomic.StoreUint32(&g.m.key, spinUnlocked)
}

// noCopy makes go vet's -copylocks check reject copies of a lock after
// first use. It is a named field, never embedded.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

// delay backs off one step: a short active spin while the runtime allows
// it, otherwise a 500µs sleep before the spin budget starts over.
func delay(spins *int) {
	if runtime_canSpin(*spins) {
		*spins++
		runtime_doSpin()
		return
	}
	*spins = 0
	time.Sleep(500 * time.Microsecond)
}

//go:linkname runtime_canSpin sync.runtime_canSpin
func runtime_canSpin(i int) bool

//go:linkname runtime_doSpin sync.runtime_doSpin
func runtime_doSpin()
