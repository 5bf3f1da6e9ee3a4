package encsync

import (
	"sync"
	"unsafe"
)

// RWLockSize is the fixed in-memory size of an RWLock in bytes.
// Foreign code that lays out structures containing an RWLock, such as a
// stack unwinder linked into the same address space, relies on it.
const RWLockSize = 128

// RWLock is a reader-writer lock for environments without OS blocking
// primitives.
//
// State lives in two SpinMutex-guarded cells, always locked readers first:
//   - readers: active reader count (0 means none) and parked readers.
//   - writer: whether a writer holds the lock, and parked writers.
//
// Properties:
//   - Writer-preferred: a parked writer stops new readers from entering.
//   - Hand-off: unlocking passes ownership straight to parked waiters, so the
//     lock is never observed free while anyone is queued. Woken waiters do
//     not re-check; they already own the lock.
//   - Parked writers are served FIFO. Parked readers are all admitted at once
//     when a writer leaves and no other writer is queued.
//
// There is no poisoning, upgrading, or timeout. Unlocking a lock that the
// caller does not hold is undefined behavior.
//
// The zero value is an unlocked RWLock and needs no initialization.
//
// Size: RWLockSize (128) bytes on every platform.
type RWLock struct {
	_ noCopy
	rwLockCells
	_ [RWLockSize - unsafe.Sizeof(rwLockCells{})]byte
}

type rwLockCells struct {
	readers SpinMutex[WaitVariable[uint]]
	writer  SpinMutex[WaitVariable[bool]]
}

// Both assertions fail to compile unless RWLock is exactly RWLockSize bytes.
var (
	_ [RWLockSize - unsafe.Sizeof(RWLock{})]byte
	_ [unsafe.Sizeof(RWLock{}) - RWLockSize]byte
)

var _ sync.Locker = (*RWLock)(nil)

// NewRWLock returns a new unlocked RWLock.
// Prefer declaring an RWLock value; the zero value is ready to use.
func NewRWLock() *RWLock {
	return &RWLock{}
}

// RLock acquires a read lock.
// It parks while a writer holds the lock or is queued for it.
func (rw *RWLock) RLock() {
	rg := rw.readers.Lock()
	wg := rw.writer.Lock()
	if w := wg.Get(); *w.LockVar() || !w.QueueEmpty() {
		// Held or wanted by a writer.
		wg.Unlock()
		Wait(rg)
		// Handed a read lock by Unlock.
		return
	}
	*rg.Get().LockVar()++
	wg.Unlock()
	rg.Unlock()
}

// TryRLock tries to acquire a read lock without blocking.
// It fails both when the lock is unavailable and when either cell is
// momentarily contended.
func (rw *RWLock) TryRLock() bool {
	rg, ok := rw.readers.TryLock()
	if !ok {
		return false
	}
	wg, ok := rw.writer.TryLock()
	if !ok {
		rg.Unlock()
		return false
	}
	w := wg.Get()
	ok = !*w.LockVar() && w.QueueEmpty()
	if ok {
		*rg.Get().LockVar()++
	}
	wg.Unlock()
	rg.Unlock()
	return ok
}

// Lock acquires the write lock.
// It parks while a writer or any reader holds the lock.
func (rw *RWLock) Lock() {
	rg := rw.readers.Lock()
	wg := rw.writer.Lock()
	if *wg.Get().LockVar() || *rg.Get().LockVar() != 0 {
		rg.Unlock()
		Wait(wg)
		// Handed the write lock by RUnlock or Unlock.
		return
	}
	*wg.Get().LockVar() = true
	wg.Unlock()
	rg.Unlock()
}

// TryLock tries to acquire the write lock without blocking.
func (rw *RWLock) TryLock() bool {
	rg, ok := rw.readers.TryLock()
	if !ok {
		return false
	}
	wg, ok := rw.writer.TryLock()
	if !ok {
		rg.Unlock()
		return false
	}
	ok = !*wg.Get().LockVar() && *rg.Get().LockVar() == 0
	if ok {
		*wg.Get().LockVar() = true
	}
	wg.Unlock()
	rg.Unlock()
	return ok
}

// RUnlock releases a read lock.
// The last reader out hands the lock to the first queued writer, if any.
func (rw *RWLock) RUnlock() {
	rg := rw.readers.Lock()
	wg := rw.writer.Lock()
	rw.readUnlock(rg, wg)
}

// Unlock releases the write lock.
// The first queued writer takes over if there is one; otherwise every
// queued reader is admitted at once.
func (rw *RWLock) Unlock() {
	rg := rw.readers.Lock()
	wg := rw.writer.Lock()
	rw.writeUnlock(rg, wg)
}

// Release releases whichever lock the caller holds, read or write.
// It is meant for callers that do not track which kind they acquired.
func (rw *RWLock) Release() {
	rg := rw.readers.Lock()
	wg := rw.writer.Lock()
	if *wg.Get().LockVar() {
		rw.writeUnlock(rg, wg)
	} else {
		rw.readUnlock(rg, wg)
	}
}

// Destroy is a no-op: an RWLock owns no resources beyond its own memory.
func (rw *RWLock) Destroy() {}

// RLocker returns a sync.Locker that calls RLock and RUnlock.
func (rw *RWLock) RLocker() sync.Locker {
	return (*rlocker)(rw)
}

type rlocker RWLock

func (r *rlocker) Lock()   { (*RWLock)(r).RLock() }
func (r *rlocker) Unlock() { (*RWLock)(r).RUnlock() }

func (rw *RWLock) readUnlock(
	rg SpinGuard[WaitVariable[uint]],
	wg SpinGuard[WaitVariable[bool]],
) {
	r := rg.Get()
	*r.LockVar()--
	if *r.LockVar() != 0 {
		// Other readers are still active.
		wg.Unlock()
		rg.Unlock()
		return
	}
	ng, ok := NotifyOne(wg)
	if ok {
		// Pass the lock to the writer without going through free.
		*ng.Get().LockVar() = true
	} else if !r.QueueEmpty() {
		ng.Unlock()
		rg.Unlock()
		panic("encsync: readers parked on a released RWLock")
	}
	rg.Unlock()
	ng.Unlock()
}

func (rw *RWLock) writeUnlock(
	rg SpinGuard[WaitVariable[uint]],
	wg SpinGuard[WaitVariable[bool]],
) {
	ng, ok := NotifyOne(wg)
	if ok {
		// The writer flag stays set; ownership moves to the woken writer.
		rg.Unlock()
		ng.Unlock()
		return
	}
	*ng.Get().LockVar() = false
	rn, ok := NotifyAll(rg)
	if ok {
		*rn.Get().LockVar() = uint(rn.Notified().Count)
	}
	ng.Unlock()
	rn.Unlock()
}
