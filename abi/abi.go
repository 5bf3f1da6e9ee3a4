// Package abi exposes encsync.RWLock to foreign callers through opaque
// handles and integer status codes.
//
// Every entry point validates its handle before touching the lock and
// returns 0 on success. A nil handle yields EINVAL. Pairing acquires with
// releases remains the caller's responsibility; a mismatched release is
// undefined behavior, exactly as for the Go API.
package abi

import (
	"unsafe"

	"github.com/llxisdsh/encsync"
)

// Handle is an opaque reference to caller-owned memory holding an
// encsync.RWLock of encsync.RWLockSize bytes.
type Handle = unsafe.Pointer

// HandleOf returns the handle for l.
func HandleOf(l *encsync.RWLock) Handle {
	return Handle(l)
}

func lockOf(h Handle) *encsync.RWLock {
	return (*encsync.RWLock)(h)
}

// RdLock acquires h for reading, parking until it is granted.
func RdLock(h Handle) int32 {
	if h == nil {
		return EINVAL
	}
	lockOf(h).RLock()
	return 0
}

// WrLock acquires h for writing, parking until it is granted.
func WrLock(h Handle) int32 {
	if h == nil {
		return EINVAL
	}
	lockOf(h).Lock()
	return 0
}

// TryRdLock attempts a read acquire without parking. It returns EBUSY when
// the lock is unavailable or momentarily contended.
func TryRdLock(h Handle) int32 {
	if h == nil {
		return EINVAL
	}
	if !lockOf(h).TryRLock() {
		return EBUSY
	}
	return 0
}

// TryWrLock attempts a write acquire without parking. It returns EBUSY when
// the lock is unavailable or momentarily contended.
func TryWrLock(h Handle) int32 {
	if h == nil {
		return EINVAL
	}
	if !lockOf(h).TryLock() {
		return EBUSY
	}
	return 0
}

// Unlock releases whichever kind of lock the caller holds on h.
func Unlock(h Handle) int32 {
	if h == nil {
		return EINVAL
	}
	lockOf(h).Release()
	return 0
}

// Destroy retires h. The memory behind it stays owned by the caller.
func Destroy(h Handle) int32 {
	if h == nil {
		return EINVAL
	}
	lockOf(h).Destroy()
	return 0
}
