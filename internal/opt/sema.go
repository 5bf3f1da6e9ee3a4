package opt

import (
	_ "unsafe" // for linkname
)

// Sema parks exactly one waiter. A Release that lands before the matching
// Acquire is kept, so a notifier may wake a waiter that has not parked yet.
type Sema uint32

func (s *Sema) Acquire() {
	semacquire((*uint32)(s))
}

func (s *Sema) Release() {
	semrelease((*uint32)(s), false, 0)
}

//go:linkname semacquire sync.runtime_Semacquire
func semacquire(addr *uint32)

//go:linkname semrelease sync.runtime_Semrelease
func semrelease(addr *uint32, handoff bool, skipframes int)
