package encsync

import (
	"github.com/llxisdsh/pb"

	"github.com/llxisdsh/encsync/internal/opt"
)

// RWLockGroup allows shared Reader-Writer locking on arbitrary keys.
// Each key is backed by its own RWLock, with the same hand-off and
// writer-preference rules.
//
// Features:
//   - RLock/RUnlock for shared read access.
//   - Lock/Unlock for exclusive write access.
//   - Infinite Keys & Auto-Cleanup: a key's lock is dropped once no holder or
//     waiter references it.
//
// Usage:
//
//	var group RWLockGroup[string]
//
//	// Readers
//	group.RLock("config")
//	read(config)
//	group.RUnlock("config")
//
//	// Writer
//	group.Lock("config")
//	write(config)
//	group.Unlock("config")
type RWLockGroup[K comparable] struct {
	_ noCopy
	m pb.MapOf[K, *rwLockGroupEntry]
	// race serializes map access in race builds only: pb reads bucket
	// pointers without atomics on TSO targets.
	race SpinMutex[struct{}]
}

type rwLockGroupEntry struct {
	mu  RWLock
	ref int32
}

func (g *RWLockGroup[K]) Lock(k K) {
	g.acquire(k).mu.Lock()
}

func (g *RWLockGroup[K]) Unlock(k K) {
	v, ok := g.load(k)
	if !ok {
		return
	}
	v.mu.Unlock()
	g.release(k)
}

func (g *RWLockGroup[K]) RLock(k K) {
	g.acquire(k).mu.RLock()
}

func (g *RWLockGroup[K]) RUnlock(k K) {
	v, ok := g.load(k)
	if !ok {
		return
	}
	v.mu.RUnlock()
	g.release(k)
}

// TryLock tries to write-lock k without blocking.
func (g *RWLockGroup[K]) TryLock(k K) bool {
	if g.acquire(k).mu.TryLock() {
		return true
	}
	g.release(k)
	return false
}

// TryRLock tries to read-lock k without blocking.
func (g *RWLockGroup[K]) TryRLock(k K) bool {
	if g.acquire(k).mu.TryRLock() {
		return true
	}
	g.release(k)
	return false
}

// Len returns the number of keys currently held or waited on.
func (g *RWLockGroup[K]) Len() int {
	if l, ok := g.guard(); ok {
		defer l.Unlock()
	}
	return g.m.Size()
}

func (g *RWLockGroup[K]) guard() (SpinGuard[struct{}], bool) {
	if !opt.Race_ {
		return SpinGuard[struct{}]{}, false
	}
	return g.race.Lock(), true
}

func (g *RWLockGroup[K]) load(k K) (*rwLockGroupEntry, bool) {
	if l, ok := g.guard(); ok {
		defer l.Unlock()
	}
	return g.m.Load(k)
}

func (g *RWLockGroup[K]) acquire(k K) *rwLockGroupEntry {
	if l, ok := g.guard(); ok {
		defer l.Unlock()
	}
	v, _ := g.m.ProcessEntry(
		k,
		func(l *pb.EntryOf[K, *rwLockGroupEntry]) (*pb.EntryOf[K, *rwLockGroupEntry], *rwLockGroupEntry, bool) {
			if l != nil {
				l.Value.ref++
				return l, l.Value, true
			}
			e := &rwLockGroupEntry{ref: 1}
			return &pb.EntryOf[K, *rwLockGroupEntry]{Value: e}, e, false
		},
	)
	return v
}

func (g *RWLockGroup[K]) release(k K) {
	if l, ok := g.guard(); ok {
		defer l.Unlock()
	}
	g.m.ProcessEntry(
		k,
		func(l *pb.EntryOf[K, *rwLockGroupEntry]) (*pb.EntryOf[K, *rwLockGroupEntry], *rwLockGroupEntry, bool) {
			if l == nil {
				return nil, nil, false
			}
			l.Value.ref--
			if l.Value.ref <= 0 {
				return nil, nil, true
			}
			return l, l.Value, true
		},
	)
}
