package encsync

import (
	"runtime"
	"sync"
	"sync/atomic"
	"testing"
	"time"
	"unsafe"

	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"

	"github.com/llxisdsh/encsync/internal/opt"
)

type rwSnapshot struct {
	readers       uint
	writer        bool
	queuedReaders int
	queuedWriters int
}

func snapshot(rw *RWLock) rwSnapshot {
	rg := rw.readers.Lock()
	wg := rw.writer.Lock()
	s := rwSnapshot{
		readers:       *rg.Get().LockVar(),
		writer:        *wg.Get().LockVar(),
		queuedReaders: rg.Get().QueueLen(),
		queuedWriters: wg.Get().QueueLen(),
	}
	wg.Unlock()
	rg.Unlock()
	return s
}

func requireInvariants(t *testing.T, s rwSnapshot) {
	t.Helper()
	require.False(t, s.writer && s.readers != 0, "writer and readers at once: %+v", s)
	if !s.writer && s.readers == 0 {
		require.Zero(t, s.queuedReaders, "free lock with parked readers: %+v", s)
		require.Zero(t, s.queuedWriters, "free lock with parked writers: %+v", s)
	}
}

func waitQueued(t *testing.T, rw *RWLock, readers, writers int) {
	t.Helper()
	require.Eventually(t, func() bool {
		s := snapshot(rw)
		return s.queuedReaders == readers && s.queuedWriters == writers
	}, 5*time.Second, time.Millisecond)
}

func recvWithin(t *testing.T, ch <-chan string, d time.Duration) string {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(d):
		t.Fatal("timed out waiting for lock grant")
		return ""
	}
}

func TestRWLock_Size(t *testing.T) {
	require.EqualValues(t, RWLockSize, unsafe.Sizeof(RWLock{}))
}

func TestRWLock_Basic(t *testing.T) {
	var a int
	var rw RWLock
	rw.Lock()
	a = 1
	rw.Unlock()
	rw.RLock()
	_ = a
	rw.RUnlock()
	require.Equal(t, rwSnapshot{}, snapshot(&rw))
}

func TestRWLock_ReadRoundTrip(t *testing.T) {
	rw := NewRWLock()
	rw.RLock()
	require.Equal(t, rwSnapshot{readers: 1}, snapshot(rw))
	rw.RUnlock()
	require.Equal(t, rwSnapshot{}, snapshot(rw))
}

func TestRWLock_ConcurrentReaders(t *testing.T) {
	var rw RWLock
	const k = 16

	var acquired sync.WaitGroup
	acquired.Add(k)
	release := make(chan struct{})
	var done sync.WaitGroup
	done.Add(k)
	for range k {
		go func() {
			defer done.Done()
			rw.RLock()
			acquired.Done()
			<-release
			rw.RUnlock()
		}()
	}

	acquired.Wait()
	s := snapshot(&rw)
	require.Equal(t, rwSnapshot{readers: k}, s)
	require.False(t, rw.TryLock())

	close(release)
	done.Wait()
	require.Equal(t, rwSnapshot{}, snapshot(&rw))
}

func TestRWLock_WritePreference(t *testing.T) {
	var rw RWLock
	events := make(chan string, 2)
	releaseW1 := make(chan struct{})
	releaseR2 := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(2)

	// R1
	rw.RLock()

	go func() {
		defer wg.Done()
		rw.Lock()
		events <- "w1"
		<-releaseW1
		rw.Unlock()
	}()
	waitQueued(t, &rw, 0, 1)

	go func() {
		defer wg.Done()
		rw.RLock()
		events <- "r2"
		<-releaseR2
		rw.RUnlock()
	}()
	waitQueued(t, &rw, 1, 1)
	require.False(t, rw.TryRLock(), "new reader admitted past a queued writer")

	rw.RUnlock()
	// Hand-off: the writer owns the lock as soon as RUnlock returns.
	s := snapshot(&rw)
	require.Equal(t, rwSnapshot{writer: true, queuedReaders: 1}, s)
	require.Equal(t, "w1", recvWithin(t, events, 5*time.Second))

	select {
	case ev := <-events:
		t.Fatalf("%s granted while w1 holds the lock", ev)
	case <-time.After(10 * time.Millisecond):
	}

	close(releaseW1)
	require.Equal(t, "r2", recvWithin(t, events, 5*time.Second))
	require.Equal(t, rwSnapshot{readers: 1}, snapshot(&rw))

	close(releaseR2)
	wg.Wait()
	require.Equal(t, rwSnapshot{}, snapshot(&rw))
}

func TestRWLock_MassReaderHandoff(t *testing.T) {
	var rw RWLock
	const k = 3
	rw.Lock()

	granted := make(chan string, k)
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(k)
	for range k {
		go func() {
			defer wg.Done()
			rw.RLock()
			granted <- "r"
			<-release
			rw.RUnlock()
		}()
	}
	waitQueued(t, &rw, k, 0)

	rw.Unlock()
	// All readers are admitted by Unlock itself, before any of them runs.
	require.Equal(t, rwSnapshot{readers: k}, snapshot(&rw))
	require.False(t, rw.TryLock())

	for range k {
		recvWithin(t, granted, 5*time.Second)
	}
	close(release)
	wg.Wait()
	require.Equal(t, rwSnapshot{}, snapshot(&rw))
}

func TestRWLock_WriterHandoff(t *testing.T) {
	var rw RWLock
	rw.Lock()

	granted := make(chan string, 1)
	release := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		rw.Lock()
		granted <- "w2"
		<-release
		rw.Unlock()
	}()
	waitQueued(t, &rw, 0, 1)

	rw.Unlock()
	require.Equal(t, rwSnapshot{writer: true}, snapshot(&rw))
	require.False(t, rw.TryLock())
	require.False(t, rw.TryRLock())

	require.Equal(t, "w2", recvWithin(t, granted, 5*time.Second))
	close(release)
	wg.Wait()
	require.Equal(t, rwSnapshot{}, snapshot(&rw))
}

func TestRWLock_WritersServedFIFO(t *testing.T) {
	var rw RWLock
	rw.Lock()

	const n = 4
	order := make(chan int, n)
	var wg sync.WaitGroup
	wg.Add(n)
	for i := range n {
		go func() {
			defer wg.Done()
			rw.Lock()
			order <- i
			rw.Unlock()
		}()
		waitQueued(t, &rw, 0, i+1)
	}

	rw.Unlock()
	wg.Wait()
	close(order)
	want := 0
	for got := range order {
		require.Equal(t, want, got)
		want++
	}
	require.Equal(t, rwSnapshot{}, snapshot(&rw))
}

func TestRWLock_TryLaws(t *testing.T) {
	tests := []struct {
		name      string
		setup     func(rw *RWLock) (cleanup func())
		wantRead  bool
		wantWrite bool
	}{
		{
			name:      "free",
			setup:     func(*RWLock) func() { return func() {} },
			wantRead:  true,
			wantWrite: true,
		},
		{
			name: "read locked",
			setup: func(rw *RWLock) func() {
				rw.RLock()
				return rw.RUnlock
			},
			wantRead:  true,
			wantWrite: false,
		},
		{
			name: "write locked",
			setup: func(rw *RWLock) func() {
				rw.Lock()
				return rw.Unlock
			},
			wantRead:  false,
			wantWrite: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Run("read", func(t *testing.T) {
				var rw RWLock
				cleanup := tt.setup(&rw)
				before := snapshot(&rw)
				got := rw.TryRLock()
				require.Equal(t, tt.wantRead, got)
				if got {
					before.readers++
					require.Equal(t, before, snapshot(&rw))
					rw.RUnlock()
				} else {
					require.Equal(t, before, snapshot(&rw))
				}
				cleanup()
				require.Equal(t, rwSnapshot{}, snapshot(&rw))
			})
			t.Run("write", func(t *testing.T) {
				var rw RWLock
				cleanup := tt.setup(&rw)
				before := snapshot(&rw)
				got := rw.TryLock()
				require.Equal(t, tt.wantWrite, got)
				if got {
					require.Equal(t, rwSnapshot{writer: true}, snapshot(&rw))
					rw.Unlock()
				} else {
					require.Equal(t, before, snapshot(&rw))
				}
				cleanup()
				require.Equal(t, rwSnapshot{}, snapshot(&rw))
			})
		})
	}
}

func TestRWLock_TryFailsOnContendedCell(t *testing.T) {
	var rw RWLock
	g := rw.readers.Lock()
	require.False(t, rw.TryRLock())
	require.False(t, rw.TryLock())
	g.Unlock()

	h := rw.writer.Lock()
	require.False(t, rw.TryRLock())
	require.False(t, rw.TryLock())
	h.Unlock()

	require.Equal(t, rwSnapshot{}, snapshot(&rw))
}

func TestRWLock_Release(t *testing.T) {
	var rw RWLock

	rw.RLock()
	rw.RLock()
	rw.Release()
	require.Equal(t, rwSnapshot{readers: 1}, snapshot(&rw))
	rw.Release()
	require.Equal(t, rwSnapshot{}, snapshot(&rw))

	rw.Lock()
	rw.Release()
	require.Equal(t, rwSnapshot{}, snapshot(&rw))

	rw.Destroy()
	require.Equal(t, rwSnapshot{}, snapshot(&rw))
}

func TestRWLock_RLocker(t *testing.T) {
	var rw RWLock
	var l sync.Locker = rw.RLocker()
	l.Lock()
	require.Equal(t, rwSnapshot{readers: 1}, snapshot(&rw))
	l.Unlock()
	require.Equal(t, rwSnapshot{}, snapshot(&rw))
}

func TestRWLock_NoLostWakeups(t *testing.T) {
	var rw RWLock
	n := 64
	loops := opt.Iterations_(200)

	var inside atomic.Int32
	var total int
	var g errgroup.Group
	for range n {
		g.Go(func() error {
			for range loops {
				rw.Lock()
				if inside.Add(1) != 1 {
					t.Errorf("multiple writers active")
				}
				total++
				inside.Add(-1)
				rw.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	require.Equal(t, n*loops, total)
	require.Equal(t, rwSnapshot{}, snapshot(&rw))
}

func TestRWLock_ReadersAndWriters(t *testing.T) {
	var rw RWLock
	var readers int32
	var writers int32

	loops := opt.Iterations_(1000)
	readerN := runtime.GOMAXPROCS(0)
	writerN := 2

	var wg sync.WaitGroup
	wg.Add(readerN + writerN)

	for range readerN {
		go func() {
			defer wg.Done()
			for i := range loops {
				if i%4 == 0 {
					if !rw.TryRLock() {
						continue
					}
				} else {
					rw.RLock()
				}
				n := atomic.AddInt32(&readers, 1)
				if atomic.LoadInt32(&writers) != 0 {
					t.Errorf("reader observed active writer")
				}
				if n <= 0 {
					t.Errorf("invalid reader count")
				}
				atomic.AddInt32(&readers, -1)
				rw.RUnlock()
			}
		}()
	}

	for range writerN {
		go func() {
			defer wg.Done()
			for i := range loops {
				if i%4 == 0 {
					if !rw.TryLock() {
						continue
					}
				} else {
					rw.Lock()
				}
				if atomic.AddInt32(&writers, 1) != 1 {
					t.Errorf("multiple writers active")
				}
				if atomic.LoadInt32(&readers) != 0 {
					t.Errorf("writer observed active readers")
				}
				atomic.AddInt32(&writers, -1)
				rw.Release()
			}
		}()
	}

	// Sample the combined state while the workers run.
	stop := make(chan struct{})
	sampled := make(chan struct{})
	go func() {
		defer close(sampled)
		for {
			select {
			case <-stop:
				return
			default:
			}
			requireInvariantsNoFatal(t, snapshot(&rw))
			runtime.Gosched()
		}
	}()

	wg.Wait()
	close(stop)
	<-sampled
	requireInvariants(t, snapshot(&rw))
	require.Equal(t, rwSnapshot{}, snapshot(&rw))
}

// requireInvariantsNoFatal is requireInvariants for goroutines other than
// the test's own, where FailNow is not allowed.
func requireInvariantsNoFatal(t *testing.T, s rwSnapshot) {
	if s.writer && s.readers != 0 {
		t.Errorf("writer and readers at once: %+v", s)
	}
	if !s.writer && s.readers == 0 && (s.queuedReaders != 0 || s.queuedWriters != 0) {
		t.Errorf("free lock with parked waiters: %+v", s)
	}
}
