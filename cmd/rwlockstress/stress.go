package main

import (
	"context"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/llxisdsh/encsync"
	"github.com/llxisdsh/encsync/internal/opt"
)

var errViolation = errors.New("exclusion violated")

type workerStats struct {
	ops       opt.Stripe_
	tryHits   opt.Stripe_
	tryMisses opt.Stripe_
}

type result struct {
	Reads      uint64
	Writes     uint64
	TryHits    uint64
	TryMisses  uint64
	Violations int64
	Elapsed    time.Duration
}

func (r result) fields() []zap.Field {
	return []zap.Field{
		zap.Uint64("reads", r.Reads),
		zap.Uint64("writes", r.Writes),
		zap.Uint64("try_hits", r.TryHits),
		zap.Uint64("try_misses", r.TryMisses),
		zap.Int64("violations", r.Violations),
		zap.Duration("elapsed", r.Elapsed),
	}
}

type harness struct {
	cfg        config
	lock       encsync.RWLock
	readers    atomic.Int32
	writers    atomic.Int32
	violations atomic.Int64
}

// run drives cfg.Readers readers and cfg.Writers writers over one lock.
// A worker parked inside the lock cannot be cancelled, so on timeout run
// returns without waiting for it.
func run(ctx context.Context, cfg config) (result, error) {
	h := &harness{cfg: cfg}
	stats := make([]workerStats, cfg.Readers+cfg.Writers)

	start := time.Now()
	var g errgroup.Group
	for i := range stats {
		rng := rand.New(rand.NewPCG(uint64(start.UnixNano()), uint64(i)))
		if i < cfg.Readers {
			g.Go(func() error { return h.reader(rng, &stats[i]) })
		} else {
			g.Go(func() error { return h.writer(rng, &stats[i]) })
		}
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		return h.collect(stats[:0], time.Since(start)), errors.Wrap(ctx.Err(), "workers did not finish")
	}

	res := h.collect(stats, time.Since(start))
	if err != nil {
		return res, err
	}
	if res.Violations != 0 {
		return res, errors.Wrapf(errViolation, "%d violations", res.Violations)
	}
	return res, nil
}

func (h *harness) reader(rng *rand.Rand, st *workerStats) error {
	for range h.cfg.Iterations {
		if rng.Float64() < h.cfg.TryRatio {
			if !h.lock.TryRLock() {
				st.tryMisses.C++
				continue
			}
			st.tryHits.C++
		} else {
			h.lock.RLock()
		}
		h.readers.Add(1)
		if h.writers.Load() != 0 {
			h.violations.Add(1)
		}
		h.readers.Add(-1)
		st.ops.C++
		h.lock.RUnlock()
	}
	return nil
}

func (h *harness) writer(rng *rand.Rand, st *workerStats) error {
	for range h.cfg.Iterations {
		if rng.Float64() < h.cfg.TryRatio {
			if !h.lock.TryLock() {
				st.tryMisses.C++
				continue
			}
			st.tryHits.C++
		} else {
			h.lock.Lock()
		}
		if h.writers.Add(1) != 1 || h.readers.Load() != 0 {
			h.violations.Add(1)
		}
		h.writers.Add(-1)
		st.ops.C++
		h.lock.Unlock()
	}
	return nil
}

// collect sums per-worker stats; only call it once the workers are done.
func (h *harness) collect(stats []workerStats, elapsed time.Duration) result {
	res := result{
		Violations: h.violations.Load(),
		Elapsed:    elapsed,
	}
	for i := range stats {
		st := &stats[i]
		if i < h.cfg.Readers {
			res.Reads += uint64(st.ops.C)
		} else {
			res.Writes += uint64(st.ops.C)
		}
		res.TryHits += uint64(st.tryHits.C)
		res.TryMisses += uint64(st.tryMisses.C)
	}
	return res
}
