package main

import (
	"time"

	"github.com/go-faster/errors"
	"github.com/spf13/pflag"
)

type config struct {
	Readers    int
	Writers    int
	Iterations int
	TryRatio   float64
	Timeout    time.Duration
}

func defaultConfig() config {
	return config{
		Readers:    8,
		Writers:    2,
		Iterations: 10000,
		TryRatio:   0.1,
		Timeout:    time.Minute,
	}
}

func (c *config) bindFlags(fs *pflag.FlagSet) {
	fs.IntVarP(&c.Readers, "readers", "r", c.Readers, "number of reader goroutines")
	fs.IntVarP(&c.Writers, "writers", "w", c.Writers, "number of writer goroutines")
	fs.IntVarP(&c.Iterations, "iterations", "n", c.Iterations, "acquire attempts per goroutine")
	fs.Float64Var(&c.TryRatio, "try-ratio", c.TryRatio, "fraction of attempts made with TryRLock/TryLock")
	fs.DurationVar(&c.Timeout, "timeout", c.Timeout, "fail if the run takes longer")
}

func (c config) validate() error {
	switch {
	case c.Readers < 0 || c.Writers < 0:
		return errors.Errorf("negative worker count: readers=%d writers=%d", c.Readers, c.Writers)
	case c.Readers+c.Writers == 0:
		return errors.New("no workers")
	case c.Iterations <= 0:
		return errors.Errorf("iterations must be positive, got %d", c.Iterations)
	case c.TryRatio < 0 || c.TryRatio > 1:
		return errors.Errorf("try-ratio must be within [0, 1], got %v", c.TryRatio)
	case c.Timeout <= 0:
		return errors.Errorf("timeout must be positive, got %v", c.Timeout)
	}
	return nil
}
