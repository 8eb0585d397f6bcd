// Package dispatch fans independent tasks out and joins on all of them.
package dispatch

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Strategy runs fn for every index in [0, n) and returns the error of the
// lowest failing index, or nil. All n tasks run to completion; a failure does
// not cancel the others.
type Strategy interface {
	Run(n int, fn func(i int) error) error
}

// Sequential runs tasks in index order on the calling goroutine.
type Sequential struct{}

func (Sequential) Run(n int, fn func(i int) error) error {
	var first error
	for i := 0; i < n; i++ {
		if err := fn(i); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Parallel runs tasks on a bounded pool of goroutines. Workers <= 0 means
// GOMAXPROCS.
type Parallel struct {
	Workers int
}

func (p Parallel) Run(n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	workers := p.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	if workers > n {
		workers = n
	}
	if workers == 1 {
		return Sequential{}.Run(n, fn)
	}

	errs := make([]error, n)
	var g errgroup.Group
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			errs[i] = fn(i)
			return nil
		})
	}
	_ = g.Wait()

	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

// Default is the strategy used when none is configured.
func Default() Strategy {
	return Parallel{}
}
