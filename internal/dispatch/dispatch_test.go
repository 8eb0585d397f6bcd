package dispatch

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func strategies() map[string]Strategy {
	return map[string]Strategy{
		"sequential":  Sequential{},
		"parallel-1":  Parallel{Workers: 1},
		"parallel-4":  Parallel{Workers: 4},
		"parallel-64": Parallel{Workers: 64},
		"parallel":    Parallel{},
	}
}

func TestRun_Empty(t *testing.T) {
	t.Parallel()

	for name, s := range strategies() {
		called := false
		if err := s.Run(0, func(int) error { called = true; return nil }); err != nil {
			t.Fatalf("%s: Run(0): %v", name, err)
		}
		if called {
			t.Fatalf("%s: fn called for empty batch", name)
		}
	}
}

func TestRun_AllTasksRunEvenAfterFailure(t *testing.T) {
	t.Parallel()

	const n = 37
	for name, s := range strategies() {
		var seen sync.Map
		var count atomic.Int32
		err := s.Run(n, func(i int) error {
			seen.Store(i, true)
			count.Add(1)
			if i == 0 {
				return errors.New("first fails")
			}
			return nil
		})
		if err == nil {
			t.Fatalf("%s: expected error", name)
		}
		if got := count.Load(); got != n {
			t.Fatalf("%s: tasks run: got=%d want=%d", name, got, n)
		}
		for i := 0; i < n; i++ {
			if _, ok := seen.Load(i); !ok {
				t.Fatalf("%s: task %d did not run", name, i)
			}
		}
	}
}

func TestRun_LowestIndexErrorWins(t *testing.T) {
	t.Parallel()

	failing := map[int]bool{3: true, 11: true, 29: true}
	for name, s := range strategies() {
		err := s.Run(32, func(i int) error {
			if !failing[i] {
				return nil
			}
			// Later indices finish first under parallel strategies.
			time.Sleep(time.Duration(32-i) * time.Millisecond)
			return fmt.Errorf("task %d", i)
		})
		if err == nil || err.Error() != "task 3" {
			t.Fatalf("%s: got=%v want=task 3", name, err)
		}
	}
}

func TestRun_StrategiesAgree(t *testing.T) {
	t.Parallel()

	for n := 0; n < 20; n++ {
		fn := func(i int) error {
			if i%7 == 5 {
				return fmt.Errorf("bad %d", i)
			}
			return nil
		}
		want := Sequential{}.Run(n, fn)
		for name, s := range strategies() {
			got := s.Run(n, fn)
			if fmt.Sprint(got) != fmt.Sprint(want) {
				t.Fatalf("%s n=%d: got=%v want=%v", name, n, got, want)
			}
		}
	}
}

func TestParallel_BoundsConcurrency(t *testing.T) {
	t.Parallel()

	var cur, peak atomic.Int32
	err := Parallel{Workers: 3}.Run(24, func(int) error {
		c := cur.Add(1)
		for {
			p := peak.Load()
			if c <= p || peak.CompareAndSwap(p, c) {
				break
			}
		}
		time.Sleep(2 * time.Millisecond)
		cur.Add(-1)
		return nil
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got := peak.Load(); got > 3 {
		t.Fatalf("peak concurrency: got=%d want<=3", got)
	}
}
