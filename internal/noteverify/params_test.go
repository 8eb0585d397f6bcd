package noteverify

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestParamsCell_LoadsOnceUnderContention(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	want := testParams()
	c := NewParamsCell(func() (*Params, error) {
		calls.Add(1)
		return want, nil
	})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := c.Get()
			if err != nil {
				t.Errorf("Get: %v", err)
				return
			}
			if got != want {
				t.Errorf("Get returned a different params value")
			}
		}()
	}
	wg.Wait()
	if n := calls.Load(); n != 1 {
		t.Fatalf("loader calls: got=%d want=1", n)
	}
}

func TestParamsCell_RemembersFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("vk missing")
	var calls atomic.Int32
	c := NewParamsCell(func() (*Params, error) {
		calls.Add(1)
		return nil, boom
	})
	for i := 0; i < 3; i++ {
		p, err := c.Get()
		if p != nil {
			t.Fatalf("Get returned params after failed load")
		}
		if !errors.Is(err, ErrParamsUnavailable) || !errors.Is(err, boom) {
			t.Fatalf("Get: got=%v", err)
		}
	}
	if n := calls.Load(); n != 1 {
		t.Fatalf("loader calls: got=%d want=1", n)
	}
}

func TestParamsCell_LoaderFaults(t *testing.T) {
	t.Parallel()

	cells := map[string]*ParamsCell{
		"panic":      NewParamsCell(func() (*Params, error) { panic("disk on fire") }),
		"nil params": NewParamsCell(func() (*Params, error) { return nil, nil }),
		"nil loader": NewParamsCell(nil),
	}
	for name, c := range cells {
		p, err := c.Get()
		if p != nil || !errors.Is(err, ErrParamsUnavailable) {
			t.Fatalf("%s: got=(%v, %v)", name, p, err)
		}
	}
}

func TestFixedParams(t *testing.T) {
	t.Parallel()

	want := testParams()
	got, err := FixedParams(want).Get()
	if err != nil || got != want {
		t.Fatalf("FixedParams: got=(%v, %v)", got, err)
	}
}

func TestParseParams_Rejects(t *testing.T) {
	t.Parallel()

	for _, in := range [][]byte{nil, {0x01, 0x02, 0x03}} {
		if _, err := ParseParams(in); !errors.Is(err, ErrInvalidParams) {
			t.Fatalf("ParseParams(%x): got=%v want=%v", in, err, ErrInvalidParams)
		}
	}
	if _, err := NewParams(nil); !errors.Is(err, ErrInvalidParams) {
		t.Fatalf("NewParams(nil): got=%v", err)
	}
}
