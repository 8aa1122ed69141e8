package execctx

import (
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
)

func TestContext_Register(t *testing.T) {
	t.Run("stores and retrieves dataset", func(t *testing.T) {
		ec := New()
		if err := ec.Register("orders", []int{1, 2, 3}); err != nil {
			t.Fatalf("Register failed: %v", err)
		}

		got, err := ec.Get("orders")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !reflect.DeepEqual(got, []int{1, 2, 3}) {
			t.Errorf("unexpected value: %v", got)
		}
	})

	t.Run("rejects duplicate registration", func(t *testing.T) {
		ec := New()
		if err := ec.Register("orders", 1); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
		err := ec.Register("orders", 2)
		if !errors.Is(err, ErrDuplicate) {
			t.Errorf("expected ErrDuplicate, got %v", err)
		}

		// The original value survives the failed attempt.
		got, _ := ec.Get("orders")
		if got != 1 {
			t.Errorf("expected original value 1, got %v", got)
		}
	})

	t.Run("rejects empty name", func(t *testing.T) {
		ec := New()
		if err := ec.Register("", 1); err == nil {
			t.Error("expected error for empty name")
		}
	})
}

func TestContext_RegisterOverwrite(t *testing.T) {
	ec := New()
	if err := ec.Register("data", "old"); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := ec.RegisterOverwrite("data", "new"); err != nil {
		t.Fatalf("RegisterOverwrite failed: %v", err)
	}

	got, err := ec.Get("data")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got != "new" {
		t.Errorf("expected %q, got %v", "new", got)
	}
}

func TestContext_Get(t *testing.T) {
	ec := New()
	_, err := ec.Get("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestContext_Names(t *testing.T) {
	ec := New()
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := ec.Register(name, name); err != nil {
			t.Fatalf("Register failed: %v", err)
		}
	}

	want := []string{"alpha", "mid", "zeta"}
	if got := ec.Names(); !reflect.DeepEqual(got, want) {
		t.Errorf("expected sorted names %v, got %v", want, got)
	}
}

func TestContext_Clear(t *testing.T) {
	ec := New()
	if err := ec.Register("data", 1); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	ec.Clear()
	if ec.Has("data") {
		t.Error("expected context to be empty after Clear")
	}

	// Idempotent, and the context remains usable.
	ec.Clear()
	if err := ec.Register("data", 2); err != nil {
		t.Fatalf("Register after Clear failed: %v", err)
	}
}

func TestContext_ConcurrentAccess(t *testing.T) {
	ec := New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			name := fmt.Sprintf("dataset_%d", i)
			if err := ec.Register(name, i); err != nil {
				t.Errorf("Register %s failed: %v", name, err)
				return
			}
			if _, err := ec.Get(name); err != nil {
				t.Errorf("Get %s failed: %v", name, err)
			}
			_ = ec.Names()
		}(i)
	}
	wg.Wait()

	if got := len(ec.Names()); got != 50 {
		t.Errorf("expected 50 datasets, got %d", got)
	}
}
