package librpc

import (
	"context"
	"testing"
)

func TestMainContext(t *testing.T) {
	ctx := context.Background()
	if IsMainContext(ctx) {
		t.Fatal("plain context reported as main")
	}
	ctx = MakeMainContext(ctx)
	if !IsMainContext(ctx) {
		t.Fatal("main context not reported as main")
	}
}

func TestWithStackNil(t *testing.T) {
	if WithStack(nil) != nil {
		t.Fatal("WithStack(nil) should return nil")
	}
}

func TestWithStackIdempotent(t *testing.T) {
	err := WithStack(WithStack(context.Canceled))
	if StackTrace(err) == "" {
		t.Fatal("expected a stack trace")
	}
	once := WithStack(context.Canceled)
	if WithStack(once) != once {
		t.Fatal("WithStack wrapped an error that already carries a stack")
	}
}

func TestNextCallIDUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		id := NextCallID()
		if seen[id] {
			t.Fatalf("duplicate call id %q", id)
		}
		seen[id] = true
	}
}

func TestIncrementMonotonic(t *testing.T) {
	var counter uint64
	last := uint64(0)
	for i := 0; i < 1000; i++ {
		next := Increment(&counter)
		if next <= last {
			t.Fatalf("Increment not monotonic: %v <= %v", next, last)
		}
		last = next
	}
}

func TestSyncMapBasics(t *testing.T) {
	m := NewSyncMap[string, int]()
	m.Set("a", 1)
	if v, found := m.Get("a"); !found || v != 1 {
		t.Fatalf("got %v, %v", v, found)
	}
	if m.Len() != 1 {
		t.Fatalf("expected len 1, got %v", m.Len())
	}
	m.Del("a")
	if m.Has("a") {
		t.Fatal("expected a to be deleted")
	}
}

func TestSet(t *testing.T) {
	s := Set[string]{}
	s.Set("x")
	if !s.Has("x") {
		t.Fatal("expected x in set")
	}
	s.Del("x")
	if s.Has("x") {
		t.Fatal("expected x removed from set")
	}
}
