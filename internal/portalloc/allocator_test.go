package portalloc

import "testing"

func TestAllocate_LowestFreePort(t *testing.T) {
	a, err := New([]Range{{Start: 10000, End: 10100}})
	if err != nil {
		t.Fatal(err)
	}

	p1, err := a.Allocate("books-api")
	if err != nil {
		t.Fatal(err)
	}
	if p1 != 10000 {
		t.Fatalf("expected 10000, got %d", p1)
	}

	p2, err := a.Allocate("movies-api")
	if err != nil {
		t.Fatal(err)
	}
	if p2 != 10001 {
		t.Fatalf("expected 10001, got %d", p2)
	}
}

func TestAllocate_Idempotent(t *testing.T) {
	a, _ := New([]Range{{Start: 10000, End: 10100}})
	p1, _ := a.Allocate("books-api")
	p2, err := a.Allocate("books-api")
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatalf("expected same port on repeat allocate, got %d and %d", p1, p2)
	}
}

func TestRelease_FreesLowestPort(t *testing.T) {
	a, _ := New([]Range{{Start: 10000, End: 10100}})
	a.Allocate("a")
	a.Allocate("b")
	a.Release("a")

	p, err := a.Allocate("c")
	if err != nil {
		t.Fatal(err)
	}
	if p != 10000 {
		t.Fatalf("expected churned key to reclaim lowest port 10000, got %d", p)
	}
}

func TestRelease_Idempotent(t *testing.T) {
	a, _ := New([]Range{{Start: 10000, End: 10100}})
	a.Release("nonexistent") // must not panic
	a.Allocate("a")
	a.Release("a")
	a.Release("a")
	if a.Len() != 0 {
		t.Fatalf("expected 0 allocations, got %d", a.Len())
	}
}

func TestReclaim_RestoresExactPort(t *testing.T) {
	a, _ := New([]Range{{Start: 10000, End: 10100}})
	a.Allocate("a") // 10000
	a.Allocate("b") // 10001
	a.Release("b")

	if err := a.Reclaim("b", 10001); err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if p, _ := a.PortFor("b"); p != 10001 {
		t.Fatalf("expected b back on 10001, got %d", p)
	}
	if err := a.Reclaim("b", 10001); err != nil {
		t.Fatalf("expected reclaiming an identical mapping to succeed, got %v", err)
	}
	if err := a.Reclaim("c", 10000); err == nil {
		t.Fatal("expected reclaiming a taken port to fail")
	}
	if err := a.Reclaim("a", 10050); err == nil {
		t.Fatal("expected reclaiming a key that holds another port to fail")
	}
}

func TestAllocate_ExhaustedRange(t *testing.T) {
	a, _ := New([]Range{{Start: 10000, End: 10001}})
	a.Allocate("a")
	a.Allocate("b")
	_, err := a.Allocate("c")
	if err != ErrPortExhausted {
		t.Fatalf("expected ErrPortExhausted, got %v", err)
	}
}

func TestAllocate_MultipleRangesInOrder(t *testing.T) {
	a, _ := New([]Range{{Start: 10000, End: 10000}, {Start: 20000, End: 20001}})
	a.Allocate("a") // fills [10000,10000]
	p, err := a.Allocate("b")
	if err != nil {
		t.Fatal(err)
	}
	if p != 20000 {
		t.Fatalf("expected overflow into second range at 20000, got %d", p)
	}
}

func TestPortFor_NoMutation(t *testing.T) {
	a, _ := New([]Range{{Start: 10000, End: 10100}})
	if _, ok := a.PortFor("missing"); ok {
		t.Fatal("expected not found")
	}
	a.Allocate("a")
	p, ok := a.PortFor("a")
	if !ok || p != 10000 {
		t.Fatalf("expected PortFor to return 10000, got %d, %v", p, ok)
	}
}

func TestNew_RejectsEmptyOrInvalidRanges(t *testing.T) {
	if _, err := New(nil); err == nil {
		t.Fatal("expected error for no ranges")
	}
	if _, err := New([]Range{{Start: 100, End: 50}}); err == nil {
		t.Fatal("expected error for inverted range")
	}
}
