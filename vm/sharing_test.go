package vm

import "testing"

// ---------------------------------------------------------------------------
// Sharing count
// ---------------------------------------------------------------------------

func TestSharingCountIsMonotone(t *testing.T) {
	rt := newTestRuntime(t, 0)
	h := rt.Heap
	v := h.Reals(1, 2, 3)

	if v.Shared() != 0 {
		t.Fatalf("fresh value shared=%d, want 0", v.Shared())
	}

	rt.GlobalEnv.Define(h.Intern("a"), v)
	if v.Shared() < 1 {
		t.Errorf("after one binding shared=%d, want >= 1", v.Shared())
	}
	rt.GlobalEnv.Define(h.Intern("b"), v)
	if v.Shared() < 2 {
		t.Errorf("after two bindings shared=%d, want >= 2", v.Shared())
	}

	rt.GlobalEnv.Remove(h.Intern("a"))
	rt.GlobalEnv.Remove(h.Intern("b"))
	if !v.IsShared() {
		t.Error("removing bindings must never make a value unshared")
	}
}

func TestSharingCountSaturates(t *testing.T) {
	h := newTestHeap(t)
	v := h.Reals(1)
	for i := 0; i < 3*h.SharingMax(); i++ {
		v.IncShared()
	}
	if v.Shared() != h.SharingMax() || !v.IsSaturated() {
		t.Errorf("shared=%d, want saturated at %d", v.Shared(), h.SharingMax())
	}
}

func TestConfiguredSharingMax(t *testing.T) {
	h := NewHeap(HeapOptions{SharingMax: 1})
	v := h.Reals(1)
	v.IncShared()
	v.IncShared()
	if v.Shared() != 1 {
		t.Errorf("shared=%d, want 1", v.Shared())
	}
}

func TestEnsureShared(t *testing.T) {
	h := newTestHeap(t)
	v := h.Reals(1)
	v.EnsureShared()
	v.EnsureShared()
	if v.Shared() != 1 {
		t.Errorf("shared=%d, want 1", v.Shared())
	}
}

// ---------------------------------------------------------------------------
// Copy-on-write
// ---------------------------------------------------------------------------

func TestWritableUnsharedMutatesInPlace(t *testing.T) {
	h := newTestHeap(t)
	v := h.Reals(1, 2, 3)

	w := h.Writable(v)
	if w != v {
		t.Fatal("an unshared value should be returned as is")
	}
	w.SetReal(0, 9)
	if v.Reals()[0] != 9 {
		t.Error("mutation of the unique owner should be visible")
	}
}

func TestWritableSharedDuplicates(t *testing.T) {
	rt := newTestRuntime(t, 0)
	h := rt.Heap
	v := h.Reals(1, 2, 3)
	rt.GlobalEnv.Define(h.Intern("x"), v)

	w := h.Writable(v)
	if w == v {
		t.Fatal("a shared value must be duplicated")
	}
	w.SetReal(0, 9)
	if !realsEqual(v.Reals(), []float64{1, 2, 3}) {
		t.Errorf("original changed to %v", v.Reals())
	}
	if !realsEqual(w.Reals(), []float64{9, 2, 3}) {
		t.Errorf("copy = %v, want [9 2 3]", w.Reals())
	}
}

func TestMutatingSharedInPlaceIsFatal(t *testing.T) {
	h := newTestHeap(t)
	v := h.Reals(1)
	v.IncShared()
	expectFatal(t, func() { v.SetReal(0, 2) })
	expectFatal(t, func() { v.WritableReals() })
}

func TestWritableTopLevelKeepsElements(t *testing.T) {
	h := newTestHeap(t)
	e := h.Reals(1)
	l := h.List(e)
	l.IncShared()

	w := h.WritableTopLevel(l)
	if w == l {
		t.Fatal("a shared list must be copied")
	}
	if w.Elt(0) != e {
		t.Error("top-level copy should share elements")
	}
	expectFatal(t, func() { e.SetReal(0, 2) })
}

func TestWritableElt(t *testing.T) {
	h := newTestHeap(t)
	e := h.Reals(1, 2)
	l := h.List(e)

	w := h.WritableElt(l, 0)
	if w == e {
		t.Fatal("a shared element must be duplicated")
	}
	if l.Elt(0) != w {
		t.Error("the list should now hold the duplicate")
	}
	w.SetReal(0, 5)
	if e.Reals()[0] != 1 {
		t.Error("original element changed")
	}
	if again := h.WritableElt(l, 0); again != w {
		t.Error("an unshared element should be returned as is")
	}
}

func TestConsSharesTail(t *testing.T) {
	h := newTestHeap(t)
	roots := h.Roots()

	tail := h.Pairlist(h.Reals(1))
	roots.Push(tail)
	a := h.Cons(h.Reals(2), tail)
	roots.Push(a)
	b := h.Cons(h.Reals(3), tail)
	roots.Push(b)

	if tail.Shared() < 2 {
		t.Fatalf("tail held by two chains: shared=%d, want >= 2", tail.Shared())
	}
	if a.IsShared() || b.IsShared() {
		t.Error("heads of the chains are uniquely owned")
	}
	expectFatal(t, func() { h.Writable(a).Cdr().SetCar(h.Ints(99)) })

	w := h.Duplicate(a)
	roots.Push(w)
	w.Cdr().SetCar(h.Ints(99))
	if b.Cdr().Car().Type() != RealType || a.Cdr().Car().Type() != RealType {
		t.Error("mutation of a duplicated tail is visible through the original chains")
	}
	roots.Pop(4)
}

func TestSetCdrSharesNext(t *testing.T) {
	h := newTestHeap(t)
	next := h.Pairlist(h.Reals(1))
	h.Roots().Push(next)
	head := h.Pairlist(h.Reals(2))
	h.Roots().Push(head)

	head.SetCdr(next)
	if !next.IsShared() {
		t.Error("a linked chain must be marked shared")
	}
	if head.Len() != 2 {
		t.Errorf("Len() = %d, want 2", head.Len())
	}
	h.Roots().Pop(2)
}
