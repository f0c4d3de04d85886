package vm

import "testing"

func TestEnvironmentDefineLookup(t *testing.T) {
	h := newTestHeap(t)
	outer := h.NewEnvironment(nil)
	h.Roots().Push(outer)
	inner := h.NewEnvironment(outer)
	h.Roots().Push(inner)
	defer h.Roots().Pop(2)

	x, y := h.Intern("x"), h.Intern("y")
	outer.Define(x, h.Reals(1))
	inner.Define(y, h.Reals(2))

	if v, ok := inner.Lookup(x); !ok || v.Reals()[0] != 1 {
		t.Error("lookup should search enclosures")
	}
	if _, ok := inner.LookupLocal(x); ok {
		t.Error("LookupLocal must not search enclosures")
	}
	if inner.Enclosure() != outer || inner.Len() != 1 {
		t.Error("frame shape mismatch")
	}

	inner.Define(x, h.Reals(3))
	if v, _ := inner.Lookup(x); v.Reals()[0] != 3 {
		t.Error("local binding should shadow the enclosure")
	}
	if syms := inner.Symbols(); len(syms) != 2 || syms[0] != y || syms[1] != x {
		t.Error("Symbols should list bindings in definition order")
	}

	if !inner.Remove(y) || inner.Remove(y) {
		t.Error("Remove should report presence once")
	}
	if v, ok := inner.LookupLocal(x); !ok || v.Reals()[0] != 3 {
		t.Error("index broken after removal")
	}
}

func TestEnvironmentLocking(t *testing.T) {
	h := newTestHeap(t)
	env := h.NewEnvironment(nil)
	x := h.Intern("x")
	env.Define(x, h.Reals(1))

	env.Lock(false)
	env.Define(x, h.Reals(2))
	expectFatal(t, func() { env.Define(h.Intern("y"), h.Nil) })
	expectFatal(t, func() { env.Remove(x) })

	env.Lock(true)
	expectFatal(t, func() { env.Define(x, h.Reals(3)) })
}

func TestEnvironmentModify(t *testing.T) {
	h := newTestHeap(t)
	env := h.NewEnvironment(nil)
	h.Roots().Push(env)
	defer h.Roots().Pop(1)
	x, y := h.Intern("x"), h.Intern("y")

	v := h.Reals(1, 2)
	env.Define(x, v)
	env.Define(y, v)

	ok := env.Modify(x, func(w *Cell) { w.SetReal(0, 42) })
	if !ok {
		t.Fatal("Modify of a bound symbol should succeed")
	}
	nx, _ := env.LookupLocal(x)
	ny, _ := env.LookupLocal(y)
	if nx == v || nx.Reals()[0] != 42 {
		t.Error("x should be rebound to a modified copy")
	}
	if ny != v || v.Reals()[0] != 1 {
		t.Error("y must still see the original value")
	}
	if env.Modify(h.Intern("missing"), func(*Cell) {}) {
		t.Error("Modify of an unbound symbol should report false")
	}
}
