package vm

import (
	"math"
	"testing"
)

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func TestAllocDefaults(t *testing.T) {
	h := newTestHeap(t)

	for _, typ := range []Type{LogicalType, IntegerType, RealType, ComplexType, RawType, StringType, ListType, ExpressionType} {
		c, err := h.Alloc(typ, 3)
		if err != nil {
			t.Fatalf("Alloc(%s): %v", typ, err)
		}
		if c.Type() != typ {
			t.Errorf("Type() = %s, want %s", c.Type(), typ)
		}
		if c.Len() != 3 {
			t.Errorf("%s: Len() = %d, want 3", typ, c.Len())
		}
		if c.Shared() != 0 {
			t.Errorf("%s: fresh cell has sharing count %d", typ, c.Shared())
		}
		if c.HasAttributes() {
			t.Errorf("%s: fresh cell has attributes", typ)
		}
		if c.IsPending() {
			t.Errorf("%s: fresh cell is pending", typ)
		}
	}

	if got := h.NewReal(4).Reals(); !realsEqual(got, []float64{0, 0, 0, 0}) {
		t.Errorf("NewReal contents = %v, want zeros", got)
	}
	s := h.NewString(2)
	if s.Elt(0) != h.BlankString || s.String(1) != "" {
		t.Error("string vector should start as empty strings")
	}
	l := h.NewList(2)
	if l.Elt(0) != h.Nil || l.Elt(1) != h.Nil {
		t.Error("list should start as NULLs")
	}
}

func TestAllocInvalidLengthIsFatal(t *testing.T) {
	h := newTestHeap(t)
	expectFatal(t, func() { h.Alloc(SymbolType, 2) })
	expectFatal(t, func() { h.Alloc(RealType, -1) })
	expectFatal(t, func() { h.Alloc(Type(200), 0) })
}

func TestWrongTypeAccessIsFatal(t *testing.T) {
	h := newTestHeap(t)
	r := h.NewReal(1)

	e := expectFatal(t, func() { r.Ints() })
	if e.Op != "Cell.Ints" {
		t.Errorf("Op = %q, want Cell.Ints", e.Op)
	}
	expectFatal(t, func() { r.Car() })
	expectFatal(t, func() { r.Elt(0) })
	expectFatal(t, func() { h.Nil.Formals() })
}

func TestIndexOutOfRangeIsFatal(t *testing.T) {
	h := newTestHeap(t)
	r := h.NewReal(2)
	expectFatal(t, func() { r.SetReal(2, 1) })
	expectFatal(t, func() { h.NewList(1).Elt(-1) })
}

func TestSetElements(t *testing.T) {
	h := newTestHeap(t)

	i := h.NewInteger(2)
	i.SetInt(1, 7)
	if i.Ints()[1] != 7 {
		t.Errorf("SetInt: got %d, want 7", i.Ints()[1])
	}

	l := h.NewLogical(1)
	l.SetLogical(0, NALogical)
	if l.Logicals()[0] != NALogical {
		t.Error("SetLogical should store NA")
	}

	c := h.NewComplex(1)
	c.SetComplex(0, 1+2i)
	if c.Complexes()[0] != 1+2i {
		t.Errorf("SetComplex: got %v", c.Complexes()[0])
	}

	raw := h.NewRaw(1)
	raw.SetRaw(0, 0xff)
	if raw.Raw()[0] != 0xff {
		t.Errorf("SetRaw: got %x", raw.Raw()[0])
	}
}

func TestStringElementMustBeChar(t *testing.T) {
	h := newTestHeap(t)
	s := h.NewString(1)
	expectFatal(t, func() { s.SetElt(0, h.NewReal(1)) })
	s.SetElt(0, h.Char("ok"))
	if s.String(0) != "ok" {
		t.Errorf("String(0) = %q, want ok", s.String(0))
	}
}

// ---------------------------------------------------------------------------
// Interning
// ---------------------------------------------------------------------------

func TestCharInterning(t *testing.T) {
	h := newTestHeap(t)

	a := h.Char("alpha")
	if h.Char("alpha") != a {
		t.Error("Char should return the interned leaf")
	}
	if !a.IsSaturated() {
		t.Error("char leaves are permanently shared")
	}
	s := h.Strings("alpha", "beta")
	if s.Elt(0) != a {
		t.Error("Strings should reuse interned leaves")
	}
	if h.NAString.Name() != "NA" || !h.NAString.IsNA() {
		t.Error("NAString should be the NA leaf")
	}
	if h.Char("NA").IsNA() {
		t.Error(`the string "NA" is not NA_character_`)
	}
}

func TestSymbolInterning(t *testing.T) {
	h := newTestHeap(t)

	x := h.Intern("x")
	if h.Intern("x") != x {
		t.Error("Intern should return the unique symbol")
	}
	if x.Name() != "x" {
		t.Errorf("Name() = %q, want x", x.Name())
	}
	if h.Intern("names") != h.NamesSymbol {
		t.Error("well-known symbols are interned")
	}
}

// ---------------------------------------------------------------------------
// Pairlists
// ---------------------------------------------------------------------------

func TestPairlist(t *testing.T) {
	h := newTestHeap(t)
	a, b, c := h.Reals(1), h.Reals(2), h.Reals(3)

	pl := h.Pairlist(a, b, c)
	if pl.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", pl.Len())
	}
	if pl.Car() != a || pl.Nth(1).Car() != b || pl.Nth(2).Car() != c {
		t.Error("items out of order")
	}
	if pl.Nth(3) != nil {
		t.Error("Nth past the end should be nil")
	}
	if a.Shared() != 1 {
		t.Errorf("item held by a pairlist: sharing count %d, want 1", a.Shared())
	}
	if h.Pairlist() != nil {
		t.Error("empty pairlist is nil")
	}

	pl.Nth(1).SetTag(h.Intern("b"))
	if pl.Nth(1).Tag().Name() != "b" {
		t.Error("SetTag lost")
	}

	call := h.Lang(h.Intern("f"), a)
	if call.Type() != LanguageType || call.Cdr().Type() != PairlistType {
		t.Error("Lang should build a language head and pairlist arguments")
	}
}

func TestNAReal(t *testing.T) {
	if !IsNAReal(NAReal) {
		t.Error("NAReal should be NA")
	}
	if IsNAReal(math.NaN()) {
		t.Error("an ordinary NaN is not NA")
	}
}

func TestDescribe(t *testing.T) {
	h := newTestHeap(t)
	r := h.Reals(1, 2)
	h.SetNames(r, h.Strings("a", "b"))
	if got, want := Describe(r), "double[2] shared=0 attrs=names"; got != want {
		t.Errorf("Describe = %q, want %q", got, want)
	}
	if got := Describe(h.Intern("x")); got != "symbol x shared=7" {
		t.Errorf("Describe(symbol) = %q", got)
	}
}
