package vm

import (
	"sync/atomic"
)

// Cell is the tagged heap object representing one runtime value.
//
// Cells come only from a Heap. The header (type, flags, sharing count,
// attribute list, pending handle) is common to every variant; the payload
// fields in use depend on the type:
//
//   - atomic and string/list vectors: length + data (a typed Go slice)
//   - pairlist, language: car = item, cdr = next node, tag = symbol or nil
//   - closure: car = formals, cdr = body, tag = environment
//   - promise: car = value (nil until forced), cdr = expression, tag = environment
//   - environment: frame
//   - symbol, char leaf: name
//   - external pointer: ext = address, tag = tag cell, cdr = protected cell
//   - weak reference: car = key, cdr = value, ext = finalizer
//
// Absence of a value is a Go nil *Cell; the language-level NULL is the
// heap's Nil singleton.
type Cell struct {
	typ      Type
	flags    Flags
	shared   uint8
	attrMask uint8
	freed    bool
	markGen  uint32

	heap    *Heap
	attrib  *Cell
	pending atomic.Pointer[pending]

	length int
	data   any

	car *Cell
	cdr *Cell
	tag *Cell

	name     string
	attrSlot int8
	na       bool

	frame *frame
	ext   any
}

// ---------------------------------------------------------------------------
// Header access
// ---------------------------------------------------------------------------

// Type returns the cell's type tag.
func (c *Cell) Type() Type {
	return c.typ
}

// Flags returns the per-cell bits.
func (c *Cell) Flags() Flags {
	return c.flags
}

// IsObject reports whether the cell carries a class attribute.
func (c *Cell) IsObject() bool {
	return c.flags&FlagObject != 0
}

// Heap returns the heap that allocated c.
func (c *Cell) Heap() *Heap {
	return c.heap
}

// IsReclaimed reports whether the collector has swept c.
func (c *Cell) IsReclaimed() bool {
	return c.freed
}

// Len returns the number of elements: the vector length, the number of
// nodes in a pairlist chain, or the number of bindings in an environment.
// Length is header information and may be read while c is pending.
func (c *Cell) Len() int {
	switch c.typ {
	case NilType:
		return 0
	case PairlistType, LanguageType:
		n := 0
		for p := c; p != nil; p = p.cdr {
			n++
		}
		return n
	case EnvironmentType:
		return len(c.frame.syms)
	default:
		if c.typ.IsVector() {
			return c.length
		}
		return 1
	}
}

// ---------------------------------------------------------------------------
// Checks
// ---------------------------------------------------------------------------

// checkLive rejects access to reclaimed cells and, when debug checks are on,
// payload access to pending cells.
func (c *Cell) checkLive(op string) {
	if c.freed {
		fatalf(op, "access to reclaimed %s cell", c.typ)
	}
	if c.heap.debugChecks && c.pending.Load() != nil {
		fatalf(op, "payload of pending %s cell read without waiting", c.typ)
	}
}

func (c *Cell) checkType(op string, t Type) {
	c.checkLive(op)
	if c.typ != t {
		fatalf(op, "expected %s, got %s", t, c.typ)
	}
}

func (c *Cell) checkElts(op string) {
	c.checkLive(op)
	switch c.typ {
	case StringType, ListType, ExpressionType:
	default:
		fatalf(op, "expected a vector of cells, got %s", c.typ)
	}
}

func (c *Cell) checkNode(op string) {
	c.checkLive(op)
	switch c.typ {
	case PairlistType, LanguageType:
	default:
		fatalf(op, "expected a pairlist node, got %s", c.typ)
	}
}

// checkWritable enforces copy-on-write: only a unique owner may mutate.
func (c *Cell) checkWritable(op string) {
	c.checkLive(op)
	if c.shared != 0 {
		fatalf(op, "in-place mutation of shared %s (sharing count %d)", c.typ, c.shared)
	}
}

func (c *Cell) checkIndex(op string, i int) {
	if i < 0 || i >= c.length {
		fatalf(op, "index %d out of range [0,%d)", i, c.length)
	}
}

// ---------------------------------------------------------------------------
// Atomic vectors
// ---------------------------------------------------------------------------

// Logicals returns the elements of a logical vector for reading.
func (c *Cell) Logicals() []int32 {
	c.checkType("Cell.Logicals", LogicalType)
	return c.data.([]int32)
}

// Ints returns the elements of an integer vector for reading.
func (c *Cell) Ints() []int32 {
	c.checkType("Cell.Ints", IntegerType)
	return c.data.([]int32)
}

// Reals returns the elements of a double vector for reading.
func (c *Cell) Reals() []float64 {
	c.checkType("Cell.Reals", RealType)
	return c.data.([]float64)
}

// Complexes returns the elements of a complex vector for reading.
func (c *Cell) Complexes() []complex128 {
	c.checkType("Cell.Complexes", ComplexType)
	return c.data.([]complex128)
}

// Raw returns the bytes of a raw vector for reading.
func (c *Cell) Raw() []byte {
	c.checkType("Cell.Raw", RawType)
	return c.data.([]byte)
}

// WritableReals returns the elements of an unshared double vector for
// in-place update.
func (c *Cell) WritableReals() []float64 {
	c.checkType("Cell.WritableReals", RealType)
	c.checkWritable("Cell.WritableReals")
	return c.data.([]float64)
}

// WritableInts returns the elements of an unshared integer or logical
// vector for in-place update.
func (c *Cell) WritableInts() []int32 {
	c.checkLive("Cell.WritableInts")
	if c.typ != IntegerType && c.typ != LogicalType {
		fatalf("Cell.WritableInts", "expected integer or logical, got %s", c.typ)
	}
	c.checkWritable("Cell.WritableInts")
	return c.data.([]int32)
}

// SetLogical stores v at i.
func (c *Cell) SetLogical(i int, v int32) {
	c.checkType("Cell.SetLogical", LogicalType)
	c.checkWritable("Cell.SetLogical")
	c.checkIndex("Cell.SetLogical", i)
	c.data.([]int32)[i] = v
}

// SetInt stores v at i.
func (c *Cell) SetInt(i int, v int32) {
	c.checkType("Cell.SetInt", IntegerType)
	c.checkWritable("Cell.SetInt")
	c.checkIndex("Cell.SetInt", i)
	c.data.([]int32)[i] = v
}

// SetReal stores v at i.
func (c *Cell) SetReal(i int, v float64) {
	c.checkType("Cell.SetReal", RealType)
	c.checkWritable("Cell.SetReal")
	c.checkIndex("Cell.SetReal", i)
	c.data.([]float64)[i] = v
}

// SetComplex stores v at i.
func (c *Cell) SetComplex(i int, v complex128) {
	c.checkType("Cell.SetComplex", ComplexType)
	c.checkWritable("Cell.SetComplex")
	c.checkIndex("Cell.SetComplex", i)
	c.data.([]complex128)[i] = v
}

// SetRaw stores v at i.
func (c *Cell) SetRaw(i int, v byte) {
	c.checkType("Cell.SetRaw", RawType)
	c.checkWritable("Cell.SetRaw")
	c.checkIndex("Cell.SetRaw", i)
	c.data.([]byte)[i] = v
}

// ---------------------------------------------------------------------------
// Vectors of cells
// ---------------------------------------------------------------------------

// Elt returns element i of a string, list or expression vector.
func (c *Cell) Elt(i int) *Cell {
	c.checkElts("Cell.Elt")
	c.checkIndex("Cell.Elt", i)
	return c.data.([]*Cell)[i]
}

// SetElt stores v at element i. Storing into a container is a second
// reference, so v's sharing count is raised.
func (c *Cell) SetElt(i int, v *Cell) {
	c.checkElts("Cell.SetElt")
	c.checkWritable("Cell.SetElt")
	c.checkIndex("Cell.SetElt", i)
	if v == nil {
		v = c.heap.Nil
	}
	if c.typ == StringType && v.typ != CharType {
		fatalf("Cell.SetElt", "string vector element must be a char leaf, got %s", v.typ)
	}
	v.IncShared()
	c.data.([]*Cell)[i] = v
}

// String returns element i of a string vector as a Go string. NA elements
// read as "NA"; use Elt(i).IsNA to distinguish.
func (c *Cell) String(i int) string {
	c.checkType("Cell.String", StringType)
	c.checkIndex("Cell.String", i)
	return c.data.([]*Cell)[i].name
}

// ---------------------------------------------------------------------------
// Pairlist and language nodes
// ---------------------------------------------------------------------------

// Car returns the item of a pairlist node.
func (c *Cell) Car() *Cell {
	c.checkNode("Cell.Car")
	return c.car
}

// Cdr returns the next node, or nil at the end of the chain.
func (c *Cell) Cdr() *Cell {
	c.checkNode("Cell.Cdr")
	return c.cdr
}

// Tag returns the node's tag symbol, or nil.
func (c *Cell) Tag() *Cell {
	c.checkNode("Cell.Tag")
	return c.tag
}

// SetCar replaces the item of an unshared node.
func (c *Cell) SetCar(v *Cell) {
	c.checkNode("Cell.SetCar")
	c.checkWritable("Cell.SetCar")
	if v != nil {
		v.IncShared()
	}
	c.car = v
}

// SetCdr links next after an unshared node. next gains a holder, so its
// sharing count is raised.
func (c *Cell) SetCdr(next *Cell) {
	c.checkNode("Cell.SetCdr")
	c.checkWritable("Cell.SetCdr")
	if next != nil && next.typ != PairlistType && next.typ != LanguageType {
		fatalf("Cell.SetCdr", "next node must be a pairlist node, got %s", next.typ)
	}
	if next != nil {
		next.IncShared()
	}
	c.cdr = next
}

// SetTag sets the tag symbol of an unshared node.
func (c *Cell) SetTag(sym *Cell) {
	c.checkNode("Cell.SetTag")
	c.checkWritable("Cell.SetTag")
	if sym != nil && sym.typ != SymbolType {
		fatalf("Cell.SetTag", "tag must be a symbol, got %s", sym.typ)
	}
	c.tag = sym
}

// Nth returns the n-th node of a chain, or nil if the chain is shorter.
func (c *Cell) Nth(n int) *Cell {
	c.checkNode("Cell.Nth")
	p := c
	for ; p != nil && n > 0; n-- {
		p = p.cdr
	}
	return p
}

// ---------------------------------------------------------------------------
// Symbols and char leaves
// ---------------------------------------------------------------------------

// Name returns the print name of a symbol or the contents of a char leaf.
func (c *Cell) Name() string {
	c.checkLive("Cell.Name")
	if c.typ != SymbolType && c.typ != CharType {
		fatalf("Cell.Name", "expected symbol or char, got %s", c.typ)
	}
	return c.name
}

// IsNA reports whether c is the NA_character_ leaf.
func (c *Cell) IsNA() bool {
	return c.typ == CharType && c.na
}

// ---------------------------------------------------------------------------
// Closures and promises
// ---------------------------------------------------------------------------

// Formals returns a closure's formal argument pairlist.
func (c *Cell) Formals() *Cell {
	c.checkType("Cell.Formals", ClosureType)
	return c.car
}

// Body returns a closure's body expression.
func (c *Cell) Body() *Cell {
	c.checkType("Cell.Body", ClosureType)
	return c.cdr
}

// ClosureEnv returns a closure's defining environment.
func (c *Cell) ClosureEnv() *Cell {
	c.checkType("Cell.ClosureEnv", ClosureType)
	return c.tag
}

// PromiseExpr returns the unevaluated expression of a promise.
func (c *Cell) PromiseExpr() *Cell {
	c.checkType("Cell.PromiseExpr", PromiseType)
	return c.cdr
}

// PromiseEnv returns the environment a promise is evaluated in, or nil once
// it has been forced.
func (c *Cell) PromiseEnv() *Cell {
	c.checkType("Cell.PromiseEnv", PromiseType)
	return c.tag
}

// PromiseValue returns the forced value, or nil if the promise is unforced.
func (c *Cell) PromiseValue() *Cell {
	c.checkType("Cell.PromiseValue", PromiseType)
	return c.car
}

// Force records the value of a promise and drops its environment. Promises
// are identity-shared, so forcing is not subject to copy-on-write.
func (c *Cell) Force(v *Cell) {
	c.checkType("Cell.Force", PromiseType)
	if v != nil {
		v.IncShared()
	}
	c.car = v
	c.tag = nil
}

// ---------------------------------------------------------------------------
// External pointers
// ---------------------------------------------------------------------------

// Addr returns the opaque Go value held by an external pointer.
func (c *Cell) Addr() any {
	c.checkType("Cell.Addr", ExternalPtrType)
	return c.ext
}

// ClearAddr drops the held Go value.
func (c *Cell) ClearAddr() {
	c.checkType("Cell.ClearAddr", ExternalPtrType)
	c.ext = nil
}

// ExternalTag returns the tag cell of an external pointer.
func (c *Cell) ExternalTag() *Cell {
	c.checkType("Cell.ExternalTag", ExternalPtrType)
	return c.tag
}

// ExternalProtected returns the cell kept alive by an external pointer.
func (c *Cell) ExternalProtected() *Cell {
	c.checkType("Cell.ExternalProtected", ExternalPtrType)
	return c.cdr
}
