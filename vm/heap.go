package vm

import (
	"sync/atomic"

	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Heap: cell allocation and the collector-visible arena
// ---------------------------------------------------------------------------

// Default collector tuning.
const (
	DefaultGCThreshold = 8 << 20
	DefaultGCGrowth    = 2.0

	// cellHeaderBytes is what one cell accounts for before its payload.
	cellHeaderBytes = 96

	maxFastAttributes = 8
)

// DefaultFastAttributes are the attribute tags checked without scanning.
var DefaultFastAttributes = []string{"names", "dim", "dimnames", "class", "levels"}

// RootSource contributes cells to the collector's root set. The deferred
// task pool is one: every cell named by an outstanding task stays alive.
type RootSource interface {
	VisitRoots(visit func(*Cell))
}

// HeapOptions configure a Heap.
type HeapOptions struct {
	GCThreshold    int      // bytes allocated before the first collection
	GCGrowth       float64  // next trigger = live bytes * growth
	MaxBytes       int      // 0 means unlimited
	ProtectLimit   int      // root stack capacity
	SharingMax     int      // saturation value of the sharing count
	FastAttributes []string // attribute tags with a presence bit
	DebugChecks    bool     // detect payload reads of pending cells
}

// Heap owns every cell, the root stack, the symbol table and the char leaf
// cache. It is driven by a single interpreter goroutine; deferred tasks only
// write into cells handed to them and never allocate.
type Heap struct {
	cells     []*Cell
	allocated int
	trigger   int
	threshold int
	growth    float64
	maxBytes  int
	inhibit   int
	markGen   uint32

	roots    *RootStack
	sources  []RootSource
	precious map[*Cell]int

	symbols   map[string]*Cell
	chars     map[string]*Cell
	fastNames []string
	weakRefs  *WeakRegistry

	// finalizable holds weak references whose key died and whose finalizer
	// has not yet run. Their keys stay reachable until then.
	finalizable []*Cell

	sharingMax  uint8
	debugChecks bool

	// Singletons
	Nil         *Cell
	NAString    *Cell
	BlankString *Cell

	// Well-known attribute tags
	NamesSymbol    *Cell
	DimSymbol      *Cell
	DimNamesSymbol *Cell
	ClassSymbol    *Cell
	LevelsSymbol   *Cell

	collections atomic.Uint64
	lastStats   atomic.Value // *GCStats

	log commonlog.Logger
}

// NewHeap creates a heap and its singleton cells.
func NewHeap(opts HeapOptions) *Heap {
	if opts.GCThreshold <= 0 {
		opts.GCThreshold = DefaultGCThreshold
	}
	if opts.GCGrowth < 1 {
		opts.GCGrowth = DefaultGCGrowth
	}
	if opts.SharingMax <= 0 || opts.SharingMax > 255 {
		opts.SharingMax = DefaultSharingMax
	}
	if opts.FastAttributes == nil {
		opts.FastAttributes = DefaultFastAttributes
	}
	if len(opts.FastAttributes) > maxFastAttributes {
		opts.FastAttributes = opts.FastAttributes[:maxFastAttributes]
	}

	h := &Heap{
		threshold:   opts.GCThreshold,
		trigger:     opts.GCThreshold,
		growth:      opts.GCGrowth,
		maxBytes:    opts.MaxBytes,
		roots:       NewRootStack(opts.ProtectLimit),
		precious:    make(map[*Cell]int),
		symbols:     make(map[string]*Cell),
		chars:       make(map[string]*Cell),
		fastNames:   opts.FastAttributes,
		weakRefs:    NewWeakRegistry(),
		sharingMax:  uint8(opts.SharingMax),
		debugChecks: opts.DebugChecks,
		log:         commonlog.GetLogger("cellcore.heap"),
	}

	h.inhibit++
	h.Nil = h.mustAlloc(NilType, 0)
	h.Nil.MarkShared()
	h.NAString = h.mustAlloc(CharType, 0)
	h.NAString.name = "NA"
	h.NAString.na = true
	h.NAString.MarkShared()
	h.BlankString = h.Char("")

	h.NamesSymbol = h.Intern("names")
	h.DimSymbol = h.Intern("dim")
	h.DimNamesSymbol = h.Intern("dimnames")
	h.ClassSymbol = h.Intern("class")
	h.LevelsSymbol = h.Intern("levels")
	for _, name := range h.fastNames {
		h.Intern(name)
	}
	h.inhibit--

	return h
}

// Roots returns the root stack.
func (h *Heap) Roots() *RootStack {
	return h.roots
}

// SharingMax returns the saturation value of the sharing count.
func (h *Heap) SharingMax() int {
	return int(h.sharingMax)
}

// AddRootSource registers an additional contributor to the root set.
func (h *Heap) AddRootSource(src RootSource) {
	h.sources = append(h.sources, src)
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

func cellSize(t Type, n int) int {
	return cellHeaderBytes + n*t.elemSize()
}

// Alloc returns a fresh cell of type t: zero-initialised payload, sharing
// count 0, no attributes, not pending. For vector types n is the length;
// it must be 0 otherwise. Alloc may run the collector, so every live cell
// the caller still needs must already be rooted.
func (h *Heap) Alloc(t Type, n int) (*Cell, error) {
	if t >= numTypes {
		fatalf("Heap.Alloc", "unimplemented type %v", t)
	}
	if n < 0 || (n != 0 && !t.IsVector()) {
		fatalf("Heap.Alloc", "invalid length %d for %s", n, t)
	}

	size := cellSize(t, n)
	if err := h.reserve(size); err != nil {
		return nil, err
	}

	c := &Cell{typ: t, heap: h, attrSlot: -1, length: n}
	switch t {
	case LogicalType, IntegerType:
		c.data = make([]int32, n)
	case RealType:
		c.data = make([]float64, n)
	case ComplexType:
		c.data = make([]complex128, n)
	case RawType:
		c.data = make([]byte, n)
	case StringType:
		elts := make([]*Cell, n)
		for i := range elts {
			elts[i] = h.BlankString
		}
		c.data = elts
	case ListType, ExpressionType:
		elts := make([]*Cell, n)
		for i := range elts {
			elts[i] = h.Nil
		}
		c.data = elts
	case EnvironmentType:
		c.frame = newFrame()
	}

	h.cells = append(h.cells, c)
	h.allocated += size
	return c, nil
}

// reserve makes room for size more bytes, collecting if the trigger has
// been crossed. It fails only once a collection could not bring the heap
// under its limit.
func (h *Heap) reserve(size int) error {
	collected := false
	if h.inhibit == 0 && h.allocated+size > h.trigger {
		h.collect("allocation")
		collected = true
	}
	if h.maxBytes > 0 && h.allocated+size > h.maxBytes {
		if !collected && h.inhibit == 0 {
			h.collect("heap limit")
		}
		if h.allocated+size > h.maxBytes {
			h.log.Warningf("allocation of %d bytes refused: %d of %d in use", size, h.allocated, h.maxBytes)
			return &Error{Kind: ErrOutOfMemory, Op: "Heap.Alloc", Size: size}
		}
	}
	return nil
}

// mustAlloc is Alloc for code running under Runtime.Do: failure unwinds to
// the operation boundary.
func (h *Heap) mustAlloc(t Type, n int) *Cell {
	c, err := h.Alloc(t, n)
	if err != nil {
		raise(err.(*Error))
	}
	return c
}

// WithoutCollection runs fn with collection inhibited. Allocation still
// honours the heap limit.
func (h *Heap) WithoutCollection(fn func() error) error {
	h.inhibit++
	defer func() { h.inhibit-- }()
	return fn()
}

// Preserve roots c outside the root stack until a matching Release.
func (h *Heap) Preserve(c *Cell) {
	h.precious[c]++
}

// Release undoes one Preserve.
func (h *Heap) Release(c *Cell) {
	n, ok := h.precious[c]
	if !ok {
		return
	}
	if n <= 1 {
		delete(h.precious, c)
	} else {
		h.precious[c] = n - 1
	}
}

// ---------------------------------------------------------------------------
// Constructors
// ---------------------------------------------------------------------------
//
// The constructors below are for code running under Runtime.Do: an
// allocation failure unwinds to that boundary instead of returning.

// NewVector allocates a vector of type t and length n.
func (h *Heap) NewVector(t Type, n int) *Cell {
	if !t.IsVector() {
		fatalf("Heap.NewVector", "%s is not a vector type", t)
	}
	return h.mustAlloc(t, n)
}

// NewLogical allocates a logical vector of FALSE.
func (h *Heap) NewLogical(n int) *Cell { return h.mustAlloc(LogicalType, n) }

// NewInteger allocates an integer vector of zeros.
func (h *Heap) NewInteger(n int) *Cell { return h.mustAlloc(IntegerType, n) }

// NewReal allocates a double vector of zeros.
func (h *Heap) NewReal(n int) *Cell { return h.mustAlloc(RealType, n) }

// NewComplex allocates a complex vector of zeros.
func (h *Heap) NewComplex(n int) *Cell { return h.mustAlloc(ComplexType, n) }

// NewRaw allocates a raw vector of zero bytes.
func (h *Heap) NewRaw(n int) *Cell { return h.mustAlloc(RawType, n) }

// NewString allocates a string vector of empty strings.
func (h *Heap) NewString(n int) *Cell { return h.mustAlloc(StringType, n) }

// NewList allocates a list of NULLs.
func (h *Heap) NewList(n int) *Cell { return h.mustAlloc(ListType, n) }

// Reals allocates a double vector holding vals.
func (h *Heap) Reals(vals ...float64) *Cell {
	c := h.mustAlloc(RealType, len(vals))
	copy(c.data.([]float64), vals)
	return c
}

// Ints allocates an integer vector holding vals.
func (h *Heap) Ints(vals ...int32) *Cell {
	c := h.mustAlloc(IntegerType, len(vals))
	copy(c.data.([]int32), vals)
	return c
}

// Logicals allocates a logical vector holding vals.
func (h *Heap) Logicals(vals ...int32) *Cell {
	c := h.mustAlloc(LogicalType, len(vals))
	copy(c.data.([]int32), vals)
	return c
}

// Bytes allocates a raw vector holding vals.
func (h *Heap) Bytes(vals ...byte) *Cell {
	c := h.mustAlloc(RawType, len(vals))
	copy(c.data.([]byte), vals)
	return c
}

// Strings allocates a string vector holding vals.
func (h *Heap) Strings(vals ...string) *Cell {
	c := h.mustAlloc(StringType, len(vals))
	h.roots.Push(c)
	elts := c.data.([]*Cell)
	for i, s := range vals {
		elts[i] = h.Char(s)
	}
	h.roots.Pop(1)
	return c
}

// List allocates a list holding elts. Each element's sharing count is
// raised since the list becomes a second holder.
func (h *Heap) List(elts ...*Cell) *Cell {
	h.roots.Protect(elts...)
	c := h.mustAlloc(ListType, len(elts))
	h.roots.Pop(len(elts))
	dst := c.data.([]*Cell)
	for i, e := range elts {
		if e == nil {
			e = h.Nil
		}
		e.IncShared()
		dst[i] = e
	}
	return c
}

// Char returns the interned, immutable char leaf for s.
func (h *Heap) Char(s string) *Cell {
	if c, ok := h.chars[s]; ok {
		return c
	}
	c := h.mustAlloc(CharType, 0)
	c.name = s
	c.MarkShared()
	h.chars[s] = c
	h.allocated += len(s)
	return c
}

// Intern returns the unique symbol named name.
func (h *Heap) Intern(name string) *Cell {
	if s, ok := h.symbols[name]; ok {
		return s
	}
	s := h.mustAlloc(SymbolType, 0)
	s.name = name
	s.MarkShared()
	for i, fast := range h.fastNames {
		if fast == name {
			s.attrSlot = int8(i)
			break
		}
	}
	h.symbols[name] = s
	return s
}

// Cons allocates a pairlist node holding car, linked before cdr. The new
// node is a second holder of cdr, so cdr's sharing count is raised.
func (h *Heap) Cons(car, cdr *Cell) *Cell {
	c := h.node(PairlistType, car, cdr)
	if cdr != nil {
		cdr.IncShared()
	}
	return c
}

// LCons allocates a language node. Like Cons, it raises cdr's count.
func (h *Heap) LCons(car, cdr *Cell) *Cell {
	c := h.node(LanguageType, car, cdr)
	if cdr != nil {
		cdr.IncShared()
	}
	return c
}

// node links a new node before cdr without touching cdr's count. Callers
// use it only when cdr is a chain they just built and hold nowhere else.
func (h *Heap) node(t Type, car, cdr *Cell) *Cell {
	if cdr != nil && cdr.typ != PairlistType && cdr.typ != LanguageType {
		fatalf("Heap.Cons", "cdr must be a pairlist node, got %s", cdr.typ)
	}
	h.roots.Protect(car, cdr)
	c := h.mustAlloc(t, 0)
	h.roots.Pop(2)
	if car != nil {
		car.IncShared()
	}
	c.car = car
	c.cdr = cdr
	return c
}

// Pairlist builds a chain holding items in order. It returns nil for no
// items.
func (h *Heap) Pairlist(items ...*Cell) *Cell {
	return h.chain(PairlistType, items)
}

// Lang builds a call: the first item is the function, the rest are
// pairlist arguments.
func (h *Heap) Lang(fn *Cell, args ...*Cell) *Cell {
	h.roots.Push(fn)
	rest := h.chain(PairlistType, args)
	h.roots.Push(rest)
	c := h.node(LanguageType, fn, rest)
	h.roots.Pop(2)
	return c
}

func (h *Heap) chain(t Type, items []*Cell) *Cell {
	h.roots.Protect(items...)
	var head *Cell
	idx := h.roots.Push(nil)
	for i := len(items) - 1; i >= 0; i-- {
		head = h.node(t, items[i], head)
		h.roots.Reprotect(idx, head)
	}
	h.roots.Pop(len(items) + 1)
	return head
}

// NewEnvironment allocates an empty environment enclosed by enclos.
func (h *Heap) NewEnvironment(enclos *Cell) *Cell {
	if enclos != nil && enclos.typ != EnvironmentType {
		fatalf("Heap.NewEnvironment", "enclosure must be an environment, got %s", enclos.typ)
	}
	h.roots.Push(enclos)
	c := h.mustAlloc(EnvironmentType, 0)
	h.roots.Pop(1)
	c.frame.enclos = enclos
	return c
}

// NewClosure allocates a closure.
func (h *Heap) NewClosure(formals, body, env *Cell) *Cell {
	if env == nil || env.typ != EnvironmentType {
		fatalf("Heap.NewClosure", "closure environment must be an environment")
	}
	h.roots.Protect(formals, body, env)
	c := h.mustAlloc(ClosureType, 0)
	h.roots.Pop(3)
	for _, v := range []*Cell{formals, body} {
		if v != nil {
			v.IncShared()
		}
	}
	c.car, c.cdr, c.tag = formals, body, env
	return c
}

// NewPromise allocates an unforced promise of expr in env.
func (h *Heap) NewPromise(expr, env *Cell) *Cell {
	h.roots.Protect(expr, env)
	c := h.mustAlloc(PromiseType, 0)
	h.roots.Pop(2)
	if expr != nil {
		expr.IncShared()
	}
	c.cdr, c.tag = expr, env
	return c
}

// NewExternalPtr wraps a Go value. prot is kept alive as long as the
// pointer is.
func (h *Heap) NewExternalPtr(addr any, tag, prot *Cell) *Cell {
	h.roots.Protect(tag, prot)
	c := h.mustAlloc(ExternalPtrType, 0)
	h.roots.Pop(2)
	c.ext, c.tag, c.cdr = addr, tag, prot
	return c
}
