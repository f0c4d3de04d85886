package vm

import (
	"errors"
	"fmt"
	"math"
)

// ---------------------------------------------------------------------------
// Graph: an index-linked form of a cell graph
// ---------------------------------------------------------------------------
//
// A Graph lists every cell reachable from a set of roots exactly once, so
// identity sharing (a vector held by two lists, an environment captured by
// several closures, cycles through environments) survives a round trip.
// References are 1-based indices into Nodes; 0 means no cell.

// ErrCorruptGraph is returned when a Graph does not describe a valid set of
// cells.
var ErrCorruptGraph = errors.New("corrupt cell graph")

// Graph is a flattened cell graph.
type Graph struct {
	Roots []int  `cbor:"1,keyasint"`
	Nodes []Node `cbor:"2,keyasint"`
}

// Node is one cell of a Graph. Which fields are used depends on Type, as in
// Cell. Doubles are kept as IEEE bit patterns so NA payloads are preserved.
type Node struct {
	Type   Type  `cbor:"1,keyasint"`
	Flags  Flags `cbor:"2,keyasint,omitempty"`
	Shared uint8 `cbor:"3,keyasint,omitempty"`
	Attrib int   `cbor:"4,keyasint,omitempty"`

	Ints []int32  `cbor:"5,keyasint,omitempty"`
	Bits []uint64 `cbor:"6,keyasint,omitempty"`
	Raw  []byte   `cbor:"7,keyasint,omitempty"`
	Elts []int    `cbor:"8,keyasint,omitempty"`

	Car int `cbor:"9,keyasint,omitempty"`
	Cdr int `cbor:"10,keyasint,omitempty"`
	Tag int `cbor:"11,keyasint,omitempty"`

	Name string `cbor:"12,keyasint,omitempty"`
	NA   bool   `cbor:"13,keyasint,omitempty"`

	Enclos int   `cbor:"14,keyasint,omitempty"`
	Syms   []int `cbor:"15,keyasint,omitempty"`
	Vals   []int `cbor:"16,keyasint,omitempty"`
}

// ---------------------------------------------------------------------------
// Flatten
// ---------------------------------------------------------------------------

// Flatten returns the graph of every cell reachable from roots. Pending
// cells are waited on before they are read. External pointer addresses and
// weak reference finalizers are Go values and are not part of the graph.
func Flatten(roots ...*Cell) *Graph {
	g := &Graph{Roots: make([]int, len(roots))}
	index := make(map[*Cell]int)
	var queue []*Cell

	ref := func(c *Cell) int {
		if c == nil {
			return 0
		}
		if i, ok := index[c]; ok {
			return i
		}
		c.WaitUntilComputed()
		if c.freed {
			fatalf("vm.Flatten", "reclaimed %s cell is reachable", c.typ)
		}
		queue = append(queue, c)
		index[c] = len(queue)
		return len(queue)
	}

	for i, r := range roots {
		g.Roots[i] = ref(r)
	}
	for k := 0; k < len(queue); k++ {
		g.Nodes = append(g.Nodes, flattenNode(queue[k], ref))
	}
	return g
}

func flattenNode(c *Cell, ref func(*Cell) int) Node {
	n := Node{Type: c.typ, Flags: c.flags, Shared: c.shared}
	n.Attrib = ref(c.attrib)

	switch c.typ {
	case NilType:
	case SymbolType:
		n.Name = c.name
	case CharType:
		n.Name, n.NA = c.name, c.na
	case LogicalType, IntegerType:
		n.Ints = append([]int32(nil), c.data.([]int32)...)
	case RealType:
		src := c.data.([]float64)
		n.Bits = make([]uint64, len(src))
		for i, v := range src {
			n.Bits[i] = math.Float64bits(v)
		}
	case ComplexType:
		src := c.data.([]complex128)
		n.Bits = make([]uint64, 2*len(src))
		for i, v := range src {
			n.Bits[2*i] = math.Float64bits(real(v))
			n.Bits[2*i+1] = math.Float64bits(imag(v))
		}
	case RawType:
		n.Raw = append([]byte(nil), c.data.([]byte)...)
	case StringType, ListType, ExpressionType:
		elts := c.data.([]*Cell)
		n.Elts = make([]int, len(elts))
		for i, e := range elts {
			n.Elts[i] = ref(e)
		}
	case PairlistType, LanguageType, ClosureType, PromiseType:
		n.Car, n.Cdr, n.Tag = ref(c.car), ref(c.cdr), ref(c.tag)
	case EnvironmentType:
		n.Enclos = ref(c.frame.enclos)
		n.Syms = make([]int, len(c.frame.syms))
		n.Vals = make([]int, len(c.frame.vals))
		for i := range c.frame.syms {
			n.Syms[i] = ref(c.frame.syms[i])
			n.Vals[i] = ref(c.frame.vals[i])
		}
	case ExternalPtrType:
		n.Tag, n.Cdr = ref(c.tag), ref(c.cdr)
	case WeakRefType:
		n.Car, n.Cdr = ref(c.car), ref(c.cdr)
	default:
		fatalf("vm.Flatten", "unimplemented type %v", c.typ)
	}
	return n
}

// ---------------------------------------------------------------------------
// Restore
// ---------------------------------------------------------------------------

// Restore rebuilds the cells of g in h and returns its roots. Symbols and
// char leaves resolve to h's interned cells. Collection is inhibited while
// the graph is built; the returned cells are not rooted. Malformed graphs
// yield an error wrapping ErrCorruptGraph.
func (h *Heap) Restore(g *Graph) (roots []*Cell, err error) {
	defer func() {
		if r := recover(); r != nil {
			e, ok := r.(*Error)
			if !ok {
				panic(r)
			}
			roots, err = nil, e
		}
	}()

	r := &restorer{heap: h, graph: g, cells: make([]*Cell, len(g.Nodes)+1)}
	err = h.WithoutCollection(func() error {
		for i := range g.Nodes {
			if err := r.shell(i + 1); err != nil {
				return err
			}
		}
		for i := range g.Nodes {
			if err := r.link(i + 1); err != nil {
				return err
			}
		}
		if err := r.checkCycles(); err != nil {
			return err
		}
		return r.attributes()
	})
	if err != nil {
		return nil, err
	}

	roots = make([]*Cell, len(g.Roots))
	for i, ref := range g.Roots {
		if roots[i], err = r.cell(0, ref); err != nil {
			return nil, err
		}
	}
	return roots, nil
}

type restorer struct {
	heap  *Heap
	graph *Graph
	cells []*Cell
}

func corrupt(node int, format string, args ...any) error {
	return fmt.Errorf("%w: node %d: %s", ErrCorruptGraph, node, fmt.Sprintf(format, args...))
}

func (r *restorer) node(i int) *Node {
	return &r.graph.Nodes[i-1]
}

// cell resolves a reference made by node from.
func (r *restorer) cell(from, ref int) (*Cell, error) {
	if ref == 0 {
		return nil, nil
	}
	if ref < 0 || ref >= len(r.cells) {
		return nil, corrupt(from, "reference %d out of range", ref)
	}
	return r.cells[ref], nil
}

// cellOf resolves a reference that must be absent or of type t.
func (r *restorer) cellOf(from, ref int, t Type) (*Cell, error) {
	c, err := r.cell(from, ref)
	if err != nil || c == nil {
		return c, err
	}
	if c.typ != t {
		return nil, corrupt(from, "reference %d is %s, want %s", ref, c.typ, t)
	}
	return c, nil
}

// shell allocates node i without any of its references.
func (r *restorer) shell(i int) error {
	h := r.heap
	n := r.node(i)

	var c *Cell
	var err error
	switch n.Type {
	case NilType:
		r.cells[i] = h.Nil
		return nil
	case SymbolType:
		r.cells[i] = h.Intern(n.Name)
		return nil
	case CharType:
		if n.NA {
			r.cells[i] = h.NAString
		} else {
			r.cells[i] = h.Char(n.Name)
		}
		return nil
	case LogicalType, IntegerType:
		if c, err = h.Alloc(n.Type, len(n.Ints)); err == nil {
			copy(c.data.([]int32), n.Ints)
		}
	case RealType:
		if c, err = h.Alloc(n.Type, len(n.Bits)); err == nil {
			dst := c.data.([]float64)
			for k, b := range n.Bits {
				dst[k] = math.Float64frombits(b)
			}
		}
	case ComplexType:
		if len(n.Bits)%2 != 0 {
			return corrupt(i, "complex vector with odd word count %d", len(n.Bits))
		}
		if c, err = h.Alloc(n.Type, len(n.Bits)/2); err == nil {
			dst := c.data.([]complex128)
			for k := range dst {
				dst[k] = complex(math.Float64frombits(n.Bits[2*k]), math.Float64frombits(n.Bits[2*k+1]))
			}
		}
	case RawType:
		if c, err = h.Alloc(n.Type, len(n.Raw)); err == nil {
			copy(c.data.([]byte), n.Raw)
		}
	case StringType, ListType, ExpressionType:
		c, err = h.Alloc(n.Type, len(n.Elts))
	case PairlistType, LanguageType, ClosureType, PromiseType,
		EnvironmentType, ExternalPtrType, WeakRefType:
		c, err = h.Alloc(n.Type, 0)
	default:
		return corrupt(i, "unknown type %d", n.Type)
	}
	if err != nil {
		return err
	}

	c.flags = n.Flags
	c.shared = min(n.Shared, h.sharingMax)
	r.cells[i] = c
	return nil
}

// link fills in the references of node i.
func (r *restorer) link(i int) error {
	h := r.heap
	n := r.node(i)
	c := r.cells[i]

	switch n.Type {
	case NilType, SymbolType, CharType:
		return nil
	}

	attrib, err := r.cellOf(i, n.Attrib, PairlistType)
	if err != nil {
		return err
	}
	c.attrib = attrib

	switch n.Type {
	case LogicalType, IntegerType, RealType, ComplexType, RawType:

	case StringType:
		dst := c.data.([]*Cell)
		for k, ref := range n.Elts {
			e, err := r.cellOf(i, ref, CharType)
			if err != nil {
				return err
			}
			if e == nil {
				return corrupt(i, "string element %d missing", k)
			}
			dst[k] = e
		}

	case ListType, ExpressionType:
		dst := c.data.([]*Cell)
		for k, ref := range n.Elts {
			e, err := r.cell(i, ref)
			if err != nil {
				return err
			}
			if e == nil {
				e = h.Nil
			}
			dst[k] = e
		}

	case PairlistType, LanguageType:
		if c.car, err = r.cell(i, n.Car); err != nil {
			return err
		}
		next, err := r.cell(i, n.Cdr)
		if err != nil {
			return err
		}
		if next != nil && next.typ != PairlistType && next.typ != LanguageType {
			return corrupt(i, "chain continues with %s", next.typ)
		}
		c.cdr = next
		if c.tag, err = r.cellOf(i, n.Tag, SymbolType); err != nil {
			return err
		}

	case ClosureType, PromiseType:
		if c.car, err = r.cell(i, n.Car); err != nil {
			return err
		}
		if c.cdr, err = r.cell(i, n.Cdr); err != nil {
			return err
		}
		if c.tag, err = r.cellOf(i, n.Tag, EnvironmentType); err != nil {
			return err
		}
		if n.Type == ClosureType && c.tag == nil {
			return corrupt(i, "closure without environment")
		}

	case EnvironmentType:
		if c.frame.enclos, err = r.cellOf(i, n.Enclos, EnvironmentType); err != nil {
			return err
		}
		if len(n.Syms) != len(n.Vals) {
			return corrupt(i, "%d names for %d values", len(n.Syms), len(n.Vals))
		}
		f := c.frame
		for k := range n.Syms {
			sym, err := r.cellOf(i, n.Syms[k], SymbolType)
			if err != nil {
				return err
			}
			if sym == nil {
				return corrupt(i, "binding %d has no name", k)
			}
			if _, dup := f.index[sym]; dup {
				return corrupt(i, "binding %q defined twice", sym.name)
			}
			v, err := r.cell(i, n.Vals[k])
			if err != nil {
				return err
			}
			if v == nil {
				v = h.Nil
			}
			f.index[sym] = len(f.syms)
			f.syms = append(f.syms, sym)
			f.vals = append(f.vals, v)
		}

	case ExternalPtrType:
		if c.tag, err = r.cell(i, n.Tag); err != nil {
			return err
		}
		if c.cdr, err = r.cell(i, n.Cdr); err != nil {
			return err
		}

	case WeakRefType:
		if c.car, err = r.cell(i, n.Car); err != nil {
			return err
		}
		if c.cdr, err = r.cell(i, n.Cdr); err != nil {
			return err
		}
		if c.car != nil {
			h.weakRefs.Register(c)
		}
	}
	return nil
}

// checkCycles rejects cycles that pass only through cells duplication
// copies: list and expression elements, pairlist items and links, and
// attribute lists. Duplicating such a cycle would never terminate. Cycles
// through environments, closures and promises are legal; duplication
// returns those cells as they are.
func (r *restorer) checkCycles() error {
	const (
		white = iota
		grey
		black
	)
	type frame struct {
		c    *Cell
		kids []*Cell
		next int
	}
	color := make(map[*Cell]int)

	for i := 1; i < len(r.cells); i++ {
		root := r.cells[i]
		if color[root] != white {
			continue
		}
		color[root] = grey
		stack := []frame{{c: root, kids: copiedRefs(root)}}
		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			if top.next == len(top.kids) {
				color[top.c] = black
				stack = stack[:len(stack)-1]
				continue
			}
			k := top.kids[top.next]
			top.next++
			switch color[k] {
			case grey:
				return corrupt(i, "%s cell contains itself", k.typ)
			case white:
				color[k] = grey
				stack = append(stack, frame{c: k, kids: copiedRefs(k)})
			}
		}
	}
	return nil
}

// copiedRefs lists the cells Duplicate would visit below c.
func copiedRefs(c *Cell) []*Cell {
	if c.typ.IsIdentityShared() {
		return nil
	}
	var refs []*Cell
	if c.attrib != nil {
		refs = append(refs, c.attrib)
	}
	switch c.typ {
	case ListType, ExpressionType:
		refs = append(refs, c.data.([]*Cell)...)
	case PairlistType, LanguageType:
		if c.car != nil {
			refs = append(refs, c.car)
		}
		if c.cdr != nil {
			refs = append(refs, c.cdr)
		}
	}
	return refs
}

// attributes validates every attribute list and recomputes the derived
// header bits.
func (r *restorer) attributes() error {
	for i := 1; i < len(r.cells); i++ {
		c := r.cells[i]
		if c.attrib == nil || c.typ == SymbolType || c.typ == CharType || c.typ == NilType {
			continue
		}
		for a := c.attrib; a != nil; a = a.cdr {
			if a.typ != PairlistType || a.tag == nil {
				return corrupt(i, "attribute without a name")
			}
		}
		c.rebuildAttrState()
	}
	return nil
}
