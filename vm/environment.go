package vm

// ---------------------------------------------------------------------------
// Environments
// ---------------------------------------------------------------------------

// frame holds an environment's bindings in definition order.
type frame struct {
	enclos *Cell
	syms   []*Cell
	vals   []*Cell
	index  map[*Cell]int
}

func newFrame() *frame {
	return &frame{index: make(map[*Cell]int)}
}

func (c *Cell) checkEnv(op string) {
	c.checkType(op, EnvironmentType)
}

// Enclosure returns the enclosing environment, or nil for the empty
// environment's position.
func (c *Cell) Enclosure() *Cell {
	c.checkEnv("Cell.Enclosure")
	return c.frame.enclos
}

// Define binds sym to v in this frame. Binding is a new reference to v, so
// its sharing count is raised.
func (c *Cell) Define(sym, v *Cell) {
	c.checkEnv("Cell.Define")
	if sym == nil || sym.typ != SymbolType {
		fatalf("Cell.Define", "binding name must be a symbol")
	}
	if v == nil {
		v = c.heap.Nil
	}
	f := c.frame
	if i, ok := f.index[sym]; ok {
		if c.flags&FlagBindingsLocked != 0 {
			fatalf("Cell.Define", "cannot change value of locked binding for '%s'", sym.name)
		}
		v.IncShared()
		f.vals[i] = v
		return
	}
	if c.flags&FlagLocked != 0 {
		fatalf("Cell.Define", "cannot add binding '%s' to a locked environment", sym.name)
	}
	v.IncShared()
	f.index[sym] = len(f.syms)
	f.syms = append(f.syms, sym)
	f.vals = append(f.vals, v)
}

// LookupLocal returns the value bound to sym in this frame only.
func (c *Cell) LookupLocal(sym *Cell) (*Cell, bool) {
	c.checkEnv("Cell.LookupLocal")
	i, ok := c.frame.index[sym]
	if !ok {
		return nil, false
	}
	return c.frame.vals[i], true
}

// Lookup searches this environment and its enclosures.
func (c *Cell) Lookup(sym *Cell) (*Cell, bool) {
	for env := c; env != nil; env = env.frame.enclos {
		if v, ok := env.LookupLocal(sym); ok {
			return v, true
		}
	}
	return nil, false
}

// Remove deletes sym's binding from this frame.
func (c *Cell) Remove(sym *Cell) bool {
	c.checkEnv("Cell.Remove")
	if c.flags&FlagLocked != 0 {
		fatalf("Cell.Remove", "cannot remove bindings from a locked environment")
	}
	f := c.frame
	i, ok := f.index[sym]
	if !ok {
		return false
	}
	last := len(f.syms) - 1
	copy(f.syms[i:], f.syms[i+1:])
	copy(f.vals[i:], f.vals[i+1:])
	f.syms[last], f.vals[last] = nil, nil
	f.syms, f.vals = f.syms[:last], f.vals[:last]
	delete(f.index, sym)
	for j := i; j < last; j++ {
		f.index[f.syms[j]] = j
	}
	return true
}

// Symbols returns the bound names in definition order.
func (c *Cell) Symbols() []*Cell {
	c.checkEnv("Cell.Symbols")
	return append([]*Cell(nil), c.frame.syms...)
}

// Lock prevents new bindings; with bindings it also freezes existing ones.
func (c *Cell) Lock(bindings bool) {
	c.checkEnv("Cell.Lock")
	c.flags |= FlagLocked
	if bindings {
		c.flags |= FlagBindingsLocked
	}
}

// Modify applies fn to a writable version of the value bound to sym and
// rebinds sym to it. A shared value is duplicated first, so the change is
// never visible through any other holder of the old value.
func (c *Cell) Modify(sym *Cell, fn func(v *Cell)) bool {
	v, ok := c.LookupLocal(sym)
	if !ok {
		return false
	}
	h := c.heap
	h.roots.Push(c)
	w := h.Writable(v)
	h.roots.Push(w)
	fn(w)
	if w != v {
		c.Define(sym, w)
	}
	h.roots.Pop(2)
	return true
}
