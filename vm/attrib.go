package vm

// ---------------------------------------------------------------------------
// Attribute lists
// ---------------------------------------------------------------------------
//
// A cell's attributes are a pairlist of (tag symbol, value) nodes owned by
// the cell. Lists are short, so lookup is a linear scan; symbols configured
// as fast attributes carry a slot index and the cell keeps a presence bit
// per slot, so asking for an absent well-known attribute never scans.

// Attrib returns the head of the attribute pairlist, or nil.
func (c *Cell) Attrib() *Cell {
	c.checkLive("Cell.Attrib")
	return c.attrib
}

// HasAttributes reports whether c carries any attributes.
func (c *Cell) HasAttributes() bool {
	c.checkLive("Cell.HasAttributes")
	return c.attrib != nil
}

// GetAttr returns the value of attribute sym, or nil.
func (c *Cell) GetAttr(sym *Cell) *Cell {
	c.checkLive("Cell.GetAttr")
	if sym.attrSlot >= 0 && c.attrMask&(1<<uint(sym.attrSlot)) == 0 {
		return nil
	}
	for a := c.attrib; a != nil; a = a.cdr {
		if a.tag == sym {
			return a.car
		}
	}
	return nil
}

// SetAttr sets attribute sym of c to v, or removes it when v is nil.
// c must be unshared: changing attributes is a mutation.
func (h *Heap) SetAttr(c, sym, v *Cell) {
	c.checkWritable("Heap.SetAttr")
	if sym == nil || sym.typ != SymbolType {
		fatalf("Heap.SetAttr", "attribute name must be a symbol")
	}
	if v == nil || v == h.Nil {
		h.RemoveAttr(c, sym)
		return
	}

	var last *Cell
	for a := c.attrib; a != nil; a = a.cdr {
		if a.tag == sym {
			v.IncShared()
			a.car = v
			return
		}
		last = a
	}

	h.roots.Protect(c, sym)
	node := h.Cons(v, nil)
	h.roots.Pop(2)
	node.tag = sym
	if last == nil {
		c.attrib = node
	} else {
		last.cdr = node
	}
	c.noteAttr(sym, true)
}

// RemoveAttr deletes attribute sym from c, reporting whether it was present.
func (h *Heap) RemoveAttr(c, sym *Cell) bool {
	c.checkWritable("Heap.RemoveAttr")
	var prev *Cell
	for a := c.attrib; a != nil; a = a.cdr {
		if a.tag == sym {
			if prev == nil {
				c.attrib = a.cdr
			} else {
				prev.cdr = a.cdr
			}
			c.noteAttr(sym, false)
			return true
		}
		prev = a
	}
	return false
}

// ClearAttrib drops every attribute of c.
func (h *Heap) ClearAttrib(c *Cell) {
	c.checkWritable("Heap.ClearAttrib")
	c.attrib = nil
	c.attrMask = 0
	c.flags &^= FlagObject
}

// noteAttr keeps the fast-path bits and the object flag in step with the
// list.
func (c *Cell) noteAttr(sym *Cell, present bool) {
	if sym.attrSlot >= 0 {
		bit := uint8(1) << uint(sym.attrSlot)
		if present {
			c.attrMask |= bit
		} else {
			c.attrMask &^= bit
		}
	}
	if sym == c.heap.ClassSymbol {
		if present {
			c.flags |= FlagObject
		} else {
			c.flags &^= FlagObject
		}
	}
}

// rebuildAttrState recomputes the presence bits and object flag from the
// attribute list.
func (c *Cell) rebuildAttrState() {
	c.attrMask = 0
	c.flags &^= FlagObject
	for a := c.attrib; a != nil; a = a.cdr {
		c.noteAttr(a.tag, true)
	}
}

// ---------------------------------------------------------------------------
// Well-known attributes
// ---------------------------------------------------------------------------

// Names returns the names attribute, or nil.
func (c *Cell) Names() *Cell {
	return c.GetAttr(c.heap.NamesSymbol)
}

// Dim returns the dim attribute, or nil.
func (c *Cell) Dim() *Cell {
	return c.GetAttr(c.heap.DimSymbol)
}

// Class returns the class attribute, or nil.
func (c *Cell) Class() *Cell {
	return c.GetAttr(c.heap.ClassSymbol)
}

// Inherits reports whether the class attribute of c contains name.
func (c *Cell) Inherits(name string) bool {
	cl := c.Class()
	if cl == nil || cl.typ != StringType {
		return false
	}
	for _, e := range cl.data.([]*Cell) {
		if !e.na && e.name == name {
			return true
		}
	}
	return false
}

// SetNames sets the names attribute of c.
func (h *Heap) SetNames(c, names *Cell) {
	h.SetAttr(c, h.NamesSymbol, names)
}

// SetDim sets the dim attribute of c.
func (h *Heap) SetDim(c *Cell, dims ...int32) {
	h.roots.Push(c)
	d := h.Ints(dims...)
	h.roots.Pop(1)
	h.SetAttr(c, h.DimSymbol, d)
}

// SetClass sets the class attribute of c, marking it as an object.
func (h *Heap) SetClass(c *Cell, classes ...string) {
	h.roots.Push(c)
	cl := h.Strings(classes...)
	h.roots.Pop(1)
	h.SetAttr(c, h.ClassSymbol, cl)
}
