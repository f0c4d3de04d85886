package vm

// ---------------------------------------------------------------------------
// Duplication
// ---------------------------------------------------------------------------
//
// Duplicate produces a value whose mutation is never observable through the
// original. Environments, closures, promises, symbols, char leaves, external
// pointers and weak references are identity-shared: duplication returns
// the same cell. Attribute lists are copied as lists, but their values are
// marked fully shared rather than copied.

// Duplicate returns a deep copy of c. It waits for c to be computed first.
func (h *Heap) Duplicate(c *Cell) *Cell {
	if c == nil {
		return nil
	}
	return h.duplicate1(c, true)
}

// DuplicateTopLevel copies only the outermost container and its attribute
// list. The elements are shared with the original and have their sharing
// counts raised, so any later in-place change to an element goes through
// its own copy-on-write check.
func (h *Heap) DuplicateTopLevel(c *Cell) *Cell {
	if c == nil {
		return nil
	}
	return h.duplicate1(c, false)
}

func (h *Heap) duplicate1(s *Cell, deep bool) *Cell {
	if s == nil {
		return nil
	}
	s.WaitUntilComputed()
	if s.freed {
		fatalf("Heap.Duplicate", "duplication of reclaimed %s cell", s.typ)
	}

	switch s.typ {
	case NilType, SymbolType, EnvironmentType, ClosureType, PromiseType,
		CharType, ExternalPtrType, WeakRefType:
		return s

	case PairlistType, LanguageType:
		return h.duplicateChain(s, deep)

	case LogicalType, IntegerType, RealType, ComplexType, RawType, StringType:
		h.roots.Push(s)
		t := h.mustAlloc(s.typ, s.length)
		h.roots.Push(t)
		copyAtomic(t, 0, 1, s, 0, 1, s.length)
		h.duplicateAttrib(t, s)
		h.roots.Pop(2)
		return t

	case ListType, ExpressionType:
		h.roots.Push(s)
		t := h.mustAlloc(s.typ, s.length)
		h.roots.Push(t)
		src := s.data.([]*Cell)
		dst := t.data.([]*Cell)
		for i, e := range src {
			if deep {
				d := h.duplicate1(e, true)
				if d == e {
					e.IncShared()
				}
				dst[i] = d
			} else {
				e.IncShared()
				dst[i] = e
			}
		}
		h.duplicateAttrib(t, s)
		h.roots.Pop(2)
		return t

	default:
		fatalf("Heap.Duplicate", "unimplemented type %v", s.typ)
		return nil
	}
}

// duplicateChain copies a pairlist or language chain node by node without
// recursing along the chain, so native stack use is independent of its
// length.
func (h *Heap) duplicateChain(s *Cell, deep bool) *Cell {
	h.roots.Push(s)
	headIdx := h.roots.Push(nil)

	var head, tail *Cell
	for p := s; p != nil; p = p.cdr {
		if p.freed {
			fatalf("Heap.Duplicate", "duplication of reclaimed pairlist node")
		}
		item := p.car
		if deep {
			d := h.duplicate1(item, true)
			if d == item && item != nil {
				item.IncShared()
			}
			item = d
		} else if item != nil {
			item.IncShared()
		}

		h.roots.Push(item)
		n := h.mustAlloc(p.typ, 0)
		h.roots.Pop(1)
		n.car = item
		n.tag = p.tag
		n.flags = p.flags

		if tail == nil {
			head = n
			h.roots.Reprotect(headIdx, head)
		} else {
			tail.cdr = n
		}
		tail = n

		if p.attrib != nil {
			h.duplicateAttrib(n, p)
		}
	}

	h.roots.Pop(2)
	return head
}

// duplicateAttrib gives to a fresh copy of from's attribute list. Values
// are not copied; they are marked fully shared instead.
func (h *Heap) duplicateAttrib(to, from *Cell) {
	to.flags = to.flags&^FlagObject | from.flags&FlagObject
	to.attrMask = from.attrMask
	if from.attrib == nil {
		to.attrib = nil
		return
	}

	h.roots.Protect(to, from)
	headIdx := h.roots.Push(nil)
	var head, tail *Cell
	for a := from.attrib; a != nil; a = a.cdr {
		n := h.mustAlloc(PairlistType, 0)
		if a.car != nil {
			a.car.MarkShared()
		}
		n.car = a.car
		n.tag = a.tag
		if tail == nil {
			head = n
			h.roots.Reprotect(headIdx, head)
		} else {
			tail.cdr = n
		}
		tail = n
	}
	h.roots.Pop(3)
	to.attrib = head
}

// CopyMostAttrib copies every attribute of from onto to except names, dim
// and dimnames. to must be unshared.
func (h *Heap) CopyMostAttrib(to, from *Cell) {
	to.checkWritable("Heap.CopyMostAttrib")
	from.WaitUntilComputed()
	h.roots.Protect(to, from)
	for a := from.attrib; a != nil; a = a.cdr {
		switch a.tag {
		case h.NamesSymbol, h.DimSymbol, h.DimNamesSymbol:
			continue
		}
		a.car.MarkShared()
		h.SetAttr(to, a.tag, a.car)
	}
	h.roots.Pop(2)
}
