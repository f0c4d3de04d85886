package vm

// ---------------------------------------------------------------------------
// Sharing count
// ---------------------------------------------------------------------------
//
// The sharing count approximates how many places hold a cell. Zero means the
// holder is the unique owner and may mutate in place; anything else means
// the cell must be duplicated before mutation. The count saturates at the
// heap's limit and is never decremented: a saturated cell stays shared for
// the rest of its life.

// DefaultSharingMax is the saturation value used when none is configured.
const DefaultSharingMax = 7

// Shared returns the current sharing count.
func (c *Cell) Shared() int {
	return int(c.shared)
}

// IsShared reports whether c must be duplicated before mutation.
func (c *Cell) IsShared() bool {
	return c.shared != 0
}

// IsSaturated reports whether the count has reached the heap's limit.
func (c *Cell) IsSaturated() bool {
	return c.shared >= c.heap.sharingMax
}

// IncShared records one more place holding c.
func (c *Cell) IncShared() {
	if c.shared < c.heap.sharingMax {
		c.shared++
	}
}

// EnsureShared raises the count to at least 1.
func (c *Cell) EnsureShared() {
	if c.shared == 0 {
		c.shared = 1
	}
}

// MarkShared saturates the count.
func (c *Cell) MarkShared() {
	c.shared = c.heap.sharingMax
}

// Writable returns c itself when it is uniquely owned, otherwise a
// duplicate the caller now owns. Callers must rebind their reference to the
// result before mutating it.
func (h *Heap) Writable(c *Cell) *Cell {
	c.WaitUntilComputed()
	if !c.IsShared() {
		return c
	}
	return h.Duplicate(c)
}

// WritableTopLevel is Writable for callers that only change the container
// itself (its attributes or which cells it holds), never an element in
// place.
func (h *Heap) WritableTopLevel(c *Cell) *Cell {
	c.WaitUntilComputed()
	if !c.IsShared() {
		return c
	}
	return h.DuplicateTopLevel(c)
}

// WritableElt makes element i of an unshared list safe to mutate in place
// and returns it. A shared element is replaced by its duplicate.
func (h *Heap) WritableElt(list *Cell, i int) *Cell {
	list.checkElts("Heap.WritableElt")
	list.checkWritable("Heap.WritableElt")
	list.checkIndex("Heap.WritableElt", i)
	elts := list.data.([]*Cell)
	e := elts[i]
	e.WaitUntilComputed()
	if !e.IsShared() {
		return e
	}
	h.roots.Push(list)
	d := h.Duplicate(e)
	h.roots.Pop(1)
	if d != e {
		elts[i] = d
	}
	return d
}
