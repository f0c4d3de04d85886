package vm

// ---------------------------------------------------------------------------
// Weak references
// ---------------------------------------------------------------------------

// Finalizer runs on the interpreter goroutine after the key of a weak
// reference has become unreachable. The key is still valid during the call.
type Finalizer func(key *Cell)

// NewWeakRef allocates a weak reference from key to value. value is kept
// alive only while key is reachable by other means. fin, if non-nil, runs
// once after key becomes unreachable.
func (h *Heap) NewWeakRef(key, value *Cell, fin Finalizer) *Cell {
	if key == nil {
		fatalf("Heap.NewWeakRef", "weak reference needs a key")
	}
	h.roots.Protect(key, value)
	w := h.mustAlloc(WeakRefType, 0)
	h.roots.Pop(2)
	w.car = key
	w.cdr = value
	if fin != nil {
		w.ext = fin
	}
	h.weakRefs.Register(w)
	return w
}

// WeakRefKey returns the key, or nil once it has been collected.
func (c *Cell) WeakRefKey() *Cell {
	c.checkType("Cell.WeakRefKey", WeakRefType)
	return c.car
}

// WeakRefValue returns the value, or nil once the key has been collected.
func (c *Cell) WeakRefValue() *Cell {
	c.checkType("Cell.WeakRefValue", WeakRefType)
	return c.cdr
}

// IsAlive reports whether the key of a weak reference is still reachable.
func (c *Cell) IsAlive() bool {
	c.checkType("Cell.IsAlive", WeakRefType)
	return c.car != nil
}

func (c *Cell) finalizer() Finalizer {
	fin, _ := c.ext.(Finalizer)
	return fin
}

// clearWeak drops key, value and finalizer.
func (c *Cell) clearWeak() {
	c.car = nil
	c.cdr = nil
	c.ext = nil
}

// ---------------------------------------------------------------------------
// WeakRegistry: every live weak reference, for the collector
// ---------------------------------------------------------------------------

// WeakRegistry tracks the weak references of one heap. Only the interpreter
// goroutine touches it.
type WeakRegistry struct {
	refs map[*Cell]struct{}
}

// NewWeakRegistry creates an empty registry.
func NewWeakRegistry() *WeakRegistry {
	return &WeakRegistry{refs: make(map[*Cell]struct{})}
}

// Register adds a weak reference.
func (r *WeakRegistry) Register(w *Cell) {
	r.refs[w] = struct{}{}
}

// Unregister removes a weak reference.
func (r *WeakRegistry) Unregister(w *Cell) {
	delete(r.refs, w)
}

// Count returns the number of registered weak references.
func (r *WeakRegistry) Count() int {
	return len(r.refs)
}

func (r *WeakRegistry) each(fn func(w *Cell)) {
	for w := range r.refs {
		fn(w)
	}
}

// WeakRefCount returns the number of weak references the heap tracks.
func (h *Heap) WeakRefCount() int {
	return h.weakRefs.Count()
}

// RunFinalizers runs the finalizers of weak references whose keys died in
// an earlier collection. It returns how many ran.
func (h *Heap) RunFinalizers() int {
	ran := 0
	for len(h.finalizable) > 0 {
		w := h.finalizable[0]
		h.finalizable = h.finalizable[1:]
		fin := w.finalizer()
		key := w.car
		h.roots.Protect(w, key)
		w.clearWeak()
		if fin != nil {
			fin(key)
			ran++
		}
		h.roots.Pop(2)
	}
	h.finalizable = nil
	return ran
}
