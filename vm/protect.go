package vm

// ---------------------------------------------------------------------------
// RootStack: explicit roots held by native code across allocations
// ---------------------------------------------------------------------------

// DefaultProtectLimit is the root stack capacity used when none is
// configured.
const DefaultProtectLimit = 50000

// RootStack is the nested stack of cells shielded from collection while a
// native operation runs. Pushes and pops must be strictly nested; an error
// unwind resets the stack to the depth saved at the enclosing Runtime.Do.
//
// The stack has a single writer: the goroutine running the interpreter.
// Deferred tasks never touch it.
type RootStack struct {
	entries []*Cell
	limit   int
}

// NewRootStack creates a stack holding at most limit entries.
func NewRootStack(limit int) *RootStack {
	if limit <= 0 {
		limit = DefaultProtectLimit
	}
	return &RootStack{
		entries: make([]*Cell, 0, 256),
		limit:   limit,
	}
}

// Push roots c and returns its index for a later Reprotect.
func (s *RootStack) Push(c *Cell) int {
	if len(s.entries) >= s.limit {
		raise(&Error{Kind: ErrProtectOverflow, Op: "RootStack.Push"})
	}
	s.entries = append(s.entries, c)
	return len(s.entries) - 1
}

// Protect pushes each cell in order.
func (s *RootStack) Protect(cells ...*Cell) {
	for _, c := range cells {
		s.Push(c)
	}
}

// Pop removes the top n entries.
func (s *RootStack) Pop(n int) {
	if n < 0 || n > len(s.entries) {
		fatalf("RootStack.Pop", "pop of %d entries with only %d on the stack", n, len(s.entries))
	}
	top := len(s.entries)
	clear(s.entries[top-n : top])
	s.entries = s.entries[:top-n]
}

// Reprotect replaces the entry at index, which must still be on the stack.
func (s *RootStack) Reprotect(index int, c *Cell) {
	if index < 0 || index >= len(s.entries) {
		fatalf("RootStack.Reprotect", "index %d outside stack of depth %d", index, len(s.entries))
	}
	s.entries[index] = c
}

// Depth returns the number of rooted entries.
func (s *RootStack) Depth() int {
	return len(s.entries)
}

// Limit returns the capacity.
func (s *RootStack) Limit() int {
	return s.limit
}

// At returns the entry at index.
func (s *RootStack) At(index int) *Cell {
	if index < 0 || index >= len(s.entries) {
		fatalf("RootStack.At", "index %d outside stack of depth %d", index, len(s.entries))
	}
	return s.entries[index]
}

// unwind forcibly resets the stack to depth after a non-local exit.
func (s *RootStack) unwind(depth int) {
	if depth > len(s.entries) {
		fatalf("RootStack.unwind", "saved depth %d above current depth %d", depth, len(s.entries))
	}
	clear(s.entries[depth:])
	s.entries = s.entries[:depth]
}

// each visits every rooted cell, bottom first.
func (s *RootStack) each(fn func(*Cell)) {
	for _, c := range s.entries {
		if c != nil {
			fn(c)
		}
	}
}
