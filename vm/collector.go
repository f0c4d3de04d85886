package vm

import (
	"time"
)

// ---------------------------------------------------------------------------
// Collector: mark/sweep over the heap's cells
// ---------------------------------------------------------------------------

// GCStats describes one collection.
type GCStats struct {
	Reason      string
	Live        int
	Freed       int
	LiveBytes   int
	FreedBytes  int
	WeakCleared int
	Finalizable int
	Duration    time.Duration
	Timestamp   time.Time
}

// HeapStats is a snapshot of the heap's size.
type HeapStats struct {
	Cells       int
	Bytes       int
	Trigger     int
	Collections uint64
	RootDepth   int
	Preserved   int
	Symbols     int
	Chars       int
	WeakRefs    int
}

// Stats returns the heap's current size.
func (h *Heap) Stats() HeapStats {
	return HeapStats{
		Cells:       len(h.cells),
		Bytes:       h.allocated,
		Trigger:     h.trigger,
		Collections: h.collections.Load(),
		RootDepth:   h.roots.Depth(),
		Preserved:   len(h.precious),
		Symbols:     len(h.symbols),
		Chars:       len(h.chars),
		WeakRefs:    h.weakRefs.Count(),
	}
}

// LastGC returns the statistics of the most recent collection, or nil.
func (h *Heap) LastGC() *GCStats {
	v := h.lastStats.Load()
	if v == nil {
		return nil
	}
	return v.(*GCStats)
}

// Collect runs a full collection and then any finalizers it made ready.
func (h *Heap) Collect() *GCStats {
	stats := h.collect("explicit")
	h.RunFinalizers()
	return stats
}

func sizeOf(c *Cell) int {
	size := cellSize(c.typ, c.length)
	if c.typ == CharType {
		size += len(c.name)
	}
	return size
}

// collect marks everything reachable from the roots and reclaims the rest.
// Finalizers are only queued here; they run at the next safe point.
func (h *Heap) collect(reason string) *GCStats {
	start := time.Now()
	h.markGen++
	gen := h.markGen

	var stack []*Cell
	mark := func(c *Cell) {
		if c != nil && c.markGen != gen {
			c.markGen = gen
			stack = append(stack, c)
		}
	}
	drain := func() {
		for len(stack) > 0 {
			c := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			h.traceChildren(c, mark)
		}
	}

	// Roots: singletons, symbol table, root stack, precious list, weak
	// references awaiting finalization, and the registered sources.
	mark(h.Nil)
	mark(h.NAString)
	mark(h.BlankString)
	for _, s := range h.symbols {
		mark(s)
	}
	h.roots.each(mark)
	for c := range h.precious {
		mark(c)
	}
	for _, w := range h.finalizable {
		mark(w)
		mark(w.car)
		mark(w.cdr)
	}
	for _, src := range h.sources {
		src.VisitRoots(mark)
	}
	drain()

	// A weak reference with a finalizer stays registered, and so alive,
	// until its key dies.
	h.weakRefs.each(func(w *Cell) {
		if w.finalizer() != nil {
			mark(w)
		}
	})
	drain()

	// Values are reachable through a live weak reference only while its key
	// is reachable. Iterate to a fixed point.
	for {
		progressed := false
		h.weakRefs.each(func(w *Cell) {
			if w.markGen == gen && w.car != nil && w.car.markGen == gen && w.cdr != nil && w.cdr.markGen != gen {
				mark(w.cdr)
				progressed = true
			}
		})
		if !progressed {
			break
		}
		drain()
	}

	stats := &GCStats{Reason: reason, Timestamp: start}

	var dead []*Cell
	h.weakRefs.each(func(w *Cell) {
		if w.markGen != gen {
			dead = append(dead, w)
			return
		}
		if w.car == nil || w.car.markGen == gen {
			return
		}
		if w.finalizer() != nil {
			mark(w.car)
			mark(w.cdr)
			h.finalizable = append(h.finalizable, w)
			dead = append(dead, w)
			stats.Finalizable++
			return
		}
		w.clearWeak()
		stats.WeakCleared++
	})
	drain()
	for _, w := range dead {
		h.weakRefs.Unregister(w)
	}

	for s, c := range h.chars {
		if c.markGen != gen {
			delete(h.chars, s)
		}
	}

	// Sweep.
	live := h.cells[:0]
	for _, c := range h.cells {
		if c.markGen == gen {
			live = append(live, c)
			continue
		}
		size := sizeOf(c)
		h.allocated -= size
		stats.Freed++
		stats.FreedBytes += size
		c.reclaim()
	}
	clear(h.cells[len(live):])
	h.cells = live

	h.trigger = max(h.threshold, int(float64(h.allocated)*h.growth))

	stats.Live = len(h.cells)
	stats.LiveBytes = h.allocated
	stats.Duration = time.Since(start)
	h.collections.Add(1)
	h.lastStats.Store(stats)

	h.log.Debugf("gc (%s): freed %d cells / %d bytes, %d live in %v",
		reason, stats.Freed, stats.FreedBytes, stats.Live, stats.Duration)
	return stats
}

// traceChildren marks every cell c refers to. Weak reference keys and
// values are handled by the collector's ephemeron pass. Pending cells are
// always atomic vectors, so their payload is never traversed.
func (h *Heap) traceChildren(c *Cell, mark func(*Cell)) {
	mark(c.attrib)
	switch c.typ {
	case NilType, SymbolType, CharType,
		LogicalType, IntegerType, RealType, ComplexType, RawType, WeakRefType:
	case PairlistType, LanguageType, ClosureType, PromiseType:
		mark(c.car)
		mark(c.cdr)
		mark(c.tag)
	case EnvironmentType:
		mark(c.frame.enclos)
		for i, s := range c.frame.syms {
			mark(s)
			mark(c.frame.vals[i])
		}
	case StringType, ListType, ExpressionType:
		for _, e := range c.data.([]*Cell) {
			mark(e)
		}
	case ExternalPtrType:
		mark(c.tag)
		mark(c.cdr)
	default:
		fatalf("Heap.collect", "unimplemented type %v", c.typ)
	}
}

// reclaim poisons a swept cell so that any later access is detected.
func (c *Cell) reclaim() {
	c.freed = true
	c.data = nil
	c.attrib = nil
	c.car, c.cdr, c.tag = nil, nil, nil
	c.frame = nil
	c.ext = nil
}
