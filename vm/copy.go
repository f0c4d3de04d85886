package vm

import "slices"

// ---------------------------------------------------------------------------
// Bulk element copies
// ---------------------------------------------------------------------------
//
// These copy between vectors of the same type. Elements of lists and
// expression vectors copied into a different object are duplicated; copies
// within one object raise the element's sharing count instead, since the
// element then has two slots holding it.

// CopyElements copies n elements: dst[i+k*is] = src[j+k*js] for k in
// [0,n). Strides may be negative, which walks a range backwards (used for
// transposing copies). When dst and src are the same vector, every source
// element is read before any slot is written, so overlapping ranges behave
// as a copy from the vector's old contents.
func (h *Heap) CopyElements(dst *Cell, i, is int, src *Cell, j, js int, n int) {
	const op = "Heap.CopyElements"
	src.WaitUntilComputed()
	dst.WaitUntilComputed()
	checkCopyTypes(op, dst, src)
	dst.checkWritable(op)
	if n <= 0 {
		return
	}
	checkRange(op, dst, i, is, n)
	checkRange(op, src, j, js, n)

	switch dst.typ {
	case ListType, ExpressionType:
		h.roots.Protect(dst, src)
		d := dst.data.([]*Cell)
		s := sourceElts(dst, src)
		for k := 0; k < n; k++ {
			d[i] = h.transferElt(dst, src, s[j])
			i += is
			j += js
		}
		h.roots.Pop(2)
	default:
		if dst == src && (is != 1 || js != 1) {
			src = &Cell{typ: src.typ, length: src.length, data: cloneData(src.data)}
		}
		copyAtomic(dst, i, is, src, j, js, n)
	}
}

// CopyElementsRecycled fills dst[i:i+n] from src, starting again at the
// beginning of src whenever it runs out: dst[i+k] = src[k mod len(src)].
func (h *Heap) CopyElementsRecycled(dst *Cell, i int, src *Cell, n int) {
	const op = "Heap.CopyElementsRecycled"
	src.WaitUntilComputed()
	dst.WaitUntilComputed()
	checkCopyTypes(op, dst, src)
	dst.checkWritable(op)
	if n <= 0 {
		return
	}
	k := src.length
	if k == 0 {
		fatalf(op, "recycling from a zero-length %s", src.typ)
	}
	checkRange(op, dst, i, 1, n)

	if k == 1 {
		h.RepElement(dst, i, src, 0, n)
		return
	}

	switch dst.typ {
	case ListType, ExpressionType:
		h.roots.Protect(dst, src)
		d := dst.data.([]*Cell)
		s := sourceElts(dst, src)
		for m := 0; m < n; m++ {
			d[i+m] = h.transferElt(dst, src, s[m%k])
		}
		h.roots.Pop(2)
	default:
		for done := 0; done < n; done += k {
			m := min(k, n-done)
			copyAtomic(dst, i+done, 1, src, 0, 1, m)
		}
	}
}

// CopyVector fills all of dst from src with recycling.
func (h *Heap) CopyVector(dst, src *Cell) {
	h.CopyElementsRecycled(dst, 0, src, dst.length)
}

// RepElement stores n copies of src[j] at dst[i:i+n]. Fixed-width scalars
// are written by doubling block copies, which lets the runtime's memmove
// use its widest stores.
func (h *Heap) RepElement(dst *Cell, i int, src *Cell, j int, n int) {
	const op = "Heap.RepElement"
	src.WaitUntilComputed()
	dst.WaitUntilComputed()
	checkCopyTypes(op, dst, src)
	dst.checkWritable(op)
	if n <= 0 {
		return
	}
	checkRange(op, dst, i, 1, n)
	checkRange(op, src, j, 1, 1)

	switch dst.typ {
	case LogicalType, IntegerType:
		repFill(dst.data.([]int32)[i:i+n], src.data.([]int32)[j])
	case RealType:
		repFill(dst.data.([]float64)[i:i+n], src.data.([]float64)[j])
	case ComplexType:
		repFill(dst.data.([]complex128)[i:i+n], src.data.([]complex128)[j])
	case RawType:
		repFill(dst.data.([]byte)[i:i+n], src.data.([]byte)[j])
	case StringType:
		repFill(dst.data.([]*Cell)[i:i+n], src.data.([]*Cell)[j])
	case ListType, ExpressionType:
		h.roots.Protect(dst, src)
		d := dst.data.([]*Cell)
		e := src.data.([]*Cell)[j]
		for m := 0; m < n; m++ {
			d[i+m] = h.transferElt(dst, src, e)
		}
		h.roots.Pop(2)
	default:
		fatalf(op, "unimplemented type %v", dst.typ)
	}
}

// transferElt returns what a list slot of dst should hold when copying e
// out of src.
func (h *Heap) transferElt(dst, src, e *Cell) *Cell {
	if dst == src {
		e.IncShared()
		return e
	}
	d := h.duplicate1(e, true)
	if d == e {
		e.IncShared()
	}
	return d
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// sourceElts returns src's element slots, copied out when dst is the same
// vector so that writes cannot feed later reads.
func sourceElts(dst, src *Cell) []*Cell {
	s := src.data.([]*Cell)
	if dst == src {
		return slices.Clone(s)
	}
	return s
}

func cloneData(data any) any {
	switch d := data.(type) {
	case []int32:
		return slices.Clone(d)
	case []float64:
		return slices.Clone(d)
	case []complex128:
		return slices.Clone(d)
	case []byte:
		return slices.Clone(d)
	case []*Cell:
		return slices.Clone(d)
	}
	fatalf("cloneData", "unexpected payload %T", data)
	return nil
}

func checkCopyTypes(op string, dst, src *Cell) {
	dst.checkLive(op)
	src.checkLive(op)
	if !dst.typ.IsVector() {
		fatalf(op, "destination %s is not a vector", dst.typ)
	}
	if dst.typ != src.typ {
		fatalf(op, "type mismatch: %s from %s", dst.typ, src.typ)
	}
}

func checkRange(op string, c *Cell, start, stride, n int) {
	last := start + (n-1)*stride
	if start < 0 || start >= c.length || last < 0 || last >= c.length {
		fatalf(op, "range [%d..%d] outside %s of length %d", start, last, c.typ, c.length)
	}
}

// copyAtomic copies elements of vectors whose slots hold no ownership:
// fixed-width scalars and char leaf pointers.
func copyAtomic(dst *Cell, i, is int, src *Cell, j, js int, n int) {
	switch dst.typ {
	case LogicalType, IntegerType:
		strided(dst.data.([]int32), i, is, src.data.([]int32), j, js, n)
	case RealType:
		strided(dst.data.([]float64), i, is, src.data.([]float64), j, js, n)
	case ComplexType:
		strided(dst.data.([]complex128), i, is, src.data.([]complex128), j, js, n)
	case RawType:
		strided(dst.data.([]byte), i, is, src.data.([]byte), j, js, n)
	case StringType:
		strided(dst.data.([]*Cell), i, is, src.data.([]*Cell), j, js, n)
	default:
		fatalf("copyAtomic", "unimplemented type %v", dst.typ)
	}
}

func strided[T any](d []T, i, is int, s []T, j, js, n int) {
	if is == 1 && js == 1 {
		copy(d[i:i+n], s[j:j+n])
		return
	}
	for k := 0; k < n; k++ {
		d[i] = s[j]
		i += is
		j += js
	}
}

// repFill sets every element of d to v, doubling the filled prefix each
// step.
func repFill[T any](d []T, v T) {
	if len(d) == 0 {
		return
	}
	d[0] = v
	for filled := 1; filled < len(d); filled *= 2 {
		copy(d[filled:], d[:filled])
	}
}
