package vm

// ---------------------------------------------------------------------------
// Pending cells
// ---------------------------------------------------------------------------

// pending is the handle of an in-flight computation that will populate a
// cell's payload. The worker closes done after its last write; closing is
// the happens-before edge for every reader that waits on it.
type pending struct {
	done chan struct{}
	task string

	// failure is the panic value of a task that did not finish. It is set
	// before done is closed, and the cell then stays pending for good.
	failure any
}

// IsPending reports whether a deferred task still owns c's payload.
func (c *Cell) IsPending() bool {
	return c.pending.Load() != nil
}

// PendingTask names the task computing c, or "" when c is not pending.
func (c *Cell) PendingTask() string {
	if p := c.pending.Load(); p != nil {
		return p.task
	}
	return ""
}

// WaitUntilComputed blocks until c is no longer pending. It is the only
// suspension point in the core and may be called from the interpreter or
// from a worker waiting on a task input. If the task computing c panicked,
// the panic is raised again in the waiter.
func (c *Cell) WaitUntilComputed() {
	p := c.pending.Load()
	if p == nil {
		return
	}
	<-p.done
	if p.failure != nil {
		panic(p.failure)
	}
	c.pending.CompareAndSwap(p, nil)
}

// awaitDone blocks until the task computing c has stopped, whether or not
// it succeeded.
func (c *Cell) awaitDone() {
	if p := c.pending.Load(); p != nil {
		<-p.done
	}
}

// ---------------------------------------------------------------------------
// Output: the task's write access to a pending cell
// ---------------------------------------------------------------------------

// Output is the only way to reach a pending cell's payload. A task receives
// one for its designated output cell.
type Output struct {
	c *Cell
}

func (o Output) check(op string, t Type) {
	if o.c.freed {
		fatalf(op, "task output was reclaimed")
	}
	if o.c.typ != t {
		fatalf(op, "expected %s output, got %s", t, o.c.typ)
	}
}

// Type returns the output cell's type.
func (o Output) Type() Type { return o.c.typ }

// Len returns the output cell's length.
func (o Output) Len() int { return o.c.length }

// Logicals returns the output buffer of a logical vector.
func (o Output) Logicals() []int32 {
	o.check("Output.Logicals", LogicalType)
	return o.c.data.([]int32)
}

// Ints returns the output buffer of an integer vector.
func (o Output) Ints() []int32 {
	o.check("Output.Ints", IntegerType)
	return o.c.data.([]int32)
}

// Reals returns the output buffer of a double vector.
func (o Output) Reals() []float64 {
	o.check("Output.Reals", RealType)
	return o.c.data.([]float64)
}

// Complexes returns the output buffer of a complex vector.
func (o Output) Complexes() []complex128 {
	o.check("Output.Complexes", ComplexType)
	return o.c.data.([]complex128)
}

// Raw returns the output buffer of a raw vector.
func (o Output) Raw() []byte {
	o.check("Output.Raw", RawType)
	return o.c.data.([]byte)
}
