package vm

import (
	"github.com/google/uuid"
	"github.com/tliron/commonlog"
)

// ---------------------------------------------------------------------------
// Runtime: the process-level context of the core
// ---------------------------------------------------------------------------

// Options configure a Runtime.
type Options struct {
	Heap HeapOptions
	Pool PoolOptions
}

// DefaultOptions returns the built-in configuration: no workers, merging
// on, debug checks on.
func DefaultOptions() Options {
	return Options{
		Heap: HeapOptions{
			GCThreshold:    DefaultGCThreshold,
			GCGrowth:       DefaultGCGrowth,
			ProtectLimit:   DefaultProtectLimit,
			SharingMax:     DefaultSharingMax,
			FastAttributes: DefaultFastAttributes,
			DebugChecks:    true,
		},
		Pool: PoolOptions{Merge: true},
	}
}

// Runtime bundles the heap, its root stack and the task pool. It is created
// once at process start and closed at shutdown; the interpreter goroutine
// is its only driver apart from the pool's workers.
type Runtime struct {
	ID   uuid.UUID
	Heap *Heap
	Pool *Pool

	// BaseEnv encloses GlobalEnv; both are singleton roots.
	BaseEnv   *Cell
	GlobalEnv *Cell

	log commonlog.Logger
}

// NewRuntime builds a runtime and starts its workers.
func NewRuntime(opts Options) *Runtime {
	id := uuid.New()
	rt := &Runtime{
		ID:   id,
		Heap: NewHeap(opts.Heap),
		log:  commonlog.NewKeyValueLogger(commonlog.GetLogger("cellcore.runtime"), "runtime", id.String()),
	}
	h := rt.Heap
	rt.BaseEnv = h.NewEnvironment(nil)
	h.Preserve(rt.BaseEnv)
	rt.GlobalEnv = h.NewEnvironment(rt.BaseEnv)
	h.Preserve(rt.GlobalEnv)

	rt.Pool = NewPool(h, opts.Pool)
	rt.Pool.Start()

	rt.log.Infof("runtime ready: %d workers, sharing max %d, protect limit %d",
		rt.Pool.Workers(), h.SharingMax(), h.roots.Limit())
	return rt
}

// Close waits for outstanding tasks and stops the workers.
func (rt *Runtime) Close() {
	rt.Pool.WaitAll()
	if err := rt.Pool.Stop(); err != nil {
		rt.log.Errorf("worker pool: %v", err)
	}
	rt.log.Infof("runtime closed: %d collections, %d tasks", rt.Heap.collections.Load(), rt.Pool.Stats().Completed)
}

// Roots returns the heap's root stack.
func (rt *Runtime) Roots() *RootStack {
	return rt.Heap.roots
}

// Do runs one top-level native operation. A recoverable *Error raised by
// allocation or the root stack, or an error returned by op, unwinds the
// root stack to its depth at entry and is returned. A successful op that
// leaves the stack at a different depth is an invariant violation.
// Invariant violations pass through unchanged.
func (rt *Runtime) Do(op func() error) (err error) {
	roots := rt.Heap.roots
	depth := roots.Depth()

	defer func() {
		r := recover()
		if r == nil {
			return
		}
		e, ok := r.(*Error)
		if !ok {
			panic(r)
		}
		roots.unwind(depth)
		rt.log.Warningf("operation aborted: %v", e)
		err = e
	}()

	if err := op(); err != nil {
		roots.unwind(depth)
		return err
	}
	if d := roots.Depth(); d != depth {
		fatalf("Runtime.Do", "root stack depth %d at exit, %d at entry", d, depth)
	}
	rt.Heap.RunFinalizers()
	return nil
}
