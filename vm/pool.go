package vm

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"
)

// ---------------------------------------------------------------------------
// Pool: workers computing pending cells
// ---------------------------------------------------------------------------

// Task computes the payload of one output cell from its inputs. Run must
// write only through out and read only from in; it must not allocate, touch
// the root stack, or reach any other cell.
type Task struct {
	Name string
	Run  func(out Output, in []*Cell)

	// Mergeable tasks may be folded into the queued job that produces one
	// of their inputs, saving a dispatch.
	Mergeable bool
}

// PoolOptions configure a Pool.
type PoolOptions struct {
	Workers int  // 0 runs every task synchronously inside Submit
	Merge   bool // fold mergeable tasks into the preceding queued job
	Trace   bool // log each task's start and finish at debug level
}

// PoolStats are cumulative counters.
type PoolStats struct {
	Submitted   uint64
	Synchronous uint64
	Merged      uint64
	Completed   uint64
	Failed      uint64
}

type step struct {
	task *Task
	out  *Cell
	in   []*Cell
	p    *pending
}

// job is the unit a worker takes from the queue: one or more merged steps
// run in order.
type job struct {
	steps []step
}

// Pool schedules tasks on worker goroutines and tracks every cell an
// outstanding task refers to, so the collector keeps them alive.
type Pool struct {
	heap    *Heap
	workers int
	merge   bool
	trace   bool

	mu      sync.Mutex
	cond    *sync.Cond
	queue   []*job
	running map[*job]struct{}
	closed  bool

	lifecycle sync.Mutex // protects start/stop
	group     *errgroup.Group
	active    atomic.Bool

	submitted   atomic.Uint64
	synchronous atomic.Uint64
	merged      atomic.Uint64
	completed   atomic.Uint64
	failed      atomic.Uint64

	log commonlog.Logger
}

// NewPool creates a pool for cells of h and registers it as a root source.
// Workers do not run until Start.
func NewPool(h *Heap, opts PoolOptions) *Pool {
	if opts.Workers < 0 {
		opts.Workers = 0
	}
	p := &Pool{
		heap:    h,
		workers: opts.Workers,
		merge:   opts.Merge,
		trace:   opts.Trace,
		running: make(map[*job]struct{}),
		log:     commonlog.GetLogger("cellcore.pool"),
	}
	p.cond = sync.NewCond(&p.mu)
	h.AddRootSource(p)
	return p
}

// Workers returns the configured pool size.
func (p *Pool) Workers() int {
	return p.workers
}

// Start launches the workers. It is safe to call Start multiple times; only
// one set of workers runs.
func (p *Pool) Start() {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if p.active.Load() || p.workers == 0 {
		return
	}

	p.mu.Lock()
	p.closed = false
	p.mu.Unlock()

	p.group = new(errgroup.Group)
	for i := 0; i < p.workers; i++ {
		id := i
		p.group.Go(func() error {
			return p.work(id)
		})
	}
	p.active.Store(true)
	p.log.Debugf("started %d workers", p.workers)
}

// Stop lets the workers drain the queue, then joins them. Later submissions
// run synchronously. It returns the first task failure any worker saw since
// Start. It is safe to call Stop on a pool that was never started.
func (p *Pool) Stop() error {
	p.lifecycle.Lock()
	defer p.lifecycle.Unlock()

	if !p.active.Load() {
		return nil
	}

	p.mu.Lock()
	p.closed = true
	p.cond.Broadcast()
	p.mu.Unlock()

	err := p.group.Wait()
	p.group = nil
	p.active.Store(false)
	p.log.Debugf("stopped after %d tasks, %d failed", p.completed.Load(), p.failed.Load())
	return err
}

// Submit hands out to task. With running workers, out becomes pending and
// the task is queued; otherwise the task runs before Submit returns. Inputs
// may themselves be pending: the task waits for them before running. Each
// input's sharing count is raised, so the interpreter cannot mutate it in
// place while the task may still read it.
func (p *Pool) Submit(out *Cell, task *Task, inputs ...*Cell) {
	const op = "Pool.Submit"
	if task == nil || task.Run == nil {
		fatalf(op, "task has no body")
	}
	if out.freed {
		fatalf(op, "task %q: output was reclaimed", task.Name)
	}
	if pt := out.PendingTask(); pt != "" {
		fatalf(op, "task %q: output is already pending on task %q", task.Name, pt)
	}
	if !out.typ.IsAtomic() {
		fatalf(op, "task %q: output must be an atomic vector, got %s", task.Name, out.typ)
	}
	if out.shared != 0 {
		fatalf(op, "task %q: output is shared", task.Name)
	}
	for _, in := range inputs {
		if in == out {
			fatalf(op, "task %q: output is also an input", task.Name)
		}
		if in.freed {
			fatalf(op, "task %q: input was reclaimed", task.Name)
		}
		in.IncShared()
	}
	p.submitted.Add(1)

	if !p.active.Load() {
		for _, in := range inputs {
			in.WaitUntilComputed()
		}
		p.runStep(-1, step{task: task, out: out, in: inputs})
		p.synchronous.Add(1)
		return
	}

	pd := &pending{done: make(chan struct{}), task: task.Name}
	out.pending.Store(pd)
	st := step{task: task, out: out, in: append([]*Cell(nil), inputs...), p: pd}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.merge && task.Mergeable && len(p.queue) > 0 {
		last := p.queue[len(p.queue)-1]
		tail := last.steps[len(last.steps)-1]
		if tail.task.Mergeable && containsCell(inputs, tail.out) {
			last.steps = append(last.steps, st)
			p.merged.Add(1)
			return
		}
	}
	p.queue = append(p.queue, &job{steps: []step{st}})
	p.cond.Signal()
}

// WaitAll blocks until every submitted task has finished. Failed tasks are
// not raised here; they surface in WaitUntilComputed and Stop.
func (p *Pool) WaitAll() {
	var outs []*Cell
	p.mu.Lock()
	for _, j := range p.queue {
		for _, st := range j.steps {
			outs = append(outs, st.out)
		}
	}
	for j := range p.running {
		for _, st := range j.steps {
			outs = append(outs, st.out)
		}
	}
	p.mu.Unlock()
	for _, c := range outs {
		c.awaitDone()
	}
}

// Outstanding returns the number of queued or running jobs.
func (p *Pool) Outstanding() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) + len(p.running)
}

// Stats returns the cumulative counters.
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Submitted:   p.submitted.Load(),
		Synchronous: p.synchronous.Load(),
		Merged:      p.merged.Load(),
		Completed:   p.completed.Load(),
		Failed:      p.failed.Load(),
	}
}

// VisitRoots reports every output and input of queued and running jobs.
func (p *Pool) VisitRoots(visit func(*Cell)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	each := func(j *job) {
		for _, st := range j.steps {
			visit(st.out)
			for _, in := range st.in {
				visit(in)
			}
		}
	}
	for _, j := range p.queue {
		each(j)
	}
	for j := range p.running {
		each(j)
	}
}

// work is the worker loop: take the oldest job, run it, repeat until the
// pool is closed and the queue is empty. It returns the first task failure
// it saw.
func (p *Pool) work(id int) error {
	var failed error
	for {
		p.mu.Lock()
		for len(p.queue) == 0 && !p.closed {
			p.cond.Wait()
		}
		if len(p.queue) == 0 {
			p.mu.Unlock()
			return failed
		}
		j := p.queue[0]
		p.queue[0] = nil
		p.queue = p.queue[1:]
		p.running[j] = struct{}{}
		p.mu.Unlock()

		for _, st := range j.steps {
			if err := p.runPending(id, st); err != nil && failed == nil {
				failed = err
			}
		}

		p.mu.Lock()
		delete(p.running, j)
		p.mu.Unlock()
	}
}

// runPending runs one queued step. A panicking task, or a failed input,
// leaves the output pending with the panic recorded for its waiters.
func (p *Pool) runPending(worker int, st step) (err error) {
	defer func() {
		if r := recover(); r != nil {
			st.p.failure = r
			if e, ok := r.(error); ok {
				err = fmt.Errorf("worker %d: task %q: %w", worker, st.task.Name, e)
			} else {
				err = fmt.Errorf("worker %d: task %q: %v", worker, st.task.Name, r)
			}
			p.failed.Add(1)
			p.log.Errorf("%v", err)
		}
		close(st.p.done)
	}()

	for _, in := range st.in {
		in.WaitUntilComputed()
	}
	p.runStep(worker, st)
	st.out.pending.CompareAndSwap(st.p, nil)
	return nil
}

func (p *Pool) runStep(worker int, st step) {
	if p.trace {
		p.log.Debugf("worker %d: start %s -> %s[%d]", worker, st.task.Name, st.out.typ, st.out.length)
	}
	st.task.Run(Output{c: st.out}, st.in)
	p.completed.Add(1)
	if p.trace {
		p.log.Debugf("worker %d: done %s", worker, st.task.Name)
	}
}

func containsCell(cells []*Cell, c *Cell) bool {
	for _, x := range cells {
		if x == c {
			return true
		}
	}
	return false
}
