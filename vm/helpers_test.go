package vm

import (
	"testing"
)

// ---------------------------------------------------------------------------
// Shared test helpers
// ---------------------------------------------------------------------------

func newTestHeap(t *testing.T) *Heap {
	t.Helper()
	return NewHeap(HeapOptions{DebugChecks: true})
}

func newTestRuntime(t *testing.T, workers int) *Runtime {
	t.Helper()
	opts := DefaultOptions()
	opts.Pool.Workers = workers
	rt := NewRuntime(opts)
	t.Cleanup(rt.Close)
	return rt
}

// expectFatal fails the test unless fn raises an invariant violation.
func expectFatal(t *testing.T, fn func()) *InvariantError {
	t.Helper()
	var got *InvariantError
	func() {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			e, ok := r.(*InvariantError)
			if !ok {
				panic(r)
			}
			got = e
		}()
		fn()
	}()
	if got == nil {
		t.Fatal("expected an invariant violation, got none")
	}
	return got
}

func realsEqual(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
