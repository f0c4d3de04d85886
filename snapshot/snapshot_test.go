package snapshot

import (
	"errors"
	"testing"

	"github.com/chazu/cellcore/vm"
)

func sampleRuntime(t *testing.T) (*vm.Runtime, *vm.Cell) {
	t.Helper()
	rt := vm.NewRuntime(vm.DefaultOptions())
	t.Cleanup(rt.Close)
	h := rt.Heap

	v := h.Reals(1, 2, vm.NAReal)
	rt.Roots().Push(v)
	l := h.List(v, v, h.Strings("x"))
	rt.Roots().Pop(1)
	rt.GlobalEnv.Define(h.Intern("l"), l)
	return rt, l
}

func TestMarshalRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		_, l := sampleRuntime(t)
		s := Capture(l)

		data, err := Marshal(s, Options{Compress: compress})
		if err != nil {
			t.Fatalf("compress=%v: Marshal: %v", compress, err)
		}
		if s.Checksum == 0 {
			t.Error("Marshal should record the checksum")
		}

		got, err := Unmarshal(data)
		if err != nil {
			t.Fatalf("compress=%v: Unmarshal: %v", compress, err)
		}
		if got.ID != s.ID {
			t.Errorf("ID = %s, want %s", got.ID, s.ID)
		}
		if !got.Created.Equal(s.Created) {
			t.Errorf("Created = %v, want %v", got.Created, s.Created)
		}
		if got.Cells() != s.Cells() {
			t.Errorf("Cells() = %d, want %d", got.Cells(), s.Cells())
		}

		dst := vm.NewRuntime(vm.DefaultOptions())
		roots, err := got.Restore(dst.Heap)
		if err != nil {
			t.Fatalf("Restore: %v", err)
		}
		r := roots[0]
		if r.Elt(0) != r.Elt(1) {
			t.Error("shared element restored twice")
		}
		if !vm.IsNAReal(r.Elt(0).Reals()[2]) {
			t.Error("NA payload lost on the wire")
		}
		if r.Elt(2).String(0) != "x" {
			t.Error("string element lost")
		}
		dst.Close()
	}
}

func TestCaptureIsDeterministic(t *testing.T) {
	_, l := sampleRuntime(t)
	s := Capture(l)
	a, err := Marshal(s, Options{})
	if err != nil {
		t.Fatal(err)
	}
	b, err := Marshal(s, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if string(a) != string(b) {
		t.Error("canonical encoding should be byte-for-byte stable")
	}
}

func TestCaptureWaitsForPending(t *testing.T) {
	opts := vm.DefaultOptions()
	opts.Pool.Workers = 1
	rt := vm.NewRuntime(opts)
	defer rt.Close()

	out := rt.Heap.NewReal(4)
	rt.Roots().Push(out)
	defer rt.Roots().Pop(1)

	release := make(chan struct{})
	rt.Pool.Submit(out, &vm.Task{Name: "iota", Run: func(o vm.Output, _ []*vm.Cell) {
		<-release
		for i := range o.Reals() {
			o.Reals()[i] = float64(i)
		}
	}})
	close(release)

	s := Capture(out)
	data, err := Marshal(s, Options{Compress: true})
	if err != nil {
		t.Fatal(err)
	}
	got, err := Unmarshal(data)
	if err != nil {
		t.Fatal(err)
	}
	roots, err := got.Restore(rt.Heap)
	if err != nil {
		t.Fatal(err)
	}
	if roots[0].Reals()[3] != 3 {
		t.Errorf("restored element 3 = %v, want 3", roots[0].Reals()[3])
	}
}

func TestUnmarshalRejects(t *testing.T) {
	_, l := sampleRuntime(t)
	data, err := Marshal(Capture(l), Options{})
	if err != nil {
		t.Fatal(err)
	}

	// Flip a byte near the end, inside the payload.
	damaged := append([]byte(nil), data...)
	damaged[len(damaged)-2] ^= 0xff
	if _, err := Unmarshal(damaged); !errors.Is(err, ErrChecksum) {
		t.Errorf("damaged payload: err = %v, want ErrChecksum", err)
	}

	foreign, err := cborEncMode.Marshal(&envelope{Magic: "other", Version: Version})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(foreign); !errors.Is(err, ErrBadMagic) {
		t.Errorf("foreign data: err = %v, want ErrBadMagic", err)
	}

	future, err := cborEncMode.Marshal(&envelope{Magic: magic, Version: Version + 1})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := Unmarshal(future); !errors.Is(err, ErrVersion) {
		t.Errorf("future version: err = %v, want ErrVersion", err)
	}

	if _, err := Unmarshal([]byte("not cbor")); err == nil {
		t.Error("garbage should not decode")
	}
}
