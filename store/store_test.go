package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/chazu/cellcore/snapshot"
	"github.com/chazu/cellcore/vm"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), filepath.Join(t.TempDir(), "db", "snapshots.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func captureSample(t *testing.T, vals ...float64) *snapshot.Snapshot {
	t.Helper()
	rt := vm.NewRuntime(vm.DefaultOptions())
	defer rt.Close()
	v := rt.Heap.Reals(vals...)
	rt.Roots().Push(v)
	defer rt.Roots().Pop(1)
	return snapshot.Capture(rt.Heap.List(v, v))
}

func TestSaveLoad(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	snap := captureSample(t, 1, 2, 3)

	if err := s.Save(ctx, "first", snap, snapshot.Options{Compress: true}); err != nil {
		t.Fatalf("Save: %v", err)
	}
	got, err := s.Load(ctx, "first")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if got.ID != snap.ID || got.Checksum != snap.Checksum {
		t.Errorf("got %s/%x, want %s/%x", got.ID, got.Checksum, snap.ID, snap.Checksum)
	}

	rt := vm.NewRuntime(vm.DefaultOptions())
	defer rt.Close()
	roots, err := got.Restore(rt.Heap)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	l := roots[0]
	if l.Elt(0) != l.Elt(1) || l.Elt(0).Reals()[2] != 3 {
		t.Errorf("restored %s", vm.Describe(l))
	}
}

func TestSaveReplaces(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	a := captureSample(t, 1)
	b := captureSample(t, 2)

	if err := s.Save(ctx, "x", a, snapshot.Options{}); err != nil {
		t.Fatal(err)
	}
	if err := s.Save(ctx, "x", b, snapshot.Options{}); err != nil {
		t.Fatal(err)
	}
	got, err := s.Load(ctx, "x")
	if err != nil {
		t.Fatal(err)
	}
	if got.ID != b.ID {
		t.Errorf("ID = %s, want the replacement %s", got.ID, b.ID)
	}
}

func TestListAndDelete(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	for _, name := range []string{"beta", "alpha"} {
		if err := s.Save(ctx, name, captureSample(t, 1, 2), snapshot.Options{}); err != nil {
			t.Fatal(err)
		}
	}

	entries, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(entries) != 2 || entries[0].Name != "alpha" || entries[1].Name != "beta" {
		t.Fatalf("entries = %+v", entries)
	}
	if entries[0].Cells != 2 || entries[0].Size == 0 {
		t.Errorf("alpha: cells=%d size=%d", entries[0].Cells, entries[0].Size)
	}

	if err := s.Delete(ctx, "alpha"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if err := s.Delete(ctx, "alpha"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete: err = %v, want ErrNotFound", err)
	}
	if _, err := s.Load(ctx, "alpha"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Load after Delete: err = %v, want ErrNotFound", err)
	}
	entries, _ = s.List(ctx)
	if len(entries) != 1 {
		t.Errorf("len(entries) = %d, want 1", len(entries))
	}
}

func TestSaveRejectsEmptyName(t *testing.T) {
	s := openTestStore(t)
	if err := s.Save(context.Background(), "", captureSample(t, 1), snapshot.Options{}); err == nil {
		t.Error("empty name should be rejected")
	}
}

func TestReopenKeepsData(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "snapshots.db")
	s, err := Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	snap := captureSample(t, 5)
	if err := s.Save(ctx, "kept", snap, snapshot.Options{}); err != nil {
		t.Fatal(err)
	}
	s.Close()

	s, err = Open(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	got, err := s.Load(ctx, "kept")
	if err != nil {
		t.Fatalf("Load after reopen: %v", err)
	}
	if got.ID != snap.ID {
		t.Errorf("ID = %s, want %s", got.ID, snap.ID)
	}
}
