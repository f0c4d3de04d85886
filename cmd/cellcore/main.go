// cellcore CLI - runs a deferred-computation workload on the cell runtime
// and manages the snapshots it produces.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/cellcore/config"
	"github.com/chazu/cellcore/snapshot"
	"github.com/chazu/cellcore/store"
	"github.com/chazu/cellcore/vm"
)

func main() {
	configPath := flag.String("config", "", "Configuration file (default: nearest cellcore.toml)")
	verbose := flag.Int("v", -1, "Log verbosity, overrides [log] verbosity")
	helpers := flag.Int("helpers", -1, "Worker count, overrides [helpers] workers")
	count := flag.Int("n", 64, "Number of vectors in the workload")
	length := flag.Int("len", 1024, "Length of each vector")
	dbPath := flag.String("db", "", "Snapshot database (default: $CELLCORE_DB or ~/.cellcore/snapshots.db)")
	saveName := flag.String("save", "", "Store the workload result under this name")
	showName := flag.String("show", "", "Restore and describe a stored snapshot")
	list := flag.Bool("list", false, "List stored snapshots")
	remove := flag.String("delete", "", "Delete a stored snapshot")
	compress := flag.Bool("compress", true, "Compress saved snapshots")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: cellcore [options]\n\n")
		fmt.Fprintf(os.Stderr, "Runs a workload of deferred vector computations and reports heap and pool statistics.\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  cellcore -helpers 4 -n 256        # Run with 4 workers\n")
		fmt.Fprintf(os.Stderr, "  cellcore -save run1               # Run and store the result\n")
		fmt.Fprintf(os.Stderr, "  cellcore -show run1               # Restore and describe run1\n")
		fmt.Fprintf(os.Stderr, "  cellcore -list                    # List stored snapshots\n")
	}
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *verbose >= 0 {
		cfg.Log.Verbosity = *verbose
	}
	if *helpers >= 0 {
		cfg.Helpers.Workers = *helpers
	}
	commonlog.Configure(cfg.Log.Verbosity, nil)

	ctx := context.Background()

	switch {
	case *list:
		err = withStore(ctx, *dbPath, func(s *store.Store) error { return listSnapshots(ctx, s) })
	case *remove != "":
		err = withStore(ctx, *dbPath, func(s *store.Store) error { return s.Delete(ctx, *remove) })
	case *showName != "":
		err = withStore(ctx, *dbPath, func(s *store.Store) error { return showSnapshot(ctx, s, cfg, *showName) })
	default:
		err = run(ctx, cfg, *count, *length, *dbPath, *saveName, snapshot.Options{Compress: *compress})
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.FindAndLoad(".")
}

func withStore(ctx context.Context, path string, fn func(*store.Store) error) error {
	if path == "" {
		var err error
		if path, err = store.DefaultPath(); err != nil {
			return err
		}
	}
	s, err := store.Open(ctx, path)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

// ---------------------------------------------------------------------------
// Workload
// ---------------------------------------------------------------------------

var (
	fillTask = &vm.Task{
		Name:      "fill",
		Mergeable: true,
		Run: func(out vm.Output, _ []*vm.Cell) {
			xs := out.Reals()
			for i := range xs {
				xs[i] = float64(i)
			}
		},
	}
	scaleTask = &vm.Task{
		Name:      "scale",
		Mergeable: true,
		Run: func(out vm.Output, in []*vm.Cell) {
			src := in[0].Reals()
			xs := out.Reals()
			for i := range xs {
				xs[i] = 2 * src[i]
			}
		},
	}
)

// run submits a fill task and a dependent scale task per vector, binds the
// list of results to `results` in the global environment and waits for it.
func run(ctx context.Context, cfg *config.Config, n, length int, dbPath, saveName string, opts snapshot.Options) error {
	rt := vm.NewRuntime(cfg.Options())
	defer rt.Close()
	h := rt.Heap

	start := time.Now()
	var results *vm.Cell
	err := rt.Do(func() error {
		roots := rt.Roots()
		results = h.NewList(n)
		roots.Push(results)
		for i := 0; i < n; i++ {
			base := h.NewReal(length)
			roots.Push(base)
			rt.Pool.Submit(base, fillTask)
			scaled := h.NewReal(length)
			rt.Pool.Submit(scaled, scaleTask, base)
			results.SetElt(i, scaled)
			roots.Pop(1)
		}
		rt.GlobalEnv.Define(h.Intern("results"), results)
		roots.Pop(1)
		return nil
	})
	if err != nil {
		return err
	}

	// Reading any element waits for its producer.
	var sum float64
	for i := 0; i < results.Len(); i++ {
		v := results.Elt(i)
		v.WaitUntilComputed()
		for _, x := range v.Reals() {
			sum += x
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("workload: %d vectors of %d, sum %g, %v\n", n, length, sum, elapsed)
	printStats(rt)

	if saveName == "" {
		return nil
	}
	return withStore(ctx, dbPath, func(s *store.Store) error {
		snap := snapshot.Capture(results)
		if err := s.Save(ctx, saveName, snap, opts); err != nil {
			return err
		}
		fmt.Printf("saved %q: %s, %d cells\n", saveName, snap.ID, snap.Cells())
		return nil
	})
}

func printStats(rt *vm.Runtime) {
	hs := rt.Heap.Stats()
	ps := rt.Pool.Stats()
	fmt.Printf("heap: %d cells, %d bytes, next collection at %d, %d collections\n",
		hs.Cells, hs.Bytes, hs.Trigger, hs.Collections)
	fmt.Printf("      %d symbols, %d chars, %d weak refs, %d preserved\n",
		hs.Symbols, hs.Chars, hs.WeakRefs, hs.Preserved)
	if gc := rt.Heap.LastGC(); gc != nil {
		fmt.Printf("last gc: %+v\n", *gc)
	}
	fmt.Printf("pool: %d workers, %d submitted, %d synchronous, %d merged, %d completed, %d failed\n",
		rt.Pool.Workers(), ps.Submitted, ps.Synchronous, ps.Merged, ps.Completed, ps.Failed)
}

// ---------------------------------------------------------------------------
// Snapshots
// ---------------------------------------------------------------------------

func listSnapshots(ctx context.Context, s *store.Store) error {
	entries, err := s.List(ctx)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Printf("no snapshots in %s\n", s.Path())
		return nil
	}
	fmt.Printf("Snapshots in %s\n", s.Path())
	fmt.Println("===============")
	for _, e := range entries {
		fmt.Printf("  %-20s %s  %6d cells  %8d bytes  %s\n",
			e.Name, e.ID, e.Cells, e.Size, e.Created.Format(time.RFC3339))
	}
	return nil
}

func showSnapshot(ctx context.Context, s *store.Store, cfg *config.Config, name string) error {
	snap, err := s.Load(ctx, name)
	if err != nil {
		return err
	}
	rt := vm.NewRuntime(cfg.Options())
	defer rt.Close()

	return rt.Do(func() error {
		roots, err := snap.Restore(rt.Heap)
		if err != nil {
			return err
		}
		rt.Roots().Protect(roots...)
		defer rt.Roots().Pop(len(roots))

		fmt.Printf("Snapshot: %s\n", name)
		fmt.Printf("ID: %s\n", snap.ID)
		fmt.Printf("Created: %s\n", snap.Created.Format(time.RFC3339))
		fmt.Printf("Checksum: %016x\n", snap.Checksum)
		fmt.Printf("Cells: %d\n", snap.Cells())
		for i, r := range roots {
			fmt.Printf("root %d: %s\n", i, vm.Describe(r))
			if r.Type() == vm.ListType {
				for j := 0; j < r.Len() && j < 8; j++ {
					fmt.Printf("  [%d] %s\n", j, vm.Describe(r.Elt(j)))
				}
			}
		}
		printStats(rt)
		return nil
	})
}
