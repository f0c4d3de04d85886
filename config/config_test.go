package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/chazu/cellcore/vm"
)

func writeConfig(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[heap]
gc_threshold = 65536
growth = 1.5
max_bytes = 1048576
protect_limit = 1000
debug_checks = false

[sharing]
max = 3
fast_attributes = ["names", "class"]

[helpers]
workers = 4
merge = false
trace = true

[log]
verbosity = 2
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if c.Heap.GCThreshold != 65536 {
		t.Errorf("gc_threshold = %d, want 65536", c.Heap.GCThreshold)
	}
	if c.Heap.Growth != 1.5 {
		t.Errorf("growth = %v, want 1.5", c.Heap.Growth)
	}
	if c.Heap.MaxBytes != 1048576 {
		t.Errorf("max_bytes = %d, want 1048576", c.Heap.MaxBytes)
	}
	if c.Heap.ProtectLimit != 1000 {
		t.Errorf("protect_limit = %d, want 1000", c.Heap.ProtectLimit)
	}
	if c.Heap.DebugChecks {
		t.Error("debug_checks = true, want false")
	}
	if c.Sharing.Max != 3 {
		t.Errorf("sharing max = %d, want 3", c.Sharing.Max)
	}
	if len(c.Sharing.FastAttributes) != 2 || c.Sharing.FastAttributes[1] != "class" {
		t.Errorf("fast_attributes = %v, want [names class]", c.Sharing.FastAttributes)
	}
	if c.Helpers.Workers != 4 || c.Helpers.Merge || !c.Helpers.Trace {
		t.Errorf("helpers = %+v", c.Helpers)
	}
	if c.Log.Verbosity != 2 {
		t.Errorf("verbosity = %d, want 2", c.Log.Verbosity)
	}
	if c.Path != filepath.Join(dir, FileName) {
		t.Errorf("path = %q", c.Path)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, `
[helpers]
workers = 2
`)

	c, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Helpers.Workers != 2 {
		t.Errorf("workers = %d, want 2", c.Helpers.Workers)
	}
	if !c.Helpers.Merge {
		t.Error("merge should default to true")
	}
	if !c.Heap.DebugChecks {
		t.Error("debug_checks should default to true")
	}
	if c.Sharing.Max != vm.DefaultSharingMax {
		t.Errorf("sharing max = %d, want %d", c.Sharing.Max, vm.DefaultSharingMax)
	}
	if c.Heap.ProtectLimit != vm.DefaultProtectLimit {
		t.Errorf("protect_limit = %d, want %d", c.Heap.ProtectLimit, vm.DefaultProtectLimit)
	}
}

func TestLoadConfigMissing(t *testing.T) {
	_, err := Load(t.TempDir())
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestParseRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"syntax", "[heap\n", ""},
		{"unknown key", "[heap]\ncolour = 1\n", "unknown keys"},
		{"sharing max too large", "[sharing]\nmax = 300\n", "invalid configuration"},
		{"negative workers", "[helpers]\nworkers = -1\n", "invalid configuration"},
		{"growth below one", "[heap]\ngrowth = 0.5\n", "invalid configuration"},
		{"bad attribute name", "[sharing]\nfast_attributes = [\"1x\"]\n", "invalid configuration"},
		{"too many fast attributes", "[sharing]\nfast_attributes = [\"a\",\"b\",\"c\",\"d\",\"e\",\"f\",\"g\",\"h\",\"i\"]\n", "at most 8"},
		{"duplicate fast attribute", "[sharing]\nfast_attributes = [\"names\", \"names\"]\n", "listed twice"},
		{"limit below threshold", "[heap]\ngc_threshold = 65536\nmax_bytes = 4096\n", "below heap.gc_threshold"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if tt.want != "" && !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestDefaultValidates(t *testing.T) {
	if err := Default().Validate(); err != nil {
		t.Fatalf("defaults do not validate: %v", err)
	}
}

func TestFindAndLoad(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "[helpers]\nworkers = 3\n")

	sub := filepath.Join(root, "a", "b")
	if err := os.MkdirAll(sub, 0755); err != nil {
		t.Fatal(err)
	}

	c, err := FindAndLoad(sub)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Helpers.Workers != 3 {
		t.Errorf("workers = %d, want 3", c.Helpers.Workers)
	}
}

func TestFindAndLoadNoFile(t *testing.T) {
	c, err := FindAndLoad(t.TempDir())
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if c.Path != "" || c.Helpers.Workers != 0 {
		t.Errorf("expected defaults, got %+v", c)
	}
}

func TestOptions(t *testing.T) {
	c := Default()
	c.Helpers.Workers = 3
	c.Sharing.Max = 2
	c.Heap.MaxBytes = 1 << 30

	opts := c.Options()
	if opts.Pool.Workers != 3 || !opts.Pool.Merge {
		t.Errorf("pool options = %+v", opts.Pool)
	}
	if opts.Heap.SharingMax != 2 || opts.Heap.MaxBytes != 1<<30 || !opts.Heap.DebugChecks {
		t.Errorf("heap options = %+v", opts.Heap)
	}

	rt := vm.NewRuntime(opts)
	defer rt.Close()
	if rt.Heap.SharingMax() != 2 || rt.Pool.Workers() != 3 {
		t.Error("runtime ignored the configured options")
	}
}
