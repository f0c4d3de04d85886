package config

import (
	_ "embed"
	"fmt"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
)

//go:embed schema.cue
var schemaSource string

// maxFastAttributes matches the width of a cell's attribute presence mask.
const maxFastAttributes = 8

// loadSchema compiles the embedded schema. Each call gets its own context;
// a cue.Context must not be used concurrently.
func loadSchema() (*cue.Context, cue.Value, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := v.Err(); err != nil {
		return nil, cue.Value{}, fmt.Errorf("config schema: %w", err)
	}
	def := v.LookupPath(cue.ParsePath("#Config"))
	return ctx, def, def.Err()
}

// Validate checks c against the configuration schema, plus the cross-field
// rules the schema cannot express.
func (c *Config) Validate() error {
	ctx, def, err := loadSchema()
	if err != nil {
		return err
	}

	v := def.Unify(ctx.Encode(c))
	if err := v.Validate(cue.Concrete(true)); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if n := len(c.Sharing.FastAttributes); n > maxFastAttributes {
		return fmt.Errorf("invalid configuration: %d fast attributes, at most %d allowed", n, maxFastAttributes)
	}
	seen := make(map[string]bool, len(c.Sharing.FastAttributes))
	for _, name := range c.Sharing.FastAttributes {
		if seen[name] {
			return fmt.Errorf("invalid configuration: fast attribute %q listed twice", name)
		}
		seen[name] = true
	}
	if c.Heap.MaxBytes > 0 && c.Heap.MaxBytes < c.Heap.GCThreshold {
		return fmt.Errorf("invalid configuration: heap.max_bytes %d below heap.gc_threshold %d",
			c.Heap.MaxBytes, c.Heap.GCThreshold)
	}
	return nil
}
