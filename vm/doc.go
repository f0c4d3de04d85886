// Package vm implements the value core of the cellcore runtime.
//
// This package contains:
//   - Cells tagged with a Type, their payloads and attribute lists
//   - The heap: allocation, byte accounting and a mark/sweep collector
//   - The root stack protecting cells held by native code
//   - Saturating sharing counts and copy-on-write helpers
//   - Deep and top-level duplication and bulk element copies
//   - Environments, symbols and weak references with finalizers
//   - A worker pool computing pending cells in the background
//   - Flattening a cell graph for serialization, and restoring it
//
// A Runtime owns one heap and is driven by a single goroutine; the pool's
// workers only ever write through an Output.
package vm
