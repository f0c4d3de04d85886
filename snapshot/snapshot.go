// Package snapshot captures cell graphs into a self-checking byte format and
// restores them into a heap.
package snapshot

import (
	"time"

	"github.com/google/uuid"
	"github.com/tliron/commonlog"

	"github.com/chazu/cellcore/vm"
)

var log = commonlog.GetLogger("cellcore.snapshot")

// Snapshot is a captured cell graph plus its identity.
type Snapshot struct {
	ID      uuid.UUID
	Created time.Time

	// Checksum is the xxh3 hash of the stored payload. It is set by Marshal
	// and verified by Unmarshal.
	Checksum uint64

	Graph *vm.Graph
}

// Capture flattens everything reachable from roots. Pending cells are
// waited on first, so a snapshot never observes a partial result.
func Capture(roots ...*vm.Cell) *Snapshot {
	return &Snapshot{
		ID:      uuid.New(),
		Created: time.Now().UTC(),
		Graph:   vm.Flatten(roots...),
	}
}

// Cells returns the number of distinct cells in the snapshot.
func (s *Snapshot) Cells() int {
	return len(s.Graph.Nodes)
}

// Restore rebuilds the snapshot in h and returns its roots, which the
// caller must root before allocating again.
func (s *Snapshot) Restore(h *vm.Heap) ([]*vm.Cell, error) {
	roots, err := h.Restore(s.Graph)
	if err != nil {
		return nil, err
	}
	log.Debugf("restored snapshot %s: %d cells", s.ID, s.Cells())
	return roots, nil
}
