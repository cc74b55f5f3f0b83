// Package partition implements the pure, total mapping from a vertex id to
// the worker that owns it.
package partition

import "github.com/outofforest/strata/types"

// Partitioner maps a vertex id to the index of the worker that owns it. The
// mapping must be pure and stable for a given (vertex count, worker count)
// pair for the life of an engine instance.
type Partitioner interface {
	Map(id types.VertexID) types.WorkerIndex
	NumWorkers() uint32
}

// Striped is the default partitioner. It stripes the id space over workers
// so that consecutive ids land in distinct workers, improving I/O
// parallelism on locally clustered adjacencies.
type Striped struct {
	numWorkers uint32
}

// NewStriped creates a Striped partitioner over numWorkers workers.
// numWorkers must be at least 1.
func NewStriped(numWorkers uint32) *Striped {
	if numWorkers == 0 {
		numWorkers = 1
	}
	return &Striped{numWorkers: numWorkers}
}

// Map returns id mod NumWorkers.
func (p *Striped) Map(id types.VertexID) types.WorkerIndex {
	return types.WorkerIndex(uint32(id) % p.numWorkers)
}

// NumWorkers returns the number of workers this partitioner was built for.
func (p *Striped) NumWorkers() uint32 {
	return p.numWorkers
}
