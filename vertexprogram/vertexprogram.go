// Package vertexprogram defines the user contract (§6): the interface a
// caller implements to describe what happens to a single vertex on each
// level it is activated, plus the handle that contract is given back into
// the engine through.
package vertexprogram

import (
	"github.com/outofforest/strata/pagevertex"
	"github.com/outofforest/strata/types"
)

// Engine is the set of engine operations a vertex program is allowed to
// call back into (§6 "Engine-facing operations exposed to user code").
// The concrete *worker.Worker[S] running the program satisfies this; it is
// expressed here as an interface so this package never imports worker or
// engine, keeping the dependency direction worker/engine -> vertexprogram,
// not the reverse.
type Engine[S any] interface {
	// ActivateVertex sets id's next-bit, making it runnable starting the
	// following level.
	ActivateVertex(id types.VertexID)
	// ActivateVertices activates every id in ids.
	ActivateVertices(ids []types.VertexID)
	// SendMsg delivers payload to dest, visible on the following level.
	SendMsg(dest types.VertexID, payload []byte)
	// MulticastMsg delivers payload to every id in ids under one
	// aggregated send.
	MulticastMsg(ids []types.VertexID, payload []byte)
	// GetVertex returns the user state for id. Read-only when id is not
	// owned by the calling worker (§6): the caller is responsible for not
	// racing with that owner's writes.
	GetVertex(id types.VertexID) *S
	// Level returns the level currently executing.
	Level() types.Level
}

// Request describes one adjacency range a vertex program wants fetched,
// the same shape the I/O queue resolves (§4.6 get_next_request).
type Request struct {
	Offset         uint64
	Length         uint32
	CompletionKind types.CompletionKind
}

// Program is the per-vertex contract a caller supplies (§6). A Program
// value is scoped to one vertex's dispatch across the levels it is
// activated for; the worker constructs or reuses one per vertex id.
type Program[S any] interface {
	// PreRun asks whether the worker should fetch this vertex's own
	// adjacency list. When it returns false, OnSelf is never called and
	// the program proceeds straight to the has-required-vertices check.
	PreRun(engine Engine[S]) bool
	// OnSelf is invoked once the vertex's own adjacency page has been
	// delivered. It returns true iff the program has no further I/O this
	// level.
	OnSelf(engine Engine[S], self *pagevertex.PageVertex) bool
	// OnNeighbors is invoked once the page(s) requested by GetNextRequest
	// have been delivered. It returns true iff the program has no further
	// I/O this level.
	OnNeighbors(engine Engine[S], neighbors []*pagevertex.PageVertex) bool
	// OnMessage is invoked whenever messages addressed to this vertex
	// arrive, independent of the I/O state the program is in.
	OnMessage(engine Engine[S], msgs []types.Message)
	// HasRequiredVertices reports whether GetNextRequest has at least one
	// more range to fetch. The program declares completion by eventually
	// returning false.
	HasRequiredVertices() bool
	// GetNextRequest returns the next adjacency range to fetch. Called
	// only while HasRequiredVertices is true.
	GetNextRequest(engine Engine[S]) Request
}

// Scheduler reorders a worker's batch of ready vertex ids before dispatch
// (§6 "Scheduler hook"). Implementing it is optional; a worker that is not
// given one processes ids in ascending order (§4.6 tie-break rule).
type Scheduler interface {
	Schedule(ids []types.VertexID)
}

// Base supplies the common defaults (§6: "pre_run... optional; default
// true") so a program only needs to implement the methods it cares about.
// Embed it and override what differs.
type Base[S any] struct{}

// PreRun defaults to true: fetch the vertex's own adjacency every time it
// runs.
func (Base[S]) PreRun(Engine[S]) bool { return true }

// OnMessage defaults to ignoring messages.
func (Base[S]) OnMessage(Engine[S], []types.Message) {}

// OnNeighbors defaults to declaring completion. Only reachable if a program
// overrides HasRequiredVertices to return true without also overriding
// OnNeighbors.
func (Base[S]) OnNeighbors(Engine[S], []*pagevertex.PageVertex) bool { return true }

// HasRequiredVertices defaults to false: no auxiliary neighbor fetches.
func (Base[S]) HasRequiredVertices() bool { return false }

// GetNextRequest is never called while HasRequiredVertices returns false;
// the default panics if a program forgets to override one without the
// other.
func (Base[S]) GetNextRequest(Engine[S]) Request {
	panic("vertexprogram: GetNextRequest called but HasRequiredVertices was never overridden to return true")
}
