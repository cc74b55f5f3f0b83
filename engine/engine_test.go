package engine_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/outofforest/strata/engine"
	"github.com/outofforest/strata/examples/bfs"
	"github.com/outofforest/strata/examples/pagerank"
	"github.com/outofforest/strata/index"
	"github.com/outofforest/strata/ioqueue"
	"github.com/outofforest/strata/pagevertex"
	"github.com/outofforest/strata/partition"
	"github.com/outofforest/strata/store"
	"github.com/outofforest/strata/types"
	"github.com/outofforest/strata/vertexprogram"
)

// neighborSpec is one adjacency record for buildGraph: a neighbor id tagged
// with the direction it is stored under (ignored for undirected graphs).
type neighborSpec struct {
	id  uint32
	dir types.Direction
}

func putU32(b []byte, v uint32) {
	b[0] = byte(v)
	b[1] = byte(v >> 8)
	b[2] = byte(v >> 16)
	b[3] = byte(v >> 24)
}

func putU64(b []byte, v uint64) {
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
}

// buildGraph lays out adjacency (indexed by vertex id, in ascending id
// order) into an on-disk graph file and a matching index file, then builds
// an Index[S] over them.
func buildGraph[S any](
	t *testing.T, directed bool, adjacency [][]neighborSpec, newState func(types.VertexID) S,
) (*index.Index[S], *store.MemoryStore) {
	t.Helper()

	var graphBytes []byte
	offsets := make([]uint64, len(adjacency))
	lengths := make([]uint32, len(adjacency))
	for i, neighbors := range adjacency {
		offsets[i] = uint64(len(graphBytes))
		for _, nb := range neighbors {
			rec := make([]byte, 8)
			putU32(rec[0:4], nb.id)
			rec[4] = byte(nb.dir)
			graphBytes = append(graphBytes, rec...)
		}
		lengths[i] = uint32(len(neighbors) * 8)
	}
	graphStore := store.NewMemoryStore(graphBytes)

	idxBytes := make([]byte, 32)
	if directed {
		idxBytes[0] = 1
	}
	putU64(idxBytes[8:16], uint64(len(adjacency)))
	for i := range adjacency {
		rec := make([]byte, 24)
		putU32(rec[0:4], uint32(i))
		putU64(rec[8:16], offsets[i])
		putU32(rec[16:20], lengths[i])
		idxBytes = append(idxBytes, rec...)
	}

	ix, err := index.New[S](store.NewMemoryStore(idxBytes), newState)
	require.NoError(t, err)
	return ix, graphStore
}

// runEngine drives e to completion within timeout, failing the test if it
// does not terminate in time.
func runEngine[S any](t *testing.T, e *engine.Engine[S], timeout time.Duration) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- e.Wait4Complete(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(timeout + time.Second):
		t.Fatal("engine did not terminate in time")
	}
}

func newReader(t *testing.T, s *store.MemoryStore) ioqueue.Reader {
	t.Helper()
	r, err := ioqueue.NewStoreReader(context.Background(), s, 2)
	require.NoError(t, err)
	t.Cleanup(func() { _ = r.Close() })
	return r
}

// countState counts how many times OnSelf has dispatched for this vertex.
type countState struct {
	selfCalls int
}

type countProgram struct {
	vertexprogram.Base[countState]
	id types.VertexID
}

func (p *countProgram) OnSelf(e vertexprogram.Engine[countState], _ *pagevertex.PageVertex) bool {
	e.GetVertex(p.id).selfCalls++
	return true
}

func TestSingleVertexNoEdgesTerminatesAfterOneDispatch(t *testing.T) {
	ix, graphStore := buildGraph[countState](t, false, [][]neighborSpec{{}}, func(types.VertexID) countState {
		return countState{}
	})
	reader := newReader(t, graphStore)

	e := engine.New[countState](
		partition.NewStriped(1), ix, reader, ioqueue.Config{MaxOutstanding: 8},
		func(id types.VertexID) vertexprogram.Program[countState] { return &countProgram{id: id} }, nil, false,
	)
	e.Start([]types.VertexID{0})
	runEngine(t, e, 2*time.Second)

	require.Equal(t, 1, ix.Vertex(0).selfCalls)
}

func TestTriangleUndirectedBFSFromZero(t *testing.T) {
	adjacency := [][]neighborSpec{
		{{id: 1, dir: types.Both}, {id: 2, dir: types.Both}},
		{{id: 0, dir: types.Both}, {id: 2, dir: types.Both}},
		{{id: 0, dir: types.Both}, {id: 1, dir: types.Both}},
	}
	ix, graphStore := buildGraph[bfs.State](t, false, adjacency, bfs.NewState)
	reader := newReader(t, graphStore)

	e := engine.New[bfs.State](
		partition.NewStriped(2), ix, reader, ioqueue.Config{MaxOutstanding: 8}, bfs.New, nil, false,
	)
	e.Start([]types.VertexID{0})
	runEngine(t, e, 3*time.Second)

	require.EqualValues(t, 0, ix.Vertex(0).Distance)
	require.EqualValues(t, 1, ix.Vertex(1).Distance)
	require.EqualValues(t, 1, ix.Vertex(2).Distance)
}

func TestLineGraphDirectedBFSFromZero(t *testing.T) {
	adjacency := [][]neighborSpec{
		{{id: 1, dir: types.Out}},
		{{id: 2, dir: types.Out}},
		{{id: 3, dir: types.Out}},
		{},
	}
	ix, graphStore := buildGraph[bfs.State](t, true, adjacency, bfs.NewState)
	reader := newReader(t, graphStore)

	e := engine.New[bfs.State](
		partition.NewStriped(2), ix, reader, ioqueue.Config{MaxOutstanding: 8}, bfs.New, nil, false,
	)
	e.Start([]types.VertexID{0})
	runEngine(t, e, 3*time.Second)

	require.EqualValues(t, 0, ix.Vertex(0).Distance)
	require.EqualValues(t, 1, ix.Vertex(1).Distance)
	require.EqualValues(t, 2, ix.Vertex(2).Distance)
	require.EqualValues(t, 3, ix.Vertex(3).Distance)
}

func TestPageRankTwoVertexCycleConverges(t *testing.T) {
	adjacency := [][]neighborSpec{
		{{id: 1, dir: types.Out}},
		{{id: 0, dir: types.Out}},
	}
	cfg := pagerank.Config{Damping: 0.85, Tolerance: 1e-4}
	ix, graphStore := buildGraph[pagerank.State](t, true, adjacency, pagerank.NewState)
	reader := newReader(t, graphStore)

	e := engine.New[pagerank.State](
		partition.NewStriped(1), ix, reader, ioqueue.Config{MaxOutstanding: 8}, pagerank.New(cfg), nil, false,
	)
	e.StartAll()
	runEngine(t, e, 3*time.Second)

	require.InDelta(t, 1.0, ix.Vertex(0).Rank, 0.05)
	require.InDelta(t, 1.0, ix.Vertex(1).Rank, 0.05)
}

func TestIsolatedVertexOnlyDispatchesWhenExplicitlyActivated(t *testing.T) {
	adjacency := make([][]neighborSpec, 10)
	ix, graphStore := buildGraph[countState](t, false, adjacency, func(types.VertexID) countState {
		return countState{}
	})
	reader := newReader(t, graphStore)

	e := engine.New[countState](
		partition.NewStriped(1), ix, reader, ioqueue.Config{MaxOutstanding: 8},
		func(id types.VertexID) vertexprogram.Program[countState] { return &countProgram{id: id} }, nil, false,
	)
	e.Start([]types.VertexID{5})
	runEngine(t, e, 2*time.Second)

	for id := 0; id < 10; id++ {
		want := 0
		if id == 5 {
			want = 1
		}
		require.Equal(t, want, ix.Vertex(types.VertexID(id)).selfCalls, "vertex %d", id)
	}
}

// stormState counts how many messages this vertex has received.
type stormState struct {
	received int
}

// stormProgram has every vertex multicast a marker to every other vertex on
// level 0, then stop.
type stormProgram struct {
	vertexprogram.Base[stormState]
	id uint32
	n  int
}

func (p *stormProgram) PreRun(e vertexprogram.Engine[stormState]) bool {
	if e.Level() == 0 {
		dests := make([]types.VertexID, 0, p.n-1)
		for i := 0; i < p.n; i++ {
			if uint32(i) != p.id {
				dests = append(dests, types.VertexID(i))
			}
		}
		e.ActivateVertices(dests)
		e.MulticastMsg(dests, nil)
	}
	return false
}

func (p *stormProgram) OnSelf(vertexprogram.Engine[stormState], *pagevertex.PageVertex) bool {
	return true
}

func (p *stormProgram) OnMessage(e vertexprogram.Engine[stormState], msgs []types.Message) {
	e.GetVertex(types.VertexID(p.id)).received += len(msgs)
}

func (p *stormProgram) HasRequiredVertices() bool { return false }

func TestMessageStormDeliversNSquaredMinusNMessages(t *testing.T) {
	const n = 5
	adjacency := make([][]neighborSpec, n)
	ix, graphStore := buildGraph[stormState](t, false, adjacency, func(types.VertexID) stormState {
		return stormState{}
	})
	reader := newReader(t, graphStore)

	programFactory := func(id types.VertexID) vertexprogram.Program[stormState] {
		return &stormProgram{id: uint32(id), n: n}
	}

	e := engine.New[stormState](
		partition.NewStriped(1), ix, reader, ioqueue.Config{MaxOutstanding: 8}, programFactory, nil, false,
	)
	e.StartAll()
	runEngine(t, e, 3*time.Second)

	var total int
	for id := 0; id < n; id++ {
		total += ix.Vertex(types.VertexID(id)).received
	}
	require.Equal(t, n*(n-1), total)
}

// msgOnlyProgram has vertex 0 send vertex 1 a message on level 0 without
// activating it, then stop.
type msgOnlyProgram struct {
	vertexprogram.Base[stormState]
	id types.VertexID
}

func (p *msgOnlyProgram) PreRun(e vertexprogram.Engine[stormState]) bool {
	if p.id == 0 && e.Level() == 0 {
		e.SendMsg(1, nil)
	}
	return false
}

func (p *msgOnlyProgram) OnSelf(vertexprogram.Engine[stormState], *pagevertex.PageVertex) bool {
	return true
}

func (p *msgOnlyProgram) OnMessage(e vertexprogram.Engine[stormState], msgs []types.Message) {
	e.GetVertex(p.id).received += len(msgs)
}

func (p *msgOnlyProgram) HasRequiredVertices() bool { return false }

func TestMessageDeliveredToVertexNotAlsoActivated(t *testing.T) {
	adjacency := make([][]neighborSpec, 2)
	ix, graphStore := buildGraph[stormState](t, false, adjacency, func(types.VertexID) stormState {
		return stormState{}
	})
	reader := newReader(t, graphStore)

	programFactory := func(id types.VertexID) vertexprogram.Program[stormState] {
		return &msgOnlyProgram{id: id}
	}

	e := engine.New[stormState](
		partition.NewStriped(1), ix, reader, ioqueue.Config{MaxOutstanding: 8}, programFactory, nil, false,
	)
	e.Start([]types.VertexID{0})
	runEngine(t, e, 2*time.Second)

	require.Equal(t, 1, ix.Vertex(types.VertexID(1)).received,
		"a message sent to a vertex must be delivered even when the sender never activates that vertex")
}

// violatingProgram claims a required neighbor fetch but names an empty
// range, a POST_SELF protocol violation (§7 ProtocolError) rather than a
// legitimate zero-length read.
type violatingProgram struct {
	vertexprogram.Base[countState]
}

func (violatingProgram) OnSelf(vertexprogram.Engine[countState], *pagevertex.PageVertex) bool {
	return false
}
func (violatingProgram) HasRequiredVertices() bool { return true }
func (violatingProgram) GetNextRequest(vertexprogram.Engine[countState]) vertexprogram.Request {
	return vertexprogram.Request{}
}

func TestProtocolViolationAbortsEngineInStrictMode(t *testing.T) {
	ix, graphStore := buildGraph[countState](t, false, [][]neighborSpec{{}}, func(types.VertexID) countState {
		return countState{}
	})
	reader := newReader(t, graphStore)

	e := engine.New[countState](
		partition.NewStriped(1), ix, reader, ioqueue.Config{MaxOutstanding: 8},
		func(types.VertexID) vertexprogram.Program[countState] { return violatingProgram{} }, nil, true,
	)
	e.Start([]types.VertexID{0})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	err := e.Wait4Complete(ctx)
	require.Error(t, err)
}

func TestProtocolViolationSkipsVertexWhenNotStrict(t *testing.T) {
	ix, graphStore := buildGraph[countState](t, false, [][]neighborSpec{{}}, func(types.VertexID) countState {
		return countState{}
	})
	reader := newReader(t, graphStore)

	e := engine.New[countState](
		partition.NewStriped(1), ix, reader, ioqueue.Config{MaxOutstanding: 8},
		func(types.VertexID) vertexprogram.Program[countState] { return violatingProgram{} }, nil, false,
	)
	e.Start([]types.VertexID{0})
	runEngine(t, e, 2*time.Second)
}
