package mesh

import (
	"sync"

	"github.com/gr409/pragmatic/types"
)

// Edge carries the cached metric length of an edge and the set of elements
// incident to it: 2 for interior edges, 1 for boundary edges, more only
// transiently while the topology is being rewritten.
type Edge struct {
	Length           float64
	AdjacentElements map[int]bool
}

func NewEdge(length float64) *Edge {
	return &Edge{Length: length, AdjacentElements: make(map[int]bool)}
}

const nEdgeShards = 64

type edgeShard struct {
	sync.Mutex
	m map[types.EdgeKey]*Edge
}

/*
EdgeSet is the mesh edge set keyed by the packed vertex pair. It is sharded
by key hash so that concurrent insert/erase on disjoint keys from different
workers of one colour class is safe; entity-level exclusion is still the
caller's independence discipline.
*/
type EdgeSet struct {
	shards [nEdgeShards]edgeShard
}

func NewEdgeSet() (es *EdgeSet) {
	es = &EdgeSet{}
	for i := range es.shards {
		es.shards[i].m = make(map[types.EdgeKey]*Edge)
	}
	return
}

func (es *EdgeSet) shard(k types.EdgeKey) *edgeShard {
	return &es.shards[(uint64(k)*0x9E3779B97F4A7C15)>>58&(nEdgeShards-1)]
}

func (es *EdgeSet) Get(k types.EdgeKey) *Edge {
	s := es.shard(k)
	s.Lock()
	defer s.Unlock()
	return s.m[k]
}

func (es *EdgeSet) Put(k types.EdgeKey, e *Edge) {
	s := es.shard(k)
	s.Lock()
	defer s.Unlock()
	s.m[k] = e
}

func (es *EdgeSet) Delete(k types.EdgeKey) {
	s := es.shard(k)
	s.Lock()
	defer s.Unlock()
	delete(s.m, k)
}

// Take removes and returns the edge under k, nil if absent.
func (es *EdgeSet) Take(k types.EdgeKey) *Edge {
	s := es.shard(k)
	s.Lock()
	defer s.Unlock()
	e := s.m[k]
	delete(s.m, k)
	return e
}

func (es *EdgeSet) Len() (n int) {
	for i := range es.shards {
		s := &es.shards[i]
		s.Lock()
		n += len(s.m)
		s.Unlock()
	}
	return
}

// Range visits every edge. Not safe against concurrent mutation; callers use
// it only between parallel phases.
func (es *EdgeSet) Range(visit func(k types.EdgeKey, e *Edge) bool) {
	for i := range es.shards {
		for k, e := range es.shards[i].m {
			if !visit(k, e) {
				return
			}
		}
	}
}

// Keys returns a sorted snapshot of all edge keys for deterministic sweeps.
func (es *EdgeSet) Keys() (keys types.EdgeKeySlice) {
	keys = make(types.EdgeKeySlice, 0, es.Len())
	es.Range(func(k types.EdgeKey, e *Edge) bool {
		keys = append(keys, k)
		return true
	})
	keys.Sort()
	return
}
